package vault

import (
	"context"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/parimutuel/internal/ledger"
	"github.com/xtrntr/parimutuel/internal/models"
)

const (
	owner       models.Identity = "owner"
	coordinator models.Identity = "coordinator"
	treasury    models.Identity = "treasury"
	eventID     models.EventID  = 1
)

type openEvents map[models.EventID]bool

func (o openEvents) IsEventOpen(id models.EventID) bool { return o[id] }

// hookAsset wraps the ledger so tests can re-enter vaults or fail transfers
type hookAsset struct {
	*ledger.Ledger
	beforeTransferFrom func()
	beforeTransfer     func(to models.Identity)
	failTransfers      map[models.Identity]int
}

func (h *hookAsset) TransferFrom(ctx context.Context, spender, owner, to models.Identity, amount int64) error {
	if h.beforeTransferFrom != nil {
		h.beforeTransferFrom()
	}
	return h.Ledger.TransferFrom(ctx, spender, owner, to, amount)
}

func (h *hookAsset) Transfer(ctx context.Context, from, to models.Identity, amount int64) error {
	if h.beforeTransfer != nil {
		h.beforeTransfer(to)
	}
	if h.failTransfers[to] > 0 {
		h.failTransfers[to]--
		return errors.New("asset offline")
	}
	return h.Ledger.Transfer(ctx, from, to, amount)
}

type fixture struct {
	ctx    context.Context
	asset  *hookAsset
	events openEvents
	a, b   *Vault
}

func newFixture(t *testing.T, odds models.Odds) *fixture {
	t.Helper()
	f := &fixture{
		ctx:    context.Background(),
		asset:  &hookAsset{Ledger: ledger.New(), failTransfers: map[models.Identity]int{}},
		events: openEvents{eventID: true},
	}
	f.a = New(Config{Side: models.SideA, Identity: "vault-a", Owner: owner, Coordinator: coordinator, Events: f.events, Asset: f.asset})
	f.b = New(Config{Side: models.SideB, Identity: "vault-b", Owner: owner, Coordinator: coordinator, Events: f.events, Asset: f.asset})
	require.NoError(t, f.a.SetPeer(owner, f.b))
	require.NoError(t, f.b.SetPeer(owner, f.a))
	require.NoError(t, f.a.InitializeEvent(f.ctx, coordinator, eventID, odds))
	require.NoError(t, f.b.InitializeEvent(f.ctx, coordinator, eventID, odds))
	return f
}

// bet funds and approves the bettor, then places the bet
func (f *fixture) bet(t *testing.T, v *Vault, bettor models.Identity, amount int64) models.Bet {
	t.Helper()
	require.NoError(t, f.asset.Mint(f.ctx, bettor, amount))
	require.NoError(t, f.asset.Approve(f.ctx, bettor, v.Identity(), f.asset.Allowance(bettor, v.Identity())+amount))
	bet, err := v.PlaceBet(f.ctx, bettor, eventID, amount)
	require.NoError(t, err)
	return bet
}

func TestVault_MatchBothSides(t *testing.T) {
	f := newFixture(t, models.Odds{A: 150, B: 100})

	bet := f.bet(t, f.a, "alice", 100)
	assert.False(t, bet.Matched, "no counter-stake yet")
	assert.Equal(t, int64(0), f.a.TotalMatchedAmount(eventID))

	bet = f.bet(t, f.b, "bob", 150)
	assert.True(t, bet.Matched)

	assert.Equal(t, int64(100), f.a.TotalMatchedAmount(eventID))
	assert.Equal(t, int64(150), f.b.TotalMatchedAmount(eventID))
	assert.Equal(t, int64(100), f.a.EventBalance(eventID))
	assert.Equal(t, int64(150), f.b.EventBalance(eventID))
	assert.Equal(t, models.Position{Staked: 100, Matched: 100}, f.a.Position(eventID, "alice"))
	assert.Equal(t, models.Position{Staked: 150, Matched: 150}, f.b.Position(eventID, "bob"))
	assert.Equal(t, int64(100), f.asset.BalanceOf("vault-a"))
	assert.Equal(t, int64(150), f.asset.BalanceOf("vault-b"))
}

func TestVault_ChronologicalPriority(t *testing.T) {
	f := newFixture(t, models.Odds{A: 100, B: 100})

	f.bet(t, f.a, "alice", 50)
	f.bet(t, f.a, "carol", 80)
	f.bet(t, f.a, "dave", 10)

	// 60 fills alice and part of carol. dave must not jump ahead of carol.
	f.bet(t, f.b, "bob", 60)

	bets := f.a.Bets(eventID)
	require.Len(t, bets, 3)
	assert.True(t, bets[0].Matched)
	assert.Equal(t, int64(50), bets[0].MatchedAmount)
	assert.False(t, bets[1].Matched)
	assert.Equal(t, int64(10), bets[1].MatchedAmount)
	assert.Equal(t, int64(0), bets[2].MatchedAmount)
	assert.Equal(t, 1, f.a.Pool(eventID).Cursor)
	assert.Equal(t, int64(60), f.a.TotalMatchedAmount(eventID))
	assert.Equal(t, int64(60), f.b.TotalMatchedAmount(eventID))
	assert.True(t, f.b.Bets(eventID)[0].Matched)

	f.bet(t, f.b, "erin", 80)
	assert.Equal(t, 3, f.a.Pool(eventID).Cursor)
	assert.Equal(t, int64(140), f.a.TotalMatchedAmount(eventID))
	assert.Equal(t, int64(140), f.b.TotalMatchedAmount(eventID))
	assert.Equal(t, 2, f.b.Pool(eventID).Cursor)
}

func TestVault_LargerStakeFillsEarlierPeerBet(t *testing.T) {
	f := newFixture(t, models.Odds{A: 100, B: 100})

	f.bet(t, f.b, "bob", 100)
	bet := f.bet(t, f.a, "alice", 200)

	assert.False(t, bet.Matched)
	assert.Equal(t, int64(100), bet.MatchedAmount)
	assert.Equal(t, int64(100), bet.Unmatched())
	assert.True(t, f.b.Bets(eventID)[0].Matched)
	assert.Equal(t, models.Position{Staked: 100, Matched: 100}, f.b.Position(eventID, "bob"))
	assert.Equal(t, models.Position{Staked: 200, Matched: 100}, f.a.Position(eventID, "alice"))
	assert.Equal(t, int64(100), f.a.TotalMatchedAmount(eventID))
	assert.Equal(t, int64(100), f.b.TotalMatchedAmount(eventID))
	assert.Equal(t, int64(100), f.a.UnmatchedAmount(eventID))
	assert.Equal(t, int64(0), f.b.UnmatchedAmount(eventID))

	returned, err := f.a.ReturnUnmatchedBets(f.ctx, coordinator, eventID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), returned, "only the unmatched half goes back")
	assert.Equal(t, int64(100), f.a.EventBalance(eventID))
	assert.Equal(t, models.OutcomeNone, f.a.Bets(eventID)[0].Outcome)
}

func TestVault_SmallerStakeMatchesBothPools(t *testing.T) {
	f := newFixture(t, models.Odds{A: 100, B: 100})

	f.bet(t, f.b, "bob", 100)
	f.bet(t, f.a, "alice", 50)

	assert.Equal(t, int64(50), f.a.TotalMatchedAmount(eventID))
	assert.Equal(t, int64(50), f.b.TotalMatchedAmount(eventID), "a match on one side is backed on the other")
	assert.Equal(t, int64(50), f.b.Bets(eventID)[0].MatchedAmount)

	returned, err := f.b.ReturnUnmatchedBets(f.ctx, coordinator, eventID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), returned)
	_, err = f.a.ReturnUnmatchedBets(f.ctx, coordinator, eventID)
	require.NoError(t, err)

	require.NoError(t, f.a.DistributeWinnings(f.ctx, coordinator, eventID, treasury, 5))

	// pulled 50, fee 50*5/100 = 2, alice takes principal plus the remaining 48
	assert.Equal(t, int64(98), f.asset.BalanceOf("alice"))
	assert.Equal(t, int64(50), f.asset.BalanceOf("bob"))
	assert.Equal(t, int64(2), f.asset.BalanceOf(treasury))
	assert.Equal(t, int64(0), f.asset.BalanceOf("vault-a"))
	assert.Equal(t, int64(0), f.asset.BalanceOf("vault-b"))
	assert.Equal(t, models.OutcomePaid, f.a.Bets(eventID)[0].Outcome)
	assert.Equal(t, models.OutcomeForfeited, f.b.Bets(eventID)[0].Outcome, "last release was the forfeit")
}

func TestVault_MatchesWholeUnits(t *testing.T) {
	// at 150/100 two of A balance three of B
	f := newFixture(t, models.Odds{A: 150, B: 100})

	f.bet(t, f.a, "alice", 3)
	bet := f.bet(t, f.b, "bob", 3)

	assert.True(t, bet.Matched)
	assert.Equal(t, int64(2), f.a.TotalMatchedAmount(eventID))
	assert.Equal(t, int64(3), f.b.TotalMatchedAmount(eventID))
	assert.Equal(t, int64(2), f.a.Bets(eventID)[0].MatchedAmount)

	f.bet(t, f.b, "carol", 2)
	assert.Equal(t, int64(2), f.a.TotalMatchedAmount(eventID), "one unit of A needs three of B")

	returned, err := f.a.ReturnUnmatchedBets(f.ctx, coordinator, eventID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), returned)
}

func TestVault_NotifyPeerMatched(t *testing.T) {
	f := newFixture(t, models.Odds{A: 150, B: 100})
	f.bet(t, f.a, "alice", 10)

	tests := []struct {
		name      string
		amount    int64
		expectErr error
	}{
		{name: "Zero", amount: 0, expectErr: models.ErrValidation},
		{name: "NotWholeUnits", amount: 4, expectErr: models.ErrValidation},
		{name: "BeyondUnmatched", amount: 18, expectErr: models.ErrInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.a.NotifyPeerMatched(f.ctx, "vault-b", eventID, tt.amount)
			assert.True(t, errors.Is(err, tt.expectErr), "got %v", err)
			assert.Equal(t, int64(0), f.a.TotalMatchedAmount(eventID))
		})
	}

	// 15 of B balances 10 of A
	require.NoError(t, f.a.NotifyPeerMatched(f.ctx, "vault-b", eventID, 15))
	assert.Equal(t, int64(10), f.a.TotalMatchedAmount(eventID))
	assert.True(t, f.a.Bets(eventID)[0].Matched)

	_, err := f.a.ReturnUnmatchedBets(f.ctx, coordinator, eventID)
	require.NoError(t, err)
	err = f.a.NotifyPeerMatched(f.ctx, "vault-b", eventID, 3)
	assert.True(t, errors.Is(err, models.ErrInvalidState), "frozen book commits nothing")
}

func TestVault_PeerRefusalLeavesBothSidesUnmatched(t *testing.T) {
	f := newFixture(t, models.Odds{A: 100, B: 100})
	f.bet(t, f.b, "bob", 100)
	require.NoError(t, f.asset.Mint(f.ctx, "alice", 50))
	require.NoError(t, f.asset.Approve(f.ctx, "alice", "vault-a", 50))

	// alice's bet lands while vault-b is mid-call, so vault-b refuses the match
	var nested models.Bet
	var nestedErr error
	f.asset.beforeTransferFrom = func() {
		f.asset.beforeTransferFrom = nil
		nested, nestedErr = f.a.PlaceBet(f.ctx, "alice", eventID, 50)
		assert.Equal(t, int64(0), f.a.TotalMatchedAmount(eventID))
		assert.Equal(t, int64(0), f.b.TotalMatchedAmount(eventID))
	}
	f.bet(t, f.b, "carol", 20)

	require.NoError(t, nestedErr)
	assert.Equal(t, int64(0), nested.MatchedAmount)
	// carol's own placement then matches alice against bob's older stake
	assert.Equal(t, int64(50), f.a.TotalMatchedAmount(eventID))
	assert.Equal(t, int64(50), f.b.TotalMatchedAmount(eventID))
	assert.Equal(t, int64(50), f.b.Bets(eventID)[0].MatchedAmount)
	assert.Equal(t, int64(0), f.b.Bets(eventID)[1].MatchedAmount)
}

func TestVault_MatchingInvariants(t *testing.T) {
	f := newFixture(t, models.Odds{A: 175, B: 120})
	rng := rand.New(rand.NewSource(7))

	units := map[models.Side]int64{models.SideA: 24, models.SideB: 35}
	cursors := map[models.Side]int{}
	matched := map[models.Side]int64{}
	for i := 0; i < 300; i++ {
		v := f.a
		if rng.Intn(2) == 1 {
			v = f.b
		}
		f.bet(t, v, models.Identity("bettor"), int64(1+rng.Intn(500)))

		pa, pb := f.a.Pool(eventID), f.b.Pool(eventID)
		require.Equal(t, pa.TotalMatched*175, pb.TotalMatched*120, "pools out of balance after bet %d", i)
		assert.Equal(t, pa.TotalMatched, pa.MatchedBalance)
		assert.Equal(t, pb.TotalMatched, pb.MatchedBalance)
		leftA := f.a.UnmatchedAmount(eventID) / units[models.SideA]
		leftB := f.b.UnmatchedAmount(eventID) / units[models.SideB]
		assert.True(t, leftA == 0 || leftB == 0, "matchable stake left on both sides after bet %d", i)

		for _, v := range []*Vault{f.a, f.b} {
			pool := v.Pool(eventID)
			assert.LessOrEqual(t, pool.TotalMatched, pool.TotalStaked)
			assert.GreaterOrEqual(t, pool.Cursor, cursors[v.Side()], "cursor moved back")
			assert.GreaterOrEqual(t, pool.TotalMatched, matched[v.Side()], "matched amount decreased")
			cursors[v.Side()] = pool.Cursor
			matched[v.Side()] = pool.TotalMatched

			var sum int64
			for idx, bet := range v.Bets(eventID) {
				sum += bet.MatchedAmount
				switch {
				case idx < pool.Cursor:
					assert.True(t, bet.Matched, "bet %d on %s", idx, v.Side())
					assert.Equal(t, bet.Amount, bet.MatchedAmount)
				case idx == pool.Cursor:
					assert.False(t, bet.Matched, "bet %d on %s", idx, v.Side())
					assert.Less(t, bet.MatchedAmount, bet.Amount)
				default:
					assert.Equal(t, int64(0), bet.MatchedAmount, "bet %d on %s matched out of order", idx, v.Side())
				}
			}
			assert.Equal(t, pool.TotalMatched, sum)
		}
	}
}

func TestVault_PlaceBetRejections(t *testing.T) {
	f := newFixture(t, models.Odds{A: 100, B: 100})
	require.NoError(t, f.asset.Mint(f.ctx, "alice", 100))

	tests := []struct {
		name      string
		setup     func()
		id        models.EventID
		amount    int64
		expectErr error
	}{
		{name: "ZeroAmount", id: eventID, amount: 0, expectErr: models.ErrValidation},
		{name: "EventNotOpen", id: 2, amount: 10, expectErr: models.ErrEventNotOpen},
		{
			name:      "OddsNotInitialized",
			setup:     func() { f.events[3] = true },
			id:        3,
			amount:    10,
			expectErr: models.ErrOddsNotInitialized,
		},
		{name: "NoAllowance", id: eventID, amount: 10, expectErr: models.ErrInsufficientAllow},
		{
			name:      "NoBalance",
			setup:     func() { require.NoError(t, f.asset.Approve(f.ctx, "alice", "vault-a", 1000)) },
			id:        eventID,
			amount:    500,
			expectErr: models.ErrInsufficientBalance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			_, err := f.a.PlaceBet(f.ctx, "alice", tt.id, tt.amount)
			assert.True(t, errors.Is(err, tt.expectErr), "got %v", err)
			assert.Empty(t, f.a.Bets(eventID))
			assert.Equal(t, int64(0), f.a.TotalStakedAmount(eventID))
			assert.Equal(t, int64(100), f.asset.BalanceOf("alice"))
		})
	}
}

func TestVault_Authorization(t *testing.T) {
	f := newFixture(t, models.Odds{A: 100, B: 100})
	f.bet(t, f.a, "alice", 10)

	tests := []struct {
		name string
		call func() error
	}{
		{name: "InitializeEvent", call: func() error { return f.a.InitializeEvent(f.ctx, "mallory", 9, models.Odds{A: 1, B: 1}) }},
		{name: "DiscardEvent", call: func() error { return f.a.DiscardEvent(f.ctx, "vault-b", eventID) }},
		{name: "NotifyPeerMatched", call: func() error { return f.a.NotifyPeerMatched(f.ctx, coordinator, eventID, 10) }},
		{name: "ReturnUnmatchedBets", call: func() error { _, err := f.a.ReturnUnmatchedBets(f.ctx, "vault-b", eventID); return err }},
		{name: "ReturnAllBets", call: func() error { _, err := f.a.ReturnAllBets(f.ctx, "alice", eventID); return err }},
		{name: "PullMatchedFunds", call: func() error { _, err := f.a.PullMatchedFunds(f.ctx, "alice", eventID, "alice"); return err }},
		{name: "DistributeWinnings", call: func() error { return f.a.DistributeWinnings(f.ctx, "vault-b", eventID, treasury, 5) }},
		{name: "SetPeer", call: func() error { return f.a.SetPeer("alice", f.b) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.call(), models.ErrUnauthorized))
		})
	}
	assert.Equal(t, int64(10), f.asset.BalanceOf("vault-a"))
	assert.True(t, errors.Is(f.a.SetPeer(owner, f.b), models.ErrInvalidState), "peer is set once")
}

func TestVault_InitializeEvent(t *testing.T) {
	f := newFixture(t, models.Odds{A: 100, B: 100})

	err := f.a.InitializeEvent(f.ctx, coordinator, eventID, models.Odds{A: 100, B: 100})
	assert.True(t, errors.Is(err, models.ErrAlreadyInitialized))
	err = f.a.InitializeEvent(f.ctx, coordinator, 2, models.Odds{A: 0, B: 100})
	assert.True(t, errors.Is(err, models.ErrInvalidOdds))

	f.bet(t, f.a, "alice", 10)
	err = f.a.DiscardEvent(f.ctx, coordinator, eventID)
	assert.True(t, errors.Is(err, models.ErrInvalidState), "event with bets cannot be discarded")

	require.NoError(t, f.a.InitializeEvent(f.ctx, coordinator, 2, models.Odds{A: 120, B: 100}))
	require.NoError(t, f.a.DiscardEvent(f.ctx, coordinator, 2))
	require.NoError(t, f.a.InitializeEvent(f.ctx, coordinator, 2, models.Odds{A: 130, B: 100}))
}

func TestVault_ReentrantPlaceBet(t *testing.T) {
	f := newFixture(t, models.Odds{A: 100, B: 100})
	require.NoError(t, f.asset.Mint(f.ctx, "mallory", 100))
	require.NoError(t, f.asset.Approve(f.ctx, "mallory", "vault-a", 100))

	var nested error
	f.asset.beforeTransferFrom = func() {
		f.asset.beforeTransferFrom = nil
		_, nested = f.a.PlaceBet(f.ctx, "mallory", eventID, 50)
	}

	_, err := f.a.PlaceBet(f.ctx, "mallory", eventID, 50)
	require.NoError(t, err)
	assert.True(t, errors.Is(nested, models.ErrReentrant), "got %v", nested)
	assert.Len(t, f.a.Bets(eventID), 1)
	assert.Equal(t, int64(50), f.a.TotalStakedAmount(eventID))
}

func TestVault_ReentrantRefund(t *testing.T) {
	f := newFixture(t, models.Odds{A: 100, B: 100})
	f.bet(t, f.a, "alice", 40)
	f.bet(t, f.a, "alice", 60)

	var nested []error
	f.asset.beforeTransfer = func(to models.Identity) {
		_, err := f.a.ReturnAllBets(f.ctx, coordinator, eventID)
		nested = append(nested, err)
	}

	returned, err := f.a.ReturnAllBets(f.ctx, coordinator, eventID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), returned)
	require.Len(t, nested, 2)
	for _, err := range nested {
		assert.True(t, errors.Is(err, models.ErrReentrant))
	}
	assert.Equal(t, int64(100), f.asset.BalanceOf("alice"))
	assert.Equal(t, int64(0), f.asset.BalanceOf("vault-a"))
}

func TestVault_ReturnUnmatchedBets(t *testing.T) {
	f := newFixture(t, models.Odds{A: 100, B: 100})
	f.bet(t, f.a, "alice", 100)
	f.bet(t, f.a, "carol", 30)
	f.bet(t, f.b, "bob", 100)

	returned, err := f.a.ReturnUnmatchedBets(f.ctx, coordinator, eventID)
	require.NoError(t, err)
	assert.Equal(t, int64(30), returned)
	assert.Equal(t, int64(30), f.asset.BalanceOf("carol"))
	assert.Equal(t, int64(100), f.a.EventBalance(eventID), "matched funds stay in custody")

	returned, err = f.a.ReturnUnmatchedBets(f.ctx, coordinator, eventID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), returned)

	bets := f.a.Bets(eventID)
	assert.Equal(t, models.OutcomeNone, bets[0].Outcome)
	assert.Equal(t, models.OutcomeRefunded, bets[1].Outcome)
}

func TestVault_ReturnAllBetsIdempotent(t *testing.T) {
	f := newFixture(t, models.Odds{A: 100, B: 100})
	f.bet(t, f.a, "alice", 100)
	f.bet(t, f.a, "carol", 30)
	f.bet(t, f.b, "bob", 100)

	returned, err := f.a.ReturnAllBets(f.ctx, coordinator, eventID)
	require.NoError(t, err)
	assert.Equal(t, int64(130), returned)

	returned, err = f.a.ReturnAllBets(f.ctx, coordinator, eventID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), returned)

	assert.Equal(t, int64(100), f.asset.BalanceOf("alice"))
	assert.Equal(t, int64(30), f.asset.BalanceOf("carol"))
	assert.Equal(t, int64(0), f.a.TotalMatchedAmount(eventID))
	assert.Len(t, f.a.Bets(eventID), 2, "returned bets remain as history")
}

func TestVault_RefundFailureRestoresBet(t *testing.T) {
	f := newFixture(t, models.Odds{A: 100, B: 100})
	f.bet(t, f.a, "alice", 100)
	f.bet(t, f.a, "carol", 30)
	f.asset.failTransfers["carol"] = 1

	returned, err := f.a.ReturnAllBets(f.ctx, coordinator, eventID)
	assert.True(t, errors.Is(err, models.ErrTransferFailed))
	assert.Equal(t, int64(100), returned)
	bets := f.a.Bets(eventID)
	assert.Equal(t, models.OutcomeRefunded, bets[0].Outcome)
	assert.Equal(t, models.OutcomeNone, bets[1].Outcome)

	returned, err = f.a.ReturnAllBets(f.ctx, coordinator, eventID)
	require.NoError(t, err)
	assert.Equal(t, int64(30), returned)
	assert.Equal(t, int64(0), f.asset.BalanceOf("vault-a"))
}

func TestVault_PullMatchedFunds(t *testing.T) {
	f := newFixture(t, models.Odds{A: 100, B: 100})
	f.bet(t, f.a, "alice", 70)
	f.bet(t, f.b, "bob", 70)
	f.bet(t, f.b, "dave", 5)

	pulled, err := f.b.PullMatchedFunds(f.ctx, "vault-a", eventID, "vault-a")
	require.NoError(t, err)
	assert.Equal(t, int64(70), pulled)
	assert.Equal(t, int64(0), f.b.TotalMatchedAmount(eventID))
	assert.Equal(t, int64(0), f.b.EventBalance(eventID))
	assert.Equal(t, int64(140), f.asset.BalanceOf("vault-a"))

	pulled, err = f.b.PullMatchedFunds(f.ctx, coordinator, eventID, "vault-a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), pulled, "pulled bets cannot be pulled twice")

	// dave never matched and is still refundable
	returned, err := f.b.ReturnAllBets(f.ctx, coordinator, eventID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), returned)
	assert.Equal(t, models.OutcomeForfeited, f.b.Bets(eventID)[0].Outcome)
}

func TestVault_PullFailureRestoresMatched(t *testing.T) {
	f := newFixture(t, models.Odds{A: 100, B: 100})
	f.bet(t, f.a, "alice", 70)
	f.bet(t, f.b, "bob", 70)
	f.asset.failTransfers["vault-a"] = 1

	_, err := f.b.PullMatchedFunds(f.ctx, "vault-a", eventID, "vault-a")
	assert.True(t, errors.Is(err, models.ErrTransferFailed))
	assert.Equal(t, int64(70), f.b.TotalMatchedAmount(eventID))
	assert.True(t, f.b.Bets(eventID)[0].Matched)
	assert.Equal(t, int64(70), f.asset.BalanceOf("vault-b"))
}

func TestVault_DistributeWinnings(t *testing.T) {
	f := newFixture(t, models.Odds{A: 100, B: 100})
	f.bet(t, f.a, "alice", 100)
	f.bet(t, f.a, "carol", 100)
	f.bet(t, f.b, "bob", 200)
	require.Equal(t, int64(200), f.b.EventBalance(eventID))

	require.NoError(t, f.a.DistributeWinnings(f.ctx, coordinator, eventID, treasury, 5))

	assert.Equal(t, int64(10), f.asset.BalanceOf(treasury))
	assert.Equal(t, int64(195), f.asset.BalanceOf("alice"))
	assert.Equal(t, int64(195), f.asset.BalanceOf("carol"))
	assert.Equal(t, int64(0), f.asset.BalanceOf("bob"))
	assert.Equal(t, int64(0), f.asset.BalanceOf("vault-a"))
	assert.Equal(t, int64(0), f.asset.BalanceOf("vault-b"))

	for _, bet := range f.a.Bets(eventID) {
		assert.Equal(t, models.OutcomePaid, bet.Outcome)
		assert.False(t, bet.Matched)
	}
	assert.Equal(t, models.OutcomeForfeited, f.b.Bets(eventID)[0].Outcome)

	// a second call pays nothing more
	require.NoError(t, f.a.DistributeWinnings(f.ctx, coordinator, eventID, treasury, 5))
	assert.Equal(t, int64(10), f.asset.BalanceOf(treasury))
	assert.Equal(t, int64(195), f.asset.BalanceOf("alice"))
}

func TestVault_DistributeWinningsLeavesDust(t *testing.T) {
	f := newFixture(t, models.Odds{A: 100, B: 100})
	f.bet(t, f.a, "alice", 1)
	f.bet(t, f.a, "carol", 1)
	f.bet(t, f.a, "dave", 1)
	f.bet(t, f.b, "bob", 3)

	require.NoError(t, f.a.DistributeWinnings(f.ctx, coordinator, eventID, treasury, 34))

	// fee 3*34/100 = 1, pool 2, each share 1*2/3 = 0
	assert.Equal(t, int64(1), f.asset.BalanceOf(treasury))
	for _, who := range []models.Identity{"alice", "carol", "dave"} {
		assert.Equal(t, int64(1), f.asset.BalanceOf(who))
	}
	assert.Equal(t, int64(2), f.asset.BalanceOf("vault-a"), "truncated shares stay in the winning vault")
}

func TestVault_DistributeWinningsResumes(t *testing.T) {
	f := newFixture(t, models.Odds{A: 100, B: 100})
	f.bet(t, f.a, "alice", 100)
	f.bet(t, f.a, "carol", 100)
	f.bet(t, f.b, "bob", 200)
	f.asset.failTransfers["carol"] = 1

	err := f.a.DistributeWinnings(f.ctx, coordinator, eventID, treasury, 5)
	assert.True(t, errors.Is(err, models.ErrTransferFailed))
	assert.Equal(t, int64(195), f.asset.BalanceOf("alice"))
	assert.Equal(t, int64(0), f.asset.BalanceOf("carol"))
	assert.True(t, f.a.Bets(eventID)[1].Matched, "failed leg keeps its matched flag")
	assert.Equal(t, int64(100), f.a.TotalMatchedAmount(eventID))

	require.NoError(t, f.a.DistributeWinnings(f.ctx, coordinator, eventID, treasury, 5))
	assert.Equal(t, int64(195), f.asset.BalanceOf("alice"))
	assert.Equal(t, int64(195), f.asset.BalanceOf("carol"))
	assert.Equal(t, int64(10), f.asset.BalanceOf(treasury))
	assert.Equal(t, int64(0), f.asset.BalanceOf("vault-a"))
}

func TestVault_MatchingStopsOnceFrozen(t *testing.T) {
	f := newFixture(t, models.Odds{A: 100, B: 100})
	f.bet(t, f.a, "alice", 10)
	_, err := f.a.ReturnUnmatchedBets(f.ctx, coordinator, eventID)
	require.NoError(t, err)

	assert.Equal(t, int64(0), f.a.TotalStakedAmount(eventID))

	f.bet(t, f.b, "bob", 10)
	assert.Equal(t, int64(0), f.a.TotalMatchedAmount(eventID))
	assert.Equal(t, int64(0), f.b.TotalMatchedAmount(eventID), "refunded stake is no liquidity")
	assert.Equal(t, models.OutcomeRefunded, f.a.Bets(eventID)[0].Outcome)

	require.NoError(t, f.asset.Mint(f.ctx, "carol", 10))
	require.NoError(t, f.asset.Approve(f.ctx, "carol", "vault-a", 10))
	_, err = f.a.PlaceBet(f.ctx, "carol", eventID, 10)
	assert.True(t, errors.Is(err, models.ErrEventNotOpen), "frozen book takes no new stakes")
	assert.Equal(t, int64(10), f.asset.BalanceOf("carol"))
	assert.Len(t, f.a.Bets(eventID), 1)
}

func TestMulDiv(t *testing.T) {
	tests := []struct {
		name      string
		a, b, c   int64
		expect    int64
		expectErr error
	}{
		{name: "Exact", a: 100, b: 150, c: 100, expect: 150},
		{name: "Truncates", a: 7, b: 1, c: 2, expect: 3},
		{name: "WideIntermediate", a: 1 << 62, b: 4, c: 8, expect: 1 << 61},
		{name: "Overflow", a: 1 << 62, b: 4, c: 1, expectErr: models.ErrOverflow},
		{name: "ZeroDivisor", a: 1, b: 1, c: 0, expectErr: models.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mulDiv(tt.a, tt.b, tt.c)
			if tt.expectErr != nil {
				assert.True(t, errors.Is(err, tt.expectErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expect, got)
		})
	}
}
