// Package vault implements the custodian for one side of every event. Two
// vaults, one per side, record bets, match their pools against each other at
// the event's fixed odds and pay out the winning side at settlement.
//
// A Vault is not safe for concurrent use. Callers serialize every top-level
// call; a single call may still re-enter the vault through its peer or the
// asset, which the per-event processing flag rejects.
package vault

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/xtrntr/parimutuel/internal/models"
)

// Asset is the custodial ledger as seen by a vault
type Asset interface {
	Transfer(ctx context.Context, from, to models.Identity, amount int64) error
	TransferFrom(ctx context.Context, spender, owner, to models.Identity, amount int64) error
}

// EventReader is the coordinator's view consulted before accepting a bet
type EventReader interface {
	IsEventOpen(id models.EventID) bool
}

// MatchedAmountQuery exposes the peer's pool aggregates
type MatchedAmountQuery interface {
	TotalStakedAmount(id models.EventID) int64
	TotalMatchedAmount(id models.EventID) int64
	UnmatchedAmount(id models.EventID) int64
	EventBalance(id models.EventID) int64
}

// MatchNotifier lets a vault ask its peer to commit the counter-stake for a match
type MatchNotifier interface {
	NotifyPeerMatched(ctx context.Context, caller models.Identity, id models.EventID, amount int64) error
}

// FundPuller lets the winning vault extract the losing vault's matched pool
type FundPuller interface {
	PullMatchedFunds(ctx context.Context, caller models.Identity, id models.EventID, dest models.Identity) (int64, error)
}

// Peer is the counter-vault
type Peer interface {
	Identity() models.Identity
	MatchedAmountQuery
	MatchNotifier
	FundPuller
}

// Config holds the fixed wiring of a vault
type Config struct {
	Side        models.Side
	Identity    models.Identity
	Owner       models.Identity // may set the peer, once
	Coordinator models.Identity
	Events      EventReader
	Asset       Asset
	Clock       models.Clock
	Observer    models.Observer
	Logger      *zap.Logger
}

// book holds a vault's record of one event
type book struct {
	odds         models.Odds
	bets         []models.Bet
	totalStaked  int64 // stake still in custody
	totalMatched int64
	cursor       int  // bets below are fully matched, the bet at cursor may be partly matched
	frozen       bool // set once funds start leaving; no further matching
	settlement   *settlement
}

// settlement tracks a winning-side distribution so a reissued call resumes it
type settlement struct {
	pulled   int64
	fee      int64
	feePaid  bool
	pool     int64 // pulled - fee, shared among matched winners
	matched  int64 // own matched total when the pool was pulled
	treasury models.Identity
	shared   int64
}

// Vault is the custodian for one side
type Vault struct {
	side        models.Side
	id          models.Identity
	owner       models.Identity
	coordinator models.Identity
	events      EventReader
	asset       Asset
	clock       models.Clock
	observer    models.Observer
	log         *zap.Logger

	peer       Peer
	books      map[models.EventID]*book
	processing map[models.EventID]bool
}

// New creates a vault. The peer is attached afterwards with SetPeer.
func New(cfg Config) *Vault {
	v := &Vault{
		side:        cfg.Side,
		id:          cfg.Identity,
		owner:       cfg.Owner,
		coordinator: cfg.Coordinator,
		events:      cfg.Events,
		asset:       cfg.Asset,
		clock:       cfg.Clock,
		observer:    cfg.Observer,
		log:         cfg.Logger,
		books:       make(map[models.EventID]*book),
		processing:  make(map[models.EventID]bool),
	}
	if v.clock == nil {
		v.clock = models.SystemClock
	}
	if v.observer == nil {
		v.observer = models.Discard
	}
	if v.log == nil {
		v.log = zap.NewNop()
	}
	v.log = v.log.With(zap.String("vault", string(v.id)), zap.String("side", string(v.side)))
	return v
}

// Identity returns the vault's own identity
func (v *Vault) Identity() models.Identity { return v.id }

// Side returns the side this vault holds stakes for
func (v *Vault) Side() models.Side { return v.side }

// SetPeer registers the counter-vault. It can be called once, by the owner.
func (v *Vault) SetPeer(caller models.Identity, peer Peer) error {
	if caller != v.owner {
		return errors.Wrap(models.ErrUnauthorized, "only the owner may set the peer")
	}
	if v.peer != nil {
		return errors.Wrap(models.ErrInvalidState, "peer already set")
	}
	if peer == nil || peer.Identity() == v.id {
		return errors.Wrap(models.ErrValidation, "peer must be another vault")
	}
	v.peer = peer
	return nil
}

// InitializeEvent records the fixed odds of a new event
func (v *Vault) InitializeEvent(ctx context.Context, caller models.Identity, id models.EventID, odds models.Odds) error {
	if caller != v.coordinator {
		return errors.Wrap(models.ErrUnauthorized, "only the coordinator may initialize events")
	}
	if !odds.Valid() {
		return models.ErrInvalidOdds
	}
	if _, ok := v.books[id]; ok {
		return errors.Wrapf(models.ErrAlreadyInitialized, "event %d", id)
	}
	v.books[id] = &book{odds: odds}
	return nil
}

// DiscardEvent forgets an event that holds no bets. The coordinator uses it
// to roll back a creation the peer vault rejected.
func (v *Vault) DiscardEvent(ctx context.Context, caller models.Identity, id models.EventID) error {
	if caller != v.coordinator {
		return errors.Wrap(models.ErrUnauthorized, "only the coordinator may discard events")
	}
	b, ok := v.books[id]
	if !ok {
		return nil
	}
	if len(b.bets) > 0 {
		return errors.Wrapf(models.ErrInvalidState, "event %d holds bets", id)
	}
	delete(v.books, id)
	return nil
}

// PlaceBet pulls amount from the bettor, records an unmatched bet and tries to
// match it against the peer
func (v *Vault) PlaceBet(ctx context.Context, bettor models.Identity, id models.EventID, amount int64) (models.Bet, error) {
	if amount <= 0 {
		return models.Bet{}, models.ErrInvalidAmount
	}
	if !v.events.IsEventOpen(id) {
		return models.Bet{}, errors.Wrapf(models.ErrEventNotOpen, "event %d", id)
	}
	b, ok := v.books[id]
	if !ok {
		return models.Bet{}, errors.Wrapf(models.ErrOddsNotInitialized, "event %d", id)
	}
	// A frozen book can no longer match, so a new stake could only be refunded.
	if b.frozen {
		return models.Bet{}, errors.Wrapf(models.ErrEventNotOpen, "event %d is frozen on side %s", id, v.side)
	}
	if v.peer == nil {
		return models.Bet{}, models.ErrPeerNotSet
	}
	release, err := v.acquire(id)
	if err != nil {
		return models.Bet{}, err
	}
	defer release()

	staked, err := addChecked(b.totalStaked, amount)
	if err != nil {
		return models.Bet{}, err
	}
	if err := v.asset.TransferFrom(ctx, v.id, bettor, v.id, amount); err != nil {
		return models.Bet{}, transferError(err, "pull stake from %s", bettor)
	}

	bet := models.Bet{
		Index:    len(b.bets),
		Bettor:   bettor,
		Amount:   amount,
		PlacedAt: v.clock.Now(),
	}
	b.bets = append(b.bets, bet)
	b.totalStaked = staked

	a := v.activity(models.ActivityBetPlaced, id)
	a.Actor = bettor
	a.Amount = amount
	v.observer.Observe(ctx, a)
	v.log.Info("bet placed", zap.Uint64("event_id", uint64(id)), zap.String("bettor", string(bettor)), zap.Int64("amount", amount))

	// The stake is already in custody; a failed match leaves it unmatched.
	if err := v.tryMatch(ctx, id, b); err != nil {
		v.log.Warn("matching failed", zap.Uint64("event_id", uint64(id)), zap.Error(err))
	}
	return b.bets[bet.Index], nil
}

// NotifyPeerMatched is called by the peer when it wants to match amount of its
// own stakes. This vault commits the balancing counter-stake from its oldest
// unmatched bets, or rejects the request and changes nothing. The peer records
// its side only after this returns nil.
func (v *Vault) NotifyPeerMatched(ctx context.Context, caller models.Identity, id models.EventID, amount int64) error {
	if v.peer == nil || caller != v.peer.Identity() {
		return errors.Wrap(models.ErrUnauthorized, "only the peer vault may notify matches")
	}
	b, ok := v.books[id]
	if !ok {
		return errors.Wrapf(models.ErrOddsNotInitialized, "event %d", id)
	}
	if b.frozen {
		return errors.Wrapf(models.ErrInvalidState, "event %d is frozen on side %s", id, v.side)
	}
	release, err := v.acquire(id)
	if err != nil {
		return err
	}
	defer release()

	own, callerUnit := matchUnits(b.odds, v.side)
	if amount <= 0 || amount%callerUnit != 0 {
		return errors.Wrapf(models.ErrInvalidAmount, "%d is not a multiple of %d", amount, callerUnit)
	}
	units := amount / callerUnit
	if units > (b.totalStaked-b.totalMatched)/own {
		return errors.Wrapf(models.ErrInvalidState, "insufficient counter-stake for %d", amount)
	}
	v.fill(ctx, id, b, units*own)
	v.log.Debug("peer matched",
		zap.Uint64("event_id", uint64(id)),
		zap.Int64("peer_amount", amount),
		zap.Int64("total_matched", b.totalMatched))
	return nil
}

// tryMatch matches as many whole units of this vault's unmatched stake as the
// peer's unmatched stake balances. The peer commits its counter-stake first;
// if it refuses, nothing changes on either side. The caller holds the
// processing flag for id.
func (v *Vault) tryMatch(ctx context.Context, id models.EventID, b *book) error {
	if b.frozen || b.cursor == len(b.bets) {
		return nil
	}
	own, peer := matchUnits(b.odds, v.side)
	available := v.peer.UnmatchedAmount(id)

	units := (b.totalStaked - b.totalMatched) / own
	if n := available / peer; n < units {
		units = n
	}
	if units == 0 {
		return nil
	}
	if err := v.peer.NotifyPeerMatched(ctx, v.id, id, units*own); err != nil {
		return errors.Wrap(err, "peer rejected match")
	}
	v.fill(ctx, id, b, units*own)
	v.log.Debug("matched",
		zap.Uint64("event_id", uint64(id)),
		zap.Int64("newly_matched", units*own),
		zap.Int64("total_matched", b.totalMatched),
		zap.Int64("peer_liquidity", available))
	return nil
}

// fill matches n of the book's unmatched stake, oldest bets first. n never
// exceeds totalStaked - totalMatched.
func (v *Vault) fill(ctx context.Context, id models.EventID, b *book, n int64) {
	b.totalMatched += n
	for n > 0 && b.cursor < len(b.bets) {
		bet := &b.bets[b.cursor]
		take := bet.Unmatched()
		if take > n {
			take = n
		}
		if take > 0 {
			bet.MatchedAmount += take
			n -= take
			a := v.activity(models.ActivityBetMatched, id)
			a.Actor = bet.Bettor
			a.Amount = take
			v.observer.Observe(ctx, a)
		}
		if bet.Unmatched() > 0 {
			break
		}
		bet.Matched = true
		b.cursor++
	}
}

// ReturnUnmatchedBets refunds the unmatched part of every bet still in
// custody. It returns the amount sent back.
func (v *Vault) ReturnUnmatchedBets(ctx context.Context, caller models.Identity, id models.EventID) (int64, error) {
	return v.refund(ctx, caller, id, false)
}

// ReturnAllBets refunds every bet whose funds are still in custody, matched or
// not. Repeated calls transfer nothing.
func (v *Vault) ReturnAllBets(ctx context.Context, caller models.Identity, id models.EventID) (int64, error) {
	return v.refund(ctx, caller, id, true)
}

func (v *Vault) refund(ctx context.Context, caller models.Identity, id models.EventID, all bool) (int64, error) {
	if caller != v.coordinator {
		return 0, errors.Wrap(models.ErrUnauthorized, "only the coordinator may return bets")
	}
	b, ok := v.books[id]
	if !ok {
		return 0, errors.Wrapf(models.ErrOddsNotInitialized, "event %d", id)
	}
	release, err := v.acquire(id)
	if err != nil {
		return 0, err
	}
	defer release()
	b.frozen = true

	var returned int64
	for i := range b.bets {
		bet := &b.bets[i]
		if bet.Settled() {
			continue
		}
		amount := bet.Unmatched()
		if all {
			amount = bet.Amount - bet.Released
		}
		if amount == 0 {
			continue
		}
		prev, staked, matched := *bet, b.totalStaked, b.totalMatched
		if all {
			b.totalMatched -= bet.MatchedAmount
			bet.MatchedAmount = 0
			bet.Matched = false
		}
		bet.Released += amount
		b.totalStaked -= amount
		if bet.Released == bet.Amount {
			bet.Outcome = models.OutcomeRefunded
		}
		if err := v.asset.Transfer(ctx, v.id, bet.Bettor, amount); err != nil {
			*bet, b.totalStaked, b.totalMatched = prev, staked, matched
			return returned, transferError(err, "refund bet %d to %s", bet.Index, bet.Bettor)
		}
		returned += amount
	}

	kind := models.ActivityUnmatchedReturned
	if all {
		kind = models.ActivityAllReturned
	}
	a := v.activity(kind, id)
	a.Amount = returned
	v.observer.Observe(ctx, a)
	v.log.Info("bets returned", zap.Uint64("event_id", uint64(id)), zap.Bool("all", all), zap.Int64("amount", returned))
	return returned, nil
}

// PullMatchedFunds moves the whole matched pool of an event to dest. The
// matched stakes are released and zeroed before the transfer so they can be
// neither counted nor pulled again.
func (v *Vault) PullMatchedFunds(ctx context.Context, caller models.Identity, id models.EventID, dest models.Identity) (int64, error) {
	if caller != v.coordinator && (v.peer == nil || caller != v.peer.Identity()) {
		return 0, errors.Wrap(models.ErrUnauthorized, "only the coordinator or the peer vault may pull funds")
	}
	b, ok := v.books[id]
	if !ok {
		return 0, errors.Wrapf(models.ErrOddsNotInitialized, "event %d", id)
	}
	release, err := v.acquire(id)
	if err != nil {
		return 0, err
	}
	defer release()
	b.frozen = true

	saved := append([]models.Bet(nil), b.bets...)
	staked, matched := b.totalStaked, b.totalMatched

	var total int64
	for i := range b.bets {
		bet := &b.bets[i]
		if bet.MatchedAmount == 0 || bet.Settled() {
			continue
		}
		total += bet.MatchedAmount
		bet.Released += bet.MatchedAmount
		bet.MatchedAmount = 0
		bet.Matched = false
		if bet.Released == bet.Amount {
			bet.Outcome = models.OutcomeForfeited
		}
	}
	b.totalMatched = 0
	b.totalStaked -= total

	if err := v.asset.Transfer(ctx, v.id, dest, total); err != nil {
		b.bets, b.totalStaked, b.totalMatched = saved, staked, matched
		return 0, transferError(err, "pull matched funds to %s", dest)
	}

	a := v.activity(models.ActivityFundsPulled, id)
	a.Actor = dest
	a.Amount = total
	v.observer.Observe(ctx, a)
	v.log.Info("matched funds pulled", zap.Uint64("event_id", uint64(id)), zap.String("dest", string(dest)), zap.Int64("amount", total))
	return total, nil
}

// DistributeWinnings settles the event in favour of this vault's side: it
// pulls the peer's matched pool, sends the fee to the treasury and pays every
// bettor their matched principal plus a share of the remaining pool weighted
// by matched stake. A failed transfer stops the distribution; calling again
// resumes it.
func (v *Vault) DistributeWinnings(ctx context.Context, caller models.Identity, id models.EventID, treasury models.Identity, feePercent int64) error {
	if caller != v.coordinator {
		return errors.Wrap(models.ErrUnauthorized, "only the coordinator may distribute winnings")
	}
	if feePercent < 0 || feePercent > 100 {
		return models.ErrInvalidFee
	}
	if v.peer == nil {
		return models.ErrPeerNotSet
	}
	b, ok := v.books[id]
	if !ok {
		return errors.Wrapf(models.ErrOddsNotInitialized, "event %d", id)
	}
	release, err := v.acquire(id)
	if err != nil {
		return err
	}
	defer release()
	b.frozen = true

	if b.settlement == nil {
		s := &settlement{matched: b.totalMatched, treasury: treasury}
		// Pools are matched together, so nothing matched here means nothing
		// matched on the peer either.
		if b.totalMatched > 0 {
			pulled, err := v.peer.PullMatchedFunds(ctx, v.id, id, v.id)
			if err != nil {
				return errors.Wrap(err, "pull losing pool")
			}
			fee, err := mulDiv(pulled, feePercent, 100)
			if err != nil {
				return err
			}
			s.pulled, s.fee, s.pool = pulled, fee, pulled-fee
		}
		b.settlement = s
	}
	s := b.settlement

	if !s.feePaid && s.fee > 0 {
		s.feePaid = true
		if err := v.asset.Transfer(ctx, v.id, s.treasury, s.fee); err != nil {
			s.feePaid = false
			return transferError(err, "send fee to %s", s.treasury)
		}
	}

	for i := range b.bets {
		bet := &b.bets[i]
		m := bet.MatchedAmount
		if m == 0 || bet.Settled() {
			continue
		}
		share, err := mulDiv(m, s.pool, s.matched)
		if err != nil {
			return err
		}
		payout, err := addChecked(m, share)
		if err != nil {
			return err
		}
		prev, staked, matched := *bet, b.totalStaked, b.totalMatched
		bet.Released += m
		bet.MatchedAmount = 0
		bet.Matched = false
		b.totalMatched -= m
		b.totalStaked -= m
		if bet.Released == bet.Amount {
			bet.Outcome = models.OutcomePaid
		}
		if err := v.asset.Transfer(ctx, v.id, bet.Bettor, payout); err != nil {
			*bet, b.totalStaked, b.totalMatched = prev, staked, matched
			return transferError(err, "pay bet %d to %s", bet.Index, bet.Bettor)
		}
		s.shared += share
	}

	a := v.activity(models.ActivityWinningsDistributed, id)
	a.Actor = s.treasury
	a.Amount = s.pool
	v.observer.Observe(ctx, a)
	v.log.Info("winnings distributed",
		zap.Uint64("event_id", uint64(id)),
		zap.Int64("pulled", s.pulled),
		zap.Int64("fee", s.fee),
		zap.Int64("shared", s.shared),
		zap.Int64("dust", s.pool-s.shared))
	return nil
}

// TotalStakedAmount returns the stakes of the event still in custody
func (v *Vault) TotalStakedAmount(id models.EventID) int64 {
	if b, ok := v.books[id]; ok {
		return b.totalStaked
	}
	return 0
}

// TotalMatchedAmount returns the event's matched total
func (v *Vault) TotalMatchedAmount(id models.EventID) int64 {
	if b, ok := v.books[id]; ok {
		return b.totalMatched
	}
	return 0
}

// UnmatchedAmount returns the stake the peer may still match against. A
// frozen book offers none.
func (v *Vault) UnmatchedAmount(id models.EventID) int64 {
	b, ok := v.books[id]
	if !ok || b.frozen {
		return 0
	}
	return b.totalStaked - b.totalMatched
}

// EventBalance returns the funds held for matched stakes of the event
func (v *Vault) EventBalance(id models.EventID) int64 {
	b, ok := v.books[id]
	if !ok {
		return 0
	}
	var total int64
	for _, bet := range b.bets {
		if !bet.Settled() {
			total += bet.MatchedAmount
		}
	}
	return total
}

// Position returns what bettor staked on the event and how much of it matched
func (v *Vault) Position(id models.EventID, bettor models.Identity) models.Position {
	var p models.Position
	b, ok := v.books[id]
	if !ok {
		return p
	}
	for _, bet := range b.bets {
		if bet.Bettor != bettor {
			continue
		}
		p.Staked += bet.Amount
		p.Matched += bet.MatchedAmount
	}
	return p
}

// Bets returns a copy of the event's bet list in placement order
func (v *Vault) Bets(id models.EventID) []models.Bet {
	b, ok := v.books[id]
	if !ok {
		return nil
	}
	out := make([]models.Bet, len(b.bets))
	copy(out, b.bets)
	return out
}

// Pool summarizes the event's aggregates
func (v *Vault) Pool(id models.EventID) models.Pool {
	p := models.Pool{Side: v.side}
	b, ok := v.books[id]
	if !ok {
		return p
	}
	p.TotalStaked = b.totalStaked
	p.TotalMatched = b.totalMatched
	p.MatchedBalance = v.EventBalance(id)
	p.Cursor = b.cursor
	p.Bets = len(b.bets)
	return p
}

// acquire sets the processing flag for id, rejecting a nested entry
func (v *Vault) acquire(id models.EventID) (func(), error) {
	if v.processing[id] {
		return nil, errors.Wrapf(models.ErrReentrant, "vault %s event %d", v.id, id)
	}
	v.processing[id] = true
	return func() { delete(v.processing, id) }, nil
}

func (v *Vault) activity(kind models.ActivityKind, id models.EventID) models.Activity {
	a := models.NewActivity(kind, id, v.clock.Now())
	a.Side = v.side
	return a
}

// transferError keeps the asset's own failure category when it has one
func transferError(err error, format string, args ...interface{}) error {
	if errors.Is(err, models.ErrTransferFailed) {
		return errors.Wrapf(err, format, args...)
	}
	return errors.Wrapf(models.ErrTransferFailed, format+": %v", append(args, err)...)
}
