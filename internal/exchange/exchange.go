// Package exchange assembles the custodial ledger, the coordinator and the two
// side vaults into one engine and serializes every top-level call.
package exchange

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/xtrntr/parimutuel/internal/coordinator"
	"github.com/xtrntr/parimutuel/internal/ledger"
	"github.com/xtrntr/parimutuel/internal/models"
	"github.com/xtrntr/parimutuel/internal/vault"
)

// Component identities used for cross-component authorization
const (
	CoordinatorID models.Identity = "coordinator"
	VaultAID      models.Identity = "vault-a"
	VaultBID      models.Identity = "vault-b"
)

// Config configures a new engine
type Config struct {
	Owner      models.Identity
	Treasury   models.Identity
	FeePercent int64
	Clock      models.Clock
	Observer   models.Observer
	Logger     *zap.Logger
}

// Pools holds the aggregates of both sides of an event
type Pools struct {
	A models.Pool `json:"a"`
	B models.Pool `json:"b"`
}

// Positions holds a bettor's exposure on both sides of an event
type Positions struct {
	A models.Position `json:"a"`
	B models.Position `json:"b"`
}

// Wallet is an account's ledger balance and the allowances it granted the vaults
type Wallet struct {
	Balance    int64 `json:"balance"`
	AllowanceA int64 `json:"allowance_a"`
	AllowanceB int64 `json:"allowance_b"`
}

// Exchange is the engine. It is safe for concurrent use.
type Exchange struct {
	mu     sync.Mutex
	ledger *ledger.Ledger
	coord  *coordinator.Coordinator
	vaults map[models.Side]*vault.Vault
	log    *zap.Logger
}

// New wires a ledger, a coordinator and two peered vaults
func New(cfg Config) (*Exchange, error) {
	if cfg.Owner == "" {
		return nil, errors.Wrap(models.ErrValidation, "owner cannot be empty")
	}
	if cfg.Treasury == "" {
		return nil, errors.Wrap(models.ErrValidation, "treasury cannot be empty")
	}
	if cfg.FeePercent < 0 || cfg.FeePercent > 100 {
		return nil, models.ErrInvalidFee
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	l := ledger.New()
	coord := coordinator.New(coordinator.Config{
		Identity:   CoordinatorID,
		Owner:      cfg.Owner,
		Treasury:   cfg.Treasury,
		FeePercent: cfg.FeePercent,
		Clock:      cfg.Clock,
		Observer:   cfg.Observer,
		Logger:     log.Named("coordinator"),
	})
	newVault := func(side models.Side, id models.Identity) *vault.Vault {
		return vault.New(vault.Config{
			Side:        side,
			Identity:    id,
			Owner:       cfg.Owner,
			Coordinator: CoordinatorID,
			Events:      coord,
			Asset:       l,
			Clock:       cfg.Clock,
			Observer:    cfg.Observer,
			Logger:      log.Named("vault"),
		})
	}
	a, b := newVault(models.SideA, VaultAID), newVault(models.SideB, VaultBID)
	if err := a.SetPeer(cfg.Owner, b); err != nil {
		return nil, errors.Wrap(err, "peer side A vault")
	}
	if err := b.SetPeer(cfg.Owner, a); err != nil {
		return nil, errors.Wrap(err, "peer side B vault")
	}
	if err := coord.SetVaults(cfg.Owner, a, b); err != nil {
		return nil, errors.Wrap(err, "register vaults")
	}

	return &Exchange{
		ledger: l,
		coord:  coord,
		vaults: map[models.Side]*vault.Vault{models.SideA: a, models.SideB: b},
		log:    log,
	}, nil
}

// Owner returns the administrative identity
func (e *Exchange) Owner() models.Identity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.coord.Owner()
}

// IsOwner reports whether id holds the administrative role
func (e *Exchange) IsOwner(id models.Identity) bool {
	return e.Owner() == id
}

// Mint credits new units to an account. Owner only.
func (e *Exchange) Mint(ctx context.Context, caller, to models.Identity, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.coord.Owner() {
		return errors.Wrap(models.ErrUnauthorized, "only the owner may mint")
	}
	if to == "" {
		return errors.Wrap(models.ErrValidation, "recipient cannot be empty")
	}
	if err := e.ledger.Mint(ctx, to, amount); err != nil {
		return err
	}
	e.log.Info("minted", zap.String("to", string(to)), zap.Int64("amount", amount))
	return nil
}

// Approve sets the allowance the bettor grants the vault of side
func (e *Exchange) Approve(ctx context.Context, bettor models.Identity, side models.Side, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.vault(side)
	if err != nil {
		return err
	}
	return e.ledger.Approve(ctx, bettor, v.Identity(), amount)
}

// PlaceBet deposits amount on one side of an event. The vault pulls the stake
// within the bettor's allowance and matches it as far as the peer allows.
func (e *Exchange) PlaceBet(ctx context.Context, bettor models.Identity, id models.EventID, side models.Side, amount int64) (models.Bet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.vault(side)
	if err != nil {
		return models.Bet{}, err
	}
	return v.PlaceBet(ctx, bettor, id, amount)
}

// Wallet returns an account's balance and vault allowances
func (e *Exchange) Wallet(account models.Identity) Wallet {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Wallet{
		Balance:    e.ledger.BalanceOf(account),
		AllowanceA: e.ledger.Allowance(account, VaultAID),
		AllowanceB: e.ledger.Allowance(account, VaultBID),
	}
}

// TotalSupply returns every unit ever minted
func (e *Exchange) TotalSupply() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.TotalSupply()
}

// CreateEvent registers a new event in both vaults
func (e *Exchange) CreateEvent(ctx context.Context, caller models.Identity, in coordinator.CreateEventInput) (models.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.coord.CreateEvent(ctx, caller, in)
}

// OpenEvent starts accepting bets
func (e *Exchange) OpenEvent(ctx context.Context, caller models.Identity, id models.EventID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.coord.OpenEvent(ctx, caller, id)
}

// CloseEvent stops betting and refunds unmatched stakes
func (e *Exchange) CloseEvent(ctx context.Context, caller models.Identity, id models.EventID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.coord.CloseEvent(ctx, caller, id)
}

// SettleEvent pays out the winning side
func (e *Exchange) SettleEvent(ctx context.Context, caller models.Identity, id models.EventID, winner models.Side) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.coord.SettleEvent(ctx, caller, id, winner)
}

// CancelEvent refunds every bet on both sides
func (e *Exchange) CancelEvent(ctx context.Context, caller models.Identity, id models.EventID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.coord.CancelEvent(ctx, caller, id)
}

// SetTreasury changes the fee recipient
func (e *Exchange) SetTreasury(caller, treasury models.Identity) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.coord.SetTreasury(caller, treasury)
}

// SetFeePercent changes the platform fee
func (e *Exchange) SetFeePercent(caller models.Identity, percent int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.coord.SetFeePercent(caller, percent)
}

// Treasury returns the current fee recipient
func (e *Exchange) Treasury() models.Identity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.coord.Treasury()
}

// GetEvent returns one event
func (e *Exchange) GetEvent(id models.EventID) (models.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.coord.GetEvent(id)
}

// ActiveEvents returns the created and open events in creation order
func (e *Exchange) ActiveEvents() []models.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events(e.coord.ActiveEventIDs())
}

// Events returns a page of events in creation order
func (e *Exchange) Events(offset, limit int) []models.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events(e.coord.EventIDs(offset, limit))
}

// EventCount returns the number of events ever created
func (e *Exchange) EventCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.coord.EventCount()
}

// Pools returns both sides' aggregates for an event
func (e *Exchange) Pools(id models.EventID) (Pools, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.coord.GetEvent(id); err != nil {
		return Pools{}, err
	}
	return Pools{
		A: e.vaults[models.SideA].Pool(id),
		B: e.vaults[models.SideB].Pool(id),
	}, nil
}

// Positions returns a bettor's stakes on both sides of an event
func (e *Exchange) Positions(id models.EventID, bettor models.Identity) (Positions, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.coord.GetEvent(id); err != nil {
		return Positions{}, err
	}
	return Positions{
		A: e.vaults[models.SideA].Position(id, bettor),
		B: e.vaults[models.SideB].Position(id, bettor),
	}, nil
}

// Bets returns the bet list of one side of an event
func (e *Exchange) Bets(id models.EventID, side models.Side) ([]models.Bet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.vault(side)
	if err != nil {
		return nil, err
	}
	if _, err := e.coord.GetEvent(id); err != nil {
		return nil, err
	}
	return v.Bets(id), nil
}

func (e *Exchange) vault(side models.Side) (*vault.Vault, error) {
	v, ok := e.vaults[side]
	if !ok {
		return nil, models.ErrInvalidSide
	}
	return v, nil
}

func (e *Exchange) events(ids []models.EventID) []models.Event {
	out := make([]models.Event, 0, len(ids))
	for _, id := range ids {
		if ev, err := e.coord.GetEvent(id); err == nil {
			out = append(out, ev)
		}
	}
	return out
}
