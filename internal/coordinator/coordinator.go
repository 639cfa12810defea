// Package coordinator owns the event catalogue and drives every event through
// its lifecycle, instructing the two side vaults at each transition.
package coordinator

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/xtrntr/parimutuel/internal/models"
)

// DefaultFeePercent is the platform fee taken from the losing pool
const DefaultFeePercent = 5

// maxPageSize caps EventIDs pagination
const maxPageSize = 100

// Vault is a side vault as seen by the coordinator
type Vault interface {
	Identity() models.Identity
	Side() models.Side
	InitializeEvent(ctx context.Context, caller models.Identity, id models.EventID, odds models.Odds) error
	DiscardEvent(ctx context.Context, caller models.Identity, id models.EventID) error
	ReturnUnmatchedBets(ctx context.Context, caller models.Identity, id models.EventID) (int64, error)
	ReturnAllBets(ctx context.Context, caller models.Identity, id models.EventID) (int64, error)
	DistributeWinnings(ctx context.Context, caller models.Identity, id models.EventID, treasury models.Identity, feePercent int64) error
}

// Config holds the coordinator's identities and collaborators
type Config struct {
	Identity   models.Identity
	Owner      models.Identity
	Treasury   models.Identity
	FeePercent int64
	Clock      models.Clock
	Observer   models.Observer
	Logger     *zap.Logger
}

// CreateEventInput describes a new event
type CreateEventInput struct {
	Name           string
	LabelA         string
	LabelB         string
	Odds           models.Odds
	OpenTime       time.Time
	CloseTime      time.Time
	SettlementTime time.Time
}

// Validate checks the input without touching any state
func (in CreateEventInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return errors.Wrap(models.ErrValidation, "name cannot be empty")
	}
	if !in.Odds.Valid() {
		return models.ErrInvalidOdds
	}
	if !in.OpenTime.Before(in.CloseTime) || !in.CloseTime.Before(in.SettlementTime) {
		return models.ErrInvalidSchedule
	}
	return nil
}

// Coordinator manages events and their lifecycle
type Coordinator struct {
	id         models.Identity
	owner      models.Identity
	treasury   models.Identity
	feePercent int64
	clock      models.Clock
	observer   models.Observer
	log        *zap.Logger

	vaultA, vaultB Vault
	events         map[models.EventID]*models.Event
	order          []models.EventID
	nextID         models.EventID
}

// New creates a coordinator with no vaults registered
func New(cfg Config) *Coordinator {
	c := &Coordinator{
		id:         cfg.Identity,
		owner:      cfg.Owner,
		treasury:   cfg.Treasury,
		feePercent: cfg.FeePercent,
		clock:      cfg.Clock,
		observer:   cfg.Observer,
		log:        cfg.Logger,
		events:     make(map[models.EventID]*models.Event),
		nextID:     1,
	}
	if c.clock == nil {
		c.clock = models.SystemClock
	}
	if c.observer == nil {
		c.observer = models.Discard
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// Identity returns the identity the coordinator presents to the vaults
func (c *Coordinator) Identity() models.Identity { return c.id }

// Owner returns the administrative identity
func (c *Coordinator) Owner() models.Identity { return c.owner }

// Treasury returns the account receiving platform fees
func (c *Coordinator) Treasury() models.Identity { return c.treasury }

// FeePercent returns the platform fee percentage
func (c *Coordinator) FeePercent() int64 { return c.feePercent }

// SetVaults registers the two side vaults. Allowed until the first event exists.
func (c *Coordinator) SetVaults(caller models.Identity, a, b Vault) error {
	if err := c.onlyOwner(caller); err != nil {
		return err
	}
	if a == nil || b == nil || a.Side() != models.SideA || b.Side() != models.SideB {
		return errors.Wrap(models.ErrValidation, "vaults must cover side A and side B")
	}
	if len(c.order) > 0 {
		return errors.Wrap(models.ErrInvalidState, "vaults cannot change once events exist")
	}
	c.vaultA, c.vaultB = a, b
	return nil
}

// SetTreasury changes the fee recipient
func (c *Coordinator) SetTreasury(caller, treasury models.Identity) error {
	if err := c.onlyOwner(caller); err != nil {
		return err
	}
	if treasury == "" {
		return errors.Wrap(models.ErrValidation, "treasury cannot be empty")
	}
	c.treasury = treasury
	return nil
}

// SetFeePercent changes the platform fee for future settlements
func (c *Coordinator) SetFeePercent(caller models.Identity, percent int64) error {
	if err := c.onlyOwner(caller); err != nil {
		return err
	}
	if percent < 0 || percent > 100 {
		return models.ErrInvalidFee
	}
	c.feePercent = percent
	return nil
}

// TransferOwnership hands the administrative role to another identity
func (c *Coordinator) TransferOwnership(caller, owner models.Identity) error {
	if err := c.onlyOwner(caller); err != nil {
		return err
	}
	if owner == "" {
		return errors.Wrap(models.ErrValidation, "owner cannot be empty")
	}
	c.owner = owner
	return nil
}

// CreateEvent registers a new event and pushes its odds into both vaults.
// Either both vaults accept it or the event does not exist.
func (c *Coordinator) CreateEvent(ctx context.Context, caller models.Identity, in CreateEventInput) (models.Event, error) {
	if err := c.onlyOwner(caller); err != nil {
		return models.Event{}, err
	}
	if err := in.Validate(); err != nil {
		return models.Event{}, err
	}
	if c.vaultA == nil || c.vaultB == nil {
		return models.Event{}, models.ErrVaultsNotRegistered
	}

	id := c.nextID
	if err := c.vaultA.InitializeEvent(ctx, c.id, id, in.Odds); err != nil {
		return models.Event{}, errors.Wrap(err, "initialize side A vault")
	}
	if err := c.vaultB.InitializeEvent(ctx, c.id, id, in.Odds); err != nil {
		if rbErr := c.vaultA.DiscardEvent(ctx, c.id, id); rbErr != nil {
			c.log.Error("rollback of side A vault failed", zap.Uint64("event_id", uint64(id)), zap.Error(rbErr))
		}
		return models.Event{}, errors.Wrap(err, "initialize side B vault")
	}

	ev := &models.Event{
		ID:             id,
		Name:           in.Name,
		LabelA:         in.LabelA,
		LabelB:         in.LabelB,
		Odds:           in.Odds,
		OpenTime:       in.OpenTime,
		CloseTime:      in.CloseTime,
		SettlementTime: in.SettlementTime,
		Status:         models.StatusCreated,
		CreatedAt:      c.clock.Now(),
	}
	c.events[id] = ev
	c.order = append(c.order, id)
	c.nextID++

	c.emit(ctx, models.ActivityEventCreated, ev)
	c.log.Info("event created", zap.Uint64("event_id", uint64(id)), zap.String("name", ev.Name),
		zap.Int64("odds_a", ev.Odds.A), zap.Int64("odds_b", ev.Odds.B))
	return *ev, nil
}

// OpenEvent starts accepting bets
func (c *Coordinator) OpenEvent(ctx context.Context, caller models.Identity, id models.EventID) error {
	ev, err := c.adminEvent(caller, id)
	if err != nil {
		return err
	}
	if ev.Status != models.StatusCreated {
		return errors.Wrapf(models.ErrInvalidState, "event %d is %s, not created", id, ev.Status)
	}
	if c.clock.Now().Before(ev.OpenTime) {
		return errors.Wrapf(models.ErrTooEarly, "event %d opens at %s", id, ev.OpenTime.Format(time.RFC3339))
	}
	ev.Status = models.StatusOpen
	c.emit(ctx, models.ActivityEventOpened, ev)
	c.log.Info("event opened", zap.Uint64("event_id", uint64(id)))
	return nil
}

// CloseEvent stops betting and refunds every unmatched stake on both sides
func (c *Coordinator) CloseEvent(ctx context.Context, caller models.Identity, id models.EventID) error {
	ev, err := c.adminEvent(caller, id)
	if err != nil {
		return err
	}
	if ev.Status != models.StatusOpen {
		return errors.Wrapf(models.ErrInvalidState, "event %d is %s, not open", id, ev.Status)
	}
	if c.clock.Now().Before(ev.CloseTime) {
		return errors.Wrapf(models.ErrTooEarly, "event %d closes at %s", id, ev.CloseTime.Format(time.RFC3339))
	}
	for _, v := range []Vault{c.vaultA, c.vaultB} {
		if _, err := v.ReturnUnmatchedBets(ctx, c.id, id); err != nil {
			return errors.Wrapf(err, "return unmatched bets on side %s", v.Side())
		}
	}
	ev.Status = models.StatusClosed
	c.emit(ctx, models.ActivityEventClosed, ev)
	c.log.Info("event closed", zap.Uint64("event_id", uint64(id)))
	return nil
}

// SettleEvent declares the winner. The winning vault pulls the losing pool and
// pays its matched bettors; the losing vault then refunds anything it still
// holds for the event.
func (c *Coordinator) SettleEvent(ctx context.Context, caller models.Identity, id models.EventID, winner models.Side) error {
	ev, err := c.adminEvent(caller, id)
	if err != nil {
		return err
	}
	if ev.Status != models.StatusClosed {
		return errors.Wrapf(models.ErrInvalidState, "event %d is %s, not closed", id, ev.Status)
	}
	if !winner.Valid() {
		return models.ErrInvalidSide
	}
	if ev.PendingWinner != "" && ev.PendingWinner != winner {
		return errors.Wrapf(models.ErrInvalidState, "event %d is being settled for side %s", id, ev.PendingWinner)
	}
	if c.clock.Now().Before(ev.SettlementTime) {
		return errors.Wrapf(models.ErrTooEarly, "event %d settles at %s", id, ev.SettlementTime.Format(time.RFC3339))
	}

	winning, losing := c.vaultA, c.vaultB
	if winner == models.SideB {
		winning, losing = c.vaultB, c.vaultA
	}
	ev.PendingWinner = winner
	if err := winning.DistributeWinnings(ctx, c.id, id, c.treasury, c.feePercent); err != nil {
		c.log.Warn("distribution incomplete", zap.Uint64("event_id", uint64(id)), zap.Error(err))
		return errors.Wrap(err, "distribute winnings")
	}
	if _, err := losing.ReturnAllBets(ctx, c.id, id); err != nil {
		return errors.Wrap(err, "return remaining losing stakes")
	}

	ev.Status = models.StatusSettled
	ev.Winner = winner
	ev.PendingWinner = ""
	a := c.activity(models.ActivityEventSettled, ev)
	a.Side = winner
	c.observer.Observe(ctx, a)
	c.log.Info("event settled", zap.Uint64("event_id", uint64(id)), zap.String("winner", string(winner)))
	return nil
}

// CancelEvent aborts the event and refunds every bet on both sides
func (c *Coordinator) CancelEvent(ctx context.Context, caller models.Identity, id models.EventID) error {
	ev, err := c.adminEvent(caller, id)
	if err != nil {
		return err
	}
	if ev.Status.Terminal() {
		return errors.Wrapf(models.ErrInvalidState, "event %d is already %s", id, ev.Status)
	}
	if ev.PendingWinner != "" {
		return errors.Wrapf(models.ErrInvalidState, "event %d is being settled", id)
	}
	for _, v := range []Vault{c.vaultA, c.vaultB} {
		if _, err := v.ReturnAllBets(ctx, c.id, id); err != nil {
			return errors.Wrapf(err, "return all bets on side %s", v.Side())
		}
	}
	ev.Status = models.StatusCancelled
	c.emit(ctx, models.ActivityEventCancelled, ev)
	c.log.Info("event cancelled", zap.Uint64("event_id", uint64(id)))
	return nil
}

// GetEvent returns a copy of one event
func (c *Coordinator) GetEvent(id models.EventID) (models.Event, error) {
	ev, ok := c.events[id]
	if !ok {
		return models.Event{}, errors.Wrapf(models.ErrEventNotFound, "event %d", id)
	}
	return *ev, nil
}

// IsEventOpen reports whether bets are accepted for the event
func (c *Coordinator) IsEventOpen(id models.EventID) bool {
	ev, ok := c.events[id]
	return ok && ev.Status == models.StatusOpen
}

// ActiveEventIDs lists events that are created or open, in creation order
func (c *Coordinator) ActiveEventIDs() []models.EventID {
	ids := []models.EventID{}
	for _, id := range c.order {
		if c.events[id].Status.Active() {
			ids = append(ids, id)
		}
	}
	return ids
}

// EventIDs returns up to limit event ids starting at offset, in creation order
func (c *Coordinator) EventIDs(offset, limit int) []models.EventID {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	if offset >= len(c.order) {
		return []models.EventID{}
	}
	end := offset + limit
	if end > len(c.order) {
		end = len(c.order)
	}
	ids := make([]models.EventID, end-offset)
	copy(ids, c.order[offset:end])
	return ids
}

// EventCount returns the number of events ever created
func (c *Coordinator) EventCount() int {
	return len(c.order)
}

func (c *Coordinator) onlyOwner(caller models.Identity) error {
	if caller != c.owner {
		return errors.Wrapf(models.ErrUnauthorized, "%s is not the owner", caller)
	}
	return nil
}

func (c *Coordinator) adminEvent(caller models.Identity, id models.EventID) (*models.Event, error) {
	if err := c.onlyOwner(caller); err != nil {
		return nil, err
	}
	ev, ok := c.events[id]
	if !ok {
		return nil, errors.Wrapf(models.ErrEventNotFound, "event %d", id)
	}
	return ev, nil
}

func (c *Coordinator) activity(kind models.ActivityKind, ev *models.Event) models.Activity {
	a := models.NewActivity(kind, ev.ID, c.clock.Now())
	a.Actor = c.owner
	return a
}

func (c *Coordinator) emit(ctx context.Context, kind models.ActivityKind, ev *models.Event) {
	c.observer.Observe(ctx, c.activity(kind, ev))
}
