package models

import "time"

// Identity names a principal: a bettor, the owner, the treasury, or one of the
// engine components. Cross-component calls are authorized by comparing it.
type Identity string

// EventID identifies an event. Ids are assigned in creation order starting at 1.
type EventID uint64

// Side is one of the two outcomes of an event
type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

// Valid reports whether s names one of the two sides
func (s Side) Valid() bool {
	return s == SideA || s == SideB
}

// Opposite returns the other side
func (s Side) Opposite() Side {
	if s == SideA {
		return SideB
	}
	return SideA
}

// EventStatus is the lifecycle state of an event
type EventStatus string

const (
	StatusCreated   EventStatus = "created"
	StatusOpen      EventStatus = "open"
	StatusClosed    EventStatus = "closed"
	StatusSettled   EventStatus = "settled"
	StatusCancelled EventStatus = "cancelled"
)

// Terminal reports whether no further transition is possible
func (s EventStatus) Terminal() bool {
	return s == StatusSettled || s == StatusCancelled
}

// Active reports whether the event still accepts lifecycle progress towards betting
func (s EventStatus) Active() bool {
	return s == StatusCreated || s == StatusOpen
}

// Odds holds the fixed per-side odds of an event, as percentages (100 = even)
type Odds struct {
	A int64 `json:"a"`
	B int64 `json:"b"`
}

// For returns the odds of the given side
func (o Odds) For(side Side) int64 {
	if side == SideA {
		return o.A
	}
	return o.B
}

// Valid reports whether both odds are positive
func (o Odds) Valid() bool {
	return o.A > 0 && o.B > 0
}

// Event represents one binary-outcome market
type Event struct {
	ID             EventID     `json:"id"`
	Name           string      `json:"name"`
	LabelA         string      `json:"label_a"`
	LabelB         string      `json:"label_b"`
	Odds           Odds        `json:"odds"`
	OpenTime       time.Time   `json:"open_time"`
	CloseTime      time.Time   `json:"close_time"`
	SettlementTime time.Time   `json:"settlement_time"`
	Status         EventStatus `json:"status"`
	Winner         Side        `json:"winner,omitempty"`         // set once settled
	PendingWinner  Side        `json:"pending_winner,omitempty"` // set while a settlement is being distributed
	CreatedAt      time.Time   `json:"created_at"`
}

// BetOutcome records how a bet's funds left the vault
type BetOutcome string

const (
	OutcomeNone      BetOutcome = ""
	OutcomeRefunded  BetOutcome = "refunded"
	OutcomePaid      BetOutcome = "paid"
	OutcomeForfeited BetOutcome = "forfeited"
)

// Bet is a stake placed on one side of an event
type Bet struct {
	Index         int        `json:"index"` // position in the event's bet list
	Bettor        Identity   `json:"bettor"`
	Amount        int64      `json:"amount"`
	MatchedAmount int64      `json:"matched_amount"`
	Matched       bool       `json:"matched"`  // the whole stake is matched
	Released      int64      `json:"released"` // stake that already left custody
	Outcome       BetOutcome `json:"outcome,omitempty"`
	PlacedAt      time.Time  `json:"placed_at"`
}

// Settled reports whether all of the bet's funds already left the vault
func (b Bet) Settled() bool {
	return b.Outcome != OutcomeNone
}

// Unmatched returns the part of the stake still in custody and not matched
func (b Bet) Unmatched() int64 {
	return b.Amount - b.Released - b.MatchedAmount
}

// Position is a bettor's exposure on one side of an event
type Position struct {
	Staked  int64 `json:"staked"`
	Matched int64 `json:"matched"`
}

// Pool summarizes one vault's aggregates for an event
type Pool struct {
	Side           Side  `json:"side"`
	TotalStaked    int64 `json:"total_staked"`
	TotalMatched   int64 `json:"total_matched"`
	MatchedBalance int64 `json:"matched_balance"`
	Cursor         int   `json:"cursor"`
	Bets           int   `json:"bets"`
}
