package models

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ActivityKind names an observable occurrence
type ActivityKind string

const (
	ActivityEventCreated        ActivityKind = "event_created"
	ActivityEventOpened         ActivityKind = "event_opened"
	ActivityEventClosed         ActivityKind = "event_closed"
	ActivityEventSettled        ActivityKind = "event_settled"
	ActivityEventCancelled      ActivityKind = "event_cancelled"
	ActivityBetPlaced           ActivityKind = "bet_placed"
	ActivityBetMatched          ActivityKind = "bet_matched"
	ActivityWinningsDistributed ActivityKind = "winnings_distributed"
	ActivityUnmatchedReturned   ActivityKind = "unmatched_bets_returned"
	ActivityAllReturned         ActivityKind = "all_bets_returned"
	ActivityFundsPulled         ActivityKind = "funds_pulled"
)

// Activity is an observable record emitted by the coordinator and the vaults.
// Observers never influence engine behaviour.
type Activity struct {
	ID      string       `json:"id"`
	Kind    ActivityKind `json:"kind"`
	EventID EventID      `json:"event_id"`
	Side    Side         `json:"side,omitempty"`
	Actor   Identity     `json:"actor,omitempty"`
	Amount  int64        `json:"amount,omitempty"`
	At      time.Time    `json:"at"`
}

// NewActivity stamps a fresh activity record
func NewActivity(kind ActivityKind, eventID EventID, at time.Time) Activity {
	return Activity{
		ID:      uuid.New().String(),
		Kind:    kind,
		EventID: eventID,
		At:      at,
	}
}

// Observer receives activity records
type Observer interface {
	Observe(ctx context.Context, a Activity)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(ctx context.Context, a Activity)

// Observe calls f
func (f ObserverFunc) Observe(ctx context.Context, a Activity) { f(ctx, a) }

// Discard drops every activity
var Discard Observer = ObserverFunc(func(context.Context, Activity) {})

// Clock supplies the current time for lifecycle gates
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock
type ClockFunc func() time.Time

// Now calls f
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock
var SystemClock Clock = ClockFunc(time.Now)
