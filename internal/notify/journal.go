package notify

import (
	"context"
	"fmt"

	"github.com/xtrntr/parimutuel/internal/models"
)

// JournalStore persists activity and event snapshots
type JournalStore interface {
	RecordActivity(ctx context.Context, a models.Activity) error
	SaveEvent(ctx context.Context, ev models.Event) error
}

// EventSource reads the live state of an event
type EventSource interface {
	GetEvent(id models.EventID) (models.Event, error)
}

// Journal records every activity and refreshes the stored event snapshot on
// lifecycle transitions
type Journal struct {
	store  JournalStore
	events EventSource
}

// NewJournal creates a journal sink
func NewJournal(store JournalStore, events EventSource) *Journal {
	return &Journal{store: store, events: events}
}

// Name implements Sink
func (j *Journal) Name() string { return "journal" }

// Deliver implements Sink
func (j *Journal) Deliver(ctx context.Context, a models.Activity) error {
	if err := j.store.RecordActivity(ctx, a); err != nil {
		return err
	}
	if !lifecycle(a.Kind) {
		return nil
	}
	ev, err := j.events.GetEvent(a.EventID)
	if err != nil {
		return fmt.Errorf("failed to read event %d: %w", a.EventID, err)
	}
	return j.store.SaveEvent(ctx, ev)
}

func lifecycle(kind models.ActivityKind) bool {
	switch kind {
	case models.ActivityEventCreated, models.ActivityEventOpened, models.ActivityEventClosed,
		models.ActivityEventSettled, models.ActivityEventCancelled:
		return true
	}
	return false
}
