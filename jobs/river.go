// Package jobs runs the ledger's background work: durable event delivery through a river
// queue and the cron-driven lapse sweeper.
package jobs

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/PaulFidika/subledger/entitlements"
)

// QueueEvents is the river queue ledger events are delivered through.
const QueueEvents = "subledger_events"

// EventArgs is the job payload: one committed ledger event.
type EventArgs struct {
	Event entitlements.Event `json:"event"`
}

func (EventArgs) Kind() string { return "subledger_event" }

func (EventArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueEvents, MaxAttempts: 12}
}

// EventWorker hands each queued event to the downstream sink. A sink error fails the job
// and river retries it with backoff.
type EventWorker struct {
	river.WorkerDefaults[EventArgs]
	Next entitlements.EventSink
}

func (w *EventWorker) Work(ctx context.Context, job *river.Job[EventArgs]) error {
	return w.Next.Publish(ctx, job.Args.Event)
}

// NewRiverClient builds a river client whose only worker delivers ledger events to next.
// The caller starts and stops it.
func NewRiverClient(pool *pgxpool.Pool, next entitlements.EventSink, maxWorkers int) (*river.Client[pgx.Tx], error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	workers := river.NewWorkers()
	if err := river.AddWorkerSafely(workers, &EventWorker{Next: next}); err != nil {
		return nil, err
	}
	return river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  map[string]river.QueueConfig{QueueEvents: {MaxWorkers: maxWorkers}},
		Workers: workers,
	})
}

// RiverSink enqueues events instead of delivering them inline, so delivery survives
// restarts and downstream outages.
type RiverSink struct {
	Client *river.Client[pgx.Tx]
}

func (s RiverSink) Publish(ctx context.Context, ev entitlements.Event) error {
	if _, err := s.Client.Insert(ctx, EventArgs{Event: ev}, nil); err != nil {
		return fmt.Errorf("river: enqueue %s: %w", ev.Kind, err)
	}
	return nil
}

// MigrateRiver creates or upgrades river's own tables.
func MigrateRiver(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	m, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return 0, err
	}
	res, err := m.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return 0, err
	}
	return len(res.Versions), nil
}
