package jobs

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/PaulFidika/subledger/entitlements"
)

// Sweeper reports windows that have closed since its previous run. It never writes ledger
// state: a lapsed token keeps its stored expiry and simply stops being active.
type Sweeper struct {
	store entitlements.ExpiryStore
	clock entitlements.Clock
	sink  entitlements.EventSink
	log   logrus.FieldLogger

	mu   sync.Mutex
	last entitlements.Timestamp
	// edge holds the ids already reported with expiresAt == last. Each window reopens that
	// second because a renewal committed after a sweep can still expire within it.
	edge map[entitlements.TokenID]struct{}
	cron *cron.Cron
}

// NewSweeper starts its watermark at the current time, so windows that closed before the
// process started are not reported.
func NewSweeper(store entitlements.ExpiryStore, clock entitlements.Clock, sink entitlements.EventSink, log logrus.FieldLogger) *Sweeper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sweeper{store: store, clock: clock, sink: sink, log: log, last: unixNow(clock)}
}

func unixNow(c entitlements.Clock) entitlements.Timestamp {
	sec := c.Now().Unix()
	if sec < 0 {
		return 0
	}
	return entitlements.Timestamp(sec)
}

// Sweep publishes a lapsed event for every expiry in [last, now] not reported before and
// advances the watermark. On a store error the watermark stays put and the range is
// retried next run.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := unixNow(s.clock)
	if now <= s.last {
		return 0, nil
	}
	from := s.last
	if from > 0 {
		from--
	}
	recs, err := s.store.ExpiringBetween(ctx, from, now)
	if err != nil {
		return 0, err
	}
	at := s.clock.Now()
	edge := make(map[entitlements.TokenID]struct{})
	var n int
	for _, rec := range recs {
		if rec.ExpiresAt == s.last {
			if _, seen := s.edge[rec.ID]; seen {
				continue
			}
		}
		if rec.ExpiresAt == now {
			edge[rec.ID] = struct{}{}
		}
		n++
		if err := s.sink.Publish(ctx, entitlements.NewLapsedEvent(rec, at)); err != nil {
			s.log.WithError(err).WithField("token_id", rec.ID).Warn("lapsed event publish failed")
		}
	}
	s.last, s.edge = now, edge
	if n > 0 {
		s.log.WithFields(logrus.Fields{"count": n, "through": now}).Info("subscriptions lapsed")
	}
	return n, nil
}

// Start runs Sweep on the cron spec (e.g. "@every 1m"). Overlapping runs are skipped.
func (s *Sweeper) Start(spec string) error {
	logger := cron.PrintfLogger(s.log)
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.log.WithError(err).Error("lapse sweep failed")
		}
	}); err != nil {
		return err
	}
	s.cron = c
	c.Start()
	return nil
}

// Stop halts the schedule and returns a context done when any running sweep finishes.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return s.cron.Stop()
}
