// Package scheduler drives the periodic catalog sweep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/egorin/apkhub/internal/catalog"
	"github.com/egorin/apkhub/internal/history"
	"github.com/egorin/apkhub/internal/pipeline"
	"github.com/egorin/apkhub/internal/source"
)

// ErrSweepInProgress is returned when a sweep is requested while another
// one is still running.
var ErrSweepInProgress = errors.New("sweep already in progress")

// Summary counts the outcomes of one sweep.
type Summary struct {
	Checked int
	Updated int
	Failed  int
}

// Scheduler sweeps the catalog at a fixed interval, resolving and
// publishing every entry that declares an update source.
type Scheduler struct {
	store    *catalog.Store
	resolver *source.Resolver
	pipe     *pipeline.Pipeline
	interval time.Duration

	notifier pipeline.Notifier
	history  *history.Store

	// Held for the duration of a sweep. Overlapping sweeps are skipped,
	// never queued.
	sweepMu sync.Mutex
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithNotifier sets the notification sink for sweep-level failures.
func WithNotifier(n pipeline.Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// WithHistory records sweep summaries to the history store.
func WithHistory(h *history.Store) Option {
	return func(s *Scheduler) { s.history = h }
}

// SetNotifier wires the notification sink after construction.
func (s *Scheduler) SetNotifier(n pipeline.Notifier) {
	s.notifier = n
}

// New creates a Scheduler sweeping every interval.
func New(store *catalog.Store, resolver *source.Resolver, pipe *pipeline.Pipeline, interval time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		resolver: resolver,
		pipe:     pipe,
		interval: interval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps once immediately, then on every interval tick until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Printf("[scheduler] sweeping every %s", s.interval)
	if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
		log.Printf("[scheduler] sweep: %v", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
				log.Printf("[scheduler] sweep: %v", err)
			}
		}
	}
}

// Sweep runs one full pass over the catalog. It is the shared entry point
// for the timer, the HTTP update route, and the bot's updateall command.
// Returns ErrSweepInProgress when another sweep holds the lock.
func (s *Scheduler) Sweep(ctx context.Context) (Summary, error) {
	if !s.sweepMu.TryLock() {
		log.Printf("[scheduler] sweep requested while one is running, skipping")
		return Summary{}, ErrSweepInProgress
	}
	defer s.sweepMu.Unlock()

	started := time.Now().UTC()
	var sum Summary

	c, err := s.store.Load()
	if err != nil {
		s.notify(ctx, fmt.Sprintf("❌ Update sweep failed: %v", err))
		return sum, fmt.Errorf("loading catalog: %w", err)
	}

	for i := range c.Apps {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		app := c.Apps[i]
		if !app.HasSource() {
			continue
		}
		sum.Checked++

		url, err := s.resolver.Resolve(ctx, &app)
		if err != nil {
			sum.Failed++
			log.Printf("[scheduler] %s: resolve: %v", app.Title, err)
			s.notify(ctx, fmt.Sprintf("❌ %s: could not resolve update source\n%v", app.Title, err))
			continue
		}

		switch res := s.pipe.Publish(ctx, &app, url, "sweep"); res.Outcome {
		case pipeline.OutcomeUpdated, pipeline.OutcomeAdded:
			sum.Updated++
		case pipeline.OutcomeFailed:
			sum.Failed++
		}
	}

	log.Printf("[scheduler] sweep done: %d checked, %d updated, %d failed", sum.Checked, sum.Updated, sum.Failed)
	if s.history != nil {
		err := s.history.RecordSweep(&history.Sweep{
			StartedAt:  started,
			FinishedAt: time.Now().UTC(),
			Checked:    sum.Checked,
			Updated:    sum.Updated,
			Failed:     sum.Failed,
		})
		if err != nil {
			log.Printf("[scheduler] recording sweep: %v", err)
		}
	}
	return sum, nil
}

func (s *Scheduler) notify(ctx context.Context, text string) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, text)
	}
}
