// Package retention runs the background sweep that soft-deletes Outcomes
// past their retention window and prunes ProgressEntries for outcomes
// already soft-deleted (SPEC_FULL.md §12), in the same ticker-loop idiom
// as pkg/cleanup.Service.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/digitaltwin/dtwind/pkg/idgen"
	"github.com/digitaltwin/dtwind/pkg/store"
)

// Config tunes the retention sweep.
type Config struct {
	OutcomeRetentionDays int           `yaml:"outcome_retention_days"`
	ProgressEntryTTL     time.Duration `yaml:"progress_entry_ttl"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
}

// DefaultConfig returns the spec.md §9-style defaults: a week's grace for
// an achieved/archived Outcome before it's soft-deleted, a 30-day TTL for
// progress entries that belong to an already-deleted Outcome, swept hourly.
func DefaultConfig() Config {
	return Config{
		OutcomeRetentionDays: 7,
		ProgressEntryTTL:     30 * 24 * time.Hour,
		SweepInterval:        time.Hour,
	}
}

// Sweeper periodically enforces Config's retention window. All operations
// are idempotent: re-running a sweep against already-deleted rows is a
// no-op, so it's safe to run startup + a late ticker tick back to back.
type Sweeper struct {
	store  *store.Store
	clock  idgen.Clock
	cfg    Config
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Sweeper. logger may be nil (defaults to slog.Default()).
func New(s *store.Store, clock idgen.Clock, cfg Config, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: s, clock: clock, cfg: cfg, logger: logger}
}

// Start launches the background sweep loop, running once immediately.
func (sw *Sweeper) Start(ctx context.Context) {
	if sw.cancel != nil {
		return
	}
	ctx, sw.cancel = context.WithCancel(ctx)
	sw.done = make(chan struct{})
	go sw.run(ctx)
	sw.logger.Info("retention sweep started",
		"outcome_retention_days", sw.cfg.OutcomeRetentionDays,
		"progress_entry_ttl", sw.cfg.ProgressEntryTTL,
		"interval", sw.cfg.SweepInterval)
}

// Stop signals the loop to exit and waits for it to finish.
func (sw *Sweeper) Stop() {
	if sw.cancel == nil {
		return
	}
	sw.cancel()
	<-sw.done
	sw.logger.Info("retention sweep stopped")
}

func (sw *Sweeper) run(ctx context.Context) {
	defer close(sw.done)
	sw.Sweep(ctx)

	ticker := time.NewTicker(sw.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.Sweep(ctx)
		}
	}
}

// Sweep runs one retention pass: soft-delete stale outcomes, then prune
// progress entries that belong to an outcome already soft-deleted.
func (sw *Sweeper) Sweep(ctx context.Context) {
	now := sw.clock.NowMillis()

	deletedOutcomes := 0
	outcomeCutoff := now - int64(sw.cfg.OutcomeRetentionDays)*24*60*60*1000
	err := sw.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		ids, err := store.ListStaleOutcomeIDs(ctx, q, outcomeCutoff)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := store.SoftDeleteOutcome(ctx, q, id, now); err != nil {
				return err
			}
			deletedOutcomes++
		}
		return nil
	})
	if err != nil {
		sw.logger.Error("retention: soft-delete outcomes failed", "error", err)
	} else if deletedOutcomes > 0 {
		sw.logger.Info("retention: soft-deleted stale outcomes", "count", deletedOutcomes)
	}

	progressCutoff := now - sw.cfg.ProgressEntryTTL.Milliseconds()
	var prunedProgress int64
	err = sw.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		var err error
		prunedProgress, err = store.DeleteProgressEntriesOlderThan(ctx, q, progressCutoff)
		return err
	})
	if err != nil {
		sw.logger.Error("retention: progress entry cleanup failed", "error", err)
	} else if prunedProgress > 0 {
		sw.logger.Info("retention: pruned stale progress entries", "count", prunedProgress)
	}
}
