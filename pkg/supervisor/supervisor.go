// Package supervisor implements the periodic fleet-health sweep of spec.md
// §4.6: a single background loop that reclaims stale claims, detects stuck
// or runaway workers, raises and resolves alerts, and optionally
// auto-resolves escalations that have sat unanswered too long.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/digitaltwin/dtwind/pkg/events"
	"github.com/digitaltwin/dtwind/pkg/idgen"
	"github.com/digitaltwin/dtwind/pkg/models"
	"github.com/digitaltwin/dtwind/pkg/notify"
	"github.com/digitaltwin/dtwind/pkg/scheduler"
	"github.com/digitaltwin/dtwind/pkg/store"
)

// WorkerPauser is the slice of *workermanager.Manager the Supervisor needs
// — a small interface, the same dependency-inversion shape pkg/iteration
// uses for InterventionSource, so this package never imports
// pkg/workermanager directly.
type WorkerPauser interface {
	PauseWorker(workerID string) error
}

// Config tunes the Supervisor per spec.md §4.6/§9's defaults.
type Config struct {
	Interval         time.Duration
	HeartbeatTimeout time.Duration
	StuckThreshold   time.Duration
	LoopThreshold    int
	AutoResolveAge   time.Duration
}

// DefaultConfig returns the spec.md default tuning values.
func DefaultConfig() Config {
	return Config{
		Interval:         5 * time.Second,
		HeartbeatTimeout: 60 * time.Second,
		StuckThreshold:   15 * time.Minute,
		LoopThreshold:    5,
		AutoResolveAge:   10 * time.Minute,
	}
}

// Supervisor runs the periodic sweep of spec.md §4.6.
type Supervisor struct {
	store     *store.Store
	sched     *scheduler.Scheduler
	workers   WorkerPauser
	ids       *idgen.Generator
	clock     idgen.Clock
	publisher *events.Publisher
	notifier  *notify.Service
	cfg       Config
	logger    *slog.Logger
}

// SetNotifier wires an optional Slack notifier in for critical alerts,
// the same post-construction Set* wiring pkg/api/server.go uses.
func (sv *Supervisor) SetNotifier(n *notify.Service) {
	sv.notifier = n
}

// New constructs a Supervisor. workers and publisher may both be nil:
// workers for tests that never exercise the cost-overrun pause path,
// publisher for callers that don't need raised/resolved alerts to reach
// the live WebSocket stream.
func New(s *store.Store, sched *scheduler.Scheduler, workers WorkerPauser, ids *idgen.Generator, clock idgen.Clock, publisher *events.Publisher, cfg Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{store: s, sched: sched, workers: workers, ids: ids, clock: clock, publisher: publisher, cfg: cfg, logger: logger}
}

// Run loops Tick every cfg.Interval until ctx is cancelled — grounded on
// pkg/queue/orphan.go's runOrphanDetection ticker loop.
func (sv *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(sv.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sv.Tick(ctx); err != nil {
				sv.logger.Error("supervisor tick failed", "error", err)
			}
		}
	}
}

// Tick runs one full sweep: resolution of alerts raised on earlier ticks
// whose condition has cleared, then reclaim, stuck-worker, cost-overrun,
// iteration-loop, repeated-failure, and auto-resolve — in that order.
func (sv *Supervisor) Tick(ctx context.Context) error {
	if err := sv.resolveClearedAlerts(ctx); err != nil {
		return fmt.Errorf("resolve cleared alerts: %w", err)
	}

	if err := sv.reclaimSweep(ctx); err != nil {
		return fmt.Errorf("reclaim sweep: %w", err)
	}

	outcomes, err := sv.activeOutcomes(ctx)
	if err != nil {
		return fmt.Errorf("list active outcomes: %w", err)
	}

	for _, oc := range outcomes {
		if err := sv.checkWorkers(ctx, oc); err != nil {
			return fmt.Errorf("check workers for outcome %s: %w", oc.ID, err)
		}
		if err := sv.checkRepeatedFailures(ctx, oc); err != nil {
			return fmt.Errorf("check repeated failures for outcome %s: %w", oc.ID, err)
		}
		if err := sv.autoResolveEscalations(ctx, oc); err != nil {
			return fmt.Errorf("auto-resolve for outcome %s: %w", oc.ID, err)
		}
	}
	return nil
}

func (sv *Supervisor) activeOutcomes(ctx context.Context) ([]*models.Outcome, error) {
	var outcomes []*models.Outcome
	err := sv.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		var err error
		outcomes, err = store.ListOutcomes(ctx, q, store.OutcomeFilter{Status: models.OutcomeStatusActive})
		return err
	})
	return outcomes, err
}

// reclaimSweep implements §4.2's reclaim rule. It first reads the set of
// workers about to go stale (for alerting), then delegates the actual
// release/fail transition to the Scheduler, which owns that invariant.
func (sv *Supervisor) reclaimSweep(ctx context.Context) error {
	cutoff := sv.clock.NowMillis() - sv.cfg.HeartbeatTimeout.Milliseconds()

	var staleWorkers []*models.Worker
	err := sv.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		var err error
		staleWorkers, err = store.ListWorkersByStatusOlderThan(ctx, q, models.WorkerStatusRunning, cutoff)
		return err
	})
	if err != nil {
		return err
	}

	if _, err := sv.sched.ReclaimStale(ctx); err != nil {
		return err
	}

	for _, w := range staleWorkers {
		if err := sv.raiseAlert(ctx, w.OutcomeID, models.AlertTypeStuckWorker, models.AlertTargetWorker, w.ID,
			fmt.Sprintf("worker %s had no heartbeat since %s; marked failed and any claim released", w.ID, time.UnixMilli(w.LastHeartbeat).UTC().Format(time.RFC3339))); err != nil {
			return err
		}
	}
	return nil
}

// checkWorkers runs the stuck-worker, cost-overrun, and iteration-loop
// checks (§4.6) over every running worker in oc.
func (sv *Supervisor) checkWorkers(ctx context.Context, oc *models.Outcome) error {
	var running []*models.Worker
	err := sv.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		var err error
		running, err = store.ListWorkersByOutcomeAndStatus(ctx, q, oc.ID, models.WorkerStatusRunning)
		return err
	})
	if err != nil {
		return err
	}

	for _, w := range running {
		if err := sv.checkStuck(ctx, w); err != nil {
			return err
		}
		if err := sv.checkCostOverrun(ctx, oc, w); err != nil {
			return err
		}
		if err := sv.checkIterationLoop(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

func (sv *Supervisor) checkStuck(ctx context.Context, w *models.Worker) error {
	var recent []*models.ProgressEntry
	err := sv.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		var err error
		recent, err = store.ListRecentProgressByWorker(ctx, q, w.ID, 1)
		return err
	})
	if err != nil {
		return err
	}

	lastActivity := w.CreatedAt
	if len(recent) > 0 {
		lastActivity = recent[0].CreatedAt
	}
	now := sv.clock.NowMillis()
	if time.Duration(now-lastActivity)*time.Millisecond < sv.cfg.StuckThreshold {
		return nil
	}
	return sv.raiseAlert(ctx, w.OutcomeID, models.AlertTypeStuckWorker, models.AlertTargetWorker, w.ID,
		fmt.Sprintf("worker %s has produced no progress in over %s", w.ID, sv.cfg.StuckThreshold))
}

func (sv *Supervisor) checkCostOverrun(ctx context.Context, oc *models.Outcome, w *models.Worker) error {
	if oc.CostCapUSD <= 0 || w.Cost <= oc.CostCapUSD {
		return nil
	}
	if err := sv.raiseAlert(ctx, oc.ID, models.AlertTypeCostOverrun, models.AlertTargetWorker, w.ID,
		fmt.Sprintf("worker %s cost $%.2f exceeds outcome cap $%.2f", w.ID, w.Cost, oc.CostCapUSD)); err != nil {
		return err
	}
	if sv.workers == nil {
		return nil
	}
	if err := sv.workers.PauseWorker(w.ID); err != nil {
		sv.logger.Warn("failed to pause worker over cost cap", "worker_id", w.ID, "error", err)
	}
	return nil
}

// checkIterationLoop raises iteration_loop when the last cfg.LoopThreshold
// progress entries for w are all for the same task and share identical
// content — a proxy for the agent repeating itself without making
// progress (§4.6: "no ProgressEntry content hash change").
func (sv *Supervisor) checkIterationLoop(ctx context.Context, w *models.Worker) error {
	if w.CurrentTaskID == nil {
		return nil
	}
	var recent []*models.ProgressEntry
	err := sv.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		var err error
		recent, err = store.ListRecentProgressByWorker(ctx, q, w.ID, sv.cfg.LoopThreshold)
		return err
	})
	if err != nil {
		return err
	}
	if len(recent) < sv.cfg.LoopThreshold {
		return nil
	}

	taskID := *w.CurrentTaskID
	content := recent[0].Content
	for _, p := range recent {
		if p.TaskID != taskID || p.Content != content {
			return nil
		}
	}
	return sv.raiseAlert(ctx, w.OutcomeID, models.AlertTypeIterationLoop, models.AlertTargetWorker, w.ID,
		fmt.Sprintf("worker %s repeated identical output for task %s across %d iterations", w.ID, taskID, sv.cfg.LoopThreshold))
}

// checkRepeatedFailures raises repeated_failure for any task in oc that has
// exhausted its attempts. AlertTargetKind has no "task" member (spec.md §3
// only names worker and outcome), so the alert is tagged
// AlertTargetOutcome but keyed by the task's own id — the closest fit that
// still lets each failed task carry its own alert-dedup identity rather
// than collapsing every failure in an outcome onto one alert.
func (sv *Supervisor) checkRepeatedFailures(ctx context.Context, oc *models.Outcome) error {
	var failed []*models.Task
	err := sv.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		var err error
		failed, err = store.ListTasksByOutcomeAndStatus(ctx, q, oc.ID, models.TaskStatusFailed)
		return err
	})
	if err != nil {
		return err
	}

	for _, t := range failed {
		if t.Attempts < t.MaxAttempts {
			continue
		}
		if err := sv.raiseAlert(ctx, oc.ID, models.AlertTypeRepeatedFailure, models.AlertTargetOutcome, t.ID,
			fmt.Sprintf("task %s in outcome %s failed %d times, exceeding max_attempts=%d", t.ID, oc.ID, t.Attempts, t.MaxAttempts)); err != nil {
			return err
		}
	}
	return nil
}

// raiseAlert creates an Alert unless an active one already exists for the
// same (type, target) pair — spec.md §4.6's alert lifecycle is raise-once,
// resolve-on-condition-clear, not raise-every-tick.
func (sv *Supervisor) raiseAlert(ctx context.Context, outcomeID string, alertType models.AlertType, targetKind models.AlertTargetKind, targetID, message string) error {
	var created *models.Alert
	err := sv.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		existing, err := store.FindActiveAlert(ctx, q, alertType, targetKind, targetID)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}
		alert := &models.Alert{
			ID:         sv.ids.New(idgen.PrefixAlert),
			Type:       alertType,
			Severity:   severityFor(alertType),
			TargetKind: targetKind,
			TargetID:   targetID,
			Message:    message,
			Active:     true,
			CreatedAt:  sv.clock.NowMillis(),
		}
		if err := store.InsertAlert(ctx, q, alert); err != nil {
			return err
		}
		sv.logger.Warn("alert raised", "type", alertType, "target_kind", targetKind, "target_id", targetID, "message", message)
		created = alert
		return nil
	})
	if err != nil {
		return err
	}
	if created != nil && sv.publisher != nil {
		sv.publisher.PublishAlertRaised(outcomeID, events.AlertRaisedPayload{
			AlertID:    created.ID,
			OutcomeID:  outcomeID,
			AlertType:  string(created.Type),
			Severity:   string(created.Severity),
			TargetKind: string(created.TargetKind),
			TargetID:   created.TargetID,
			Message:    created.Message,
			Timestamp:  created.CreatedAt,
		})
	}
	if created != nil && created.Severity == models.AlertSeverityCritical && sv.notifier != nil {
		sv.notifier.CriticalAlertRaised(ctx, outcomeID, string(created.Type), created.Message)
	}
	return nil
}

func severityFor(t models.AlertType) models.AlertSeverity {
	switch t {
	case models.AlertTypeCostOverrun, models.AlertTypeRepeatedFailure:
		return models.AlertSeverityCritical
	case models.AlertTypeStuckWorker, models.AlertTypeIterationLoop:
		return models.AlertSeverityWarning
	default:
		return models.AlertSeverityInfo
	}
}

// resolveClearedAlerts re-checks every active alert's underlying condition
// and marks it resolved once it clears — spec.md §4.6: "on next tick, if a
// condition clears, mark the corresponding active alert resolved."
func (sv *Supervisor) resolveClearedAlerts(ctx context.Context) error {
	var active []*models.Alert
	err := sv.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		var err error
		active, err = store.ListActiveAlerts(ctx, q)
		return err
	})
	if err != nil {
		return err
	}

	for _, a := range active {
		cleared, err := sv.conditionCleared(ctx, a)
		if err != nil {
			return err
		}
		if !cleared {
			continue
		}
		if err := sv.resolveAlert(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (sv *Supervisor) conditionCleared(ctx context.Context, a *models.Alert) (bool, error) {
	switch a.Type {
	case models.AlertTypeStuckWorker, models.AlertTypeCostOverrun, models.AlertTypeIterationLoop:
		var w *models.Worker
		err := sv.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
			var err error
			w, err = store.GetWorker(ctx, q, a.TargetID)
			return err
		})
		if err != nil {
			if models.KindOf(err) == models.KindNotFound {
				return true, nil
			}
			return false, err
		}
		return w.Status != models.WorkerStatusRunning, nil
	case models.AlertTypeRepeatedFailure:
		var t *models.Task
		err := sv.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
			var err error
			t, err = store.GetTask(ctx, q, a.TargetID)
			return err
		})
		if err != nil {
			if models.KindOf(err) == models.KindNotFound {
				return true, nil
			}
			return false, err
		}
		return t.Status != models.TaskStatusFailed, nil
	default:
		return false, nil
	}
}

func (sv *Supervisor) resolveAlert(ctx context.Context, a *models.Alert) error {
	outcomeID, err := sv.outcomeForAlert(ctx, a)
	if err != nil {
		return err
	}

	if err := sv.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		now := sv.clock.NowMillis()
		a.Active = false
		a.ResolvedAt = &now
		return store.UpdateAlert(ctx, q, a)
	}); err != nil {
		return err
	}

	if sv.publisher != nil && outcomeID != "" {
		sv.publisher.PublishAlertResolved(outcomeID, events.AlertResolvedPayload{
			AlertID:   a.ID,
			OutcomeID: outcomeID,
			Timestamp: *a.ResolvedAt,
		})
	}
	return nil
}

// outcomeForAlert recovers the owning outcome id of an Alert for event
// routing. Worker-targeted alerts resolve through the worker's
// outcome_id; AlertTargetOutcome alerts are either keyed directly by
// outcome id (stuck/cost/loop never use this kind) or, for
// repeated_failure, by the failed task's id (see checkRepeatedFailures),
// so a task lookup is tried first and a bare outcome id is used as the
// fallback once the task lookup reports not-found.
func (sv *Supervisor) outcomeForAlert(ctx context.Context, a *models.Alert) (string, error) {
	switch a.TargetKind {
	case models.AlertTargetWorker:
		var w *models.Worker
		err := sv.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
			var err error
			w, err = store.GetWorker(ctx, q, a.TargetID)
			return err
		})
		if err != nil {
			if models.KindOf(err) == models.KindNotFound {
				return "", nil
			}
			return "", err
		}
		return w.OutcomeID, nil
	case models.AlertTargetOutcome:
		var t *models.Task
		err := sv.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
			var err error
			t, err = store.GetTask(ctx, q, a.TargetID)
			return err
		})
		if err == nil {
			return t.OutcomeID, nil
		}
		if models.KindOf(err) == models.KindNotFound {
			return a.TargetID, nil
		}
		return "", err
	default:
		return "", nil
	}
}

// AutoResolveOutcome runs the auto-resolve pass for a single outcome on
// demand, the same logic Tick applies to every active outcome each
// interval — exposed for the POST /outcomes/:id/auto-resolve endpoint so a
// caller can force a sweep without waiting for the next tick.
func (sv *Supervisor) AutoResolveOutcome(ctx context.Context, outcomeID string) error {
	var oc *models.Outcome
	err := sv.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		var err error
		oc, err = store.GetOutcome(ctx, q, outcomeID)
		return err
	})
	if err != nil {
		return err
	}
	return sv.autoResolveEscalations(ctx, oc)
}

// autoResolveEscalations implements §4.6's opt-in auto-resolve: once a
// pending escalation on an auto_resolve outcome has sat unanswered past
// AutoResolveAge, pick the option with the highest declared confidence and
// answer it automatically.
func (sv *Supervisor) autoResolveEscalations(ctx context.Context, oc *models.Outcome) error {
	if !oc.AutoResolve {
		return nil
	}
	var pending []*models.Escalation
	err := sv.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		var err error
		pending, err = store.ListEscalationsByOutcomeAndStatus(ctx, q, oc.ID, models.EscalationStatusPending)
		return err
	})
	if err != nil {
		return err
	}

	now := sv.clock.NowMillis()
	cutoff := now - sv.cfg.AutoResolveAge.Milliseconds()
	for _, e := range pending {
		if e.CreatedAt > cutoff {
			continue
		}
		opt := highestConfidenceOption(e.Question.Options)
		if opt == nil {
			continue
		}
		e.Status = models.EscalationStatusAnswered
		e.Answer = &models.EscalationAnswer{
			SelectedOption: opt.ID,
			AdditionalContext: fmt.Sprintf("auto-resolved after %s unanswered: picked %q (confidence %.2f)",
				sv.cfg.AutoResolveAge, opt.Label, opt.Confidence),
			AnsweredAt:   now,
			AutoResolved: true,
		}
		e.UpdatedAt = now
		if err := sv.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
			return store.UpdateEscalation(ctx, q, e)
		}); err != nil {
			return err
		}
		sv.logger.Info("escalation auto-resolved", "escalation_id", e.ID, "outcome_id", oc.ID,
			"option", opt.ID, "confidence", opt.Confidence)

		if sv.publisher != nil {
			sv.publisher.PublishEscalationAnswered(oc.ID, events.EscalationAnsweredPayload{
				EscalationID:   e.ID,
				OutcomeID:      oc.ID,
				SelectedOption: opt.ID,
				AutoResolved:   true,
				Timestamp:      now,
			})
		}
	}
	return nil
}

func highestConfidenceOption(opts []models.EscalationOption) *models.EscalationOption {
	if len(opts) == 0 {
		return nil
	}
	best := opts[0]
	for _, o := range opts[1:] {
		if o.Confidence > best.Confidence {
			best = o
		}
	}
	return &best
}
