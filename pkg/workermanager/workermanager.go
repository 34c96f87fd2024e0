// Package workermanager owns the lifecycle of Worker goroutines: starting,
// pausing, resuming, and feeding interventions into a running Worker's
// iteration loop (spec.md §4.3). It holds the single in-memory registry of
// worker control blocks that spec.md §9 requires stay behind one mutex and
// never leak outside this package's API.
package workermanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/digitaltwin/dtwind/pkg/idgen"
	"github.com/digitaltwin/dtwind/pkg/models"
	"github.com/digitaltwin/dtwind/pkg/store"
)

// Runner executes exactly one iteration of the iteration driver for a
// worker (spec.md §4.4) and reports whether the worker is finished —
// Manager is deliberately decoupled from the iteration driver's internals
// so pkg/iteration can depend on pkg/workermanager's control-block API
// without an import cycle.
type Runner interface {
	RunOnce(ctx context.Context, workerID string) (finished bool, err error)
}

// StartOptions configures StartWorker.
type StartOptions struct {
	Parallel bool
}

type controlBlock struct {
	mu            sync.Mutex
	paused        bool
	terminated    bool
	interventions []string
	resumeCh      chan struct{}
	done          chan struct{}
}

func newControlBlock() *controlBlock {
	return &controlBlock{
		resumeCh: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (c *controlBlock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

func (c *controlBlock) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	select {
	case c.resumeCh <- struct{}{}:
	default:
	}
}

func (c *controlBlock) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *controlBlock) Terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminated = true
	select {
	case c.resumeCh <- struct{}{}:
	default:
	}
}

func (c *controlBlock) Terminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}

func (c *controlBlock) PushIntervention(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interventions = append(c.interventions, msg)
}

func (c *controlBlock) DrainInterventions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.interventions) == 0 {
		return nil
	}
	drained := c.interventions
	c.interventions = nil
	return drained
}

func (c *controlBlock) alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Manager is the Worker Manager component of spec.md §4.3.
type Manager struct {
	mu     sync.Mutex
	blocks map[string]*controlBlock

	store  *store.Store
	ids    *idgen.Generator
	clock  idgen.Clock
	runner Runner
	logger *slog.Logger
}

// New constructs a Manager. runner supplies the per-iteration work; it is
// typically a *iteration.Driver wired in at the composition root.
func New(s *store.Store, ids *idgen.Generator, clock idgen.Clock, runner Runner, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		blocks: make(map[string]*controlBlock),
		store:  s,
		ids:    ids,
		clock:  clock,
		runner: runner,
		logger: logger,
	}
}

// SetRunner wires the Runner in after construction — needed because the
// Runner (typically *iteration.Driver) itself depends on the Manager as its
// InterventionSource, so the two can't both be supplied to each other's
// constructor. Call before any worker is started.
func (m *Manager) SetRunner(runner Runner) {
	m.runner = runner
}

// StartWorker creates a new idle Worker row for outcomeID and forks a
// goroutine that drives its iteration loop. It returns immediately; the
// worker transitions to running asynchronously. If a worker is already
// running for the outcome and opts.Parallel is false, returns
// models.ErrParallelNotAllowed.
func (m *Manager) StartWorker(ctx context.Context, outcomeID, name string, opts StartOptions) (string, error) {
	if !opts.Parallel {
		running, err := store.ListWorkersByOutcomeAndStatus(ctx, m.store.DB(), outcomeID, models.WorkerStatusRunning)
		if err != nil {
			return "", err
		}
		if len(running) > 0 {
			return "", models.Conflict("worker", outcomeID, models.ErrParallelNotAllowed)
		}
	}

	now := m.clock.NowMillis()
	w := &models.Worker{
		ID:            m.ids.New(idgen.PrefixWorker),
		OutcomeID:     outcomeID,
		Name:          name,
		Status:        models.WorkerStatusIdle,
		LastHeartbeat: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		return store.InsertWorker(ctx, q, w)
	}); err != nil {
		return "", err
	}

	cb := newControlBlock()
	m.mu.Lock()
	m.blocks[w.ID] = cb
	m.mu.Unlock()

	go m.runLoop(context.WithoutCancel(ctx), w.ID, cb)

	return w.ID, nil
}

// runLoop drives one worker's iteration loop until it finishes, fails, or
// is terminated. Pause/terminate flags are polled only between RunOnce
// calls, matching spec.md §5's suspension-point rule.
func (m *Manager) runLoop(ctx context.Context, workerID string, cb *controlBlock) {
	defer close(cb.done)

	if err := m.setStatus(ctx, workerID, models.WorkerStatusRunning); err != nil {
		m.logger.Error("failed to mark worker running", "worker_id", workerID, "error", err)
		return
	}

	for {
		if cb.Terminated() {
			return
		}
		if cb.Paused() {
			if err := m.setStatus(ctx, workerID, models.WorkerStatusPaused); err != nil {
				m.logger.Error("failed to persist paused status", "worker_id", workerID, "error", err)
			}
			<-cb.resumeCh
			if cb.Terminated() {
				return
			}
			if err := m.setStatus(ctx, workerID, models.WorkerStatusRunning); err != nil {
				m.logger.Error("failed to resume worker status", "worker_id", workerID, "error", err)
			}
			continue
		}

		finished, err := m.runner.RunOnce(ctx, workerID)
		if err != nil {
			m.logger.Error("iteration failed", "worker_id", workerID, "error", err)
			_ = m.setStatus(ctx, workerID, models.WorkerStatusFailed)
			return
		}
		if finished {
			_ = m.setStatus(ctx, workerID, models.WorkerStatusCompleted)
			return
		}
	}
}

func (m *Manager) setStatus(ctx context.Context, workerID string, status models.WorkerStatus) error {
	return m.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		w, err := store.GetWorker(ctx, q, workerID)
		if err != nil {
			return err
		}
		w.Status = status
		w.UpdatedAt = m.clock.NowMillis()
		return store.UpdateWorker(ctx, q, w)
	})
}

// PauseWorker requests a worker pause. The pause flag is polled between
// iterations; status=paused is only persisted once the current iteration
// (if any) completes.
func (m *Manager) PauseWorker(workerID string) error {
	cb, ok := m.get(workerID)
	if !ok {
		return models.NotFound("worker", workerID, fmt.Errorf("no control block"))
	}
	cb.Pause()
	return nil
}

// ResumeWorker clears the pause flag. If the worker's goroutine is still
// alive it resumes in place; if it already exited (e.g. after a process
// restart lost the goroutine but the Worker row persisted paused) a fresh
// loop is spawned attached to the same Worker row.
func (m *Manager) ResumeWorker(ctx context.Context, workerID string) error {
	cb, ok := m.get(workerID)
	if ok && cb.alive() {
		cb.Resume()
		return nil
	}

	w, err := store.GetWorker(ctx, m.store.DB(), workerID)
	if err != nil {
		return err
	}

	newCB := newControlBlock()
	m.mu.Lock()
	m.blocks[workerID] = newCB
	m.mu.Unlock()

	go m.runLoop(context.WithoutCancel(ctx), w.ID, newCB)
	return nil
}

// SendIntervention appends a steering message to a worker's inbound queue;
// the iteration driver drains it at the start of the next iteration.
func (m *Manager) SendIntervention(workerID, message string) error {
	cb, ok := m.get(workerID)
	if !ok {
		return models.NotFound("worker", workerID, fmt.Errorf("no control block"))
	}
	cb.PushIntervention(message)
	return nil
}

// DrainInterventions returns and clears the pending interventions for a
// worker. Called by the iteration driver while building its next prompt.
func (m *Manager) DrainInterventions(workerID string) []string {
	cb, ok := m.get(workerID)
	if !ok {
		return nil
	}
	return cb.DrainInterventions()
}

// Heartbeat updates a worker's last_heartbeat, called once per iteration
// and periodically during a long-running agent invocation (spec.md §4.3).
func (m *Manager) Heartbeat(ctx context.Context, workerID string) error {
	return m.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		w, err := store.GetWorker(ctx, q, workerID)
		if err != nil {
			return err
		}
		w.LastHeartbeat = m.clock.NowMillis()
		w.UpdatedAt = w.LastHeartbeat
		return store.UpdateWorker(ctx, q, w)
	})
}

// TerminateAll signals every tracked worker to stop at its next iteration
// boundary and waits up to the caller's context deadline — the graceful
// shutdown path of spec.md §5 (SHUTDOWN_GRACE).
func (m *Manager) TerminateAll(ctx context.Context) {
	m.mu.Lock()
	blocks := make([]*controlBlock, 0, len(m.blocks))
	for _, cb := range m.blocks {
		blocks = append(blocks, cb)
	}
	m.mu.Unlock()

	for _, cb := range blocks {
		cb.Terminate()
	}
	for _, cb := range blocks {
		select {
		case <-cb.done:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) get(workerID string) (*controlBlock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cb, ok := m.blocks[workerID]
	return cb, ok
}
