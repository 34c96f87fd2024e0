// Package jobqueue implements the single-flight, persisted background
// queue of spec.md §4.8: enqueue rejects a duplicate (outcome, job_type)
// pair, and a poll loop claims the oldest pending job and runs its
// registered handler to completion.
package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/digitaltwin/dtwind/pkg/idgen"
	"github.com/digitaltwin/dtwind/pkg/models"
	"github.com/digitaltwin/dtwind/pkg/store"
)

// Handler runs one Job to completion and returns its JSON-encodable
// result. Handlers take the Queue's *store.Store directly (rather than a
// Queryer) so they can open their own transactions — mirroring
// pkg/homr.Observer and pkg/iteration.Driver, which do the same for the
// same reason: a handler's work may span several independent writes.
type Handler func(ctx context.Context, s *store.Store, job *models.Job) ([]byte, error)

// Config tunes the Queue per spec.md §4.8/§9's defaults.
type Config struct {
	PollInterval time.Duration
}

// DefaultConfig returns the spec.md default tuning values.
func DefaultConfig() Config {
	return Config{PollInterval: 2 * time.Second}
}

// Queue is the in-process job queue.
type Queue struct {
	store    *store.Store
	ids      *idgen.Generator
	clock    idgen.Clock
	handlers map[models.JobType]Handler
	cfg      Config
	logger   *slog.Logger
}

// New constructs a Queue with no handlers registered.
func New(s *store.Store, ids *idgen.Generator, clock idgen.Clock, cfg Config, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		store: s, ids: ids, clock: clock,
		handlers: make(map[models.JobType]Handler),
		cfg:      cfg, logger: logger,
	}
}

// RegisterHandler associates jobType with h. Call before Run.
func (q *Queue) RegisterHandler(jobType models.JobType, h Handler) {
	q.handlers[jobType] = h
}

// Enqueue inserts a pending Job, rejecting with models.ErrJobAlreadyQueued
// (wrapped KindConflict) if one is already pending or running for the same
// (outcomeID, jobType) — spec.md §4.8's single-flight invariant.
func (q *Queue) Enqueue(ctx context.Context, jobType models.JobType, outcomeID *string, payload []byte) (*models.Job, error) {
	var job *models.Job
	err := q.store.Transaction(ctx, func(ctx context.Context, qr store.Queryer) error {
		existing, err := store.FindActiveJob(ctx, qr, outcomeID, jobType)
		if err != nil {
			return err
		}
		if existing != nil {
			return models.Conflict("job", existing.ID, models.ErrJobAlreadyQueued)
		}
		job = &models.Job{
			ID:        q.ids.New(idgen.PrefixJob),
			OutcomeID: outcomeID,
			JobType:   jobType,
			Status:    models.JobStatusPending,
			Payload:   payload,
			CreatedAt: q.clock.NowMillis(),
		}
		return store.InsertJob(ctx, qr, job)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Run polls every cfg.PollInterval until ctx is cancelled — grounded on
// pkg/queue/orphan.go's ticker loop shape.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ran, err := q.Tick(ctx)
			if err != nil {
				q.logger.Error("job queue tick failed", "error", err)
			}
			_ = ran
		}
	}
}

// Tick claims the oldest pending job (if any) and runs it to completion,
// reporting whether a job was processed this tick.
func (q *Queue) Tick(ctx context.Context) (bool, error) {
	var job *models.Job
	err := q.store.Transaction(ctx, func(ctx context.Context, qr store.Queryer) error {
		var err error
		job, err = store.ClaimOldestPendingJob(ctx, qr, q.clock.NowMillis())
		return err
	})
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	handler, ok := q.handlers[job.JobType]
	if !ok {
		q.finish(ctx, job, nil, fmt.Errorf("no handler registered for job type %q", job.JobType))
		return true, nil
	}

	result, runErr := handler(ctx, q.store, job)
	q.finish(ctx, job, result, runErr)
	return true, nil
}

func (q *Queue) finish(ctx context.Context, job *models.Job, result []byte, runErr error) {
	now := q.clock.NowMillis()
	job.CompletedAt = &now
	if runErr != nil {
		job.Status = models.JobStatusFailed
		job.Error = runErr.Error()
		q.logger.Error("job failed", "job_id", job.ID, "job_type", job.JobType, "error", runErr)
	} else {
		job.Status = models.JobStatusCompleted
		job.Result = result
	}
	if err := q.store.Transaction(ctx, func(ctx context.Context, qr store.Queryer) error {
		return store.UpdateJob(ctx, qr, job)
	}); err != nil {
		q.logger.Error("failed to persist job completion", "job_id", job.ID, "error", err)
	}
}

// RetroAnalyze clusters every escalation raised for a job's outcome by
// trigger type and question-text similarity, and drafts one improvement
// proposal per cluster — spec.md §4.8's retro_analyze handler.
func RetroAnalyze(ctx context.Context, s *store.Store, job *models.Job) ([]byte, error) {
	if job.OutcomeID == nil {
		return nil, models.Invalid("job", job.ID, fmt.Errorf("retro_analyze requires an outcome_id"))
	}

	var escalations []*models.Escalation
	err := s.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		var err error
		escalations, err = store.ListEscalationsByOutcomeAndStatus(ctx, q, *job.OutcomeID, "")
		return err
	})
	if err != nil {
		return nil, err
	}

	clusters := clusterEscalations(escalations)
	proposals := make([]models.ImprovementProposal, 0, len(clusters))
	for i, c := range clusters {
		proposals = append(proposals, models.ImprovementProposal{
			ID:          fmt.Sprintf("proposal_%s_%d", *job.OutcomeID, i),
			Title:       fmt.Sprintf("Address recurring %s (%d occurrences)", c.TriggerType, len(c.EscalationIDs)),
			Description: c.Summary,
			ClusterRef:  i,
		})
	}

	return json.Marshal(models.RetroAnalyzeResult{Clusters: clusters, Proposals: proposals})
}

// clusterEscalations groups by trigger.type, then greedily splits each
// group by question-text similarity: an escalation joins the first
// existing cluster in its trigger group whose representative text is at
// least similarityThreshold similar to it, else starts a new cluster.
const similarityThreshold = 0.5

func clusterEscalations(escalations []*models.Escalation) []models.EscalationCluster {
	type cluster struct {
		triggerType models.TriggerType
		repTokens   map[string]bool
		ids         []string
		repText     string
	}
	var clusters []*cluster

	for _, e := range escalations {
		tokens := tokenSet(e.Question.Text)
		var placed *cluster
		for _, c := range clusters {
			if c.triggerType != e.Trigger.Type {
				continue
			}
			if jaccard(c.repTokens, tokens) >= similarityThreshold {
				placed = c
				break
			}
		}
		if placed == nil {
			placed = &cluster{triggerType: e.Trigger.Type, repTokens: tokens, repText: e.Question.Text}
			clusters = append(clusters, placed)
		}
		placed.ids = append(placed.ids, e.ID)
	}

	out := make([]models.EscalationCluster, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, models.EscalationCluster{
			TriggerType:   c.triggerType,
			EscalationIDs: c.ids,
			Summary:       c.repText,
		})
	}
	return out
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	var word []rune
	flush := func() {
		if len(word) > 0 {
			out[string(word)] = true
			word = word[:0]
		}
	}
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			word = append(word, r)
		} else {
			flush()
		}
	}
	flush()
	return out
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// ProposalGenerateRequest is the payload a proposal_generate job expects
// (spec.md §4.8: "consumes those proposals and creates child
// outcomes+tasks on user confirmation").
type ProposalGenerateRequest struct {
	ParentOutcomeID string                     `json:"parent_outcome_id"`
	Proposal        models.ImprovementProposal `json:"proposal"`
}

// ProposalGenerateResult is the JSON result of a proposal_generate job.
type ProposalGenerateResult struct {
	ChildOutcomeID string `json:"child_outcome_id"`
}

// ProposalGenerate creates a child outcome (and its first capability task)
// from a confirmed improvement proposal. Full task decomposition is the
// Dispatcher's concern (§4.9); this handler only seeds the outcome so the
// Dispatcher/Worker Manager can take it from there.
func ProposalGenerate(ids *idgen.Generator, clock idgen.Clock) Handler {
	return func(ctx context.Context, s *store.Store, job *models.Job) ([]byte, error) {
		var req ProposalGenerateRequest
		if err := json.Unmarshal(job.Payload, &req); err != nil {
			return nil, models.Invalid("job", job.ID, fmt.Errorf("decoding proposal_generate payload: %w", err))
		}

		var childID string
		err := s.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
			parent, err := store.GetOutcome(ctx, q, req.ParentOutcomeID)
			if err != nil {
				return err
			}

			now := clock.NowMillis()
			childID = ids.New(idgen.PrefixOutcome)
			parentID := req.ParentOutcomeID
			child := &models.Outcome{
				ID:              childID,
				Name:            req.Proposal.Title,
				Brief:           req.Proposal.Description,
				Intent:          models.Intent{Summary: req.Proposal.Description},
				Status:          models.OutcomeStatusActive,
				CapabilityReady: models.CapabilityInProgress,
				ParentID:        &parentID,
				Depth:           parent.Depth + 1,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := store.InsertOutcome(ctx, q, child); err != nil {
				return err
			}

			task := &models.Task{
				ID:          ids.New(idgen.PrefixTask),
				OutcomeID:   childID,
				Title:       "Investigate: " + req.Proposal.Title,
				Description: req.Proposal.Description,
				Phase:       models.TaskPhaseCapability,
				Status:      models.TaskStatusPending,
				MaxAttempts: 3,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			return store.InsertTask(ctx, q, task)
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(ProposalGenerateResult{ChildOutcomeID: childID})
	}
}
