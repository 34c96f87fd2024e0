// Package homr implements the HOMЯ Observer (spec.md §4.5): a pure
// extraction over each iteration's structured agent output, plus the side
// effects it drives into an Outcome's ContextStore and Escalations. HOMЯ
// does not call an LLM of its own — the agent process is expected to
// report its own discoveries/concerns/escalation intent as optional keys
// in the structured result header (see pkg/agentclient); HOMЯ's job is to
// read those keys, validate them against the closed trigger-type set, and
// persist the side effects transactionally.
package homr

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/digitaltwin/dtwind/pkg/events"
	"github.com/digitaltwin/dtwind/pkg/idgen"
	"github.com/digitaltwin/dtwind/pkg/models"
	"github.com/digitaltwin/dtwind/pkg/notify"
	"github.com/digitaltwin/dtwind/pkg/store"
)

// Input is what the Iteration Driver passes to HOMЯ after each agent
// invocation (spec.md §4.5: "(outcomeId, taskId, rawOutput, currentContext)").
// currentContext is not passed. Observe does not read the ContextStore or
// open escalations; it reads only the outcome's tasks, to compute a raised
// escalation's affected tasks in the same transaction it writes to.
type Input struct {
	OutcomeID  string
	TaskID     string
	WorkerID   string
	RawOutput  string
	Structured map[string]any
}

// Verdict is the deterministic extraction from Input — zero I/O, safe to
// unit-test without a store.
type Verdict struct {
	Discoveries []models.Discovery
	Concerns    []string
	NextSteps   []string
	Escalation  *escalationDraft
	Injection   *injectionDraft
}

type escalationDraft struct {
	Trigger  models.EscalationTrigger
	Question models.EscalationQuestion
}

type injectionDraft struct {
	TaskID  string
	Content string
}

// Observer extracts and persists HOMЯ verdicts.
type Observer struct {
	store     *store.Store
	ids       *idgen.Generator
	clock     idgen.Clock
	publisher *events.Publisher
	notifier  *notify.Service
	logger    *slog.Logger
}

// SetNotifier wires an optional Slack notifier in, the same post-
// construction wiring style pkg/api/server.go uses for its Set* methods —
// notification delivery is an add-on, not something every caller (tests
// included) needs to thread through New.
func (o *Observer) SetNotifier(n *notify.Service) {
	o.notifier = n
}

// New constructs an Observer. publisher may be nil for callers that don't
// need raised escalations to reach the live WebSocket stream.
func New(s *store.Store, ids *idgen.Generator, clock idgen.Clock, publisher *events.Publisher, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{store: s, ids: ids, clock: clock, publisher: publisher, logger: logger}
}

// Extract is the pure part of HOMЯ: it reads Input.Structured for the
// optional "discoveries", "concerns", "next_steps", "escalation", and
// "injection" keys the agent may have reported, validates each against its
// closed enum (an invalid or malformed entry is dropped, not an error —
// the rest of the output is still useful), and returns the resulting
// Verdict. It performs no I/O.
func Extract(in Input) Verdict {
	var v Verdict

	if raw, ok := in.Structured["discoveries"].([]any); ok {
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			dtype := models.DiscoveryType(stringField(m, "type"))
			if !dtype.IsValid() {
				continue
			}
			content := stringField(m, "content")
			if content == "" {
				continue
			}
			v.Discoveries = append(v.Discoveries, models.Discovery{
				Type:         dtype,
				Content:      content,
				SourceTaskID: in.TaskID,
			})
		}
	}

	v.Concerns = stringSliceField(in.Structured, "concerns")
	v.NextSteps = stringSliceField(in.Structured, "next_steps")

	if raw, ok := in.Structured["escalation"].(map[string]any); ok {
		ttype := models.TriggerType(stringField(raw, "trigger_type"))
		questionText := stringField(raw, "question")
		if ttype.IsValid() && questionText != "" {
			v.Escalation = &escalationDraft{
				Trigger: models.EscalationTrigger{
					Type:     ttype,
					TaskID:   in.TaskID,
					Evidence: stringSliceField(raw, "evidence"),
				},
				Question: models.EscalationQuestion{
					Text:    questionText,
					Context: stringField(raw, "context"),
					Options: parseOptions(raw["options"]),
				},
			}
		}
	}

	if raw, ok := in.Structured["injection"].(map[string]any); ok {
		targetTask := stringField(raw, "task_id")
		content := stringField(raw, "content")
		if targetTask != "" && content != "" {
			v.Injection = &injectionDraft{TaskID: targetTask, Content: content}
		}
	}

	return v
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func stringSliceField(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func parseOptions(raw any) []models.EscalationOption {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]models.EscalationOption, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, models.EscalationOption{
			ID:          stringField(m, "id"),
			Label:       stringField(m, "label"),
			Description: stringField(m, "description"),
			Implications: stringField(m, "implications"),
		})
	}
	return out
}

// Observe extracts a Verdict from in and applies its side effects in one
// transaction: discoveries and the observation row are always written; an
// escalation (if any) is created in the same transaction that computes its
// affected_tasks closure, per spec.md §4.5's ordering note — otherwise a
// second worker could claim a dependent task between observation and
// escalation creation.
func (o *Observer) Observe(ctx context.Context, in Input) (Verdict, error) {
	verdict := Extract(in)
	var raised *models.Escalation

	err := o.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		now := o.clock.NowMillis()

		for i := range verdict.Discoveries {
			d := verdict.Discoveries[i]
			d.ID = o.ids.New(idgen.PrefixDiscovery)
			d.OutcomeID = in.OutcomeID
			d.CreatedAt = now
			if err := store.InsertDiscovery(ctx, q, &d); err != nil {
				return err
			}
		}

		if len(verdict.Concerns) > 0 || len(verdict.NextSteps) > 0 {
			obs := &models.Observation{
				ID:        o.ids.New(idgen.PrefixObservation),
				OutcomeID: in.OutcomeID,
				TaskID:    in.TaskID,
				Concerns:  verdict.Concerns,
				NextSteps: verdict.NextSteps,
				CreatedAt: now,
			}
			if err := store.InsertObservation(ctx, q, obs); err != nil {
				return err
			}
		}

		if verdict.Escalation != nil {
			affected, err := transitiveDependents(ctx, q, in.OutcomeID, in.TaskID)
			if err != nil {
				return fmt.Errorf("computing escalation closure: %w", err)
			}
			esc := &models.Escalation{
				ID:            o.ids.New(idgen.PrefixEscalation),
				OutcomeID:     in.OutcomeID,
				Status:        models.EscalationStatusPending,
				Trigger:       verdict.Escalation.Trigger,
				Question:      verdict.Escalation.Question,
				AffectedTasks: affected,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := store.InsertEscalation(ctx, q, esc); err != nil {
				return err
			}
			o.logger.Info("homr raised escalation",
				"outcome_id", in.OutcomeID, "task_id", in.TaskID,
				"trigger", esc.Trigger.Type, "affected_tasks", len(esc.AffectedTasks))
			raised = esc
		}

		if verdict.Injection != nil {
			inj := &models.ContextInjection{
				ID:         o.ids.New(idgen.PrefixInjection),
				OutcomeID:  in.OutcomeID,
				TaskID:     verdict.Injection.TaskID,
				Content:    verdict.Injection.Content,
				InjectedAt: now,
			}
			if err := store.InsertInjection(ctx, q, inj); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return Verdict{}, err
	}

	if raised != nil && o.publisher != nil {
		o.publisher.PublishEscalationRaised(in.OutcomeID, events.EscalationRaisedPayload{
			EscalationID:  raised.ID,
			OutcomeID:     in.OutcomeID,
			TriggerType:   string(raised.Trigger.Type),
			QuestionText:  raised.Question.Text,
			AffectedTasks: raised.AffectedTasks,
			Timestamp:     raised.CreatedAt,
		})
	}
	if raised != nil && o.notifier != nil {
		o.notifier.EscalationRaised(ctx, in.OutcomeID, raised.ID, raised.Question.Text)
	}
	return verdict, nil
}

// transitiveDependents returns [taskID] plus every task in the outcome
// that depends on taskID, directly or indirectly — spec.md §4.5: "[current
// task] ∪ {downstream tasks that depend on it transitively}".
func transitiveDependents(ctx context.Context, q store.Queryer, outcomeID, taskID string) ([]string, error) {
	tasks, err := store.ListTasksByOutcome(ctx, q, outcomeID)
	if err != nil {
		return nil, err
	}

	dependents := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	seen := map[string]bool{taskID: true}
	queue := []string{taskID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range dependents[cur] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}
