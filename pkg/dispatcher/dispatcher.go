// Package dispatcher implements the intake entry point of spec.md §4.9:
// classify a user utterance into quick/research/deep, first checking it
// against active outcomes for a likely duplicate, then creating the
// Outcome and its initial task set transactionally for research/deep.
package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/digitaltwin/dtwind/pkg/agentclient"
	"github.com/digitaltwin/dtwind/pkg/idgen"
	"github.com/digitaltwin/dtwind/pkg/models"
	"github.com/digitaltwin/dtwind/pkg/store"
)

// ResultType is the closed set of shapes a Dispatch call can return,
// matching spec.md §6's `POST /dispatch` response `type` field.
type ResultType string

const (
	ResultQuick         ResultType = "quick"
	ResultResearch      ResultType = "research"
	ResultDeep          ResultType = "deep"
	ResultClarification ResultType = "clarification"
	ResultMatchFound    ResultType = "match_found"
)

// MatchConfidence buckets a similarity score for the UI.
type MatchConfidence string

const (
	MatchHigh   MatchConfidence = "high"
	MatchMedium MatchConfidence = "medium"
)

// MatchedOutcome is one candidate duplicate surfaced by the match phase.
type MatchedOutcome struct {
	OutcomeID  string
	Name       string
	Score      float64
	Confidence MatchConfidence
}

// Request mirrors spec.md §6's `POST /dispatch` body.
type Request struct {
	Input        string
	ModeHint     string
	SkipMatching bool
	ParentID     *string
}

// Result mirrors spec.md §6's `POST /dispatch` response.
type Result struct {
	Type            ResultType
	Response        string
	OutcomeID       string
	MatchedOutcomes []MatchedOutcome
}

// Config tunes the Dispatcher per spec.md §4.9/§9's defaults.
type Config struct {
	MatchTopK           int
	MatchHighThreshold  float64
	MatchMedThreshold   float64
	QuickWordThreshold  int
}

// DefaultConfig returns the spec.md default tuning values.
func DefaultConfig() Config {
	return Config{
		MatchTopK:          3,
		MatchHighThreshold: 0.6,
		MatchMedThreshold:  0.3,
		QuickWordThreshold: 12,
	}
}

// Dispatcher is the component named by spec.md §4.9.
type Dispatcher struct {
	store  *store.Store
	ids    *idgen.Generator
	clock  idgen.Clock
	agent  *agentclient.Client
	cfg    Config
}

// New constructs a Dispatcher. agent may be nil — quick-mode requests then
// return a canned quick response instead of invoking a coding agent
// synchronously.
func New(s *store.Store, ids *idgen.Generator, clock idgen.Clock, agent *agentclient.Client, cfg Config) *Dispatcher {
	return &Dispatcher{store: s, ids: ids, clock: clock, agent: agent, cfg: cfg}
}

// Dispatch runs the three-phase pipeline of spec.md §4.9: match, classify,
// create. A match above MatchHighThreshold or MatchMedThreshold short-
// circuits straight to ResultMatchFound so the UI can offer the existing
// outcome instead of creating a near-duplicate.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	input := strings.TrimSpace(req.Input)
	if input == "" {
		return Result{Type: ResultClarification, Response: "What would you like me to work on?"}, nil
	}

	if !req.SkipMatching {
		matches, err := d.matchOutcomes(ctx, input)
		if err != nil {
			return Result{}, err
		}
		if len(matches) > 0 {
			return Result{Type: ResultMatchFound, MatchedOutcomes: matches}, nil
		}
	}

	mode, clarify := classifyMode(input, req.ModeHint, d.cfg)
	if clarify != "" {
		return Result{Type: ResultClarification, Response: clarify}, nil
	}

	if mode == ResultQuick {
		return d.respondQuick(ctx, input)
	}
	return d.createOutcome(ctx, input, mode, req.ParentID)
}

// matchOutcomes scores input against every active outcome's name/brief/
// intent summary using the same Jaccard token-set similarity as
// pkg/jobqueue's escalation clustering, returning up to cfg.MatchTopK
// matches at or above MatchMedThreshold, highest score first.
func (d *Dispatcher) matchOutcomes(ctx context.Context, input string) ([]MatchedOutcome, error) {
	var outcomes []*models.Outcome
	err := d.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		var err error
		outcomes, err = store.ListOutcomes(ctx, q, store.OutcomeFilter{Status: models.OutcomeStatusActive})
		return err
	})
	if err != nil {
		return nil, err
	}

	inputTokens := tokenSet(input)
	var matches []MatchedOutcome
	for _, oc := range outcomes {
		text := strings.Join([]string{oc.Name, oc.Brief, oc.Intent.Summary}, " ")
		score := jaccard(inputTokens, tokenSet(text))
		if score < d.cfg.MatchMedThreshold {
			continue
		}
		confidence := MatchMedium
		if score >= d.cfg.MatchHighThreshold {
			confidence = MatchHigh
		}
		matches = append(matches, MatchedOutcome{
			OutcomeID: oc.ID, Name: oc.Name, Score: score, Confidence: confidence,
		})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > d.cfg.MatchTopK {
		matches = matches[:d.cfg.MatchTopK]
	}
	return matches, nil
}

// classifyMode resolves the explicit hint if present and valid, else
// falls back to a deterministic heuristic: a short, question-shaped
// utterance is quick; anything else is research unless the caller
// explicitly asked for deep. The heuristic never produces "deep" on its
// own — deep mode, with its full intent/approach plan, requires an
// explicit mode_hint since nothing about utterance shape alone signals
// the commitment a deep outcome represents.
func classifyMode(input, hint string, cfg Config) (mode ResultType, clarify string) {
	switch ResultType(hint) {
	case ResultQuick, ResultResearch, ResultDeep:
		return ResultType(hint), ""
	case "":
		// fall through to heuristic
	default:
		return "", fmt.Sprintf("unrecognized mode_hint %q", hint)
	}

	words := len(strings.Fields(input))
	if words <= cfg.QuickWordThreshold && strings.HasSuffix(strings.TrimSpace(input), "?") {
		return ResultQuick, ""
	}
	return ResultResearch, ""
}

// respondQuick answers input synchronously via the configured agent
// without creating an Outcome, per spec.md §4.9's "quick = synchronous
// short response, no outcome created".
func (d *Dispatcher) respondQuick(ctx context.Context, input string) (Result, error) {
	if d.agent == nil {
		return Result{Type: ResultQuick, Response: "No agent configured to answer quick questions."}, nil
	}
	res, err := d.agent.Invoke(ctx, agentclient.Invocation{Prompt: input})
	if err != nil {
		return Result{}, err
	}
	return Result{Type: ResultQuick, Response: res.Summary}, nil
}

// createOutcome inserts the Outcome and its initial task set in one
// transaction — spec.md §4.9 step 3. research mode seeds a single
// capability-phase investigation task; deep mode additionally seeds a
// first execution-phase task that the scheduler will not release until
// capability_ready advances to complete.
func (d *Dispatcher) createOutcome(ctx context.Context, input string, mode ResultType, parentID *string) (Result, error) {
	now := d.clock.NowMillis()
	outcomeID := d.ids.New(idgen.PrefixOutcome)

	depth := 0
	err := d.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		if parentID != nil {
			parent, err := store.GetOutcome(ctx, q, *parentID)
			if err != nil {
				return err
			}
			depth = parent.Depth + 1
		}

		oc := &models.Outcome{
			ID:              outcomeID,
			Name:            summarize(input),
			Brief:           input,
			Intent:          models.Intent{Summary: input},
			Status:          models.OutcomeStatusActive,
			CapabilityReady: models.CapabilityInProgress,
			ParentID:        parentID,
			Depth:           depth,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := store.InsertOutcome(ctx, q, oc); err != nil {
			return err
		}

		capabilityTask := &models.Task{
			ID:          d.ids.New(idgen.PrefixTask),
			OutcomeID:   outcomeID,
			Title:       "Investigate: " + summarize(input),
			Description: input,
			Phase:       models.TaskPhaseCapability,
			Status:      models.TaskStatusPending,
			MaxAttempts: models.DefaultMaxAttempts,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := store.InsertTask(ctx, q, capabilityTask); err != nil {
			return err
		}

		if mode != ResultDeep {
			return nil
		}
		executionTask := &models.Task{
			ID:          d.ids.New(idgen.PrefixTask),
			OutcomeID:   outcomeID,
			Title:       "Implement: " + summarize(input),
			Description: input,
			Phase:       models.TaskPhaseExecution,
			Status:      models.TaskStatusPending,
			DependsOn:   []string{capabilityTask.ID},
			MaxAttempts: models.DefaultMaxAttempts,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return store.InsertTask(ctx, q, executionTask)
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Type: mode, OutcomeID: outcomeID}, nil
}

// summarize truncates input to a short outcome name; full text stays in
// Brief/Intent.Summary.
func summarize(input string) string {
	const maxLen = 80
	input = strings.TrimSpace(input)
	if len(input) <= maxLen {
		return input
	}
	return strings.TrimSpace(input[:maxLen]) + "…"
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
