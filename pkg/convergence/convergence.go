// Package convergence implements the sliding-window convergence evaluator
// of spec.md §4.7: whether an Outcome's review cycles show its open issue
// count trending down, and whether reaching "achieved" should be
// recommended to the user.
package convergence

import (
	"context"
	"sort"

	"github.com/digitaltwin/dtwind/pkg/models"
	"github.com/digitaltwin/dtwind/pkg/store"
)

// Config tunes the evaluator per spec.md §4.7/§9's defaults.
type Config struct {
	WindowSize            int
	ConvergenceThreshold  int
	ConsecutiveZeroCycles int
}

// DefaultConfig returns the spec.md default tuning values.
func DefaultConfig() Config {
	return Config{
		WindowSize:            3,
		ConvergenceThreshold:  1,
		ConsecutiveZeroCycles: 2,
	}
}

// CycleSummary is one review cycle's outcome: how many issues the review
// raised that remain unresolved.
type CycleSummary struct {
	Cycle      int
	OpenIssues int
}

// Result is the evaluator's verdict for one Outcome.
type Result struct {
	Cycles              []CycleSummary
	IsConverging        bool
	AchievedRecommended bool
}

// Evaluate computes Result for outcomeID: review cycles are derived from
// tasks with from_review=true, grouped by review_cycle — each cycle's
// open_issues is the count of those tasks not yet completed (spec.md §3:
// "tasks created by the reviewer bump cycle counter").
func Evaluate(ctx context.Context, q store.Queryer, outcomeID string, cfg Config) (Result, error) {
	oc, err := store.GetOutcome(ctx, q, outcomeID)
	if err != nil {
		return Result{}, err
	}
	tasks, err := store.ListTasksByOutcome(ctx, q, outcomeID)
	if err != nil {
		return Result{}, err
	}

	cycles := reviewCycles(tasks)
	window := cycles
	if len(window) > cfg.WindowSize {
		window = window[len(window)-cfg.WindowSize:]
	}

	return Result{
		Cycles:              cycles,
		IsConverging:        isConverging(window, cfg),
		AchievedRecommended: achievedRecommended(cycles, tasks, oc, cfg),
	}, nil
}

// reviewCycles buckets from_review tasks by review_cycle and reports each
// cycle's open_issues count, ordered oldest cycle first.
func reviewCycles(tasks []*models.Task) []CycleSummary {
	open := make(map[int]int)
	seen := make(map[int]bool)
	for _, t := range tasks {
		if !t.FromReview {
			continue
		}
		seen[t.ReviewCycle] = true
		if t.Status != models.TaskStatusCompleted {
			open[t.ReviewCycle]++
		}
	}

	nums := make([]int, 0, len(seen))
	for n := range seen {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	out := make([]CycleSummary, 0, len(nums))
	for _, n := range nums {
		out = append(out, CycleSummary{Cycle: n, OpenIssues: open[n]})
	}
	return out
}

// isConverging holds when open_issues is strictly non-increasing across
// the window and the most recent value is at or below the threshold.
func isConverging(window []CycleSummary, cfg Config) bool {
	if len(window) == 0 {
		return false
	}
	for i := 1; i < len(window); i++ {
		if window[i].OpenIssues > window[i-1].OpenIssues {
			return false
		}
	}
	return window[len(window)-1].OpenIssues <= cfg.ConvergenceThreshold
}

// achievedRecommended holds when the last ConsecutiveZeroCycles review
// cycles all landed at open_issues=0 and (for non-ongoing outcomes) every
// task has completed.
func achievedRecommended(cycles []CycleSummary, tasks []*models.Task, oc *models.Outcome, cfg Config) bool {
	if len(cycles) < cfg.ConsecutiveZeroCycles {
		return false
	}
	tail := cycles[len(cycles)-cfg.ConsecutiveZeroCycles:]
	for _, c := range tail {
		if c.OpenIssues != 0 {
			return false
		}
	}

	if oc.IsOngoing {
		return true
	}
	for _, t := range tasks {
		if t.Status != models.TaskStatusCompleted {
			return false
		}
	}
	return true
}
