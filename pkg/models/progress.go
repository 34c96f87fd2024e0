package models

// ProgressEntry is an append-only record of one Iteration's output
// (spec.md §3). Compaction never deletes rows; it only flips Compacted. The
// retention sweep (store.DeleteProgressEntriesOlderThan) hard-deletes the
// entries of soft-deleted outcomes once they pass their retention TTL.
type ProgressEntry struct {
	ID            int64   `json:"id"`
	OutcomeID     string  `json:"outcome_id"`
	WorkerID      string  `json:"worker_id"`
	Iteration     int     `json:"iteration"`
	TaskID        string  `json:"task_id"`
	Content       string  `json:"content"`
	FullOutput    string  `json:"full_output"`
	Compacted     bool    `json:"compacted"`
	CompactedInto *int64  `json:"compacted_into,omitempty"`
	CreatedAt     int64   `json:"created_at"`
}

const DefaultCompactionThreshold = 50
