package models

import "time"

// Run is one batch invocation recorded in the ledger.
type Run struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Model      string     `json:"model,omitempty"`
	Category   string     `json:"category,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Attempted  int        `json:"attempted"`
	Succeeded  int        `json:"succeeded"`
	Skipped    int        `json:"skipped"`
	Failed     int        `json:"failed"`
}

// ItemOutcome is an append-only terminal status of one item within a run.
type ItemOutcome struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	ItemID     int       `json:"item_id"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	RecordedAt time.Time `json:"recorded_at"`
}

type RunTotals struct {
	Attempted int
	Succeeded int
	Skipped   int
	Failed    int
}
