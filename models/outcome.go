package models

import "time"

// Outcome statuses written to the executed journal. Preflight blocks are
// business outcomes, not errors, and land here rather than in the error
// journal.
const (
	OutcomeOK      = "ok"
	OutcomeBlocked = "blocked"
)

// OutcomeRecord is one line of the executed journal.
type OutcomeRecord struct {
	Timestamp time.Time   `json:"_ts"`
	IntentID  string      `json:"intent_id"`
	Kind      string      `json:"type"`
	Mint      string      `json:"mint"`
	Mode      string      `json:"mode"`
	Side      string      `json:"side"`
	Status    string      `json:"status"`
	Reason    string      `json:"reason,omitempty"`
	DryRun    bool        `json:"dry_run,omitempty"`
	CtxKeys   []string    `json:"ctx_keys,omitempty"`
	Executor  string      `json:"executor,omitempty"`
	Result    interface{} `json:"result,omitempty"`
	LatencyMS int64       `json:"latency_ms"`
	Notes     string      `json:"notes,omitempty"`
}

// ErrorRecord is one line of the error journal. Error and Line are
// truncated by the consumer before the record is written.
type ErrorRecord struct {
	Timestamp time.Time `json:"_ts"`
	IntentID  string    `json:"intent_id,omitempty"`
	Error     string    `json:"error"`
	Line      string    `json:"line"`
}
