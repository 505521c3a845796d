package domain

// Event is one entry of the evaluation journal.
type Event struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts" format:"date-time"`
	Type     string `json:"type"`
	RunID    string `json:"run_id"`
	SystemID string `json:"system_id,omitempty"`
	Payload  string `json:"payload_json"`
}

// RuleFrequency tells how often a rule fired over the journaled runs.
type RuleFrequency struct {
	RuleID      string `json:"rule_id"`
	Runs        int    `json:"runs"`
	MaxSeverity int    `json:"max_severity"`
	LastRunID   string `json:"last_run_id"`
}
