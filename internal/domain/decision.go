package domain

import "time"

// Action is the synchronous filter verdict.
type Action string

const (
	ActionForward Action = "forward"
	ActionDrop    Action = "drop"
)

// DecisionEvent is the inbound per-message event submitted by an edge worker.
type DecisionEvent struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	Subject    string    `json:"subject"`
	Timestamp  time.Time `json:"timestamp"`
	WorkerName string    `json:"workerName,omitempty"`
}

// FilterDecision is returned synchronously to the worker.
type FilterDecision struct {
	Action          Action       `json:"action"`
	ForwardTo       string       `json:"forwardTo,omitempty"`
	Reason          string       `json:"reason"`
	MatchedCategory RuleCategory `json:"matchedCategory,omitempty"`
	MatchedRule     *FilterRule  `json:"matchedRule,omitempty"`
}

// ShouldTrack reports whether the dynamic detector should see this outcome.
// Only default-forward results (no matched category) are tracked.
func (d FilterDecision) ShouldTrack() bool {
	return d.MatchedCategory == ""
}

// LogCategory classifies rows in the filter log.
type LogCategory string

const (
	LogEmailForward LogCategory = "email_forward"
	LogEmailDrop    LogCategory = "email_drop"
	LogAdminAction  LogCategory = "admin_action"
	LogSystem       LogCategory = "system"
)

// FilterLog is one structured log row written by the async log processor.
type FilterLog struct {
	ID         string      `json:"id"`
	Category   LogCategory `json:"category"`
	WorkerName string      `json:"worker_name"`
	Message    string      `json:"message"`
	Detail     string      `json:"detail,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}
