package domain

import "time"

// SignalStatus is the liveness tri-state of a monitored signal.
type SignalStatus string

const (
	SignalActive SignalStatus = "ACTIVE"
	SignalWeak   SignalStatus = "WEAK"
	SignalDead   SignalStatus = "DEAD"
)

// sortRank orders DEAD < WEAK < ACTIVE for listings.
var signalRank = map[SignalStatus]int{SignalDead: 0, SignalWeak: 1, SignalActive: 2}

// Rank returns the list-sort rank of the status (DEAD lowest).
func (s SignalStatus) Rank() int { return signalRank[s] }

// MonitoringRule defines one expected email signal.
type MonitoringRule struct {
	ID                      string    `json:"id"`
	Merchant                string    `json:"merchant"`
	Name                    string    `json:"name"`
	SubjectPattern          string    `json:"subject_pattern"`
	MatchMode               MatchMode `json:"match_mode"`
	ExpectedIntervalMinutes int       `json:"expected_interval_minutes"`
	DeadAfterMinutes        int       `json:"dead_after_minutes"`
	WorkerScope             string    `json:"worker_scope"`
	Enabled                 bool      `json:"enabled"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// SignalState is the one-to-one liveness row for a monitoring rule. Created
// with the rule as {DEAD, nil last-seen, zero counters}.
type SignalState struct {
	RuleID     string       `json:"rule_id"`
	State      SignalStatus `json:"state"`
	LastSeenAt *time.Time   `json:"last_seen_at,omitempty"`
	Count1h    int64        `json:"count_1h"`
	Count12h   int64        `json:"count_12h"`
	Count24h   int64        `json:"count_24h"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// HitLog is the only inbound-email projection the monitoring core persists.
type HitLog struct {
	ID         string    `json:"id"`
	RuleID     string    `json:"rule_id"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	Recipient  string    `json:"recipient"`
	ReceivedAt time.Time `json:"received_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// AlertType classifies signal state-change alerts.
type AlertType string

const (
	AlertSignalRecovered AlertType = "SIGNAL_RECOVERED"
	AlertSignalWeakened  AlertType = "SIGNAL_WEAKENED"
	AlertSignalDead      AlertType = "SIGNAL_DEAD"
)

// Alert records one signal state transition.
type Alert struct {
	ID            string       `json:"id"`
	RuleID        string       `json:"rule_id"`
	AlertType     AlertType    `json:"alert_type"`
	PreviousState SignalStatus `json:"previous_state"`
	CurrentState  SignalStatus `json:"current_state"`
	GapMinutes    int64        `json:"gap_minutes"`
	Count1h       int64        `json:"count_1h"`
	Count12h      int64        `json:"count_12h"`
	Count24h      int64        `json:"count_24h"`
	Message       string       `json:"message"`
	SentAt        *time.Time   `json:"sent_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// MonitoringEvent is the strict inbound shape for the hit processor. Exactly
// these fields may be persisted; anything extra on the wire is discarded.
type MonitoringEvent struct {
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	Recipient  string    `json:"recipient"`
	ReceivedAt time.Time `json:"receivedAt"`
	WorkerName string    `json:"workerName,omitempty"`
}
