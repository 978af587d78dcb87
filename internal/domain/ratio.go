package domain

import "time"

// RatioHealth is the ratio-monitor tri-state.
type RatioHealth string

const (
	RatioHealthy RatioHealth = "HEALTHY"
	RatioWarn    RatioHealth = "WARN"
	RatioAlerted RatioHealth = "ALERT"
)

// RatioMonitor compares the counters of two filter rules over a window with
// stepped thresholds.
type RatioMonitor struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Tag              string    `json:"tag,omitempty"`
	FirstRuleID      string    `json:"first_rule_id"`
	SecondRuleID     string    `json:"second_rule_id"`
	Steps            []int64   `json:"steps"` // ordered count thresholds
	ThresholdPercent float64   `json:"threshold_percent"`
	TimeWindow       int       `json:"time_window"` // minutes
	WorkerScope      string    `json:"worker_scope"`
	Enabled          bool      `json:"enabled"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// RatioState is the current evaluation of a ratio monitor.
type RatioState struct {
	MonitorID    string      `json:"monitor_id"`
	State        RatioHealth `json:"state"`
	FirstCount   int64       `json:"first_count"`
	SecondCount  int64       `json:"second_count"`
	CurrentRatio float64     `json:"current_ratio"`
	StepsData    string      `json:"steps_data,omitempty"` // JSON per-step snapshot
	UpdatedAt    time.Time   `json:"updated_at"`
}

// RatioAlert records a ratio-monitor state transition.
type RatioAlert struct {
	ID            string      `json:"id"`
	MonitorID     string      `json:"monitor_id"`
	PreviousState RatioHealth `json:"previous_state"`
	CurrentState  RatioHealth `json:"current_state"`
	FirstCount    int64       `json:"first_count"`
	SecondCount   int64       `json:"second_count"`
	CurrentRatio  float64     `json:"current_ratio"`
	Message       string      `json:"message"`
	CreatedAt     time.Time   `json:"created_at"`
}
