// Package worker is the async task processor: a bounded FIFO of typed
// envelopes drained by a single background goroutine in batches, keeping the
// synchronous filter path free of storage writes.
package worker

import (
	"time"

	"github.com/yinz628/email-filter-sub001/internal/domain"
	"github.com/yinz628/email-filter-sub001/internal/service/analytics"
)

// TaskType selects the per-type batch processor.
type TaskType string

const (
	TaskStats      TaskType = "stats"
	TaskLog        TaskType = "log"
	TaskWatch      TaskType = "watch"
	TaskDynamic    TaskType = "dynamic"
	TaskCampaign   TaskType = "campaign"
	TaskMonitoring TaskType = "monitoring"
)

// Envelope is one queued unit of deferred work. Attempt counts deliveries so
// critical tasks can be requeued once after a transient failure.
type Envelope struct {
	ID         string
	Type       TaskType
	Data       interface{}
	EnqueuedAt time.Time
	Attempt    int
}

// StatsTask accumulates the counter deltas of one filter decision. From,
// Subject, and WorkerName feed the per-subject counters.
type StatsTask struct {
	RuleID          string
	Processed       int64
	Deleted         int64
	GlobalForwarded int64
	GlobalDeleted   int64
	HitAt           time.Time
	From            string
	Subject         string
	WorkerName      string
}

// LogTask is one filter-log row to persist.
type LogTask struct {
	Category   domain.LogCategory
	WorkerName string
	Message    string
	Detail     string
}

// WatchTask re-matches one message against the watch rules.
type WatchTask struct {
	From       string
	Subject    string
	WorkerName string
	ReceivedAt time.Time
}

// DynamicTask feeds one default-forwarded subject to the dynamic detector.
type DynamicTask struct {
	Subject    string
	WorkerID   string
	ReceivedAt time.Time
}

// CampaignTask attributes one email to the campaign graph.
type CampaignTask = analytics.TrackInput

// MonitoringTask runs one email through the hit processor.
type MonitoringTask = domain.MonitoringEvent
