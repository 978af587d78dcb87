// Package pipeline is the synchronous decision entry point: evaluate the
// rule set, give the dynamic detector its chance to block a bursty subject in
// the same call, and fan the follow-up work out to the async task queue.
package pipeline

import (
	"context"
	"fmt"

	"github.com/yinz628/email-filter-sub001/internal/domain"
	"github.com/yinz628/email-filter-sub001/internal/dynamic"
	"github.com/yinz628/email-filter-sub001/internal/filter"
	"github.com/yinz628/email-filter-sub001/internal/pkg/logger"
	"github.com/yinz628/email-filter-sub001/internal/worker"
)

// ErrInvalidEvent rejects malformed decision events before any evaluation.
var ErrInvalidEvent = fmt.Errorf("invalid decision event")

// Pipeline wires the filter engine, the dynamic detector, and the task queue.
type Pipeline struct {
	engine   *filter.Engine
	detector *dynamic.Detector
	queue    *worker.Queue
}

// New creates a decision pipeline. detector and queue may be nil in reduced
// deployments; the synchronous verdict works without them.
func New(engine *filter.Engine, detector *dynamic.Detector, queue *worker.Queue) *Pipeline {
	return &Pipeline{engine: engine, detector: detector, queue: queue}
}

func validate(e domain.DecisionEvent) error {
	switch {
	case e.From == "":
		return fmt.Errorf("%w: empty from", ErrInvalidEvent)
	case e.To == "":
		return fmt.Errorf("%w: empty to", ErrInvalidEvent)
	case e.Subject == "":
		return fmt.Errorf("%w: empty subject", ErrInvalidEvent)
	case e.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEvent)
	}
	return nil
}

// Decide returns the synchronous verdict for one message. Default-forwarded
// subjects feed the dynamic detector inline, so a subject that crosses the
// burst threshold is dropped by the decision that triggered the new rule.
// Detector or queue trouble never fails the call; the safe default is to
// forward.
func (p *Pipeline) Decide(ctx context.Context, e domain.DecisionEvent) (domain.FilterDecision, error) {
	if err := validate(e); err != nil {
		return domain.FilterDecision{}, err
	}

	decision := p.engine.Evaluate(e)

	if decision.ShouldTrack() && p.detector != nil {
		rule, err := p.detector.TrackSubject(ctx, e.Subject, e.WorkerName, e.Timestamp)
		if err != nil {
			logger.Warn("dynamic tracking failed", "error", err)
		} else if rule != nil {
			matched := *rule
			decision = domain.FilterDecision{
				Action:          domain.ActionDrop,
				Reason:          fmt.Sprintf("matched %s rule %s", domain.CategoryDynamic, rule.ID),
				MatchedCategory: domain.CategoryDynamic,
				MatchedRule:     &matched,
			}
		}
	}

	p.fanOut(ctx, e, decision)
	return decision, nil
}

// fanOut enqueues the deferred work for one decision. Envelopes lost to a
// full queue are counted by the queue and logged there.
func (p *Pipeline) fanOut(ctx context.Context, e domain.DecisionEvent, d domain.FilterDecision) {
	if p.queue == nil {
		return
	}

	stats := worker.StatsTask{
		Processed:  1,
		HitAt:      e.Timestamp,
		From:       e.From,
		Subject:    e.Subject,
		WorkerName: e.WorkerName,
	}
	if d.MatchedRule != nil {
		stats.RuleID = d.MatchedRule.ID
	}
	logCategory := domain.LogEmailForward
	if d.Action == domain.ActionDrop {
		stats.Deleted = 1
		stats.GlobalDeleted = 1
		logCategory = domain.LogEmailDrop
	} else {
		stats.GlobalForwarded = 1
	}

	p.enqueue(ctx, worker.TaskStats, stats)
	p.enqueue(ctx, worker.TaskLog, worker.LogTask{
		Category:   logCategory,
		WorkerName: e.WorkerName,
		Message:    string(d.Action),
		Detail:     d.Reason,
	})
	p.enqueue(ctx, worker.TaskWatch, worker.WatchTask{
		From:       e.From,
		Subject:    e.Subject,
		WorkerName: e.WorkerName,
		ReceivedAt: e.Timestamp,
	})
	// With no inline detector, default-forwarded subjects are still tracked,
	// just asynchronously.
	if d.ShouldTrack() && p.detector == nil {
		p.enqueue(ctx, worker.TaskDynamic, worker.DynamicTask{
			Subject:    e.Subject,
			WorkerID:   e.WorkerName,
			ReceivedAt: e.Timestamp,
		})
	}
	p.enqueue(ctx, worker.TaskCampaign, worker.CampaignTask{
		Sender:     e.From,
		Subject:    e.Subject,
		Recipient:  e.To,
		WorkerName: e.WorkerName,
		ReceivedAt: e.Timestamp,
	})
	p.enqueue(ctx, worker.TaskMonitoring, worker.MonitoringTask{
		Sender:     e.From,
		Subject:    e.Subject,
		Recipient:  e.To,
		ReceivedAt: e.Timestamp,
		WorkerName: e.WorkerName,
	})
}

func (p *Pipeline) enqueue(ctx context.Context, t worker.TaskType, data interface{}) {
	if err := p.queue.Enqueue(ctx, worker.Envelope{Type: t, Data: data}); err != nil {
		logger.Debug("enqueue failed", "type", string(t), "error", err)
	}
}
