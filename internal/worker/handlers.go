package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yinz628/email-filter-sub001/internal/domain"
	"github.com/yinz628/email-filter-sub001/internal/dynamic"
	"github.com/yinz628/email-filter-sub001/internal/matcher"
	"github.com/yinz628/email-filter-sub001/internal/monitor"
	"github.com/yinz628/email-filter-sub001/internal/pkg/logger"
	"github.com/yinz628/email-filter-sub001/internal/pkg/rootdomain"
	"github.com/yinz628/email-filter-sub001/internal/rules"
	"github.com/yinz628/email-filter-sub001/internal/service/analytics"
	"github.com/yinz628/email-filter-sub001/internal/stats"
	"github.com/yinz628/email-filter-sub001/internal/storage"
)

// Global counter names maintained by the stats handler.
const (
	CounterForwarded = "emails_forwarded"
	CounterDeleted   = "emails_deleted"
)

// StatsHandler folds a batch of per-decision counter deltas into one
// transaction: one stats increment per rule, two global increments, and one
// last-hit touch per rule. Per-subject counters are upserted afterwards, one
// row per (subject, merchant domain, worker) seen in the batch.
type StatsHandler struct {
	db       *sql.DB
	rules    *rules.Store
	subjects *stats.Store
}

func NewStatsHandler(db *sql.DB, ruleStore *rules.Store, subjects *stats.Store) *StatsHandler {
	return &StatsHandler{db: db, rules: ruleStore, subjects: subjects}
}

func (h *StatsHandler) HandleBatch(ctx context.Context, batch []Envelope) error {
	type agg struct {
		processed, deleted int64
		lastHit            time.Time
	}
	type subjectAgg struct {
		subject, merchantDomain, worker string
		count                           int64
		lastSeen                        time.Time
	}
	perRule := make(map[string]*agg)
	perSubject := make(map[string]*subjectAgg)
	var subjectOrder []string
	var forwarded, deleted int64
	for _, e := range batch {
		task, ok := e.Data.(StatsTask)
		if !ok {
			logger.Warn("stats envelope with wrong payload", "envelope_id", e.ID)
			continue
		}
		forwarded += task.GlobalForwarded
		deleted += task.GlobalDeleted

		if h.subjects != nil && task.Subject != "" {
			if dom := rootdomain.ExtractRootFromEmail(task.From); dom != "" {
				key := task.Subject + "\x00" + dom + "\x00" + task.WorkerName
				sa, ok := perSubject[key]
				if !ok {
					sa = &subjectAgg{subject: task.Subject, merchantDomain: dom, worker: task.WorkerName}
					perSubject[key] = sa
					subjectOrder = append(subjectOrder, key)
				}
				sa.count++
				if task.HitAt.After(sa.lastSeen) {
					sa.lastSeen = task.HitAt
				}
			}
		}

		if task.RuleID == "" {
			continue
		}
		a, ok := perRule[task.RuleID]
		if !ok {
			a = &agg{}
			perRule[task.RuleID] = a
		}
		a.processed += task.Processed
		a.deleted += task.Deleted
		if task.HitAt.After(a.lastHit) {
			a.lastHit = task.HitAt
		}
	}

	err := storage.WithTx(ctx, h.db, func(tx *sql.Tx) error {
		for id, a := range perRule {
			if err := h.rules.IncrementStats(ctx, tx, id, a.processed, a.deleted, 0); err != nil {
				return fmt.Errorf("rule %s: %w", id, err)
			}
		}
		if forwarded != 0 {
			if err := h.rules.IncrementGlobalCounter(ctx, tx, CounterForwarded, forwarded); err != nil {
				return err
			}
		}
		if deleted != 0 {
			if err := h.rules.IncrementGlobalCounter(ctx, tx, CounterDeleted, deleted); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for id, a := range perRule {
		if a.lastHit.IsZero() {
			continue
		}
		if err := h.rules.TouchLastHit(ctx, id, a.lastHit); err != nil {
			logger.Warn("touch last hit failed", "rule_id", id, "error", err)
		}
	}

	for _, key := range subjectOrder {
		sa := perSubject[key]
		if err := h.subjects.Record(ctx, sa.subject, sa.merchantDomain, sa.worker, sa.lastSeen, sa.count); err != nil {
			logger.Warn("subject stat upsert failed",
				"merchant_domain", sa.merchantDomain, "worker", sa.worker, "error", err)
		}
	}
	return nil
}

// LogHandler bulk-inserts filter-log rows.
type LogHandler struct {
	db *sql.DB
}

func NewLogHandler(db *sql.DB) *LogHandler {
	return &LogHandler{db: db}
}

func (h *LogHandler) HandleBatch(ctx context.Context, batch []Envelope) error {
	return storage.WithTx(ctx, h.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO filter_logs (id, category, worker_name, message, detail)
			VALUES ($1, $2, $3, $4, $5)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range batch {
			task, ok := e.Data.(LogTask)
			if !ok {
				logger.Warn("log envelope with wrong payload", "envelope_id", e.ID)
				continue
			}
			worker := task.WorkerName
			if worker == "" {
				worker = domain.WorkerGlobal
			}
			if _, err := stmt.ExecContext(ctx, uuid.New().String(),
				task.Category, worker, task.Message, task.Detail); err != nil {
				return err
			}
		}
		return nil
	})
}

// WatchHandler re-matches each envelope against the enabled watch rules and
// bulk-increments the hit counters.
type WatchHandler struct {
	db    *sql.DB
	rules *rules.Store
	cache *rules.Cache
}

func NewWatchHandler(db *sql.DB, ruleStore *rules.Store, cache *rules.Cache) *WatchHandler {
	return &WatchHandler{db: db, rules: ruleStore, cache: cache}
}

func (h *WatchHandler) HandleBatch(ctx context.Context, batch []Envelope) error {
	watchRules := h.cache.Category(domain.CategoryWatch)
	if len(watchRules) == 0 {
		return nil
	}

	type agg struct {
		hits    int64
		lastHit time.Time
	}
	perRule := make(map[string]*agg)
	for _, e := range batch {
		task, ok := e.Data.(WatchTask)
		if !ok {
			logger.Warn("watch envelope with wrong payload", "envelope_id", e.ID)
			continue
		}
		for _, rule := range watchRules {
			if !rule.Enabled || !watchRuleApplies(rule, task.WorkerName) {
				continue
			}
			operand := watchOperand(rule.MatchType, task)
			m := matcher.Match(rule.Pattern, operand, rule.MatchMode)
			if m.Error != "" || !m.Matched {
				continue
			}
			a, ok := perRule[rule.ID]
			if !ok {
				a = &agg{}
				perRule[rule.ID] = a
			}
			a.hits++
			if task.ReceivedAt.After(a.lastHit) {
				a.lastHit = task.ReceivedAt
			}
		}
	}
	if len(perRule) == 0 {
		return nil
	}

	err := storage.WithTx(ctx, h.db, func(tx *sql.Tx) error {
		for id, a := range perRule {
			if err := h.rules.IncrementStats(ctx, tx, id, a.hits, 0, 0); err != nil {
				return fmt.Errorf("rule %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for id, a := range perRule {
		if err := h.rules.TouchLastHit(ctx, id, a.lastHit); err != nil {
			logger.Warn("touch last hit failed", "rule_id", id, "error", err)
		}
	}
	return nil
}

func watchRuleApplies(rule domain.FilterRule, workerName string) bool {
	if rule.WorkerID == "" || rule.WorkerID == domain.WorkerGlobal {
		return true
	}
	return rule.WorkerID == workerName
}

func watchOperand(mt domain.MatchType, task WatchTask) string {
	switch mt {
	case domain.MatchSender:
		return task.From
	case domain.MatchDomain:
		return rootdomain.ExtractRootFromEmail(task.From)
	default:
		return task.Subject
	}
}

// DynamicHandler feeds default-forwarded subjects to the detector. Dispatch
// ordering keeps batches in enqueue order.
type DynamicHandler struct {
	detector *dynamic.Detector
}

func NewDynamicHandler(detector *dynamic.Detector) *DynamicHandler {
	return &DynamicHandler{detector: detector}
}

func (h *DynamicHandler) HandleBatch(ctx context.Context, batch []Envelope) error {
	for _, e := range batch {
		task, ok := e.Data.(DynamicTask)
		if !ok {
			logger.Warn("dynamic envelope with wrong payload", "envelope_id", e.ID)
			continue
		}
		if _, err := h.detector.TrackSubject(ctx, task.Subject, task.WorkerID, task.ReceivedAt); err != nil {
			logger.Error("track subject failed", "envelope_id", e.ID, "error", err)
		}
	}
	return nil
}

// requeueOnce puts a failed envelope back on the queue one time. Stats and log
// work is droppable; campaign and monitoring attribution gets a second chance.
func requeueOnce(ctx context.Context, q *Queue, e Envelope, cause error) {
	if q == nil || e.Attempt > 0 {
		logger.Error("task abandoned", "envelope_id", e.ID, "type", string(e.Type), "error", cause)
		return
	}
	e.Attempt++
	if err := q.Enqueue(ctx, e); err != nil {
		logger.Error("task requeue failed", "envelope_id", e.ID, "type", string(e.Type), "error", err)
		return
	}
	logger.Warn("task requeued after failure", "envelope_id", e.ID, "type", string(e.Type), "error", cause)
}

// CampaignHandler attributes emails to the campaign graph, skipping ignored
// merchants.
type CampaignHandler struct {
	svc   *analytics.Service
	queue *Queue
}

func NewCampaignHandler(svc *analytics.Service, queue *Queue) *CampaignHandler {
	return &CampaignHandler{svc: svc, queue: queue}
}

func (h *CampaignHandler) HandleBatch(ctx context.Context, batch []Envelope) error {
	for _, e := range batch {
		task, ok := e.Data.(CampaignTask)
		if !ok {
			logger.Warn("campaign envelope with wrong payload", "envelope_id", e.ID)
			continue
		}
		if _, err := h.svc.TrackEmailSelective(ctx, task); err != nil {
			if errors.Is(err, analytics.ErrInvalidSender) {
				logger.Debug("campaign envelope with malformed sender", "envelope_id", e.ID)
				continue
			}
			requeueOnce(ctx, h.queue, e, err)
		}
	}
	return nil
}

// MonitoringHandler runs emails through the hit processor.
type MonitoringHandler struct {
	proc  *monitor.Processor
	queue *Queue
}

func NewMonitoringHandler(proc *monitor.Processor, queue *Queue) *MonitoringHandler {
	return &MonitoringHandler{proc: proc, queue: queue}
}

func (h *MonitoringHandler) HandleBatch(ctx context.Context, batch []Envelope) error {
	for _, e := range batch {
		task, ok := e.Data.(MonitoringTask)
		if !ok {
			logger.Warn("monitoring envelope with wrong payload", "envelope_id", e.ID)
			continue
		}
		if _, err := h.proc.ProcessEmail(ctx, task); err != nil {
			if errors.Is(err, monitor.ErrInvalidEvent) {
				logger.Warn("monitoring envelope rejected", "envelope_id", e.ID, "error", err)
				continue
			}
			requeueOnce(ctx, h.queue, e, err)
		}
	}
	return nil
}
