package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/yinz628/email-filter-sub001/internal/domain"
	"github.com/yinz628/email-filter-sub001/internal/matcher"
	"github.com/yinz628/email-filter-sub001/internal/pkg/logger"
)

// SignalStore is the persistence surface the hit processor needs.
type SignalStore interface {
	ListEnabledRules(ctx context.Context) ([]domain.MonitoringRule, error)
	GetRule(ctx context.Context, id string) (*domain.MonitoringRule, error)
	GetState(ctx context.Context, ruleID string) (*domain.SignalState, error)
	UpdateOnHit(ctx context.Context, ruleID string, hitTime time.Time, meta *HitMeta) (*HitResult, error)
	InsertAlert(ctx context.Context, a domain.Alert) (*domain.Alert, error)
}

// AlertPublisher fans persisted alerts out to subscribers. Publishing is
// best-effort; failures never fail the hit.
type AlertPublisher interface {
	PublishSignalAlert(ctx context.Context, a domain.Alert) error
}

// Processor matches inbound emails against enabled monitoring rules and
// records hits.
type Processor struct {
	store     SignalStore
	publisher AlertPublisher
	now       func() time.Time
}

// NewProcessor wires a hit processor. publisher may be nil.
func NewProcessor(store SignalStore, publisher AlertPublisher) *Processor {
	return &Processor{store: store, publisher: publisher, now: time.Now}
}

// StateChange is one observed signal transition.
type StateChange struct {
	RuleID        string              `json:"rule_id"`
	PreviousState domain.SignalStatus `json:"previous_state"`
	CurrentState  domain.SignalStatus `json:"current_state"`
}

// ProcessResult reports what one email touched.
type ProcessResult struct {
	Matched      bool                    `json:"matched"`
	MatchedRules []domain.MonitoringRule `json:"matched_rules"`
	StateChanges []StateChange           `json:"state_changes"`
}

func validateEvent(e domain.MonitoringEvent) error {
	switch {
	case e.Sender == "":
		return fmt.Errorf("%w: empty sender", ErrInvalidEvent)
	case e.Subject == "":
		return fmt.Errorf("%w: empty subject", ErrInvalidEvent)
	case e.Recipient == "":
		return fmt.Errorf("%w: empty recipient", ErrInvalidEvent)
	case e.ReceivedAt.IsZero():
		return fmt.Errorf("%w: receivedAt is not a valid time", ErrInvalidEvent)
	}
	return nil
}

// ProcessEmail validates the event, matches it against every enabled rule in
// scope of its worker, and records a hit per match. A non-ACTIVE signal that
// recovers raises a SIGNAL_RECOVERED alert with zero gap.
func (p *Processor) ProcessEmail(ctx context.Context, e domain.MonitoringEvent) (*ProcessResult, error) {
	if err := validateEvent(e); err != nil {
		return nil, err
	}
	worker := e.WorkerName
	if worker == "" {
		worker = domain.WorkerGlobal
	}

	rules, err := p.store.ListEnabledRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list monitoring rules: %w", err)
	}

	res := &ProcessResult{}
	for _, rule := range rules {
		if rule.WorkerScope != domain.WorkerGlobal && rule.WorkerScope != worker {
			continue
		}
		m := matcher.Match(rule.SubjectPattern, e.Subject, rule.MatchMode)
		if m.Error != "" || !m.Matched {
			continue
		}

		hit, err := p.store.UpdateOnHit(ctx, rule.ID, e.ReceivedAt, &HitMeta{
			Sender:     e.Sender,
			Subject:    e.Subject,
			Recipient:  e.Recipient,
			ReceivedAt: e.ReceivedAt,
		})
		if err != nil {
			logger.Error("record hit failed", "rule_id", rule.ID, "error", err)
			continue
		}

		res.Matched = true
		res.MatchedRules = append(res.MatchedRules, rule)
		res.StateChanges = append(res.StateChanges, StateChange{
			RuleID:        rule.ID,
			PreviousState: hit.PreviousState,
			CurrentState:  hit.CurrentState,
		})

		if hit.PreviousState != domain.SignalActive {
			p.emitRecovered(ctx, rule, hit)
		}
	}
	return res, nil
}

func (p *Processor) emitRecovered(ctx context.Context, rule domain.MonitoringRule, hit *HitResult) {
	alert := domain.Alert{
		RuleID:        rule.ID,
		AlertType:     domain.AlertSignalRecovered,
		PreviousState: hit.PreviousState,
		CurrentState:  hit.CurrentState,
		GapMinutes:    0,
		Count1h:       hit.State.Count1h,
		Count12h:      hit.State.Count12h,
		Count24h:      hit.State.Count24h,
		Message:       fmt.Sprintf("signal %q recovered (%s -> ACTIVE)", rule.Name, hit.PreviousState),
	}
	saved, err := p.store.InsertAlert(ctx, alert)
	if err != nil {
		logger.Error("persist alert failed", "rule_id", rule.ID, "error", err)
		return
	}
	if p.publisher != nil {
		if err := p.publisher.PublishSignalAlert(ctx, *saved); err != nil {
			logger.Warn("publish alert failed", "alert_id", saved.ID, "error", err)
		}
	}
}

// Status is the query view of one signal.
type Status struct {
	Rule       domain.MonitoringRule `json:"rule"`
	State      domain.SignalStatus   `json:"state"`
	LastSeenAt *time.Time            `json:"last_seen_at,omitempty"`
	// GapMinutes is nil when the signal has never been seen.
	GapMinutes *int64    `json:"gap_minutes,omitempty"`
	Count1h    int64     `json:"count_1h"`
	Count12h   int64     `json:"count_12h"`
	Count24h   int64     `json:"count_24h"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// GetStatus returns the rule with its current state and the whole-minute gap
// since the last hit.
func (p *Processor) GetStatus(ctx context.Context, ruleID string) (*Status, error) {
	rule, err := p.store.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	state, err := p.store.GetState(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	st := &Status{
		Rule:       *rule,
		State:      state.State,
		LastSeenAt: state.LastSeenAt,
		Count1h:    state.Count1h,
		Count12h:   state.Count12h,
		Count24h:   state.Count24h,
		UpdatedAt:  state.UpdatedAt,
	}
	if state.LastSeenAt != nil {
		gap := int64(p.now().Sub(*state.LastSeenAt) / time.Minute)
		st.GapMinutes = &gap
	}
	return st, nil
}
