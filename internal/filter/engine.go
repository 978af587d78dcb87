// Package filter implements the synchronous decision path. Evaluation order
// is fixed: whitelist, then blacklist, then dynamic rules, then default
// forward. The engine reads rules only from the in-memory cache and never
// mutates counters — follow-up work is handed to the async task processor.
package filter

import (
	"fmt"

	"github.com/yinz628/email-filter-sub001/internal/domain"
	"github.com/yinz628/email-filter-sub001/internal/matcher"
	"github.com/yinz628/email-filter-sub001/internal/pkg/rootdomain"
	"github.com/yinz628/email-filter-sub001/internal/rules"
)

// Engine evaluates decision events against the cached rule set.
type Engine struct {
	cache *rules.Cache
}

// NewEngine creates a filter engine over the given rule cache.
func NewEngine(cache *rules.Cache) *Engine {
	return &Engine{cache: cache}
}

// evaluation order is fixed and must be preserved.
var categoryOrder = []struct {
	category domain.RuleCategory
	action   domain.Action
}{
	{domain.CategoryWhitelist, domain.ActionForward},
	{domain.CategoryBlacklist, domain.ActionDrop},
	{domain.CategoryDynamic, domain.ActionDrop},
}

// Evaluate returns the decision for one event. A whitelist match forwards
// without consulting blacklist or dynamic rules; a blacklist match precludes
// dynamic. No match at all yields the default forward with no category.
func (e *Engine) Evaluate(event domain.DecisionEvent) domain.FilterDecision {
	for _, step := range categoryOrder {
		if rule, ok := e.matchCategory(step.category, event); ok {
			matched := rule
			return domain.FilterDecision{
				Action:          step.action,
				ForwardTo:       forwardTarget(step.action, event),
				Reason:          fmt.Sprintf("matched %s rule %s", step.category, rule.ID),
				MatchedCategory: step.category,
				MatchedRule:     &matched,
			}
		}
	}

	return domain.FilterDecision{
		Action:    domain.ActionForward,
		ForwardTo: event.To,
		Reason:    "no rule matched",
	}
}

func forwardTarget(action domain.Action, event domain.DecisionEvent) string {
	if action == domain.ActionForward {
		return event.To
	}
	return ""
}

func (e *Engine) matchCategory(cat domain.RuleCategory, event domain.DecisionEvent) (domain.FilterRule, bool) {
	for _, rule := range e.cache.Category(cat) {
		if !rule.Enabled {
			continue
		}
		if !ruleAppliesToWorker(rule, event.WorkerName) {
			continue
		}
		operand := matchOperand(rule.MatchType, event)
		if operand == "" {
			continue
		}
		if matcher.Match(rule.Pattern, operand, rule.MatchMode).Matched {
			return rule, true
		}
	}
	return domain.FilterRule{}, false
}

// ruleAppliesToWorker scopes rules by worker identity. An empty or "global"
// worker id is a wildcard.
func ruleAppliesToWorker(rule domain.FilterRule, workerName string) bool {
	if rule.WorkerID == "" || rule.WorkerID == domain.WorkerGlobal {
		return true
	}
	return rule.WorkerID == workerName
}

// matchOperand derives the value a rule compares against from its match type.
func matchOperand(mt domain.MatchType, event domain.DecisionEvent) string {
	switch mt {
	case domain.MatchSender:
		return event.From
	case domain.MatchSubject:
		return event.Subject
	case domain.MatchDomain:
		return rootdomain.ExtractRootFromEmail(event.From)
	default:
		return ""
	}
}
