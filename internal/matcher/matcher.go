// Package matcher implements case-insensitive pattern matching for filter and
// monitoring rules. Regex patterns compile through a bounded cache; a pattern
// that fails to compile never surfaces as an error to the decision path — the
// result is simply "no match" with the compile message attached.
package matcher

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/yinz628/email-filter-sub001/internal/domain"
	"github.com/yinz628/email-filter-sub001/internal/pkg/logger"
)

// Result is the outcome of a single pattern evaluation.
type Result struct {
	Matched bool
	Error   string
}

// maxCachedRegexes bounds the compile cache. User-supplied rule sets are
// small; the bound only guards against pathological churn.
const maxCachedRegexes = 1024

var (
	mu       sync.RWMutex
	compiled = make(map[string]*regexp.Regexp)
	failed   = make(map[string]string)
	warned   = make(map[string]struct{})
)

// compile returns the cached case-insensitive regex for pattern, compiling on
// first use. The second return is the compile error message, if any.
func compile(pattern string) (*regexp.Regexp, string) {
	mu.RLock()
	re, ok := compiled[pattern]
	if ok {
		mu.RUnlock()
		return re, ""
	}
	if msg, bad := failed[pattern]; bad {
		mu.RUnlock()
		return nil, msg
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if re, ok := compiled[pattern]; ok {
		return re, ""
	}
	if msg, bad := failed[pattern]; bad {
		return nil, msg
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		msg := err.Error()
		if len(failed) < maxCachedRegexes {
			failed[pattern] = msg
		}
		if _, seen := warned[pattern]; !seen {
			warned[pattern] = struct{}{}
			logger.Warn("invalid regex pattern, rule will never match", "pattern", pattern, "error", msg)
		}
		return nil, msg
	}

	if len(compiled) >= maxCachedRegexes {
		// Simple reset rather than LRU bookkeeping; recompiles are cheap.
		compiled = make(map[string]*regexp.Regexp)
	}
	compiled[pattern] = re
	return re, ""
}

// Match evaluates pattern against subject in the given mode. Non-regex modes
// compare on lowercased operands. A regex compile failure yields
// {Matched: false, Error: <message>}, never a hard error.
func Match(pattern, subject string, mode domain.MatchMode) Result {
	switch mode {
	case domain.ModeRegex:
		re, msg := compile(pattern)
		if re == nil {
			return Result{Matched: false, Error: msg}
		}
		return Result{Matched: re.MatchString(subject)}
	case domain.ModeExact:
		return Result{Matched: strings.EqualFold(pattern, subject)}
	case domain.ModeContains:
		return Result{Matched: strings.Contains(strings.ToLower(subject), strings.ToLower(pattern))}
	case domain.ModeStartsWith:
		return Result{Matched: strings.HasPrefix(strings.ToLower(subject), strings.ToLower(pattern))}
	case domain.ModeEndsWith:
		return Result{Matched: strings.HasSuffix(strings.ToLower(subject), strings.ToLower(pattern))}
	default:
		return Result{Matched: false, Error: fmt.Sprintf("unknown match mode %q", mode)}
	}
}

// Validate checks whether a pattern is usable in the given mode. Non-regex
// patterns are valid when non-empty.
func Validate(pattern string, mode domain.MatchMode) (bool, string) {
	if pattern == "" {
		return false, "pattern is empty"
	}
	if mode != domain.ModeRegex {
		return true, ""
	}
	if _, err := regexp.Compile("(?i)" + pattern); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// FindFirst returns the first pattern in patterns that matches subject, or
// ("", false). Patterns that fail to compile are skipped.
func FindFirst(patterns []string, subject string, mode domain.MatchMode) (string, bool) {
	for _, p := range patterns {
		if Match(p, subject, mode).Matched {
			return p, true
		}
	}
	return "", false
}
