package matcher

import (
	"testing"

	"github.com/yinz628/email-filter-sub001/internal/domain"
)

func TestMatchModes(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		subject string
		mode    domain.MatchMode
		want    bool
	}{
		{"exact hit", "Flash Sale", "flash sale", domain.ModeExact, true},
		{"exact miss on substring", "Flash", "Flash Sale", domain.ModeExact, false},
		{"contains hit", "SALE", "Big flash sale today", domain.ModeContains, true},
		{"contains miss", "refund", "Big flash sale today", domain.ModeContains, false},
		{"startsWith hit", "RE:", "re: your order", domain.ModeStartsWith, true},
		{"startsWith miss", "RE:", "fwd: re: your order", domain.ModeStartsWith, false},
		{"endsWith hit", "unsubscribe", "Click here to UNSUBSCRIBE", domain.ModeEndsWith, true},
		{"endsWith miss", "unsubscribe", "unsubscribe today", domain.ModeEndsWith, false},
		{"regex hit", `order #\d+`, "Your Order #12345 shipped", domain.ModeRegex, true},
		{"regex miss", `order #\d+`, "Your order shipped", domain.ModeRegex, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Match(tt.pattern, tt.subject, tt.mode)
			if got.Error != "" {
				t.Fatalf("unexpected error: %s", got.Error)
			}
			if got.Matched != tt.want {
				t.Errorf("Match(%q, %q, %s) = %v, want %v",
					tt.pattern, tt.subject, tt.mode, got.Matched, tt.want)
			}
		})
	}
}

func TestMatchInvalidRegexNeverMatches(t *testing.T) {
	got := Match(`([unclosed`, "any subject", domain.ModeRegex)
	if got.Matched {
		t.Error("invalid regex must not match")
	}
	if got.Error == "" {
		t.Error("invalid regex should surface the compile message")
	}

	// Cached failure path returns the same outcome.
	again := Match(`([unclosed`, "other subject", domain.ModeRegex)
	if again.Matched || again.Error == "" {
		t.Errorf("cached invalid regex: got %+v", again)
	}
}

func TestMatchUnknownMode(t *testing.T) {
	got := Match("x", "x", domain.MatchMode("fuzzy"))
	if got.Matched || got.Error == "" {
		t.Errorf("unknown mode: got %+v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		mode    domain.MatchMode
		want    bool
	}{
		{"empty pattern", "", domain.ModeContains, false},
		{"plain contains", "sale", domain.ModeContains, true},
		{"good regex", `\d{3}`, domain.ModeRegex, true},
		{"bad regex", `(`, domain.ModeRegex, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, msg := Validate(tt.pattern, tt.mode)
			if ok != tt.want {
				t.Errorf("Validate(%q, %s) = %v (%s), want %v", tt.pattern, tt.mode, ok, msg, tt.want)
			}
			if !ok && msg == "" {
				t.Error("rejection should carry a message")
			}
		})
	}
}

func TestFindFirst(t *testing.T) {
	patterns := []string{"(", "invoice", "receipt"}
	p, ok := FindFirst(patterns, "Your RECEIPT is attached", domain.ModeContains)
	if !ok || p != "receipt" {
		t.Errorf("FindFirst = %q, %v; want \"receipt\", true", p, ok)
	}

	if _, ok := FindFirst(patterns, "weekly digest", domain.ModeContains); ok {
		t.Error("no pattern should match")
	}
}
