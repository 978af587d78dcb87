package rootdomain

import "testing"

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"user@example.com", "example.com"},
		{"  User@EXAMPLE.COM  ", "example.com"},
		{"user@mail.shop.example.co.uk", "mail.shop.example.co.uk"},
		{"invalid", ""},
		{"@example.com", ""},
		{"user@", ""},
		{"a@b@c.com", ""},
		{"user@nodot", ""},
		{"us er@example.com", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExtractDomain(tt.in); got != tt.want {
			t.Errorf("ExtractDomain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractRootDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"mail.shop.example.co.uk", "example.co.uk"},
		{"news.example.co.uk", "example.co.uk"},
		{"foo.com", "foo.com"},
		{"a.b.c.d.foo.com", "foo.com"},
		{"example.com.cn", "example.com.cn"},
		{"shop.example.com.cn", "example.com.cn"},
		{"localhost", "localhost"},
		{".trailing.dots.example.com.", "example.com"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExtractRootDomain(tt.in); got != tt.want {
			t.Errorf("ExtractRootDomain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// The root of a root is itself; merchants keyed by the output never split.
func TestExtractRootDomainIdempotent(t *testing.T) {
	inputs := []string{
		"mail.shop.example.co.uk", "news.example.co.uk", "foo.com",
		"deep.sub.domain.example.com.au",
	}
	for _, in := range inputs {
		once := ExtractRootDomain(in)
		twice := ExtractRootDomain(once)
		if once != twice {
			t.Errorf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestExtractRootFromEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"user@mail.shop.example.co.uk", "example.co.uk"},
		{"x@foo.com", "foo.com"},
		{"invalid", ""},
	}
	for _, tt := range tests {
		if got := ExtractRootFromEmail(tt.in); got != tt.want {
			t.Errorf("ExtractRootFromEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSetSecondLevelTLDs(t *testing.T) {
	defer SetSecondLevelTLDs(defaultSecondLevelTLDs)

	SetSecondLevelTLDs([]string{"custom.zone", "# a comment", "  ", "CO.UK"})

	if got := ExtractRootDomain("shop.example.custom.zone"); got != "example.custom.zone" {
		t.Errorf("custom zone: got %q", got)
	}
	if got := ExtractRootDomain("shop.example.co.uk"); got != "example.co.uk" {
		t.Errorf("case-folded entry: got %q", got)
	}
	// com.cn was dropped by the replacement, so the last two labels win.
	if got := ExtractRootDomain("shop.example.com.cn"); got != "com.cn" {
		t.Errorf("replaced set: got %q", got)
	}
}
