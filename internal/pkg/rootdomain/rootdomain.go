// Package rootdomain derives the registrable root domain of a sender address.
// Merchants are keyed by root domain, so "mail.shop.example.co.uk" and
// "news.example.co.uk" both resolve to the same merchant "example.co.uk".
package rootdomain

import (
	"bufio"
	"os"
	"strings"
	"sync"
)

// defaultSecondLevelTLDs covers the common country-code second-level zones.
// The set is closed but replaceable at runtime via Load/SetSecondLevelTLDs.
var defaultSecondLevelTLDs = []string{
	"co.uk", "org.uk", "ac.uk", "gov.uk", "me.uk", "net.uk",
	"com.cn", "net.cn", "org.cn", "gov.cn", "edu.cn",
	"co.jp", "ne.jp", "or.jp", "ac.jp", "go.jp",
	"com.au", "net.au", "org.au", "edu.au",
	"co.kr", "or.kr", "ne.kr",
	"com.br", "net.br", "org.br",
	"com.tw", "org.tw",
	"com.hk", "org.hk",
	"co.in", "net.in", "org.in",
	"co.nz", "net.nz", "org.nz",
	"com.sg", "com.my", "com.mx", "com.ar", "com.tr",
	"co.za", "org.za",
}

type tldSet struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

var secondLevel = newTLDSet(defaultSecondLevelTLDs)

func newTLDSet(entries []string) *tldSet {
	s := &tldSet{set: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		s.set[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
	}
	return s
}

func (s *tldSet) contains(suffix string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.set[suffix]
	return ok
}

func (s *tldSet) replace(entries []string) {
	m := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !strings.HasPrefix(e, "#") {
			m[e] = struct{}{}
		}
	}
	s.mu.Lock()
	s.set = m
	s.mu.Unlock()
}

// SetSecondLevelTLDs replaces the second-level TLD set.
func SetSecondLevelTLDs(entries []string) {
	secondLevel.replace(entries)
}

// Load reads a newline-delimited second-level TLD list from disk and replaces
// the active set. Blank lines and '#' comments are skipped.
func Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var entries []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		entries = append(entries, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return err
	}
	secondLevel.replace(entries)
	return nil
}

// ExtractDomain returns the full domain part of a sender address, lowercased
// and trimmed, or "" when the address is malformed (no '@', empty sides,
// missing dot, embedded whitespace).
func ExtractDomain(senderEmail string) string {
	s := strings.ToLower(strings.TrimSpace(senderEmail))
	at := strings.Index(s, "@")
	if at <= 0 || at == len(s)-1 {
		return ""
	}
	if strings.Count(s, "@") != 1 {
		return ""
	}
	domain := s[at+1:]
	if !strings.Contains(domain, ".") {
		return ""
	}
	if strings.ContainsAny(s, " \t") {
		return ""
	}
	return domain
}

// ExtractRootDomain reduces a full domain to its registrable root: the last
// two labels, or the last three when the final two form a known second-level
// TLD (e.g. "example.co.uk"). Idempotent.
func ExtractRootDomain(fullDomain string) string {
	d := strings.ToLower(strings.TrimSpace(fullDomain))
	d = strings.Trim(d, ".")
	if d == "" {
		return ""
	}
	labels := strings.Split(d, ".")
	if len(labels) <= 2 {
		return d
	}
	lastTwo := strings.Join(labels[len(labels)-2:], ".")
	if secondLevel.contains(lastTwo) {
		return strings.Join(labels[len(labels)-3:], ".")
	}
	return lastTwo
}

// ExtractRootFromEmail combines ExtractDomain and ExtractRootDomain.
func ExtractRootFromEmail(senderEmail string) string {
	d := ExtractDomain(senderEmail)
	if d == "" {
		return ""
	}
	return ExtractRootDomain(d)
}
