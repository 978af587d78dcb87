package dynamic

import (
	"hash/fnv"
	"strings"
)

// SubjectHash returns a stable non-cryptographic hash over the trimmed,
// lowercased subject. It is a tracker bucketing key only; the campaign layer
// uses SHA-256 for its persisted dedup key.
func SubjectHash(subject string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(subject))))
	return h.Sum64()
}
