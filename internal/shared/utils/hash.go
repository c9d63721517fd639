package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// HashAlgorithm represents the hashing algorithm to use
type HashAlgorithm string

const (
	SHA256 HashAlgorithm = "sha256"
	// Extensible: add more algorithms here
)

// Hasher provides extensible hashing functionality
type Hasher struct {
	algorithm HashAlgorithm
}

// NewHasher creates a new hasher with the specified algorithm
func NewHasher(algorithm HashAlgorithm) *Hasher {
	return &Hasher{algorithm: algorithm}
}

// DefaultHasher returns a hasher with the default algorithm
func DefaultHasher() *Hasher {
	return NewHasher(SHA256)
}

// Hash computes a hash of the input data
func (h *Hasher) Hash(data []byte) string {
	switch h.algorithm {
	case SHA256:
		hash := sha256.Sum256(data)
		return hex.EncodeToString(hash[:])
	default:
		hash := sha256.Sum256(data)
		return hex.EncodeToString(hash[:])
	}
}

// HashString computes a hash of a string
func (h *Hasher) HashString(s string) string {
	return h.Hash([]byte(s))
}

// HashFields computes a hash from multiple fields.
// Fields are sorted and joined so the result is deterministic.
func (h *Hasher) HashFields(fields ...string) string {
	sorted := make([]string, len(fields))
	copy(sorted, fields)
	sort.Strings(sorted)

	return h.HashString(strings.Join(sorted, "|"))
}

// TaskFingerprinter derives stable fingerprints for scheduled tasks so
// replayed work can be matched against previously produced results
type TaskFingerprinter struct {
	hasher *Hasher
}

// NewTaskFingerprinter creates a fingerprinter
func NewTaskFingerprinter(hasher *Hasher) *TaskFingerprinter {
	if hasher == nil {
		hasher = DefaultHasher()
	}
	return &TaskFingerprinter{hasher: hasher}
}

// Fingerprint generates a deterministic fingerprint from a task's content
// and target window. The message id is deliberately excluded: resubmitting
// the same instruction must produce the same fingerprint.
func (f *TaskFingerprinter) Fingerprint(content, windowID string) string {
	fields := []string{content}
	if windowID != "" {
		fields = append(fields, fmt.Sprintf("window:%s", windowID))
	}
	return f.hasher.HashFields(fields...)
}

// ShortFingerprint returns an 8-character prefix for display
func (f *TaskFingerprinter) ShortFingerprint(full string) string {
	if len(full) < 8 {
		return full
	}
	return full[:8]
}
