// Package reload maps task fingerprints to previously produced results and
// derives human-readable labels for UI replay and history. The labeling
// heuristic is pure and deterministic; all state lives in an injected store.
package reload

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sorryhyun/yaar/internal/shared/types"
	"github.com/sorryhyun/yaar/internal/shared/utils"
)

// maxLabelLen bounds the fallback label's echoed content
const maxLabelLen = 48

var (
	appPattern    = regexp.MustCompile(`(?i)\bapp:\s*(\S+)`)
	buttonPattern = regexp.MustCompile(`(?i)click\s+button\s+"([^"]+)"`)
)

// Entry records one cached task result
type Entry struct {
	Fingerprint string `json:"fingerprint"`
	Label       string `json:"label"`
	ResultRef   string `json:"result_ref"`
}

// Store is the injected cache backend. Entries are append-only and queried
// by prefix or substring match, never mutated.
type Store interface {
	Record(entry Entry) error
	FindMatches(fingerprint string) []Entry
}

// CachePolicy labels tasks and delegates lookups to the store
type CachePolicy struct {
	store         Store
	fingerprinter *utils.TaskFingerprinter
}

// NewCachePolicy creates a policy backed by the given store
func NewCachePolicy(store Store) *CachePolicy {
	return &CachePolicy{
		store:         store,
		fingerprinter: utils.NewTaskFingerprinter(nil),
	}
}

// GenerateCacheLabel derives a display label from the task's content.
// Ordered heuristics: app launches, button clicks, then a truncated echo.
// Same input always yields the same label.
func (p *CachePolicy) GenerateCacheLabel(task types.Task) string {
	if m := appPattern.FindStringSubmatch(task.Content); m != nil {
		return fmt.Sprintf("Open %s app", m[1])
	}

	if m := buttonPattern.FindStringSubmatch(task.Content); m != nil {
		return fmt.Sprintf("Click %q", m[1])
	}

	content := strings.TrimSpace(task.Content)
	if runes := []rune(content); len(runes) > maxLabelLen {
		return string(runes[:maxLabelLen]) + "..."
	}
	return content
}

// Fingerprint derives the task's cache fingerprint
func (p *CachePolicy) Fingerprint(task types.Task) string {
	return p.fingerprinter.Fingerprint(task.Content, task.WindowID)
}

// Record appends a result entry to the store
func (p *CachePolicy) Record(entry Entry) error {
	return p.store.Record(entry)
}

// FindMatches returns previously recorded entries for the fingerprint
func (p *CachePolicy) FindMatches(fingerprint string) []Entry {
	return p.store.FindMatches(fingerprint)
}
