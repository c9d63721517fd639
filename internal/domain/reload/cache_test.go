package reload

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/sorryhyun/yaar/internal/shared/types"
)

func TestGenerateCacheLabelAppHeuristic(t *testing.T) {
	p := NewCachePolicy(NewMemoryStore())

	label := p.GenerateCacheLabel(types.MainTask("m1", "app: moltbook"))
	if label != "Open moltbook app" {
		t.Errorf("Expected 'Open moltbook app', got %q", label)
	}
}

func TestGenerateCacheLabelButtonHeuristic(t *testing.T) {
	p := NewCachePolicy(NewMemoryStore())

	label := p.GenerateCacheLabel(types.MainTask("m1", `click button "Save" now`))
	if label != `Click "Save"` {
		t.Errorf(`Expected 'Click "Save"', got %q`, label)
	}

	// Case-insensitive, anywhere in the string
	label = p.GenerateCacheLabel(types.MainTask("m2", `please CLICK BUTTON "Submit"`))
	if label != `Click "Submit"` {
		t.Errorf(`Expected 'Click "Submit"', got %q`, label)
	}
}

func TestGenerateCacheLabelFallbackTruncation(t *testing.T) {
	p := NewCachePolicy(NewMemoryStore())

	long := "summarize the quarterly spreadsheet and put the top findings into a new slide deck"
	label := p.GenerateCacheLabel(types.MainTask("m1", long))

	if len(label) > maxLabelLen+3 {
		t.Errorf("Fallback label should be truncated, got %d chars", len(label))
	}
	if label[:10] != long[:10] {
		t.Errorf("Fallback label should echo the content, got %q", label)
	}
}

func TestGenerateCacheLabelTruncatesOnRuneBoundary(t *testing.T) {
	p := NewCachePolicy(NewMemoryStore())

	long := "要約してください: " + strings.Repeat("四半期の売上データ", 10)
	label := p.GenerateCacheLabel(types.MainTask("m1", long))

	if !utf8.ValidString(label) {
		t.Errorf("Truncated label is not valid UTF-8: %q", label)
	}
	if got := utf8.RuneCountInString(label); got != maxLabelLen+3 {
		t.Errorf("Expected %d runes, got %d", maxLabelLen+3, got)
	}
}

func TestGenerateCacheLabelDeterministic(t *testing.T) {
	p := NewCachePolicy(NewMemoryStore())
	task := types.MainTask("m1", "app: ledger")

	first := p.GenerateCacheLabel(task)
	for i := 0; i < 10; i++ {
		if p.GenerateCacheLabel(task) != first {
			t.Fatal("Label heuristic must be deterministic")
		}
	}
}

func TestFingerprintStableAcrossMessageIDs(t *testing.T) {
	p := NewCachePolicy(NewMemoryStore())

	a := p.Fingerprint(types.MainTask("m1", "open the ledger"))
	b := p.Fingerprint(types.MainTask("m2", "open the ledger"))
	if a != b {
		t.Error("Same content must produce the same fingerprint regardless of message id")
	}

	c := p.Fingerprint(types.WindowTask("w1", "m3", "open the ledger"))
	if c == a {
		t.Error("Window-scoped tasks should fingerprint differently from main tasks")
	}
}

func TestRecordAndFindMatches(t *testing.T) {
	store := NewMemoryStore()
	p := NewCachePolicy(store)

	task := types.MainTask("m1", "app: ledger")
	fp := p.Fingerprint(task)

	if err := p.Record(Entry{Fingerprint: fp, Label: p.GenerateCacheLabel(task), ResultRef: "result-1"}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	matches := p.FindMatches(fp)
	if len(matches) != 1 || matches[0].ResultRef != "result-1" {
		t.Errorf("Expected one match with result-1, got %v", matches)
	}

	// Prefix query also matches
	if got := p.FindMatches(fp[:8]); len(got) != 1 {
		t.Errorf("Prefix query should match, got %v", got)
	}

	if got := p.FindMatches("no-such-fingerprint"); len(got) != 0 {
		t.Errorf("Unknown fingerprint should match nothing, got %v", got)
	}
}
