package tape

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sorryhyun/yaar/internal/shared/types"
)

// Tape is the ordered log of conversation turns across all channels.
// Appends are serialized by channel scheduling, but a mutex guards the
// slice anyway so readers can snapshot safely while another channel runs.
type Tape struct {
	mu    sync.RWMutex
	turns []types.Turn
}

// New creates an empty tape
func New() *Tape {
	return &Tape{}
}

// Append adds a turn with the current timestamp
func (t *Tape) Append(role types.Role, content string, source types.Source) types.Turn {
	turn := types.Turn{
		Role:      role,
		Content:   content,
		Source:    source,
		Timestamp: time.Now(),
	}

	t.mu.Lock()
	t.turns = append(t.turns, turn)
	t.mu.Unlock()

	return turn
}

// Restore replaces the tape's contents wholesale with previously serialized
// turns, preserving original timestamps and sources. Used only at startup.
func (t *Tape) Restore(turns []types.Turn) {
	copied := make([]types.Turn, len(turns))
	copy(copied, turns)

	t.mu.Lock()
	t.turns = copied
	t.mu.Unlock()
}

// Snapshot returns a copy of all turns
func (t *Tape) Snapshot() []types.Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]types.Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Len returns the number of turns on the tape
func (t *Tape) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}

// FormatOptions controls which channels FormatForPrompt includes
type FormatOptions struct {
	// IncludeWindows includes window-sourced turns when no WindowID filter
	// is set
	IncludeWindows bool
	// WindowID filters to main turns plus turns from this exact window
	WindowID string
}

// FormatForPrompt renders the tape as source-tagged markup for prompt
// assembly. Main turns render as <user>...</user>; window turns render as
// <user:w1>...</user:w1> so a downstream model can tell channels apart.
// When a WindowID is set, turns from other windows are never included.
func (t *Tape) FormatForPrompt(opts FormatOptions) string {
	turns := t.Snapshot()

	var b strings.Builder
	for _, turn := range turns {
		if !include(turn.Source, opts) {
			continue
		}
		b.WriteString(formatTurn(turn))
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func include(source types.Source, opts FormatOptions) bool {
	if source.IsMain() {
		return true
	}
	if opts.WindowID != "" {
		return source.Window == opts.WindowID
	}
	return opts.IncludeWindows
}

func formatTurn(turn types.Turn) string {
	tag := string(turn.Role)
	if !turn.Source.IsMain() {
		tag = fmt.Sprintf("%s:%s", turn.Role, turn.Source.Window)
	}
	return fmt.Sprintf("<%s>%s</%s>", tag, turn.Content, tag)
}

// Stats contains tape statistics
type Stats struct {
	TotalTurns  int `json:"total_turns"`
	MainTurns   int `json:"main_turns"`
	WindowTurns int `json:"window_turns"`
}

// Stats returns counts by channel
func (t *Tape) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := Stats{TotalTurns: len(t.turns)}
	for _, turn := range t.turns {
		if turn.Source.IsMain() {
			stats.MainTurns++
		} else {
			stats.WindowTurns++
		}
	}
	return stats
}
