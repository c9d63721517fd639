package assembly

import (
	"fmt"
	"strings"

	"github.com/sorryhyun/yaar/internal/domain/tape"
	"github.com/sorryhyun/yaar/internal/shared/types"
)

// DefaultWindowInitialMaxTurns is how many recent main turns a freshly
// created window agent sees. A turn is one user message plus its
// assistant reply.
const DefaultWindowInitialMaxTurns = 5

// Interaction is one recorded user interaction for context replay
type Interaction struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Policy renders context blocks for agent prompts
type Policy struct {
	windowInitialMaxTurns int
}

// NewPolicy creates a policy; non-positive maxTurns falls back to the
// default
func NewPolicy(windowInitialMaxTurns int) *Policy {
	if windowInitialMaxTurns <= 0 {
		windowInitialMaxTurns = DefaultWindowInitialMaxTurns
	}
	return &Policy{windowInitialMaxTurns: windowInitialMaxTurns}
}

// BuildWindowInitialContext renders the last N main-channel turns inside a
// <recent_conversation> block. maxTurns <= 0 uses the constructor value.
// Returns an empty string when the tape has no main turns; when fewer than
// N turns exist, all of them are included.
func (p *Policy) BuildWindowInitialContext(t *tape.Tape, maxTurns int) string {
	if maxTurns <= 0 {
		maxTurns = p.windowInitialMaxTurns
	}

	pairs := mainTurnPairs(t.Snapshot())
	if len(pairs) == 0 {
		return ""
	}
	if len(pairs) > maxTurns {
		pairs = pairs[len(pairs)-maxTurns:]
	}

	var b strings.Builder
	b.WriteString("<recent_conversation>\n")
	for _, pair := range pairs {
		for _, turn := range pair {
			fmt.Fprintf(&b, "<%s>%s</%s>\n", turn.Role, turn.Content, turn.Role)
		}
	}
	b.WriteString("</recent_conversation>")
	return b.String()
}

// FormatOpenWindows renders the open-window list. An empty list still
// produces a valid (empty) block.
func (p *Policy) FormatOpenWindows(ids []string) string {
	return fmt.Sprintf("<open_windows>%s</open_windows>", strings.Join(ids, ", "))
}

// FormatInteractionsForContext renders a consolidated block with one tag
// per interaction type
func (p *Policy) FormatInteractionsForContext(interactions []Interaction) string {
	var b strings.Builder
	b.WriteString("<previous_interactions>\n")
	for _, in := range interactions {
		tag := fmt.Sprintf("user_interaction:%s", in.Type)
		fmt.Fprintf(&b, "<%s>%s</%s>\n", tag, in.Content, tag)
	}
	b.WriteString("</previous_interactions>")
	return b.String()
}

// mainTurnPairs groups main-sourced messages into user+assistant turns. A
// user message opens a new turn; the next assistant message completes it.
// A trailing unpaired user message still counts as a turn.
func mainTurnPairs(turns []types.Turn) [][]types.Turn {
	var pairs [][]types.Turn
	for _, turn := range turns {
		if !turn.Source.IsMain() {
			continue
		}
		switch turn.Role {
		case types.RoleUser:
			pairs = append(pairs, []types.Turn{turn})
		case types.RoleAssistant:
			if n := len(pairs); n > 0 && len(pairs[n-1]) == 1 {
				pairs[n-1] = append(pairs[n-1], turn)
			} else {
				// Assistant message with no opening user message
				pairs = append(pairs, []types.Turn{turn})
			}
		}
	}
	return pairs
}
