package assembly

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sorryhyun/yaar/internal/domain/tape"
	"github.com/sorryhyun/yaar/internal/shared/types"
)

func tapeWithMainTurns(n int) *tape.Tape {
	tp := tape.New()
	for i := 1; i <= n; i++ {
		tp.Append(types.RoleUser, fmt.Sprintf("question %d", i), types.MainSource())
		tp.Append(types.RoleAssistant, fmt.Sprintf("answer %d", i), types.MainSource())
	}
	return tp
}

func TestWindowInitialContextWindowing(t *testing.T) {
	tp := tapeWithMainTurns(8)
	p := NewPolicy(0) // default of 5 turns

	out := p.BuildWindowInitialContext(tp, 0)

	for i := 4; i <= 8; i++ {
		if !strings.Contains(out, fmt.Sprintf("question %d", i)) {
			t.Errorf("Turn %d should be included: %s", i, out)
		}
	}
	if strings.Contains(out, "question 3") {
		t.Errorf("Turn 3 should be excluded: %s", out)
	}

	if !strings.HasPrefix(out, "<recent_conversation>") || !strings.HasSuffix(out, "</recent_conversation>") {
		t.Errorf("Output should be wrapped in a recent_conversation block: %s", out)
	}
}

func TestWindowInitialContextOverride(t *testing.T) {
	tp := tapeWithMainTurns(8)
	p := NewPolicy(5)

	out := p.BuildWindowInitialContext(tp, 2)

	if strings.Contains(out, "question 6") {
		t.Errorf("Override of 2 should exclude turn 6: %s", out)
	}
	if !strings.Contains(out, "question 7") || !strings.Contains(out, "question 8") {
		t.Errorf("Override of 2 should include turns 7 and 8: %s", out)
	}
}

func TestWindowInitialContextFewerThanMax(t *testing.T) {
	tp := tapeWithMainTurns(2)
	p := NewPolicy(5)

	out := p.BuildWindowInitialContext(tp, 0)

	// All turns included, no padding, no error
	if !strings.Contains(out, "question 1") || !strings.Contains(out, "question 2") {
		t.Errorf("All available turns should be included: %s", out)
	}
}

func TestWindowInitialContextEmptyTape(t *testing.T) {
	p := NewPolicy(5)

	if out := p.BuildWindowInitialContext(tape.New(), 0); out != "" {
		t.Errorf("Empty tape should produce an empty string, got %q", out)
	}
}

func TestWindowInitialContextIgnoresWindowTurns(t *testing.T) {
	tp := tape.New()
	tp.Append(types.RoleUser, "window chatter", types.WindowSource("w1"))
	p := NewPolicy(5)

	if out := p.BuildWindowInitialContext(tp, 0); out != "" {
		t.Errorf("Window-only tape should produce an empty string, got %q", out)
	}
}

func TestFormatOpenWindows(t *testing.T) {
	p := NewPolicy(5)

	out := p.FormatOpenWindows([]string{"w1", "w2"})
	if out != "<open_windows>w1, w2</open_windows>" {
		t.Errorf("Unexpected rendering: %s", out)
	}

	empty := p.FormatOpenWindows(nil)
	if empty != "<open_windows></open_windows>" {
		t.Errorf("Empty list should still render a valid block: %s", empty)
	}
}

func TestFormatInteractionsForContext(t *testing.T) {
	p := NewPolicy(5)

	out := p.FormatInteractionsForContext([]Interaction{
		{Type: "draw", Content: "sketched a circle"},
		{Type: "click", Content: "pressed submit"},
	})

	if !strings.Contains(out, "<user_interaction:draw>sketched a circle</user_interaction:draw>") {
		t.Errorf("Draw interaction missing: %s", out)
	}
	if !strings.Contains(out, "<user_interaction:click>pressed submit</user_interaction:click>") {
		t.Errorf("Click interaction missing: %s", out)
	}
	if !strings.HasPrefix(out, "<previous_interactions>") {
		t.Errorf("Missing consolidated block wrapper: %s", out)
	}
}
