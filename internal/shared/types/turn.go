package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies the author of a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Source tags a turn with the channel that produced it. The zero value is
// the main channel; a non-empty Window means the turn belongs to that
// window's thread. Never mutated after a turn is appended.
type Source struct {
	Window string
}

// MainSource returns the main-channel source tag
func MainSource() Source {
	return Source{}
}

// WindowSource returns the source tag for a window channel
func WindowSource(windowID string) Source {
	return Source{Window: windowID}
}

// IsMain reports whether the source is the main channel
func (s Source) IsMain() bool {
	return s.Window == ""
}

// Equal reports whether two sources refer to the same channel
func (s Source) Equal(other Source) bool {
	return s.Window == other.Window
}

// String renders "main" or "window:<id>"
func (s Source) String() string {
	if s.IsMain() {
		return "main"
	}
	return "window:" + s.Window
}

// MarshalJSON encodes the main channel as "main" and window channels as
// {"window": "<id>"}, matching the persisted session log format.
func (s Source) MarshalJSON() ([]byte, error) {
	if s.IsMain() {
		return json.Marshal("main")
	}
	return json.Marshal(map[string]string{"window": s.Window})
}

// UnmarshalJSON accepts both encodings produced by MarshalJSON
func (s *Source) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if str != "main" {
			return fmt.Errorf("unknown source %q", str)
		}
		*s = Source{}
		return nil
	}

	var obj struct {
		Window string `json:"window"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("malformed source: %w", err)
	}
	*s = Source{Window: obj.Window}
	return nil
}

// Turn is one conversation message on the tape
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Source    Source    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}
