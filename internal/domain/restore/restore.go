// Package restore replays a persisted session log back into the
// conversation tape on process restart.
//
// The pipeline is tolerant by design: a malformed log line is skipped and
// counted, never fatal, so one corrupt record cannot cost the whole
// session. Legacy lines that predate the source field are recovered by
// inferring the window from the agent id.
package restore

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/sorryhyun/yaar/internal/domain/sessionlog"
	"github.com/sorryhyun/yaar/internal/domain/tape"
	"github.com/sorryhyun/yaar/internal/shared/types"
)

// legacyWindowAgent matches agent ids of the form "window-<id>" used
// before records carried an explicit source field
var legacyWindowAgent = regexp.MustCompile(`^window-(.+)$`)

// Policy selects which messages survive a restore. Exactly one of the
// concrete types below is passed; a nil policy means Full.
type Policy interface {
	isRestorePolicy()
}

// Full keeps every message unchanged
type Full struct{}

// MainAndSelectedWindows keeps all main messages plus only the selected
// windows' messages
type MainAndSelectedWindows struct {
	SelectedWindowIDs []string
}

// SummarizeOldWindows keeps main and active windows verbatim and replaces
// each summarized window's history with one synthetic summary message
type SummarizeOldWindows struct {
	ActiveWindowIDs     []string
	SummaryTextByWindow map[string]string
}

func (Full) isRestorePolicy()                   {}
func (MainAndSelectedWindows) isRestorePolicy() {}
func (SummarizeOldWindows) isRestorePolicy()    {}

// Pipeline parses log lines and rebuilds the tape
type Pipeline struct {
	logger *zap.Logger
}

// NewPipeline creates a pipeline; a nil logger falls back to a no-op
func NewPipeline(logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{logger: logger}
}

// ParseLines decodes log lines into records, inferring sources on legacy
// lines. Malformed lines are skipped; the skip count is returned.
func (p *Pipeline) ParseLines(lines [][]byte) ([]sessionlog.Record, int) {
	records := make([]sessionlog.Record, 0, len(lines))
	skipped := 0

	for i, line := range lines {
		record, err := sessionlog.UnmarshalRecord(line)
		if err != nil {
			skipped++
			p.logger.Warn("Skipping malformed session log line",
				zap.Int("line", i+1),
				zap.Error(err),
			)
			continue
		}
		record.Source = inferSource(record)
		records = append(records, record)
	}
	return records, skipped
}

// inferSource fills in missing sources. Records written before the source
// field existed carry only an agent id; "window-<id>" agents map back to
// their window, everything else is the main channel.
func inferSource(record sessionlog.Record) *types.Source {
	if record.Source != nil {
		return record.Source
	}
	if m := legacyWindowAgent.FindStringSubmatch(record.AgentID); m != nil {
		src := types.WindowSource(m[1])
		return &src
	}
	src := types.MainSource()
	return &src
}

// GetContextRestoreMessages applies the restore policy to parsed records.
// A nil policy behaves like Full.
func GetContextRestoreMessages(records []sessionlog.Record, policy Policy) []sessionlog.Record {
	switch pol := policy.(type) {
	case MainAndSelectedWindows:
		selected := make(map[string]bool, len(pol.SelectedWindowIDs))
		for _, id := range pol.SelectedWindowIDs {
			selected[id] = true
		}

		var out []sessionlog.Record
		for _, record := range records {
			if record.Source == nil || record.Source.IsMain() || selected[record.Source.Window] {
				out = append(out, record)
			}
		}
		return out

	case SummarizeOldWindows:
		active := make(map[string]bool, len(pol.ActiveWindowIDs))
		for _, id := range pol.ActiveWindowIDs {
			active[id] = true
		}

		summarized := make(map[string]bool)
		var out []sessionlog.Record
		for _, record := range records {
			if record.Source == nil || record.Source.IsMain() || active[record.Source.Window] {
				out = append(out, record)
				continue
			}

			windowID := record.Source.Window
			summary, hasSummary := pol.SummaryTextByWindow[windowID]
			if !hasSummary {
				// No summary available: keep the raw history
				out = append(out, record)
				continue
			}
			if summarized[windowID] {
				continue
			}
			summarized[windowID] = true

			// One synthetic message stands in for the window's whole
			// history, placed where that history began
			src := types.WindowSource(windowID)
			out = append(out, sessionlog.Record{
				Type:      types.RoleAssistant,
				Timestamp: record.Timestamp,
				AgentID:   record.AgentID,
				Source:    &src,
				Content:   "[window_summary:" + windowID + "] " + strings.TrimSpace(summary),
			})
		}
		return out

	default:
		// Full (or nil): every message unchanged
		return records
	}
}

// ReplayIntoTape converts records to turns and rebuilds the tape
// wholesale, preserving original timestamps and sources
func ReplayIntoTape(records []sessionlog.Record, t *tape.Tape) {
	turns := make([]types.Turn, 0, len(records))
	for _, record := range records {
		source := types.MainSource()
		if record.Source != nil {
			source = *record.Source
		}
		turns = append(turns, types.Turn{
			Role:      record.Type,
			Content:   record.Content,
			Source:    source,
			Timestamp: record.Timestamp,
		})
	}
	t.Restore(turns)
}

// Run reads the store, applies the policy, and rebuilds the tape.
// Returns how many records were restored and how many lines were skipped.
func (p *Pipeline) Run(store *sessionlog.FileStore, policy Policy, t *tape.Tape) (restored, skipped int, err error) {
	lines, err := store.ReadLines()
	if err != nil {
		return 0, 0, err
	}

	records, skipped := p.ParseLines(lines)
	kept := GetContextRestoreMessages(records, policy)
	ReplayIntoTape(kept, t)

	p.logger.Info("Session restored",
		zap.Int("records", len(kept)),
		zap.Int("skipped", skipped),
	)
	return len(kept), skipped, nil
}
