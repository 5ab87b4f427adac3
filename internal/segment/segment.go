// Package segment implements C6: the live segmenter that incrementally
// partitions a transcript into bounded semantic segments with per-segment
// summaries. Grounded on the teacher's internal/session/compaction.go
// budget-walking idiom (generalized here from "prune when over budget" to
// "close a segment when a boundary condition fires") and reusing the
// same closed-vocabulary topic/file/decision extraction as C5 via
// internal/signals.
package segment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Dhanuzh/dcode-hooks/internal/signals"
	"github.com/Dhanuzh/dcode-hooks/internal/transcript"
)

// Boundary type discriminators (§4.6.1).
const (
	BoundaryMaxLines      = "max_lines"
	BoundaryTimeGap       = "time_gap"
	BoundaryTaskCompleted = "task_completed"
	BoundaryNewTopic      = "new_topic"
)

// Segment is one finalized, immutable slice of the transcript together
// with its summary payload (§4.6.2).
type Segment struct {
	ID           string         `json:"id"`
	StartLine    int            `json:"start_line"`
	EndLine      int            `json:"end_line"` // exclusive
	LineCount    int            `json:"line_count"`
	Timestamp    time.Time      `json:"timestamp,omitempty"`
	BoundaryType string         `json:"boundary_type"`
	Topics       []string       `json:"topics"`
	Files        []string       `json:"files"`
	Tools        map[string]int `json:"tools"`
	Decisions    []string       `json:"decisions"`
	Summary      string         `json:"summary"`
}

// activeSegment holds only the lightweight stats that survive between
// runs (§4.6.2: "the message buffer is not persisted between runs").
type activeSegment struct {
	ID        string `json:"id"`
	StartLine int    `json:"start_line"`
	LineCount int    `json:"line_count"`
}

// Index is the on-disk segment index for one transcript (§6.2).
type Index struct {
	LastIndexedLine int            `json:"last_indexed_line"`
	Finalized       []Segment      `json:"finalized"`
	Active          *activeSegment `json:"active,omitempty"`

	// LastMessageType/LastMessageTime carry just enough boundary-policy
	// state across runs to evaluate the time_gap and new_topic rules
	// without re-reading the whole active segment on every Stop.
	LastMessageType string     `json:"last_message_type,omitempty"`
	LastMessageTime *time.Time `json:"last_message_time,omitempty"`
}

// Thresholds configures the boundary policy (§4.6.1), sourced from
// config.Config's segment_* fields.
type Thresholds struct {
	MaxLines      int
	MinLines      int
	TimeGap       time.Duration
	NewTopicChars int
}

func newIndex() *Index {
	return &Index{}
}

func indexPath(stateDir, transcriptPath string) string {
	name := strings.TrimSuffix(filepath.Base(transcriptPath), filepath.Ext(transcriptPath))
	return filepath.Join(stateDir, "segments", name+".json")
}

// Load reads the segment index for transcriptPath, or returns a fresh
// empty index if none exists yet or the file is corrupt (§3.2).
func Load(stateDir, transcriptPath string) (*Index, error) {
	data, err := os.ReadFile(indexPath(stateDir, transcriptPath))
	if err != nil {
		if os.IsNotExist(err) {
			return newIndex(), nil
		}
		return nil, fmt.Errorf("read segment index: %w", err)
	}
	idx := newIndex()
	if err := json.Unmarshal(data, idx); err != nil {
		return newIndex(), nil
	}
	return idx, nil
}

// Save persists idx via temp-then-rename so a write failure leaves the
// prior consistent state on disk (§4.6.4).
func Save(stateDir, transcriptPath string, idx *Index) error {
	path := indexPath(stateDir, transcriptPath)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create segment dir: %w", err)
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// pendingMsg is one message still awaiting a boundary decision, carried
// only within a single Update call.
type pendingMsg struct {
	line int
	msg  transcript.Message
}

// Update implements §4.6's incremental segmentation: read every new
// message from idx.LastIndexedLine forward, apply the boundary policy,
// finalize segments as boundaries fire, and leave idx in a state where
// LastIndexedLine equals the transcript's current line count (§4.6.3).
func Update(idx *Index, transcriptPath string, th Thresholds) error {
	r := transcript.Open(transcriptPath)

	if idx.Active == nil {
		idx.Active = &activeSegment{ID: uuid.NewString(), StartLine: idx.LastIndexedLine}
	}

	for line, msg := range r.FromLine(idx.LastIndexedLine) {
		if msg.Type != transcript.TypeUser && msg.Type != transcript.TypeAssistant {
			// snapshot/summary: occupies a line slot but never a boundary
			// candidate (§4.6: "skipping snapshot/summary record types").
			idx.Active.LineCount = line - idx.Active.StartLine + 1
			continue
		}

		L := idx.Active.LineCount
		boundary := classify(L, msg, idx, th)

		if boundary != "" {
			endLine := line // exclusive: everything before this message
			if err := finalize(idx, transcriptPath, endLine, boundary); err != nil {
				return err
			}
			idx.Active = &activeSegment{ID: uuid.NewString(), StartLine: line, LineCount: 1}
		} else {
			idx.Active.LineCount = line - idx.Active.StartLine + 1
		}

		idx.LastMessageType = msg.Type
		idx.LastMessageTime = msg.Timestamp
	}

	lineCount, err := transcript.LineCount(transcriptPath)
	if err != nil {
		return fmt.Errorf("line count: %w", err)
	}
	idx.LastIndexedLine = lineCount
	return nil
}

// classify applies the §4.6.1 boundary policy in order and returns the
// boundary type that fired, or "" if msg should just append to active.
func classify(L int, msg transcript.Message, idx *Index, th Thresholds) string {
	if L >= th.MaxLines {
		return BoundaryMaxLines
	}
	if L < th.MinLines {
		return ""
	}
	if msg.Timestamp != nil && idx.LastMessageTime != nil {
		if msg.Timestamp.Sub(*idx.LastMessageTime) > th.TimeGap {
			return BoundaryTimeGap
		}
	}
	if msg.Type == transcript.TypeAssistant && hasCompletedTodo(msg) {
		return BoundaryTaskCompleted
	}
	if msg.Type == transcript.TypeUser && idx.LastMessageType == transcript.TypeAssistant && len(msg.Body) > th.NewTopicChars {
		return BoundaryNewTopic
	}
	return ""
}

// hasCompletedTodo reports whether msg contains a TodoWrite-style tool
// invocation whose input records any item with status "completed"
// (§4.6.1 rule 4).
func hasCompletedTodo(msg transcript.Message) bool {
	for _, item := range msg.Items {
		if !item.IsTool || !signals.TaskTrackingTools[item.ToolName] {
			continue
		}
		todos, ok := item.ToolInput["todos"].([]any)
		if !ok {
			continue
		}
		for _, t := range todos {
			entry, ok := t.(map[string]any)
			if !ok {
				continue
			}
			if status, _ := entry["status"].(string); status == "completed" {
				return true
			}
		}
	}
	return false
}

// finalize closes the active segment over [active.StartLine, endLine),
// re-reading the transcript to build its summary payload since the
// message buffer isn't kept across runs (§4.6.2).
func finalize(idx *Index, transcriptPath string, endLine int, boundaryType string) error {
	start := idx.Active.StartLine
	if endLine <= start {
		// Degenerate: a boundary fired with nothing yet in the active
		// segment. Treat as a zero-length no-op rather than emit an empty
		// segment — this can only happen if min_lines is misconfigured to 0.
		return nil
	}

	r := transcript.Open(transcriptPath)
	seg := Segment{
		ID:           idx.Active.ID,
		StartLine:    start,
		EndLine:      endLine,
		LineCount:    endLine - start,
		BoundaryType: boundaryType,
		Tools:        make(map[string]int),
	}

	topicSet := make(map[string]bool)
	fileSet := make(map[string]bool)
	toolCounts := make(map[string]int)
	var decisions []string

	for line, msg := range r.FromLine(start) {
		if line >= endLine {
			break
		}
		if msg.Timestamp != nil {
			seg.Timestamp = *msg.Timestamp
		}
		switch msg.Type {
		case transcript.TypeUser:
			for _, t := range signals.ExtractTopics(msg.Body) {
				topicSet[t] = true
			}
			for _, f := range signals.ExtractFilePaths(msg.Body) {
				fileSet[f] = true
			}
		case transcript.TypeAssistant:
			for _, item := range msg.Items {
				if item.IsTool {
					toolCounts[item.ToolName]++
					for _, v := range item.ToolInput {
						if s, ok := v.(string); ok {
							for _, f := range signals.ExtractFilePaths(s) {
								fileSet[f] = true
							}
						}
					}
					continue
				}
				for _, t := range signals.ExtractTopics(item.Text) {
					topicSet[t] = true
				}
				for _, f := range signals.ExtractFilePaths(item.Text) {
					fileSet[f] = true
				}
				if len(decisions) < 5 {
					for _, d := range signals.ExtractDecisions(item.Text, 5-len(decisions)) {
						decisions = append(decisions, d)
					}
				}
			}
		}
	}

	seg.Topics = sortedKeys(topicSet)
	seg.Files = sortedKeys(fileSet)
	seg.Tools = topTools(toolCounts, 5)
	seg.Decisions = decisions
	seg.Summary = buildSummary(seg.Topics, seg.Files, seg.Tools)

	idx.Finalized = append(idx.Finalized, seg)
	return nil
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func topTools(counts map[string]int, max int) map[string]int {
	type kv struct {
		name  string
		count int
	}
	list := make([]kv, 0, len(counts))
	for k, v := range counts {
		list = append(list, kv{k, v})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].name < list[j].name
	})
	out := make(map[string]int)
	for i := 0; i < max && i < len(list); i++ {
		out[list[i].name] = list[i].count
	}
	return out
}

// buildSummary constructs the "Topics: a, b | Files: N | Tools: x, y"
// string (§4.6.2), or "General discussion" if nothing was extracted.
func buildSummary(topics, files []string, tools map[string]int) string {
	var parts []string
	if len(topics) > 0 {
		parts = append(parts, "Topics: "+strings.Join(topics, ", "))
	}
	if len(files) > 0 {
		parts = append(parts, fmt.Sprintf("Files: %d", len(files)))
	}
	if len(tools) > 0 {
		names := make([]string, 0, len(tools))
		for k := range tools {
			names = append(names, k)
		}
		sort.Strings(names)
		parts = append(parts, "Tools: "+strings.Join(names, ", "))
	}
	if len(parts) == 0 {
		return "General discussion"
	}
	return strings.Join(parts, " | ")
}
