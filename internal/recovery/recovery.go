// Package recovery implements C7: the SessionStart recovery engine that
// reconstructs working context after a compaction/resume by combining
// the persistence store, the segment index, and literal transcript
// excerpts. Grounded on the teacher's internal/session/compaction.go
// PruneToolOutputs, whose "walk items, estimate cost, stop at budget"
// shape is reused here as a segment-selection budget walk instead of a
// tool-output pruning walk.
package recovery

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Dhanuzh/dcode-hooks/internal/persistence"
	"github.com/Dhanuzh/dcode-hooks/internal/segment"
	"github.com/Dhanuzh/dcode-hooks/internal/signals"
	"github.com/Dhanuzh/dcode-hooks/internal/transcript"
)

// Config carries the tunable knobs behind §4.7's budget and truncation
// figures, sourced from config.Config's recovery_* fields.
type Config struct {
	CharBudget      int
	FileTruncChars  int
	MessageTrunc    int
	LineCostEstimate int
}

const recoveryDelimiter = "---"

// scoredSegment pairs a finalized segment with its §4.7 step-4 score.
// Ties break by insertion order via sort.SliceStable (§4.7.2).
type scoredSegment struct {
	seg   segment.Segment
	score int
}

// Build assembles the recovery block described in §4.7 steps 1-6. now is
// threaded through explicitly (rather than calling time.Now internally)
// so recency scoring is reproducible given the same inputs (§4.7.2).
func Build(store *persistence.Store, transcriptPath string, segIdx *segment.Index, cfg Config, now time.Time) string {
	var blocks []string

	goal := store.ReadGoal()
	tasksRaw := store.ReadTasks()
	learnings := store.ReadLearnings()

	if goal != "" {
		blocks = append(blocks, "## Goal\n"+persistence.Truncate(goal, cfg.FileTruncChars))
	}
	if tasksRaw != "" {
		blocks = append(blocks, "## Tasks\n"+persistence.Truncate(tasksRaw, cfg.FileTruncChars))
	}
	if learnings != "" {
		blocks = append(blocks, "## Learnings\n"+persistence.Truncate(learnings, cfg.FileTruncChars))
	}

	persistenceBlock := strings.Join(blocks, "\n\n")

	if segIdx == nil || len(segIdx.Finalized) == 0 {
		return persistenceBlock
	}

	pendingTasks := persistence.ExtractPendingTasks(tasksRaw)

	scored := make([]scoredSegment, len(segIdx.Finalized))
	for i, seg := range segIdx.Finalized {
		scored[i] = scoredSegment{seg: seg, score: scoreSegment(seg, pendingTasks, now)}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	var segSections []string
	budget := cfg.CharBudget
	spent := 0
	for _, s := range scored {
		estimate := s.seg.LineCount * cfg.LineCostEstimate
		if spent+estimate > budget {
			continue
		}
		excerpt := extractContent(transcriptPath, s.seg, cfg.MessageTrunc)
		section := formatSection(s.seg, s.score, excerpt)
		spent += len(excerpt)
		segSections = append(segSections, section)
		if spent >= budget {
			break
		}
	}

	if persistenceBlock == "" {
		return strings.Join(segSections, "\n\n")
	}
	if len(segSections) == 0 {
		return persistenceBlock
	}
	return persistenceBlock + "\n\n" + recoveryDelimiter + "\n\n" + strings.Join(segSections, "\n\n")
}

// scoreSegment implements §4.7 step 4.
func scoreSegment(seg segment.Segment, pendingTasks []string, now time.Time) int {
	score := 0

	if !seg.Timestamp.IsZero() {
		hours := now.Sub(seg.Timestamp).Hours()
		recency := 50 - int(hours*5)
		if recency > 0 {
			score += recency
		}
	}

	topicSet := make(map[string]bool, len(seg.Topics))
	for _, t := range seg.Topics {
		topicSet[t] = true
	}
	for _, task := range pendingTasks {
		overlap := 0
		for w := range signals.Tokenize(task) {
			if topicSet[w] {
				overlap++
			}
		}
		score += 10 * overlap
	}

	for tool := range seg.Tools {
		if signals.FileWritingTools[tool] {
			score += 15
			break
		}
	}
	for tool := range seg.Tools {
		if signals.TaskTrackingTools[tool] {
			score += 5
			break
		}
	}

	if len(seg.Decisions) > 0 {
		score += 10
	}

	switch seg.BoundaryType {
	case segment.BoundaryTaskCompleted:
		score += 10
	case segment.BoundaryNewTopic:
		score += 5
	}

	return score
}

// formatSection implements §4.7 step 6's per-segment section: id,
// numeric score, topics, summary, and the literal excerpt.
func formatSection(seg segment.Segment, score int, excerpt string) string {
	return strings.Join([]string{
		fmt.Sprintf("### Segment %s (score %d)", seg.ID, score),
		"Topics: " + strings.Join(seg.Topics, ", "),
		"Summary: " + seg.Summary,
		excerpt,
	}, "\n")
}

// extractContent implements §4.7.1: re-open the transcript and walk the
// segment's line range, emitting a compact, literal, newline-joined
// transcript rather than raw JSON.
func extractContent(transcriptPath string, seg segment.Segment, msgTrunc int) string {
	var lines []string
	r := transcript.Open(transcriptPath)
	for line, msg := range r.FromLine(seg.StartLine) {
		if line >= seg.EndLine {
			break
		}
		switch msg.Type {
		case transcript.TypeUser:
			lines = append(lines, "USER: "+truncate(msg.Body, msgTrunc))
		case transcript.TypeAssistant:
			completed := 0
			working := 0
			for _, item := range msg.Items {
				if !item.IsTool {
					if item.Text != "" {
						lines = append(lines, "ASSISTANT: "+truncate(item.Text, msgTrunc))
					}
					continue
				}
				if signals.FileWritingTools[item.ToolName] {
					if path, ok := stringField(item.ToolInput, "file_path", "path"); ok {
						lines = append(lines, "[Modified: "+basename(path)+"]")
					}
					continue
				}
				if signals.TaskTrackingTools[item.ToolName] {
					todos, _ := item.ToolInput["todos"].([]any)
					for _, t := range todos {
						entry, ok := t.(map[string]any)
						if !ok {
							continue
						}
						status, _ := entry["status"].(string)
						content, _ := entry["content"].(string)
						switch status {
						case "completed":
							if completed < 3 {
								lines = append(lines, "[Completed: "+content+"]")
								completed++
							}
						case "in_progress":
							if working < 2 {
								lines = append(lines, "[Working on: "+content+"]")
								working++
							}
						}
					}
				}
			}
		}
	}
	return strings.Join(lines, "\n")
}

func stringField(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

func basename(path string) string {
	idx := strings.LastIndexAny(path, "/\\")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
