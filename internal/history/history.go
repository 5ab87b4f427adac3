// Package history implements C5: the cross-session searchable index over
// every transcript (topics, files, tool counts), incrementally updated on
// each Stop event, plus §4.5.1's search-side scoring for the
// history-search hook.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Dhanuzh/dcode-hooks/internal/signals"
	"github.com/Dhanuzh/dcode-hooks/internal/transcript"
)

// SessionRecord is one entry in the global session → summary map (§3.1).
type SessionRecord struct {
	Project      string         `json:"project"`
	JSONLPath    string         `json:"jsonl_path"`
	Date         time.Time      `json:"date"`
	LineCount    int            `json:"line_count"`
	Topics       []string       `json:"topics"`
	FilesTouched []string       `json:"files_touched"`
	ToolsUsed    map[string]int `json:"tools_used"`
}

// topicEntry is one row of the inverted topic → sessions index.
type topicEntry struct {
	Session string    `json:"session"`
	Project string    `json:"project"`
	Date    time.Time `json:"date"`
}

// Index is the on-disk structure persisted to history/index.json (§6.2).
type Index struct {
	LastIndexed time.Time                `json:"last_indexed"`
	Sessions    map[string]SessionRecord `json:"sessions"`
	Topics      map[string][]topicEntry  `json:"topics"`
}

// Limits for capped collections (§4.5).
type Limits struct {
	MaxTopics int
	MaxFiles  int
	MaxTools  int
}

func newIndex() *Index {
	return &Index{Sessions: make(map[string]SessionRecord), Topics: make(map[string][]topicEntry)}
}

// Load reads history/index.json under root, or returns an empty index if
// absent or corrupt (§3.2: treat absence as empty).
func Load(root string) (*Index, error) {
	path := filepath.Join(root, "history", "index.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newIndex(), nil
		}
		return nil, fmt.Errorf("read history index: %w", err)
	}
	idx := newIndex()
	if err := json.Unmarshal(data, idx); err != nil {
		return newIndex(), nil
	}
	if idx.Sessions == nil {
		idx.Sessions = make(map[string]SessionRecord)
	}
	if idx.Topics == nil {
		idx.Topics = make(map[string][]topicEntry)
	}
	return idx, nil
}

// Save persists the index via temp-then-rename. A write failure leaves
// the previous index on disk intact (§4.5: "A write failure leaves the
// previous index intact").
func Save(root string, idx *Index) error {
	dir := filepath.Join(root, "history")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	path := filepath.Join(dir, "index.json")
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
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

// ProjectKey normalizes a directory into the project key used to scope
// "current project" session lookups (§4.5.1).
func ProjectKey(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return filepath.Clean(dir)
	}
	return filepath.Clean(abs)
}

// sessionIDFromPath derives a session ID from a transcript's filename
// (the host names transcripts <session-id>.jsonl, §6.2).
func sessionIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Rebuild implements §4.5's incremental update: for each transcript
// under projectRoots (excluding subagent transcripts), re-scan only if
// its current line count exceeds the recorded one, then rebuild the
// inverted topic index from scratch.
func Rebuild(idx *Index, projectRoots []string, subagentMarker string, limits Limits) error {
	for _, root := range projectRoots {
		for _, path := range transcript.ListSessions([]string{root}, subagentMarker) {
			id := sessionIDFromPath(path)
			lineCount, err := transcript.LineCount(path)
			if err != nil {
				continue // unreadable transcript: skip, don't abort the scan (§4.5.1 parsing errors)
			}
			if prior, ok := idx.Sessions[id]; ok && lineCount <= prior.LineCount {
				continue
			}
			rec := scanSession(path, root, lineCount, limits)
			idx.Sessions[id] = rec
		}
	}
	idx.Topics = buildInvertedIndex(idx.Sessions)
	idx.LastIndexed = time.Now()
	return nil
}

func scanSession(path, project string, lineCount int, limits Limits) SessionRecord {
	rec := SessionRecord{
		Project:   project,
		JSONLPath: path,
		LineCount: lineCount,
		ToolsUsed: make(map[string]int),
	}

	topicSet := make(map[string]bool)
	fileSet := make(map[string]bool)
	var topics []string
	var files []string
	dateSet := false

	addTopic := func(t string) {
		if !topicSet[t] && len(topics) < limits.MaxTopics {
			topicSet[t] = true
			topics = append(topics, t)
		}
	}
	addFile := func(f string) {
		if !fileSet[f] && len(files) < limits.MaxFiles {
			fileSet[f] = true
			files = append(files, f)
		}
	}

	for msg := range transcript.Open(path).All() {
		if !dateSet && msg.Timestamp != nil {
			rec.Date = *msg.Timestamp
			dateSet = true
		}
		switch msg.Type {
		case transcript.TypeUser:
			for _, t := range signals.ExtractTopics(msg.Body) {
				addTopic(t)
			}
			for _, f := range signals.ExtractFilePaths(msg.Body) {
				addFile(f)
				addTopic(signals.FileStem(f))
			}
		case transcript.TypeAssistant:
			for _, item := range msg.Items {
				if item.IsTool {
					rec.ToolsUsed[item.ToolName]++
					for _, v := range item.ToolInput {
						if s, ok := v.(string); ok {
							for _, t := range signals.ExtractTopics(s) {
								addTopic(t)
							}
							for _, f := range signals.ExtractFilePaths(s) {
								addFile(f)
								addTopic(signals.FileStem(f))
							}
							// A field holding a bare path (such as file_path)
							// is matched as if it were backticked.
							for _, f := range signals.ExtractFilePaths("`" + s + "`") {
								addFile(f)
								addTopic(signals.FileStem(f))
							}
						}
					}
					continue
				}
				for _, t := range signals.ExtractTopics(item.Text) {
					addTopic(t)
				}
				for _, f := range signals.ExtractFilePaths(item.Text) {
					addFile(f)
					addTopic(signals.FileStem(f))
				}
			}
		}
	}

	rec.Topics = topics
	rec.FilesTouched = files
	rec.ToolsUsed = capTools(rec.ToolsUsed, limits.MaxTools)
	return rec
}

// capTools keeps only the top-N tools by frequency (§4.5).
func capTools(tools map[string]int, max int) map[string]int {
	if len(tools) <= max {
		return tools
	}
	type kv struct {
		name  string
		count int
	}
	list := make([]kv, 0, len(tools))
	for k, v := range tools {
		list = append(list, kv{k, v})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].count > list[j].count })
	out := make(map[string]int, max)
	for i := 0; i < max && i < len(list); i++ {
		out[list[i].name] = list[i].count
	}
	return out
}

func buildInvertedIndex(sessions map[string]SessionRecord) map[string][]topicEntry {
	inverted := make(map[string][]topicEntry)
	for id, rec := range sessions {
		for _, topic := range rec.Topics {
			inverted[topic] = append(inverted[topic], topicEntry{Session: id, Project: rec.Project, Date: rec.Date})
		}
	}
	for topic := range inverted {
		entries := inverted[topic]
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Date.After(entries[j].Date) })
		inverted[topic] = entries
	}
	return inverted
}

// ScoredSession is one result of Search (§4.5.1).
type ScoredSession struct {
	SessionID string
	Record    SessionRecord
	Score     int
}

// Search implements §4.5.1: score every session in the current project
// against prompt, returning matches at or above threshold sorted by
// score descending (stable by insertion/map-iteration order broken by a
// secondary sort on session ID for determinism).
func Search(idx *Index, prompt, cwd string, threshold, recentDays, windowDays int) []ScoredSession {
	projectKey := ProjectKey(cwd)
	tokens := tokenizeMinusStopWords(prompt)

	var out []ScoredSession
	for id, rec := range idx.Sessions {
		if ProjectKey(rec.Project) != projectKey {
			continue
		}
		score := scoreSession(rec, tokens, recentDays, windowDays)
		if score >= threshold {
			out = append(out, ScoredSession{SessionID: id, Record: rec, Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

func tokenizeMinusStopWords(prompt string) map[string]bool {
	tokens := signals.Tokenize(prompt)
	for w := range signals.StopWords {
		delete(tokens, w)
	}
	return tokens
}

func scoreSession(rec SessionRecord, tokens map[string]bool, recentDays, windowDays int) int {
	score := 0
	for _, topic := range rec.Topics {
		if tokens[topic] {
			score += 4
			continue
		}
		overlap := 0
		for _, w := range strings.Split(topic, "-") {
			if len(w) > 2 && tokens[w] {
				overlap++
			}
		}
		score += 2 * overlap
	}
	for _, f := range rec.FilesTouched {
		stem := signals.FileStem(f)
		if len(stem) > 2 && tokens[strings.ToLower(stem)] {
			score += 3
		}
	}
	if !rec.Date.IsZero() {
		age := time.Since(rec.Date)
		if age <= time.Duration(recentDays)*24*time.Hour {
			score += 2
		} else if age <= time.Duration(windowDays)*24*time.Hour {
			score++
		}
	}
	return score
}
