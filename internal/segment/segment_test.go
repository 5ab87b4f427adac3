package segment

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	data := ""
	for _, l := range lines {
		data += l + "\n"
	}
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
}

func appendLines(t *testing.T, path string, lines []string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	for _, l := range lines {
		if _, err := f.WriteString(l + "\n"); err != nil {
			t.Fatal(err)
		}
	}
}

func userMsg(ts, body string) string {
	b, _ := json.Marshal(map[string]any{
		"type": "user", "timestamp": ts,
		"message": map[string]any{"role": "user", "content": body},
	})
	return string(b)
}

func assistantText(ts, text string) string {
	b, _ := json.Marshal(map[string]any{
		"type": "assistant", "timestamp": ts,
		"message": map[string]any{
			"role":    "assistant",
			"content": []map[string]any{{"type": "text", "text": text}},
		},
	})
	return string(b)
}

func assistantTodo(ts string, todos []map[string]any) string {
	b, _ := json.Marshal(map[string]any{
		"type": "assistant", "timestamp": ts,
		"message": map[string]any{
			"role": "assistant",
			"content": []map[string]any{
				{"type": "tool_use", "name": "TodoWrite", "input": map[string]any{"todos": todos}},
			},
		},
	})
	return string(b)
}

var defaultThresholds = Thresholds{MaxLines: 100, MinLines: 10, TimeGap: 5 * time.Minute, NewTopicChars: 50}

func TestBoundaryMaxLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.jsonl")
	var lines []string
	base := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 100; i++ {
		lines = append(lines, assistantText(base.Add(time.Duration(i)*time.Second).Format(time.RFC3339), "working on it"))
	}
	// one more line to trigger max_lines boundary
	lines = append(lines, assistantText(base.Add(200*time.Second).Format(time.RFC3339), "still going"))
	writeLines(t, path, lines)

	idx := newIndex()
	th := Thresholds{MaxLines: 100, MinLines: 10, TimeGap: 5 * time.Minute, NewTopicChars: 50}
	if err := Update(idx, path, th); err != nil {
		t.Fatal(err)
	}
	if len(idx.Finalized) != 1 {
		t.Fatalf("expected 1 finalized segment, got %d", len(idx.Finalized))
	}
	if idx.Finalized[0].BoundaryType != BoundaryMaxLines {
		t.Errorf("expected max_lines boundary, got %s", idx.Finalized[0].BoundaryType)
	}
	if idx.Finalized[0].LineCount != 100 {
		t.Errorf("expected 100-line segment, got %d", idx.Finalized[0].LineCount)
	}
}

func TestBoundaryTimeGap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.jsonl")
	base := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, assistantText(base.Add(time.Duration(i)*time.Second).Format(time.RFC3339), "msg"))
	}
	lines = append(lines, assistantText(base.Add(time.Hour).Format(time.RFC3339), "after a big gap"))
	writeLines(t, path, lines)

	idx := newIndex()
	if err := Update(idx, path, defaultThresholds); err != nil {
		t.Fatal(err)
	}
	if len(idx.Finalized) != 1 || idx.Finalized[0].BoundaryType != BoundaryTimeGap {
		t.Fatalf("expected time_gap boundary, got %+v", idx.Finalized)
	}
}

func TestBoundaryTaskCompleted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.jsonl")
	base := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, assistantText(base.Add(time.Duration(i)*time.Second).Format(time.RFC3339), "msg"))
	}
	lines = append(lines, assistantTodo(base.Add(11*time.Second).Format(time.RFC3339), []map[string]any{
		{"content": "fix the bug", "status": "completed"},
	}))
	writeLines(t, path, lines)

	idx := newIndex()
	if err := Update(idx, path, defaultThresholds); err != nil {
		t.Fatal(err)
	}
	if len(idx.Finalized) != 1 || idx.Finalized[0].BoundaryType != BoundaryTaskCompleted {
		t.Fatalf("expected task_completed boundary, got %+v", idx.Finalized)
	}
}

func TestBoundaryNewTopic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.jsonl")
	base := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, assistantText(base.Add(time.Duration(i)*time.Second).Format(time.RFC3339), "msg"))
	}
	longBody := "this is a brand new topic that is definitely longer than fifty characters for sure"
	lines = append(lines, userMsg(base.Add(11*time.Second).Format(time.RFC3339), longBody))
	writeLines(t, path, lines)

	idx := newIndex()
	if err := Update(idx, path, defaultThresholds); err != nil {
		t.Fatal(err)
	}
	if len(idx.Finalized) != 1 || idx.Finalized[0].BoundaryType != BoundaryNewTopic {
		t.Fatalf("expected new_topic boundary, got %+v", idx.Finalized)
	}
}

func TestBelowMinLinesNeverBoundary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.jsonl")
	base := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	lines := []string{
		assistantText(base.Format(time.RFC3339), "msg1"),
		assistantText(base.Add(time.Hour).Format(time.RFC3339), "msg2 after a huge gap"),
	}
	writeLines(t, path, lines)

	idx := newIndex()
	if err := Update(idx, path, defaultThresholds); err != nil {
		t.Fatal(err)
	}
	if len(idx.Finalized) != 0 {
		t.Errorf("expected no boundary below min_lines, got %+v", idx.Finalized)
	}
	if idx.Active.LineCount != 2 {
		t.Errorf("expected active line count 2, got %d", idx.Active.LineCount)
	}
}

func TestIncrementalInvariantLastIndexedLineMatchesFileLineCount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.jsonl")
	base := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	writeLines(t, path, []string{assistantText(base.Format(time.RFC3339), "hello")})

	idx := newIndex()
	if err := Update(idx, path, defaultThresholds); err != nil {
		t.Fatal(err)
	}
	if idx.LastIndexedLine != 1 {
		t.Fatalf("expected last_indexed_line 1, got %d", idx.LastIndexedLine)
	}

	appendLines(t, path, []string{assistantText(base.Add(time.Second).Format(time.RFC3339), "world")})
	if err := Update(idx, path, defaultThresholds); err != nil {
		t.Fatal(err)
	}
	if idx.LastIndexedLine != 2 {
		t.Fatalf("expected last_indexed_line 2, got %d", idx.LastIndexedLine)
	}
}

func TestSkipsSnapshotAndSummaryLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.jsonl")
	b, _ := json.Marshal(map[string]any{"type": "file-history-snapshot"})
	lines := []string{string(b), userMsg("2026-07-01T10:00:00Z", "hello there")}
	writeLines(t, path, lines)

	idx := newIndex()
	if err := Update(idx, path, defaultThresholds); err != nil {
		t.Fatal(err)
	}
	if idx.Active.LineCount != 2 {
		t.Errorf("expected snapshot line still counted toward line range, got %d", idx.Active.LineCount)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	stateDir := t.TempDir()
	transcriptDir := t.TempDir()
	path := filepath.Join(transcriptDir, "sess1.jsonl")
	writeLines(t, path, []string{assistantText("2026-07-01T10:00:00Z", "hello")})

	idx := newIndex()
	if err := Update(idx, path, defaultThresholds); err != nil {
		t.Fatal(err)
	}
	if err := Save(stateDir, path, idx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(stateDir, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.LastIndexedLine != idx.LastIndexedLine {
		t.Errorf("round trip mismatch: %d vs %d", loaded.LastIndexedLine, idx.LastIndexedLine)
	}
}

func TestLoadMissingIndexIsEmptyNotError(t *testing.T) {
	idx, err := Load(t.TempDir(), filepath.Join(t.TempDir(), "nope.jsonl"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if idx.LastIndexedLine != 0 || idx.Active != nil {
		t.Errorf("expected fresh empty index, got %+v", idx)
	}
}

func TestSummaryFallsBackToGeneralDiscussion(t *testing.T) {
	got := buildSummary(nil, nil, nil)
	if got != "General discussion" {
		t.Errorf("got %q", got)
	}
}
