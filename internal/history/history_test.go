package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTranscript(t *testing.T, dir, name string, lines []string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	data := ""
	for _, l := range lines {
		data += l + "\n"
	}
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func userLine(ts, text string) string {
	body := map[string]any{
		"type":      "user",
		"timestamp": ts,
		"message":   map[string]any{"role": "user", "content": text},
	}
	b, _ := json.Marshal(body)
	return string(b)
}

func assistantToolLine(ts, toolName string, input map[string]any) string {
	body := map[string]any{
		"type":      "assistant",
		"timestamp": ts,
		"message": map[string]any{
			"role": "assistant",
			"content": []map[string]any{
				{"type": "tool_use", "name": toolName, "input": input},
			},
		},
	}
	b, _ := json.Marshal(body)
	return string(b)
}

var testLimits = Limits{MaxTopics: 30, MaxFiles: 20, MaxTools: 10}

func TestRebuildSkipsUnchangedSession(t *testing.T) {
	root := t.TempDir()
	writeTranscript(t, root, "sess1.jsonl", []string{
		userLine("2026-07-01T10:00:00Z", "let's wire up the skill index and hooks"),
	})

	idx := newIndex()
	if err := Rebuild(idx, []string{root}, "subagent", testLimits); err != nil {
		t.Fatal(err)
	}
	rec, ok := idx.Sessions["sess1"]
	if !ok {
		t.Fatal("expected sess1 indexed")
	}
	if rec.LineCount != 1 {
		t.Errorf("want line count 1, got %d", rec.LineCount)
	}

	// Mutate the record to a sentinel; rebuild without changing the file
	// should leave it untouched because the line count hasn't grown.
	idx.Sessions["sess1"] = SessionRecord{LineCount: rec.LineCount, Topics: []string{"sentinel"}}
	if err := Rebuild(idx, []string{root}, "subagent", testLimits); err != nil {
		t.Fatal(err)
	}
	if idx.Sessions["sess1"].Topics[0] != "sentinel" {
		t.Error("expected unchanged session to be skipped, not rescanned")
	}
}

func TestRebuildRescansGrownSession(t *testing.T) {
	root := t.TempDir()
	path := writeTranscript(t, root, "sess1.jsonl", []string{
		userLine("2026-07-01T10:00:00Z", "let's wire up the skill index"),
	})

	idx := newIndex()
	if err := Rebuild(idx, []string{root}, "subagent", testLimits); err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(assistantToolLine("2026-07-01T10:01:00Z", "Write", map[string]any{"file_path": "internal/history/history.go"}) + "\n")
	f.Close()

	if err := Rebuild(idx, []string{root}, "subagent", testLimits); err != nil {
		t.Fatal(err)
	}
	rec := idx.Sessions["sess1"]
	if rec.LineCount != 2 {
		t.Fatalf("want line count 2, got %d", rec.LineCount)
	}
	if rec.ToolsUsed["Write"] != 1 {
		t.Errorf("expected Write tool counted, got %+v", rec.ToolsUsed)
	}
	found := false
	for _, f := range rec.FilesTouched {
		if f == "internal/history/history.go" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected file extracted from tool input, got %v", rec.FilesTouched)
	}
}

func TestRebuildExcludesSubagentTranscripts(t *testing.T) {
	root := t.TempDir()
	writeTranscript(t, root, "sess1.jsonl", []string{userLine("2026-07-01T10:00:00Z", "history index work")})
	writeTranscript(t, root, "sess2.subagent.jsonl", []string{userLine("2026-07-01T10:00:00Z", "history index work")})

	idx := newIndex()
	if err := Rebuild(idx, []string{root}, "subagent", testLimits); err != nil {
		t.Fatal(err)
	}
	if len(idx.Sessions) != 1 {
		t.Fatalf("expected 1 session indexed, got %d: %+v", len(idx.Sessions), idx.Sessions)
	}
}

func TestSearchScopesToCurrentProject(t *testing.T) {
	projectA := t.TempDir()
	projectB := t.TempDir()
	writeTranscript(t, projectA, "sess1.jsonl", []string{
		userLine("2026-07-30T10:00:00Z", "let's wire up the skill matching hooks and history index"),
	})
	writeTranscript(t, projectB, "sess2.jsonl", []string{
		userLine("2026-07-30T10:00:00Z", "let's wire up the skill matching hooks and history index"),
	})

	idx := newIndex()
	if err := Rebuild(idx, []string{projectA, projectB}, "subagent", testLimits); err != nil {
		t.Fatal(err)
	}

	results := Search(idx, "tell me about the history index and skill hooks", projectA, 8, 7, 30)
	if len(results) != 1 {
		t.Fatalf("expected 1 result scoped to project A, got %d: %+v", len(results), results)
	}
	if results[0].SessionID != "sess1" {
		t.Errorf("expected sess1, got %s", results[0].SessionID)
	}
}

func TestSearchBelowThresholdExcluded(t *testing.T) {
	root := t.TempDir()
	writeTranscript(t, root, "sess1.jsonl", []string{
		userLine("2026-07-30T10:00:00Z", "random unrelated chit chat about lunch"),
	})
	idx := newIndex()
	if err := Rebuild(idx, []string{root}, "subagent", testLimits); err != nil {
		t.Fatal(err)
	}
	results := Search(idx, "wire up the skill hooks", root, 8, 7, 30)
	if len(results) != 0 {
		t.Errorf("expected no matches, got %+v", results)
	}
}

func TestSearchRecencyBonus(t *testing.T) {
	root := t.TempDir()
	recent := time.Now().Add(-1 * 24 * time.Hour).Format(time.RFC3339)
	writeTranscript(t, root, "sess1.jsonl", []string{
		userLine(recent, "wire up the skill matching hooks and history index together"),
	})
	idx := newIndex()
	if err := Rebuild(idx, []string{root}, "subagent", testLimits); err != nil {
		t.Fatal(err)
	}
	results := Search(idx, "skill hooks history index", root, 8, 7, 30)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	// Four topic hits (skill, hooks, history, index) at +4 each, plus +2
	// for a session dated within the last 7 days.
	if results[0].Score != 18 {
		t.Errorf("expected score 18 including the recency bonus, got %d", results[0].Score)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	projectDir := t.TempDir()
	writeTranscript(t, projectDir, "sess1.jsonl", []string{
		userLine("2026-07-01T10:00:00Z", "wire up the skill index"),
	})

	idx := newIndex()
	if err := Rebuild(idx, []string{projectDir}, "subagent", testLimits); err != nil {
		t.Fatal(err)
	}
	if err := Save(root, idx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Sessions) != 1 {
		t.Fatalf("expected 1 session after reload, got %d", len(loaded.Sessions))
	}
	if loaded.LastIndexed.IsZero() {
		t.Error("expected last_indexed to be set")
	}
}

func TestLoadMissingIndexIsEmptyNotError(t *testing.T) {
	idx, err := Load(filepath.Join(t.TempDir(), "nonexistent"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(idx.Sessions) != 0 {
		t.Errorf("expected empty index")
	}
}

func TestProjectKeyNormalizesRelativeAndAbsolute(t *testing.T) {
	abs := t.TempDir()
	if ProjectKey(abs) != ProjectKey(abs+"/") {
		t.Error("expected trailing slash to normalize identically")
	}
}
