package signals

import "testing"

func TestExtractFilePaths(t *testing.T) {
	text := "I edited `internal/segment/segment.go` and also \"README.md\" just now."
	got := ExtractFilePaths(text)
	want := []string{"internal/segment/segment.go", "README.md"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestExtractTopics(t *testing.T) {
	got := ExtractTopics("Let's wire up the skill matching hooks and history index")
	found := make(map[string]bool)
	for _, t := range got {
		found[t] = true
	}
	for _, want := range []string{"skill", "hooks", "history", "index"} {
		if !found[want] {
			t.Errorf("expected topic %q in %v", want, got)
		}
	}
}

func TestFileStem(t *testing.T) {
	if got := FileStem("internal/segment/segment.go"); got != "segment" {
		t.Errorf("got %q", got)
	}
}

func TestTokenizeSplitsOnDashUnderscore(t *testing.T) {
	got := Tokenize("hono-bun-sqlite_api REST")
	for _, want := range []string{"hono", "bun", "sqlite", "api", "rest"} {
		if !got[want] {
			t.Errorf("expected token %q in %v", want, got)
		}
	}
}

func TestErrorThenSuccessSignals(t *testing.T) {
	if !IsErrorSignal("typeerror: cannot read property") {
		t.Error("expected typeerror to be an error signal")
	}
	if !IsSuccessSignal("tests passed, all fixed now") {
		t.Error("expected 'fixed' to be a success signal")
	}
	if IsSuccessSignal("nothing relevant here") {
		t.Error("unexpected success signal")
	}
}

func TestExtractDecisionsRespectsLengthBounds(t *testing.T) {
	text := "I'll use zerolog for structured logging since it pairs well with lumberjack."
	got := ExtractDecisions(text, 5)
	if len(got) == 0 {
		t.Fatal("expected at least one decision phrase")
	}
	for _, d := range got {
		if len(d) < 10 || len(d) > 200 {
			t.Errorf("decision phrase out of bounds: %q", d)
		}
	}
}
