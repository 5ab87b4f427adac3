package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMatchesSpecLiterals(t *testing.T) {
	d := Default()
	if d.SkillSuggestionThreshold != 5 {
		t.Errorf("SkillSuggestionThreshold: want 5, got %d", d.SkillSuggestionThreshold)
	}
	if d.SkillStrongThreshold != 10 {
		t.Errorf("SkillStrongThreshold: want 10, got %d", d.SkillStrongThreshold)
	}
	if d.HistoryThreshold != 8 {
		t.Errorf("HistoryThreshold: want 8, got %d", d.HistoryThreshold)
	}
	if d.SegmentMaxLines != 100 || d.SegmentMinLines != 10 {
		t.Errorf("segment bounds: want 100/10, got %d/%d", d.SegmentMaxLines, d.SegmentMinLines)
	}
	if d.RecoveryCharBudget != 8000 {
		t.Errorf("RecoveryCharBudget: want 8000, got %d", d.RecoveryCharBudget)
	}
}

func TestLoadMissingConfigReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvConfigHome, filepath.Join(dir, "nonexistent"))

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SkillStrongThreshold != 10 {
		t.Errorf("expected default threshold when no config file present, got %d", cfg.SkillStrongThreshold)
	}
	if cfg.SourcePath() != "" {
		t.Errorf("expected empty source path, got %q", cfg.SourcePath())
	}
}

func TestLoadOverridesFromProjectFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvConfigHome, filepath.Join(dir, "nonexistent"))

	settings := map[string]any{
		"skill_strong_threshold": 15,
		"segment_max_lines":      200,
	}
	data, err := json.Marshal(settings)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "settings.json"), data, 0644); err != nil {
		t.Fatalf("write settings.json: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SkillStrongThreshold != 15 {
		t.Errorf("SkillStrongThreshold: want 15, got %d", cfg.SkillStrongThreshold)
	}
	if cfg.SegmentMaxLines != 200 {
		t.Errorf("SegmentMaxLines: want 200, got %d", cfg.SegmentMaxLines)
	}
	// Untouched keys keep their defaults.
	if cfg.HistoryThreshold != 8 {
		t.Errorf("HistoryThreshold: want default 8, got %d", cfg.HistoryThreshold)
	}
}

func TestProjectDirPrecedence(t *testing.T) {
	t.Setenv(EnvProjectDir, "/from/env")
	if got := ProjectDir("/from/payload"); got != "/from/env" {
		t.Errorf("env var should win, got %q", got)
	}

	os.Unsetenv(EnvProjectDir)
	if got := ProjectDir("/from/payload"); got != "/from/payload" {
		t.Errorf("payload cwd should win over process cwd, got %q", got)
	}
}
