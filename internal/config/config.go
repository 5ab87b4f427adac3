// Package config loads the tunable knobs behind skill matching, history
// search, live segmentation, recovery, and the RLM pipeline. The scoring
// weights and boundary constants in spec §9 are called out as "tunable
// knobs" rather than hardcoded constants, so every one of them is a viper
// key with the spec's literal default.
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Environment variable names (matches §6.4 — only CLAUDE_PROJECT_DIR is
// part of the wire contract; the rest are this implementation's own
// overrides, named consistently with it).
const (
	EnvProjectDir = "CLAUDE_PROJECT_DIR"
	EnvConfigHome = "CLAUDE_HOOKS_CONFIG_DIR" // optional override for ~/.claude
	EnvConfigFile = "CLAUDE_HOOKS_CONFIG"     // explicit config file path
)

// Config holds every tunable knob used by the hook subsystem.
type Config struct {
	// --- C4 skill matching (§4.4.1) ---
	SkillSuggestionThreshold int `mapstructure:"skill_suggestion_threshold"`
	SkillStrongThreshold     int `mapstructure:"skill_strong_threshold"`
	SkillMaxResults          int `mapstructure:"skill_max_results"`
	SkillRecentDays          int `mapstructure:"skill_recent_days"`

	// --- C5 history search (§4.5.1) ---
	HistoryThreshold   int `mapstructure:"history_threshold"`
	HistoryMaxResults  int `mapstructure:"history_max_results"`
	HistoryMaxTopics   int `mapstructure:"history_max_topics"`
	HistoryMaxFiles    int `mapstructure:"history_max_files"`
	HistoryMaxTools    int `mapstructure:"history_max_tools"`
	HistoryRecentDays  int `mapstructure:"history_recent_days"` // +2 bonus window
	HistoryWindowDays  int `mapstructure:"history_window_days"` // +1 bonus window

	// --- C6 live segmenter boundary policy (§4.6.1) ---
	SegmentMaxLines   int `mapstructure:"segment_max_lines"`
	SegmentMinLines   int `mapstructure:"segment_min_lines"`
	SegmentTimeGapSec int `mapstructure:"segment_time_gap_seconds"`
	SegmentNewTopicMinChars int `mapstructure:"segment_new_topic_min_chars"`

	// --- C7 recovery engine (§4.7) ---
	RecoveryCharBudget      int `mapstructure:"recovery_char_budget"`
	RecoveryFileTruncChars  int `mapstructure:"recovery_file_trunc_chars"`
	RecoveryMessageTrunc    int `mapstructure:"recovery_message_trunc_chars"`
	RecoveryLineCostEstimate int `mapstructure:"recovery_line_cost_estimate"`

	// --- C8 RLM pipeline (§4.8) ---
	RLMChunkSize      int `mapstructure:"rlm_chunk_size"`
	RLMChunkOverlap   int `mapstructure:"rlm_chunk_overlap"`
	RLMLookbackChars  int `mapstructure:"rlm_lookback_chars"`
	RLMBatchSize      int `mapstructure:"rlm_batch_size"`
	RLMAggregateTrunc int `mapstructure:"rlm_aggregate_trunc_chars"`

	// --- C9 event router ---
	HookTimeoutSeconds     int `mapstructure:"hook_timeout_seconds"`
	LargeInputSoftChars    int `mapstructure:"large_input_soft_chars"`
	LargeInputStrongChars  int `mapstructure:"large_input_strong_chars"`
	PendingLearningMaxAgeHours int `mapstructure:"pending_learning_max_age_hours"`

	// --- C10 restricted evaluator ---
	EvaluatorPrintCap int `mapstructure:"evaluator_print_cap"`
	EvaluatorRangeCap int `mapstructure:"evaluator_range_cap"`

	// --- C1 log writer ---
	LogMaxSizeMB  int `mapstructure:"log_max_size_mb"`
	LogMaxBackups int `mapstructure:"log_max_backups"`

	// Populated at load time, not serialized — the config file viper
	// actually loaded.
	sourcePath string
}

// Default returns a Config populated with every literal default named in
// spec.md. Load() starts from this and lets viper override from file/env.
func Default() *Config {
	return &Config{
		SkillSuggestionThreshold: 5,
		SkillStrongThreshold:     10,
		SkillMaxResults:          3,
		SkillRecentDays:          7,

		HistoryThreshold:  8,
		HistoryMaxResults: 3,
		HistoryMaxTopics:  30,
		HistoryMaxFiles:   20,
		HistoryMaxTools:   10,
		HistoryRecentDays: 7,
		HistoryWindowDays: 30,

		SegmentMaxLines:         100,
		SegmentMinLines:         10,
		SegmentTimeGapSec:       5 * 60,
		SegmentNewTopicMinChars: 50,

		RecoveryCharBudget:       8000,
		RecoveryFileTruncChars:   2500,
		RecoveryMessageTrunc:     500,
		RecoveryLineCostEstimate: 100,

		RLMChunkSize:      8000,
		RLMChunkOverlap:   500,
		RLMLookbackChars:  1000,
		RLMBatchSize:      4,
		RLMAggregateTrunc: 5000,

		HookTimeoutSeconds:         60,
		LargeInputSoftChars:        50000,
		LargeInputStrongChars:      150000,
		PendingLearningMaxAgeHours: 24,

		EvaluatorPrintCap: 50000,
		EvaluatorRangeCap: 100000,

		LogMaxSizeMB:  1,
		LogMaxBackups: 3,
	}
}

// Load starts from the defaults and reads at most one settings.json: the
// file named by CLAUDE_HOOKS_CONFIG when set, otherwise the first one
// found in the home config directory and then in projectDir. A project
// file is not read when a home file exists; the two are not merged.
// CLAUDE_HOOKS_* environment variables override both the defaults and the
// file. Mirrors the teacher's viper-based loader (internal/config)
// generalized to this system's keys.
func Load(projectDir string) (*Config, error) {
	v := viper.New()
	def := Default()
	setDefaults(v, def)

	v.SetConfigName("settings")
	v.SetConfigType("json")

	home, err := os.UserHomeDir()
	if err == nil {
		configHome := filepath.Join(home, ".claude")
		if override := os.Getenv(EnvConfigHome); override != "" {
			configHome = override
		}
		v.AddConfigPath(configHome)
	}
	if projectDir != "" {
		v.AddConfigPath(projectDir)
	}

	v.SetEnvPrefix("CLAUDE_HOOKS")
	v.AutomaticEnv()

	if explicit := os.Getenv(EnvConfigFile); explicit != "" {
		v.SetConfigFile(explicit)
	}

	cfg := Default()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Missing config file is not an error (§3.2: "hooks must treat
		// absence as empty, not as error") — defaults and environment
		// overrides still apply.
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	cfg.sourcePath = v.ConfigFileUsed()
	return cfg, nil
}

func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("skill_suggestion_threshold", def.SkillSuggestionThreshold)
	v.SetDefault("skill_strong_threshold", def.SkillStrongThreshold)
	v.SetDefault("skill_max_results", def.SkillMaxResults)
	v.SetDefault("skill_recent_days", def.SkillRecentDays)

	v.SetDefault("history_threshold", def.HistoryThreshold)
	v.SetDefault("history_max_results", def.HistoryMaxResults)
	v.SetDefault("history_max_topics", def.HistoryMaxTopics)
	v.SetDefault("history_max_files", def.HistoryMaxFiles)
	v.SetDefault("history_max_tools", def.HistoryMaxTools)
	v.SetDefault("history_recent_days", def.HistoryRecentDays)
	v.SetDefault("history_window_days", def.HistoryWindowDays)

	v.SetDefault("segment_max_lines", def.SegmentMaxLines)
	v.SetDefault("segment_min_lines", def.SegmentMinLines)
	v.SetDefault("segment_time_gap_seconds", def.SegmentTimeGapSec)
	v.SetDefault("segment_new_topic_min_chars", def.SegmentNewTopicMinChars)

	v.SetDefault("recovery_char_budget", def.RecoveryCharBudget)
	v.SetDefault("recovery_file_trunc_chars", def.RecoveryFileTruncChars)
	v.SetDefault("recovery_message_trunc_chars", def.RecoveryMessageTrunc)
	v.SetDefault("recovery_line_cost_estimate", def.RecoveryLineCostEstimate)

	v.SetDefault("rlm_chunk_size", def.RLMChunkSize)
	v.SetDefault("rlm_chunk_overlap", def.RLMChunkOverlap)
	v.SetDefault("rlm_lookback_chars", def.RLMLookbackChars)
	v.SetDefault("rlm_batch_size", def.RLMBatchSize)
	v.SetDefault("rlm_aggregate_trunc_chars", def.RLMAggregateTrunc)

	v.SetDefault("hook_timeout_seconds", def.HookTimeoutSeconds)
	v.SetDefault("large_input_soft_chars", def.LargeInputSoftChars)
	v.SetDefault("large_input_strong_chars", def.LargeInputStrongChars)
	v.SetDefault("pending_learning_max_age_hours", def.PendingLearningMaxAgeHours)

	v.SetDefault("evaluator_print_cap", def.EvaluatorPrintCap)
	v.SetDefault("evaluator_range_cap", def.EvaluatorRangeCap)

	v.SetDefault("log_max_size_mb", def.LogMaxSizeMB)
	v.SetDefault("log_max_backups", def.LogMaxBackups)
}

// SourcePath returns the config file viper actually loaded, or "" if none
// was found and defaults are in effect.
func (c *Config) SourcePath() string {
	return c.sourcePath
}

// ProjectDir resolves the project directory per §6.4: CLAUDE_PROJECT_DIR
// env var, then the cwd supplied by the hook event payload, then the
// process's own working directory.
func ProjectDir(payloadCwd string) string {
	if v := os.Getenv(EnvProjectDir); v != "" {
		return v
	}
	if payloadCwd != "" {
		return payloadCwd
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// ClaudeHome resolves ~/.claude (or its override), creating no directories
// — callers create what they need lazily.
func ClaudeHome() string {
	if override := os.Getenv(EnvConfigHome); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claude"
	}
	return filepath.Join(home, ".claude")
}
