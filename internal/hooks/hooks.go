// Package hooks implements C9: the event router that reads one JSON
// payload from stdin per invocation, dispatches to C4-C8, and writes at
// most one of the three stdout shapes in §6.1. Grounded on the teacher's
// cmd/dcode/main.go, which already wires cobra subcommands to
// long-lived subsystems (agent, session, provider) behind a context
// deadline — generalized here from "one cobra command per CLI action"
// to "one cobra command per hook name", each wrapped in the same
// deadline discipline the teacher applies to its own shutdown path.
package hooks

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Dhanuzh/dcode-hooks/internal/config"
	"github.com/Dhanuzh/dcode-hooks/internal/history"
	"github.com/Dhanuzh/dcode-hooks/internal/hooklog"
	"github.com/Dhanuzh/dcode-hooks/internal/persistence"
	"github.com/Dhanuzh/dcode-hooks/internal/recovery"
	"github.com/Dhanuzh/dcode-hooks/internal/segment"
	"github.com/Dhanuzh/dcode-hooks/internal/signals"
	"github.com/Dhanuzh/dcode-hooks/internal/skills"
	"github.com/Dhanuzh/dcode-hooks/internal/transcript"
)

// subagentMarker is the designated path marker that excludes sub-agent
// transcripts from session discovery (§4.3).
const subagentMarker = "subagent"

// Payload mirrors §6.1's stdin JSON shape. Every field is optional; a
// zero-valued field means "not supplied for this event".
type Payload struct {
	Prompt         string         `json:"prompt"`
	Cwd            string         `json:"cwd"`
	TranscriptPath string         `json:"transcript_path"`
	ToolName       string         `json:"tool_name"`
	ToolInput      map[string]any `json:"tool_input"`
	SessionTrigger string         `json:"session_trigger"`
}

// Env carries the process-wide dependencies a hook needs, so Dispatch
// itself stays pure and testable (§5: "no internal thread pool... all
// I/O is blocking and synchronous").
type Env struct {
	ClaudeHome string
	Config     *config.Config
	Now        func() time.Time
}

// DefaultEnv resolves ClaudeHome/Config the way a real invocation would.
func DefaultEnv(projectDir string) Env {
	cfg, err := config.Load(projectDir)
	if err != nil {
		cfg = config.Default()
	}
	return Env{ClaudeHome: config.ClaudeHome(), Config: cfg, Now: time.Now}
}

func (e Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// contextOutput implements §6.1's additionalContext shape.
type contextOutput struct {
	HookSpecificOutput struct {
		AdditionalContext string `json:"additionalContext"`
	} `json:"hookSpecificOutput"`
}

// continueOutput implements §6.1's Stop-event shape.
type continueOutput struct {
	Continue      bool   `json:"continue"`
	SystemMessage string `json:"systemMessage,omitempty"`
}

func emitContext(w io.Writer, text string) {
	if text == "" {
		return // load-bearing: zero bytes, never "{}" (§4.9, §9)
	}
	var out contextOutput
	out.HookSpecificOutput.AdditionalContext = text
	data, err := json.Marshal(out)
	if err != nil {
		return
	}
	w.Write(data)
	w.Write([]byte("\n"))
}

func emitContinue(w io.Writer, systemMessage string) {
	data, _ := json.Marshal(continueOutput{Continue: true, SystemMessage: systemMessage})
	w.Write(data)
	w.Write([]byte("\n"))
}

func readPayload(r io.Reader) (Payload, bool) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Payload{}, false
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, false // malformed JSON: log-and-exit-0, never abort the process (§7 kind 1)
	}
	return p, true
}

func (e Env) projectDir(cwd string) string {
	return config.ProjectDir(cwd)
}

func (e Env) skillsRoot() string { return filepath.Join(e.ClaudeHome, "skills") }

// HookNames is every subcommand cmd/hooks exposes, matching §4.9's
// dispatch table one-for-one.
var HookNames = []string{
	"skill-matcher", "large-input-detector", "history-search", "learning-pickup",
	"skill-tracker",
	"learning-detector", "history-indexer", "live-session-indexer",
	"recovery-engine",
}

// Dispatch runs the named hook against stdin/stdout and returns the
// process exit code, which is always 0 on the intended paths (§6.1).
// Any panic from a subsystem is recovered here so one hook's internal
// failure never surfaces as a non-zero exit (§7: "hooks isolate every
// error to the enclosing hook invocation").
func Dispatch(name string, stdin io.Reader, stdout io.Writer, env Env) (code int) {
	logger := hooklog.Open(name, hooklog.WithDir(filepath.Join(env.ClaudeHome, "hooks", "logs")),
		hooklog.WithRotation(env.Config.LogMaxSizeMB, env.Config.LogMaxBackups))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("hook panicked", fmt.Errorf("%v", r))
			code = 0
		}
	}()

	payload, ok := readPayload(stdin)
	if !ok {
		logger.Debug("malformed or empty stdin payload", nil)
		return 0
	}
	logger.LogInput(payload)

	switch name {
	case "skill-matcher":
		skillMatcher(env, payload, stdout, logger)
	case "large-input-detector":
		largeInputDetector(env, payload, stdout)
	case "history-search":
		historySearch(env, payload, stdout, logger)
	case "learning-pickup":
		learningPickup(env, payload, stdout)
	case "skill-tracker":
		skillTracker(env, payload, logger)
	case "learning-detector":
		learningDetector(env, payload, stdout, logger)
	case "history-indexer":
		historyIndexer(env, payload, stdout, logger)
	case "live-session-indexer":
		liveSessionIndexer(env, payload, stdout, logger)
	case "recovery-engine":
		recoveryEngine(env, payload, stdout, logger)
	default:
		logger.Warning("unknown hook name", map[string]any{"name": name})
	}
	return 0
}

// --- UserPromptSubmit: skill matcher ---

func skillMatcher(env Env, p Payload, w io.Writer, logger *hooklog.Logger) {
	if strings.TrimSpace(p.Prompt) == "" {
		return
	}
	reg, err := skills.Load(env.skillsRoot())
	if err != nil {
		logger.Error("load skill registry", err)
		return
	}
	cfg := env.Config
	matches := reg.Match(p.Prompt, cfg.SkillStrongThreshold, cfg.SkillRecentDays)
	if len(matches) > cfg.SkillMaxResults {
		matches = matches[:cfg.SkillMaxResults]
	}
	if len(matches) == 0 {
		return
	}

	var b strings.Builder
	b.WriteString("[SKILL MATCH]\n")
	for _, m := range matches {
		fmt.Fprintf(&b, "- %s (score %d): %s\n", m.Skill.Name, m.Score, m.Skill.Summary)
	}
	emitContext(w, strings.TrimRight(b.String(), "\n"))
}

// --- UserPromptSubmit: large-input detector ---

func largeInputDetector(env Env, p Payload, w io.Writer) {
	n := len(p.Prompt)
	cfg := env.Config
	switch {
	case n >= cfg.LargeInputStrongChars:
		var b strings.Builder
		b.WriteString("LARGE INPUT DETECTED - RLM RECOMMENDED\n\n")
		fmt.Fprintf(&b, "This input is %s characters, too large for a single context window.\n", formatThousands(n))
		b.WriteString("Recommended workflow:\n")
		b.WriteString("1. Probe the input to determine its structure and a recommended chunk strategy.\n")
		b.WriteString("2. Chunk the input using the recommended strategy.\n")
		b.WriteString("3. Process each chunk in parallel via the RLM parallel coordinator.\n")
		b.WriteString("4. Aggregate the per-chunk results into a final answer.\n")
		emitContext(w, strings.TrimRight(b.String(), "\n"))
	case n >= cfg.LargeInputSoftChars:
		var b strings.Builder
		b.WriteString("LARGE INPUT NOTICE\n\n")
		fmt.Fprintf(&b, "This input is %s characters. Consider the RLM pipeline (probe/chunk/aggregate) if you hit context limits.\n", formatThousands(n))
		emitContext(w, strings.TrimRight(b.String(), "\n"))
	}
}

// formatThousands renders n with comma thousands separators, e.g.
// 160000 -> "160,000" (§8 scenarios 1-2 assert this literal formatting).
func formatThousands(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	out := strings.Join(parts, ",")
	if neg {
		out = "-" + out
	}
	return out
}

// --- UserPromptSubmit: history search ---

func historySearch(env Env, p Payload, w io.Writer, logger *hooklog.Logger) {
	if strings.TrimSpace(p.Prompt) == "" {
		return
	}
	idx, err := history.Load(env.ClaudeHome)
	if err != nil {
		logger.Error("load history index", err)
		return
	}
	cfg := env.Config
	cwd := env.projectDir(p.Cwd)
	matches := history.Search(idx, p.Prompt, cwd, cfg.HistoryThreshold, cfg.HistoryRecentDays, cfg.HistoryWindowDays)
	if len(matches) > cfg.HistoryMaxResults {
		matches = matches[:cfg.HistoryMaxResults]
	}
	if len(matches) == 0 {
		return
	}

	var b strings.Builder
	b.WriteString("[HISTORY MATCH]\n")
	for _, m := range matches {
		prefix := m.SessionID
		if len(prefix) > 8 {
			prefix = prefix[:8]
		}
		fmt.Fprintf(&b, "- Session %s (score %d, %d lines): topics %s\n",
			prefix, m.Score, m.Record.LineCount, strings.Join(m.Record.Topics, ", "))
	}
	emitContext(w, strings.TrimRight(b.String(), "\n"))
}

// --- UserPromptSubmit: learning-moment pickup ---

// pendingLearning is the §3.1 singleton shape.
type pendingLearning struct {
	DetectedAt time.Time `json:"detected_at"`
	Reason     string    `json:"reason"`
	SessionID  string    `json:"session_id"`
}

func pendingLearningPath(claudeHome string) string {
	return filepath.Join(claudeHome, "pending-learning-moment.json")
}

func learningPickup(env Env, p Payload, w io.Writer) {
	path := pendingLearningPath(env.ClaudeHome)
	data, err := os.ReadFile(path)
	if err != nil {
		return // absent: nothing to pick up (§3.2)
	}
	var rec pendingLearning
	if err := json.Unmarshal(data, &rec); err != nil {
		os.Remove(path)
		return
	}
	defer os.Remove(path) // consumed (or expired) either way

	maxAge := time.Duration(env.Config.PendingLearningMaxAgeHours) * time.Hour
	if env.now().Sub(rec.DetectedAt) > maxAge {
		return // expired
	}

	var b strings.Builder
	b.WriteString("[LEARNING MOMENT]\n")
	fmt.Fprintf(&b, "A trial-and-error resolution was detected in the previous turn (%s).\n", rec.Reason)
	b.WriteString("Consider proposing a new skill that captures this resolution for future reuse.\n")
	emitContext(w, strings.TrimRight(b.String(), "\n"))
}

func writePendingLearning(claudeHome string, rec pendingLearning) error {
	path := pendingLearningPath(claudeHome)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// --- PostToolUse (matcher=Read): skill tracker ---

func skillTracker(env Env, p Payload, logger *hooklog.Logger) {
	if p.ToolName != "Read" {
		return
	}
	path, _ := p.ToolInput["file_path"].(string)
	if path == "" {
		return
	}
	reg, err := skills.Load(env.skillsRoot())
	if err != nil {
		logger.Error("load skill registry", err)
		return
	}
	if err := reg.TrackRead(path); err != nil {
		logger.Error("track skill read", err)
	}
}

// --- Stop: learning detector ---

const learningDetectorWindow = 30
const learningErrorThreshold = 3
const trialAndErrorThreshold = 5

func learningDetector(env Env, p Payload, w io.Writer, logger *hooklog.Logger) {
	transcriptPath := resolveTranscript(env, p)
	if transcriptPath == "" {
		emitContinue(w, "")
		return
	}

	var recent []transcript.Message
	for msg := range transcript.Open(transcriptPath).All() {
		recent = append(recent, msg)
	}
	if len(recent) > learningDetectorWindow {
		recent = recent[len(recent)-learningDetectorWindow:]
	}

	errorCount := 0
	successAfterError := false
	trialPhrases := 0
	sawError := false

	for _, msg := range recent {
		text := messageText(msg)
		lower := strings.ToLower(text)
		if signals.IsErrorSignal(lower) {
			errorCount++
			sawError = true
		}
		if sawError && signals.IsSuccessSignal(lower) {
			successAfterError = true
		}
		if signals.IsTrialAndErrorPhrase(lower) {
			trialPhrases++
		}
	}

	detected := (errorCount >= learningErrorThreshold && successAfterError) || trialPhrases >= trialAndErrorThreshold
	if detected {
		reason := "repeated trial-and-error resolution"
		if errorCount >= learningErrorThreshold && successAfterError {
			reason = fmt.Sprintf("%d errors followed by a successful resolution", errorCount)
		}
		rec := pendingLearning{DetectedAt: env.now(), Reason: reason, SessionID: sessionIDFromTranscript(transcriptPath)}
		if err := writePendingLearning(env.ClaudeHome, rec); err != nil {
			logger.Error("write pending learning moment", err)
		}
	}
	emitContinue(w, "")
}

func messageText(msg transcript.Message) string {
	if msg.Type == transcript.TypeUser {
		return msg.Body
	}
	var parts []string
	for _, item := range msg.Items {
		if !item.IsTool {
			parts = append(parts, item.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func sessionIDFromTranscript(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// --- Stop: history indexer ---

func historyIndexer(env Env, p Payload, w io.Writer, logger *hooklog.Logger) {
	idx, err := history.Load(env.ClaudeHome)
	if err != nil {
		logger.Error("load history index", err)
		emitContinue(w, "")
		return
	}
	roots := projectRoots(env, p)
	cfg := env.Config
	limits := history.Limits{MaxTopics: cfg.HistoryMaxTopics, MaxFiles: cfg.HistoryMaxFiles, MaxTools: cfg.HistoryMaxTools}
	if err := history.Rebuild(idx, roots, subagentMarker, limits); err != nil {
		logger.Error("rebuild history index", err)
		emitContinue(w, "")
		return
	}
	if err := history.Save(env.ClaudeHome, idx); err != nil {
		logger.Error("save history index", err)
	}
	emitContinue(w, "")
}

// --- Stop: live session indexer ---

func liveSessionIndexer(env Env, p Payload, w io.Writer, logger *hooklog.Logger) {
	transcriptPath := resolveTranscript(env, p)
	if transcriptPath == "" {
		emitContinue(w, "")
		return
	}
	stateDir := filepath.Join(env.ClaudeHome, "sessions")
	idx, err := segment.Load(stateDir, transcriptPath)
	if err != nil {
		logger.Error("load segment index", err)
		emitContinue(w, "")
		return
	}
	cfg := env.Config
	th := segment.Thresholds{
		MaxLines:      cfg.SegmentMaxLines,
		MinLines:      cfg.SegmentMinLines,
		TimeGap:       time.Duration(cfg.SegmentTimeGapSec) * time.Second,
		NewTopicChars: cfg.SegmentNewTopicMinChars,
	}
	if err := segment.Update(idx, transcriptPath, th); err != nil {
		logger.Error("update segment index", err)
		emitContinue(w, "")
		return
	}
	if err := segment.Save(stateDir, transcriptPath, idx); err != nil {
		logger.Error("save segment index", err)
	}
	emitContinue(w, "")
}

// --- SessionStart (compact/resume): recovery engine ---

func recoveryEngine(env Env, p Payload, w io.Writer, logger *hooklog.Logger) {
	if p.SessionTrigger != "compact" && p.SessionTrigger != "resume" {
		return
	}
	projectDir := env.projectDir(p.Cwd)
	store := persistence.New(projectDir)

	transcriptPath := resolveTranscript(env, p)
	var segIdx *segment.Index
	if transcriptPath != "" {
		stateDir := filepath.Join(env.ClaudeHome, "sessions")
		if idx, err := segment.Load(stateDir, transcriptPath); err == nil {
			segIdx = idx
		} else {
			logger.Error("load segment index for recovery", err)
		}
	}

	cfg := env.Config
	rcfg := recovery.Config{
		CharBudget:       cfg.RecoveryCharBudget,
		FileTruncChars:   cfg.RecoveryFileTruncChars,
		MessageTrunc:     cfg.RecoveryMessageTrunc,
		LineCostEstimate: cfg.RecoveryLineCostEstimate,
	}
	block := recovery.Build(store, transcriptPath, segIdx, rcfg, env.now())
	if block == "" {
		return
	}
	emitContext(w, "# SESSION RECOVERY\n\n"+frameSegments(block))
}

// frameSegments inserts the "RELEVANT CONVERSATION CONTEXT" header right
// before the first per-segment section recovery.Build produced, without
// requiring recovery itself to know about the hook's framing text (§4.7
// step 6, §8 scenario 6).
func frameSegments(block string) string {
	idx := strings.Index(block, "### Segment")
	if idx < 0 {
		return block
	}
	return block[:idx] + "## RELEVANT CONVERSATION CONTEXT\n\n" + block[idx:]
}

// --- shared helpers ---

func resolveTranscript(env Env, p Payload) string {
	if p.TranscriptPath != "" {
		return p.TranscriptPath
	}
	roots := projectRoots(env, p)
	path, err := transcript.FindCurrentSession(roots, subagentMarker)
	if err != nil {
		return ""
	}
	return path
}

func projectRoots(env Env, p Payload) []string {
	return []string{filepath.Join(env.ClaudeHome, "projects")}
}
