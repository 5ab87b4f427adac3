package hooks

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Dhanuzh/dcode-hooks/internal/config"
	"github.com/Dhanuzh/dcode-hooks/internal/skills"
)

func testEnv(t *testing.T) Env {
	t.Helper()
	home := t.TempDir()
	return Env{ClaudeHome: home, Config: config.Default(), Now: func() time.Time {
		return time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	}}
}

func dispatch(t *testing.T, env Env, name string, payload any) (string, int) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	var out bytes.Buffer
	code := Dispatch(name, bytes.NewReader(data), &out, env)
	return out.String(), code
}

func TestLargeInputDetectorStrongThreshold(t *testing.T) {
	env := testEnv(t)
	prompt := make([]byte, 160000)
	for i := range prompt {
		prompt[i] = 'a'
	}
	out, code := dispatch(t, env, "large-input-detector", Payload{Prompt: string(prompt)})
	require.Equal(t, 0, code)
	require.Contains(t, out, "LARGE INPUT DETECTED - RLM RECOMMENDED")
	require.Contains(t, out, "160,000")
}

func TestLargeInputDetectorSoftThreshold(t *testing.T) {
	env := testEnv(t)
	prompt := make([]byte, 60000)
	for i := range prompt {
		prompt[i] = 'b'
	}
	out, _ := dispatch(t, env, "large-input-detector", Payload{Prompt: string(prompt)})
	require.Contains(t, out, "LARGE INPUT NOTICE")
	require.Contains(t, out, "60,000")
}

func TestLargeInputDetectorSmallPromptEmitsNothing(t *testing.T) {
	env := testEnv(t)
	out, code := dispatch(t, env, "large-input-detector", Payload{Prompt: "hi there"})
	require.Equal(t, 0, code)
	require.Empty(t, out)
}

func TestSkillMatcherEmptyPromptEmitsNothing(t *testing.T) {
	env := testEnv(t)
	out, _ := dispatch(t, env, "skill-matcher", Payload{Prompt: "   "})
	require.Empty(t, out)
}

func TestSkillMatcherNoSkillsDirEmitsNothing(t *testing.T) {
	env := testEnv(t)
	out, code := dispatch(t, env, "skill-matcher", Payload{Prompt: "help me debug this flaky test"})
	require.Equal(t, 0, code)
	require.Empty(t, out)
}

func writeSkillIndex(t *testing.T, root string, skills []skills.Skill) {
	t.Helper()
	dir := filepath.Join(root, "skill-index")
	require.NoError(t, os.MkdirAll(dir, 0755))
	data, err := json.Marshal(map[string]any{"skills": skills})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.json"), data, 0644))
}

func TestSkillMatcherEmitsSkillMatchBlock(t *testing.T) {
	env := testEnv(t)
	writeSkillIndex(t, env.skillsRoot(), []skills.Skill{{
		Name:     "flaky-tests",
		Category: "testing",
		Tags:     []string{"flaky", "intermittent"},
		Summary:  "Diagnose and stabilize flaky tests",
	}})
	out, _ := dispatch(t, env, "skill-matcher", Payload{Prompt: "this test is flaky and intermittent, keeps retrying"})
	require.Contains(t, out, "[SKILL MATCH]")
	require.Contains(t, out, "flaky-tests")
}

func TestHistorySearchEmptyPromptEmitsNothing(t *testing.T) {
	env := testEnv(t)
	out, _ := dispatch(t, env, "history-search", Payload{Prompt: ""})
	require.Empty(t, out)
}

func TestLearningPickupAbsentFileEmitsNothing(t *testing.T) {
	env := testEnv(t)
	out, code := dispatch(t, env, "learning-pickup", Payload{})
	require.Equal(t, 0, code)
	require.Empty(t, out)
}

func TestLearningPickupConsumesFreshPendingRecord(t *testing.T) {
	env := testEnv(t)
	require.NoError(t, writePendingLearning(env.ClaudeHome, pendingLearning{
		DetectedAt: env.now().Add(-time.Hour),
		Reason:     "3 errors followed by a successful resolution",
		SessionID:  "sess-1",
	}))

	out, _ := dispatch(t, env, "learning-pickup", Payload{})
	require.Contains(t, out, "[LEARNING MOMENT]")
	require.Contains(t, out, "3 errors followed by a successful resolution")

	_, err := os.Stat(pendingLearningPath(env.ClaudeHome))
	require.True(t, os.IsNotExist(err), "pending learning file should be consumed")
}

func TestLearningPickupExpiredRecordEmitsNothing(t *testing.T) {
	env := testEnv(t)
	require.NoError(t, writePendingLearning(env.ClaudeHome, pendingLearning{
		DetectedAt: env.now().Add(-48 * time.Hour),
		Reason:     "stale",
		SessionID:  "sess-2",
	}))

	out, _ := dispatch(t, env, "learning-pickup", Payload{})
	require.Empty(t, out)
	_, err := os.Stat(pendingLearningPath(env.ClaudeHome))
	require.True(t, os.IsNotExist(err))
}

func TestSkillTrackerIgnoresNonReadTools(t *testing.T) {
	env := testEnv(t)
	out, code := dispatch(t, env, "skill-tracker", Payload{ToolName: "Write", ToolInput: map[string]any{"file_path": "x"}})
	require.Equal(t, 0, code)
	require.Empty(t, out)
}

func TestLearningDetectorNoTranscriptEmitsContinue(t *testing.T) {
	env := testEnv(t)
	out, code := dispatch(t, env, "learning-detector", Payload{})
	require.Equal(t, 0, code)
	require.Contains(t, out, `"continue":true`)
}

func TestRecoveryEngineIgnoresNonRecoveryTriggers(t *testing.T) {
	env := testEnv(t)
	out, code := dispatch(t, env, "recovery-engine", Payload{SessionTrigger: "startup"})
	require.Equal(t, 0, code)
	require.Empty(t, out)
}

func TestHistoryIndexerEmitsContinue(t *testing.T) {
	env := testEnv(t)
	out, code := dispatch(t, env, "history-indexer", Payload{})
	require.Equal(t, 0, code)
	require.Contains(t, out, `"continue":true`)
}

func TestDispatchUnknownHookNameNeverPanics(t *testing.T) {
	env := testEnv(t)
	require.NotPanics(t, func() {
		out, code := dispatch(t, env, "not-a-real-hook", Payload{})
		require.Equal(t, 0, code)
		require.Empty(t, out)
	})
}

func TestDispatchMalformedJSONNeverPanics(t *testing.T) {
	env := testEnv(t)
	var out bytes.Buffer
	code := Dispatch("skill-matcher", bytes.NewReader([]byte("{not json")), &out, env)
	require.Equal(t, 0, code)
	require.Empty(t, out.String())
}

func TestFrameSegmentsInsertsHeaderBeforeFirstSegment(t *testing.T) {
	block := "## Goal\nShip it\n\n### Segment seg-1\nbody\n"
	out := frameSegments(block)
	require.True(t, len(out) > 0)
	require.Contains(t, out, "## RELEVANT CONVERSATION CONTEXT")
	idx := indexOf(out, "## RELEVANT CONVERSATION CONTEXT")
	segIdx := indexOf(out, "### Segment seg-1")
	require.True(t, idx < segIdx)
}

func TestFrameSegmentsNoSegmentsReturnsUnchanged(t *testing.T) {
	block := "## Goal\nShip it\n"
	require.Equal(t, block, frameSegments(block))
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestFormatThousands(t *testing.T) {
	cases := map[int]string{
		0:       "0",
		100:     "100",
		1000:    "1,000",
		160000:  "160,000",
		1234567: "1,234,567",
	}
	for n, want := range cases {
		require.Equal(t, want, formatThousands(n))
	}
}
