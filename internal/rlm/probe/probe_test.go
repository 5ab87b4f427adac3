package probe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnalyzeEmptyContent(t *testing.T) {
	r := Analyze("")
	require.Equal(t, 0, r.CharCount)
	require.Equal(t, 0, r.LineCount)
	require.Equal(t, 0, r.WordCount)
	require.Equal(t, "size", r.Recommendation.Strategy)
	require.Equal(t, 1, r.Recommendation.EstimatedChunks)
}

func TestAnalyzeRecommendsHeadersForMarkdown(t *testing.T) {
	content := "# Title\n\nSome text.\n\n## Section\n\nMore text.\n"
	r := Analyze(content)
	require.True(t, r.Structure.HasHeaders)
	require.Equal(t, "headers", r.Recommendation.Strategy)
}

func TestAnalyzeRecommendsCodeForSourceFile(t *testing.T) {
	content := strings.Join([]string{
		"package main",
		"",
		"func one() {}",
		"func two() {}",
		"func three() {}",
	}, "\n")
	r := Analyze(content)
	require.True(t, r.Structure.HasFunctions)
	require.Equal(t, "code", r.Recommendation.Strategy)
}

func TestAnalyzeDetectsCodeFences(t *testing.T) {
	content := "Some prose.\n\n```go\nfunc x() {}\n```\n"
	r := Analyze(content)
	require.True(t, r.Structure.HasCodeBlocks)
}

func TestAnalyzeHeadersTakesPriorityOverCode(t *testing.T) {
	content := "# Doc\n\n```go\nfunc a() {}\nfunc b() {}\n```\n"
	r := Analyze(content)
	require.Equal(t, "headers", r.Recommendation.Strategy)
}

func TestAnalyzeTokenEstimateIsQuarterOfChars(t *testing.T) {
	content := strings.Repeat("a", 400)
	r := Analyze(content)
	require.Equal(t, 400, r.CharCount)
	require.Equal(t, 100, r.TokenEstimate)
}

func TestAnalyzeEstimatedChunksScalesWithSize(t *testing.T) {
	content := strings.Repeat("x", defaultChunkSize*3+1)
	r := Analyze(content)
	require.Equal(t, 4, r.Recommendation.EstimatedChunks)
}
