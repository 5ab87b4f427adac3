package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitBySizeReconstructsNonOverlapRegions(t *testing.T) {
	content := strings.Repeat("word ", 4000)
	opts := Options{Strategy: "size", ChunkSize: 2000, Overlap: 0, Lookback: 200}

	chunks, err := Split(content, opts)
	require.NoError(t, err)
	require.True(t, len(chunks) > 1)

	var rebuilt strings.Builder
	for _, c := range chunks {
		rebuilt.WriteString(c.Text)
	}
	require.Equal(t, content, rebuilt.String())
}

func TestSplitBySizeBacksOffToLineBoundary(t *testing.T) {
	content := strings.Repeat("abcdefghij\n", 500)
	opts := Options{Strategy: "size", ChunkSize: 1000, Overlap: 0, Lookback: 100}

	chunks, err := Split(content, opts)
	require.NoError(t, err)
	for _, c := range chunks[:len(chunks)-1] {
		require.True(t, strings.HasSuffix(c.Text, "\n"), "chunk %d should end on a line boundary", c.ChunkNum)
	}
}

func TestSplitByLinesRespectsLineCount(t *testing.T) {
	var lines []string
	for i := 0; i < 50; i++ {
		lines = append(lines, "line")
	}
	content := strings.Join(lines, "\n") + "\n"
	opts := Options{Strategy: "lines", ChunkSize: 10, Overlap: 0}

	chunks, err := Split(content, opts)
	require.NoError(t, err)
	require.Equal(t, 5, len(chunks))
	for _, c := range chunks {
		require.Equal(t, 10, c.LineCount)
	}
}

func TestSplitByHeadersCarriesHeaderMetadata(t *testing.T) {
	content := "# One\nbody one\n\n## Two\nbody two\n\n### Three\nbody three\n"
	opts := DefaultOptions()
	opts.Strategy = "headers"

	chunks, err := Split(content, opts)
	require.NoError(t, err)
	require.Equal(t, 3, len(chunks))
	require.Equal(t, "# One", chunks[0].Header)
	require.Equal(t, "## Two", chunks[1].Header)
	require.Equal(t, "### Three", chunks[2].Header)
}

func TestSplitByHeadersSubChunksOversizedSections(t *testing.T) {
	content := "# Big\n" + strings.Repeat("x", 500) + "\n\n# Small\ntiny\n"
	opts := Options{Strategy: "headers", ChunkSize: 200, Lookback: 50}

	chunks, err := Split(content, opts)
	require.NoError(t, err)
	require.True(t, len(chunks) > 2)
	for _, c := range chunks {
		require.True(t, strings.HasPrefix(c.Header, "# "))
	}
}

func TestDetectLanguageGo(t *testing.T) {
	content := "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n\ntype T struct{}\n"
	require.Equal(t, "go", DetectLanguage(content))
}

func TestDetectLanguagePython(t *testing.T) {
	content := "def foo():\n    pass\n\nclass Bar:\n    pass\n"
	require.Equal(t, "python", DetectLanguage(content))
}

func TestDetectLanguageUnknownFallsBack(t *testing.T) {
	content := "just some plain prose with no code at all"
	require.Equal(t, "unknown", DetectLanguage(content))
}

func TestSplitByCodeTagsLanguageAndEntities(t *testing.T) {
	content := "package main\n\nfunc Alpha() {}\n\nfunc Beta() {}\n"
	opts := Options{Strategy: "code", ChunkSize: 8000}

	chunks, err := Split(content, opts)
	require.NoError(t, err)
	require.True(t, len(chunks) >= 1)
	require.Equal(t, "go", chunks[0].Language)
	require.Contains(t, chunks[0].Entities, "Alpha")
}

func TestSplitByCodeUnknownLanguageStillChunks(t *testing.T) {
	content := strings.Repeat("plain text with no recognizable syntax. ", 500)
	opts := Options{Strategy: "code", ChunkSize: 2000, Lookback: 100}

	chunks, err := Split(content, opts)
	require.NoError(t, err)
	require.True(t, len(chunks) > 1)
	require.Equal(t, "unknown", chunks[0].Language)
}

func TestSplitUnknownStrategyErrors(t *testing.T) {
	_, err := Split("text", Options{Strategy: "bogus"})
	require.Error(t, err)
}

func TestSplitEmptyContent(t *testing.T) {
	chunks, err := Split("", DefaultOptions())
	require.NoError(t, err)
	require.Nil(t, chunks)
}

func TestToManifestCountsMatch(t *testing.T) {
	content := strings.Repeat("a", 100)
	chunks, err := Split(content, Options{Strategy: "size", ChunkSize: 40, Lookback: 5})
	require.NoError(t, err)

	m := ToManifest("source.txt", "size", chunks, func(c Chunk) string {
		return "chunk.txt"
	})
	require.Equal(t, "source.txt", m.SourceFile)
	require.Equal(t, len(chunks), m.TotalChunks)
	require.Equal(t, len(chunks), len(m.Chunks))
}
