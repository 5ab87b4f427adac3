package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProgressUpdateRendersBarAndFilename(t *testing.T) {
	var buf strings.Builder
	p := NewProgress(&buf, 4)

	p.Update(2, "chunk_0001.txt")
	out := buf.String()
	require.Contains(t, out, "2/4")
	require.Contains(t, out, "chunk_0001.txt")
	require.True(t, strings.HasPrefix(out, "\r["))
}

func TestProgressDoneAddsNewline(t *testing.T) {
	var buf strings.Builder
	p := NewProgress(&buf, 1)
	p.Update(1, "only.txt")
	p.Done()
	require.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestProgressNilWriterNeverPanics(t *testing.T) {
	p := NewProgress(nil, 5)
	require.NotPanics(t, func() {
		p.Update(1, "x")
		p.Done()
	})
}

func TestProgressZeroTotalNeverPanics(t *testing.T) {
	var buf strings.Builder
	p := NewProgress(&buf, 0)
	require.NotPanics(t, func() {
		p.Update(0, "x")
	})
	require.Empty(t, buf.String())
}
