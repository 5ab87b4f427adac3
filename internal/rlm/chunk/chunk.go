// Package chunk implements C8's chunk stage (§4.8.2): split a source
// file into size-, line-, header-, or language-aware chunks plus a
// manifest describing them. Grounded on the teacher's
// internal/session/compaction.go budget-walk idiom (generalized from
// "prune until under budget" to "accumulate until at the chunk-size
// boundary, then cut") and, for the language detector, the same
// substring-pattern technique internal/tool/codesearch.go uses to guess
// a file's language from its contents.
package chunk

import (
	"fmt"
	"regexp"
	"strings"
)

// Chunk is one contiguous piece of a source file plus its metadata
// (§3.1).
type Chunk struct {
	Text       string
	ChunkNum   int            `json:"chunk_num"`
	StartChar  int            `json:"start_char"`
	EndChar    int            `json:"end_char"`
	CharCount  int            `json:"char_count"`
	LineCount  int            `json:"line_count"`
	Header     string         `json:"header,omitempty"`
	Language   string         `json:"language,omitempty"`
	Entities   []string       `json:"entities,omitempty"`
}

// Manifest describes every chunk produced from one source file (§4.8.2).
type Manifest struct {
	SourceFile  string       `json:"source_file"`
	TotalChunks int          `json:"total_chunks"`
	Strategy    string       `json:"strategy"`
	Chunks      []ChunkEntry `json:"chunks"`
}

// ChunkEntry is one manifest row: the chunk's output filename plus its
// metadata (everything in Chunk except the text itself, which lives in
// the file).
type ChunkEntry struct {
	File      string   `json:"file"`
	Size      int      `json:"size"`
	ChunkNum  int      `json:"chunk_num"`
	Header    string   `json:"header,omitempty"`
	Language  string   `json:"language,omitempty"`
	Entities  []string `json:"entities,omitempty"`
}

// Options configures every strategy (§4.8.2 and §6.3's CLI flags).
type Options struct {
	Strategy  string // "size", "lines", "headers", "code"
	ChunkSize int    // chars for size/headers-overflow; default 8000
	Overlap   int    // chars (size) or lines (lines); default 500
	Lookback  int    // chars looked back for a clean size-strategy boundary
	Language  string // forced language override for the code strategy
}

// DefaultOptions mirrors config.Config's rlm_* defaults (§9's "exposed as
// named viper keys").
func DefaultOptions() Options {
	return Options{Strategy: "size", ChunkSize: 8000, Overlap: 500, Lookback: 1000}
}

// Split dispatches to the requested strategy (§4.8.2).
func Split(content string, opts Options) ([]Chunk, error) {
	switch opts.Strategy {
	case "", "size":
		return splitBySize(content, opts), nil
	case "lines":
		return splitByLines(content, opts), nil
	case "headers":
		return splitByHeaders(content, opts), nil
	case "code":
		return splitByCode(content, opts), nil
	default:
		return nil, fmt.Errorf("unknown chunk strategy %q", opts.Strategy)
	}
}

// splitBySize implements the size strategy: fixed chunk_size chars with
// overlap, backing off to a clean boundary within lookback chars
// (§4.8.2). Concatenating consecutive chunks' non-overlap regions
// reconstructs the source (§8 invariant).
func splitBySize(content string, opts Options) []Chunk {
	if content == "" {
		return nil
	}
	size := opts.ChunkSize
	if size <= 0 {
		size = 8000
	}
	overlap := opts.Overlap
	if overlap < 0 {
		overlap = 0
	}
	lookback := opts.Lookback
	if lookback <= 0 {
		lookback = 1000
	}

	var chunks []Chunk
	start := 0
	n := len(content)
	num := 0
	for start < n {
		end := start + size
		if end >= n {
			end = n
		} else {
			end = backOffToBoundary(content, start, end, lookback)
		}
		chunks = append(chunks, Chunk{
			Text:      content[start:end],
			ChunkNum:  num,
			StartChar: start,
			EndChar:   end,
			CharCount: end - start,
			LineCount: strings.Count(content[start:end], "\n") + 1,
		})
		num++
		if end >= n {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// backOffToBoundary looks back from end (within lookback chars of start)
// for the nearest "\n\n", "\n", ". ", or " " so a size-strategy cut never
// falls mid-paragraph/line when it can be avoided (§4.8.2).
func backOffToBoundary(content string, start, end, lookback int) int {
	floor := end - lookback
	if floor < start {
		floor = start
	}
	window := content[floor:end]

	if idx := strings.LastIndex(window, "\n\n"); idx >= 0 {
		return floor + idx + 2
	}
	if idx := strings.LastIndex(window, "\n"); idx >= 0 {
		return floor + idx + 1
	}
	if idx := strings.LastIndex(window, ". "); idx >= 0 {
		return floor + idx + 2
	}
	if idx := strings.LastIndex(window, " "); idx >= 0 {
		return floor + idx + 1
	}
	return end
}

// splitByLines implements the lines strategy: fixed line count per
// chunk with overlap in lines.
func splitByLines(content string, opts Options) []Chunk {
	linesPerChunk := opts.ChunkSize
	if linesPerChunk <= 0 {
		linesPerChunk = 200
	}
	overlap := opts.Overlap
	if overlap < 0 || overlap >= linesPerChunk {
		overlap = 0
	}

	rawLines := strings.SplitAfter(content, "\n")
	if len(rawLines) > 0 && rawLines[len(rawLines)-1] == "" {
		rawLines = rawLines[:len(rawLines)-1]
	}
	if len(rawLines) == 0 {
		return nil
	}

	var chunks []Chunk
	num := 0
	charOffset := 0
	lineOffsets := make([]int, len(rawLines)+1)
	for i, l := range rawLines {
		lineOffsets[i+1] = lineOffsets[i] + len(l)
	}
	_ = charOffset

	start := 0
	for start < len(rawLines) {
		end := start + linesPerChunk
		if end > len(rawLines) {
			end = len(rawLines)
		}
		text := strings.Join(rawLines[start:end], "")
		chunks = append(chunks, Chunk{
			Text:      text,
			ChunkNum:  num,
			StartChar: lineOffsets[start],
			EndChar:   lineOffsets[end],
			CharCount: len(text),
			LineCount: end - start,
		})
		num++
		if end >= len(rawLines) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

var headerPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)

// splitByHeaders implements the headers strategy: split at every
// Markdown header boundary; any section over max_chunk_size is
// sub-chunked with the size strategy, carrying the header into metadata
// (§4.8.2).
func splitByHeaders(content string, opts Options) []Chunk {
	locs := headerPattern.FindAllStringSubmatchIndex(content, -1)
	if len(locs) == 0 {
		return splitBySize(content, opts)
	}

	type section struct {
		header string
		start  int
		end    int
	}
	var sections []section
	if locs[0][0] > 0 {
		sections = append(sections, section{header: "", start: 0, end: locs[0][0]})
	}
	for i, loc := range locs {
		headerText := content[loc[0]:loc[1]]
		start := loc[0]
		end := len(content)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		sections = append(sections, section{header: headerText, start: start, end: end})
	}

	maxSize := opts.ChunkSize
	if maxSize <= 0 {
		maxSize = 8000
	}

	var chunks []Chunk
	num := 0
	for _, sec := range sections {
		text := content[sec.start:sec.end]
		if len(text) <= maxSize {
			chunks = append(chunks, Chunk{
				Text:      text,
				ChunkNum:  num,
				StartChar: sec.start,
				EndChar:   sec.end,
				CharCount: len(text),
				LineCount: strings.Count(text, "\n") + 1,
				Header:    sec.header,
			})
			num++
			continue
		}
		sub := splitBySize(text, opts)
		for _, c := range sub {
			c.ChunkNum = num
			c.StartChar += sec.start
			c.EndChar += sec.start
			c.Header = sec.header
			chunks = append(chunks, c)
			num++
		}
	}
	return chunks
}

// languagePatterns is the closed detection set from §4.8.2.
var languagePatterns = map[string][]*regexp.Regexp{
	"rust": {
		regexp.MustCompile(`(?m)^\s*use std::`),
		regexp.MustCompile(`(?m)\bimpl\s+`),
		regexp.MustCompile(`(?m)^\s*fn\s+\w`),
	},
	"go": {
		regexp.MustCompile(`(?m)^\s*func\s+`),
		regexp.MustCompile(`(?m)^\s*package\s+\w`),
		regexp.MustCompile(`(?m)^\s*type\s+\w+\s+struct`),
	},
	"typescript": {
		regexp.MustCompile(`(?m)\binterface\s+\w`),
		regexp.MustCompile(`(?m)^\s*type\s+\w+\s*=`),
		regexp.MustCompile(`(?m):\s*(string|number|boolean)\b`),
	},
	"python": {
		regexp.MustCompile(`(?m)^\s*def\s+\w`),
		regexp.MustCompile(`(?m)^\s*class\s+\w.*:`),
	},
	"javascript": {
		regexp.MustCompile(`(?m)^\s*function\s+\w`),
		regexp.MustCompile(`(?m)^\s*const\s+\w+\s*=`),
		regexp.MustCompile(`(?m)=>\s*\{`),
	},
}

// languageOrder fixes detection precedence so polyglot snippets resolve
// deterministically (§9: "may mis-detect polyglot files; no fallback
// resolution beyond unknown").
var languageOrder = []string{"go", "rust", "typescript", "python", "javascript"}

// boundaryAnchors is the first pattern per language used to find chunk
// boundaries (a new top-level declaration starts a new growth unit).
var boundaryAnchors = map[string]*regexp.Regexp{
	"go":         regexp.MustCompile(`(?m)^(func|type|var|const)\s+`),
	"rust":       regexp.MustCompile(`(?m)^(pub\s+)?(fn|impl|struct|enum|trait)\s+`),
	"typescript": regexp.MustCompile(`(?m)^(export\s+)?(function|interface|class|type|const)\s+`),
	"python":     regexp.MustCompile(`(?m)^(def|class)\s+`),
	"javascript": regexp.MustCompile(`(?m)^(function|class|const|let|var)\s+`),
}

// DetectLanguage implements §4.8.2's closed-pattern language detector,
// counting hits per language and picking the one with the most matches;
// ties break by languageOrder. Returns "unknown" if nothing matches.
func DetectLanguage(content string) string {
	best := "unknown"
	bestHits := 0
	for _, lang := range languageOrder {
		hits := 0
		for _, re := range languagePatterns[lang] {
			hits += len(re.FindAllStringIndex(content, -1))
		}
		if hits > bestHits {
			bestHits = hits
			best = lang
		}
	}
	return best
}

// splitByCode implements the code strategy: detect language, find
// boundaries by the language's anchored regex, and grow chunks greedily
// until adding the next unit would exceed max_chunk_size (§4.8.2). An
// "unknown" language still gets char-bounded size-strategy sub-chunking
// rather than a hard failure (§9 supplement).
func splitByCode(content string, opts Options) []Chunk {
	lang := opts.Language
	if lang == "" {
		lang = DetectLanguage(content)
	}
	anchor, ok := boundaryAnchors[lang]
	if !ok {
		chunks := splitBySize(content, opts)
		for i := range chunks {
			chunks[i].Language = "unknown"
		}
		return chunks
	}

	maxSize := opts.ChunkSize
	if maxSize <= 0 {
		maxSize = 8000
	}

	locs := anchor.FindAllStringIndex(content, -1)
	var boundaries []int
	if len(locs) == 0 || locs[0][0] != 0 {
		boundaries = append(boundaries, 0)
	}
	for _, loc := range locs {
		boundaries = append(boundaries, loc[0])
	}
	boundaries = append(boundaries, len(content))

	var chunks []Chunk
	num := 0
	chunkStart := boundaries[0]
	unitStart := boundaries[0]
	var entities []string
	for i := 1; i < len(boundaries); i++ {
		unitEnd := boundaries[i]
		if unitEnd-chunkStart > maxSize && unitEnd-unitStart < unitEnd-chunkStart {
			text := content[chunkStart:unitStart]
			chunks = append(chunks, Chunk{
				Text:      text,
				ChunkNum:  num,
				StartChar: chunkStart,
				EndChar:   unitStart,
				CharCount: len(text),
				LineCount: strings.Count(text, "\n") + 1,
				Language:  lang,
				Entities:  entities,
			})
			num++
			chunkStart = unitStart
			entities = nil
		}
		entities = append(entities, entityName(content[unitStart:unitEnd], lang))
		unitStart = unitEnd
	}
	if chunkStart < len(content) {
		text := content[chunkStart:]
		chunks = append(chunks, Chunk{
			Text:      text,
			ChunkNum:  num,
			StartChar: chunkStart,
			EndChar:   len(content),
			CharCount: len(text),
			LineCount: strings.Count(text, "\n") + 1,
			Language:  lang,
			Entities:  entities,
		})
	}
	return chunks
}

var entityNamePattern = regexp.MustCompile(`\b(func|fn|def|class|interface|type|struct|enum|const|let|var)\s+(\*?\w[\w.]*)`)

// entityName extracts a best-effort declaration name from a code unit
// for the chunk's Entities metadata field (§3.1 "optional entities (for
// code)").
func entityName(unit, lang string) string {
	m := entityNamePattern.FindStringSubmatch(unit)
	if m == nil {
		return strings.TrimSpace(firstLine(unit))
	}
	return m[2]
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// ToManifest converts chunks produced by Split into a Manifest, using
// filenameFor to name each chunk's on-disk file.
func ToManifest(sourceFile, strategy string, chunks []Chunk, filenameFor func(Chunk) string) Manifest {
	entries := make([]ChunkEntry, len(chunks))
	for i, c := range chunks {
		entries[i] = ChunkEntry{
			File:     filenameFor(c),
			Size:     c.CharCount,
			ChunkNum: c.ChunkNum,
			Header:   c.Header,
			Language: c.Language,
			Entities: c.Entities,
		}
	}
	return Manifest{SourceFile: sourceFile, TotalChunks: len(chunks), Strategy: strategy, Chunks: entries}
}
