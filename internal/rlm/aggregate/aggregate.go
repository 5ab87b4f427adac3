// Package aggregate implements C8's aggregate stage (§4.8.3): load every
// result file in a directory and produce either a JSON or text aggregate.
// Grounded on the teacher's internal/tool/glob.go (directory enumeration
// with pattern filtering) generalized from "find files matching a glob"
// to "load and fold every matching result file".
package aggregate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// FileResult is one loaded result file.
type FileResult struct {
	Name      string         `json:"name"`
	IsJSON    bool           `json:"-"`
	JSON      any            `json:"json,omitempty"`
	Content   string         `json:"content,omitempty"`
	Extracted map[string]string `json:"extracted,omitempty"`
}

// JSONAggregate is the §4.8.3(a) JSON aggregate shape.
type JSONAggregate struct {
	TotalFiles int          `json:"total_files"`
	ResultsDir string       `json:"results_dir"`
	Results    []FileResult `json:"results"`
}

const defaultTruncChars = 5000

var keyValueLine = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9 _-]{0,40}):\s*(.+)$`)

// Load reads every file in dir matching pattern (an empty pattern means
// "*"), parsing JSON files and extracting "key: value" lines from text
// files (§4.8.3).
func Load(dir, pattern string) ([]FileResult, error) {
	if pattern == "" {
		pattern = "*"
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read results dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ok, err := filepath.Match(pattern, e.Name())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if ok {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	results := make([]FileResult, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue // one unreadable result file never aborts the aggregate
		}
		results = append(results, loadOne(name, data))
	}
	return results, nil
}

func loadOne(name string, data []byte) FileResult {
	res := FileResult{Name: name}
	if strings.EqualFold(filepath.Ext(name), ".json") {
		var v any
		if err := json.Unmarshal(data, &v); err == nil {
			res.IsJSON = true
			res.JSON = v
			return res
		}
	}
	res.Content = string(data)
	res.Extracted = extractKeyValues(res.Content)
	return res
}

// extractKeyValues pulls "key: value" lines into a lowercased,
// space-to-underscore-keyed map when the key is short and plausible
// (§4.8.3).
func extractKeyValues(content string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		m := keyValueLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(m[1]))
		key = strings.ReplaceAll(key, " ", "_")
		out[key] = strings.TrimSpace(m[2])
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ToJSON produces the §4.8.3(a) JSON aggregate.
func ToJSON(dir string, results []FileResult) JSONAggregate {
	return JSONAggregate{TotalFiles: len(results), ResultsDir: dir, Results: results}
}

// ToText produces the §4.8.3(b) text aggregate: a framed block with an
// optional query header and one section per file, content truncated to
// ~5,000 chars if longer.
func ToText(dir, query string, results []FileResult) string {
	var b strings.Builder
	b.WriteString("=== RLM AGGREGATE ===\n")
	fmt.Fprintf(&b, "Results dir: %s\n", dir)
	if query != "" {
		fmt.Fprintf(&b, "Query: %s\n", query)
	}
	fmt.Fprintf(&b, "Total files: %d\n", len(results))

	for _, r := range results {
		b.WriteString("\n--- " + r.Name + " ---\n")
		if r.IsJSON {
			data, _ := json.MarshalIndent(r.JSON, "", "  ")
			b.Write(truncateBytes(data, defaultTruncChars))
			b.WriteByte('\n')
			continue
		}
		b.WriteString(truncateString(r.Content, defaultTruncChars))
		if !strings.HasSuffix(r.Content, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "... [truncated]"
}

func truncateBytes(b []byte, max int) []byte {
	if len(b) <= max {
		return b
	}
	return append(b[:max], []byte("... [truncated]")...)
}
