// Package signals holds the closed vocabularies shared by C4 (skill
// matching), C5 (history index), C6 (live segmenter), C7 (recovery
// engine) and C9 (learning detector): domain-keyword topics, file-path extraction regexes,
// file-writing/task-tracking tool name sets, decision-indicator patterns,
// and the error/success/trial-and-error phrase lists behind §4.9's
// learning-moment detection. Centralizing them here keeps the five
// callers from drifting into subtly different keyword lists (§9: "the
// code-chunking language detector uses simple substring heuristics" is
// the same category of heuristic used project-wide for topic/file
// extraction, so one definition is shared).
package signals

import (
	"path/filepath"
	"regexp"
	"strings"
)

// DomainTopics is the fixed closed vocabulary of domain keywords
// searched for as substrings of user/assistant text (§4.5, §4.6.2).
var DomainTopics = []string{
	"hooks", "automation", "transcript", "session", "segment", "recovery",
	"skill", "skills", "history", "index", "config", "viper", "cobra",
	"logging", "rotation", "compaction", "chunk", "chunking", "aggregate",
	"rlm", "sandbox", "evaluator", "parser", "tokenizer", "scoring",
	"threshold", "boundary", "context", "memory", "persistence",
	"migration", "refactor", "test", "testing", "debug", "deploy",
	"database", "api", "auth", "cache", "queue", "worker", "pipeline",
	"docker", "kubernetes", "git", "github", "cli", "server", "client",
}

// sourceExtensions is the closed set of extensions treated as "known
// source extensions" for file-path extraction (§4.5, §4.6.2).
var sourceExtensions = []string{
	".go", ".py", ".js", ".ts", ".tsx", ".jsx", ".rs", ".java", ".rb",
	".c", ".h", ".cpp", ".hpp", ".md", ".json", ".yaml", ".yml", ".toml",
	".sh", ".sql", ".proto",
}

var extAlternation = func() string {
	parts := make([]string, len(sourceExtensions))
	for i, e := range sourceExtensions {
		parts[i] = regexp.QuoteMeta(e)
	}
	return strings.Join(parts, "|")
}()

// filePathPatterns match quoted or backticked paths ending in a known
// source extension, e.g. `internal/segment/segment.go` or "README.md".
var filePathPatterns = []*regexp.Regexp{
	regexp.MustCompile("`([\\w./-]+(?:" + extAlternation + "))`"),
	regexp.MustCompile(`"([\w./-]+(?:` + extAlternation + `))"`),
	regexp.MustCompile(`'([\w./-]+(?:` + extAlternation + `))'`),
}

// ExtractFilePaths returns every quoted/backticked path with a known
// source extension found in text, in order of appearance.
func ExtractFilePaths(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, re := range filePathPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			p := m[1]
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// ExtractTopics returns the domain-keyword topics present as substrings
// of lowercased text.
func ExtractTopics(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, topic := range DomainTopics {
		if strings.Contains(lower, topic) {
			out = append(out, topic)
		}
	}
	return out
}

// FileStem returns path's base name without its extension, used to turn
// a file-path extraction into an additional topic (§4.5: "file stems").
func FileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// FileWritingTools is the closed set of tool names whose invocation
// writes to the filesystem (§4.7 step 4: "+15 if segment's tool map
// contains any file-writing tool"; §4.7.1: "[Modified: <basename>]").
var FileWritingTools = map[string]bool{
	"Write": true, "Edit": true, "MultiEdit": true, "NotebookEdit": true,
	"Patch": true, "ApplyPatch": true,
}

// TaskTrackingTools is the closed set of tool names that manage a todo
// list (§4.7 step 4, §4.6.1 step 4).
var TaskTrackingTools = map[string]bool{
	"TodoWrite": true, "TodoRead": true,
}

// decisionPatterns are the small closed set of decision-indicator
// phrases scanned over assistant text (§4.6.2 "Decisions").
var decisionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bI'?ll\s+(?:use|go with|choose|pick)\s+[^.!?\n]{3,180}`),
	regexp.MustCompile(`(?i)\bdecided to\s+[^.!?\n]{3,180}`),
	regexp.MustCompile(`(?i)\bthe (?:right|best) (?:approach|way) is\s+[^.!?\n]{3,180}`),
	regexp.MustCompile(`(?i)\bgoing with\s+[^.!?\n]{3,180}`),
	regexp.MustCompile(`(?i)\bswitching to\s+[^.!?\n]{3,180}`),
}

// ExtractDecisions returns up to max phrases (10-200 chars) matching a
// decision-indicator pattern in text (§4.6.2).
func ExtractDecisions(text string, max int) []string {
	var out []string
	for _, re := range decisionPatterns {
		for _, m := range re.FindAllString(text, -1) {
			phrase := strings.TrimSpace(m)
			if len(phrase) < 10 || len(phrase) > 200 {
				continue
			}
			out = append(out, phrase)
			if len(out) >= max {
				return out
			}
		}
	}
	return out
}

// ErrorSignals are the case-insensitive substrings that mark a likely
// failure in transcript text (§4.9 learning detector).
var ErrorSignals = []string{
	"error:", "failed", "exception", "not found", "permission denied",
	"modulenotfounderror", "importerror", "syntaxerror", "typeerror",
	"valueerror",
}

var exitCodeErrorPattern = regexp.MustCompile(`exit code [1-9]`)

// SuccessSignals are only counted after a prior failure in the scan
// window (§4.9).
var SuccessSignals = []string{
	"worked", "success", "fixed", "resolved", "completed",
}

var exitCodeSuccessPattern = regexp.MustCompile(`exit code 0`)

// TrialAndErrorPhrases mark iterative problem-solving (§4.9).
var TrialAndErrorPhrases = []string{
	"let me try", "trying again", "another approach", "the problem was",
	"workaround", "let's try", "that didn't work", "one more try",
}

// IsErrorSignal reports whether text (already lowercased by the caller's
// convention) contains an error marker.
func IsErrorSignal(lowerText string) bool {
	for _, s := range ErrorSignals {
		if strings.Contains(lowerText, s) {
			return true
		}
	}
	return exitCodeErrorPattern.MatchString(lowerText)
}

// IsSuccessSignal reports whether text contains a success marker.
func IsSuccessSignal(lowerText string) bool {
	for _, s := range SuccessSignals {
		if strings.Contains(lowerText, s) {
			return true
		}
	}
	return exitCodeSuccessPattern.MatchString(lowerText)
}

// IsTrialAndErrorPhrase reports whether text contains a trial-and-error
// marker.
func IsTrialAndErrorPhrase(lowerText string) bool {
	for _, s := range TrialAndErrorPhrases {
		if strings.Contains(lowerText, s) {
			return true
		}
	}
	return false
}

// Tokenize lower-cases s and splits on whitespace, dash, and underscore
// (§4.4.1's tokenization rule, reused by §4.5.1 search scoring).
func Tokenize(s string) map[string]bool {
	lower := strings.ToLower(s)
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', '-', '_':
			return true
		}
		return false
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f != "" {
			set[f] = true
		}
	}
	return set
}

// StopWords is the fixed small stop-word set used when intersecting a
// skill summary against the prompt token set (§4.4.1).
var StopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "for": true,
	"with": true, "to": true, "of": true, "in": true, "on": true, "is": true,
	"this": true, "that": true, "it": true, "as": true, "are": true, "be": true,
}
