// Package skills implements C4: the filesystem-backed skill registry,
// its on-prompt scoring (§4.4.1), and post-read usage tracking (§4.4).
// Grounded on the teacher's internal/tool/skill.go, which already loads
// one named skill file from .dcode/skills/<name>.md — generalized here
// from "load a single skill on request" into a registry that indexes
// every skill, scores them against a prompt, and tracks usage counters.
// Path matching (is this read a SKILL.md?) reuses the glob-compilation
// idiom from the teacher's internal/permission/ruleset.go.
package skills

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/Dhanuzh/dcode-hooks/internal/signals"
)

// Skill is the per-skill entity described in §3.1.
type Skill struct {
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	Tags         []string  `json:"tags"`
	Summary      string    `json:"summary"`
	Dependencies []string  `json:"dependencies,omitempty"`
	UseCount     int       `json:"use_count"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	LastUsed     time.Time `json:"last_used,omitempty"`
	Version      string    `json:"version,omitempty"`
}

// ScoredSkill pairs a skill with its computed match score (§4.4.1).
type ScoredSkill struct {
	Skill Skill
	Score int
}

// index.json and metadata.json on-disk shapes.
type indexFile struct {
	Skills []Skill `json:"skills"`
}

// Registry is a loaded view of the skill index plus the root directory
// it was loaded from, so writers can update both the index and the
// per-skill metadata file in lockstep (§3.2: "one canonical writer").
type Registry struct {
	root   string // <claude_home>/skills
	skills []Skill
}

const skillGlobPattern = "skills/*/SKILL.md"

// indexSkillName is excluded from track_read matching (§4.4: "<name> is
// not the index itself").
const indexSkillName = "skill-index"

// Load reads the central index from <root>/skill-index/index.json. A
// missing index is treated as an empty registry, never an error (§3.2,
// §9: "hooks must treat absence as empty, not as error").
func Load(root string) (*Registry, error) {
	path := filepath.Join(root, "skill-index", "index.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{root: root}, nil
		}
		return nil, fmt.Errorf("read skill index: %w", err)
	}
	var idx indexFile
	if err := json.Unmarshal(data, &idx); err != nil {
		// A corrupt index is treated the same as absent — never block a hook.
		return &Registry{root: root}, nil
	}
	return &Registry{root: root, skills: idx.Skills}, nil
}

// Skills returns every registered skill.
func (r *Registry) Skills() []Skill { return r.skills }

// Match implements §4.4.1's scoring rule and returns skills at or above
// the suggestion threshold, sorted by score descending, stable for ties
// (insertion order preserved by a stable sort).
func (r *Registry) Match(prompt string, suggestionThreshold, recentDays int) []ScoredSkill {
	lowerPrompt := strings.ToLower(prompt)
	tokens := signals.Tokenize(prompt)

	var out []ScoredSkill
	for _, s := range r.skills {
		score := scoreSkill(s, lowerPrompt, tokens, recentDays)
		if score >= suggestionThreshold {
			out = append(out, ScoredSkill{Skill: s, Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func scoreSkill(s Skill, lowerPrompt string, tokens map[string]bool, recentDays int) int {
	score := 0

	for _, tag := range s.Tags {
		lowerTag := strings.ToLower(tag)
		if strings.Contains(lowerPrompt, lowerTag) {
			score += 3
		}
		for _, w := range strings.Split(lowerTag, "-") {
			if len(w) > 2 && tokens[w] {
				score += 2
			}
		}
	}

	if s.Category != "" && strings.Contains(lowerPrompt, strings.ToLower(s.Category)) {
		score += 5
	}

	summaryWords := signals.Tokenize(s.Summary)
	for w := range summaryWords {
		if signals.StopWords[w] {
			continue
		}
		if tokens[w] {
			score += 2
		}
	}

	for _, p := range strings.Split(s.Name, "-") {
		lp := strings.ToLower(p)
		if len(lp) > 2 && tokens[lp] {
			score += 3
		}
	}

	if !s.LastUsed.IsZero() && time.Since(s.LastUsed) <= time.Duration(recentDays)*24*time.Hour {
		score++
	}

	return score
}

// skillReadMatcher recognizes a Read tool target of the form
// skills/<name>/SKILL.md (§4.4: "track_read... if the path matches the
// pattern").
var skillReadMatcher = glob.MustCompile(skillGlobPattern, '/')

// SkillNameFromReadPath returns the skill name if path matches
// skills/<name>/SKILL.md and is not the index itself; ok is false
// otherwise. The match is anchored to the last three path components so
// an absolute prefix (e.g. /home/user/.claude/skills/foo/SKILL.md) still
// matches.
func SkillNameFromReadPath(path string) (name string, ok bool) {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) < 3 {
		return "", false
	}
	tail := parts[len(parts)-3:]
	candidate := strings.Join(tail, "/")
	if !skillReadMatcher.Match(candidate) {
		return "", false
	}
	n := tail[1]
	if n == indexSkillName {
		return "", false
	}
	return n, true
}

// TrackRead increments use_count and sets last_used=today for the skill
// a Read tool invocation targeted, in both the per-skill metadata file
// and the central index (§4.4, §4.4.2 atomic read-modify-write).
func (r *Registry) TrackRead(readPath string) error {
	name, ok := SkillNameFromReadPath(readPath)
	if !ok {
		return nil
	}
	return r.update(name, func(s *Skill) {
		s.UseCount++
		s.LastUsed = time.Now().Truncate(24 * time.Hour)
	})
}

// MarkSuccess increments a skill's success_count.
func (r *Registry) MarkSuccess(name string) error {
	return r.update(name, func(s *Skill) { s.SuccessCount++ })
}

// MarkFailure increments a skill's failure_count.
func (r *Registry) MarkFailure(name string) error {
	return r.update(name, func(s *Skill) { s.FailureCount++ })
}

// update applies fn to the named skill's in-memory record, then
// persists both the per-skill metadata file and the central index via
// temp-file-then-rename (§4.4.2, §5: "write-to-temp-then-rename for any
// non-trivial JSON state file").
func (r *Registry) update(name string, fn func(*Skill)) error {
	found := false
	for i := range r.skills {
		if r.skills[i].Name == name {
			fn(&r.skills[i])
			found = true
			break
		}
	}
	if !found {
		return nil // unknown skill: nothing to track, never an error
	}

	if err := r.writeMetadata(name); err != nil {
		return err
	}
	return r.writeIndex()
}

func (r *Registry) writeMetadata(name string) error {
	var skill *Skill
	for i := range r.skills {
		if r.skills[i].Name == name {
			skill = &r.skills[i]
			break
		}
	}
	if skill == nil {
		return nil
	}
	dir := filepath.Join(r.root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create skill dir: %w", err)
	}
	return atomicWriteJSON(filepath.Join(dir, "metadata.json"), skill)
}

func (r *Registry) writeIndex() error {
	dir := filepath.Join(r.root, "skill-index")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	return atomicWriteJSON(filepath.Join(dir, "index.json"), indexFile{Skills: r.skills})
}

// atomicWriteJSON writes v as JSON to a temp file in the same directory
// as path, then renames over path — a stray partial write leaves path in
// the old or new state, never truncated (§4.4.2).
func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
