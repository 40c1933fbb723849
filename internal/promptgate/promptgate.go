// Package promptgate implements the heuristic PromptQualityGate (C11):
// pure scoring of a user prompt with suggestions and cost/duration
// estimates.
//
// Grounded directly on original_source/src/claude/PromptQualityGate.cpp:
// every regex, keyword list, scoring bracket, clamp, and grade threshold
// below reproduces that source exactly (substring keyword matching, not
// whole-word matching — e.g. "ctest" counts toward the "test" keyword).
package promptgate

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Grade is the qualitative bucket for a PromptAssessment's score.
type Grade string

const (
	Excellent Grade = "Excellent"
	Good      Grade = "Good"
	NeedsWork Grade = "NeedsWork"
	TooVague  Grade = "TooVague"
)

// Assessment is the result of scoring a prompt.
type Assessment struct {
	Score                int
	Grade                Grade
	Suggestions          []string
	DetectedFiles        []string
	SuggestedYoloLevel   int
	EstimatedDurationMin int
	EstimatedCostUSD     float64
}

var (
	filePathRe  = regexp.MustCompile(`\b(?:src|lib|test|tests|bin|include)/[\w/.+-]+|[\w/.-]+\.(?:cpp|h|hpp|py|ts|js|json|yaml|yml|toml|cmake|txt|md|rs|go|java|xml|qml)\b`)
	camelCaseRe = regexp.MustCompile(`\b[A-Z][a-z]+(?:[A-Z][a-z]+)+\b`)
	fileListRe  = regexp.MustCompile(`[\w/.-]+\.(?:cpp|h|py),\s*[\w/.-]+\.(?:cpp|h|py)`)
)

var acceptanceKeywords = []string{"build", "test", "pass", "verify", "assert", "compile", "check", "ensure"}
var scopeKeywords = []string{"only", "just", "limited to", "single", "specific"}
var actionVerbs = []string{"fix", "add", "implement", "refactor", "create", "update", "remove", "move"}
var vagueTerms = []string{"improve", "make better", "clean up", "somehow", "maybe"}

// Assess scores a prompt, optionally boosting the score if workingDir
// contains a CLAUDE.md.
func Assess(prompt, workingDir string) Assessment {
	if strings.TrimSpace(prompt) == "" {
		return Assessment{
			Score: 0, Grade: TooVague,
			Suggestions:          suggestionsFor(0, 0, 0, 0, 0),
			SuggestedYoloLevel:   1,
			EstimatedDurationMin: 60,
			EstimatedCostUSD:     1.20,
		}
	}

	fileScore, files := scoreFilePaths(prompt)
	acceptScore := scoreAcceptanceCriteria(prompt)
	scopeScore := scoreBoundedScope(prompt)
	clarityScore := scoreClarity(prompt)
	structureScore := scoreStructure(prompt)

	score := fileScore + acceptScore + scopeScore + clarityScore + structureScore

	if workingDir != "" {
		if _, err := os.Stat(filepath.Join(workingDir, "CLAUDE.md")); err == nil {
			score += 5
			if score > 100 {
				score = 100
			}
		}
	}

	grade := gradeFromScore(score)
	return Assessment{
		Score:                score,
		Grade:                grade,
		Suggestions:          suggestionsFor(fileScore, acceptScore, scopeScore, clarityScore, structureScore),
		DetectedFiles:        files,
		SuggestedYoloLevel:   yoloLevelFromGrade(grade),
		EstimatedDurationMin: durationFromGrade(grade),
		EstimatedCostUSD:     float64(durationFromGrade(grade)) * 0.02,
	}
}

func scoreFilePaths(prompt string) (int, []string) {
	seen := make(map[string]bool)
	var files []string
	add := func(tok string) {
		if !seen[tok] {
			seen[tok] = true
			files = append(files, tok)
		}
	}
	for _, m := range filePathRe.FindAllString(prompt, -1) {
		add(m)
	}
	for _, m := range camelCaseRe.FindAllString(prompt, -1) {
		add(m)
	}
	if len(files) == 0 {
		return 0, files
	}
	switch {
	case len(files) >= 3:
		return 25, files
	case len(files) == 2:
		return 18, files
	default:
		return 10, files
	}
}

func countPresentKeywords(lower string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			n++
		}
	}
	return n
}

func scoreAcceptanceCriteria(prompt string) int {
	matches := countPresentKeywords(strings.ToLower(prompt), acceptanceKeywords)
	switch {
	case matches >= 3:
		return 25
	case matches == 2:
		return 18
	case matches == 1:
		return 10
	default:
		return 0
	}
}

func scoreBoundedScope(prompt string) int {
	matches := countPresentKeywords(strings.ToLower(prompt), scopeKeywords)
	if fileListRe.MatchString(prompt) {
		matches += 2
	}
	switch {
	case matches >= 3:
		return 20
	case matches == 2:
		return 14
	case matches == 1:
		return 8
	default:
		return 0
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func scoreClarity(prompt string) int {
	lower := strings.ToLower(prompt)
	score := 0

	verbCount := countPresentKeywords(lower, actionVerbs)
	bonus := verbCount * 5
	if bonus > 10 {
		bonus = 10
	}
	score += bonus

	for _, vt := range vagueTerms {
		if strings.Contains(lower, vt) {
			score -= 3
		}
	}

	if len(prompt) > 20 {
		score += 5
	}

	return clampInt(score, 0, 15)
}

func scoreStructure(prompt string) int {
	length := len(strings.TrimSpace(prompt))
	score := 0
	switch {
	case length >= 50 && length <= 2000:
		score += 10
	case length >= 30 && length < 50:
		score += 5
	case length > 2000:
		score += 7
	}
	if strings.ContainsAny(prompt, ".:,") {
		score += 5
	}
	return clampInt(score, 0, 15)
}

func gradeFromScore(score int) Grade {
	switch {
	case score >= 75:
		return Excellent
	case score >= 50:
		return Good
	case score >= 25:
		return NeedsWork
	default:
		return TooVague
	}
}

func yoloLevelFromGrade(g Grade) int {
	switch g {
	case Excellent:
		return 3
	case Good:
		return 2
	default:
		return 1
	}
}

func durationFromGrade(g Grade) int {
	switch g {
	case Excellent:
		return 10
	case Good:
		return 15
	case NeedsWork:
		return 30
	default:
		return 60
	}
}

func suggestionsFor(fileScore, acceptScore, scopeScore, clarityScore, structureScore int) []string {
	var out []string
	if fileScore < 10 {
		out = append(out, "Mention specific files or classes to target")
	}
	if acceptScore < 10 {
		out = append(out, "Add acceptance criteria (e.g. 'verify by running ctest')")
	}
	if scopeScore < 8 {
		out = append(out, "Bound the scope (e.g. 'only modify src/claude/')")
	}
	if clarityScore < 5 {
		out = append(out, "Use clear action verbs (fix, add, implement, refactor)")
	}
	if structureScore < 5 {
		out = append(out, "Add more detail — aim for 50-2000 characters with sentence structure")
	}
	return out
}
