// Package prompttemplate implements the PromptTemplateManager (C11):
// built-in and user-defined reusable prompt templates with placeholder
// substitution.
//
// Grounded directly on
// original_source/src/claude/PromptTemplateManager.cpp/.h: the five
// built-in templates reproduce its exact id/name/template text/required
// fields/yolo level/cost range, and Instantiate reproduces its
// global-replace placeholder substitution.
package prompttemplate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// Template is a reusable prompt with {{field}} placeholders.
type Template struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	TemplateText       string   `json:"templateText"`
	RequiredFields     []string `json:"requiredFields"`
	SuggestedYoloLevel int      `json:"suggestedYoloLevel"`
	EstimatedCostMin   float64  `json:"estimatedCostMin"`
	EstimatedCostMax   float64  `json:"estimatedCostMax"`
}

// BuiltinTemplates returns the five shipped templates, in a fixed order.
func BuiltinTemplates() []Template {
	return []Template{
		{
			ID:                 "bugfix",
			Name:               "Bug Fix",
			TemplateText:       "Fix {{symptom}} in {{file_path}}. Root cause: {{root_cause}}. Verify by running {{test_command}}.",
			RequiredFields:     []string{"symptom", "file_path", "root_cause", "test_command"},
			SuggestedYoloLevel: 3,
			EstimatedCostMin:   0.10,
			EstimatedCostMax:   0.30,
		},
		{
			ID:                 "feature",
			Name:               "Feature Add",
			TemplateText:       "Add {{feature}} to {{component}}. Requirements: {{requirements}}. Add tests covering: {{test_scenarios}}.",
			RequiredFields:     []string{"feature", "component", "requirements", "test_scenarios"},
			SuggestedYoloLevel: 2,
			EstimatedCostMin:   0.30,
			EstimatedCostMax:   1.50,
		},
		{
			ID:                 "refactor",
			Name:               "Refactor",
			TemplateText:       "Refactor {{target}} to use {{pattern}}. All existing tests must pass. Affected files: {{affected_files}}.",
			RequiredFields:     []string{"target", "pattern", "affected_files"},
			SuggestedYoloLevel: 1,
			EstimatedCostMin:   0.20,
			EstimatedCostMax:   0.80,
		},
		{
			ID:                 "tests",
			Name:               "Test Suite",
			TemplateText:       "Write tests for {{component}}. Cover: {{scenarios}}. Use the existing test framework.",
			RequiredFields:     []string{"component", "scenarios"},
			SuggestedYoloLevel: 3,
			EstimatedCostMin:   0.15,
			EstimatedCostMax:   0.50,
		},
		{
			ID:                 "gsd",
			Name:               "GSD Project",
			TemplateText:       "Use /gsd:new-project: {{description}}",
			RequiredFields:     []string{"description"},
			SuggestedYoloLevel: 3,
			EstimatedCostMin:   1.0,
			EstimatedCostMax:   5.0,
		},
	}
}

func userTemplateDir() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "konsolai", "prompt-templates")
}

// UserTemplates loads every *.json file in the user template directory,
// skipping any file that fails to parse.
func UserTemplates() []Template {
	var list []Template
	dir := userTemplateDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return list
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		t, err := FromJSON(data)
		if err != nil {
			continue
		}
		list = append(list, t)
	}
	return list
}

// AllTemplates returns the built-ins followed by user templates.
func AllTemplates() []Template {
	list := BuiltinTemplates()
	list = append(list, UserTemplates()...)
	return list
}

// Instantiate substitutes every {{key}} placeholder in tmpl.TemplateText
// with fields[key], globally.
func Instantiate(tmpl Template, fields map[string]string) string {
	result := tmpl.TemplateText
	for key, val := range fields {
		placeholder := "{{" + key + "}}"
		result = strings.ReplaceAll(result, placeholder, val)
	}
	return result
}

// SaveUserTemplate atomically writes tmpl as <id>.json under the user
// template directory, guarded by a flock to avoid concurrent writers
// tearing each other's temp-file-rename.
func SaveUserTemplate(tmpl Template) error {
	dir := userTemplateDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	lock := flock.New(filepath.Join(dir, ".lock"))
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	data, err := ToJSON(tmpl)
	if err != nil {
		return err
	}

	finalPath := filepath.Join(dir, tmpl.ID+".json")
	tmpFile, err := os.CreateTemp(dir, tmpl.ID+".json.tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, finalPath)
}

// FromJSON parses a Template, defaulting SuggestedYoloLevel to 1 when
// absent.
func FromJSON(data []byte) (Template, error) {
	var t Template
	if err := json.Unmarshal(data, &t); err != nil {
		return Template{}, err
	}
	if t.SuggestedYoloLevel == 0 {
		t.SuggestedYoloLevel = 1
	}
	return t, nil
}

// ToJSON serializes a Template with indentation matching the teacher's
// on-disk style.
func ToJSON(tmpl Template) ([]byte, error) {
	return json.MarshalIndent(tmpl, "", "  ")
}
