package prompttemplate

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltinTemplatesCount(t *testing.T) {
	list := BuiltinTemplates()
	if len(list) != 5 {
		t.Fatalf("got %d builtin templates, want 5", len(list))
	}
	ids := map[string]bool{}
	for _, tmpl := range list {
		ids[tmpl.ID] = true
	}
	for _, id := range []string{"bugfix", "feature", "refactor", "tests", "gsd"} {
		if !ids[id] {
			t.Errorf("missing builtin template %q", id)
		}
	}
}

func TestInstantiateSubstitutesAllFields(t *testing.T) {
	tmpl := BuiltinTemplates()[0] // bugfix
	out := Instantiate(tmpl, map[string]string{
		"symptom":      "nil pointer deref",
		"file_path":    "src/foo/Bar.cpp",
		"root_cause":   "unchecked optional",
		"test_command": "ctest",
	})
	want := "Fix nil pointer deref in src/foo/Bar.cpp. Root cause: unchecked optional. Verify by running ctest."
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestInstantiateLeavesUnmatchedPlaceholders(t *testing.T) {
	tmpl := BuiltinTemplates()[0]
	out := Instantiate(tmpl, map[string]string{"symptom": "crash"})
	if out == tmpl.TemplateText {
		t.Error("expected partial substitution to change the text")
	}
}

func TestSaveAndLoadUserTemplateRoundTrips(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	tmpl := Template{
		ID:                 "mytmpl",
		Name:               "My Template",
		TemplateText:       "Do {{thing}}",
		RequiredFields:     []string{"thing"},
		SuggestedYoloLevel: 2,
		EstimatedCostMin:   0.05,
		EstimatedCostMax:   0.15,
	}
	if err := SaveUserTemplate(tmpl); err != nil {
		t.Fatalf("SaveUserTemplate: %v", err)
	}

	path := filepath.Join(dir, "konsolai", "prompt-templates", "mytmpl.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file at %s: %v", path, err)
	}

	loaded := UserTemplates()
	if len(loaded) != 1 || loaded[0].ID != "mytmpl" {
		t.Fatalf("loaded = %+v", loaded)
	}
	if loaded[0].TemplateText != tmpl.TemplateText {
		t.Errorf("template text = %q, want %q", loaded[0].TemplateText, tmpl.TemplateText)
	}
}

func TestUserTemplatesEmptyWhenDirMissing(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	if got := UserTemplates(); len(got) != 0 {
		t.Errorf("expected no user templates, got %v", got)
	}
}

func TestAllTemplatesIncludesBuiltinsAndUser(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)
	_ = SaveUserTemplate(Template{ID: "custom", Name: "Custom", TemplateText: "hi"})

	all := AllTemplates()
	if len(all) != 6 {
		t.Fatalf("got %d templates, want 6", len(all))
	}
}

func TestFromJSONDefaultsYoloLevel(t *testing.T) {
	tmpl, err := FromJSON([]byte(`{"id":"x","name":"X","templateText":"hi"}`))
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if tmpl.SuggestedYoloLevel != 1 {
		t.Errorf("yolo level = %d, want 1", tmpl.SuggestedYoloLevel)
	}
}
