package socketdir

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		filename string
		wantID   string
		wantOK   bool
	}{
		{"a1b2c3d4.sock", "a1b2c3d4", true},
		{"a1b2c3d4.yolo", "", false},
		{"no-extension", "", false},
		{".sock", "", false},
	}
	for _, c := range cases {
		entry, ok := Parse(c.filename)
		if ok != c.wantOK {
			t.Errorf("Parse(%q) ok = %v, want %v", c.filename, ok, c.wantOK)
			continue
		}
		if ok && entry.SessionID != c.wantID {
			t.Errorf("Parse(%q).SessionID = %q, want %q", c.filename, entry.SessionID, c.wantID)
		}
	}
}

func TestPathAndYoloPath(t *testing.T) {
	got := Path("deadbeef")
	want := filepath.Join(Dir(), "deadbeef.sock")
	if got != want {
		t.Errorf("Path = %q, want %q", got, want)
	}
	gotYolo := YoloPath("deadbeef")
	wantYolo := filepath.Join(Dir(), "deadbeef.yolo")
	if gotYolo != wantYolo {
		t.Errorf("YoloPath = %q, want %q", gotYolo, wantYolo)
	}
}

func TestFindAmbiguousAndMissing(t *testing.T) {
	dir := t.TempDir()
	if _, err := FindIn(dir, "missing"); err == nil {
		t.Error("expected error for missing socket")
	}
	if err := os.WriteFile(filepath.Join(dir, "abc12345.sock"), nil, 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := FindIn(dir, "abc12345")
	if err != nil {
		t.Fatalf("FindIn: %v", err)
	}
	if got != filepath.Join(dir, "abc12345.sock") {
		t.Errorf("FindIn = %q", got)
	}
}

func TestListIn(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a1111111.sock", "a2222222.sock", "a1111111.yolo", "stray.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := ListIn(dir)
	if err != nil {
		t.Fatalf("ListIn: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ListIn returned %d entries, want 2", len(entries))
	}
}

func TestListInMissingDirReturnsEmpty(t *testing.T) {
	entries, err := ListIn(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("ListIn: %v", err)
	}
	if entries != nil {
		t.Errorf("ListIn = %v, want nil", entries)
	}
}
