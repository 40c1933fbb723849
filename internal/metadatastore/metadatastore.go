// Package metadatastore implements the SessionMetadataStore (C13):
// UI-facing pin/archive/expiry flags layered on top of the Registry's
// session states, persisted to a separate file.
//
// Grounded on spec.md §4.5's SessionMetadataStore paragraph and on the
// same atomic-write-guarded-by-flock persistence idiom used by
// internal/registry.
package metadatastore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"
)

// Flags are the UI-facing metadata flags for one session name.
type Flags struct {
	Name       string `json:"name"`
	IsPinned   bool   `json:"is_pinned"`
	IsArchived bool   `json:"is_archived"`
	IsExpired  bool   `json:"is_expired"`
}

type persistedFile struct {
	Version int     `json:"version"`
	Entries []Flags `json:"entries"`
}

// ArchiveRequest is emitted by Unarchive: a request for the owning
// Session layer to recreate a multiplexer session in the given working
// directory.
type ArchiveRequest struct {
	Name       string
	WorkingDir string
}

// Signals fired on flag mutations.
type Signals struct {
	// KillRequested is invoked by Archive to ask the caller to tear down
	// the live multiplexer session; the metadata itself is preserved.
	KillRequested func(name string)
	// RecreateRequested is invoked by Unarchive.
	RecreateRequested func(req ArchiveRequest)
}

// Store owns the pin/archive/expiry flags, independent of Registry.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Flags
	path    string

	Signals Signals
}

// New constructs a Store persisting to path.
func New(path string) *Store {
	return &Store{path: path, entries: make(map[string]Flags)}
}

// Load reads the persisted flags file. A missing file is not an error.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var pf persistedFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range pf.Entries {
		if e.Name == "" {
			continue
		}
		s.entries[e.Name] = e
	}
	return nil
}

func (s *Store) saveLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	lock := flock.New(s.path + ".lock")
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	pf := persistedFile{Version: 1}
	for _, e := range s.entries {
		pf.Entries = append(pf.Entries, e)
	}
	sort.Slice(pf.Entries, func(i, j int) bool { return pf.Entries[i].Name < pf.Entries[j].Name })

	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "session-metadata.json.tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.path)
}

func (s *Store) get(name string) Flags {
	f, ok := s.entries[name]
	if !ok {
		f = Flags{Name: name}
	}
	return f
}

// Get returns the current flags for name (zero-value defaults if
// unknown).
func (s *Store) Get(name string) Flags {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(name)
}

// SetPinned sets the pin flag.
func (s *Store) SetPinned(name string, pinned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.get(name)
	f.IsPinned = pinned
	s.entries[name] = f
	return s.saveLocked()
}

// SetExpired marks a session as expired (e.g. past a TTL); never
// destroys state.
func (s *Store) SetExpired(name string, expired bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.get(name)
	f.IsExpired = expired
	s.entries[name] = f
	return s.saveLocked()
}

// Archive marks a session archived and requests the multiplexer session
// be killed; metadata is preserved, never destroyed.
func (s *Store) Archive(name string) error {
	s.mu.Lock()
	f := s.get(name)
	f.IsArchived = true
	s.entries[name] = f
	err := s.saveLocked()
	s.mu.Unlock()
	if err == nil && s.Signals.KillRequested != nil {
		s.Signals.KillRequested(name)
	}
	return err
}

// Unarchive clears the archived flag and requests the session be
// recreated in workingDir.
func (s *Store) Unarchive(name, workingDir string) error {
	s.mu.Lock()
	f := s.get(name)
	f.IsArchived = false
	s.entries[name] = f
	err := s.saveLocked()
	s.mu.Unlock()
	if err == nil && s.Signals.RecreateRequested != nil {
		s.Signals.RecreateRequested(ArchiveRequest{Name: name, WorkingDir: workingDir})
	}
	return err
}
