// Package registry implements the Registry (C6): a process-wide
// singleton tracking live sessions and their persisted metadata,
// cross-referencing the multiplexer's live session list to detect
// orphans.
//
// Grounded on spec.md §4.5 for the operation set and refresh-timer
// semantics, on dcosson-h2's glob/regex session-name parsing idiom
// (internal/socketdir, muxdriver.SessionNamePattern) for orphan
// detection, and on the atomic-write-guarded-by-flock idiom (SPEC_FULL
// §4.5) for persistence.
package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"konsolai/internal/muxdriver"
)

// defaultListTimeout bounds every multiplexer list call so refresh/orphan
// detection never blocks the caller indefinitely (spec.md §5: every poll
// must complete in bounded time).
const defaultListTimeout = 10 * time.Second

// SessionState is the persisted metadata for one known session,
// including orphans no longer owned by this process.
type SessionState struct {
	Name         string    `json:"name"`
	Profile      string    `json:"profile"`
	ID           string    `json:"id"`
	WorkingDir   string    `json:"working_dir"`
	Attached     bool      `json:"attached"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`

	LastAutoContinuePrompt string `json:"last_auto_continue_prompt,omitempty"`
}

// Handle is the minimal set of session-side data the Registry needs from
// an active Session; the Session itself is the non-owning consumer's
// problem, Registry only needs enough to track state.
type Handle struct {
	Name       string
	Profile    string
	ID         string
	WorkingDir string
}

type persistedFile struct {
	Version  int            `json:"version"`
	Sessions []SessionState `json:"sessions"`
}

// Signals fired on registry mutations.
type Signals struct {
	SessionRegistered   func(name string)
	SessionUnregistered func(name string)
}

// Registry owns the live-session map and the all-known-sessions state
// map, with atomic JSON persistence.
type Registry struct {
	mu sync.RWMutex

	active map[string]Handle
	states map[string]SessionState

	path   string
	driver muxdriver.Driver
	prefix string

	Signals Signals
}

// New constructs a Registry persisting to path, using driver for
// multiplexer cross-referencing of sessions named with the given
// prefix (see muxdriver.SessionNamePattern).
func New(path string, driver muxdriver.Driver, prefix string) *Registry {
	return &Registry{
		active: make(map[string]Handle),
		states: make(map[string]SessionState),
		path:   path,
		driver: driver,
		prefix: prefix,
	}
}

// Load reads the persisted state file, skipping invalid entries. A
// missing file is not an error — the Registry starts empty.
func (r *Registry) Load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var pf persistedFile
	if err := json.Unmarshal(data, &pf); err != nil {
		// Fault-tolerant: start empty rather than fail the whole load.
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range pf.Sessions {
		if s.Name == "" {
			continue
		}
		// A session can only be attached by a live process that just
		// registered it; nothing survives a process restart to still be
		// attached, so loaded state always starts detached.
		s.Attached = false
		r.states[s.Name] = s
	}
	return nil
}

func (r *Registry) saveLocked() error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	lock := flock.New(r.path + ".lock")
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	pf := persistedFile{Version: 1}
	for _, s := range r.states {
		pf.Sessions = append(pf.Sessions, s)
	}
	sort.Slice(pf.Sessions, func(i, j int) bool { return pf.Sessions[i].Name < pf.Sessions[j].Name })

	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "sessions.json.tmp-*")
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
	return os.Rename(tmpPath, r.path)
}

// Register inserts a live session, marking it attached, and persists.
func (r *Registry) Register(h Handle) error {
	now := time.Now()
	r.mu.Lock()
	r.active[h.Name] = h
	st, existed := r.states[h.Name]
	if !existed {
		st = SessionState{Name: h.Name, Profile: h.Profile, ID: h.ID, WorkingDir: h.WorkingDir, CreatedAt: now}
	}
	st.Attached = true
	st.LastAccessed = now
	r.states[h.Name] = st
	err := r.saveLocked()
	r.mu.Unlock()
	if r.Signals.SessionRegistered != nil {
		r.Signals.SessionRegistered(h.Name)
	}
	return err
}

// Unregister removes a session from the active map, marking it
// detached while preserving its state, and persists.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	delete(r.active, name)
	if st, ok := r.states[name]; ok {
		st.Attached = false
		r.states[name] = st
	}
	err := r.saveLocked()
	r.mu.Unlock()
	if r.Signals.SessionUnregistered != nil {
		r.Signals.SessionUnregistered(name)
	}
	return err
}

// MarkAttached flips a known state's attached flag on.
func (r *Registry) MarkAttached(name string) error {
	return r.setAttached(name, true)
}

// MarkDetached flips a known state's attached flag off.
func (r *Registry) MarkDetached(name string) error {
	return r.setAttached(name, false)
}

func (r *Registry) setAttached(name string, attached bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[name]
	if !ok {
		return nil
	}
	st.Attached = attached
	st.LastAccessed = time.Now()
	r.states[name] = st
	return r.saveLocked()
}

// Find returns the known state for name, if any.
func (r *Registry) Find(name string) (SessionState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[name]
	return st, ok
}

// All returns every known session state, sorted by name. Used by the
// operator CLI to render a full session list.
func (r *Registry) All() []SessionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionState, 0, len(r.states))
	for _, st := range r.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Orphaned returns every known state that still exists in the
// multiplexer but is not active in this process.
func (r *Registry) Orphaned() ([]SessionState, error) {
	names, err := r.existingMuxNames()
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []SessionState
	for name, st := range r.states {
		if names[name] && r.active[name].Name == "" {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *Registry) existingMuxNames() (map[string]bool, error) {
	set := make(map[string]bool)
	if r.driver == nil {
		return set, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultListTimeout)
	defer cancel()
	list, err := r.driver.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range list {
		set[s.Name] = true
	}
	return set, nil
}

// LastAutoContinuePrompt returns the most-recently-accessed known
// state's recorded auto-continue prompt for the given working
// directory, or "" if none.
func (r *Registry) LastAutoContinuePrompt(workingDir string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best SessionState
	found := false
	for _, st := range r.states {
		if st.WorkingDir != workingDir {
			continue
		}
		if !found || st.LastAccessed.After(best.LastAccessed) {
			best = st
			found = true
		}
	}
	if !found {
		return ""
	}
	return best.LastAutoContinuePrompt
}

// Refresh cross-references the multiplexer's live session list against
// known states: new multiplexer sessions matching the name pattern are
// inserted, and states whose session no longer exists in the
// multiplexer AND are not active are removed. Intended to be called
// from a 30s timer per spec.md §4.5.
func (r *Registry) Refresh() error {
	if r.driver == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultListTimeout)
	defer cancel()
	list, err := r.driver.List(ctx)
	if err != nil {
		return err
	}
	pattern := muxdriver.SessionNamePattern(r.prefix)

	r.mu.Lock()
	defer r.mu.Unlock()

	existing := make(map[string]bool, len(list))
	for _, s := range list {
		existing[s.Name] = true
		if _, ok := r.states[s.Name]; ok {
			continue
		}
		m := pattern.FindStringSubmatch(s.Name)
		if m == nil {
			continue
		}
		r.states[s.Name] = SessionState{
			Name:      s.Name,
			Profile:   m[1],
			ID:        m[2],
			CreatedAt: s.Created,
		}
	}

	for name := range r.states {
		if !existing[name] && r.active[name].Name == "" {
			delete(r.states, name)
		}
	}

	return r.saveLocked()
}
