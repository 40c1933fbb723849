// Package remotediscovery parses remote-host session discovery output
// and reads the host-FS Claude conversation index, per spec.md §4.5.
package remotediscovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// RemoteSession is a session discovered on a remote host via the
// discovery script's output.
type RemoteSession struct {
	Name       string
	WorkingDir string
	Host       string
	User       string
	Port       int
	IsRemote   bool
}

// ParseRemoteDiscoveryOutput parses one line per discovered session:
// "<abs_path>/.claude". Blank/whitespace-only lines are ignored. The
// synthesized session name embeds the host so it's distinguishable from
// local sessions sharing a working directory.
func ParseRemoteDiscoveryOutput(lines []string, host, user string, port int) []RemoteSession {
	var out []RemoteSession
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		workingDir := strings.TrimSuffix(trimmed, "/.claude")
		base := filepath.Base(workingDir)
		out = append(out, RemoteSession{
			Name:       fmt.Sprintf("%s@%s:%s", base, host, workingDir),
			WorkingDir: workingDir,
			Host:       host,
			User:       user,
			Port:       port,
			IsRemote:   true,
		})
	}
	return out
}

// ConversationEntry is one entry in a Claude project's
// sessions-index.json.
type ConversationEntry struct {
	SessionID    string `json:"sessionId"`
	Summary      string `json:"summary"`
	FirstPrompt  string `json:"firstPrompt"`
	MessageCount int    `json:"messageCount"`
	Created      string `json:"created"`
	Modified     string `json:"modified"`
}

// projectPathToDirName converts an absolute project path to the
// slash-to-dash directory name convention Claude uses under
// ~/.claude/projects/.
func projectPathToDirName(projectPath string) string {
	return strings.ReplaceAll(projectPath, "/", "-")
}

// ReadConversationIndex reads
// ~/.claude/projects/<slash-to-dash(projectPath)>/sessions-index.json
// and returns its entries sorted by Modified descending. A missing file
// returns an empty slice, not an error.
func ReadConversationIndex(projectPath string) ([]ConversationEntry, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(home, ".claude", "projects", projectPathToDirName(projectPath), "sessions-index.json")
	return readConversationIndexFile(path)
}

func readConversationIndexFile(path string) ([]ConversationEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entries []ConversationEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Modified > entries[j].Modified
	})
	return entries, nil
}
