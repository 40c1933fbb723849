package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// recognizedHookEvents is the event_type taxonomy AgentStateMachine
// dispatches on (see statemachine.HandleHookEvent).
var recognizedHookEvents = []string{
	"Stop", "PreToolUse", "PostToolUse", "PermissionRequest", "Notification",
	"SubagentStart", "SubagentStop", "TeammateIdle", "TaskCompleted",
}

// GenerateHookConfig builds the `hooks` fragment mapping each recognized
// event type to an invocation of the hookclient sidecar against
// socketPath. Pure and deterministic. The exact fragment shape is defined
// by the upstream agent CLI and is therefore opaque to the core — this
// only guarantees a generator exists and is pure, per spec §6.
func GenerateHookConfig(hookClientPath, socketPath string) map[string]any {
	hooks := make(map[string]any, len(recognizedHookEvents))
	for _, ev := range recognizedHookEvents {
		hooks[ev] = []map[string]any{
			{
				"matcher": "",
				"hooks": []map[string]any{
					{
						"type":    "command",
						"command": fmt.Sprintf("%s --socket %s --event %s", hookClientPath, socketPath, ev),
					},
				},
			},
		}
	}
	return hooks
}

// WriteHookConfigFragment atomically merges {"hooks": fragment} into the
// JSON object at path, preserving any other top-level keys already
// present. Follows the same write-to-temp-then-rename-under-flock idiom
// as registry.saveLocked/metadatastore.saveLocked.
func WriteHookConfigFragment(path string, fragment map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	defer lock.Unlock()

	doc := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if len(data) > 0 {
			if err := json.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("parse existing %s: %w", path, err)
			}
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", path, err)
	}

	doc["hooks"] = fragment

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}
