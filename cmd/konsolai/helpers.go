// Command konsolai is the operator-facing CLI driving the session control
// plane: session lifecycle, status, prompt templates, and quality
// assessment. It is the one concrete consumer of the core packages this
// module exports (internal/session, internal/registry, internal/oneshot,
// internal/promptgate, internal/prompttemplate) — the host UI named in
// the project's non-goals stays unbuilt, but something has to drive the
// public API end to end, and this is that something.
//
// Grounded on dcosson-h2/internal/cmd's Cobra command set (root.go,
// ls.go, status.go, run.go): PersistentPreRunE for shared setup,
// one file per command family, fmt.Fprintf(cmd.OutOrStdout(), ...) for
// output so tests can capture it.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"konsolai/internal/konsolaiconfig"
	"konsolai/internal/metadatastore"
	"konsolai/internal/muxdriver"
	"konsolai/internal/notifier"
	"konsolai/internal/registry"
)

// appContext bundles the collaborators every subcommand needs, loaded
// once in the root command's PersistentPreRunE.
type appContext struct {
	Config    *konsolaiconfig.Config
	Driver    muxdriver.Driver
	Registry  *registry.Registry
	MetaStore *metadatastore.Store
	Notifier  notifier.Notifier
}

func loadAppContext() (*appContext, error) {
	cfg, err := konsolaiconfig.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	driver := muxdriver.NewTmuxDriver()

	reg := registry.New(registryPath(), driver, cfg.SessionPrefix)
	if err := reg.Load(); err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}

	meta := metadatastore.New(metadataPath())
	if err := meta.Load(); err != nil {
		return nil, fmt.Errorf("load session metadata: %w", err)
	}

	return &appContext{
		Config:    cfg,
		Driver:    driver,
		Registry:  reg,
		MetaStore: meta,
		Notifier:  notifier.NewWriter(os.Stderr),
	}, nil
}

func registryPath() string {
	return filepath.Join(konsolaiconfig.Dir(), "sessions.json")
}

func metadataPath() string {
	return filepath.Join(konsolaiconfig.Dir(), "session-metadata.json")
}

// sessionConnError mirrors h2's agentConnError: a "not found" error that
// also lists known alternatives, so a typo'd name is easy to fix.
func sessionConnError(appCtx *appContext, name string) error {
	_ = appCtx.Registry.Refresh()
	states := appCtx.Registry.All()
	if len(states) == 0 {
		return fmt.Errorf("no known session %q (no sessions registered)\n\nStart one with: konsolai session create", name)
	}
	names := make([]string, len(states))
	for i, st := range states {
		names[i] = st.Name
	}
	return fmt.Errorf("no known session %q\n\nKnown sessions: %s", name, strings.Join(names, ", "))
}
