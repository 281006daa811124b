package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/onyxsvc/onyx/internal/audit"
	"github.com/onyxsvc/onyx/internal/config"
	"github.com/onyxsvc/onyx/internal/core"
	"github.com/onyxsvc/onyx/internal/keychain"
	"github.com/onyxsvc/onyx/internal/observer"
	"github.com/onyxsvc/onyx/internal/repo"
)

// newAuditedStore builds the credential cache used to gate oneshot
// secret prompts. Values go to keychain.NewSystemStore (the macOS
// Keychain on darwin, process memory elsewhere); only the rotation
// metadata file is kept under ~/.onyx, alongside the lifecycle transcript.
func newAuditedStore(home string, auditLog *audit.Logger) (*keychain.AuditedStore, error) {
	meta, err := keychain.NewMetadataStore(filepath.Join(home, "credential-metadata.json"))
	if err != nil {
		return nil, err
	}
	inner := keychain.NewSystemStore()
	return keychain.NewAuditedStore(inner, auditLog, meta, "cli"), nil
}

// resolveRepoRoot determines the repository root the same way for every
// subcommand: the --repo flag, then AA_REPO from the environment. The
// override file does not carry a repository root.
func resolveRepoRoot(cmd *cobra.Command) (string, *config.Config, error) {
	cfgPath := config.DefaultPath()
	cfg, err := config.Resolve(cfgPath)
	if err != nil {
		return "", nil, fmt.Errorf("loading config: %w", err)
	}

	root, _ := cmd.Flags().GetString("repo")
	if root == "" {
		root = cfg.RepoRoot
	}
	if root == "" {
		return "", nil, fmt.Errorf("no repository root: pass --repo or set AA_REPO")
	}
	return root, cfg, nil
}

// newCore assembles a Core from the current command's flags, the
// environment, and the optional ~/.onyx/config.yaml override, wiring
// every cross-cutting concern SPEC_FULL names: the repository, the
// line Observer, the lifecycle transcript, an external supervisor when
// one is reachable, and the password-gate credential cache.
func newCore(cmd *cobra.Command) (*core.Core, error) {
	return newCoreWithObserver(cmd, newLineObserver(os.Stdout, os.Stderr))
}

// newCoreWithObserver is newCore with the output Observer overridden,
// used by the bubbletea live-progress view to substitute its own
// Observer for the plain line renderer.
func newCoreWithObserver(cmd *cobra.Command, obs observer.Observer) (*core.Core, error) {
	root, cfg, err := resolveRepoRoot(cmd)
	if err != nil {
		return nil, err
	}

	home, err := onyxHome()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(home, 0755); err != nil {
		return nil, err
	}

	auditLog, err := audit.NewLogger(filepath.Join(home, "audit.log"))
	if err != nil {
		return nil, err
	}

	rp := repo.New(root)
	sup, err := openSupervisor(rp)
	if err != nil {
		return nil, fmt.Errorf("opening supervisor fifos: %w", err)
	}

	store, err := newAuditedStore(home, auditLog)
	if err != nil {
		return nil, err
	}
	gate := keychain.NewPasswordCache(store)

	timeout := cfg.SecsTimeout
	if timeout == 0 {
		timeout = repo.DefaultTimeoutSecs
	}
	slots := cfg.ProgressSlots
	if slots == 0 {
		slots = config.DefaultProgressSlots
	}

	opts := []core.Option{
		core.WithObserver(obs),
		core.WithDefaultTimeout(timeout),
		core.WithProgressSlots(slots),
		core.WithAuditLogger(auditLog),
		core.WithPasswordGate(gate),
		core.WithStdin(os.Stdin),
	}
	if sup != nil {
		opts = append(opts, core.WithSupervisor(sup))
	}
	return core.New(root, opts...), nil
}
