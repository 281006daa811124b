package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/onyxsvc/onyx/internal/core"
)

const watchDebounce = 500 * time.Millisecond

// runWatch watches root for changes and re-runs a read-only Status report
// on each settled batch of events. It never starts or stops anything: per
// spec.md §9's one-shot construct/run/drop invocation model, there is no
// resident daemon loop driving execution here, only a repeated snapshot.
func runWatch(ctx context.Context, cmd *cobra.Command, root string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(root); err != nil {
		return err
	}

	report := func() {
		co, err := newCore(cmd)
		if err != nil {
			slog.Error("watch: building core", "err", err)
			return
		}
		rows, err := co.Status(core.StatusFilter{})
		if err != nil {
			slog.Error("watch: status", "err", err)
			return
		}
		printStatus(cmd, rows)
	}
	report()

	var debounceTimer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(watchDebounce, report)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("watch: fsnotify error", "err", err)
		}
	}
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the repository root and report status on change",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, _, err := resolveRepoRoot(cmd)
		if err != nil {
			return err
		}
		return runWatch(cmd.Context(), cmd, root)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
