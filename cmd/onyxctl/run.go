package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/onyxsvc/onyx/internal/core"
)

func flagsFromCmd(cmd *cobra.Command) core.Flags {
	skipDown, _ := cmd.Flags().GetBool("skip-down")
	autoNeeds, _ := cmd.Flags().GetBool("auto-enable-needs")
	autoWants, _ := cmd.Flags().GetBool("auto-enable-wants")
	dryFull, _ := cmd.Flags().GetBool("dry-full")
	stopAll, _ := cmd.Flags().GetBool("all")
	includeWants, _ := cmd.Flags().GetBool("include-wants")
	return core.Flags{
		SkipDown:        skipDown,
		AutoEnableNeeds: autoNeeds,
		AutoEnableWants: autoWants,
		DryFull:         dryFull,
		StopAll:         stopAll,
		IncludeWants:    includeWants,
	}
}

func addEnableFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("skip-down", false, "accepted but not consulted by any operation")
	cmd.Flags().Bool("auto-enable-needs", false, "not consulted: declared needs are always loaded")
	cmd.Flags().Bool("auto-enable-wants", false, "not consulted by enable: wants are only followed by start with --include-wants")
	cmd.Flags().Bool("dry-full", false, "resolve the full transitive closure without executing")
	cmd.Flags().Bool("all", false, "stop-all mode: cap per-service timeouts at the default (only the named services are stopped)")
	cmd.Flags().Bool("include-wants", false, "include soft (wants) dependencies in the closure")
}

var enableCmd = &cobra.Command{
	Use:   "enable <name...>",
	Short: "Resolve a service's dependency closure without executing it",
	RunE: func(cmd *cobra.Command, args []string) error {
		co, err := newCore(cmd)
		if err != nil {
			return err
		}
		return co.Enable(args, flagsFromCmd(cmd))
	},
}

var startCmd = &cobra.Command{
	Use:   "start <name...>",
	Short: "Start the named services and their dependency closure",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := flagsFromCmd(cmd)
		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			return runStartWatch(cmd, args, flags)
		}
		co, err := newCore(cmd)
		if err != nil {
			return err
		}
		return co.Start(context.Background(), args, flags)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <name...>",
	Short: "Stop the named services",
	RunE: func(cmd *cobra.Command, args []string) error {
		co, err := newCore(cmd)
		if err != nil {
			return err
		}
		return co.Stop(context.Background(), args, flagsFromCmd(cmd))
	},
}

// restartCmd composes stop then start, per spec.md §6's treatment of
// restart as a convenience over the two named operations rather than a
// third primitive.
var restartCmd = &cobra.Command{
	Use:   "restart <name...>",
	Short: "Stop then start the named services",
	RunE: func(cmd *cobra.Command, args []string) error {
		co, err := newCore(cmd)
		if err != nil {
			return err
		}
		flags := flagsFromCmd(cmd)
		if err := co.Stop(context.Background(), args, flags); err != nil {
			return err
		}
		return co.Start(context.Background(), args, flags)
	},
}

// reloadCmd is restart's alias for longrun services managed by the
// external supervisor, matching the teacher CLI's separate verb for
// the same underlying stop/start pair.
var reloadCmd = &cobra.Command{
	Use:   "reload <name...>",
	Short: "Alias for restart",
	RunE:  restartCmd.RunE,
}

var statusCmd = &cobra.Command{
	Use:   "status [name...]",
	Short: "Report persisted status for services",
	RunE: func(cmd *cobra.Command, args []string) error {
		co, err := newCore(cmd)
		if err != nil {
			return err
		}
		rows, err := co.Status(core.StatusFilter{Names: args})
		if err != nil {
			return err
		}
		return printStatus(cmd, rows)
	},
}

func printStatus(cmd *cobra.Command, rows []core.ServiceStatus) error {
	useJSON, _ := cmd.Flags().GetBool("json")
	if useJSON {
		return printStatusJSON(rows)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tEVENT\tCODE\tMESSAGE")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.Name, r.Kind, r.Record.Event, r.Record.Code, r.Record.Message)
	}
	return tw.Flush()
}

// planCmd is the supplemented dry-list capability: it shows the order a
// subsequent start would run without executing anything.
var planCmd = &cobra.Command{
	Use:   "plan <name...>",
	Short: "Print the start order for the named services without running them",
	RunE: func(cmd *cobra.Command, args []string) error {
		co, err := newCore(cmd)
		if err != nil {
			return err
		}
		order, err := co.Plan(args, flagsFromCmd(cmd))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(order, "\n"))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{enableCmd, startCmd, stopCmd, restartCmd, reloadCmd, planCmd} {
		addEnableFlags(c)
	}
	startCmd.Flags().Bool("watch", false, "render a live progress view instead of plain lines")
	rootCmd.AddCommand(enableCmd, startCmd, stopCmd, restartCmd, reloadCmd, statusCmd, planCmd)
}
