package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/onyxsvc/onyx/internal/audit"
)

// credStore builds the audited credential cache for direct management by
// the credential subcommands, independent of the one wired into a Core
// for oneshot password gating.
func credStore(home string) (*auditedStoreHandle, error) {
	if err := os.MkdirAll(home, 0755); err != nil {
		return nil, err
	}
	auditLog, err := audit.NewLogger(filepath.Join(home, "audit.log"))
	if err != nil {
		return nil, err
	}
	store, err := newAuditedStore(home, auditLog)
	if err != nil {
		return nil, err
	}
	return &auditedStoreHandle{store: store, closeLog: auditLog.Close}, nil
}

type auditedStoreHandle struct {
	store    interface {
		Set(key, value string) error
		Get(key string) (string, error)
		List() ([]string, error)
		Delete(key string) error
		Rotate(key, command string) error
	}
	closeLog func() error
}

var credCmd = &cobra.Command{
	Use:   "cred",
	Short: "Manage the password-gate credential cache",
}

var credSetCmd = &cobra.Command{
	Use:   "set <key> [value]",
	Short: "Store a credential in the cache",
	Long:  "Store a credential. If value is omitted, reads from stdin (useful for piping).",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := onyxHome()
		if err != nil {
			return err
		}
		h, err := credStore(home)
		if err != nil {
			return err
		}
		defer h.closeLog()
		key := args[0]

		var value string
		if len(args) == 2 {
			value = args[1]
		} else if term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Print("Enter credential value: ")
			b, err := term.ReadPassword(int(os.Stdin.Fd()))
			if err != nil {
				return fmt.Errorf("reading password: %w", err)
			}
			fmt.Println()
			value = string(b)
		} else {
			b, err := os.ReadFile("/dev/stdin")
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			value = strings.TrimRight(string(b), "\n")
		}

		if err := h.store.Set(key, value); err != nil {
			return err
		}
		fmt.Printf("credential %q stored\n", key)
		return nil
	},
}

var credGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Retrieve a credential from the cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := onyxHome()
		if err != nil {
			return err
		}
		h, err := credStore(home)
		if err != nil {
			return err
		}
		defer h.closeLog()
		val, err := h.store.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Println(val)
		return nil
	},
}

var credListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List the keys of cached credentials",
	Aliases: []string{"ls"},
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := onyxHome()
		if err != nil {
			return err
		}
		h, err := credStore(home)
		if err != nil {
			return err
		}
		defer h.closeLog()
		keys, err := h.store.List()
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Println("no credentials cached")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tSTATUS")
		for _, k := range keys {
			fmt.Fprintf(w, "%s\t%s\n", k, "ok")
		}
		return w.Flush()
	},
}

var credDeleteCmd = &cobra.Command{
	Use:     "delete <key>",
	Short:   "Remove a credential from the cache",
	Aliases: []string{"rm"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := onyxHome()
		if err != nil {
			return err
		}
		h, err := credStore(home)
		if err != nil {
			return err
		}
		defer h.closeLog()
		if err := h.store.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("credential %q deleted\n", args[0])
		return nil
	},
}

var credRotateCmd = &cobra.Command{
	Use:   "rotate <key>",
	Short: "Rotate a credential using its configured rotation command",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rotateCommand, _ := cmd.Flags().GetString("command")
		if rotateCommand == "" {
			return fmt.Errorf("--command is required (rotation command that outputs new value to stdout)")
		}
		home, err := onyxHome()
		if err != nil {
			return err
		}
		h, err := credStore(home)
		if err != nil {
			return err
		}
		defer h.closeLog()
		if err := h.store.Rotate(args[0], rotateCommand); err != nil {
			return err
		}
		fmt.Printf("credential %q rotated\n", args[0])
		return nil
	},
}

func init() {
	credRotateCmd.Flags().StringP("command", "c", "", "command to generate new credential value")
	credCmd.AddCommand(credSetCmd, credGetCmd, credListCmd, credDeleteCmd, credRotateCmd)
	rootCmd.AddCommand(credCmd)
}
