package main

import (
	"os"
	"path/filepath"
)

// onyxHome returns the path to onyx's per-user state directory
// (~/.onyx), used for the audit log and the credential cache's
// metadata file.
func onyxHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".onyx"), nil
}
