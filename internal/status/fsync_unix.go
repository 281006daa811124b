//go:build !windows

package status

import "os"

// fsyncDir fsyncs the parent directory after a rename, so the rename is
// durable across a crash. Supported on unix-like platforms.
func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
