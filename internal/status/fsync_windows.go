//go:build windows

package status

// fsyncDir is a no-op on Windows, which does not support fsync on
// directory handles. The rename itself is still durable enough for our
// idempotence guarantees there.
func fsyncDir(dir string) error { return nil }
