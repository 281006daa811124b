// Package repo implements the Service Repository: reading the on-disk
// directory layout that describes a service (run/start/stop scripts,
// needs/wants/after/before edge directories, readiness markers, timeout)
// and resolving it into data the loader can use to populate a record.
package repo

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/onyxsvc/onyx/internal/table"
)

var log = slog.With("component", "repo")

// ErrUnknown is returned when a named service has no directory in the
// repository root.
type ErrUnknown struct{ Name string }

func (e *ErrUnknown) Error() string { return fmt.Sprintf("repo: unknown service %q", e.Name) }

// DefaultTimeoutSecs is used when a service carries no timeout file.
const DefaultTimeoutSecs = 7

// Meta is the optional free-form metadata block read from
// <name>/meta.yaml. Its absence is not an error, mirroring the
// "empty marker or missing file" tolerance of gets-ready.
type Meta struct {
	Description string `yaml:"description,omitempty"`
	Team        string `yaml:"team,omitempty"`
}

// Descriptor is everything the repository can determine about a service
// from disk, before the loader turns it into table edges.
type Descriptor struct {
	Kind             table.Kind
	ReadinessCapable bool
	NotifyHandle     uint16
	TimeoutSecs      int
	TimeoutFileSet   bool
	StartsDown       bool
	Needs            []string
	Wants            []string
	After            []string
	Before           []string
	Meta             Meta
}

// Repo resolves service names to on-disk directories under root.
type Repo struct {
	root string
}

// New creates a Repo rooted at root (typically $AA_REPO).
func New(root string) *Repo {
	return &Repo{root: root}
}

// Root returns the repository root directory.
func (r *Repo) Root() string { return r.root }

// ResolveName normalizes a service name the way aa-enable tolerates
// references with a trailing slash (e.g. naming a logger directory
// directly): the slash is trimmed before any validation.
func ResolveName(name string) string {
	return strings.TrimSuffix(name, "/")
}

// ServiceDir returns the on-disk directory for name.
func (r *Repo) ServiceDir(name string) string {
	return filepath.Join(r.root, ResolveName(name))
}

// ListServiceNames returns the top-level directory names under root,
// each a candidate service name, used by callers that need to report
// on every service without an explicit name list (e.g. status with no
// filter).
func ListServiceNames(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("repo: reading %s: %w", root, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// Exists reports whether name has a directory in the repository.
func (r *Repo) Exists(name string) bool {
	info, err := os.Stat(r.ServiceDir(name))
	return err == nil && info.IsDir()
}

// Load reads a service's directory and returns its Descriptor. It does
// not recurse into dependency directories beyond listing the names
// present — the loader is responsible for resolving and recursing.
func (r *Repo) Load(name string) (Descriptor, error) {
	dir := r.ServiceDir(name)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Descriptor{}, &ErrUnknown{Name: name}
		}
		return Descriptor{}, fmt.Errorf("repo: stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return Descriptor{}, &ErrUnknown{Name: name}
	}

	var d Descriptor

	if isExecutable(filepath.Join(dir, "run")) {
		d.Kind = table.KindLongrun
		d.ReadinessCapable, d.NotifyHandle = readinessOf(dir)
	} else {
		d.Kind = table.KindOneshot
	}

	d.StartsDown = fileExists(filepath.Join(dir, "down"))
	d.TimeoutSecs, d.TimeoutFileSet = readTimeout(dir)

	d.Needs = listEdgeDir(filepath.Join(dir, "needs"))
	d.Wants = listEdgeDir(filepath.Join(dir, "wants"))
	d.After = listEdgeDir(filepath.Join(dir, "after"))
	d.Before = listEdgeDir(filepath.Join(dir, "before"))

	if meta, err := readMeta(dir); err != nil {
		log.Warn("ignoring malformed meta.yaml", "service", name, "err", err)
	} else {
		d.Meta = meta
	}

	return d, nil
}

// HasLogger reports whether name has a <name>/log/run logger directory,
// used by the loader's auto-link step.
func (r *Repo) HasLogger(name string) bool {
	return isExecutable(filepath.Join(r.ServiceDir(name), "log", "run"))
}

// readinessOf determines readiness capability and, when present, the
// decimal notification-fd number. The original checks gets-ready first
// and only falls back to notification-fd when the marker is absent;
// spec.md names both signals but not this fallback order.
func readinessOf(dir string) (capable bool, notifyHandle uint16) {
	if fileExists(filepath.Join(dir, "gets-ready")) {
		return true, 0
	}
	data, err := os.ReadFile(filepath.Join(dir, "notification-fd"))
	if err != nil {
		return false, 0
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 16)
	if err != nil {
		return false, 0
	}
	return true, uint16(n)
}

// readTimeout reads the timeout file, returning the default and
// present=false when it's missing or unparseable, so a caller can tell
// "no timeout file" apart from "file present and valid" — readTimeout
// itself never reports that distinction as a TimeoutSecs value of 0.
func readTimeout(dir string) (secs int, present bool) {
	data, err := os.ReadFile(filepath.Join(dir, "timeout"))
	if err != nil {
		return DefaultTimeoutSecs, false
	}
	secs, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || secs <= 0 {
		return DefaultTimeoutSecs, false
	}
	return secs, true
}

// listEdgeDir returns the names of entries in an edge directory
// (needs/wants/after/before), where each entry is an empty file or
// directory named after the target service. A missing edge directory
// yields no edges, not an error.
func listEdgeDir(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names
}

func readMeta(dir string) (Meta, error) {
	data, err := os.ReadFile(filepath.Join(dir, "meta.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, nil
		}
		return Meta{}, err
	}
	var m Meta
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Meta{}, fmt.Errorf("parsing meta.yaml: %w", err)
	}
	return m, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
