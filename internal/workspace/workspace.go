// Package workspace resolves template and target identifiers against a
// single project root. Identifiers are slash-separated paths relative to the
// root; they double as registry keys and as the tag embedded in markers.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoWorkspace is returned when no usable project root is available.
var ErrNoWorkspace = errors.New("no workspace folder found")

// ErrOutsideWorkspace is returned when a path does not live under the root.
var ErrOutsideWorkspace = errors.New("path is outside the workspace")

// Root is an absolute project directory.
type Root struct {
	dir string
}

// New validates dir and returns it as a Root. An empty dir falls back to the
// current working directory.
func New(dir string) (Root, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return Root{}, fmt.Errorf("%w: %v", ErrNoWorkspace, err)
		}
		dir = cwd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Root{}, fmt.Errorf("%w: %v", ErrNoWorkspace, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Root{}, fmt.Errorf("%w: %v", ErrNoWorkspace, err)
	}
	if !info.IsDir() {
		return Root{}, fmt.Errorf("%w: %s is not a directory", ErrNoWorkspace, abs)
	}
	return Root{dir: abs}, nil
}

// Dir returns the absolute root directory.
func (r Root) Dir() string { return r.dir }

// Abs resolves an identifier (or an already absolute path) to an absolute
// filesystem path.
func (r Root) Abs(id string) string {
	p := filepath.FromSlash(id)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(r.dir, p)
}

// Rel converts a path to its identifier. Relative inputs are interpreted
// against the process working directory, like a path typed on a command line.
func (r Root) Rel(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(r.dir, abs)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, path)
	}
	return filepath.ToSlash(rel), nil
}

// Exists reports whether the identifier currently resolves to a file. The
// filesystem is consulted on every call.
func (r Root) Exists(id string) bool {
	info, err := os.Stat(r.Abs(id))
	return err == nil && !info.IsDir()
}

// ReadFile reads the file named by id.
func (r Root) ReadFile(id string) ([]byte, error) {
	return os.ReadFile(r.Abs(id))
}
