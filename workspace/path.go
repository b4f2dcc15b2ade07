// Package workspace implements canonical-path containment checks and the
// on-disk layout of a registered repo's workspace directory.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned when a user-supplied path resolves outside its
// repo root, or targets something other than a regular file or directory.
var ErrPathEscape = errors.New("workspace: path escapes repo root")

// CanonicalizeUnder resolves userPath (absolute or relative to root) to its
// real, absolute form — following every symlink component — and verifies
// the result is contained in root at segment granularity. It never returns
// the raw input: callers must persist or display only the returned value.
func CanonicalizeUnder(root, userPath string) (string, error) {
	canonRoot, err := realpath(root)
	if err != nil {
		return "", fmt.Errorf("workspace: resolving root: %w", err)
	}

	abs := userPath
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, userPath)
	}

	canonPath, err := realpath(abs)
	if err != nil {
		return "", fmt.Errorf("workspace: resolving path: %w", err)
	}

	if err := checkDeviceFile(canonPath); err != nil {
		return "", err
	}

	if !isInsideCanonical(canonRoot, canonPath) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, userPath)
	}

	return canonPath, nil
}

// IsInside reports whether absPath, once canonicalized, is contained in
// root at segment granularity ("/a/b" is not a prefix of "/a/bb").
func IsInside(root, absPath string) bool {
	canonRoot, err := realpath(root)
	if err != nil {
		return false
	}
	canonPath, err := realpath(absPath)
	if err != nil {
		return false
	}
	return isInsideCanonical(canonRoot, canonPath)
}

func isInsideCanonical(canonRoot, canonPath string) bool {
	if canonPath == canonRoot {
		return true
	}
	rel, err := filepath.Rel(canonRoot, canonPath)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	// filepath.Rel can produce a path starting with ".." when canonPath is
	// not actually under canonRoot; this is the real containment test
	// (segment-granular, unlike a raw strings.HasPrefix).
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// realpath resolves ".", "..", and symlinks to produce a real absolute path.
// Unlike filepath.Abs it follows symlinks at every path component, which is
// what lets CanonicalizeUnder catch a symlink that escapes root.
func realpath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// The leaf may not exist yet (e.g. a file about to be created);
		// resolve the parent directory instead and re-attach the leaf.
		if os.IsNotExist(err) {
			parent, err2 := filepath.EvalSymlinks(filepath.Dir(abs))
			if err2 != nil {
				return "", err
			}
			return filepath.Join(parent, filepath.Base(abs)), nil
		}
		return "", err
	}
	return resolved, nil
}

// checkDeviceFile rejects paths pointing at devices, sockets, or FIFOs.
// Directories and regular files (including nonexistent ones, which stat
// reports as os.ErrNotExist) are allowed.
func checkDeviceFile(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	mode := info.Mode()
	if mode&os.ModeDevice != 0 || mode&os.ModeNamedPipe != 0 || mode&os.ModeSocket != 0 {
		return fmt.Errorf("%w: %s is a device, socket, or FIFO", ErrPathEscape, path)
	}
	return nil
}
