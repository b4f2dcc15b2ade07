package orchestrator

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/llmc-dev/rag-core/workspace"
)

// candidateFile is one file found on disk during discovery, before it is
// sliced.
type candidateFile struct {
	RelPath string // slash-separated, relative to repo root
	AbsPath string
	Mtime   int64 // unix seconds
	Size    int64
}

var alwaysSkipDirs = map[string]bool{
	".git":  true,
	".llmc": true,
	".svn":  true,
	".hg":   true,
}

// discoverFiles walks root, applying .gitignore (local and the user's
// global ~/.gitignore) plus any extra doublestar glob patterns, and
// returns every remaining regular file. Symlinks are resolved and
// verified to stay inside root via workspace.CanonicalizeUnder, rejecting
// the same escape a malicious or mistaken symlink could otherwise cause.
func discoverFiles(root string, extraIgnore []string) ([]candidateFile, error) {
	gi := loadGitignore(root)

	var out []candidateFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		relSlash := filepath.ToSlash(rel)

		if d.IsDir() {
			if alwaysSkipDirs[d.Name()] {
				return filepath.SkipDir
			}
			if gi != nil && gi.MatchesPath(relSlash) {
				return filepath.SkipDir
			}
			if matchesAny(extraIgnore, relSlash) {
				return filepath.SkipDir
			}
			return nil
		}

		if gi != nil && gi.MatchesPath(relSlash) {
			return nil
		}
		if matchesAny(extraIgnore, relSlash) {
			return nil
		}

		if d.Type()&os.ModeSymlink != 0 {
			canon, err := workspace.CanonicalizeUnder(root, path)
			if err != nil {
				return nil // escaping symlink: silently excluded from discovery
			}
			path = canon
		}
		if !d.Type().IsRegular() && d.Type()&os.ModeSymlink == 0 {
			return nil // devices, sockets, FIFOs
		}

		info, err := os.Stat(path)
		if err != nil {
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		out = append(out, candidateFile{
			RelPath: relSlash,
			AbsPath: path,
			Mtime:   info.ModTime().Unix(),
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func matchesAny(patterns []string, relPath string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, relPath); ok {
			return true
		}
	}
	return false
}

// loadGitignore compiles the user's global ~/.gitignore followed by the
// repo's local .gitignore into one matcher, mirroring how a real git
// checkout combines the two. Returns nil if neither file exists or both
// are empty.
func loadGitignore(root string) *ignore.GitIgnore {
	var lines []string

	if home, err := os.UserHomeDir(); err == nil {
		if content, err := os.ReadFile(filepath.Join(home, ".gitignore")); err == nil {
			lines = append(lines, splitNonComment(string(content))...)
		}
	}
	if content, err := os.ReadFile(filepath.Join(root, ".gitignore")); err == nil {
		lines = append(lines, splitNonComment(string(content))...)
	}

	if len(lines) == 0 {
		return nil
	}
	return ignore.CompileIgnoreLines(lines...)
}

func splitNonComment(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
