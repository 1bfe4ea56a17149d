package sources

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// walkDiscovery lists *.jsonl files under root, at most maxDepth directories
// below it (0 means unlimited)
type walkDiscovery struct {
	root     string
	maxDepth int
}

// Directory depth below each root where session files live (0 means unlimited)
const (
	ClaudeMaxDepth = 1
	CodexMaxDepth  = 0
)

// NewClaudeDiscovery lists <root>/<project>/<session>.jsonl
func NewClaudeDiscovery(root string) Discovery {
	if root == "" {
		root = defaultRoot(".claude", "projects")
	}
	return &walkDiscovery{root: root, maxDepth: ClaudeMaxDepth}
}

// NewCodexDiscovery lists every .jsonl under the dated session tree
func NewCodexDiscovery(root string) Discovery {
	if root == "" {
		root = defaultRoot(".codex", "sessions")
	}
	return &walkDiscovery{root: root, maxDepth: CodexMaxDepth}
}

// WithDefaults fills empty roots with the per-user default locations
func (r Roots) WithDefaults() Roots {
	if r.Claude == "" {
		r.Claude = defaultRoot(".claude", "projects")
	}
	if r.Codex == "" {
		r.Codex = defaultRoot(".codex", "sessions")
	}
	return r
}

func defaultRoot(parts ...string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(append([]string{home}, parts...)...)
}

// Discover walks the tree. A missing root is an empty source, not a failure.
func (d *walkDiscovery) Discover(ctx context.Context) ([]string, error) {
	if d.root == "" {
		return nil, errors.New("no log root configured")
	}
	if _, err := os.Stat(d.root); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var paths []string
	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == d.root {
				return err
			}
			// Unreadable subtrees are skipped
			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if entry.IsDir() {
			if d.maxDepth > 0 && path != d.root && Depth(d.root, path) > d.maxDepth {
				return fs.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(entry.Name(), ".jsonl") {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// Depth counts the directory levels of path below root
func Depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}
