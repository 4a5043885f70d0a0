package dispatch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	ignore "github.com/sabhiram/go-gitignore"
)

const gitIgnoreName = ".gitignore"

// gitIgnore holds the compiled rules of <root>/.gitignore. A missing file
// means nothing is ignored.
type gitIgnore struct {
	root    string
	file    string
	matcher *ignore.GitIgnore
}

func loadGitIgnore(root string) (*gitIgnore, error) {
	g := &gitIgnore{
		root: filepath.Clean(root),
		file: filepath.Join(root, gitIgnoreName),
	}
	if err := g.reload(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *gitIgnore) reload() error {
	if _, err := os.Stat(g.file); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			g.matcher = nil
			return nil
		}
		return fmt.Errorf("stat %s: %w", g.file, err)
	}
	m, err := ignore.CompileIgnoreFile(g.file)
	if err != nil {
		return fmt.Errorf("compile %s: %w", g.file, err)
	}
	g.matcher = m
	return nil
}

// touches reports whether paths include the ignore file itself.
func (g *gitIgnore) touches(paths []string) bool {
	for _, p := range paths {
		if filepath.Clean(p) == g.file {
			return true
		}
	}
	return false
}

func (g *gitIgnore) ignored(path string) bool {
	if g == nil || g.matcher == nil {
		return false
	}
	rel := relativeTo(g.root, path)
	if filepath.IsAbs(rel) || rel == "." {
		return false
	}
	return g.matcher.MatchesPath(filepath.ToSlash(rel))
}
