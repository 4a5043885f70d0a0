// Package gitint stamps runs with the git revision of the watched tree.
package gitint

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrNotRepository is returned by Open when root is not inside a git work
// tree.
var ErrNotRepository = errors.New("not a git repository")

const shortHashLen = 7

// Repository wraps the go-git repository enclosing a watched root.
type Repository struct {
	repo *git.Repository
	path string
}

// Open finds the repository containing root, searching parent directories.
func Open(root string) (*Repository, error) {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNotRepository
		}
		return nil, fmt.Errorf("open git repo at %s: %w", root, err)
	}
	return &Repository{repo: repo, path: root}, nil
}

// Revision returns "branch@shorthash" for HEAD, "detached@shorthash" for a
// detached HEAD, and "" for a repository without commits.
func (r *Repository) Revision() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("read HEAD: %w", err)
	}

	hash := head.Hash().String()
	if len(hash) > shortHashLen {
		hash = hash[:shortHashLen]
	}
	name := "detached"
	if head.Name().IsBranch() {
		name = head.Name().Short()
	}
	return name + "@" + hash, nil
}

// Path returns the root the repository was opened from.
func (r *Repository) Path() string {
	return r.path
}
