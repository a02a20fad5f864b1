package git

import (
	"errors"
	"fmt"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	fallbackName  = "git-watch"
	fallbackEmail = "git-watch@localhost"
)

// Signature identifies the author and committer of a commit.
type Signature struct {
	Name  string
	Email string
}

// CommitOptions configures CommitFromIndex.
type CommitOptions struct {
	Message string
	// Author is used for both author and committer. Missing fields are
	// filled from git configuration, then from a built-in identity.
	Author Signature
	// When defaults to the current time.
	When time.Time
}

// CommitFromIndex records the staged tree as a new commit whose parent is
// HEAD and advances the current branch to it. ErrEmptyCommit is returned
// when the staged tree is identical to the tree of HEAD.
func (r *Repository) CommitFromIndex(opts CommitOptions) (plumbing.Hash, error) {
	sig := r.signature(opts.Author)
	when := opts.When
	if when.IsZero() {
		when = time.Now()
	}
	author := &object.Signature{Name: sig.Name, Email: sig.Email, When: when}

	hash, err := r.worktree.Commit(opts.Message, &gogit.CommitOptions{
		Author:    author,
		Committer: author,
	})
	if err != nil {
		if errors.Is(err, gogit.ErrEmptyCommit) {
			return plumbing.ZeroHash, ErrEmptyCommit
		}
		return plumbing.ZeroHash, fmt.Errorf("failed to commit: %w", err)
	}
	return hash, nil
}

// signature completes sig from repository and global git configuration.
func (r *Repository) signature(sig Signature) Signature {
	if sig.Name != "" && sig.Email != "" {
		return sig
	}

	if cfg, err := r.repo.ConfigScoped(gitconfig.GlobalScope); err == nil {
		if sig.Name == "" {
			sig.Name = cfg.User.Name
		}
		if sig.Email == "" {
			sig.Email = cfg.User.Email
		}
	}

	if sig.Name == "" {
		sig.Name = fallbackName
	}
	if sig.Email == "" {
		sig.Email = fallbackEmail
	}
	return sig
}
