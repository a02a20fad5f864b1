package git

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-git/go-billy/v5"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

// DefaultRemoteName is the remote used when none is configured
const DefaultRemoteName = "origin"

// CredentialProvider supplies transport credentials for a remote on demand.
// A nil AuthMethod with a nil error means the transport needs none.
type CredentialProvider interface {
	Method(remoteURL, username string) (transport.AuthMethod, error)
}

// Repository is an open, non-bare repository with its working tree
type Repository struct {
	repo     *gogit.Repository
	worktree *gogit.Worktree
	dotgit   billy.Filesystem
}

// Open opens the repository containing path. Parent directories are searched
// for a .git entry the same way the git command does.
func Open(path string) (*Repository, error) {
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open repository at %s: %w", path, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree at %s: %w", path, err)
	}

	r := &Repository{repo: repo, worktree: wt}
	if fs, ok := repo.Storer.(*filesystem.Storage); ok {
		r.dotgit = fs.Filesystem()
	}
	return r, nil
}

// Path returns the root of the working tree
func (r *Repository) Path() string {
	return r.worktree.Filesystem.Root()
}

// Close releases open pack files held by the object storage.
func (r *Repository) Close() error {
	if c, ok := r.repo.Storer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Remote is a named remote and the URL used to reach it
type Remote struct {
	Name string
	URL  string
}

// LookupRemote returns the remote configured under name.
func (r *Repository) LookupRemote(name string) (*Remote, error) {
	rm, err := r.repo.Remote(name)
	if err != nil {
		if errors.Is(err, gogit.ErrRemoteNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRemoteNotFound, name)
		}
		return nil, fmt.Errorf("failed to look up remote %s: %w", name, err)
	}

	cfg := rm.Config()
	if len(cfg.URLs) == 0 {
		return nil, fmt.Errorf("%w: %s has no URL", ErrRemoteNotFound, name)
	}
	return &Remote{Name: cfg.Name, URL: cfg.URLs[0]}, nil
}

// Head is the resolved HEAD: the reference it points through and the commit
// it names. For a detached HEAD the reference is HEAD itself.
type Head struct {
	Reference *plumbing.Reference
	Commit    *object.Commit
}

// Name returns the name of the reference HEAD resolves to.
func (h *Head) Name() plumbing.ReferenceName {
	return h.Reference.Name()
}

// Hash returns the commit id HEAD currently names.
func (h *Head) Hash() plumbing.Hash {
	return h.Reference.Hash()
}

// Head resolves HEAD to a branch reference and its commit.
func (r *Repository) Head() (*Head, error) {
	ref, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, ErrUnbornHead
		}
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	commit, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to load HEAD commit %s: %w", ref.Hash(), err)
	}
	return &Head{Reference: ref, Commit: commit}, nil
}

// AnnotatedCommit is a commit id resolved for merge analysis, remembering the
// id it was looked up by (which may be a tag pointing at the commit).
type AnnotatedCommit struct {
	ID     plumbing.Hash
	Commit *object.Commit
}

// LookupAnnotatedCommit resolves id, peeling annotated tags, to a commit.
func (r *Repository) LookupAnnotatedCommit(id plumbing.Hash) (*AnnotatedCommit, error) {
	commit, err := r.LookupCommit(id)
	if err != nil {
		return nil, err
	}
	return &AnnotatedCommit{ID: id, Commit: commit}, nil
}

// LookupCommit returns the commit named by id, peeling annotated tags.
func (r *Repository) LookupCommit(id plumbing.Hash) (*object.Commit, error) {
	obj, err := r.repo.Object(plumbing.AnyObject, id)
	if err != nil {
		return nil, fmt.Errorf("failed to look up object %s: %w", id, err)
	}

	switch o := obj.(type) {
	case *object.Commit:
		return o, nil
	case *object.Tag:
		commit, err := o.Commit()
		if err != nil {
			return nil, fmt.Errorf("failed to peel tag %s: %w", id, err)
		}
		return commit, nil
	default:
		return nil, fmt.Errorf("object %s is a %s, not a commit", id, obj.Type())
	}
}

// SetReferenceTarget moves the reference HEAD resolved through to id. The
// update only happens if the reference still names the commit recorded in
// head, otherwise ErrReferenceChanged is returned and nothing is written.
func (r *Repository) SetReferenceTarget(head *Head, id plumbing.Hash) error {
	name := head.Name()
	next := plumbing.NewHashReference(name, id)
	prev := plumbing.NewHashReference(name, head.Hash())

	if err := r.repo.Storer.CheckAndSetReference(next, prev); err != nil {
		if errors.Is(err, storage.ErrReferenceHasChanged) {
			return fmt.Errorf("%w: %s", ErrReferenceChanged, name)
		}
		return fmt.Errorf("failed to update %s to %s: %w", name, id, err)
	}
	return nil
}
