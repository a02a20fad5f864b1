// Package sync implements the synchronization cycle: fast-forward the local
// branch onto its upstream, publish local modifications as an automatic
// commit, and clear leftover repository state.
package sync

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/rhermens/git-watch/internal/config"
	"github.com/rhermens/git-watch/internal/git"
)

// Repository is the part of the version-control backend the cycle uses.
// *git.Repository satisfies it through FromGit.
type Repository interface {
	Fetch(ctx context.Context, remote *git.Remote, opts git.FetchOptions) ([]git.FetchHead, error)
	Push(ctx context.Context, remote *git.Remote, opts git.PushOptions) error
	Head() (*git.Head, error)
	LookupAnnotatedCommit(id plumbing.Hash) (*git.AnnotatedCommit, error)
	LookupCommit(id plumbing.Hash) (*object.Commit, error)
	AnalyzeMerge(head *git.Head, target *git.AnnotatedCommit) (git.MergeAnalysis, error)
	CheckoutTree(target *object.Commit, opts git.CheckoutOptions) error
	SetReferenceTarget(head *git.Head, id plumbing.Hash) error
	Status() ([]git.StatusEntry, error)
	Lstat(path string) (os.FileInfo, error)
	OpenIndex() (Index, error)
	CommitFromIndex(opts git.CommitOptions) (plumbing.Hash, error)
	CleanupState() error
}

// Index is the staging area as seen by the change publisher.
type Index interface {
	AddPath(path string) error
	RemovePath(path string) error
	Write() error
}

type gitRepository struct {
	*git.Repository
}

// FromGit adapts an open backend repository to Repository.
func FromGit(repo *git.Repository) Repository {
	return gitRepository{repo}
}

func (r gitRepository) OpenIndex() (Index, error) {
	idx, err := r.Index()
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// Clock abstracts time retrieval for debounce decisions.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Session is everything one synchronization needs: the repository, the
// remote and the options for each backend operation. It is built once at
// startup and shared by every cycle.
type Session struct {
	Repo   Repository
	Remote *git.Remote

	FetchOptions    git.FetchOptions
	CheckoutOptions git.CheckoutOptions
	CommitOptions   git.CommitOptions
	PushOptions     git.PushOptions

	// Debounce is the minimum age of a modification before it is staged.
	Debounce time.Duration
	// OnDiverged decides whether a diverged upstream fails the cycle.
	OnDiverged config.DivergencePolicy

	Clock  Clock
	Logger *slog.Logger
}

// NewSession builds a session from configuration. The checkout strategy is
// always safe; the push refspec and commit identity come from cfg.
func NewSession(repo Repository, remote *git.Remote, creds git.CredentialProvider, cfg *config.Config, logger *slog.Logger) *Session {
	return &Session{
		Repo:            repo,
		Remote:          remote,
		FetchOptions:    git.FetchOptions{Credentials: creds},
		CheckoutOptions: git.CheckoutOptions{Strategy: git.CheckoutSafe},
		CommitOptions: git.CommitOptions{
			Message: cfg.Commit.Message,
			Author: git.Signature{
				Name:  cfg.Commit.AuthorName,
				Email: cfg.Commit.AuthorEmail,
			},
		},
		PushOptions: git.PushOptions{
			RefSpecs:    []string{cfg.Remote.PushRef},
			Credentials: creds,
		},
		Debounce:   cfg.Sync.Debounce,
		OnDiverged: cfg.Sync.OnDiverged,
		Clock:      SystemClock{},
		Logger:     logger,
	}
}

func (s *Session) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}

func (s *Session) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
