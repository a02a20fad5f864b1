package sync

import (
	"context"
	"errors"
	"time"

	"github.com/rhermens/git-watch/internal/git"
)

// PublishOutcome reports whether a publish attempt produced a commit.
type PublishOutcome int

const (
	NoChanges PublishOutcome = iota
	Published
)

func (o PublishOutcome) String() string {
	if o == Published {
		return "published"
	}
	return "no changes"
}

// stagingAccumulator counts the index mutations of one publish attempt.
type stagingAccumulator struct {
	index   Index
	changes int
}

// PublishLocalChanges stages every settled local change, commits it on top
// of HEAD and pushes the result. Deletions are staged immediately; other
// paths only once their modification time is at least Session.Debounce in
// the past. Only the index is touched, never the working tree. The push runs
// to completion even if ctx is cancelled meanwhile.
func PublishLocalChanges(ctx context.Context, s *Session) (PublishOutcome, error) {
	logger := s.logger()

	head, err := s.Repo.Head()
	if err != nil {
		return NoChanges, newError(HeadResolutionFailed, "resolve HEAD", err)
	}

	idx, err := s.Repo.OpenIndex()
	if err != nil {
		return NoChanges, newError(PublishFailed, "open index", err)
	}

	entries, err := s.Repo.Status()
	if err != nil {
		return NoChanges, newError(PublishFailed, "status", err)
	}

	acc := &stagingAccumulator{index: idx}
	now := s.now()
	for _, entry := range entries {
		if err := s.stage(acc, entry, now); err != nil {
			return NoChanges, err
		}
	}

	if acc.changes == 0 {
		logger.Debug("no changes to publish")
		return NoChanges, nil
	}

	if err := idx.Write(); err != nil {
		return NoChanges, newError(PublishFailed, "write index", err)
	}

	opts := s.CommitOptions
	opts.When = now
	hash, err := s.Repo.CommitFromIndex(opts)
	if err != nil {
		if errors.Is(err, git.ErrEmptyCommit) {
			logger.Info("staged tree matches HEAD, nothing to commit", "changes", acc.changes)
			return NoChanges, nil
		}
		return NoChanges, newError(PublishFailed, "commit", err)
	}

	if err := s.Repo.Push(context.WithoutCancel(ctx), s.Remote, s.PushOptions); err != nil {
		return NoChanges, newError(PublishFailed, "push "+s.Remote.Name, err)
	}

	logger.Info("published local changes",
		"remote", s.Remote.Name,
		"changes", acc.changes,
		"commit", hash.String(),
		"parent", head.Hash().String())
	return Published, nil
}

// stage records one status entry in the accumulator. Paths that cannot be
// stat'ed are skipped with a warning.
func (s *Session) stage(acc *stagingAccumulator, entry git.StatusEntry, now time.Time) error {
	logger := s.logger()

	if entry.Flags.Has(git.StatusWorktreeDeleted) {
		if err := acc.index.RemovePath(entry.Path); err != nil {
			return newError(PublishFailed, "unstage "+entry.Path, err)
		}
		acc.changes++
		logger.Debug("staged deletion", "path", entry.Path)
		return nil
	}

	fi, err := s.Repo.Lstat(entry.Path)
	if err != nil {
		logger.Warn("failed to stat path, skipping", "path", entry.Path, "error", err)
		return nil
	}

	if age := now.Sub(fi.ModTime()); age < s.Debounce {
		logger.Debug("recently modified, skipping", "path", entry.Path, "age", age)
		return nil
	}

	if err := acc.index.AddPath(entry.Path); err != nil {
		return newError(PublishFailed, "stage "+entry.Path, err)
	}
	acc.changes++
	logger.Debug("staged change", "path", entry.Path)
	return nil
}
