package sync

import (
	"context"
	"fmt"

	"github.com/rhermens/git-watch/internal/config"
	"github.com/rhermens/git-watch/internal/git"
)

// SynchronizeFromRemote fetches the session remote and fast-forwards the
// checked out branch onto its upstream. The branch never moves for anything
// but a fast-forward; no merge commit is ever created. The fetch runs to
// completion even if ctx is cancelled meanwhile.
func SynchronizeFromRemote(ctx context.Context, s *Session) error {
	logger := s.logger().With("remote", s.Remote.Name)

	heads, err := s.Repo.Fetch(context.WithoutCancel(ctx), s.Remote, s.FetchOptions)
	if err != nil {
		return newError(FetchFailed, "fetch "+s.Remote.Name, err)
	}
	logger.Debug("fetched remote", "refs", len(heads))

	for _, fh := range heads {
		if err := fastForward(s, fh); err != nil {
			return err
		}
	}
	return nil
}

// fastForward applies one fetched branch tip if it is the upstream of the
// current branch and strictly ahead of HEAD.
func fastForward(s *Session, fh git.FetchHead) error {
	logger := s.logger().With("remote", s.Remote.Name, "ref", fh.RefName.String())

	target, err := s.Repo.LookupAnnotatedCommit(fh.Target)
	if err != nil {
		return newError(FastForwardFailed, "look up "+fh.Target.String(), err)
	}

	head, err := s.Repo.Head()
	if err != nil {
		return newError(FastForwardFailed, "resolve HEAD", err)
	}

	analysis, err := s.Repo.AnalyzeMerge(head, target)
	if err != nil {
		return newError(FastForwardFailed, "analyze "+fh.RefName.Short(), err)
	}

	switch {
	case analysis.UpToDate():
		logger.Debug("already up to date", "head", head.Hash().String())
		return nil
	case !fh.IsMerge:
		logger.Debug("not the upstream of the current branch, skipping", "analysis", analysis.String())
		return nil
	case !analysis.FastForward():
		if s.OnDiverged == config.DivergedWarn {
			logger.Warn("upstream diverged from local history, skipping",
				"head", head.Hash().String(),
				"target", fh.Target.String())
			return nil
		}
		return newError(FastForwardFailed, "fast-forward "+head.Name().Short(),
			fmt.Errorf("%w: local %s, upstream %s", ErrDiverged, head.Hash(), fh.Target))
	}

	commit, err := s.Repo.LookupCommit(fh.Target)
	if err != nil {
		return newError(FastForwardFailed, "look up "+fh.Target.String(), err)
	}

	if err := s.Repo.CheckoutTree(commit, s.CheckoutOptions); err != nil {
		return newError(FastForwardFailed, "checkout "+fh.Target.String(), err)
	}

	if err := s.Repo.SetReferenceTarget(head, fh.Target); err != nil {
		return newError(FastForwardFailed, "update "+head.Name().String(), err)
	}

	logger.Info("fast-forwarded",
		"branch", head.Name().Short(),
		"from", head.Hash().String(),
		"to", fh.Target.String())
	return nil
}
