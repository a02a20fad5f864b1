package git

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// FetchOptions configures Fetch.
type FetchOptions struct {
	Credentials CredentialProvider
}

// FetchHead is one branch tip the remote advertised during a fetch.
type FetchHead struct {
	// RefName is the branch name on the remote, e.g. refs/heads/master.
	RefName   plumbing.ReferenceName
	RemoteURL string
	Target    plumbing.Hash
	// IsMerge marks the upstream of the currently checked out branch.
	IsMerge bool
}

// Fetch downloads objects and refs from remote using its configured refspecs
// and returns the remote branch tips now known locally. A remote with
// nothing new is not an error.
func (r *Repository) Fetch(ctx context.Context, remote *Remote, opts FetchOptions) ([]FetchHead, error) {
	rm, err := r.repo.Remote(remote.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up remote %s: %w", remote.Name, err)
	}

	auth, err := authMethod(opts.Credentials, remote.URL)
	if err != nil {
		return nil, err
	}

	err = rm.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: remote.Name,
		Auth:       auth,
		Prune:      true,
	})
	switch {
	case err == nil, errors.Is(err, gogit.NoErrAlreadyUpToDate):
	case errors.Is(err, transport.ErrEmptyRemoteRepository):
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to fetch from %s: %w", remote.Name, err)
	}

	return r.fetchHeads(remote)
}

// fetchHeads lists the remote-tracking branches of remote.
func (r *Repository) fetchHeads(remote *Remote) ([]FetchHead, error) {
	upstream := r.upstreamOf(remote.Name)
	prefix := "refs/remotes/" + remote.Name + "/"

	refs, err := r.repo.References()
	if err != nil {
		return nil, fmt.Errorf("failed to list references: %w", err)
	}
	defer refs.Close()

	var heads []FetchHead
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().String()
		if ref.Type() != plumbing.HashReference || !strings.HasPrefix(name, prefix) {
			return nil
		}

		branch := plumbing.NewBranchReferenceName(strings.TrimPrefix(name, prefix))
		heads = append(heads, FetchHead{
			RefName:   branch,
			RemoteURL: remote.URL,
			Target:    ref.Hash(),
			IsMerge:   branch == upstream,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list remote-tracking branches: %w", err)
	}
	return heads, nil
}

// upstreamOf returns the branch on remoteName the checked out branch merges
// from: its branch.<name>.merge setting, or the branch of the same name when
// none is configured. Detached HEAD has no upstream.
func (r *Repository) upstreamOf(remoteName string) plumbing.ReferenceName {
	head, err := r.repo.Reference(plumbing.HEAD, false)
	if err != nil || head.Type() != plumbing.SymbolicReference {
		return ""
	}
	branch := head.Target()

	cfg, err := r.repo.Config()
	if err != nil {
		return branch
	}
	b, ok := cfg.Branches[branch.Short()]
	if !ok || b.Merge == "" {
		return branch
	}
	if b.Remote != "" && b.Remote != remoteName {
		return ""
	}
	return b.Merge
}

// authMethod asks creds for the auth method matching remoteURL.
func authMethod(creds CredentialProvider, remoteURL string) (transport.AuthMethod, error) {
	if creds == nil {
		return nil, nil
	}

	ep, err := transport.NewEndpoint(remoteURL)
	if err != nil {
		return nil, fmt.Errorf("invalid remote URL %q: %w", remoteURL, err)
	}

	auth, err := creds.Method(remoteURL, ep.User)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credentials for %s: %w", remoteURL, err)
	}
	return auth, nil
}
