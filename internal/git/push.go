package git

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
)

// PushOptions configures Push.
type PushOptions struct {
	// RefSpecs to push. A bare reference name such as refs/heads/master is
	// pushed to the same name on the remote.
	RefSpecs    []string
	Credentials CredentialProvider
}

// Push uploads the given references to remote. A remote that already has
// every pushed commit is not an error.
func (r *Repository) Push(ctx context.Context, remote *Remote, opts PushOptions) error {
	specs := make([]gitconfig.RefSpec, 0, len(opts.RefSpecs))
	for _, s := range opts.RefSpecs {
		if !strings.Contains(s, ":") {
			s = s + ":" + s
		}
		spec := gitconfig.RefSpec(s)
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("invalid refspec %q: %w", s, err)
		}
		specs = append(specs, spec)
	}

	rm, err := r.repo.Remote(remote.Name)
	if err != nil {
		return fmt.Errorf("failed to look up remote %s: %w", remote.Name, err)
	}

	auth, err := authMethod(opts.Credentials, remote.URL)
	if err != nil {
		return err
	}

	err = rm.PushContext(ctx, &gogit.PushOptions{
		RemoteName: remote.Name,
		RefSpecs:   specs,
		Auth:       auth,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to push to %s: %w", remote.Name, err)
	}
	return nil
}
