package git

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

// CheckoutStrategy controls what a checkout does with local modifications.
type CheckoutStrategy int

const (
	// CheckoutSafe refuses to touch any path that has local modifications.
	CheckoutSafe CheckoutStrategy = iota
	// CheckoutForce overwrites local modifications.
	CheckoutForce
)

func (s CheckoutStrategy) String() string {
	switch s {
	case CheckoutSafe:
		return "safe"
	case CheckoutForce:
		return "force"
	default:
		return fmt.Sprintf("CheckoutStrategy(%d)", int(s))
	}
}

// CheckoutOptions configures CheckoutTree.
type CheckoutOptions struct {
	Strategy CheckoutStrategy
}

// CheckoutTree updates the index and working tree from the tree of HEAD to
// the tree of target. Only paths that differ between the two trees are
// written. No reference is moved; callers update the branch afterwards.
func (r *Repository) CheckoutTree(target *object.Commit, opts CheckoutOptions) error {
	head, err := r.Head()
	if err != nil {
		return err
	}

	from, err := head.Commit.Tree()
	if err != nil {
		return fmt.Errorf("failed to load tree of %s: %w", head.Hash(), err)
	}
	to, err := target.Tree()
	if err != nil {
		return fmt.Errorf("failed to load tree of %s: %w", target.Hash, err)
	}

	changes, err := object.DiffTree(from, to)
	if err != nil {
		return fmt.Errorf("failed to diff %s..%s: %w", head.Hash(), target.Hash, err)
	}
	if len(changes) == 0 {
		return nil
	}

	if err := validateChanges(changes); err != nil {
		return err
	}

	if opts.Strategy == CheckoutSafe {
		if err := r.checkConflicts(changes); err != nil {
			return err
		}
	}

	idx, err := r.repo.Storer.Index()
	if err != nil {
		return fmt.Errorf("failed to read index: %w", err)
	}

	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			return fmt.Errorf("failed to classify change: %w", err)
		}

		switch action {
		case merkletrie.Delete:
			if err := r.removeWorktreeFile(ch.From.Name); err != nil {
				return err
			}
			if _, err := idx.Remove(ch.From.Name); err != nil && !errors.Is(err, index.ErrEntryNotFound) {
				return fmt.Errorf("failed to unstage %s: %w", ch.From.Name, err)
			}
		case merkletrie.Insert, merkletrie.Modify:
			if err := r.checkoutEntry(idx, ch.To.Name, ch.To.TreeEntry); err != nil {
				return err
			}
		}
	}

	if err := r.repo.Storer.SetIndex(idx); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}

// validateChanges rejects the whole checkout if any changed path is unsafe
// to write.
func validateChanges(changes object.Changes) error {
	for _, ch := range changes {
		for _, name := range []string{ch.From.Name, ch.To.Name} {
			if name != "" && !validPath(name) {
				return fmt.Errorf("%w: %q", ErrInvalidPath, name)
			}
		}
	}
	return nil
}

// validPath reports whether name is a relative path that stays inside the
// working tree and outside the repository directory. Components are
// compared case-insensitively, and the 8.3 short name of .git is refused
// as well.
func validPath(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		switch strings.ToLower(part) {
		case "", ".", "..", ".git", "git~1":
			return false
		}
	}
	return true
}

// checkConflicts fails if any path touched by changes is dirty in the index
// or the working tree.
func (r *Repository) checkConflicts(changes object.Changes) error {
	status, err := r.worktree.Status()
	if err != nil {
		return fmt.Errorf("failed to compute status: %w", err)
	}

	seen := make(map[string]bool)
	var dirty []string
	for _, ch := range changes {
		for _, name := range []string{ch.From.Name, ch.To.Name} {
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			if fs, ok := status[name]; ok && statusFlags(fs) != 0 {
				dirty = append(dirty, name)
			}
		}
	}

	if len(dirty) > 0 {
		sort.Strings(dirty)
		return fmt.Errorf("%w: %s", ErrCheckoutConflict, strings.Join(dirty, ", "))
	}
	return nil
}

// checkoutEntry writes the blob of entry to name in the working tree and
// records it in idx.
func (r *Repository) checkoutEntry(idx *index.Index, name string, entry object.TreeEntry) error {
	if entry.Mode == filemode.Submodule {
		return nil
	}

	blob, err := r.repo.BlobObject(entry.Hash)
	if err != nil {
		return fmt.Errorf("failed to load blob for %s: %w", name, err)
	}
	content, err := blob.Reader()
	if err != nil {
		return fmt.Errorf("failed to read blob for %s: %w", name, err)
	}
	defer content.Close()

	fs := r.worktree.Filesystem
	if err := fs.Remove(name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	if dir := path.Dir(name); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if entry.Mode == filemode.Symlink {
		target, err := io.ReadAll(content)
		if err != nil {
			return fmt.Errorf("failed to read link target for %s: %w", name, err)
		}
		if err := fs.Symlink(string(target), name); err != nil {
			return fmt.Errorf("failed to create symlink %s: %w", name, err)
		}
	} else {
		mode, err := entry.Mode.ToOSFileMode()
		if err != nil {
			return fmt.Errorf("unsupported mode %s for %s: %w", entry.Mode, name, err)
		}
		f, err := fs.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm())
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", name, err)
		}
		_, err = io.Copy(f, content)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	fi, err := fs.Lstat(name)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", name, err)
	}

	if _, err := idx.Remove(name); err != nil && !errors.Is(err, index.ErrEntryNotFound) {
		return fmt.Errorf("failed to update index entry %s: %w", name, err)
	}
	e := idx.Add(name)
	e.Hash = entry.Hash
	e.Mode = entry.Mode
	e.ModifiedAt = fi.ModTime()
	e.Size = uint32(fi.Size())
	return nil
}

// removeWorktreeFile deletes name and any directories left empty by it.
func (r *Repository) removeWorktreeFile(name string) error {
	fs := r.worktree.Filesystem
	if err := fs.Remove(name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}

	for dir := path.Dir(name); dir != "." && dir != "/"; dir = path.Dir(dir) {
		entries, err := fs.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			break
		}
		if err := fs.Remove(dir); err != nil {
			break
		}
	}
	return nil
}
