package git

import (
	"fmt"
	"os"
	"sort"

	gogit "github.com/go-git/go-git/v5"
)

// StatusFlag is a bit set describing how a path differs from HEAD and the
// index.
type StatusFlag uint16

const (
	StatusIndexNew StatusFlag = 1 << iota
	StatusIndexModified
	StatusIndexDeleted
	StatusIndexRenamed
	StatusWorktreeNew
	StatusWorktreeModified
	StatusWorktreeDeleted
	StatusConflicted
)

// Has reports whether all bits of flag are set.
func (f StatusFlag) Has(flag StatusFlag) bool {
	return f&flag == flag
}

// StatusEntry is one path with pending changes.
type StatusEntry struct {
	Path  string
	Flags StatusFlag
}

// Status lists every path whose index or working tree state differs from
// HEAD, including untracked files not excluded by .gitignore. Entries are
// sorted by path.
func (r *Repository) Status() ([]StatusEntry, error) {
	status, err := r.worktree.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to compute status: %w", err)
	}

	entries := make([]StatusEntry, 0, len(status))
	for p, fs := range status {
		flags := statusFlags(fs)
		if flags == 0 {
			continue
		}
		entries = append(entries, StatusEntry{Path: p, Flags: flags})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Lstat returns file information for path relative to the working tree root
// without following symlinks.
func (r *Repository) Lstat(path string) (os.FileInfo, error) {
	return r.worktree.Filesystem.Lstat(path)
}

func statusFlags(fs *gogit.FileStatus) StatusFlag {
	var flags StatusFlag

	switch fs.Staging {
	case gogit.Added:
		flags |= StatusIndexNew
	case gogit.Modified:
		flags |= StatusIndexModified
	case gogit.Deleted:
		flags |= StatusIndexDeleted
	case gogit.Renamed, gogit.Copied:
		flags |= StatusIndexRenamed
	case gogit.UpdatedButUnmerged:
		flags |= StatusConflicted
	}

	switch fs.Worktree {
	case gogit.Untracked:
		flags |= StatusWorktreeNew
	case gogit.Modified:
		flags |= StatusWorktreeModified
	case gogit.Deleted:
		flags |= StatusWorktreeDeleted
	case gogit.UpdatedButUnmerged:
		flags |= StatusConflicted
	}

	return flags
}
