package git

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"
)

// Index is the staging area. Changes are kept in memory until Write.
type Index struct {
	r   *Repository
	idx *index.Index
}

// Index loads the staging area of the repository.
func (r *Repository) Index() (*Index, error) {
	idx, err := r.repo.Storer.Index()
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	return &Index{r: r, idx: idx}, nil
}

// AddPath stores the current working tree content of path as a blob and
// stages it.
func (i *Index) AddPath(path string) error {
	fs := i.r.worktree.Filesystem

	fi, err := fs.Lstat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if fi.IsDir() {
		return fmt.Errorf("cannot stage directory %s", path)
	}

	hash, err := i.writeBlob(path, fi)
	if err != nil {
		return err
	}

	mode, err := filemode.NewFromOSFileMode(fi.Mode())
	if err != nil {
		return fmt.Errorf("unsupported file mode for %s: %w", path, err)
	}

	e, err := i.idx.Entry(path)
	if err != nil {
		e = i.idx.Add(path)
	}
	e.Hash = hash
	e.Mode = mode
	e.ModifiedAt = fi.ModTime()
	e.Size = uint32(fi.Size())
	return nil
}

// RemovePath unstages path. Removing a path that is not staged is a no-op.
func (i *Index) RemovePath(path string) error {
	if _, err := i.idx.Remove(path); err != nil && !errors.Is(err, index.ErrEntryNotFound) {
		return fmt.Errorf("failed to remove %s from index: %w", path, err)
	}
	return nil
}

// Write persists the staging area.
func (i *Index) Write() error {
	if err := i.r.repo.Storer.SetIndex(i.idx); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}

// Len returns the number of staged entries.
func (i *Index) Len() int {
	return len(i.idx.Entries)
}

// writeBlob copies the file (or the target of the symlink) at path into the
// object database.
func (i *Index) writeBlob(path string, fi os.FileInfo) (plumbing.Hash, error) {
	fs := i.r.worktree.Filesystem
	storer := i.r.repo.Storer

	obj := storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)

	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to open blob writer: %w", err)
	}
	defer w.Close()

	if fi.Mode()&os.ModeSymlink != 0 {
		target, err := fs.Readlink(path)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("failed to read link %s: %w", path, err)
		}
		obj.SetSize(int64(len(target)))
		if _, err := io.WriteString(w, target); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("failed to store %s: %w", path, err)
		}
	} else {
		f, err := fs.Open(path)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()

		obj.SetSize(fi.Size())
		if _, err := io.Copy(w, f); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("failed to store %s: %w", path, err)
		}
	}

	hash, err := storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to store blob for %s: %w", path, err)
	}
	return hash, nil
}
