package git

import "errors"

var (
	// ErrRemoteNotFound is returned when the named remote is not configured.
	ErrRemoteNotFound = errors.New("remote not found")

	// ErrUnbornHead is returned when HEAD names a branch without commits.
	ErrUnbornHead = errors.New("HEAD points to an unborn branch")

	// ErrCheckoutConflict is returned by a safe checkout that would overwrite
	// local modifications.
	ErrCheckoutConflict = errors.New("checkout would overwrite local changes")

	// ErrInvalidPath is returned when a tree entry names a path that must not
	// be written into the working tree, such as one inside .git.
	ErrInvalidPath = errors.New("invalid path in tree")

	// ErrReferenceChanged is returned when a reference moved between reading
	// and updating it.
	ErrReferenceChanged = errors.New("reference changed concurrently")

	// ErrEmptyCommit is returned when the staged tree equals the parent tree.
	ErrEmptyCommit = errors.New("staged tree is identical to HEAD")
)
