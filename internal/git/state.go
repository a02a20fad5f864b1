package git

import (
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5/util"
)

// RepositoryState reports an operation left in progress in the repository.
type RepositoryState int

const (
	StateNone RepositoryState = iota
	StateMerge
	StateRevert
	StateCherryPick
	StateBisect
	StateRebase
	StateRebaseInteractive
	StateRebaseMerge
	StateApplyMailbox
	StateApplyMailboxOrRebase
)

func (s RepositoryState) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateMerge:
		return "merge"
	case StateRevert:
		return "revert"
	case StateCherryPick:
		return "cherry-pick"
	case StateBisect:
		return "bisect"
	case StateRebase:
		return "rebase"
	case StateRebaseInteractive:
		return "rebase-interactive"
	case StateRebaseMerge:
		return "rebase-merge"
	case StateApplyMailbox:
		return "apply-mailbox"
	case StateApplyMailboxOrRebase:
		return "apply-mailbox-or-rebase"
	default:
		return fmt.Sprintf("RepositoryState(%d)", int(s))
	}
}

// stateMarkers are the files and directories below .git that record an
// operation in progress, in the order State checks them.
var stateMarkers = []struct {
	path  string
	state RepositoryState
}{
	{"rebase-apply/rebasing", StateRebase},
	{"rebase-apply/applying", StateApplyMailbox},
	{"rebase-apply", StateApplyMailboxOrRebase},
	{"rebase-merge/interactive", StateRebaseInteractive},
	{"rebase-merge", StateRebaseMerge},
	{"MERGE_HEAD", StateMerge},
	{"REVERT_HEAD", StateRevert},
	{"CHERRY_PICK_HEAD", StateCherryPick},
	{"BISECT_LOG", StateBisect},
}

// cleanupMarkers are removed by CleanupState.
var cleanupMarkers = []string{
	"MERGE_HEAD",
	"MERGE_MODE",
	"MERGE_MSG",
	"REVERT_HEAD",
	"CHERRY_PICK_HEAD",
	"BISECT_LOG",
	"rebase-merge",
	"rebase-apply",
	"sequencer",
}

// State reports which operation, if any, is in progress.
func (r *Repository) State() (RepositoryState, error) {
	if r.dotgit == nil {
		return StateNone, nil
	}

	for _, m := range stateMarkers {
		_, err := r.dotgit.Stat(m.path)
		if err == nil {
			return m.state, nil
		}
		if !os.IsNotExist(err) {
			return StateNone, fmt.Errorf("failed to inspect %s: %w", m.path, err)
		}
	}
	return StateNone, nil
}

// CleanupState removes every in-progress operation marker, returning the
// repository to StateNone. Missing markers are ignored.
func (r *Repository) CleanupState() error {
	if r.dotgit == nil {
		return nil
	}

	for _, name := range cleanupMarkers {
		if err := util.RemoveAll(r.dotgit, name); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}
