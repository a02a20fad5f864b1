package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/client"
	"github.com/go-git/go-git/v5/plumbing/transport/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhermens/git-watch/internal/config"
	"github.com/rhermens/git-watch/internal/git"
)

func TestMain(m *testing.M) {
	client.InstallProtocol("file", server.NewClient(server.DefaultLoader))
	os.Exit(m.Run())
}

// workspace is a bare remote, the watched clone and a second clone that
// plays the part of another machine pushing to the same remote.
type workspace struct {
	remoteDir string
	localDir  string
	otherDir  string
	other     *gogit.Repository
	initial   plumbing.Hash
	clock     *fixedClock
	session   *Session
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()

	remoteDir := t.TempDir()
	_, err := gogit.PlainInit(remoteDir, true)
	require.NoError(t, err)

	seedDir := t.TempDir()
	seed, err := gogit.PlainInit(seedDir, false)
	require.NoError(t, err)
	_, err = seed.CreateRemote(&gitconfig.RemoteConfig{Name: "origin", URLs: []string{remoteDir}})
	require.NoError(t, err)
	initial := commitAll(t, seed, map[string]string{"README.md": "hello\n", "todo.txt": "milk\n"}, "Initial commit")
	require.NoError(t, seed.Push(&gogit.PushOptions{RemoteName: "origin"}))

	localDir := t.TempDir()
	_, err = gogit.PlainClone(localDir, false, &gogit.CloneOptions{URL: remoteDir})
	require.NoError(t, err)

	otherDir := t.TempDir()
	other, err := gogit.PlainClone(otherDir, false, &gogit.CloneOptions{URL: remoteDir})
	require.NoError(t, err)

	repo, err := git.Open(localDir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	remote, err := repo.LookupRemote("origin")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Commit.AuthorName = "Watcher"
	cfg.Commit.AuthorEmail = "watcher@example.com"

	// Every file on disk is older than the debounce window unless a test
	// moves the clock back.
	clock := &fixedClock{now: time.Now().Add(time.Hour)}
	session := NewSession(FromGit(repo), remote, nil, cfg, testLogger())
	session.Clock = clock

	return &workspace{
		remoteDir: remoteDir,
		localDir:  localDir,
		otherDir:  otherDir,
		other:     other,
		initial:   initial,
		clock:     clock,
		session:   session,
	}
}

func commitAll(t *testing.T, repo *gogit.Repository, files map[string]string, msg string) plumbing.Hash {
	t.Helper()
	wt, err := repo.Worktree()
	require.NoError(t, err)

	for name, content := range files {
		path := filepath.Join(wt.Filesystem.Root(), name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	require.NoError(t, wt.AddWithOptions(&gogit.AddOptions{All: true}))

	hash, err := wt.Commit(msg, &gogit.CommitOptions{
		Author: &object.Signature{Name: "Other", Email: "other@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return hash
}

// pushFromOther commits files in the second clone and publishes them.
func (w *workspace) pushFromOther(t *testing.T, files map[string]string, msg string) plumbing.Hash {
	t.Helper()
	hash := commitAll(t, w.other, files, msg)
	require.NoError(t, w.other.Push(&gogit.PushOptions{RemoteName: "origin"}))
	return hash
}

func (w *workspace) localHead(t *testing.T) plumbing.Hash {
	t.Helper()
	repo, err := gogit.PlainOpen(w.localDir)
	require.NoError(t, err)
	ref, err := repo.Head()
	require.NoError(t, err)
	return ref.Hash()
}

func (w *workspace) remoteHead(t *testing.T) plumbing.Hash {
	t.Helper()
	repo, err := gogit.PlainOpen(w.remoteDir)
	require.NoError(t, err)
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("master"), true)
	require.NoError(t, err)
	return ref.Hash()
}

func (w *workspace) remoteFile(t *testing.T, name string) (string, bool) {
	t.Helper()
	repo, err := gogit.PlainOpen(w.remoteDir)
	require.NoError(t, err)
	commit, err := repo.CommitObject(w.remoteHead(t))
	require.NoError(t, err)
	file, err := commit.File(name)
	if err == object.ErrFileNotFound {
		return "", false
	}
	require.NoError(t, err)
	content, err := file.Contents()
	require.NoError(t, err)
	return content, true
}

func (w *workspace) readLocal(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(w.localDir, name))
	require.NoError(t, err)
	return string(b)
}

func (w *workspace) writeLocal(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(w.localDir, name), []byte(content), 0o644))
}

func TestScenario_NothingToDo(t *testing.T) {
	w := newWorkspace(t)
	before := w.localHead(t)

	engine := NewEngine(w.session, time.Minute, testLogger())
	require.NoError(t, engine.RunCycle(context.Background()))

	assert.Equal(t, before, w.localHead(t))
	assert.Equal(t, before, w.remoteHead(t))
}

func TestScenario_DeletedFileIsPublished(t *testing.T) {
	w := newWorkspace(t)
	before := w.localHead(t)
	require.NoError(t, os.Remove(filepath.Join(w.localDir, "todo.txt")))

	engine := NewEngine(w.session, time.Minute, testLogger())
	require.NoError(t, engine.RunCycle(context.Background()))

	head := w.localHead(t)
	assert.NotEqual(t, before, head)
	assert.Equal(t, head, w.remoteHead(t))

	_, found := w.remoteFile(t, "todo.txt")
	assert.False(t, found)
	readme, found := w.remoteFile(t, "README.md")
	assert.True(t, found)
	assert.Equal(t, "hello\n", readme)

	repo, err := gogit.PlainOpen(w.remoteDir)
	require.NoError(t, err)
	commit, err := repo.CommitObject(head)
	require.NoError(t, err)
	assert.Equal(t, "Autocommit: Push commit", commit.Message)
	assert.Equal(t, "Watcher", commit.Author.Name)
	assert.Equal(t, []plumbing.Hash{before}, commit.ParentHashes)
}

func TestScenario_RemoteAheadIsFastForwarded(t *testing.T) {
	w := newWorkspace(t)
	target := w.pushFromOther(t, map[string]string{"todo.txt": "milk\neggs\n", "new/list.txt": "bread\n"}, "Add groceries")

	engine := NewEngine(w.session, time.Minute, testLogger())
	require.NoError(t, engine.RunCycle(context.Background()))

	assert.Equal(t, target, w.localHead(t))
	assert.Equal(t, target, w.remoteHead(t))
	assert.Equal(t, "milk\neggs\n", w.readLocal(t, "todo.txt"))
	assert.Equal(t, "bread\n", w.readLocal(t, "new/list.txt"))

	status, err := w.session.Repo.Status()
	require.NoError(t, err)
	assert.Empty(t, status)
}

// rewriteRemote replaces the remote branch with a commit on top of the
// initial one, dropping whatever was published after it.
func (w *workspace) rewriteRemote(t *testing.T, files map[string]string, msg string) plumbing.Hash {
	t.Helper()
	wt, err := w.other.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Reset(&gogit.ResetOptions{Commit: w.initial, Mode: gogit.HardReset}))

	hash := commitAll(t, w.other, files, msg)
	require.NoError(t, w.other.Push(&gogit.PushOptions{RemoteName: "origin", Force: true}))
	return hash
}

func TestScenario_DivergedRemote(t *testing.T) {
	// The local branch follows the remote to a commit that the remote then
	// drops by rewriting its history.
	setup := func(t *testing.T) (*workspace, plumbing.Hash) {
		w := newWorkspace(t)

		published := w.pushFromOther(t, map[string]string{"todo.txt": "milk\ncheese\n"}, "Add cheese")
		require.NoError(t, SynchronizeFromRemote(context.Background(), w.session))
		require.Equal(t, published, w.localHead(t))

		rewritten := w.rewriteRemote(t, map[string]string{"todo.txt": "milk\nbutter\n"}, "Add butter instead")
		require.Equal(t, rewritten, w.remoteHead(t))
		return w, published
	}

	t.Run("fails without touching the branch", func(t *testing.T) {
		w, localCommit := setup(t)
		remoteBefore := w.remoteHead(t)

		err := SynchronizeFromRemote(context.Background(), w.session)
		require.Error(t, err)
		assert.Equal(t, FastForwardFailed, KindOf(err))
		assert.ErrorIs(t, err, ErrDiverged)

		assert.Equal(t, localCommit, w.localHead(t))
		assert.Equal(t, remoteBefore, w.remoteHead(t))
		assert.Equal(t, "milk\ncheese\n", w.readLocal(t, "todo.txt"))

		status, err := w.session.Repo.Status()
		require.NoError(t, err)
		assert.Empty(t, status)
	})

	t.Run("warn policy leaves the branch alone", func(t *testing.T) {
		w, localCommit := setup(t)
		w.session.OnDiverged = config.DivergedWarn

		require.NoError(t, SynchronizeFromRemote(context.Background(), w.session))
		assert.Equal(t, localCommit, w.localHead(t))
		assert.Equal(t, "milk\ncheese\n", w.readLocal(t, "todo.txt"))
	})

	t.Run("whole cycle fails before publishing", func(t *testing.T) {
		w, localCommit := setup(t)
		remoteBefore := w.remoteHead(t)
		w.writeLocal(t, "README.md", "hello again\n")

		engine := NewEngine(w.session, time.Minute, testLogger())
		err := engine.RunCycle(context.Background())
		assert.Equal(t, FastForwardFailed, KindOf(err))
		assert.Equal(t, 3, ExitCode(err))

		assert.Equal(t, localCommit, w.localHead(t))
		assert.Equal(t, remoteBefore, w.remoteHead(t))
		assert.Equal(t, "hello again\n", w.readLocal(t, "README.md"))
	})
}

func TestScenario_PublishIsIdempotent(t *testing.T) {
	w := newWorkspace(t)
	w.writeLocal(t, "README.md", "hello again\n")

	outcome, err := PublishLocalChanges(context.Background(), w.session)
	require.NoError(t, err)
	assert.Equal(t, Published, outcome)
	published := w.localHead(t)

	outcome, err = PublishLocalChanges(context.Background(), w.session)
	require.NoError(t, err)
	assert.Equal(t, NoChanges, outcome)
	assert.Equal(t, published, w.localHead(t))
	assert.Equal(t, published, w.remoteHead(t))

	content, found := w.remoteFile(t, "README.md")
	assert.True(t, found)
	assert.Equal(t, "hello again\n", content)
}

func TestScenario_RecentEditsWaitForDebounce(t *testing.T) {
	w := newWorkspace(t)
	before := w.localHead(t)

	w.writeLocal(t, "notes.txt", "draft\n")
	path := filepath.Join(w.localDir, "notes.txt")
	mtime := time.Now()
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	w.clock.now = mtime.Add(30 * time.Second)
	outcome, err := PublishLocalChanges(context.Background(), w.session)
	require.NoError(t, err)
	assert.Equal(t, NoChanges, outcome)
	assert.Equal(t, before, w.remoteHead(t))

	w.clock.now = mtime.Add(2 * time.Minute)
	outcome, err = PublishLocalChanges(context.Background(), w.session)
	require.NoError(t, err)
	assert.Equal(t, Published, outcome)

	content, found := w.remoteFile(t, "notes.txt")
	assert.True(t, found)
	assert.Equal(t, "draft\n", content)
}
