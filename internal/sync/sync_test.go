package sync

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/rhermens/git-watch/internal/config"
	"github.com/rhermens/git-watch/internal/git"
)

var (
	hashA = plumbing.NewHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	hashB = plumbing.NewHash("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	hashC = plumbing.NewHash("cccccccccccccccccccccccccccccccccccccccc")
)

// fixedClock implements Clock with a settable time.
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

// fakeFileInfo is the os.FileInfo returned by mockRepo.Lstat.
type fakeFileInfo struct {
	name  string
	mtime time.Time
}

func (f fakeFileInfo) Name() string       { return f.name }
func (f fakeFileInfo) Size() int64        { return 0 }
func (f fakeFileInfo) Mode() os.FileMode  { return 0o644 }
func (f fakeFileInfo) ModTime() time.Time { return f.mtime }
func (f fakeFileInfo) IsDir() bool        { return false }
func (f fakeFileInfo) Sys() any           { return nil }

// mockIndex records staging operations.
type mockIndex struct {
	added    []string
	removed  []string
	writes   int
	addErr   error
	writeErr error
}

func (m *mockIndex) AddPath(path string) error {
	if m.addErr != nil {
		return m.addErr
	}
	m.added = append(m.added, path)
	return nil
}

func (m *mockIndex) RemovePath(path string) error {
	m.removed = append(m.removed, path)
	return nil
}

func (m *mockIndex) Write() error {
	m.writes++
	return m.writeErr
}

// mockRepo implements Repository for testing.
type mockRepo struct {
	fetchHeads []git.FetchHead
	fetchErr   error
	fetchCtx   context.Context

	headHash plumbing.Hash
	headErr  error

	analysis    map[plumbing.Hash]git.MergeAnalysis
	analyzeErr  error
	checkoutErr error
	setRefErr   error

	status    []git.StatusEntry
	statusErr error
	mtimes    map[string]time.Time

	index    *mockIndex
	indexErr error

	commitHash plumbing.Hash
	commitErr  error
	pushErr    error
	pushCtx    context.Context
	cleanupErr error

	checkouts  []plumbing.Hash
	refUpdates []plumbing.Hash
	commits    []git.CommitOptions
	pushes     []git.PushOptions
	cleanups   atomic.Int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		headHash:   hashA,
		analysis:   map[plumbing.Hash]git.MergeAnalysis{},
		mtimes:     map[string]time.Time{},
		index:      &mockIndex{},
		commitHash: hashC,
	}
}

func (m *mockRepo) Fetch(ctx context.Context, _ *git.Remote, _ git.FetchOptions) ([]git.FetchHead, error) {
	m.fetchCtx = ctx
	return m.fetchHeads, m.fetchErr
}

func (m *mockRepo) Push(ctx context.Context, _ *git.Remote, opts git.PushOptions) error {
	m.pushCtx = ctx
	m.pushes = append(m.pushes, opts)
	return m.pushErr
}

func (m *mockRepo) Head() (*git.Head, error) {
	if m.headErr != nil {
		return nil, m.headErr
	}
	return &git.Head{
		Reference: plumbing.NewHashReference(plumbing.NewBranchReferenceName("master"), m.headHash),
		Commit:    &object.Commit{Hash: m.headHash},
	}, nil
}

func (m *mockRepo) LookupAnnotatedCommit(id plumbing.Hash) (*git.AnnotatedCommit, error) {
	return &git.AnnotatedCommit{ID: id, Commit: &object.Commit{Hash: id}}, nil
}

func (m *mockRepo) LookupCommit(id plumbing.Hash) (*object.Commit, error) {
	return &object.Commit{Hash: id}, nil
}

func (m *mockRepo) AnalyzeMerge(_ *git.Head, target *git.AnnotatedCommit) (git.MergeAnalysis, error) {
	return m.analysis[target.ID], m.analyzeErr
}

func (m *mockRepo) CheckoutTree(target *object.Commit, _ git.CheckoutOptions) error {
	if m.checkoutErr != nil {
		return m.checkoutErr
	}
	m.checkouts = append(m.checkouts, target.Hash)
	return nil
}

func (m *mockRepo) SetReferenceTarget(_ *git.Head, id plumbing.Hash) error {
	if m.setRefErr != nil {
		return m.setRefErr
	}
	m.refUpdates = append(m.refUpdates, id)
	m.headHash = id
	return nil
}

func (m *mockRepo) Status() ([]git.StatusEntry, error) {
	return m.status, m.statusErr
}

func (m *mockRepo) Lstat(path string) (os.FileInfo, error) {
	mtime, ok := m.mtimes[path]
	if !ok {
		return nil, &os.PathError{Op: "lstat", Path: path, Err: os.ErrNotExist}
	}
	return fakeFileInfo{name: path, mtime: mtime}, nil
}

func (m *mockRepo) OpenIndex() (Index, error) {
	if m.indexErr != nil {
		return nil, m.indexErr
	}
	return m.index, nil
}

func (m *mockRepo) CommitFromIndex(opts git.CommitOptions) (plumbing.Hash, error) {
	if m.commitErr != nil {
		return plumbing.ZeroHash, m.commitErr
	}
	m.commits = append(m.commits, opts)
	return m.commitHash, nil
}

func (m *mockRepo) CleanupState() error {
	m.cleanups.Add(1)
	return m.cleanupErr
}

func (m *mockRepo) cleanupCount() int {
	return int(m.cleanups.Load())
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestSession wires repo into a session built from the default
// configuration with a fixed clock.
func newTestSession(repo Repository, clock Clock) *Session {
	cfg := config.Default()
	s := NewSession(repo, &git.Remote{Name: "origin", URL: "/srv/remote.git"}, nil, cfg, testLogger())
	s.Clock = clock
	return s
}
