package git

import (
	"testing"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeMerge(t *testing.T) {
	f := newFixture(t)

	// initial <- ours
	//         <- theirs
	ours := commitFile(t, f.local, "ours.txt", "ours\n", "Ours")
	wt, err := f.local.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Reset(&gogit.ResetOptions{Commit: f.initial, Mode: gogit.HardReset}))
	theirs := commitFile(t, f.local, "theirs.txt", "theirs\n", "Theirs")

	repo := f.open(t)

	tests := []struct {
		name   string
		head   plumbing.Hash
		target plumbing.Hash
		want   MergeAnalysis
	}{
		{
			name:   "same commit",
			head:   ours,
			target: ours,
			want:   AnalysisUpToDate | AnalysisFastForward,
		},
		{
			name:   "target ahead",
			head:   f.initial,
			target: theirs,
			want:   AnalysisFastForward,
		},
		{
			name:   "target behind",
			head:   ours,
			target: f.initial,
			want:   AnalysisUpToDate,
		},
		{
			name:   "diverged",
			head:   ours,
			target: theirs,
			want:   AnalysisNormal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headCommit, err := repo.LookupCommit(tt.head)
			require.NoError(t, err)
			head := &Head{
				Reference: plumbing.NewHashReference(plumbing.NewBranchReferenceName("master"), tt.head),
				Commit:    headCommit,
			}

			target, err := repo.LookupAnnotatedCommit(tt.target)
			require.NoError(t, err)

			got, err := repo.AnalyzeMerge(head, target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMergeAnalysisString(t *testing.T) {
	tests := []struct {
		analysis MergeAnalysis
		want     string
	}{
		{0, "none"},
		{AnalysisNormal, "diverged"},
		{AnalysisUpToDate, "up-to-date"},
		{AnalysisFastForward, "fast-forward"},
		{AnalysisUpToDate | AnalysisFastForward, "up-to-date|fast-forward"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.analysis.String())
		})
	}
}
