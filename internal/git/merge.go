package git

import (
	"fmt"
	"strings"
)

// MergeAnalysis describes how a fetched commit relates to HEAD.
type MergeAnalysis uint8

const (
	// AnalysisNormal means the histories diverged; only a real merge could
	// combine them.
	AnalysisNormal MergeAnalysis = 1 << iota
	// AnalysisUpToDate means the target is already reachable from HEAD.
	AnalysisUpToDate
	// AnalysisFastForward means HEAD is an ancestor of the target and can
	// simply be moved to it.
	AnalysisFastForward
)

func (a MergeAnalysis) UpToDate() bool    { return a&AnalysisUpToDate != 0 }
func (a MergeAnalysis) FastForward() bool { return a&AnalysisFastForward != 0 }
func (a MergeAnalysis) Diverged() bool    { return a&AnalysisNormal != 0 }

func (a MergeAnalysis) String() string {
	var parts []string
	if a.Diverged() {
		parts = append(parts, "diverged")
	}
	if a.UpToDate() {
		parts = append(parts, "up-to-date")
	}
	if a.FastForward() {
		parts = append(parts, "fast-forward")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// AnalyzeMerge compares target against HEAD. When both are the same commit
// the result carries both AnalysisUpToDate and AnalysisFastForward.
func (r *Repository) AnalyzeMerge(head *Head, target *AnnotatedCommit) (MergeAnalysis, error) {
	var analysis MergeAnalysis

	reachable, err := target.Commit.IsAncestor(head.Commit)
	if err != nil {
		return 0, fmt.Errorf("failed to walk history of %s: %w", head.Hash(), err)
	}
	if reachable {
		analysis |= AnalysisUpToDate
	}

	ahead, err := head.Commit.IsAncestor(target.Commit)
	if err != nil {
		return 0, fmt.Errorf("failed to walk history of %s: %w", target.Commit.Hash, err)
	}
	if ahead {
		analysis |= AnalysisFastForward
	}

	if analysis == 0 {
		analysis = AnalysisNormal
	}
	return analysis, nil
}
