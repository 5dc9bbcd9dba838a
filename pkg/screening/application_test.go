package screening

import (
	"errors"
	"testing"
)

func intPtr(v int) *int { return &v }

func TestCompositeScore(t *testing.T) {
	got := CompositeScore([]*int{intPtr(80), nil, intPtr(60)}, []int{40, 30, 30})
	if got == nil || *got != 71 {
		t.Fatalf("expected 71, got %v", got)
	}
	if got := CompositeScore([]*int{nil, nil, nil}, []int{40, 30, 30}); got != nil {
		t.Fatalf("expected nil without sub-scores, got %d", *got)
	}
	got = CompositeScore([]*int{intPtr(90), intPtr(70), intPtr(50)}, []int{40, 30, 30})
	if got == nil || *got != 72 {
		t.Fatalf("expected 72, got %v", got)
	}
	if got := CompositeScore([]*int{intPtr(90)}, []int{0}); got != nil {
		t.Fatalf("expected nil for zero weight, got %d", *got)
	}
}

func TestRecomputeAppliesDefaults(t *testing.T) {
	a := &Application{AIMatchScore: intPtr(80)}
	a.VideoAnalysisReport.OverallScore = intPtr(60)
	a.Recompute()
	if a.ScoringBreakdown != DefaultScoringBreakdown() {
		t.Fatalf("expected default weights, got %+v", a.ScoringBreakdown)
	}
	if a.OverallScore == nil || *a.OverallScore != 71 {
		t.Fatalf("expected overall 71, got %v", a.OverallScore)
	}
	if a.ScreeningStage != StageResumeUploaded || a.ProgressPercentage != 10 {
		t.Fatalf("unexpected stage defaults %s %d", a.ScreeningStage, a.ProgressPercentage)
	}

	a.VideoAnalysisReport.OverallScore = nil
	a.AIMatchScore = nil
	a.Recompute()
	if a.OverallScore != nil {
		t.Fatalf("expected overall cleared when no sub-scores remain")
	}
}

func TestAdvanceTo(t *testing.T) {
	a := &Application{ScreeningStage: StageVideoPending}
	if err := a.AdvanceTo(StageVideoInProgress, StageEntry{Status: HistoryInProgress}); err != nil {
		t.Fatalf("advance error: %v", err)
	}
	if len(a.StageHistory) != 1 || a.StageHistory[0].Stage != StageVideoInProgress || a.StageHistory[0].Timestamp.IsZero() {
		t.Fatalf("unexpected history %+v", a.StageHistory)
	}
	err := a.AdvanceTo(StageHired, StageEntry{})
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) || invalid.From != StageVideoInProgress {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}
