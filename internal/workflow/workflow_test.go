package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTransitionRejectsSelfAndEmpty(t *testing.T) {
	l := New(DefaultConfig())
	l.RecordTransition("", "git push", time.Second)
	l.RecordTransition("git add", "", time.Second)
	l.RecordTransition("git add", "git add", time.Second)

	preds := l.GetNextCommandPredictions("git add", nil, 5)
	assert.Empty(t, preds)
}

func TestRecordTransitionRejectsOverMaxDelta(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDelta = time.Minute
	l := New(cfg)
	l.RecordTransition("git add", "git commit", 2*time.Hour)

	preds := l.GetNextCommandPredictions("git add", nil, 5)
	assert.Empty(t, preds)
}

func TestRecordTransitionNormalizesSubcommand(t *testing.T) {
	l := New(DefaultConfig())
	for i := 0; i < 5; i++ {
		l.RecordTransition("git add .", "git commit -m x", time.Second)
	}
	preds := l.GetNextCommandPredictions("git add", nil, 5)
	require.Len(t, preds, 1)
	assert.Equal(t, "git commit", preds[0].Next)
}

func TestMaxTransitionsPerSourceEvictsLeastFrequent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTransitionsPerSource = 2
	cfg.MinConfidence = 0
	l := New(cfg)

	for i := 0; i < 5; i++ {
		l.RecordTransition("git status", "git add", time.Second)
	}
	l.RecordTransition("git status", "git commit", time.Second)
	l.RecordTransition("git status", "git push", time.Second)

	snap := l.Snapshot()
	assert.LessOrEqual(t, len(snap["git status"]), 2)
	assert.Contains(t, snap["git status"], "git add")
}

func TestGaussianBoostPeaksAtAverageInterArrival(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinConfidence = 0
	l := New(cfg)
	for i := 0; i < 3; i++ {
		l.RecordTransition("git add", "git commit", 2*time.Minute)
	}

	near := 2 * time.Minute
	far := 20 * time.Minute
	predsNear := l.GetNextCommandPredictions("git add", &near, 5)
	predsFar := l.GetNextCommandPredictions("git add", &far, 5)

	require.Len(t, predsNear, 1)
	require.Len(t, predsFar, 1)
	assert.Greater(t, predsNear[0].Confidence, predsFar[0].Confidence)
}

func TestSnapshotRoundTrip(t *testing.T) {
	l := New(DefaultConfig())
	l.RecordTransition("git add", "git commit", time.Second)
	snap := l.Snapshot()

	l2 := New(DefaultConfig())
	l2.LoadSnapshot(snap)
	preds := l2.GetNextCommandPredictions("git add", nil, 5)
	require.Len(t, preds, 1)
	assert.Equal(t, "git commit", preds[0].Next)
}
