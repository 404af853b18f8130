package sequence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSequenceTrigram(t *testing.T) {
	p := New(Config{Order: 3, MinFrequency: 1, RecencyBonusWeight: 0.1, RecencyDecayDays: 7})
	p.RecordSequence([]string{"git", "add", "commit"})
	p.RecordSequence([]string{"git", "add", "commit"})

	preds := p.GetPredictions([]string{"git", "add"})
	require.Len(t, preds, 1)
	assert.Equal(t, "commit", preds[0].Next)
}

func TestMinFrequencyGate(t *testing.T) {
	p := New(Config{Order: 2, MinFrequency: 3, RecencyBonusWeight: 0.1, RecencyDecayDays: 7})
	p.RecordSequence([]string{"ls", "cd"})

	preds := p.GetPredictions([]string{"ls"})
	assert.Empty(t, preds)
}

func TestGetDeltaAndClear(t *testing.T) {
	p := New(DefaultConfig())
	p.RecordSequence([]string{"a", "b", "c"})

	delta := p.GetDelta()
	require.NotEmpty(t, delta)

	p.ClearDelta()
	assert.Empty(t, p.GetDelta())

	// Cache survives ClearDelta.
	preds := p.GetPredictions([]string{"a", "b"})
	assert.NotEmpty(t, preds)
}

func TestInitializeSeedsCache(t *testing.T) {
	p := New(Config{Order: 2, MinFrequency: 1, RecencyBonusWeight: 0, RecencyDecayDays: 7})
	p.Initialize(map[string]map[string]Entry{
		"ls": {"cd": {Frequency: 5}},
	})
	preds := p.GetPredictions([]string{"ls"})
	require.Len(t, preds, 1)
	assert.Equal(t, "cd", preds[0].Next)
}

func TestPredictionsScoredByProbabilityDescending(t *testing.T) {
	p := New(Config{Order: 2, MinFrequency: 1, RecencyBonusWeight: 0, RecencyDecayDays: 7})
	for i := 0; i < 5; i++ {
		p.RecordSequence([]string{"git", "status"})
	}
	p.RecordSequence([]string{"git", "push"})

	preds := p.GetPredictions([]string{"git"})
	require.Len(t, preds, 2)
	assert.Equal(t, "status", preds[0].Next)
}
