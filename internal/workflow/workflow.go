// Package workflow learns an inter-command transition graph with
// time-sensitive confidence: which command tends to follow another, and how
// long users typically wait between them.
package workflow

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"pscue/internal/logging"
)

// Transition is everything learned about one (source -> next) edge.
type Transition struct {
	Next            string
	Frequency       int
	TotalInterArrMs int64
	FirstSeen       time.Time
	LastSeen        time.Time
}

// AverageInterArrival returns the mean time between the source command and
// this transition's target, derived from the accumulated total.
func (t Transition) AverageInterArrival() time.Duration {
	if t.Frequency == 0 {
		return 0
	}
	return time.Duration(t.TotalInterArrMs/int64(t.Frequency)) * time.Millisecond
}

// Config bounds the learner's capacity and scoring behavior.
type Config struct {
	MaxTransitionsPerSource int
	MaxDelta                time.Duration
	MinConfidence           float64
	FrequencySaturation     int           // frequency at which the saturation term reaches 1.0
	RecencyDecayDays        float64
	GaussianSigma           time.Duration // width of the inter-arrival boost
}

// DefaultConfig matches the spec's "~20 transitions per source" bound.
func DefaultConfig() Config {
	return Config{
		MaxTransitionsPerSource: 20,
		MaxDelta:                30 * time.Minute,
		MinConfidence:           0.1,
		FrequencySaturation:     10,
		RecencyDecayDays:        14,
		GaussianSigma:           2 * time.Minute,
	}
}

// Learner tracks, per normalized source command, up to MaxTransitionsPerSource
// outgoing transitions. Safe for concurrent use.
type Learner struct {
	mu    sync.RWMutex
	cfg   Config
	edges map[string]map[string]*Transition

	// delta mirrors unsaved increments (keyed the same way as edges) for
	// incremental persistence, the same pattern internal/sequence uses.
	delta map[string]map[string]*Transition
}

// New constructs an empty Learner.
func New(cfg Config) *Learner {
	return &Learner{
		cfg:   cfg,
		edges: make(map[string]map[string]*Transition),
		delta: make(map[string]map[string]*Transition),
	}
}

// normalize reduces a command line to "baseCmd subcommand" (first two
// whitespace-separated tokens, or the single token if there's only one).
func normalize(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return ""
	}
	if len(fields) == 1 {
		return strings.ToLower(fields[0])
	}
	return strings.ToLower(fields[0]) + " " + strings.ToLower(fields[1])
}

// RecordTransition learns one prevCmd -> nextCmd edge observed dt apart.
// Rejects empty sides, self-transitions, and transitions whose gap exceeds
// MaxDelta.
func (l *Learner) RecordTransition(prevCmd, nextCmd string, dt time.Duration) {
	prev := normalize(prevCmd)
	next := normalize(nextCmd)
	if prev == "" || next == "" || prev == next {
		return
	}
	if dt > l.cfg.MaxDelta {
		return
	}
	timer := logging.StartTimer(logging.CategoryWorkflow, "RecordTransition")
	defer timer.Stop()

	now := time.Now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	edges, ok := l.edges[prev]
	if !ok {
		edges = make(map[string]*Transition)
		l.edges[prev] = edges
	}

	t, ok := edges[next]
	if !ok {
		if len(edges) >= l.cfg.MaxTransitionsPerSource {
			evictLeastFrequent(edges)
		}
		t = &Transition{Next: next, FirstSeen: now}
		edges[next] = t
	}
	t.Frequency++
	t.TotalInterArrMs += dt.Milliseconds()
	t.LastSeen = now

	deltaEdges, ok := l.delta[prev]
	if !ok {
		deltaEdges = make(map[string]*Transition)
		l.delta[prev] = deltaEdges
	}
	d, ok := deltaEdges[next]
	if !ok {
		d = &Transition{Next: next, FirstSeen: now}
		deltaEdges[next] = d
	}
	d.Frequency++
	d.TotalInterArrMs += dt.Milliseconds()
	d.LastSeen = now
}

// GetDelta returns a snapshot of unsaved increments since the last
// ClearDelta.
func (l *Learner) GetDelta() map[string]map[string]Transition {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]map[string]Transition, len(l.delta))
	for source, edges := range l.delta {
		inner := make(map[string]Transition, len(edges))
		for next, t := range edges {
			inner[next] = *t
		}
		out[source] = inner
	}
	return out
}

// ClearDelta zeros the delta buffer without affecting the in-memory cache.
func (l *Learner) ClearDelta() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delta = make(map[string]map[string]*Transition)
}

func evictLeastFrequent(edges map[string]*Transition) {
	var minKey string
	minFreq := int(^uint(0) >> 1)
	for k, t := range edges {
		if t.Frequency < minFreq {
			minFreq = t.Frequency
			minKey = k
		}
	}
	if minKey != "" {
		delete(edges, minKey)
	}
}

// Prediction is a single scored next-command candidate.
type Prediction struct {
	Next       string
	Confidence float64
}

// GetNextCommandPredictions returns transitions from fromCmd with confidence
// >= MinConfidence, highest first, capped at maxResults. When currentDt is
// non-nil, a Gaussian-like boost is added that peaks when currentDt matches
// the transition's average inter-arrival time.
func (l *Learner) GetNextCommandPredictions(fromCmd string, currentDt *time.Duration, maxResults int) []Prediction {
	source := normalize(fromCmd)

	l.mu.RLock()
	edges, ok := l.edges[source]
	if !ok {
		l.mu.RUnlock()
		return nil
	}
	snapshot := make([]Transition, 0, len(edges))
	for _, t := range edges {
		snapshot = append(snapshot, *t)
	}
	l.mu.RUnlock()

	now := time.Now().UTC()
	var out []Prediction
	for _, t := range snapshot {
		freqTerm := math.Min(1.0, float64(t.Frequency)/float64(l.cfg.FrequencySaturation))
		deltaDays := now.Sub(t.LastSeen).Hours() / 24
		recencyTerm := math.Exp(-deltaDays / l.cfg.RecencyDecayDays)

		confidence := 0.5*freqTerm + 0.5*recencyTerm

		if currentDt != nil {
			avg := t.AverageInterArrival()
			diff := *currentDt - avg
			if diff < 0 {
				diff = -diff
			}
			sigma := float64(l.cfg.GaussianSigma)
			if sigma > 0 {
				boost := math.Exp(-(float64(diff) * float64(diff)) / (2 * sigma * sigma))
				confidence = math.Min(1.0, confidence+0.3*boost)
			}
		}

		if confidence < l.cfg.MinConfidence {
			continue
		}
		out = append(out, Prediction{Next: t.Next, Confidence: confidence})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Next < out[j].Next
	})

	if maxResults <= 0 {
		maxResults = 5
	}
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}

// Snapshot returns a deep copy of all learned edges, for persistence.
func (l *Learner) Snapshot() map[string]map[string]Transition {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]map[string]Transition, len(l.edges))
	for source, edges := range l.edges {
		inner := make(map[string]Transition, len(edges))
		for next, t := range edges {
			inner[next] = *t
		}
		out[source] = inner
	}
	return out
}

// LoadSnapshot replaces in-memory state with snap.
func (l *Learner) LoadSnapshot(snap map[string]map[string]Transition) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.edges = make(map[string]map[string]*Transition, len(snap))
	for source, edges := range snap {
		inner := make(map[string]*Transition, len(edges))
		for next, t := range edges {
			tc := t
			inner[next] = &tc
		}
		l.edges[source] = inner
	}
}
