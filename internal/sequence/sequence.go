// Package sequence implements an N-gram (bigram/trigram) model of
// command-to-next-command transitions, with frequency+recency scoring and a
// delta buffer for incremental persistence.
package sequence

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"pscue/internal/logging"
)

// Entry is one (prefix -> next) transition's learned statistics.
type Entry struct {
	Frequency int
	LastSeen  time.Time
}

// key identifies one N-gram transition by its joined prefix and next
// command.
type key struct {
	prefix string
	next   string
}

// Config controls the predictor's order and scoring thresholds.
type Config struct {
	// Order is the N-gram order: 2 (bigram) or 3 (trigram).
	Order int
	// MinFrequency (f_min) gates predictions: entries below this frequency
	// are never returned.
	MinFrequency int
	// RecencyBonusWeight scales the small recency bonus added on top of
	// the prefix-relative probability.
	RecencyBonusWeight float64
	// RecencyDecayDays controls how fast the recency bonus decays.
	RecencyDecayDays float64
}

// DefaultConfig returns a trigram predictor with f_min=2.
func DefaultConfig() Config {
	return Config{
		Order:              3,
		MinFrequency:       2,
		RecencyBonusWeight: 0.1,
		RecencyDecayDays:   7,
	}
}

// Predictor is the in-memory N-gram cache plus its unsaved delta buffer.
// Safe for concurrent use.
type Predictor struct {
	mu    sync.RWMutex
	cfg   Config
	cache map[key]*Entry
	delta map[key]*Entry
}

// New constructs an empty Predictor.
func New(cfg Config) *Predictor {
	if cfg.Order != 2 && cfg.Order != 3 {
		cfg.Order = 3
	}
	return &Predictor{
		cfg:   cfg,
		cache: make(map[key]*Entry),
		delta: make(map[key]*Entry),
	}
}

func joinPrefix(cmds []string) string {
	return strings.Join(cmds, "\x1f")
}

// Initialize seeds the in-memory cache from persisted state. Does not affect
// the delta buffer.
func (p *Predictor) Initialize(stored map[string]map[string]Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for prefix, nexts := range stored {
		for next, e := range nexts {
			ent := e
			p.cache[key{prefix: prefix, next: next}] = &ent
		}
	}
}

// RecordSequence walks sliding windows of length (Order-1)+1 over cmds,
// incrementing frequency and bumping last-seen for each (prefix, next) pair
// it observes. Every increment also mirrors into the delta buffer.
func (p *Predictor) RecordSequence(cmds []string) {
	windowLen := p.cfg.Order
	if len(cmds) < windowLen {
		return
	}
	timer := logging.StartTimer(logging.CategorySequence, "RecordSequence")
	defer timer.Stop()

	now := time.Now().UTC()

	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i+windowLen <= len(cmds); i++ {
		prefix := joinPrefix(cmds[i : i+windowLen-1])
		next := cmds[i+windowLen-1]
		k := key{prefix: prefix, next: next}

		if e, ok := p.cache[k]; ok {
			e.Frequency++
			e.LastSeen = now
		} else {
			p.cache[k] = &Entry{Frequency: 1, LastSeen: now}
		}

		if d, ok := p.delta[k]; ok {
			d.Frequency++
			d.LastSeen = now
		} else {
			p.delta[k] = &Entry{Frequency: 1, LastSeen: now}
		}
	}
}

// GetDelta returns a snapshot of unsaved increments, keyed by prefix then
// next command.
func (p *Predictor) GetDelta() map[string]map[string]Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]map[string]Entry)
	for k, e := range p.delta {
		if _, ok := out[k.prefix]; !ok {
			out[k.prefix] = make(map[string]Entry)
		}
		out[k.prefix][k.next] = *e
	}
	return out
}

// ClearDelta zeros the delta buffer without touching the in-memory cache.
func (p *Predictor) ClearDelta() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delta = make(map[key]*Entry)
}

// Prediction is a single scored next-command candidate.
type Prediction struct {
	Next  string
	Score float64
}

// GetPredictions looks up the last (Order-1) commands of historyTail and
// returns candidates with frequency >= MinFrequency, scored by
// probability-within-prefix plus a small recency bonus, descending.
func (p *Predictor) GetPredictions(historyTail []string) []Prediction {
	windowLen := p.cfg.Order - 1
	if len(historyTail) < windowLen {
		return nil
	}
	prefixCmds := historyTail[len(historyTail)-windowLen:]
	prefix := joinPrefix(prefixCmds)

	p.mu.RLock()
	defer p.mu.RUnlock()

	total := 0
	type cand struct {
		next  string
		entry Entry
	}
	var cands []cand
	for k, e := range p.cache {
		if k.prefix != prefix {
			continue
		}
		total += e.Frequency
		cands = append(cands, cand{next: k.next, entry: *e})
	}
	if total == 0 {
		return nil
	}

	now := time.Now().UTC()
	var out []Prediction
	for _, c := range cands {
		if c.entry.Frequency < p.cfg.MinFrequency {
			continue
		}
		prob := float64(c.entry.Frequency) / float64(total)
		deltaDays := now.Sub(c.entry.LastSeen).Hours() / 24
		recencyBonus := p.cfg.RecencyBonusWeight * math.Exp(-deltaDays/p.cfg.RecencyDecayDays)
		out = append(out, Prediction{Next: c.next, Score: prob + recencyBonus})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Next < out[j].Next
	})
	return out
}
