// Package pcd ranks directory candidates for "smart cd" completion using a
// frecency + distance + fuzzy-match scoring model, augmented by filesystem
// probing and symlink-aware deduplication.
package pcd

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"pscue/internal/logging"
)

// SourceType records where a suggestion came from, per the data model's
// PcdSuggestion.MatchType: WellKnown | Learned | Filesystem | Fuzzy. A
// candidate that only matched via the fuzzy algorithm is reported as Fuzzy
// regardless of which source produced it.
type SourceType int

const (
	SourceWellKnown SourceType = iota
	SourceLearned
	SourceFilesystem
	SourceFuzzy
)

func (s SourceType) String() string {
	switch s {
	case SourceWellKnown:
		return "WellKnown"
	case SourceLearned:
		return "Learned"
	case SourceFilesystem:
		return "Filesystem"
	case SourceFuzzy:
		return "Fuzzy"
	default:
		return "Unknown"
	}
}

// queryMatch classifies how well a candidate's path matches the query,
// independent of where the candidate came from.
type queryMatch int

const (
	matchNone queryMatch = iota
	matchFuzzy
	matchSubstring
	matchPrefix
	matchExact
)

// LearnedDir is a single directory candidate sourced from the argument
// graph's cd-family usage statistics.
type LearnedDir struct {
	Path       string // already normalized/absolute by the caller
	UsageCount int
	LastUsed   time.Time
}

// Suggestion is one scored, display-ready directory completion candidate.
type Suggestion struct {
	DisplayPath string
	ShortPath   string
	Score       float64
	Source      SourceType
	UsageCount  int
	LastUsed    time.Time
	Tooltip     string
}

// DirectoryFamily is the set of command names treated as "cd-like" for the
// purpose of sourcing learned directories from the argument graph.
var DirectoryFamily = map[string]bool{
	"cd":           true,
	"set-location": true,
	"sl":           true,
	"chdir":        true,
	"pcd":          true,
}

// DefaultBlocklist is the built-in cache/metadata directory filter.
var DefaultBlocklist = []string{
	".git", ".codeium", ".claude", ".dotnet", "node_modules", "bin", "obj", ".cache", ".pscue",
}

// Options configures one Suggest call.
type Options struct {
	MaxResults           int
	MaxRecursiveDepth    int
	EnableRecursiveSearch bool
	EnableDotDirFilter   bool
	CustomBlocklist      []string
	FrequencyWeight      float64
	RecencyWeight        float64
	DistanceWeight       float64
	ExactMatchBoost      float64
	FuzzyMinMatchPct     float64
	DecayDays            float64
}

// DefaultOptions returns the spec's defaults.
func DefaultOptions() Options {
	return Options{
		MaxResults:            10,
		MaxRecursiveDepth:     1,
		EnableRecursiveSearch: false,
		EnableDotDirFilter:    true,
		FrequencyWeight:       0.4,
		RecencyWeight:         0.3,
		DistanceWeight:        0.3,
		ExactMatchBoost:       100,
		FuzzyMinMatchPct:      0.6,
		DecayDays:             14,
	}
}

// Engine ranks directory candidates. It holds no state of its own beyond
// configuration; learned directories and the filesystem are supplied per
// call, matching the spec's "constructed with its collaborators, no global
// state" design note.
type Engine struct{}

// New constructs a PCD Engine.
func New() *Engine {
	return &Engine{}
}

func pathFold(p string) string {
	if runtime.GOOS == "windows" {
		return strings.ToLower(p)
	}
	return p
}

func canonicalize(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = filepath.Clean(p)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if !strings.HasSuffix(abs, string(filepath.Separator)) {
		abs += string(filepath.Separator)
	}
	return abs
}

func isBlocked(name string, blocklist map[string]bool) bool {
	return blocklist[strings.ToLower(name)]
}

// Suggest ranks directory candidates for wordToComplete given currentDir,
// learned directory usage, and options.
func (e *Engine) Suggest(ctx context.Context, wordToComplete, currentDir string, learned []LearnedDir, opts Options) []Suggestion {
	timer := logging.StartTimer(logging.CategoryPCD, "Suggest")
	defer timer.Stop()

	blocklist := make(map[string]bool, len(DefaultBlocklist)+len(opts.CustomBlocklist))
	for _, b := range DefaultBlocklist {
		blocklist[strings.ToLower(b)] = true
	}
	for _, b := range opts.CustomBlocklist {
		blocklist[strings.ToLower(b)] = true
	}

	currentCanon := canonicalize(currentDir)
	isAbsoluteQuery := filepath.IsAbs(wordToComplete)

	type gathered struct {
		path           string
		source         SourceType
		usage          int
		lastUsed       time.Time
		wellKnownScore float64
	}
	byCanon := make(map[string]*gathered)

	add := func(path string, source SourceType, usage int, lastUsed time.Time, wellKnownScore float64) {
		canon := pathFold(canonicalize(path))
		existing, ok := byCanon[canon]
		if !ok {
			byCanon[canon] = &gathered{path: path, source: source, usage: usage, lastUsed: lastUsed, wellKnownScore: wellKnownScore}
			return
		}
		// Prefer the richer source (Learned beats Filesystem) and merge
		// usage stats so dedup doesn't lose information.
		if usage > existing.usage {
			existing.usage = usage
		}
		if lastUsed.After(existing.lastUsed) {
			existing.lastUsed = lastUsed
		}
		if source == SourceLearned {
			existing.source = SourceLearned
		}
	}

	// 1. Well-known shortcuts: "~" scores 1000, ".." scores 999.
	if wordToComplete == "" || strings.HasPrefix(wordToComplete, "~") || !isAbsoluteQuery {
		if home, err := os.UserHomeDir(); err == nil {
			add(home, SourceWellKnown, 0, time.Time{}, 1000)
		}
	}
	if !isAbsoluteQuery {
		add(filepath.Join(currentDir, ".."), SourceWellKnown, 0, time.Time{}, 999)
	}

	// 2. Learned directories.
	for _, ld := range learned {
		add(ld.Path, SourceLearned, ld.UsageCount, ld.LastUsed, 0)
	}

	// 3. Filesystem probe.
	root := currentDir
	if isAbsoluteQuery {
		root = filepath.Dir(wordToComplete)
	}
	for _, dir := range probe(ctx, root, opts.EnableRecursiveSearch, opts.MaxRecursiveDepth) {
		add(dir, SourceFilesystem, 0, time.Time{}, 0)
	}

	now := time.Now().UTC()
	var out []Suggestion
	for canon, g := range byCanon {
		name := filepath.Base(strings.TrimSuffix(canon, string(filepath.Separator)))

		if g.source != SourceWellKnown {
			if canon == pathFold(currentCanon) {
				continue // exclude current directory itself
			}
			if !exists(g.path) {
				continue // stale entry
			}
			if opts.EnableDotDirFilter && isBlocked(name, blocklist) {
				typedMatchesBlocked := wordToComplete != "" && strings.HasPrefix(strings.ToLower(name), strings.ToLower(wordToComplete))
				if !typedMatchesBlocked {
					continue
				}
			}
		} else if isAbsoluteQuery {
			continue // exclude .. and ~ when typing an absolute path
		}

		qm, fuzzyVal := classifyMatch(wordToComplete, g.path, name, opts.FuzzyMinMatchPct)
		if wordToComplete != "" && g.source != SourceWellKnown && qm == matchNone {
			continue
		}

		score := computeScore(g.source, g.wellKnownScore, qm, fuzzyVal, g.usage, g.lastUsed, now, currentCanon, canon, opts)
		source := g.source
		if qm == matchFuzzy && source != SourceWellKnown {
			source = SourceFuzzy
		}

		out = append(out, Suggestion{
			DisplayPath: canon,
			ShortPath:   displayPath(currentDir, canon),
			Score:       score,
			Source:      source,
			UsageCount:  g.usage,
			LastUsed:    g.lastUsed,
			Tooltip:     canon,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DisplayPath < out[j].DisplayPath
	})

	if opts.MaxResults > 0 && len(out) > opts.MaxResults {
		out = out[:opts.MaxResults]
	}
	return out
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func classifyMatch(query, fullPath, name string, minLCSRatio float64) (queryMatch, float64) {
	if query == "" {
		return matchSubstring, 0
	}
	q := strings.ToLower(query)
	if q == strings.ToLower(fullPath) || q == strings.ToLower(name) {
		return matchExact, 1
	}
	if strings.HasPrefix(strings.ToLower(name), q) {
		return matchPrefix, 1
	}
	if strings.Contains(strings.ToLower(name), q) {
		return matchSubstring, 1
	}
	if f := fuzzyScore(query, name, minLCSRatio); f > 0 {
		return matchFuzzy, f
	}
	return matchNone, 0
}

func computeScore(source SourceType, wellKnownScore float64, qm queryMatch, fuzzyVal float64, usage int, lastUsed, now time.Time, currentCanon, candidateCanon string, opts Options) float64 {
	if source == SourceWellKnown {
		return wellKnownScore
	}

	var matchBase float64
	switch qm {
	case matchExact:
		matchBase = 10 * opts.ExactMatchBoost
	case matchPrefix:
		matchBase = 30
	case matchSubstring:
		matchBase = 15
	case matchFuzzy:
		matchBase = 5 * fuzzyVal
	}

	frequency := 0.0
	recency := 0.0
	if usage > 0 {
		frequency = math.Min(1.0, float64(usage)/10.0)
		deltaDays := now.Sub(lastUsed).Hours() / 24
		recency = math.Exp(-deltaDays / opts.DecayDays)
	}

	distance := distanceScore(currentCanon, candidateCanon)

	frecency := opts.FrequencyWeight*frequency + opts.RecencyWeight*recency
	score := matchBase + frecency*20 + distance*opts.DistanceWeight*20

	return score
}

// distanceScore reflects graph distance between current and candidate:
// parent/child => high, sibling => medium, unrelated => low. The same
// directory is excluded by the caller before this is ever evaluated.
func distanceScore(currentCanon, candidateCanon string) float64 {
	cur := strings.TrimSuffix(currentCanon, string(filepath.Separator))
	cand := strings.TrimSuffix(candidateCanon, string(filepath.Separator))

	if strings.HasPrefix(cand, cur+string(filepath.Separator)) {
		return 1.0 // child
	}
	if strings.HasPrefix(cur, cand+string(filepath.Separator)) {
		return 0.9 // parent (or ancestor)
	}
	curParent := filepath.Dir(cur)
	candParent := filepath.Dir(cand)
	if curParent == candParent {
		return 0.6 // sibling
	}
	return 0.2 // unrelated
}

// displayPath computes the short display form: children strip the
// currentDir prefix, the exact parent becomes "..", siblings keep
// "../name", everything else stays absolute. Always trailing-separated.
func displayPath(currentDir, candidateCanon string) string {
	curCanon := canonicalize(currentDir)
	curTrimmed := strings.TrimSuffix(curCanon, string(filepath.Separator))
	candTrimmed := strings.TrimSuffix(candidateCanon, string(filepath.Separator))

	if candTrimmed == filepath.Dir(curTrimmed) {
		return ".." + string(filepath.Separator)
	}
	if strings.HasPrefix(candTrimmed, curTrimmed+string(filepath.Separator)) {
		rel := strings.TrimPrefix(candTrimmed, curTrimmed+string(filepath.Separator))
		rel = strings.TrimPrefix(rel, "."+string(filepath.Separator))
		return rel + string(filepath.Separator)
	}
	if filepath.Dir(candTrimmed) == filepath.Dir(curTrimmed) {
		return filepath.Join("..", filepath.Base(candTrimmed)) + string(filepath.Separator)
	}
	return candidateCanon
}

// probe walks root (and, if recursive, its subdirectories up to maxDepth)
// collecting directory paths. Access-denied and I/O errors are swallowed
// per-directory; never retried. Multiple roots (when recursing) are probed
// concurrently via errgroup.
func probe(ctx context.Context, root string, recursive bool, maxDepth int) []string {
	var out []string
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var subdirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		full := filepath.Join(root, entry.Name())
		out = append(out, full)
		subdirs = append(subdirs, full)
	}

	if !recursive || maxDepth <= 0 || len(subdirs) == 0 {
		return out
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make([][]string, len(subdirs))
	for i, dir := range subdirs {
		i, dir := i, dir
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			default:
			}
			results[i] = probe(gctx, dir, recursive, maxDepth-1)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		out = append(out, r...)
	}
	return out
}
