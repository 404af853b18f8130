// Package ctxanalyzer derives short-lived "context" signals from recent
// command history: which commands were just run, which pairs of commands
// were just observed in sequence, and which commands plausibly come next,
// driven by a small opaque rule table (the only domain-specific data this
// core carries).
package ctxanalyzer

import (
	"strings"
)

// recentWindow is the number of recent history entries considered (k=10 per
// the spec).
const recentWindow = 10

// Pair is an observed (previous, current) command transition within the
// recent window.
type Pair struct {
	Prev string
	Curr string
}

// Context is the full set of signals derived for one query.
type Context struct {
	RecentCommands      []string
	DetectedSequences   []Pair
	SuggestedNextCmds    []string
	ContextBoosts        map[string]float64
}

// Rule maps an observed recent-command pattern to a set of plausible next
// commands. Matching is a simple case-insensitive substring test against the
// most recent command.
type Rule struct {
	Pattern      string
	NextCommands []string
}

// DefaultRules is the built-in rule table. It is intentionally small and
// opaque to the rest of the core: nothing outside this package inspects its
// contents.
var DefaultRules = []Rule{
	{Pattern: "add", NextCommands: []string{"commit", "push"}},
	{Pattern: "build", NextCommands: []string{"run", "test"}},
	{Pattern: "apply", NextCommands: []string{"get", "describe"}},
	{Pattern: "commit", NextCommands: []string{"push"}},
	{Pattern: "clone", NextCommands: []string{"cd", "checkout"}},
	{Pattern: "install", NextCommands: []string{"update", "list"}},
	{Pattern: "init", NextCommands: []string{"add", "status"}},
}

// Analyzer derives context from recent history using a fixed rule table.
type Analyzer struct {
	rules []Rule
}

// New constructs an Analyzer with the given rules (DefaultRules if nil).
func New(rules []Rule) *Analyzer {
	if rules == nil {
		rules = DefaultRules
	}
	return &Analyzer{rules: rules}
}

// Analyze derives a Context from the most recent commands (oldest first)
// and the command prefix currently under the cursor.
func (a *Analyzer) Analyze(recentCommandsOldestFirst []string, prefix string) Context {
	window := recentCommandsOldestFirst
	if len(window) > recentWindow {
		window = window[len(window)-recentWindow:]
	}

	ctx := Context{
		ContextBoosts: make(map[string]float64),
	}
	// RecentCommands is reported most-recent-first to match the rest of the
	// core's convention for "recent" listings.
	for i := len(window) - 1; i >= 0; i-- {
		ctx.RecentCommands = append(ctx.RecentCommands, window[i])
	}

	for i := 1; i < len(window); i++ {
		ctx.DetectedSequences = append(ctx.DetectedSequences, Pair{Prev: window[i-1], Curr: window[i]})
		ctx.ContextBoosts[strings.ToLower(window[i])] = ctx.ContextBoosts[strings.ToLower(window[i])] + 1.1
	}
	// The single most recent command always gets a baseline "just ran this"
	// boost, even with no pair to report.
	if len(window) > 0 {
		last := strings.ToLower(window[len(window)-1])
		if ctx.ContextBoosts[last] < 1.2 {
			ctx.ContextBoosts[last] = 1.2
		}
	}

	var last string
	if len(window) > 0 {
		last = strings.ToLower(window[len(window)-1])
	}
	prefixLower := strings.ToLower(prefix)

	seen := make(map[string]bool)
	for _, r := range a.rules {
		matched := false
		if last != "" && strings.Contains(last, r.Pattern) {
			matched = true
		}
		if prefixLower != "" && strings.Contains(prefixLower, r.Pattern) {
			matched = true
			for _, n := range r.NextCommands {
				key := strings.ToLower(n)
				ctx.ContextBoosts[key] = ctx.ContextBoosts[key] + 1.5
			}
		}
		if !matched {
			continue
		}
		for _, n := range r.NextCommands {
			if seen[n] {
				continue
			}
			seen[n] = true
			ctx.SuggestedNextCmds = append(ctx.SuggestedNextCmds, n)
		}
	}

	return ctx
}
