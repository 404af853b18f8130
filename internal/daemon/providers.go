package daemon

import (
	"context"
	"strings"

	"pscue/internal/graph"
	"pscue/internal/pcd"
	"pscue/internal/provider"
)

// graphProvider answers completion requests from the argument graph's
// learned per-command argument statistics.
type graphProvider struct {
	g *graph.ArgumentGraph
}

func (p *graphProvider) Provide(ctx context.Context, command, commandLine, wordToComplete string, flags provider.Flags) ([]provider.Item, error) {
	typed := splitAlreadyTyped(commandLine, command)
	suggestions := p.g.GetSuggestions(command, typed, 50)

	out := make([]provider.Item, 0, len(suggestions))
	for _, s := range suggestions {
		score := s.Score
		out = append(out, provider.Item{Text: s.Text, Score: &score})
	}
	return out, nil
}

// splitAlreadyTyped returns the whitespace-separated arguments already
// present on commandLine after command, used to exclude them from
// suggestions.
func splitAlreadyTyped(commandLine, command string) []string {
	rest := commandLine
	if len(command) <= len(rest) && rest[:min(len(command), len(rest))] == command {
		rest = rest[len(command):]
	}
	var out []string
	var cur []rune
	for _, r := range rest {
		if r == ' ' || r == '\t' {
			if len(cur) > 0 {
				out = append(out, string(cur))
				cur = nil
			}
			continue
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}

// directoryProvider adapts the PCD engine into a Provider for cd-family
// commands, sourcing learned directories from the argument graph's
// cd-family argument usage. Carries two recursive-depth budgets: opts'
// MaxRecursiveDepth serves tab-completion requests (≤50ms budget),
// predictorMaxDepth overrides it for inline-prediction requests (≤20ms
// budget).
type directoryProvider struct {
	engine            *pcd.Engine
	g                 *graph.ArgumentGraph
	opts              pcd.Options
	predictorMaxDepth int
	cwd               func() string
}

func (p *directoryProvider) Provide(ctx context.Context, command, commandLine, wordToComplete string, flags provider.Flags) ([]provider.Item, error) {
	opts := p.effectiveOptions(flags)

	learned := p.learnedDirs(command)
	currentDir := ""
	if p.cwd != nil {
		currentDir = p.cwd()
	}

	suggestions := p.engine.Suggest(ctx, wordToComplete, currentDir, learned, opts)
	out := make([]provider.Item, 0, len(suggestions))
	for _, s := range suggestions {
		score := s.Score
		out = append(out, provider.Item{Text: s.DisplayPath, Description: s.ShortPath, Score: &score})
	}
	return out, nil
}

// effectiveOptions picks this request's recursive-depth budget: the
// tab-completion depth by default, or predictorMaxDepth when flags marks
// the request as inline prediction, which runs under a tighter latency
// budget.
func (p *directoryProvider) effectiveOptions(flags provider.Flags) pcd.Options {
	opts := p.opts
	if flags.InlinePrediction {
		opts.MaxRecursiveDepth = p.predictorMaxDepth
	}
	if !flags.IncludeDynamicArguments {
		opts.EnableRecursiveSearch = false
	}
	return opts
}

// learnedDirs sources directory candidates from the argument graph's own
// per-argument usage stats, pooled across every alias in pcd.DirectoryFamily
// rather than just the literal command passed in: the graph keys usage by
// the literal command typed ("cd", "sl", "Set-Location", ...), so a
// directory learned via "sl ~/project" would otherwise be invisible when
// later completing "cd proj" (internal/graph has no knowledge of
// internal/pcd to avoid an import cycle, so this adapter bridges the two,
// merging by path and keeping the max LastUsed / summed UsageCount across
// aliases).
func (p *directoryProvider) learnedDirs(command string) []pcd.LearnedDir {
	snap := p.g.Snapshot()

	merged := make(map[string]pcd.LearnedDir)
	for alias := range pcd.DirectoryFamily {
		cs, ok := snap.Commands[strings.ToLower(alias)]
		if !ok {
			continue
		}
		for path, as := range cs.Arguments {
			if as.IsFlag {
				continue
			}
			d := merged[path]
			d.Path = path
			d.UsageCount += as.UsageCount
			if as.LastUsed.After(d.LastUsed) {
				d.LastUsed = as.LastUsed
			}
			merged[path] = d
		}
	}

	out := make([]pcd.LearnedDir, 0, len(merged))
	for _, d := range merged {
		out = append(out, d)
	}
	return out
}
