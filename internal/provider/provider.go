// Package provider defines the small interface the IPC server uses to
// obtain raw completion candidates for a command family, kept separate from
// any single implementation so the directory engine, the argument graph,
// and any future command-specific provider can all be registered against
// it without an import cycle back into internal/ipc.
package provider

import "context"

// Flags carries per-request hints from the shell plugin to a Provider.
type Flags struct {
	// IncludeDynamicArguments asks the provider to also compute candidates
	// that require filesystem or other runtime probing, not just
	// previously learned ones.
	IncludeDynamicArguments bool

	// InlinePrediction marks a request as inline prediction (tight ≤20ms
	// budget) rather than tab-completion (≤50ms budget), so a Provider
	// that does recursive filesystem probing can shrink its depth instead
	// of applying the same budget to both request kinds.
	InlinePrediction bool
}

// Item is one raw completion candidate, unfiltered by the current partial
// word (filtering is the IPC server's job, so results stay cacheable).
type Item struct {
	Text        string
	Description string
	Score       *float64
}

// Provider supplies completion candidates for one command family.
type Provider interface {
	// Provide returns candidates for command's invocation with the given
	// full command line under commandLine and the in-progress word
	// wordToComplete. Implementations must return the UNFILTERED set of
	// candidates; the caller applies prefix filtering.
	Provide(ctx context.Context, command, commandLine, wordToComplete string, flags Flags) ([]Item, error)
}

// Registry resolves a command name to the Provider registered for its
// family. Unregistered commands return (nil, false).
type Registry struct {
	families map[string]Provider
	fallback Provider
}

// NewRegistry constructs an empty Registry with an optional fallback used
// when no family-specific Provider is registered for a command.
func NewRegistry(fallback Provider) *Registry {
	return &Registry{families: make(map[string]Provider), fallback: fallback}
}

// Register associates commandOrFamily with p. Multiple names may map to the
// same Provider (e.g. "cd", "sl", "chdir" all map to the directory engine).
func (r *Registry) Register(commandOrFamily string, p Provider) {
	r.families[commandOrFamily] = p
}

// Resolve returns the Provider for command, falling back to the registry's
// default provider when none is registered.
func (r *Registry) Resolve(command string) (Provider, bool) {
	if p, ok := r.families[command]; ok {
		return p, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}
