// Package ingest orchestrates what happens to one completed shell command:
// parse, filter for sensitivity, then fan out into history and (on success
// only) the argument graph, sequence predictor, and workflow learner.
package ingest

import (
	"sync"
	"time"

	"pscue/internal/graph"
	"pscue/internal/history"
	"pscue/internal/logging"
	"pscue/internal/parser"
	"pscue/internal/sensitivity"
	"pscue/internal/sequence"
	"pscue/internal/workflow"
)

// Coordinator wires together every capability a completed command needs to
// be learned from. Holds explicit handles, no package-level globals, so it
// can be constructed once by internal/daemon and exercised in isolation by
// tests.
type Coordinator struct {
	reg       *parser.Registry
	filter    *sensitivity.Filter
	graph     *graph.ArgumentGraph
	history   *history.History
	sequence  *sequence.Predictor
	workflow  *workflow.Learner
	seqOrder  int

	mu           sync.Mutex
	lastAccepted string
	lastAt       time.Time
	haveLast     bool

	// recentWindow buffers normalized command names for the sequence
	// predictor's sliding window across successive accepted invocations.
	recentWindow []string
}

// New constructs a Coordinator over the given capabilities. reg may be nil.
func New(
	reg *parser.Registry,
	filter *sensitivity.Filter,
	g *graph.ArgumentGraph,
	h *history.History,
	seq *sequence.Predictor,
	wf *workflow.Learner,
	seqOrder int,
) *Coordinator {
	if seqOrder <= 0 {
		seqOrder = 3
	}
	return &Coordinator{
		reg:      reg,
		filter:   filter,
		graph:    g,
		history:  h,
		sequence: seq,
		workflow: wf,
		seqOrder: seqOrder,
	}
}

// Ingest records one completed invocation. commandLine is the raw line as
// typed; success reflects the shell's reported exit status; workingDir is
// the directory the command ran in.
func (c *Coordinator) Ingest(commandLine string, success bool, workingDir string) {
	timer := logging.StartTimer(logging.CategoryIngest, "Ingest")
	defer timer.Stop()

	if c.filter != nil && c.filter.Reject(commandLine) {
		logging.Get(logging.CategoryIngest).Debug("dropped by sensitivity filter")
		return
	}

	parsed := parser.Parse(commandLine, c.reg)
	if parsed.Command == "" {
		return
	}

	now := time.Now().UTC()

	if c.history != nil {
		c.history.Add(history.Entry{
			Command:    parsed.Command,
			Line:       commandLine,
			Args:       parsed.Args(),
			Success:    success,
			Timestamp:  now,
			WorkingDir: workingDir,
		})
	}

	if !success {
		// Hard invariant: the argument graph must never learn from a failed
		// invocation.
		return
	}

	if c.graph != nil {
		c.graph.RecordParsedUsage(parsed, workingDir)
	}

	c.recordSequence(parsed.Command)
	c.recordWorkflow(parsed.Command, now)
}

// recordSequence feeds the normalized command into the sliding window the
// N-gram predictor needs.
func (c *Coordinator) recordSequence(command string) {
	if c.sequence == nil {
		return
	}
	c.mu.Lock()
	c.recentWindow = append(c.recentWindow, command)
	if len(c.recentWindow) > c.seqOrder {
		c.recentWindow = c.recentWindow[len(c.recentWindow)-c.seqOrder:]
	}
	window := append([]string(nil), c.recentWindow...)
	c.mu.Unlock()

	c.sequence.RecordSequence(window)
}

// recordWorkflow records a transition from the previous accepted invocation
// to this one, with the elapsed wall-clock time between them.
func (c *Coordinator) recordWorkflow(command string, now time.Time) {
	if c.workflow == nil {
		return
	}

	c.mu.Lock()
	prev := c.lastAccepted
	prevAt := c.lastAt
	hadPrev := c.haveLast
	c.lastAccepted = command
	c.lastAt = now
	c.haveLast = true
	c.mu.Unlock()

	if !hadPrev {
		return
	}
	c.workflow.RecordTransition(prev, command, now.Sub(prevAt))
}
