// Package daemon wires together every learner, the persistence manager,
// and the IPC server into one long-lived process, with periodic and
// on-shutdown save scheduling.
package daemon

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pscue/internal/cache"
	"pscue/internal/config"
	"pscue/internal/ctxanalyzer"
	"pscue/internal/graph"
	"pscue/internal/history"
	"pscue/internal/ingest"
	"pscue/internal/ipc"
	"pscue/internal/logging"
	"pscue/internal/parser"
	"pscue/internal/pcd"
	"pscue/internal/provider"
	"pscue/internal/sensitivity"
	"pscue/internal/sequence"
	"pscue/internal/store"
	"pscue/internal/workflow"
)

// Daemon owns one instance of every learner, the completion cache, the
// persistence manager, and the IPC server, plus the save-loop ticker tying
// them together.
type Daemon struct {
	cfg *config.Config

	// instanceID distinguishes this process's log lines across restarts
	// when DataDir's logs are tailed across multiple runs.
	instanceID string

	filter    *sensitivity.Filter
	graph     *graph.ArgumentGraph
	history   *history.History
	sequence  *sequence.Predictor
	workflow  *workflow.Learner
	ctx       *ctxanalyzer.Analyzer
	pcdEngine *pcd.Engine
	cache     *cache.Cache
	ingestor  *ingest.Coordinator

	store *store.Store
	ipc   *ipc.Server

	saveTicker *time.Ticker
	stopSave   chan struct{}
	saveWG     sync.WaitGroup
}

// New constructs a Daemon from cfg. Does not start anything yet; call
// Start.
func New(cfg *config.Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	if err := logging.Initialize(cfg.DataDir, cfg.Logging.Debug, cfg.Logging.Level, cfg.Logging.Format == "json"); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	st, err := store.Open(cfg.StorePath(), store.Config{
		BusyTimeout:     cfg.Store.BusyTimeout,
		MaxRetryBackoff: cfg.Store.MaxRetryBackoff,
		HistoryKeepLast: cfg.Store.HistoryKeepLast,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	g := graph.New(graph.Config{
		MaxCommands:          cfg.Graph.MaxCommands,
		MaxArgumentsPerCmd:   cfg.Graph.MaxArgumentsPerCmd,
		MaxParamValuesPerArg: cfg.Graph.MaxParamValuesPerArg,
		FrequencyWeight:      0.5,
		RecencyWeight:        0.5,
		DecayDays:            14,
	})
	if snap, err := st.LoadGraph(); err != nil {
		logging.Get(logging.CategoryBoot).Warn("graph load failed, starting empty: %v", err)
	} else {
		g.LoadSnapshot(snap)
	}

	h := history.New(cfg.History.MaxSize)
	if entries, err := st.LoadHistory(); err != nil {
		logging.Get(logging.CategoryBoot).Warn("history load failed, starting empty: %v", err)
	} else {
		h.LoadSnapshot(entries)
	}

	seqCfg := sequence.DefaultConfig()
	seqCfg.MinFrequency = cfg.Sequence.MinFrequency
	seqCfg.RecencyBonusWeight = cfg.Sequence.RecencyBonus
	seq := sequence.New(seqCfg)
	if stored, err := st.LoadSequences(); err != nil {
		logging.Get(logging.CategoryBoot).Warn("sequence load failed, starting empty: %v", err)
	} else {
		seq.Initialize(stored)
	}

	wfCfg := workflow.DefaultConfig()
	wfCfg.MaxTransitionsPerSource = cfg.Workflow.MaxTransitionsPerSource
	wfCfg.MaxDelta = cfg.Workflow.MaxDelta
	wf := workflow.New(wfCfg)
	if stored, err := st.LoadWorkflows(); err != nil {
		logging.Get(logging.CategoryBoot).Warn("workflow load failed, starting empty: %v", err)
	} else {
		wf.LoadSnapshot(stored)
	}

	filter := sensitivity.New()
	if err := filter.LoadIgnoreGlobs(cfg.IgnoreGlobsPath()); err != nil {
		logging.Get(logging.CategoryBoot).Warn("ignore-glob load failed: %v", err)
	}
	if cfg.Sensitivity.HotReload {
		if err := filter.WatchIgnoreGlobs(cfg.IgnoreGlobsPath()); err != nil {
			logging.Get(logging.CategoryBoot).Warn("ignore-glob watch failed: %v", err)
		}
	}

	reg := parser.NewRegistry()
	ctxAnalyzer := ctxanalyzer.New(ctxanalyzer.DefaultRules)
	engine := pcd.New()
	c := cache.New(cfg.Cache.Capacity)

	seqOrder := seqCfg.Order
	coordinator := ingest.New(reg, filter, g, h, seq, wf, seqOrder)

	d := &Daemon{
		cfg:        cfg,
		instanceID: uuid.New().String(),
		filter:     filter,
		graph:      g,
		history:    h,
		sequence:   seq,
		workflow:   wf,
		ctx:        ctxAnalyzer,
		pcdEngine:  engine,
		cache:      c,
		ingestor:   coordinator,
		store:      st,
	}
	return d, nil
}

// Start brings up the IPC listener and the periodic save loop.
func (d *Daemon) Start() error {
	listener, err := listen(d.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.cfg.SocketPath, err)
	}

	gp := &graphProvider{g: d.graph}
	dp := &directoryProvider{
		engine:            d.pcdEngine,
		g:                 d.graph,
		opts:              pcdOptionsFromConfig(d.cfg),
		predictorMaxDepth: d.cfg.PCD.PredictorMaxDepth,
		cwd:               func() string { wd, _ := os.Getwd(); return wd },
	}
	reg := provider.NewRegistry(gp)
	for name := range pcd.DirectoryFamily {
		reg.Register(name, dp)
	}

	d.ipc = ipc.New(listener, ipc.Config{MaxConcurrentConnections: d.cfg.IPC.MaxConcurrentConnections}, d.cache, reg, d.Stats)
	go d.ipc.Serve()

	d.stopSave = make(chan struct{})
	d.saveTicker = time.NewTicker(d.cfg.Store.SaveInterval)
	d.saveWG.Add(1)
	go d.saveLoop()

	logging.Get(logging.CategoryBoot).Info("daemon %s started, listening on %s", d.instanceID, d.cfg.SocketPath)
	return nil
}

func pcdOptionsFromConfig(cfg *config.Config) pcd.Options {
	return pcd.Options{
		MaxResults:            50,
		MaxRecursiveDepth:     cfg.PCD.MaxDepth,
		EnableRecursiveSearch: cfg.PCD.RecursiveSearch,
		EnableDotDirFilter:    cfg.PCD.EnableDotDirFilter,
		CustomBlocklist:       cfg.PCD.CustomBlocklist,
		FrequencyWeight:       cfg.PCD.FrequencyWeight,
		RecencyWeight:         cfg.PCD.RecencyWeight,
		DistanceWeight:        cfg.PCD.DistanceWeight,
		ExactMatchBoost:       cfg.PCD.ExactMatchBoost,
		FuzzyMinMatchPct:      0.6,
		DecayDays:             14,
	}
}

func listen(socketPath string) (net.Listener, error) {
	os.Remove(socketPath)
	return net.Listen("unix", socketPath)
}

// Ingest records one completed shell invocation. On success, it also
// invalidates the completion cache's entries for the invoked command so a
// newly learned argument is reflected on the next request instead of
// being shadowed by a stale cached result set.
func (d *Daemon) Ingest(commandLine string, success bool, workingDir string) {
	d.ingestor.Ingest(commandLine, success, workingDir)
	if !success {
		return
	}
	if fields := strings.Fields(commandLine); len(fields) > 0 {
		d.cache.InvalidateCommand(fields[0])
	}
}

// AnalyzeContext derives recent-command context (detected sequences,
// suggested next commands, score boosts) from the most recent accepted
// history entries, for shell plugins that want to rank command-name
// completions rather than argument completions of a known command.
func (d *Daemon) AnalyzeContext(prefix string) ctxanalyzer.Context {
	recent := d.history.GetRecent(10)
	lines := make([]string, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		lines = append(lines, recent[i].Line)
	}
	return d.ctx.Analyze(lines, prefix)
}

func (d *Daemon) saveLoop() {
	defer d.saveWG.Done()
	for {
		select {
		case <-d.saveTicker.C:
			d.saveAll()
		case <-d.stopSave:
			return
		}
	}
}

func (d *Daemon) saveAll() {
	timer := logging.StartTimer(logging.CategoryStore, "saveAll")
	defer timer.Stop()

	if err := d.store.SaveGraph(d.graph.GetDelta()); err != nil {
		logging.Get(logging.CategoryStore).Warn("graph save failed: %v", err)
	} else {
		d.graph.ClearDelta()
	}

	if err := d.store.SaveHistory(d.history.Snapshot()); err != nil {
		logging.Get(logging.CategoryStore).Warn("history save failed: %v", err)
	}

	if err := d.store.SaveSequenceDelta(d.sequence.GetDelta()); err != nil {
		logging.Get(logging.CategoryStore).Warn("sequence save failed: %v", err)
	} else {
		d.sequence.ClearDelta()
	}

	if err := d.store.SaveWorkflowDelta(d.workflow.GetDelta()); err != nil {
		logging.Get(logging.CategoryStore).Warn("workflow save failed: %v", err)
	} else {
		d.workflow.ClearDelta()
	}
}

// Stats returns aggregate counters across every learner, for the IPC
// server's "stats" debug request.
func (d *Daemon) Stats() map[string]interface{} {
	return map[string]interface{}{
		"instance_id": d.instanceID,
		"graph":       d.graph.GetStatistics(),
		"history":     d.history.GetStatistics(),
		"cache_len":   d.cache.Len(),
	}
}

// Shutdown stops the save loop (saving once more first), disposes the IPC
// server, and closes the sensitivity watcher and store.
func (d *Daemon) Shutdown() error {
	logging.Get(logging.CategoryBoot).Info("daemon shutting down")

	if d.saveTicker != nil {
		d.saveTicker.Stop()
		close(d.stopSave)
		d.saveWG.Wait()
	}
	d.saveAll()

	if d.ipc != nil {
		if err := d.ipc.Dispose(); err != nil {
			logging.Get(logging.CategoryBoot).Warn("ipc dispose error: %v", err)
		}
	}
	if err := d.filter.Close(); err != nil {
		logging.Get(logging.CategoryBoot).Warn("sensitivity filter close error: %v", err)
	}

	err := d.store.Close()
	logging.CloseAll()
	return err
}
