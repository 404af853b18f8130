// Package store is the embedded SQL persistence manager: additive-merge
// saves for learned knowledge (argument graph, sequences, workflows),
// replace-keep-last-N for history, and cross-process write safety via WAL
// journaling, a busy timeout, and exponential-backoff retries.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pscue/internal/errs"
	"pscue/internal/graph"
	"pscue/internal/history"
	"pscue/internal/logging"
	"pscue/internal/sequence"
	"pscue/internal/workflow"
)

// Config controls cross-process write safety and history retention.
type Config struct {
	BusyTimeout     time.Duration
	MaxRetryBackoff time.Duration
	HistoryKeepLast int
}

// DefaultConfig matches the spec's "~5s busy timeout, ~1s max retry
// backoff" defaults.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:     5 * time.Second,
		MaxRetryBackoff: time.Second,
		HistoryKeepLast: 1000,
	}
}

// Store owns the single writable SQLite connection for learned state and
// history.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	cfg    Config
	closed bool
}

// Open opens (creating if necessary) the SQLite database at path, enables
// WAL journaling and the configured busy timeout, and ensures the schema
// exists.
func Open(path string, cfg Config) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, cfg: cfg}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", errs.ErrPersistenceCorruption, err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS commands (
			command TEXT PRIMARY KEY,
			total_usage INTEGER NOT NULL DEFAULT 0,
			first_seen INTEGER NOT NULL,
			last_used INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS arguments (
			command TEXT NOT NULL,
			argument TEXT NOT NULL,
			usage_count INTEGER NOT NULL DEFAULT 0,
			first_seen INTEGER NOT NULL,
			last_used INTEGER NOT NULL,
			is_flag INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (command, argument)
		)`,
		`CREATE TABLE IF NOT EXISTS cooccurrences (
			command TEXT NOT NULL,
			arg_a TEXT NOT NULL,
			arg_b TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (command, arg_a, arg_b)
		)`,
		`CREATE TABLE IF NOT EXISTS flag_combinations (
			command TEXT NOT NULL,
			combo TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (command, combo)
		)`,
		`CREATE TABLE IF NOT EXISTS parameter_values (
			command TEXT NOT NULL,
			parameter TEXT NOT NULL,
			value TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (command, parameter, value)
		)`,
		`CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			command TEXT NOT NULL,
			command_line TEXT NOT NULL,
			args_json TEXT NOT NULL,
			success INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			working_dir TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS sequences (
			prev TEXT NOT NULL,
			next TEXT NOT NULL,
			frequency INTEGER NOT NULL DEFAULT 0,
			last_seen INTEGER NOT NULL,
			PRIMARY KEY (prev, next)
		)`,
		`CREATE TABLE IF NOT EXISTS workflows (
			prev TEXT NOT NULL,
			next TEXT NOT NULL,
			frequency INTEGER NOT NULL DEFAULT 0,
			total_dt_ms INTEGER NOT NULL DEFAULT 0,
			first_seen INTEGER NOT NULL,
			last_seen INTEGER NOT NULL,
			PRIMARY KEY (prev, next)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// withRetry runs fn inside a transaction, retrying with exponential backoff
// up to cfg.MaxRetryBackoff total wait on SQLITE_BUSY-equivalent failures.
func (s *Store) withRetry(fn func(tx *sql.Tx) error) error {
	var lastErr error
	backoff := 5 * time.Millisecond
	deadline := time.Now().Add(s.cfg.MaxRetryBackoff)

	for {
		err := s.attemptTx(fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isBusyErr(err) || time.Now().After(deadline) {
			break
		}
		time.Sleep(backoff)
		backoff = time.Duration(math.Min(float64(backoff*2), float64(100*time.Millisecond)))
	}
	logging.Get(logging.CategoryStore).Warn("save skipped after retries exhausted: %v", lastErr)
	return fmt.Errorf("%w: %v", errs.ErrPersistenceBusy, lastErr)
}

func (s *Store) attemptTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isBusyErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "busy")
}

// SaveGraph additively merges a delta snapshot (from graph.ArgumentGraph's
// GetDelta, NOT its cumulative Snapshot) into the stored argument graph:
// counts sum, timestamps take the max, co-occurrences and flag combinations
// union by summing. Passing a cumulative Snapshot here would double-count
// on every save cycle.
func (s *Store) SaveGraph(snap graph.Snapshot) error {
	timer := logging.StartTimer(logging.CategoryStore, "SaveGraph")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry(func(tx *sql.Tx) error {
		for cmdKey, cs := range snap.Commands {
			if err := upsertCommand(tx, cmdKey, cs); err != nil {
				return err
			}
			for argKey, as := range cs.Arguments {
				if err := upsertArgument(tx, cmdKey, argKey, as); err != nil {
					return err
				}
				for peer, count := range as.Cooccurrence {
					if err := upsertCooccurrence(tx, cmdKey, argKey, peer, count); err != nil {
						return err
					}
				}
				for value, count := range as.ParameterValues {
					if err := upsertParameterValue(tx, cmdKey, argKey, value, count); err != nil {
						return err
					}
				}
			}
			for combo, count := range cs.FlagCombinations {
				if err := upsertFlagCombination(tx, cmdKey, combo, count); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func upsertCommand(tx *sql.Tx, key string, cs graph.CommandSnapshot) error {
	_, err := tx.Exec(`
		INSERT INTO commands (command, total_usage, first_seen, last_used)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(command) DO UPDATE SET
			total_usage = total_usage + excluded.total_usage,
			first_seen = MIN(first_seen, excluded.first_seen),
			last_used = MAX(last_used, excluded.last_used)
	`, key, cs.TotalUsage, cs.FirstSeen.Unix(), cs.LastUsed.Unix())
	return err
}

func upsertArgument(tx *sql.Tx, cmdKey, argKey string, as graph.ArgumentSnapshot) error {
	isFlag := 0
	if as.IsFlag {
		isFlag = 1
	}
	_, err := tx.Exec(`
		INSERT INTO arguments (command, argument, usage_count, first_seen, last_used, is_flag)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(command, argument) DO UPDATE SET
			usage_count = usage_count + excluded.usage_count,
			first_seen = MIN(first_seen, excluded.first_seen),
			last_used = MAX(last_used, excluded.last_used),
			is_flag = excluded.is_flag
	`, cmdKey, argKey, as.UsageCount, as.FirstSeen.Unix(), as.LastUsed.Unix(), isFlag)
	return err
}

func upsertCooccurrence(tx *sql.Tx, cmdKey, a, b string, count int) error {
	_, err := tx.Exec(`
		INSERT INTO cooccurrences (command, arg_a, arg_b, count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(command, arg_a, arg_b) DO UPDATE SET count = count + excluded.count
	`, cmdKey, a, b, count)
	return err
}

func upsertFlagCombination(tx *sql.Tx, cmdKey, combo string, count int) error {
	_, err := tx.Exec(`
		INSERT INTO flag_combinations (command, combo, count)
		VALUES (?, ?, ?)
		ON CONFLICT(command, combo) DO UPDATE SET count = count + excluded.count
	`, cmdKey, combo, count)
	return err
}

func upsertParameterValue(tx *sql.Tx, cmdKey, param, value string, count int) error {
	_, err := tx.Exec(`
		INSERT INTO parameter_values (command, parameter, value, count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(command, parameter, value) DO UPDATE SET count = count + excluded.count
	`, cmdKey, param, value, count)
	return err
}

// LoadGraph reconstructs a graph.Snapshot from storage. An empty database
// yields an empty (never nil-map) snapshot.
func (s *Store) LoadGraph() (graph.Snapshot, error) {
	timer := logging.StartTimer(logging.CategoryStore, "LoadGraph")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := graph.Snapshot{Commands: make(map[string]graph.CommandSnapshot)}

	rows, err := s.db.Query(`SELECT command, total_usage, first_seen, last_used FROM commands`)
	if err != nil {
		return snap, err
	}
	defer rows.Close()
	for rows.Next() {
		var cmd string
		var total int
		var firstSeen, lastUsed int64
		if err := rows.Scan(&cmd, &total, &firstSeen, &lastUsed); err != nil {
			return snap, err
		}
		snap.Commands[cmd] = graph.CommandSnapshot{
			TotalUsage:       total,
			FirstSeen:        time.Unix(firstSeen, 0).UTC(),
			LastUsed:         time.Unix(lastUsed, 0).UTC(),
			Arguments:        make(map[string]graph.ArgumentSnapshot),
			FlagCombinations: make(map[string]int),
		}
	}

	if err := s.loadArguments(snap); err != nil {
		return snap, err
	}
	if err := s.loadCooccurrences(snap); err != nil {
		return snap, err
	}
	if err := s.loadParameterValues(snap); err != nil {
		return snap, err
	}
	if err := s.loadFlagCombinations(snap); err != nil {
		return snap, err
	}
	return snap, nil
}

func (s *Store) loadArguments(snap graph.Snapshot) error {
	rows, err := s.db.Query(`SELECT command, argument, usage_count, first_seen, last_used, is_flag FROM arguments`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var cmd, arg string
		var usage int
		var firstSeen, lastUsed int64
		var isFlagInt int
		if err := rows.Scan(&cmd, &arg, &usage, &firstSeen, &lastUsed, &isFlagInt); err != nil {
			return err
		}
		cs, ok := snap.Commands[cmd]
		if !ok {
			continue
		}
		cs.Arguments[arg] = graph.ArgumentSnapshot{
			UsageCount:      usage,
			FirstSeen:       time.Unix(firstSeen, 0).UTC(),
			LastUsed:        time.Unix(lastUsed, 0).UTC(),
			IsFlag:          isFlagInt != 0,
			Cooccurrence:    make(map[string]int),
			ParameterValues: make(map[string]int),
		}
	}
	return nil
}

func (s *Store) loadCooccurrences(snap graph.Snapshot) error {
	rows, err := s.db.Query(`SELECT command, arg_a, arg_b, count FROM cooccurrences`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var cmd, a, b string
		var count int
		if err := rows.Scan(&cmd, &a, &b, &count); err != nil {
			return err
		}
		if cs, ok := snap.Commands[cmd]; ok {
			if as, ok := cs.Arguments[a]; ok {
				as.Cooccurrence[b] = count
			}
		}
	}
	return nil
}

func (s *Store) loadParameterValues(snap graph.Snapshot) error {
	rows, err := s.db.Query(`SELECT command, parameter, value, count FROM parameter_values`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var cmd, param, value string
		var count int
		if err := rows.Scan(&cmd, &param, &value, &count); err != nil {
			return err
		}
		if cs, ok := snap.Commands[cmd]; ok {
			if as, ok := cs.Arguments[param]; ok {
				as.ParameterValues[value] = count
			}
		}
	}
	return nil
}

func (s *Store) loadFlagCombinations(snap graph.Snapshot) error {
	rows, err := s.db.Query(`SELECT command, combo, count FROM flag_combinations`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var cmd, combo string
		var count int
		if err := rows.Scan(&cmd, &combo, &count); err != nil {
			return err
		}
		if cs, ok := snap.Commands[cmd]; ok {
			cs.FlagCombinations[combo] = count
		}
	}
	return nil
}

// SaveHistory replaces stored history with entries, keeping only the most
// recent cfg.HistoryKeepLast rows.
func (s *Store) SaveHistory(entries []history.Entry) error {
	timer := logging.StartTimer(logging.CategoryStore, "SaveHistory")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	keep := entries
	if s.cfg.HistoryKeepLast > 0 && len(keep) > s.cfg.HistoryKeepLast {
		keep = keep[len(keep)-s.cfg.HistoryKeepLast:]
	}

	return s.withRetry(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM history`); err != nil {
			return err
		}
		for _, e := range keep {
			argsJSON, err := json.Marshal(e.Args)
			if err != nil {
				return err
			}
			success := 0
			if e.Success {
				success = 1
			}
			if _, err := tx.Exec(`
				INSERT INTO history (command, command_line, args_json, success, ts, working_dir)
				VALUES (?, ?, ?, ?, ?, ?)
			`, e.Command, e.Line, string(argsJSON), success, e.Timestamp.Unix(), e.WorkingDir); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadHistory returns stored history entries, oldest first.
func (s *Store) LoadHistory() ([]history.Entry, error) {
	timer := logging.StartTimer(logging.CategoryStore, "LoadHistory")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT command, command_line, args_json, success, ts, working_dir FROM history ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []history.Entry
	for rows.Next() {
		var cmd, line, argsJSON, workingDir string
		var success int
		var ts int64
		if err := rows.Scan(&cmd, &line, &argsJSON, &success, &ts, &workingDir); err != nil {
			return nil, err
		}
		var args []string
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			args = nil
		}
		out = append(out, history.Entry{
			Command:    cmd,
			Line:       line,
			Args:       args,
			Success:    success != 0,
			Timestamp:  time.Unix(ts, 0).UTC(),
			WorkingDir: workingDir,
		})
	}
	return out, nil
}

// SaveSequenceDelta additively merges a sequence predictor's delta buffer
// into storage: frequency sums, last-seen takes the max.
func (s *Store) SaveSequenceDelta(delta map[string]map[string]sequence.Entry) error {
	timer := logging.StartTimer(logging.CategoryStore, "SaveSequenceDelta")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry(func(tx *sql.Tx) error {
		for prefix, nexts := range delta {
			for next, e := range nexts {
				if _, err := tx.Exec(`
					INSERT INTO sequences (prev, next, frequency, last_seen)
					VALUES (?, ?, ?, ?)
					ON CONFLICT(prev, next) DO UPDATE SET
						frequency = frequency + excluded.frequency,
						last_seen = MAX(last_seen, excluded.last_seen)
				`, prefix, next, e.Frequency, e.LastSeen.Unix()); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// LoadSequences reconstructs the full stored N-gram table.
func (s *Store) LoadSequences() (map[string]map[string]sequence.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]map[string]sequence.Entry)
	rows, err := s.db.Query(`SELECT prev, next, frequency, last_seen FROM sequences`)
	if err != nil {
		return out, err
	}
	defer rows.Close()
	for rows.Next() {
		var prev, next string
		var freq int
		var lastSeen int64
		if err := rows.Scan(&prev, &next, &freq, &lastSeen); err != nil {
			return out, err
		}
		if _, ok := out[prev]; !ok {
			out[prev] = make(map[string]sequence.Entry)
		}
		out[prev][next] = sequence.Entry{Frequency: freq, LastSeen: time.Unix(lastSeen, 0).UTC()}
	}
	return out, nil
}

// SaveWorkflowDelta additively merges a workflow learner's delta buffer into
// storage.
func (s *Store) SaveWorkflowDelta(delta map[string]map[string]workflow.Transition) error {
	timer := logging.StartTimer(logging.CategoryStore, "SaveWorkflowDelta")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry(func(tx *sql.Tx) error {
		for prev, nexts := range delta {
			for next, t := range nexts {
				if _, err := tx.Exec(`
					INSERT INTO workflows (prev, next, frequency, total_dt_ms, first_seen, last_seen)
					VALUES (?, ?, ?, ?, ?, ?)
					ON CONFLICT(prev, next) DO UPDATE SET
						frequency = frequency + excluded.frequency,
						total_dt_ms = total_dt_ms + excluded.total_dt_ms,
						first_seen = MIN(first_seen, excluded.first_seen),
						last_seen = MAX(last_seen, excluded.last_seen)
				`, prev, next, t.Frequency, t.TotalInterArrMs, t.FirstSeen.Unix(), t.LastSeen.Unix()); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// LoadWorkflows reconstructs the full stored workflow transition table.
func (s *Store) LoadWorkflows() (map[string]map[string]workflow.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]map[string]workflow.Transition)
	rows, err := s.db.Query(`SELECT prev, next, frequency, total_dt_ms, first_seen, last_seen FROM workflows`)
	if err != nil {
		return out, err
	}
	defer rows.Close()
	for rows.Next() {
		var prev, next string
		var freq int
		var totalDt int64
		var firstSeen, lastSeen int64
		if err := rows.Scan(&prev, &next, &freq, &totalDt, &firstSeen, &lastSeen); err != nil {
			return out, err
		}
		if _, ok := out[prev]; !ok {
			out[prev] = make(map[string]workflow.Transition)
		}
		out[prev][next] = workflow.Transition{
			Next:            next,
			Frequency:       freq,
			TotalInterArrMs: totalDt,
			FirstSeen:       time.Unix(firstSeen, 0).UTC(),
			LastSeen:        time.Unix(lastSeen, 0).UTC(),
		}
	}
	return out, nil
}

// Clear truncates every table.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry(func(tx *sql.Tx) error {
		tables := []string{"commands", "arguments", "cooccurrences", "flag_combinations", "parameter_values", "history", "sequences", "workflows"}
		for _, t := range tables {
			if _, err := tx.Exec("DELETE FROM " + t); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying database handle. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
