// Package errs defines the local error taxonomy shared across the core.
// These are cause-based, not transport-based: a caller several layers
// removed from the origin can still tell a busy store from a corrupt one.
package errs

import "errors"

// Sentinel causes. Use errors.Is against these after wrapping with %w.
var (
	// ErrParse marks a best-effort partial parse; never propagated out of
	// the parser, kept here so callers that do inspect it can log it.
	ErrParse = errors.New("parse: malformed quoting or escapes")

	// ErrIngestRejected marks an invocation dropped by the sensitivity filter.
	ErrIngestRejected = errors.New("ingest: rejected by sensitivity filter")

	// ErrPersistenceBusy marks store lock contention (SQLITE_BUSY-equivalent).
	ErrPersistenceBusy = errors.New("store: busy, retry exhausted")

	// ErrPersistenceCorruption marks a load that found no valid schema.
	ErrPersistenceCorruption = errors.New("store: no valid schema, treating as empty")

	// ErrIPCProtocol marks an oversized/negative frame length or invalid JSON.
	ErrIPCProtocol = errors.New("ipc: malformed frame")

	// ErrIPCHandler marks an unexpected failure inside a single request handler.
	ErrIPCHandler = errors.New("ipc: handler failure")

	// ErrFilesystem marks an access-denied or I/O failure during a probe.
	// Always swallowed per-directory; never retried.
	ErrFilesystem = errors.New("filesystem: probe failed")

	// ErrCapacity marks a capacity bound rejection (not a real error; used
	// for eviction bookkeeping callers may want to log at debug level).
	ErrCapacity = errors.New("capacity: bound reached, evicting")
)
