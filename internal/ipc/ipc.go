// Package ipc is the local length-prefixed completion server: one
// net.Listener accepting concurrent connections, each framed request
// dispatched through the completion cache to a Provider on miss, with
// bounded concurrency and cooperative shutdown.
package ipc

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"

	"pscue/internal/cache"
	"pscue/internal/errs"
	"pscue/internal/logging"
	"pscue/internal/provider"
)

const maxFrameBytes = 1 << 20 // 1 MiB

// CompletionRequest is the decoded completion frame body.
type CompletionRequest struct {
	Command                 string `json:"Command"`
	CommandLine             string `json:"CommandLine"`
	WordToComplete          string `json:"WordToComplete"`
	IncludeDynamicArguments bool   `json:"IncludeDynamicArguments"`

	// InlinePrediction distinguishes an inline-prediction request (tight
	// ≤20ms budget, shallower recursive probing) from a tab-completion
	// request (≤50ms budget). Omitted/false means tab-completion.
	InlinePrediction bool `json:"InlinePrediction,omitempty"`
}

// CompletionItem is one returned completion candidate.
type CompletionItem struct {
	Text        string   `json:"Text"`
	Description string   `json:"Description,omitempty"`
	Score       *float64 `json:"Score,omitempty"`
}

// CompletionResponse is the encoded completion frame body.
type CompletionResponse struct {
	Completions []CompletionItem `json:"Completions"`
	Cached      bool             `json:"Cached"`
}

// DebugRequest is the decoded debug frame body.
type DebugRequest struct {
	RequestType string `json:"RequestType"`
}

// DebugResponse is the encoded debug frame body.
type DebugResponse struct {
	Success bool                   `json:"Success"`
	Message string                 `json:"Message,omitempty"`
	Stats   map[string]interface{} `json:"Stats,omitempty"`
}

// StatsFunc returns a snapshot of daemon-wide statistics for a "stats" debug
// request.
type StatsFunc func() map[string]interface{}

// Config bounds the server's concurrency.
type Config struct {
	MaxConcurrentConnections int
}

// DefaultConfig matches the spec's "small pool of worker tasks" guidance.
func DefaultConfig() Config {
	return Config{MaxConcurrentConnections: 32}
}

// Server accepts connections on a listener and dispatches framed
// completion/debug requests. Safe for concurrent use; Dispose is
// idempotent.
type Server struct {
	mu       sync.Mutex
	listener net.Listener
	cfg      Config
	cache    *cache.Cache
	registry *provider.Registry
	stats    StatsFunc

	sem      chan struct{}
	wg       sync.WaitGroup
	disposed bool
	done     chan struct{}
}

// New constructs a Server bound to listener, dispatching cache misses to
// registry and serving "stats" debug requests via stats.
func New(listener net.Listener, cfg Config, c *cache.Cache, registry *provider.Registry, stats StatsFunc) *Server {
	if cfg.MaxConcurrentConnections <= 0 {
		cfg.MaxConcurrentConnections = 32
	}
	return &Server{
		listener: listener,
		cfg:      cfg,
		cache:    c,
		registry: registry,
		stats:    stats,
		sem:      make(chan struct{}, cfg.MaxConcurrentConnections),
		done:     make(chan struct{}),
	}
}

// Serve accepts connections until the listener is closed or Dispose is
// called. Intended to run in its own goroutine.
func (s *Server) Serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				logging.Get(logging.CategoryIPC).Warn("accept failed: %v", err)
				return
			}
		}

		s.mu.Lock()
		if s.disposed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()

		select {
		case s.sem <- struct{}{}:
		case <-s.done:
			s.wg.Done()
			conn.Close()
			return
		}

		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.handleConn(conn)
		}()
	}
}

// Dispose stops accepting new connections and waits for in-flight handlers
// to finish. Idempotent.
func (s *Server) Dispose() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	close(s.done)
	s.mu.Unlock()

	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	connID := uuid.New().String()
	r := bufio.NewReader(conn)

	for {
		kind, body, err := readFrame(r)
		if err != nil {
			if err != io.EOF {
				logging.Get(logging.CategoryIPC).Debug("conn %s: frame read error: %v", connID, err)
			}
			return
		}

		var out []byte
		switch kind {
		case frameCompletion:
			out, err = s.handleCompletion(body)
		case frameDebug:
			out, err = s.handleDebug(body)
		default:
			return
		}
		if err != nil {
			logging.Get(logging.CategoryIPC).Warn("conn %s: %v: %v", connID, errs.ErrIPCProtocol, err)
			return
		}
		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}

type frameKind int

const (
	frameCompletion frameKind = iota
	frameDebug
)

// readFrame reads one frame from r: either a bare length-prefixed
// completion frame, or a 'D'-prefixed debug frame. Returns io.EOF when the
// connection closed cleanly between frames.
func readFrame(r *bufio.Reader) (frameKind, []byte, error) {
	first, err := r.Peek(1)
	if err != nil {
		return 0, nil, err
	}

	kind := frameCompletion
	if first[0] == 'D' {
		kind = frameDebug
		if _, err := r.Discard(1); err != nil {
			return 0, nil, err
		}
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	length := int32(binary.LittleEndian.Uint32(lenBuf[:]))
	if length < 0 || length > maxFrameBytes {
		return 0, nil, fmt.Errorf("%w: frame length %d out of bounds", errs.ErrIPCProtocol, length)
	}

	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return 0, nil, err
		}
	}
	return kind, body, nil
}

func writeFrame(debug bool, payload []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if debug {
		out := make([]byte, 0, 1+4+len(payload))
		out = append(out, 'D')
		out = append(out, lenBuf[:]...)
		out = append(out, payload...)
		return out
	}
	out := make([]byte, 0, 4+len(payload))
	out = append(out, lenBuf[:]...)
	out = append(out, payload...)
	return out
}

func (s *Server) handleCompletion(body []byte) ([]byte, error) {
	var req CompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrIPCProtocol, err)
	}

	effectiveWord := req.WordToComplete
	if len(req.CommandLine) > 0 && req.CommandLine[len(req.CommandLine)-1] == ' ' {
		// Trailing space: the cursor is requesting the NEXT argument, not
		// completions of a partial word.
		effectiveWord = ""
	}

	key := cache.Key(req.CommandLine, req.WordToComplete)

	if items, ok := s.cache.TryGet(key); ok {
		filtered := cache.FilterByPrefix(items, effectiveWord)
		return encodeCompletion(filtered, true), nil
	}

	p, ok := s.registry.Resolve(req.Command)
	if !ok {
		return encodeCompletion(nil, false), nil
	}

	items, err := p.Provide(context.Background(), req.Command, req.CommandLine, req.WordToComplete, provider.Flags{
		IncludeDynamicArguments: req.IncludeDynamicArguments,
		InlinePrediction:        req.InlinePrediction,
	})
	if err != nil {
		logging.Get(logging.CategoryIPC).Warn("provider error for %q: %v", req.Command, err)
		return encodeCompletion(nil, false), nil
	}

	s.cache.Set(key, items)
	filtered := cache.FilterByPrefix(items, effectiveWord)
	return encodeCompletion(filtered, false), nil
}

func encodeCompletion(items []provider.Item, cached bool) []byte {
	resp := CompletionResponse{Cached: cached}
	for _, it := range items {
		resp.Completions = append(resp.Completions, CompletionItem{
			Text:        it.Text,
			Description: it.Description,
			Score:       it.Score,
		})
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		payload = []byte(`{"Completions":[],"Cached":false}`)
	}
	return writeFrame(false, payload)
}

func (s *Server) handleDebug(body []byte) ([]byte, error) {
	var req DebugRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrIPCProtocol, err)
	}

	var resp DebugResponse
	switch req.RequestType {
	case "ping":
		resp = DebugResponse{Success: true, Message: "pong"}
	case "clear":
		s.cache.Clear()
		resp = DebugResponse{Success: true}
	case "stats":
		var stats map[string]interface{}
		if s.stats != nil {
			stats = s.stats()
		}
		resp = DebugResponse{Success: true, Stats: stats}
	default:
		resp = DebugResponse{Success: false, Message: fmt.Sprintf("unknown debug request type %q", req.RequestType)}
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		payload = []byte(`{"Success":false,"Message":"internal encoding error"}`)
	}
	return writeFrame(true, payload), nil
}
