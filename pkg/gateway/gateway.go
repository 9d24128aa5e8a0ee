// Package gateway serves game clients over websocket.
//
// Each client connects to /ws/agent/{id} and sends one perception per
// message. Perceptions of a session are processed strictly in order:
// the gateway runs one decision cycle per perception and replies with
// the resulting task and plan before it looks at the next one.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/paprika-agent/paprika/pkg/knowledge"
	"github.com/paprika-agent/paprika/pkg/protocol"
	"github.com/paprika-agent/paprika/pkg/workflow"
)

// Runner runs one decision cycle. *workflow.Engine implements it.
type Runner interface {
	Run(ctx context.Context, p *protocol.Perception) (*workflow.State, error)
}

var _ Runner = (*workflow.Engine)(nil)

const (
	DefaultReadLimit    = 1 << 20
	DefaultWriteTimeout = 10 * time.Second
	DefaultPingInterval = 30 * time.Second

	// queueSize bounds perceptions read ahead of processing.
	queueSize = 16
)

// Welcome is the body of GET /.
const Welcome = "Welcome to Paprika!"

// Config configures a Server.
type Config struct {
	// NewRunner returns the runner of a new session. Required.
	NewRunner func(clientID string) (Runner, error)

	// Store receives observation memories when RecordObservations is
	// set.
	Store              knowledge.Store
	RecordObservations bool

	ReadLimit    int64
	WriteTimeout time.Duration
	PingInterval time.Duration

	Logger *slog.Logger
}

// Server accepts client sessions.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	active atomic.Int64

	// mu guards closing and orders wg.Add before Shutdown's wg.Wait.
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// New returns a Server.
func New(cfg Config) (*Server, error) {
	if cfg.NewRunner == nil {
		return nil, errors.New("gateway: NewRunner is required")
	}
	if cfg.RecordObservations && cfg.Store == nil {
		return nil, errors.New("gateway: recording observations needs a store")
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			// Game clients are not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Handler routes the gateway endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /ws/agent/{id}", s.handleAgent)
	return mux
}

// Sessions returns the number of connected sessions.
func (s *Server) Sessions() int64 { return s.active.Load() }

// Shutdown ends every session and waits for them to finish or for ctx.
// http.Server.Shutdown does not cover hijacked websocket connections,
// so call both.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"msg": Welcome})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"status": "ok", "sessions": s.Sessions()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "missing client id", http.StatusBadRequest)
		return
	}
	if !s.admit() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()
	runner, err := s.cfg.NewRunner(id)
	if err != nil {
		s.logger.Error("gateway: create runner", "client_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("gateway: upgrade failed", "client_id", id, "error", err)
		return
	}

	s.active.Add(1)
	defer s.active.Add(-1)
	newSession(s, conn, id, runner).serve()
}

// admit registers a connection attempt with the shutdown wait group. It
// reports false once Shutdown has started.
func (s *Server) admit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	return true
}
