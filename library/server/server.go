// Package server hosts one library: it owns the store, the simulated clock
// and the interpreter, and routes request lines from connected clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"lbms/library"
	"lbms/library/clock"
	"lbms/library/command"
	"lbms/library/config"
	"lbms/library/state"
	"lbms/library/storage"
)

var (
	ErrIllegalSender = errors.New("sender is not connected to this server")
	ErrClosed        = errors.New("server closed")
	ErrUnsupportedUI = errors.New("unsupported ui")
)

var _ command.Executor = (*Executor)(nil)

// Server is a running library.
type Server struct {
	cfg     config.Config
	logger  *slog.Logger
	backend state.Backend
	store   *state.Store
	clock   *clock.Clock
	manager *library.LibraryManager
	interp  *command.Interpreter

	mu        sync.Mutex
	executors map[*Executor]struct{}
	closed    bool
}

// New opens the configured storage and starts a server on it.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if cfg.UI == config.UIGUI {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedUI, cfg.UI)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	backend, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	s, err := NewWithBackend(ctx, cfg, backend, logger)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return s, nil
}

// NewWithBackend starts a server on an already opened backend.
func NewWithBackend(ctx context.Context, cfg config.Config, backend state.Backend, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	epoch, err := cfg.Library.Epoch()
	if err != nil {
		return nil, fmt.Errorf("start date: %w", err)
	}
	catalog, err := library.LoadCatalog(cfg.Catalog)
	if err != nil {
		return nil, err
	}

	store := state.NewStore(backend, logger, library.Types()...)
	if err := store.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("load library: %w", err)
	}

	day, second, ok := library.ClockPosition(store)
	if !ok {
		day, second = 0, cfg.Library.OpenTime
	}
	clk, err := clock.New(epoch, day, second)
	if err != nil {
		return nil, err
	}

	open, closeAt := cfg.Library.OpenTime, cfg.Library.CloseTime
	mgr := library.NewLibraryManager(store, clk, catalog, library.RulesFromConfig(cfg.Circulation), logger)
	if err := mgr.EnsureLibrary(open, closeAt); err != nil {
		return nil, fmt.Errorf("library record: %w", err)
	}
	if err := mgr.SetOpen(second >= open && second < closeAt); err != nil {
		return nil, err
	}
	if err := errors.Join(
		clk.RegisterTask(open, mgr.OpenLibrary),
		clk.RegisterTask(closeAt, mgr.CloseLibrary),
	); err != nil {
		return nil, err
	}

	logger.Info("library ready",
		"storage", cfg.Storage.Type,
		"date", clock.FormatDate(clk.Now()),
		"time", clock.FormatTime(clk.Now()),
		"open", mgr.IsOpen())

	return &Server{
		cfg:       cfg,
		logger:    logger,
		backend:   backend,
		store:     store,
		clock:     clk,
		manager:   mgr,
		interp:    command.NewInterpreter(command.NewHandlers(mgr), logger),
		executors: make(map[*Executor]struct{}),
	}, nil
}

// Manager exposes the domain façade, mainly for tools and tests.
func (s *Server) Manager() *library.LibraryManager { return s.manager }

// Connect attaches a client and returns the executor it sends through.
func (s *Server) Connect(c Client) *Executor {
	e := &Executor{id: uuid.New(), client: c}
	e.logger = s.logger.With("session", e.id.String())

	s.mu.Lock()
	s.executors[e] = struct{}{}
	s.mu.Unlock()

	e.logger.Debug("client connected")
	return e
}

// Disconnect detaches an executor. Later requests from it are refused.
func (s *Server) Disconnect(e *Executor) {
	s.mu.Lock()
	delete(s.executors, e)
	s.mu.Unlock()
	if e != nil {
		e.logger.Debug("client disconnected")
	}
}

// Receive runs one request line from sender. The response goes back through
// sender.
func (s *Server) Receive(sender *Executor, line string) error {
	s.mu.Lock()
	_, ok := s.executors[sender]
	closed := s.closed
	s.mu.Unlock()
	switch {
	case closed:
		return ErrClosed
	case !ok:
		return ErrIllegalSender
	}

	sender.logger.Debug("request", "line", strings.TrimSpace(line))
	s.interp.Receive(context.Background(), sender, line)
	return nil
}

// Close persists the clock position and every record, then releases the
// backend. Persistence failures are logged and returned; the in-memory
// state is gone either way.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if err := s.manager.SaveClock(); err != nil {
		s.logger.Error("save clock", "error", err)
		errs = append(errs, err)
	}
	if err := s.store.Cleanup(ctx); err != nil {
		s.logger.Error("persist library", "error", err)
		errs = append(errs, err)
	}
	if err := s.backend.Close(); err != nil {
		s.logger.Error("close storage", "error", err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		s.logger.Info("library saved", "storage", s.cfg.Storage.Type)
	}
	return errors.Join(errs...)
}

// Executor is one client's session. Response lines are buffered until Flush.
type Executor struct {
	id     uuid.UUID
	client Client
	logger *slog.Logger

	mu  sync.Mutex
	buf []string
}

// ID is the session id.
func (e *Executor) ID() string { return e.id.String() }

func (e *Executor) SendMessage(line string) {
	e.mu.Lock()
	e.buf = append(e.buf, line)
	e.mu.Unlock()
}

// Flush delivers the buffered lines to the client as one message.
func (e *Executor) Flush() {
	e.mu.Lock()
	msg := strings.Join(e.buf, "\n")
	e.buf = nil
	e.mu.Unlock()
	if e.client != nil {
		e.client.Receive(msg)
	}
}
