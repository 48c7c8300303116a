package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/haskel/branchsim/internal/metrics"
	"github.com/haskel/branchsim/internal/protocol"
	"github.com/haskel/branchsim/internal/simulation"
)

// ServerConfig configures a worker node.
type ServerConfig struct {
	Host  string
	Ports []int
	// Workers is the size of each connection's worker pool.
	Workers int
	// AcceptRate limits new connections per second; zero disables the limit.
	AcceptRate  float64
	AcceptBurst int
}

// Server accepts client connections on every configured port and serves
// each with its own Handler.
type Server struct {
	config   ServerConfig
	executor simulation.Executor
	logger   *slog.Logger
	limiter  *rate.Limiter

	mu        sync.Mutex
	listeners []net.Listener
	handlers  map[*Handler]struct{}
}

func NewServer(cfg ServerConfig, executor simulation.Executor, logger *slog.Logger) *Server {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.AcceptRate > 0 {
		burst := cfg.AcceptBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), burst)
	}
	return &Server{
		config:   cfg,
		executor: executor,
		logger:   logger,
		limiter:  limiter,
		handlers: make(map[*Handler]struct{}),
	}
}

// Listen binds every port. A failure closes the listeners already opened.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.config.Ports) == 0 {
		return errors.New("no listening ports configured")
	}
	for _, port := range s.config.Ports {
		addr := net.JoinHostPort(s.config.Host, fmt.Sprint(port))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			for _, l := range s.listeners {
				l.Close()
			}
			s.listeners = nil
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		s.listeners = append(s.listeners, ln)
	}
	return nil
}

// Addrs returns the bound addresses, useful when a port was 0.
func (s *Server) Addrs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	addrs := make([]string, len(s.listeners))
	for i, l := range s.listeners {
		addrs[i] = l.Addr().String()
	}
	return addrs
}

// Serve accepts connections until ctx is cancelled. Listen must be called
// first. Open connections are closed and drained before Serve returns.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	listeners := append([]net.Listener(nil), s.listeners...)
	s.mu.Unlock()
	if len(listeners) == 0 {
		return errors.New("server is not listening")
	}

	for _, ln := range listeners {
		s.logger.Info("worker server listening", "addr", ln.Addr().String(), "workers", s.config.Workers)
	}

	g, ctx := errgroup.WithContext(ctx)
	var conns sync.WaitGroup

	g.Go(func() error {
		<-ctx.Done()
		for _, ln := range listeners {
			ln.Close()
		}
		return nil
	})

	for _, ln := range listeners {
		g.Go(func() error {
			return s.acceptLoop(ctx, ln, &conns)
		})
	}

	err := g.Wait()
	conns.Wait()
	s.logger.Info("worker server stopped")
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, conns *sync.WaitGroup) error {
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil
		}
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept on %s: %w", ln.Addr(), err)
		}

		h := NewHandler(protocol.NewConn(nc), s.executor, s.config.Workers, s.logger)
		s.track(h, true)

		conns.Add(1)
		go func() {
			defer conns.Done()
			defer s.track(h, false)
			h.Serve(ctx)
		}()
	}
}

func (s *Server) track(h *Handler, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if add {
		s.handlers[h] = struct{}{}
	} else {
		delete(s.handlers, h)
	}
	metrics.ServerConnections.Set(float64(len(s.handlers)))
}

// Connections returns a snapshot of the open connections ordered by
// connection time.
func (s *Server) Connections() []Info {
	s.mu.Lock()
	handlers := make([]*Handler, 0, len(s.handlers))
	for h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	infos := make([]Info, len(handlers))
	for i, h := range handlers {
		infos[i] = h.Info()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Since.Before(infos[j].Since) })
	return infos
}
