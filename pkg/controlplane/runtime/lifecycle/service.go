package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/ckptfs/internal/logger"
)

// DefaultShutdownTimeout is the default time granted to in-flight backup
// work on shutdown.
const DefaultShutdownTimeout = 30 * time.Second

// serverStopTimeout bounds the graceful stop of one auxiliary server.
const serverStopTimeout = 5 * time.Second

// AuxiliaryServer is an interface for auxiliary HTTP servers (API, Metrics).
type AuxiliaryServer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Port() int
}

// Drainer stops accepting work and waits up to timeout for queued work.
type Drainer interface {
	Drain(timeout time.Duration)
}

// Closer releases the components after the drain.
type Closer interface {
	Close() error
}

// Service orchestrates daemon startup and graceful shutdown.
type Service struct {
	shutdownTimeout time.Duration
	apiServer       AuxiliaryServer
	metricsServer   AuxiliaryServer

	// serveOnce ensures Serve() is only called once
	serveOnce sync.Once
	served    bool
}

// New creates a new lifecycle service.
func New(shutdownTimeout time.Duration) *Service {
	if shutdownTimeout == 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &Service{
		shutdownTimeout: shutdownTimeout,
	}
}

// ShutdownTimeout returns the drain timeout.
func (s *Service) ShutdownTimeout() time.Duration {
	return s.shutdownTimeout
}

// SetAPIServer sets the REST API HTTP server.
// Must be called before Serve().
func (s *Service) SetAPIServer(server AuxiliaryServer) {
	if s.served {
		panic("cannot set API server after Serve() has been called")
	}
	s.apiServer = server
	if server != nil {
		logger.Info("API server registered", "port", server.Port())
	}
}

// SetMetricsServer sets the Prometheus scrape server.
// Must be called before Serve().
func (s *Service) SetMetricsServer(server AuxiliaryServer) {
	if s.served {
		panic("cannot set metrics server after Serve() has been called")
	}
	s.metricsServer = server
	if server != nil {
		logger.Info("Metrics server registered", "port", server.Port())
	}
}

// Serve starts the auxiliary servers and blocks until ctx is cancelled or
// a server fails. Either way the drainer and closer run before it returns.
func (s *Service) Serve(ctx context.Context, drainer Drainer, closer Closer) error {
	err := fmt.Errorf("runtime already served")
	s.serveOnce.Do(func() {
		s.served = true
		err = s.serve(ctx, drainer, closer)
	})
	return err
}

// serve is the internal implementation of Serve().
func (s *Service) serve(ctx context.Context, drainer Drainer, closer Closer) error {
	logger.Info("Starting ckptfs runtime")

	// 1. Start auxiliary servers
	errChan := make(chan error, 2)
	start := func(name string, srv AuxiliaryServer) {
		if srv == nil {
			return
		}
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error(name+" server error", "error", err)
				errChan <- fmt.Errorf("%s server error: %w", name, err)
			}
		}()
	}
	start("API", s.apiServer)
	start("Metrics", s.metricsServer)

	// 2. Wait for shutdown signal or server error
	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received", "reason", ctx.Err())
		shutdownErr = ctx.Err()

	case err := <-errChan:
		logger.Error("Auxiliary server failed - initiating shutdown", "error", err)
		shutdownErr = err
	}

	// 3. Graceful shutdown
	s.shutdown(drainer, closer)

	logger.Info("ckptfs runtime stopped")
	return shutdownErr
}

// shutdown stops the servers first so no new work arrives, then drains and
// closes the components.
func (s *Service) shutdown(drainer Drainer, closer Closer) {
	for name, srv := range map[string]AuxiliaryServer{"API": s.apiServer, "Metrics": s.metricsServer} {
		if srv == nil {
			continue
		}
		logger.Debug("Stopping " + name + " server")
		ctx, cancel := context.WithTimeout(context.Background(), serverStopTimeout)
		if err := srv.Stop(ctx); err != nil {
			logger.Error(name+" server shutdown error", "error", err)
		}
		cancel()
	}

	if drainer != nil {
		logger.Info("Draining backup tasks", "timeout", s.shutdownTimeout)
		drainer.Drain(s.shutdownTimeout)
	}

	if closer != nil {
		logger.Info("Closing components")
		if err := closer.Close(); err != nil {
			logger.Warn("Error closing components", "error", err)
		}
	}
}
