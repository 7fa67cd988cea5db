// Package web serves a static directory over HTTPS.
package web

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/arhuman/distserve/internal/config"
	"go.uber.org/zap"
)

// Server serves files from a single directory over TLS
type Server struct {
	dir        string
	addr       string
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer resolves the served directory and prepares the HTTPS server. It
// fails when the directory does not exist or is not a directory.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve served directory %s: %w", cfg.Dir, err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot serve directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("cannot serve %s: not a directory", dir)
	}

	s := &Server{
		dir:    dir,
		addr:   cfg.Addr(),
		logger: logger,
	}

	errorLog, err := zap.NewStdLogAt(logger.Named("http"), zap.DebugLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create http error logger: %w", err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          errorLog,
	}

	return s, nil
}

// Dir returns the absolute path of the served directory
func (s *Server) Dir() string {
	return s.dir
}

// Handler returns the static file handler with request logging
func (s *Server) Handler() http.Handler {
	return s.loggingMiddleware(http.FileServer(http.Dir(s.dir)))
}

// Listen binds the TCP port on all interfaces
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return ln, nil
}

// Serve wraps ln in TLS using cert and accepts connections until the
// listener fails or ctx is cancelled. Cancellation closes the server and
// returns nil.
func (s *Server) Serve(ctx context.Context, ln net.Listener, cert tls.Certificate) error {
	ln = tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})

	s.logger.Info("Serving directory over HTTPS",
		zap.String("dir", s.dir),
		zap.String("address", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
		s.logger.Info("Stopping HTTPS server")
		closeErr := s.httpServer.Close()
		<-errCh
		return closeErr
	}
}

// ListenAndServe binds the port then serves with cert until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, cert tls.Certificate) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, cert)
}
