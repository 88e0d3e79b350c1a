// Package serve serves a finished output tree over HTTP or HTTPS.
package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Defaults match the development server the pipeline historically used.
const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 3001
)

// TLSConfig names the certificate and key files for HTTPS.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Server serves Root as static files. It holds no pipeline state.
type Server struct {
	Root   string
	Host   string
	Port   int
	TLS    *TLSConfig
	Logger *slog.Logger
}

// Addr returns the listen address, applying defaults.
func (s *Server) Addr() string {
	host := s.Host
	if host == "" {
		host = DefaultHost
	}
	port := s.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Scheme returns "https" when TLS is configured, "http" otherwise.
func (s *Server) Scheme() string {
	if s.TLS != nil && s.TLS.CertFile != "" && s.TLS.KeyFile != "" {
		return "https"
	}
	return "http"
}

// Handler returns the static file handler. Responses are marked no-cache so
// browsers pick up rebuilt files.
func (s *Server) Handler() http.Handler {
	files := http.FileServer(http.Dir(s.Root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		files.ServeHTTP(w, r)
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.Root == "" {
		return errors.New("serve: root is required")
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown failed", "error", err)
			}
		case <-done:
		}
	}()

	logger.Info("server started", "url", fmt.Sprintf("%s://%s", s.Scheme(), srv.Addr), "root", s.Root)

	var err error
	if s.Scheme() == "https" {
		err = srv.ListenAndServeTLS(s.TLS.CertFile, s.TLS.KeyFile)
	} else {
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
