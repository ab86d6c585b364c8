// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ingest implements the aggregator's HTTP ingest server: a mutual
// TLS listener, gorilla/mux routing with CORS/compression/recovery/logging
// middleware, and a bounded worker pool whose handlers parse and validate
// each request and then call the Dispatcher synchronously, answering only
// after it returns.
package ingest

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/kaloix/home-sensor/pkg/log"
)

// Request is one parsed, validated ingest submission handed off to the
// supervisor. RemoteAddr is the client's address, kept for logging.
type Request struct {
	Group     string
	Name      string
	Timestamp int64
	Value     json.RawMessage

	RemoteAddr string
}

// Dispatcher is the supervisor-owned sink every accepted Request is handed
// to. It must not block for long: the HTTP handler waits on it before
// responding.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) error
}

// Config configures the ingest server.
type Config struct {
	ListenAddr string
	ServerCert string
	ServerKey  string
	ClientCA   string

	// JWTSecret, if non-empty, additionally accepts the legacy _token
	// single-sided auth mode alongside mutual TLS.
	JWTSecret string

	Workers    int
	Dispatcher Dispatcher
}

// Server is the aggregator's ingest HTTP listener.
type Server struct {
	cfg     Config
	sema    chan struct{}
	httpSrv *http.Server
}

// New constructs a Server without starting it.
func New(cfg Config) (*Server, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.Workers > 16 {
		cfg.Workers = 16
	}

	s := &Server{cfg: cfg, sema: make(chan struct{}, cfg.Workers)}

	router := mux.NewRouter()
	router.HandleFunc("/", s.handleIngest).Methods(http.MethodPost)
	router.Use(handlers.CompressHandler)
	router.Use(handlers.CORS(
		handlers.AllowedMethods([]string{http.MethodPost}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	))

	logged := handlers.CustomLoggingHandler(log.InfoWriter, router, func(w io.Writer, params handlers.LogFormatterParams) {
		log.Finfof(w, "%s %s (status %d, %d bytes)", params.Request.Method, params.URL.RequestURI(), params.StatusCode, params.Size)
	})
	recovered := handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(logged)

	s.httpSrv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      recovered,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s, nil
}

// Serve binds the mTLS listener and blocks until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	cert, err := tls.LoadX509KeyPair(s.cfg.ServerCert, s.cfg.ServerKey)
	if err != nil {
		return fmt.Errorf("ingest: load server cert: %w", err)
	}

	caBytes, err := os.ReadFile(s.cfg.ClientCA)
	if err != nil {
		return fmt.Errorf("ingest: read client ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return fmt.Errorf("ingest: no certificates found in %s", s.cfg.ClientCA)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("ingest: listen: %w", err)
	}
	tlsLn := tls.NewListener(ln, tlsCfg)

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.Serve(tlsLn) }()

	log.Infof("ingest: mTLS server listening on %s", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
