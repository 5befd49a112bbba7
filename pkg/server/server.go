package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/jiayi-1994/ovn-provider/pkg/config"
)

// Server runs one REST surface on a TCP listener.
type Server struct {
	name    string
	addr    string
	handler http.Handler
	tls     *tls.Config

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
	running    bool
}

// NewServer creates a Server for handler on addr. tlsConfig may be nil.
func NewServer(name, addr string, handler http.Handler, tlsConfig *tls.Config) *Server {
	return &Server{name: name, addr: addr, handler: handler, tls: tlsConfig}
}

// Start listens on the address of s and serves requests in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("%s server is already running", s.name)
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	if s.tls != nil {
		listener = tls.NewListener(listener, s.tls)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 30 * time.Second,
		WriteTimeout:      RequestTimeout + 10*time.Second,
	}
	s.running = true

	go func() {
		klog.Infof("%s server started, listening on %s", s.name, listener.Addr())
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			klog.Errorf("%s server error: %v", s.name, err)
		}
	}()
	return nil
}

// Addr returns the address s listens on, once started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts s down, waiting for in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down %s server: %w", s.name, err)
	}
	klog.Infof("%s server stopped", s.name)
	return nil
}

// HealthHandler answers 200 while check succeeds and 503 otherwise.
func HealthHandler(check func(ctx context.Context) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := check(r.Context()); err != nil {
			klog.Warningf("Health check failed: %v", err)
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
}

// TLSConfig builds the listener TLS configuration, or nil when HTTPS is
// disabled.
func TLSConfig(cfg *config.SSLConfig) (*tls.Config, error) {
	if !cfg.HTTPSEnabled {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate %s: %w", cfg.CertFile, err)
	}
	suites, err := CipherSuites(cfg.Ciphers)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		CipherSuites: suites,
	}, nil
}

// CipherSuites maps a colon separated list of cipher suite names to their
// ids. "HIGH" and "" select the Go defaults, which are returned as nil.
func CipherSuites(spec string) ([]uint16, error) {
	if spec == "" || strings.EqualFold(spec, "HIGH") {
		return nil, nil
	}
	known := map[string]uint16{}
	for _, suite := range tls.CipherSuites() {
		known[suite.Name] = suite.ID
	}
	var ids []uint16
	for _, name := range strings.Split(spec, ":") {
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		id, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("unknown or insecure cipher suite %q", name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
