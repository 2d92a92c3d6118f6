package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"git.sr.ht/~spc/go-log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/project-flotta/flotta-sync-worker/internal/configuration"
)

const (
	MetricsPath     = "/metrics"
	shutdownTimeout = 5 * time.Second
)

// Server serves a registry on the configured metrics address. It follows the
// configuration: an empty address stops it, a new one moves it.
type Server struct {
	registry *prometheus.Registry

	lock     sync.Mutex
	address  string
	server   *http.Server
	listener net.Listener
}

func NewServer(registry *prometheus.Registry) *Server {
	return &Server{registry: registry}
}

func (s *Server) String() string {
	return "metrics server"
}

func (s *Server) Init(config configuration.Config) error {
	return s.Update(config)
}

func (s *Server) Update(config configuration.Config) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if config.MetricsAddress == s.address {
		return nil
	}
	s.stop()
	if config.MetricsAddress == "" {
		return nil
	}
	return s.start(config.MetricsAddress)
}

// Address is the address actually listened on, empty when stopped.
func (s *Server) Address() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.stop()
}

func (s *Server) start(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle(MetricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	s.address = address
	s.server = server
	s.listener = listener
	log.Infof("serving metrics on http://%s%s", listener.Addr(), MetricsPath)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server on %s stopped: %v", address, err)
		}
	}()
	return nil
}

func (s *Server) stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		log.Warnf("cannot stop metrics server: %v", err)
	}
	s.server = nil
	s.listener = nil
	s.address = ""
}
