package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"snapwatch/internal/event"
	"snapwatch/internal/logging"
	"snapwatch/internal/metrics"
	"snapwatch/internal/snapshotter"
	"snapwatch/internal/watcher"
)

// StateReporter exposes the coordinator's current logical state.
type StateReporter interface {
	State() snapshotter.State
}

// Options configures the observability server. The server is a layer
// over the coordinator: snapshot behavior is identical with it disabled.
type Options struct {
	Listen      string
	Coordinator StateReporter
	Registry    *metrics.Registry
	Bus         *event.Bus[snapshotter.Event]
	// FSBus, when set, exposes raw filesystem change events at
	// /events/fs alongside the snapshot lifecycle stream.
	FSBus  *event.Bus[watcher.Event]
	Logger *logging.Logger
}

type Server struct {
	listen      string
	coordinator StateReporter
	registry    *metrics.Registry
	bus         *event.Bus[snapshotter.Event]
	fsBus       *event.Bus[watcher.Event]
	logger      *logging.Logger
	httpServer  *http.Server
}

func NewServer(options Options) *Server {
	server := &Server{
		listen:      options.Listen,
		coordinator: options.Coordinator,
		registry:    options.Registry,
		bus:         options.Bus,
		fsBus:       options.FSBus,
		logger:      options.Logger,
	}
	if server.registry == nil {
		server.registry = metrics.Default
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", server.handleHealth)
	mux.HandleFunc("/metrics", server.handleMetrics)
	mux.Handle("/events", &EventsHandler[snapshotter.Event]{Bus: server.bus, Logger: server.logger})
	mux.Handle("/events/fs", &EventsHandler[watcher.Event]{Bus: server.fsBus, Logger: server.logger})

	server.httpServer = &http.Server{
		Addr:              options.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start binds the listen address and serves in the background. The bind
// happens synchronously so address errors surface to the caller.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.logger != nil {
				s.logger.Error("observability server stopped", map[string]string{
					"error": err.Error(),
				})
			}
		}
	}()
	if s.logger != nil {
		s.logger.Info("observability server listening", map[string]string{
			"address": listener.Addr().String(),
		})
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type healthPayload struct {
	Status string `json:"status"`
	State  string `json:"state"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	payload := healthPayload{Status: "ok"}
	if s.coordinator != nil {
		payload.State = s.coordinator.State().String()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = s.registry.WritePrometheus(w)
}
