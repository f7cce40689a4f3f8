package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	appconfig "signalflow/config"
	"signalflow/internal/bus"
	"signalflow/internal/endpoint"
	"signalflow/internal/feedhealth"
	"signalflow/internal/watchdog"
	"signalflow/logger"
)

// Server hosts the read-only operations API: feed health, bus topic
// stats, endpoint pool state and the current failover mode.
type Server struct {
	cfg        appconfig.DashboardConfig
	bus        *bus.Bus
	health     *feedhealth.Monitor
	rpcPool    *endpoint.Pool
	wsPool     *endpoint.Pool
	dog        *watchdog.Watchdog
	httpServer *http.Server
	log        *logger.Log
}

type poolStatus struct {
	Total   int    `json:"total"`
	Cooling int    `json:"cooling"`
	Current string `json:"current"`
}

type statusResponse struct {
	Service string              `json:"service"`
	Mode    string              `json:"mode"`
	Health  feedhealth.Snapshot `json:"health"`
	RPC     poolStatus          `json:"rpc_pool"`
	WS      poolStatus          `json:"ws_pool"`
}

// NewServer constructs the status server when the dashboard is
// enabled; a disabled dashboard returns nil.
func NewServer(cfg appconfig.DashboardConfig, b *bus.Bus, health *feedhealth.Monitor, rpcPool, wsPool *endpoint.Pool, dog *watchdog.Watchdog) *Server {
	if !cfg.Enabled {
		return nil
	}
	cfg.Address = normalizeAddress(cfg.Address)
	return &Server{
		cfg:     cfg,
		bus:     b,
		health:  health,
		rpcPool: rpcPool,
		wsPool:  wsPool,
		dog:     dog,
		log:     logger.GetLogger(),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleLive)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/topics", s.handleTopics)
	r.Get("/api/topics/{topic}/recent", s.handleRecent)
	return r
}

// Start begins serving in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.WithComponent("dashboard").WithFields(logger.Fields{"address": listener.Addr().String()}).Info("status server started")
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithComponent("dashboard").WithError(err).Error("status server failed")
		}
	}()
	return nil
}

// Stop drains in-flight requests.
func (s *Server) Stop(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.WithComponent("dashboard").WithError(err).Warn("status server shutdown")
	}
	s.log.WithComponent("dashboard").Info("status server stopped")
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	rpcTotal, rpcCooling := s.rpcPool.Counts()
	wsTotal, wsCooling := s.wsPool.Counts()
	writeJSON(w, http.StatusOK, statusResponse{
		Service: "signalflow",
		Mode:    s.dog.Mode().String(),
		Health:  s.health.Snapshot(),
		RPC:     poolStatus{Total: rpcTotal, Cooling: rpcCooling, Current: s.rpcPool.Current()},
		WS:      poolStatus{Total: wsTotal, Cooling: wsCooling, Current: s.wsPool.Current()},
	})
}

func (s *Server) handleTopics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bus.Stats())
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	n := 50
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "n must be in 1..1000"})
			return
		}
		n = parsed
	}
	writeJSON(w, http.StatusOK, s.bus.Recent(topic, n))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "127.0.0.1:8070"
	}
	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8070")
	}
	return addr
}
