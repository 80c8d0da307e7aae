// Package httpapi exposes the engine's read surface: ranked opportunities,
// the current market snapshot, risk assessments, health, and metrics. The
// API is read-only; execution is reachable only through the CLI and the
// scheduler.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/yieldrun/internal/engine"
	"github.com/sawpanic/yieldrun/internal/market"
	"github.com/sawpanic/yieldrun/internal/metrics"
	"github.com/sawpanic/yieldrun/internal/opportunity"
	"github.com/sawpanic/yieldrun/internal/risk"
)

// ServerConfig holds listener configuration.
type ServerConfig struct {
	Host         string        `env:"HTTP_HOST"`
	Port         int           `env:"HTTP_PORT"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT"`
}

// DefaultServerConfig binds local-only by default.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "127.0.0.1",
		Port:         8080,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Preferences resolves per-user preferences for scan requests.
type Preferences func(user string) opportunity.Preferences

// Server is the read-only HTTP server.
type Server struct {
	router *mux.Router
	server *http.Server
	cfg    ServerConfig

	engine *engine.Engine
	cache  *market.Cache
	model  *risk.Model
	prefs  Preferences
	reg    *metrics.Registry
	hub    *Hub
}

// NewServer creates the server. reg and hub may be nil.
func NewServer(cfg ServerConfig, eng *engine.Engine, cache *market.Cache, model *risk.Model, prefs Preferences, reg *metrics.Registry, hub *Hub) *Server {
	def := DefaultServerConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if prefs == nil {
		prefs = func(string) opportunity.Preferences { return opportunity.DefaultPreferences() }
	}

	s := &Server{
		router: mux.NewRouter(),
		cfg:    cfg,
		engine: eng,
		cache:  cache,
		model:  model,
		prefs:  prefs,
		reg:    reg,
		hub:    hub,
	}
	s.routes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) routes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/opportunities", s.handleOpportunities).Methods(http.MethodGet)
	api.HandleFunc("/markets", s.handleMarkets).Methods(http.MethodGet)
	api.HandleFunc("/risk", s.handleRisk).Methods(http.MethodGet)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.reg != nil {
		s.router.Handle("/metrics", s.reg.Handler()).Methods(http.MethodGet)
	}
	if s.hub != nil {
		s.router.HandleFunc("/ws/opportunities", s.hub.handleWS)
	}
}

// ListenAndServe serves until ctx is cancelled, then drains.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user query parameter is required")
		return
	}

	result, err := s.engine.Scan(r.Context(), user, s.prefs(user))
	if err != nil {
		log.Warn().Err(err).Str("user", user).Msg("Scan request failed")
		writeError(w, http.StatusBadGateway, "scan failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type marketView struct {
	market.Record
	Staleness market.StaleTier `json:"staleness"`
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	snap := s.cache.Snapshot()

	views := make([]marketView, 0, len(snap.Records))
	for _, rec := range snap.Records {
		views = append(views, marketView{Record: rec, Staleness: rec.Staleness(now)})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"markets":  views,
		"taken_at": snap.Taken,
	})
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chainID, err := strconv.ParseInt(q.Get("chain"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "chain query parameter must be a chain id")
		return
	}
	protocol, asset := q.Get("protocol"), q.Get("asset")
	if protocol == "" || asset == "" {
		writeError(w, http.StatusBadRequest, "protocol and asset query parameters are required")
		return
	}

	rec, ok := s.cache.Lookup(chainID, protocol, asset)
	if !ok {
		writeError(w, http.StatusNotFound, "market not in current snapshot")
		return
	}
	writeJSON(w, http.StatusOK, s.model.Assess(rec, time.Now().UTC()))
}

type chainHealth struct {
	ChainID   int64     `json:"chain_id"`
	FetchedAt time.Time `json:"fetched_at"`
	AgeSec    float64   `json:"age_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.cache.Snapshot()
	now := time.Now().UTC()

	chains := make([]chainHealth, 0, len(snap.FetchedAt))
	for chainID, at := range snap.FetchedAt {
		chains = append(chains, chainHealth{ChainID: chainID, FetchedAt: at, AgeSec: now.Sub(at).Seconds()})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": now,
		"records":   len(snap.Records),
		"chains":    chains,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
