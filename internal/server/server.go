// Package server exposes the service over HTTP: a websocket endpoint for
// streaming consumers, a synchronous snapshot query, Prometheus metrics,
// and a health probe.
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"tickstream/internal/config"
	"tickstream/internal/engine"
	"tickstream/internal/fanout"
	"tickstream/internal/resolver"
)

// Server hosts the HTTP and websocket surfaces of the service.
type Server struct {
	cfg      *config.Config
	log      zerolog.Logger
	eng      *engine.Engine
	fan      *fanout.Fanout
	res      resolver.Resolver
	validate *validator.Validate
	httpSrv  *http.Server
}

// New builds a server ready to listen on the configured address.
func New(cfg *config.Config, eng *engine.Engine, fan *fanout.Fanout, res resolver.Resolver, gatherer prometheus.Gatherer, log zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		log:      log.With().Str("component", "server").Logger(),
		eng:      eng,
		fan:      fan,
		res:      res,
		validate: validator.New(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.httpSrv = &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}
	return s
}

// Start listens and serves until Shutdown is called. It blocks.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.Server.ListenAddr).Msg("http server listening")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// handleSnapshot serves the synchronous query surface. The instrument is
// selected by ?token=N or ?symbol=NAME; symbols are resolved through the
// configured instrument table.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	var token uint32

	switch {
	case r.URL.Query().Get("token") != "":
		v, err := strconv.ParseUint(r.URL.Query().Get("token"), 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "token must be an unsigned integer")
			return
		}
		token = uint32(v)
	case r.URL.Query().Get("symbol") != "":
		sym := r.URL.Query().Get("symbol")
		tok, ok := s.res.Resolve(sym)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown symbol: "+sym)
			return
		}
		token = tok
	default:
		writeError(w, http.StatusBadRequest, "token or symbol query parameter is required")
		return
	}

	snap, ok := s.eng.Query(token)
	if !ok {
		writeError(w, http.StatusNotFound, "no data for instrument")
		return
	}
	if snap.Symbol == "" {
		if sym, ok := s.res.Symbol(token); ok {
			snap.Symbol = sym
		}
	}

	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
