// Package api exposes the session ledger over HTTP: wallet
// authentication, session lifecycle, instant debits, batch settlement,
// and a websocket event feed for dashboard clients.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prizepool-labs/ledger-service/internal/config"
	"github.com/prizepool-labs/ledger-service/pkg/logger"
	"github.com/prizepool-labs/ledger-service/services/ledger"
	"github.com/prizepool-labs/ledger-service/services/wallet"
)

// Server wires the ledger service and wallet authenticator into an
// HTTP router.
type Server struct {
	router *mux.Router
	ledger *ledger.Service
	auth   *wallet.Authenticator
	hub    *EventHub
	cfg    config.ServerConfig
	log    *logger.Logger
}

// NewServer builds the API server and its routes.
func NewServer(ledgerSvc *ledger.Service, auth *wallet.Authenticator, hub *EventHub, cfg config.ServerConfig, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault("api")
	}

	s := &Server{
		router: mux.NewRouter(),
		ledger: ledgerSvc,
		auth:   auth,
		hub:    hub,
		cfg:    cfg,
		log:    log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.rateLimitMiddleware())

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/auth/nonce", s.handleNonce).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/auth/connect", s.handleConnect).Methods(http.MethodPost, http.MethodOptions)

	if s.hub != nil {
		v1.HandleFunc("/events", s.hub.ServeWS).Methods(http.MethodGet)
	}

	authed := v1.NewRoute().Subrouter()
	authed.Use(s.authMiddleware)
	authed.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost, http.MethodOptions)
	authed.HandleFunc("/sessions/me", s.handleGetSession).Methods(http.MethodGet)
	authed.HandleFunc("/sessions/me", s.handleCloseSession).Methods(http.MethodDelete, http.MethodOptions)
	authed.HandleFunc("/debits", s.handleDebit).Methods(http.MethodPost, http.MethodOptions)
	authed.HandleFunc("/debits", s.handleListDebits).Methods(http.MethodGet)
	authed.HandleFunc("/settlements", s.handleSettle).Methods(http.MethodPost, http.MethodOptions)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "ledgerd",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// =============================================================================
// Response helpers
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
