// Package admin implements the HTTP/JSON control surface of the gofpm
// daemon: peer address configuration, nexthop-group mode, counters
// inspection and reset. It is the programmatic equivalent of the vty
// commands a routing suite would hang off its configuration nodes.
package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/dantte-lp/gofpm/internal/fpm"
)

// Server exposes the session's control operations over HTTP.
type Server struct {
	logger  *slog.Logger
	session *fpm.Session
}

// New creates the admin server and returns its handler.
func New(logger *slog.Logger, session *fpm.Session) (*Server, http.Handler) {
	s := &Server{
		logger:  logger.With(slog.String("component", "admin")),
		session: session,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/counters", s.handleCounters)
	mux.HandleFunc("POST /v1/counters/reset", s.handleCountersReset)
	mux.HandleFunc("PUT /v1/address", s.handleSetAddress)
	mux.HandleFunc("DELETE /v1/address", s.handleUnsetAddress)
	mux.HandleFunc("PUT /v1/nexthop-groups", s.handleNexthopGroups)
	return s, mux
}

// -------------------------------------------------------------------------
// Wire Types
// -------------------------------------------------------------------------

// StatusResponse reports the connection state and effective configuration.
type StatusResponse struct {
	State            string `json:"state"`
	Disabled         bool   `json:"disabled"`
	Address          string `json:"address"`
	Port             uint16 `json:"port"`
	UseNextHopGroups bool   `json:"use-next-hop-groups"`
}

// AddressRequest configures the peer address.
type AddressRequest struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
}

// NexthopGroupsRequest toggles nexthop-group mode.
type NexthopGroupsRequest struct {
	Enabled bool `json:"enabled"`
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

// errBadRequestBody indicates an unparsable request payload.
var errBadRequestBody = errors.New("invalid request body")

// -------------------------------------------------------------------------
// Handlers
// -------------------------------------------------------------------------

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	ap := s.session.Address()
	writeJSON(w, http.StatusOK, StatusResponse{
		State:            s.session.State().String(),
		Disabled:         s.session.Disabled(),
		Address:          ap.Addr().String(),
		Port:             ap.Port(),
		UseNextHopGroups: s.session.UseNextHopGroups(),
	})
}

func (s *Server) handleCounters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.CountersSnapshot())
}

func (s *Server) handleCountersReset(w http.ResponseWriter, _ *http.Request) {
	s.session.ResetCounters()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetAddress(w http.ResponseWriter, r *http.Request) {
	var req AddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", errBadRequestBody, err))
		return
	}
	addr, err := netip.ParseAddr(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse address %q: %w", req.Address, err))
		return
	}
	if err := s.session.SetAddress(netip.AddrPortFrom(addr, req.Port)); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.logger.Info("peer address configured",
		slog.String("address", req.Address),
		slog.Uint64("port", uint64(req.Port)),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnsetAddress(w http.ResponseWriter, _ *http.Request) {
	s.session.Disable()
	s.logger.Info("peer address removed, session disabled")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNexthopGroups(w http.ResponseWriter, r *http.Request) {
	var req NexthopGroupsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", errBadRequestBody, err))
		return
	}
	s.session.SetUseNextHopGroups(req.Enabled)
	s.logger.Info("nexthop groups mode set", slog.Bool("enabled", req.Enabled))
	w.WriteHeader(http.StatusNoContent)
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
