package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/mcdev12/evilcards/go/internal/ctxlog"
	"github.com/mcdev12/evilcards/go/internal/game/relay"
	"github.com/mcdev12/evilcards/go/internal/game/session"
)

// SessionInfo is returned by GET /sessions/:id
type SessionInfo struct {
	ID      string               `json:"id"`
	Owner   string               `json:"owner"`
	State   session.State        `json:"state,omitempty"`
	Round   int                  `json:"round,omitempty"`
	Players []session.PlayerView `json:"players,omitempty"`
}

// RegisterRoutes registers the gateway routes
func (s *Service) RegisterRoutes(mux *httprouter.Router) {
	mux.GET("/session", s.handleConnect)
	mux.GET("/health", s.handleHealth)
	mux.GET("/stats", s.handleStats)
	mux.GET("/sessions/:id", s.handleSessionInfo)

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		ctxlog.From(r.Context()).Error().Interface("panic", v).Str("path", r.URL.Path).Msg("handler panicked")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (s *Service) handleConnect(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if _, err := s.controller.Connections().UpgradeConnection(w, r); err != nil {
		// the upgrader has already written the HTTP error
		ctxlog.From(r.Context()).Warn().Err(err).Msg("failed to upgrade websocket connection")
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.health.ServeHTTP(w, r)
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, r, http.StatusOK, s.GetStats())
}

func (s *Service) handleSessionInfo(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("id")

	if entry, err := s.manager.Get(id); err == nil {
		info := SessionInfo{ID: id, Owner: s.manager.ServerID()}
		err := entry.Do(r.Context(), func(sess *session.Session) {
			info.State = sess.State()
			info.Round = sess.Round()
			for _, pl := range sess.Players() {
				info.Players = append(info.Players, pl.View())
			}
		})
		if err == nil {
			writeJSON(w, r, http.StatusOK, info)
			return
		}
	}

	if s.router != nil {
		owner, err := s.router.Owner(r.Context(), id)
		switch {
		case err == nil && owner != s.manager.ServerID():
			writeJSON(w, r, http.StatusOK, SessionInfo{ID: id, Owner: owner})
			return
		case err != nil && !errors.Is(err, relay.ErrRouteNotFound):
			ctxlog.From(r.Context()).Error().Err(err).Str("session_id", id).Msg("failed to resolve session owner")
			writeJSON(w, r, http.StatusInternalServerError, ErrorDetails{Code: CodeInternal})
			return
		}
	}

	writeJSON(w, r, http.StatusNotFound, ErrorDetails{Code: CodeSessionNotFound})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		ctxlog.From(r.Context()).Error().Err(err).Msg("failed to write response")
	}
}
