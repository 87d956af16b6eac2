package gateway

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/basket/panelbridge/internal/session"
	"github.com/basket/panelbridge/internal/shared"
)

const (
	maxLogLimit     = 500
	defaultLogLimit = 100
	historyLimit    = 100
)

// commandBody is the union of every command route's request body; each
// extractor picks the fields it needs.
type commandBody struct {
	Player  string   `json:"player"`
	Reason  string   `json:"reason"`
	Message string   `json:"message"`
	Rank    string   `json:"rank"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// argExtractor turns a request body into dispatch args, or an error
// describing the missing field.
type argExtractor func(commandBody) ([]string, error)

func kickArgs(b commandBody) ([]string, error) {
	if b.Player == "" {
		return nil, fmt.Errorf("player required")
	}
	reason := b.Reason
	if reason == "" {
		reason = "Kicked via WebPanel"
	}
	return []string{b.Player, reason}, nil
}

func banArgs(b commandBody) ([]string, error) {
	if b.Player == "" {
		return nil, fmt.Errorf("player required")
	}
	reason := b.Reason
	if reason == "" {
		reason = "Banned via WebPanel"
	}
	return []string{b.Player, reason}, nil
}

func playerArg(b commandBody) ([]string, error) {
	if b.Player == "" {
		return nil, fmt.Errorf("player required")
	}
	return []string{b.Player}, nil
}

func messageArg(b commandBody) ([]string, error) {
	if b.Message == "" {
		return nil, fmt.Errorf("message required")
	}
	return []string{b.Message}, nil
}

func shutdownArgs(b commandBody) ([]string, error) {
	reason := b.Reason
	if reason == "" {
		reason = "Shutdown via WebPanel"
	}
	return []string{reason}, nil
}

func setrankArgs(b commandBody) ([]string, error) {
	if b.Player == "" || b.Rank == "" {
		return nil, fmt.Errorf("player and rank required")
	}
	return []string{b.Player, b.Rank}, nil
}

func rawArgs(b commandBody) ([]string, error) {
	if b.Command == "" {
		return nil, fmt.Errorf("command required")
	}
	return append([]string{b.Command}, b.Args...), nil
}

// commandRoute builds a POST handler that dispatches one game-server
// command on behalf of the session's account name.
func (s *Server) commandRoute(minRole, command string, extract argExtractor) http.HandlerFunc {
	return s.requireRole(minRole, func(w http.ResponseWriter, r *http.Request, claims session.Claims) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body commandBody
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		args, err := extract(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		ctx := shared.WithTraceID(r.Context(), shared.NewTraceID())
		outcome := s.cfg.Dispatcher.Dispatch(ctx, command, args, claims.Name)
		writeJSON(w, http.StatusOK, outcome)
	})
}

func (s *Server) handlePlayers(w http.ResponseWriter, r *http.Request, _ session.Claims) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Presence.Players())
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request, _ session.Claims) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	entryType := r.URL.Query().Get("type")
	writeJSON(w, http.StatusOK, s.cfg.Logs.Recent(limit, entryType))
}

func (s *Server) handleCommandHistory(w http.ResponseWriter, r *http.Request, _ session.Claims) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.History.Recent(historyLimit))
}
