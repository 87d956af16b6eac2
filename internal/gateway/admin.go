package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/basket/panelbridge/internal/audit"
	"github.com/basket/panelbridge/internal/persistence"
	"github.com/basket/panelbridge/internal/session"
)

type createUserRequest struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request, claims session.Claims) {
	switch r.Method {
	case http.MethodGet:
		users, err := s.cfg.Store.ListUsers(r.Context())
		if err != nil {
			s.logger.Error("list users failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if users == nil {
			users = []persistence.User{}
		}
		writeJSON(w, http.StatusOK, users)

	case http.MethodPost:
		var req createUserRequest
		if err := readJSON(r, &req); err != nil || req.Username == "" {
			writeError(w, http.StatusBadRequest, "username required")
			return
		}
		if req.Role == "" {
			req.Role = session.RoleModerator
		}
		if !session.ValidRole(req.Role) {
			writeError(w, http.StatusBadRequest, "unknown role")
			return
		}

		user, password, err := s.cfg.Store.CreateUser(r.Context(), req.Username, req.Role)
		if errors.Is(err, persistence.ErrUserExists) {
			writeError(w, http.StatusConflict, "username already taken")
			return
		}
		if err != nil {
			s.logger.Error("create user failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		audit.Record("admin.user.create", claims.Name, "ok", user.Username+" as "+user.Role)
		// The generated password is returned exactly once.
		writeJSON(w, http.StatusOK, map[string]any{
			"id":       user.ID,
			"username": user.Username,
			"role":     user.Role,
			"password": password,
		})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleUserByID(w http.ResponseWriter, r *http.Request, claims session.Claims) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/admin/users/")
	idPart, action, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	switch {
	case r.Method == http.MethodDelete && action == "":
		err := s.cfg.Store.DeleteUser(r.Context(), id)
		switch {
		case errors.Is(err, persistence.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		case errors.Is(err, persistence.ErrLastOwnerRemoval):
			writeError(w, http.StatusConflict, "cannot remove the last owner")
		case err != nil:
			s.logger.Error("delete user failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		default:
			audit.Record("admin.user.delete", claims.Name, "ok", idPart)
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		}

	case r.Method == http.MethodPost && action == "reset-password":
		password, err := s.cfg.Store.ResetPassword(r.Context(), id)
		if errors.Is(err, persistence.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		if err != nil {
			s.logger.Error("reset password failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		audit.Record("admin.user.reset_password", claims.Name, "ok", idPart)
		writeJSON(w, http.StatusOK, map[string]string{"password": password})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
