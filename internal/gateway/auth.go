package gateway

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/basket/panelbridge/internal/audit"
	"github.com/basket/panelbridge/internal/persistence"
	"github.com/basket/panelbridge/internal/session"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  sessionUser `json:"user"`
}

type sessionUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.loginLimit.Allow(clientAddr(r)) {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	var req loginRequest
	if err := readJSON(r, &req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}

	user, err := s.cfg.Store.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, persistence.ErrBadCredentials) {
		audit.Record("auth.login", req.Username, "deny", "bad credentials")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		s.logger.Error("login lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	token, err := s.cfg.Sessions.Mint(user.ID, user.Username, user.Role)
	if err != nil {
		s.logger.Error("token mint failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	audit.Record("auth.login", user.Username, "ok", "")
	writeJSON(w, http.StatusOK, loginResponse{
		Token: token,
		User:  sessionUser{ID: user.ID, Username: user.Username, Role: user.Role},
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, claims session.Claims) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": sessionUser{ID: claims.UserID, Username: claims.Name, Role: claims.Role},
	})
}

// authedHandler is an http.HandlerFunc that also receives the verified
// session claims.
type authedHandler func(http.ResponseWriter, *http.Request, session.Claims)

// authenticate extracts and verifies the bearer token.
func (s *Server) authenticate(r *http.Request) (session.Claims, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return session.Claims{}, false
	}
	claims, err := s.cfg.Sessions.Verify(strings.TrimSpace(strings.TrimPrefix(authz, prefix)))
	if err != nil {
		return session.Claims{}, false
	}
	return claims, true
}

// requireAuth rejects requests without a valid session token.
func (s *Server) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := s.authenticate(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, claims)
	}
}

// requireRole additionally demands at least the given role.
func (s *Server) requireRole(min string, next authedHandler) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request, claims session.Claims) {
		if !session.RoleAtLeast(claims.Role, min) {
			audit.Record("auth.role", claims.Name, "deny", r.URL.Path)
			writeError(w, http.StatusForbidden, "insufficient role")
			return
		}
		next(w, r, claims)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
