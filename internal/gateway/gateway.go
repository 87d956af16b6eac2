// Package gateway is the panel-facing HTTP surface: the webhook the
// game server posts back to, the session-authenticated REST API, the
// live observer WebSocket, and the health/metrics endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/basket/panelbridge/internal/audit"
	"github.com/basket/panelbridge/internal/bridge"
	"github.com/basket/panelbridge/internal/bus"
	otelpkg "github.com/basket/panelbridge/internal/otel"
	"github.com/basket/panelbridge/internal/persistence"
	"github.com/basket/panelbridge/internal/session"
	"github.com/basket/panelbridge/internal/state"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// Dispatcher is the slice of the bridge the command routes need.
type Dispatcher interface {
	Dispatch(ctx context.Context, command string, args []string, caller string) bridge.Outcome
}

// Config holds the server's collaborators.
type Config struct {
	Dispatcher Dispatcher
	Router     *bridge.Router
	Registry   *bridge.Registry
	Logs       *state.LogStore
	History    *state.History
	Presence   *state.Presence
	Bus        *bus.Bus
	Store      *persistence.Store
	Sessions   *session.Manager
	Logger     *slog.Logger
	Tracer     trace.Tracer     // optional
	Metrics    *otelpkg.Metrics // optional

	// ConfigFingerprint reports the active config hash for /healthz.
	ConfigFingerprint func() string

	// StaticDir serves panel assets at / when non-empty and present.
	StaticDir string

	// Login rate limiting (per client address).
	LoginRatePerMin int
	LoginBurst      int
}

// Server is the HTTP gateway.
type Server struct {
	cfg        Config
	logger     *slog.Logger
	tracer     trace.Tracer
	loginLimit *rateLimiter
	observers  atomic.Int64
	started    time.Time
}

// New creates a Server from cfg.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rpm := cfg.LoginRatePerMin
	if rpm <= 0 {
		rpm = 10
	}
	burst := cfg.LoginBurst
	if burst <= 0 {
		burst = 5
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer("panelbridge")
	}
	return &Server{
		cfg:        cfg,
		logger:     logger,
		tracer:     tracer,
		loginLimit: newRateLimiter(rpm, burst),
		started:    time.Now(),
	}
}

// Start launches the server's background maintenance: the login
// rate-limit bucket eviction loop. It stops when ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	s.loginLimit.StartEviction(ctx, loginEvictInterval, loginEvictMaxAge)
}

// Handler returns the root handler with all routes mounted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/roblox", s.handleWebhook)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/metrics/prometheus", s.handlePrometheusMetrics)

	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/auth/me", s.requireAuth(s.handleMe))

	mux.HandleFunc("/api/admin/users", s.requireRole(session.RoleOwner, s.handleUsers))
	mux.HandleFunc("/api/admin/users/", s.requireRole(session.RoleOwner, s.handleUserByID))

	mux.HandleFunc("/api/roblox/players", s.requireAuth(s.handlePlayers))
	mux.HandleFunc("/api/roblox/kick", s.commandRoute(session.RoleModerator, "kick", kickArgs))
	mux.HandleFunc("/api/roblox/ban", s.commandRoute(session.RoleAdmin, "ban", banArgs))
	mux.HandleFunc("/api/roblox/unban", s.commandRoute(session.RoleAdmin, "unban", playerArg))
	mux.HandleFunc("/api/roblox/mute", s.commandRoute(session.RoleModerator, "mute", playerArg))
	mux.HandleFunc("/api/roblox/unmute", s.commandRoute(session.RoleModerator, "unmute", playerArg))
	mux.HandleFunc("/api/roblox/announce", s.commandRoute(session.RoleModerator, "announce", messageArg))
	mux.HandleFunc("/api/roblox/shutdown", s.commandRoute(session.RoleOwner, "shutdown", shutdownArgs))
	mux.HandleFunc("/api/roblox/setrank", s.commandRoute(session.RoleAdmin, "setrank", setrankArgs))
	mux.HandleFunc("/api/roblox/raw", s.commandRoute(session.RoleOwner, "raw", rawArgs))

	mux.HandleFunc("/api/logs", s.requireAuth(s.handleLogs))
	mux.HandleFunc("/api/logs/commands", s.requireAuth(s.handleCommandHistory))

	mux.HandleFunc("/api/schedules", s.requireRole(session.RoleAdmin, s.handleSchedules))
	mux.HandleFunc("/api/schedules/", s.requireRole(session.RoleAdmin, s.handleScheduleByID))

	if s.cfg.StaticDir != "" {
		if _, err := os.Stat(s.cfg.StaticDir); err == nil {
			mux.Handle("/", http.FileServer(http.Dir(s.cfg.StaticDir)))
		}
	}
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	dbOK := true
	if _, err := s.cfg.Store.CountUsers(context.Background()); err != nil {
		dbOK = false
	}
	fingerprint := ""
	if s.cfg.ConfigFingerprint != nil {
		fingerprint = s.cfg.ConfigFingerprint()
	}
	payload := map[string]any{
		"healthy":        dbOK,
		"db_ok":          dbOK,
		"pending_calls":  s.cfg.Registry.Pending(),
		"observers":      s.observers.Load(),
		"online_players": s.cfg.Presence.Count(),
		"config":         fingerprint,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	}
	if !dbOK {
		writeJSON(w, http.StatusServiceUnavailable, payload)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(r); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	mem := &runtime.MemStats{}
	runtime.ReadMemStats(mem)
	writeJSON(w, http.StatusOK, map[string]any{
		"pending_calls":   s.cfg.Registry.Pending(),
		"observers":       s.observers.Load(),
		"online_players":  s.cfg.Presence.Count(),
		"retained_logs":   s.cfg.Logs.Len(),
		"command_history": s.cfg.History.Len(),
		"audit_denies":    audit.DenyCount(),
		"alloc_bytes":     mem.Alloc,
		"goroutines":      runtime.NumGoroutine(),
	})
}

func (s *Server) handlePrometheusMetrics(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(r); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	mem := &runtime.MemStats{}
	runtime.ReadMemStats(mem)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	fmt.Fprintf(w, "# HELP panelbridge_pending_calls Commands awaiting a game-server answer.\n")
	fmt.Fprintf(w, "# TYPE panelbridge_pending_calls gauge\n")
	fmt.Fprintf(w, "panelbridge_pending_calls %d\n", s.cfg.Registry.Pending())
	fmt.Fprintf(w, "# HELP panelbridge_observers Connected panel WebSocket observers.\n")
	fmt.Fprintf(w, "# TYPE panelbridge_observers gauge\n")
	fmt.Fprintf(w, "panelbridge_observers %d\n", s.observers.Load())
	fmt.Fprintf(w, "# HELP panelbridge_online_players Players reported by the last presence push.\n")
	fmt.Fprintf(w, "# TYPE panelbridge_online_players gauge\n")
	fmt.Fprintf(w, "panelbridge_online_players %d\n", s.cfg.Presence.Count())
	fmt.Fprintf(w, "# HELP panelbridge_retained_logs Log entries currently retained.\n")
	fmt.Fprintf(w, "# TYPE panelbridge_retained_logs gauge\n")
	fmt.Fprintf(w, "panelbridge_retained_logs %d\n", s.cfg.Logs.Len())
	fmt.Fprintf(w, "# HELP panelbridge_command_history Command records currently retained.\n")
	fmt.Fprintf(w, "# TYPE panelbridge_command_history gauge\n")
	fmt.Fprintf(w, "panelbridge_command_history %d\n", s.cfg.History.Len())
	fmt.Fprintf(w, "# HELP panelbridge_audit_denies_total Deny decisions since startup.\n")
	fmt.Fprintf(w, "# TYPE panelbridge_audit_denies_total counter\n")
	fmt.Fprintf(w, "panelbridge_audit_denies_total %d\n", audit.DenyCount())
	fmt.Fprintf(w, "# HELP panelbridge_alloc_bytes Current allocated memory in bytes.\n")
	fmt.Fprintf(w, "# TYPE panelbridge_alloc_bytes gauge\n")
	fmt.Fprintf(w, "panelbridge_alloc_bytes %d\n", mem.Alloc)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(dst)
}
