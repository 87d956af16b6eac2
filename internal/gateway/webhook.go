package gateway

import (
	"io"
	"net/http"

	otelpkg "github.com/basket/panelbridge/internal/otel"
)

const maxWebhookBodyBytes = 1 << 20

// handleWebhook is the single ingress for everything the game server
// reports back. The response is committed before routing: the remote
// plugin only needs its post acknowledged, and a slow pending-call
// consumer must not hold its HTTP request open.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	_, span := otelpkg.StartServerSpan(r.Context(), s.tracer, "webhook.receive")
	defer span.End()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	payload, err := s.cfg.Router.Decode(body)
	if err != nil {
		s.logger.Warn("webhook rejected: malformed payload", "error", err)
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	if !s.cfg.Router.Authenticate(payload) {
		writeError(w, http.StatusForbidden, "invalid secret")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	s.cfg.Router.Route(payload)
}
