package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/panelbridge/internal/bus"
	"github.com/basket/panelbridge/internal/state"
)

const (
	initLogCount   = 50
	wsWriteTimeout = 5 * time.Second
)

// wsEvent is the wire shape for every observer push.
type wsEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type initData struct {
	Players []state.Player   `json:"players"`
	Logs    []state.LogEntry `json:"logs"`
}

// handleWS upgrades a panel observer connection. The token travels as a
// query parameter because browser WebSocket clients cannot set headers;
// a bad token closes the socket with a policy violation status.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	claims, err := s.cfg.Sessions.Verify(r.URL.Query().Get("token"))
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "unauthorized")
		return
	}

	s.observers.Add(1)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.Observers.Add(r.Context(), 1)
	}
	s.logger.Info("observer connected", "user", claims.Name)
	defer func() {
		s.observers.Add(-1)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.Observers.Add(context.Background(), -1)
		}
		s.logger.Info("observer disconnected", "user", claims.Name)
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	// Warm start: current presence plus the newest logs, so the panel
	// renders without waiting for the next push.
	init := wsEvent{Type: "init", Data: initData{
		Players: s.cfg.Presence.Players(),
		Logs:    s.cfg.Logs.Recent(initLogCount, ""),
	}}
	if err := writeTimeout(r.Context(), conn, init); err != nil {
		return
	}

	sub := s.cfg.Bus.Subscribe("")
	defer s.cfg.Bus.Unsubscribe(sub)

	// CloseRead watches for the client going away; observers never send
	// anything meaningful.
	readCtx := conn.CloseRead(r.Context())

	for {
		select {
		case <-readCtx.Done():
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			out, match := translate(ev)
			if !match {
				continue
			}
			if err := writeTimeout(readCtx, conn, out); err != nil {
				return
			}
		}
	}
}

// translate maps a bus event onto the panel wire format.
func translate(ev bus.Event) (wsEvent, bool) {
	switch ev.Topic {
	case bus.TopicRemoteLog:
		return wsEvent{Type: "log", Data: ev.Payload}, true
	case bus.TopicRemotePlayers:
		return wsEvent{Type: "players", Data: ev.Payload}, true
	case bus.TopicCommandDispatched:
		return wsEvent{Type: "command", Data: ev.Payload}, true
	default:
		return wsEvent{}, false
	}
}

func writeTimeout(ctx context.Context, conn *websocket.Conn, payload any) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, payload)
}
