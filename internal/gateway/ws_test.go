package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/panelbridge/internal/bus"
	"github.com/basket/panelbridge/internal/session"
	"github.com/basket/panelbridge/internal/state"
)

type rawEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func wsURL(env *testEnv, token string) string {
	url := strings.Replace(env.http.URL, "http://", "ws://", 1) + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	return url
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) rawEvent {
	t.Helper()
	var ev rawEvent
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func TestWS_RejectsBadToken(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(env, "not-a-token"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var ev rawEvent
	err = wsjson.Read(ctx, conn, &ev)
	if err == nil {
		t.Fatalf("read succeeded on unauthenticated socket: %+v", ev)
	}
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("close status = %v, want policy violation", websocket.CloseStatus(err))
	}
}

func TestWS_InitSnapshotThenLiveEvents(t *testing.T) {
	env := newTestEnv(t)
	env.presence.Replace([]state.Player{{Name: "A"}})
	env.logs.Add(state.LogEntry{"type": "chat", "message": "earlier"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token := env.token(t, "mod1", session.RoleModerator)
	conn, _, err := websocket.Dial(ctx, wsURL(env, token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	init := readEvent(t, ctx, conn)
	if init.Type != "init" {
		t.Fatalf("first event type = %q, want init", init.Type)
	}
	var snapshot struct {
		Players []state.Player   `json:"players"`
		Logs    []state.LogEntry `json:"logs"`
	}
	if err := json.Unmarshal(init.Data, &snapshot); err != nil {
		t.Fatalf("decode init: %v", err)
	}
	if len(snapshot.Players) != 1 || len(snapshot.Logs) != 1 {
		t.Fatalf("snapshot = %+v", snapshot)
	}

	// The observer must be subscribed before publishing; poll the bus.
	waitUntil(t, func() bool { return env.bus.SubscriberCount() == 1 })

	entry := env.logs.Add(state.LogEntry{"type": "chat", "message": "live"})
	env.bus.Publish(bus.TopicRemoteLog, entry)

	logEv := readEvent(t, ctx, conn)
	if logEv.Type != "log" {
		t.Fatalf("event type = %q, want log", logEv.Type)
	}
	var got state.LogEntry
	if err := json.Unmarshal(logEv.Data, &got); err != nil {
		t.Fatalf("decode log: %v", err)
	}
	if got["message"] != "live" {
		t.Fatalf("log = %v", got)
	}

	players := []state.Player{{Name: "A"}, {Name: "B"}}
	env.presence.Replace(players)
	env.bus.Publish(bus.TopicRemotePlayers, players)

	playersEv := readEvent(t, ctx, conn)
	if playersEv.Type != "players" {
		t.Fatalf("event type = %q, want players", playersEv.Type)
	}
	var roster []state.Player
	if err := json.Unmarshal(playersEv.Data, &roster); err != nil {
		t.Fatalf("decode players: %v", err)
	}
	if len(roster) != 2 {
		t.Fatalf("roster = %+v", roster)
	}
}

func TestWS_ObserverCountAndUnsubscribe(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token := env.token(t, "mod1", session.RoleModerator)
	conn, _, err := websocket.Dial(ctx, wsURL(env, token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readEvent(t, ctx, conn) // init

	waitUntil(t, func() bool { return env.server.observers.Load() == 1 })
	waitUntil(t, func() bool { return env.bus.SubscriberCount() == 1 })

	conn.Close(websocket.StatusNormalClosure, "done")

	// Disconnect must release both the observer slot and the bus
	// subscription.
	waitUntil(t, func() bool { return env.server.observers.Load() == 0 })
	waitUntil(t, func() bool { return env.bus.SubscriberCount() == 0 })
}

func TestWS_SlowObserverDoesNotBlockOthers(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	token := env.token(t, "mod1", session.RoleModerator)
	fast, _, err := websocket.Dial(ctx, wsURL(env, token), nil)
	if err != nil {
		t.Fatalf("dial fast: %v", err)
	}
	defer fast.Close(websocket.StatusNormalClosure, "")
	slow, _, err := websocket.Dial(ctx, wsURL(env, token), nil)
	if err != nil {
		t.Fatalf("dial slow: %v", err)
	}
	defer slow.Close(websocket.StatusNormalClosure, "")

	readEvent(t, ctx, fast)
	readEvent(t, ctx, slow)
	waitUntil(t, func() bool { return env.bus.SubscriberCount() == 2 })

	// The slow observer never reads again; the fast one must still
	// receive every event.
	for i := 0; i < 5; i++ {
		env.bus.Publish(bus.TopicRemoteLog, state.LogEntry{"n": i})
	}
	for i := 0; i < 5; i++ {
		ev := readEvent(t, ctx, fast)
		if ev.Type != "log" {
			t.Fatalf("event %d type = %q", i, ev.Type)
		}
	}
}
