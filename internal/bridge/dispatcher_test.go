package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/basket/panelbridge/internal/state"
)

// capturingPublisher records published envelopes and optionally fails.
type capturingPublisher struct {
	mu        sync.Mutex
	envelopes []Envelope
	err       error
}

func (p *capturingPublisher) Publish(_ context.Context, env Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.envelopes = append(p.envelopes, env)
	return nil
}

func (p *capturingPublisher) last() (Envelope, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.envelopes) == 0 {
		return Envelope{}, false
	}
	return p.envelopes[len(p.envelopes)-1], true
}

func newTestDispatcher(t *testing.T, pub MessagePublisher, timeout time.Duration) (*Dispatcher, *Registry, *state.History) {
	t.Helper()
	reg := NewRegistry(timeout)
	hist := state.NewHistory(0)
	d := NewDispatcher(DispatcherConfig{
		Publisher: pub,
		Registry:  reg,
		History:   hist,
		Secret:    "shared-secret",
	})
	return d, reg, hist
}

func TestDispatcher_AnswerResolvesCall(t *testing.T) {
	pub := &capturingPublisher{}
	d, reg, hist := newTestDispatcher(t, pub, 5*time.Second)

	outcomes := make(chan Outcome, 1)
	go func() {
		outcomes <- d.Dispatch(context.Background(), "kick", []string{"Troublemaker", "spamming"}, "mod1")
	}()

	// Wait for the dispatch to register before answering, the way the
	// game server would some time later.
	waitPending(t, reg, 1)
	env, ok := pub.last()
	if !ok {
		t.Fatal("nothing was published")
	}
	if env.Command != "kick" || env.Caller != "mod1" {
		t.Fatalf("published envelope = %+v", env)
	}
	if env.Secret != "shared-secret" {
		t.Fatalf("envelope secret = %q", env.Secret)
	}
	if env.RequestID == "" {
		t.Fatal("envelope has no request id")
	}

	if !reg.Resolve(env.RequestID, Outcome{Success: true, Result: "kicked"}) {
		t.Fatal("resolve failed for in-flight call")
	}

	out := <-outcomes
	if !out.Success || out.Result != "kicked" {
		t.Fatalf("outcome = %+v, want success kicked", out)
	}

	recent := hist.Recent(1)
	if len(recent) != 1 {
		t.Fatalf("history length = %d, want 1", len(recent))
	}
	rec := recent[0]
	if rec.Command != "kick" || !rec.Success || rec.Result != "kicked" || rec.Caller != "mod1" {
		t.Fatalf("history record = %+v", rec)
	}
}

func TestDispatcher_TimeoutYieldsFailedOutcome(t *testing.T) {
	pub := &capturingPublisher{}
	d, _, hist := newTestDispatcher(t, pub, 30*time.Millisecond)

	out := d.Dispatch(context.Background(), "ban", []string{"Cheater", "exploits"}, "admin1")
	if out.Success {
		t.Fatal("timed-out dispatch reported success")
	}
	if out.Result != TimeoutResult {
		t.Fatalf("result = %q, want %q", out.Result, TimeoutResult)
	}

	recent := hist.Recent(1)
	if len(recent) != 1 || recent[0].Success || recent[0].Result != TimeoutResult {
		t.Fatalf("history = %+v, want one failed timeout record", recent)
	}
}

func TestDispatcher_PublishFailureShortCircuits(t *testing.T) {
	pub := &capturingPublisher{err: &TransportError{Status: 401, Detail: "Invalid API key"}}
	d, reg, hist := newTestDispatcher(t, pub, 5*time.Second)

	start := time.Now()
	out := d.Dispatch(context.Background(), "kick", []string{"Someone"}, "mod1")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("failed publish blocked for %s", elapsed)
	}

	if out.Success {
		t.Fatal("outcome reported success despite publish failure")
	}
	if !strings.HasPrefix(out.Result, "publish error: ") {
		t.Fatalf("result = %q, want publish error prefix", out.Result)
	}
	if !strings.Contains(out.Result, "Invalid API key") {
		t.Fatalf("result = %q, want upstream detail", out.Result)
	}
	if reg.Pending() != 0 {
		t.Fatalf("pending = %d, want 0 when nothing went out", reg.Pending())
	}
	if hist.Len() != 1 {
		t.Fatalf("history length = %d, want the failed attempt recorded", hist.Len())
	}
}

func TestDispatcher_PlainErrorSurfacesAsPublishError(t *testing.T) {
	pub := &capturingPublisher{err: errors.New("connection refused")}
	d, _, _ := newTestDispatcher(t, pub, 5*time.Second)

	out := d.Dispatch(context.Background(), "announce", []string{"hello"}, "owner")
	if out.Success || !strings.Contains(out.Result, "connection refused") {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestDispatcher_ConcurrentCallsResolveIndependently(t *testing.T) {
	pub := &capturingPublisher{}
	d, reg, _ := newTestDispatcher(t, pub, 5*time.Second)

	first := make(chan Outcome, 1)
	second := make(chan Outcome, 1)
	go func() { first <- d.Dispatch(context.Background(), "mute", []string{"A"}, "mod1") }()
	go func() { second <- d.Dispatch(context.Background(), "mute", []string{"B"}, "mod2") }()
	waitPending(t, reg, 2)

	pub.mu.Lock()
	envs := append([]Envelope(nil), pub.envelopes...)
	pub.mu.Unlock()
	if len(envs) != 2 {
		t.Fatalf("published %d envelopes, want 2", len(envs))
	}
	if envs[0].RequestID == envs[1].RequestID {
		t.Fatal("two dispatches shared a correlation id")
	}

	// Answer in reverse publish order; each call must get its own
	// answer.
	reg.Resolve(envs[1].RequestID, Outcome{Success: true, Result: "muted " + envs[1].Args[0]})
	reg.Resolve(envs[0].RequestID, Outcome{Success: true, Result: "muted " + envs[0].Args[0]})

	got := map[string]bool{(<-first).Result: true, (<-second).Result: true}
	if !got["muted A"] || !got["muted B"] {
		t.Fatalf("outcomes = %v", got)
	}
}

func waitPending(t *testing.T, reg *Registry, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if reg.Pending() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("pending never reached %d (now %d)", want, reg.Pending())
}
