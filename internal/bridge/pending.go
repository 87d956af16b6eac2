// Package bridge implements the correlated command path between the
// panel and the game server: a one-way publish to the Open Cloud
// messaging topic is collapsed into a bounded-wait call by correlating
// the outbound envelope with an eventual webhook answer.
package bridge

import (
	"sync"
	"time"
)

// DefaultCallTimeout is how long a dispatched command waits for its
// answer before a timeout outcome is synthesized.
const DefaultCallTimeout = 10 * time.Second

// TimeoutResult is the Outcome.Result of a call that expired unanswered.
const TimeoutResult = "timeout"

// Outcome is the final result of one dispatched command, whether it
// came from the game server or was synthesized locally.
type Outcome struct {
	Success bool   `json:"success"`
	Result  string `json:"result"`
}

type pendingCall struct {
	done  chan Outcome // buffered(1); receives exactly one value
	timer *time.Timer
}

// Registry tracks in-flight commands by correlation id. Each entry is
// resolved exactly once, by the webhook answer or by its timeout timer,
// whichever fires first; the loser finds the entry gone and is a no-op.
type Registry struct {
	mu      sync.Mutex
	timeout time.Duration
	calls   map[string]*pendingCall
}

// NewRegistry creates a Registry. A non-positive timeout uses
// DefaultCallTimeout.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Registry{
		timeout: timeout,
		calls:   make(map[string]*pendingCall),
	}
}

// Register inserts a pending call under id and arms its timeout timer.
// The returned channel yields the single resolution. Callers must use
// fresh ids; the dispatcher guarantees uniqueness by construction.
func (r *Registry) Register(id string) <-chan Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	call := &pendingCall{done: make(chan Outcome, 1)}
	call.timer = time.AfterFunc(r.timeout, func() {
		r.Resolve(id, Outcome{Success: false, Result: TimeoutResult})
	})
	r.calls[id] = call
	return call.done
}

// Resolve completes the pending call for id with outcome and reports
// whether a match existed. An unknown id (already resolved, timed out,
// or forged) is a silent no-op returning false. The entry is removed
// under the lock before the outcome is delivered, so a racing timeout
// and genuine answer can never both reach the waiter.
func (r *Registry) Resolve(id string, outcome Outcome) bool {
	r.mu.Lock()
	call, ok := r.calls[id]
	if ok {
		delete(r.calls, id)
		call.timer.Stop()
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	call.done <- outcome
	return true
}

// Pending returns the number of in-flight calls.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
