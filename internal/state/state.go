// Package state holds the bridge's in-memory, process-lifetime view of
// the remote game server: recent logs, command history, and the current
// presence snapshot. All of it is deliberately ephemeral; nothing here
// survives a restart.
package state

import (
	"time"

	"github.com/basket/panelbridge/internal/ring"
)

const (
	// DefaultLogCapacity bounds the retained log entries.
	DefaultLogCapacity = 1000
	// DefaultHistoryCapacity bounds the retained command history.
	DefaultHistoryCapacity = 500
)

// LogEntry is one structured log record pushed by the game server. The
// fields are whatever the server sent; Add stamps "receivedAt" with
// epoch milliseconds at ingestion time.
type LogEntry map[string]any

// Type returns the entry's "type" field, or "" when absent.
func (e LogEntry) Type() string {
	t, _ := e["type"].(string)
	return t
}

// CommandRecord is one completed command dispatch, whatever its outcome.
type CommandRecord struct {
	Command string    `json:"command"`
	Args    []string  `json:"args"`
	Caller  string    `json:"caller"`
	Success bool      `json:"success"`
	Result  string    `json:"result"`
	At      time.Time `json:"at"`
}

// Player is one online player as reported by the game server.
type Player struct {
	UserID      int64  `json:"userId,omitempty"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	AccountAge  int    `json:"accountAge,omitempty"`
	Team        string `json:"team,omitempty"`
}

// LogStore is the bounded, newest-first store of remote log entries.
type LogStore struct {
	buf *ring.Buffer[LogEntry]
	now func() time.Time
}

// NewLogStore creates a LogStore with the given capacity (0 uses the
// default).
func NewLogStore(capacity int) *LogStore {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &LogStore{
		buf: ring.New[LogEntry](capacity),
		now: time.Now,
	}
}

// Add stamps the entry with a receipt timestamp and inserts it as the
// newest, evicting the oldest if over capacity. The stamped copy is
// returned so callers can fan it out without re-reading the store.
func (s *LogStore) Add(entry LogEntry) LogEntry {
	stamped := make(LogEntry, len(entry)+1)
	for k, v := range entry {
		stamped[k] = v
	}
	stamped["receivedAt"] = s.now().UnixMilli()
	s.buf.Push(stamped)
	return stamped
}

// Recent returns up to limit entries newest-first. A non-empty
// entryType keeps only entries whose "type" field matches.
func (s *LogStore) Recent(limit int, entryType string) []LogEntry {
	if entryType == "" {
		return s.buf.Newest(limit)
	}
	return s.buf.NewestFunc(limit, func(e LogEntry) bool {
		return e.Type() == entryType
	})
}

// Len returns the number of retained entries.
func (s *LogStore) Len() int { return s.buf.Len() }

// History is the bounded, newest-first store of command records.
type History struct {
	buf *ring.Buffer[CommandRecord]
}

// NewHistory creates a History with the given capacity (0 uses the
// default).
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{buf: ring.New[CommandRecord](capacity)}
}

// Append records a completed dispatch, evicting the oldest record if
// over capacity.
func (h *History) Append(rec CommandRecord) {
	h.buf.Push(rec)
}

// Recent returns up to limit records newest-first.
func (h *History) Recent(limit int) []CommandRecord {
	return h.buf.Newest(limit)
}

// Len returns the number of retained records.
func (h *History) Len() int { return h.buf.Len() }
