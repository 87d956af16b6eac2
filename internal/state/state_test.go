package state

import (
	"testing"
	"time"
)

func TestLogStore_StampsReceiptTime(t *testing.T) {
	s := NewLogStore(10)
	fixed := time.UnixMilli(1700000000000)
	s.now = func() time.Time { return fixed }

	stamped := s.Add(LogEntry{"type": "chat", "message": "hi"})
	if got := stamped["receivedAt"]; got != fixed.UnixMilli() {
		t.Fatalf("receivedAt = %v, want %d", got, fixed.UnixMilli())
	}
	if stamped["message"] != "hi" {
		t.Fatalf("message = %v, want %q", stamped["message"], "hi")
	}
}

func TestLogStore_AddDoesNotMutateInput(t *testing.T) {
	s := NewLogStore(10)
	in := LogEntry{"type": "join"}
	s.Add(in)
	if _, ok := in["receivedAt"]; ok {
		t.Fatal("Add mutated the caller's entry")
	}
}

func TestLogStore_TypeFilter(t *testing.T) {
	s := NewLogStore(10)
	s.Add(LogEntry{"type": "chat", "n": 1})
	s.Add(LogEntry{"type": "join", "n": 2})
	s.Add(LogEntry{"type": "chat", "n": 3})

	chats := s.Recent(10, "chat")
	if len(chats) != 2 {
		t.Fatalf("len = %d, want 2", len(chats))
	}
	if chats[0]["n"] != 3 || chats[1]["n"] != 1 {
		t.Fatalf("got %v, want newest-first chat entries", chats)
	}
}

func TestLogStore_CapacityEviction(t *testing.T) {
	s := NewLogStore(1000)
	for i := 1; i <= 1001; i++ {
		s.Add(LogEntry{"seq": i})
	}
	if s.Len() != 1000 {
		t.Fatalf("len = %d, want 1000", s.Len())
	}
	all := s.Recent(0, "")
	if all[0]["seq"] != 1001 {
		t.Fatalf("newest seq = %v, want 1001", all[0]["seq"])
	}
	if all[len(all)-1]["seq"] != 2 {
		t.Fatalf("oldest seq = %v, want 2", all[len(all)-1]["seq"])
	}
}

func TestHistory_NewestFirst(t *testing.T) {
	h := NewHistory(3)
	for i := 1; i <= 4; i++ {
		h.Append(CommandRecord{Command: "announce", Result: string(rune('a' + i))})
	}
	recent := h.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("len = %d, want 3", len(recent))
	}
	if recent[0].Result != "e" {
		t.Fatalf("newest result = %q, want %q", recent[0].Result, "e")
	}
}

func TestPresence_WholesaleReplace(t *testing.T) {
	p := NewPresence()
	p.Replace([]Player{{Name: "Alice"}, {Name: "Bob"}})
	p.Replace([]Player{{Name: "Cleo"}})

	got := p.Players()
	if len(got) != 1 || got[0].Name != "Cleo" {
		t.Fatalf("players = %v, want only Cleo", got)
	}
	if p.Count() != 1 {
		t.Fatalf("count = %d, want 1", p.Count())
	}
}

func TestPresence_PlayersReturnsCopy(t *testing.T) {
	p := NewPresence()
	p.Replace([]Player{{Name: "Alice"}})
	snap := p.Players()
	p.Replace([]Player{{Name: "Bob"}})
	if snap[0].Name != "Alice" {
		t.Fatal("snapshot changed after Replace")
	}
}
