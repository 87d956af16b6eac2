package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRecord_WritesJSONL(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record("command.kick", "Alice", "ok", "Bob rule violation")

	data, err := os.ReadFile(filepath.Join(home, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	line := strings.TrimSpace(string(data))
	var ev map[string]string
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}
	if ev["action"] != "command.kick" || ev["actor"] != "Alice" || ev["decision"] != "ok" {
		t.Fatalf("unexpected entry: %v", ev)
	}
}

func TestRecord_RedactsSecrets(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record("webhook.callback", "", "deny", "secret=supersecretvalue123 mismatch")

	data, err := os.ReadFile(filepath.Join(home, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	if strings.Contains(string(data), "supersecretvalue123") {
		t.Fatal("secret was persisted unredacted")
	}
}

func TestDenyCount(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	before := DenyCount()
	Record("auth.login", "mallory", "deny", "bad credentials")
	if got := DenyCount(); got != before+1 {
		t.Fatalf("deny count = %d, want %d", got, before+1)
	}
}
