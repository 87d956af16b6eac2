package state

import "sync"

// Presence holds the latest full list of online players. Each push from
// the game server replaces the list wholesale; there are no incremental
// updates.
type Presence struct {
	mu      sync.RWMutex
	players []Player
}

// NewPresence creates an empty Presence.
func NewPresence() *Presence {
	return &Presence{}
}

// Replace swaps in the new player list.
func (p *Presence) Replace(players []Player) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.players = players
}

// Players returns the current list. The returned slice is a copy and
// safe to hold across further replacements.
func (p *Presence) Players() []Player {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Player, len(p.players))
	copy(out, p.players)
	return out
}

// Count returns the number of online players.
func (p *Presence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.players)
}
