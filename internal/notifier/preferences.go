package notifier

import "sync"

// Preferences stores per-user, per-level opt-outs. Anything never set is
// enabled.
type Preferences struct {
	mu sync.RWMutex
	m  map[string]map[Level]bool
}

func NewPreferences() *Preferences {
	return &Preferences{m: map[string]map[Level]bool{}}
}

func (p *Preferences) Set(userID string, level Level, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	byLevel := p.m[userID]
	if byLevel == nil {
		byLevel = make(map[Level]bool, len(Levels))
		p.m[userID] = byLevel
	}
	byLevel[level] = enabled
}

func (p *Preferences) Enabled(userID string, level Level) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	enabled, ok := p.m[userID][level]
	return !ok || enabled
}

// Of returns the effective setting of every level for userID.
func (p *Preferences) Of(userID string) map[Level]bool {
	out := make(map[Level]bool, len(Levels))
	for _, l := range Levels {
		out[l] = p.Enabled(userID, l)
	}
	return out
}
