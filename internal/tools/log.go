package tools

import (
	"sync"

	"github.com/callpilot/callpilot/internal/models"
)

// Log is the append-only tool invocation log of one session. Tool handlers
// may run on transport goroutines, so every access is locked.
type Log struct {
	mu      sync.Mutex
	entries []models.ToolInvocation
}

func (l *Log) Append(inv models.ToolInvocation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, inv)
}

// Entries returns a copy of the log in invocation order.
func (l *Log) Entries() []models.ToolInvocation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.ToolInvocation(nil), l.entries...)
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
