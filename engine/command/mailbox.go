// Package command holds the single pending robot command. The web UI writes
// it and the robot polls it; only the latest write is kept.
package command

import (
	"sync"
	"time"
)

// Command is the pending action and when it was read.
type Command struct {
	Action    string  `json:"action"`
	Timestamp float64 `json:"timestamp"`
}

// Mailbox is a thread-safe single slot. The zero value is empty and ready
// to use.
type Mailbox struct {
	mu     sync.RWMutex
	action string
	now    func() time.Time
}

// NewMailbox creates an empty Mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{now: time.Now}
}

// Set replaces the pending action.
func (m *Mailbox) Set(action string) {
	m.mu.Lock()
	m.action = action
	m.mu.Unlock()
}

// Get returns the pending action stamped with the current Unix time in
// seconds. Reading does not consume the action.
func (m *Mailbox) Get() Command {
	m.mu.RLock()
	action := m.action
	m.mu.RUnlock()

	now := time.Now
	if m.now != nil {
		now = m.now
	}
	t := now()
	return Command{Action: action, Timestamp: float64(t.UnixNano()) / 1e9}
}

// Clear empties the slot.
func (m *Mailbox) Clear() {
	m.Set("")
}
