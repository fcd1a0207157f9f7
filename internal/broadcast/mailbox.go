package broadcast

import (
	"sync"

	"github.com/komcat/SiphogAdapter/internal/telemetry"
)

// Mailbox is a single-slot cell: Put overwrites whatever is pending and Take
// empties it. A slow reader only ever sees the newest sample.
type Mailbox struct {
	mu          sync.Mutex
	msg         telemetry.MessageModel
	dirty       bool
	overwritten uint64
}

func (m *Mailbox) Put(msg telemetry.MessageModel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dirty {
		m.overwritten++
	}
	m.msg = msg
	m.dirty = true
}

// Take returns the pending sample and clears the slot. ok is false when
// nothing arrived since the previous Take.
func (m *Mailbox) Take() (msg telemetry.MessageModel, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirty {
		return telemetry.MessageModel{}, false
	}
	m.dirty = false
	return m.msg, true
}

func (m *Mailbox) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty
}

// Overwritten counts samples replaced before anyone took them.
func (m *Mailbox) Overwritten() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overwritten
}
