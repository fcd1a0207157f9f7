package control

import (
	"sync"
	"time"
)

const MaxEvents = 100

// Event is one entry of the operator log.
type Event struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
	Error   bool      `json:"error"`
}

// eventLog keeps the newest MaxEvents entries.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	if over := len(l.events) - MaxEvents; over > 0 {
		l.events = append(l.events[:0:0], l.events[over:]...)
	}
}

func (l *eventLog) list() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}
