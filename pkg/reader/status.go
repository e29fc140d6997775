package reader

import "sync"

// Status is the coarse reader state shown to the host application.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusConnected
	StatusDisabled
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisabled:
		return "disabled"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// StatusFeed holds the latest Status and broadcasts every change.
//
// Each subscriber has a one-slot channel. A subscriber that falls behind only
// sees the most recent value: an unread status is replaced, never queued.
type StatusFeed struct {
	mu      sync.Mutex
	current Status
	subs    map[int]chan Status
	nextID  int
}

// NewStatusFeed returns a feed in StatusIdle.
func NewStatusFeed() *StatusFeed {
	return &StatusFeed{subs: make(map[int]chan Status)}
}

// Current returns the last published status.
func (f *StatusFeed) Current() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Publish sets the current status and notifies every subscriber.
// Hosts use it to report StatusDisabled when the radio is off.
func (f *StatusFeed) Publish(s Status) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.current = s
	for _, ch := range f.subs {
		// Drop the stale value, if any, so the send never blocks.
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

// Subscribe returns a channel primed with the current status and a function
// that unsubscribes and closes it.
func (f *StatusFeed) Subscribe() (<-chan Status, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subs == nil {
		f.subs = make(map[int]chan Status)
	}
	id := f.nextID
	f.nextID++

	ch := make(chan Status, 1)
	ch <- f.current
	f.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}
