package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TRANSPORT SESSION:
// A Session owns one contact-less link for the duration of a read. Exchanges are
// strictly sequential: each Transmit blocks until the chip answers or the timeout
// expires. A timeout leaves the link in an unknown state (the chip may still be
// processing), so the session is marked broken and refuses every later exchange.

// DefaultTimeout bounds every exchange and the initial connection.
const DefaultTimeout = 15 * time.Second

var (
	// ErrUnavailable is returned when the link cannot be opened.
	ErrUnavailable = errors.New("transport unavailable")

	// ErrIO is returned when an exchange fails, times out or yields an unusable response.
	ErrIO = errors.New("transport i/o failure")
)

// Link is the raw contact-less connection to a chip.
type Link interface {
	Transmit(cmd []byte) ([]byte, error)
}

// Connector is implemented by links that must be claimed before use.
type Connector interface {
	Connect() error
}

// TimeoutSetter is implemented by links with their own I/O timeout.
type TimeoutSetter interface {
	SetTimeout(d time.Duration)
}

type result struct {
	resp []byte
	err  error
}

// Session is an open, exclusive connection to the chip.
type Session struct {
	mu      sync.Mutex
	link    Link
	timeout time.Duration
	opened  bool
	broken  error
	logger  *slog.Logger
}

// NewSession wraps a link. It must be opened before exchanging APDUs.
func NewSession(link Link, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{link: link, timeout: DefaultTimeout, logger: logger}
}

// Open claims the link and applies timeout to every later exchange.
func (s *Session) Open(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.link == nil {
		return fmt.Errorf("%w: no link", ErrUnavailable)
	}
	if timeout > 0 {
		s.timeout = timeout
	}
	if ts, ok := s.link.(TimeoutSetter); ok {
		ts.SetTimeout(s.timeout)
	}

	if c, ok := s.link.(Connector); ok {
		r := s.await(func() ([]byte, error) { return nil, c.Connect() })
		if r.err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, r.err)
		}
	}

	s.opened = true
	s.broken = nil
	s.logger.Debug("transport opened", "timeout", s.timeout)
	return nil
}

// Transmit sends one command APDU and returns the raw response (data || SW1 SW2).
func (s *Session) Transmit(cmd []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return nil, fmt.Errorf("%w: session not open", ErrIO)
	}
	if s.broken != nil {
		return nil, s.broken
	}

	r := s.await(func() ([]byte, error) { return s.link.Transmit(cmd) })
	if r.err != nil {
		if errors.Is(r.err, errTimeout) {
			s.broken = fmt.Errorf("%w: %v", ErrIO, r.err)
			s.logger.Warn("exchange timed out, session broken", "timeout", s.timeout)
			return nil, s.broken
		}
		return nil, fmt.Errorf("%w: %v", ErrIO, r.err)
	}
	if len(r.resp) < 2 {
		return nil, fmt.Errorf("%w: response too short (%d bytes)", ErrIO, len(r.resp))
	}
	return r.resp, nil
}

// Close releases the link. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return nil
	}
	s.opened = false
	if c, ok := s.link.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

var errTimeout = errors.New("timeout")

// await runs fn and waits at most s.timeout for it. The goroutine is left to finish
// on its own when the deadline passes; its result is discarded.
func (s *Session) await(fn func() ([]byte, error)) result {
	done := make(chan result, 1)
	go func() {
		resp, err := fn()
		done <- result{resp: resp, err: err}
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r
	case <-timer.C:
		return result{err: fmt.Errorf("%w after %s", errTimeout, s.timeout)}
	}
}
