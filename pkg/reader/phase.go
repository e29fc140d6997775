package reader

import (
	"fmt"
	"log/slog"
)

// Phase is the progress of one read attempt.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseSecureChannelEstablished
	PhaseReading
	PhaseComplete
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseSecureChannelEstablished:
		return "secure-channel-established"
	case PhaseReading:
		return "reading"
	case PhaseComplete:
		return "complete"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Terminal reports whether no transition leaves p.
func (p Phase) Terminal() bool { return p == PhaseComplete || p == PhaseFailed }

// CanAdvance reports whether an attempt in phase p may move to next.
// Phases only move forward, and Failed is reachable from any non-terminal phase.
func (p Phase) CanAdvance(next Phase) bool {
	if p.Terminal() {
		return false
	}
	if next == PhaseFailed {
		return true
	}
	return next == p+1
}

// tracker records the phases of one attempt.
type tracker struct {
	phase   Phase
	history []Phase
	logger  *slog.Logger
}

func newTracker(logger *slog.Logger) *tracker {
	return &tracker{phase: PhaseIdle, history: []Phase{PhaseIdle}, logger: logger}
}

func (t *tracker) advance(next Phase) error {
	if !t.phase.CanAdvance(next) {
		return fmt.Errorf("illegal phase transition %s -> %s", t.phase, next)
	}
	t.logger.Debug("phase", "from", t.phase, "to", next)
	t.phase = next
	t.history = append(t.history, next)
	return nil
}
