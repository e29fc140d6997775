// Package access opens the secure messaging channel to a passport chip.
//
// PACE is always tried first. Any failure on that path, whatever its cause,
// leads to exactly one BAC attempt with the same MRZ-derived key material.
package access

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/gregLibert/emrtd/pkg/bac"
	"github.com/gregLibert/emrtd/pkg/iso7816"
	"github.com/gregLibert/emrtd/pkg/lds"
	"github.com/gregLibert/emrtd/pkg/mrz"
	"github.com/gregLibert/emrtd/pkg/pace"
	"github.com/gregLibert/emrtd/pkg/sm"
)

// ErrAuthenticationFailed is returned when neither PACE nor BAC could open a channel.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Method identifies the access control protocol that opened the channel.
type Method int

const (
	MethodNone Method = iota
	MethodPACE
	MethodBAC
)

func (m Method) String() string {
	switch m {
	case MethodPACE:
		return "PACE"
	case MethodBAC:
		return "BAC"
	default:
		return "none"
	}
}

// Channel is an established secure messaging channel with the eMRTD application selected.
type Channel struct {
	Session *sm.Session
	Method  Method

	// Fallback holds the reason PACE was abandoned, nil when PACE succeeded.
	Fallback error
}

// Transmit sends a plain command APDU through the secure session.
func (c *Channel) Transmit(cmd []byte) ([]byte, error) { return c.Session.Transmit(cmd) }

// Close wipes the session keys.
func (c *Channel) Close() error { return c.Session.Close() }

// branchResult is the outcome of one access control path.
type branchResult struct {
	method  Method
	session *sm.Session
	err     error
}

func (r branchResult) ok() bool { return r.err == nil && r.session != nil }

// Negotiator runs the PACE then BAC sequence.
type Negotiator struct {
	Rand   io.Reader
	Logger *slog.Logger

	// DisablePACE skips straight to BAC.
	DisablePACE bool
}

// Negotiate opens a secure channel over t using keys derived from the MRZ.
func (n *Negotiator) Negotiate(t iso7816.Transmitter, keys mrz.Keys) (*Channel, error) {
	logger := n.logger()

	var paceErr error
	if n.DisablePACE {
		paceErr = fmt.Errorf("%w: disabled by configuration", pace.ErrUnsupported)
	} else {
		r := n.tryPACE(t, keys)
		if r.ok() {
			logger.Info("secure channel established", "method", r.method, "cipher", r.session.Algorithm())
			return &Channel{Session: r.session, Method: r.method}, nil
		}
		paceErr = r.err
	}
	logger.Info("pace unavailable, falling back to bac", "reason", paceErr)

	r := n.tryBAC(t, keys)
	if !r.ok() {
		logger.Warn("bac failed", "error", r.err)
		return nil, fmt.Errorf("%w: pace: %v; bac: %w", ErrAuthenticationFailed, paceErr, r.err)
	}
	logger.Info("secure channel established", "method", r.method, "cipher", r.session.Algorithm())
	return &Channel{Session: r.session, Method: r.method, Fallback: paceErr}, nil
}

func (n *Negotiator) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.Default()
	}
	return n.Logger
}

// tryPACE reads EF.CardAccess from the master file, runs PACE and selects the
// eMRTD application through the new channel.
func (n *Negotiator) tryPACE(t iso7816.Transmitter, keys mrz.Keys) branchResult {
	fail := func(err error) branchResult { return branchResult{method: MethodPACE, err: err} }

	raw, err := lds.ReadFileSFI(t, lds.SFICardAccess)
	if err != nil {
		return fail(fmt.Errorf("read EF.CardAccess: %w", err))
	}
	infos, err := pace.ParseCardAccess(raw)
	if err != nil {
		return fail(err)
	}

	terminal := &pace.Terminal{Rand: n.Rand, Logger: n.logger()}
	session, err := terminal.Establish(t, infos, keys.PACE)
	if err != nil {
		return fail(err)
	}

	if err := selectApplication(session); err != nil {
		session.Close()
		return fail(err)
	}
	return branchResult{method: MethodPACE, session: session}
}

// tryBAC selects the application in clear, reads EF.COM and then always runs BAC.
// The EF.COM read is only logged: a chip answering it in clear still gets BAC.
func (n *Negotiator) tryBAC(t iso7816.Transmitter, keys mrz.Keys) branchResult {
	logger := n.logger()

	if err := selectApplication(t); err != nil {
		logger.Warn("plain application select failed", "error", err)
	}

	if com, err := lds.ReadFile(t, lds.FileCOM); err != nil {
		logger.Debug("plain EF.COM read refused", "error", err)
	} else {
		logger.Debug("EF.COM answered in clear", "length", len(com))
	}

	a := &bac.Authenticator{Rand: n.Rand, Logger: logger}
	session, err := a.Authenticate(t, keys.BAC)
	if err != nil {
		return branchResult{method: MethodBAC, err: err}
	}
	return branchResult{method: MethodBAC, session: session}
}

func selectApplication(t iso7816.Transmitter) error {
	cls, _ := iso7816.NewClass(0x00)
	trace, err := iso7816.NewClient(t).Send(iso7816.SelectApplication(cls, lds.ApplicationAID))
	if err != nil {
		return fmt.Errorf("select application: %w", err)
	}
	if err := trace.Check(); err != nil {
		return fmt.Errorf("select application: %w", err)
	}
	return nil
}
