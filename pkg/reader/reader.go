// Package reader runs one complete read of a passport chip: key derivation,
// access control, data group reading and identity assembly.
//
// Every attempt publishes StatusConnecting, then exactly one of
// StatusConnected or StatusError. Internal failures are logged with their
// kind and the attempt id, and surface to the caller only as ErrInvalidData.
package reader

import (
	"crypto/rand"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gregLibert/emrtd/pkg/access"
	"github.com/gregLibert/emrtd/pkg/identity"
	"github.com/gregLibert/emrtd/pkg/lds"
	"github.com/gregLibert/emrtd/pkg/mrz"
	"github.com/gregLibert/emrtd/pkg/transport"
)

// Outcome is the result of one attempt. Exactly one of Record and Err is set.
type Outcome struct {
	Record *identity.Record
	Err    error

	AttemptID string
	Method    access.Method
	Phases    []Phase
	Statuses  []Status
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reader) { r.logger = l }
}

// WithRand sets the source of the terminal nonces and ephemeral keys.
func WithRand(src io.Reader) Option {
	return func(r *Reader) { r.rand = src }
}

// WithClock sets the clock used to resolve the birth century.
func WithClock(now func() time.Time) Option {
	return func(r *Reader) { r.now = now }
}

// WithTimeout bounds the connection and each exchange.
func WithTimeout(d time.Duration) Option {
	return func(r *Reader) { r.timeout = d }
}

// WithoutPACE goes straight to BAC.
func WithoutPACE() Option {
	return func(r *Reader) { r.disablePACE = true }
}

// WithStatusFeed publishes status changes on an existing feed.
func WithStatusFeed(f *StatusFeed) Option {
	return func(r *Reader) { r.feed = f }
}

// Reader reads passports, one attempt per Read call, and publishes the
// connection status of each attempt on its StatusFeed.
type Reader struct {
	logger      *slog.Logger
	rand        io.Reader
	now         func() time.Time
	timeout     time.Duration
	disablePACE bool
	feed        *StatusFeed
}

// New returns a Reader using crypto/rand, the system clock and the default
// 15 s transport timeout unless overridden by opts.
func New(opts ...Option) *Reader {
	r := &Reader{
		logger:  slog.Default(),
		rand:    rand.Reader,
		now:     time.Now,
		timeout: transport.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.feed == nil {
		r.feed = NewStatusFeed()
	}
	return r
}

// Status returns the feed the reader publishes on.
func (r *Reader) Status() *StatusFeed { return r.feed }

// attempt carries the per-read state.
type attempt struct {
	id       string
	logger   *slog.Logger
	phases   *tracker
	statuses []Status
	feed     *StatusFeed
	method   access.Method
}

func (a *attempt) publish(s Status) {
	a.statuses = append(a.statuses, s)
	a.feed.Publish(s)
}

func (a *attempt) outcome(rec *identity.Record, err error) Outcome {
	return Outcome{
		Record:    rec,
		Err:       err,
		AttemptID: a.id,
		Method:    a.method,
		Phases:    a.phases.history,
		Statuses:  a.statuses,
	}
}

// advance moves the attempt to next. An illegal transition is a bug in Read
// and is logged; the attempt keeps its current phase.
func (a *attempt) advance(next Phase) {
	if err := a.phases.advance(next); err != nil {
		a.logger.Error("phase tracking", "error", err)
	}
}

// fail logs the cause and closes the attempt with ErrInvalidData.
func (a *attempt) fail(err error) Outcome {
	a.logger.Error("read failed", "kind", Classify(err), "phase", a.phases.phase, "error", err)
	a.advance(PhaseFailed)
	a.publish(StatusError)
	return a.outcome(nil, ErrInvalidData)
}

// Read performs one attempt on link with the printed MRZ fields. Dates are
// YYMMDD, YYYYMMDD or YYYY-MM-DD.
func (r *Reader) Read(link transport.Link, number, birth, expiry string) Outcome {
	id := uuid.NewString()
	logger := r.logger.With("attempt", id)
	a := &attempt{id: id, logger: logger, phases: newTracker(logger), feed: r.feed}

	a.advance(PhaseConnecting)
	a.publish(StatusConnecting)

	seed, err := mrz.NewSeed(number, birth, expiry)
	if err != nil {
		return a.fail(err)
	}
	keys, err := mrz.Derive(seed)
	if err != nil {
		return a.fail(err)
	}
	defer keys.Wipe()

	session := transport.NewSession(link, logger)
	if err := session.Open(r.timeout); err != nil {
		return a.fail(err)
	}
	defer session.Close()

	n := &access.Negotiator{Rand: r.rand, Logger: logger, DisablePACE: r.disablePACE}
	ch, err := n.Negotiate(session, keys)
	if err != nil {
		return a.fail(err)
	}
	defer ch.Close()
	a.method = ch.Method
	a.advance(PhaseSecureChannelEstablished)

	a.advance(PhaseReading)
	dg1, dg11, dg12, err := lds.ReadAll(ch, logger)
	if err != nil {
		return a.fail(err)
	}

	rec := identity.Assemble(dg1, dg11, dg12, r.now())
	a.advance(PhaseComplete)
	logger.Info("document read", "method", ch.Method)
	a.publish(StatusConnected)
	return a.outcome(&rec, nil)
}
