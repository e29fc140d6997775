package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/ebfe/scard"
)

// PCSC is a Link to a contact-less reader through the PC/SC service.
type PCSC struct {
	// ReaderIndex selects the reader among those listed by the service (0-based).
	ReaderIndex int

	ctx     *scard.Context
	card    *scard.Card
	reader  string
	timeout time.Duration
}

// NewPCSC returns a link on the reader at index. Nothing is claimed until Connect.
func NewPCSC(index int) *PCSC {
	return &PCSC{ReaderIndex: index, timeout: DefaultTimeout}
}

// ListReaders returns the names of the readers known to the PC/SC service.
func ListReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("EstablishContext failed: %w", err)
	}
	defer func() { _ = ctx.Release() }()

	return ctx.ListReaders()
}

// SetTimeout bounds the wait for a card to be presented.
func (p *PCSC) SetTimeout(d time.Duration) { p.timeout = d }

// Reader returns the name of the connected reader.
func (p *PCSC) Reader() string { return p.reader }

// Connect waits for a card on the selected reader and connects to it.
func (p *PCSC) Connect() error {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return fmt.Errorf("EstablishContext failed: %w", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil || len(readers) == 0 {
		_ = ctx.Release()
		return fmt.Errorf("no readers found: %v", err)
	}
	if p.ReaderIndex < 0 || p.ReaderIndex >= len(readers) {
		_ = ctx.Release()
		return fmt.Errorf("reader index out of range (0..%d)", len(readers)-1)
	}
	reader := readers[p.ReaderIndex]

	states := []scard.ReaderState{{
		Reader:       reader,
		CurrentState: scard.StateUnaware,
	}}
	if err := ctx.GetStatusChange(states, 0); err != nil {
		_ = ctx.Release()
		return fmt.Errorf("GetStatusChange failed: %w", err)
	}
	if states[0].EventState&scard.StatePresent == 0 {
		states[0].CurrentState = states[0].EventState
		if err := ctx.GetStatusChange(states, p.timeout); err != nil {
			_ = ctx.Release()
			if errors.Is(err, scard.ErrTimeout) {
				return fmt.Errorf("no card presented on %s within %s", reader, p.timeout)
			}
			return fmt.Errorf("GetStatusChange failed: %w", err)
		}
	}

	// Force T=0 or T=1 to avoid "Parameter Incorrect" errors
	card, err := ctx.Connect(reader, scard.ShareExclusive, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		_ = ctx.Release()
		return fmt.Errorf("connect failed: %w", err)
	}

	p.ctx, p.card, p.reader = ctx, card, reader
	return nil
}

// Transmit sends an APDU to the card.
func (p *PCSC) Transmit(apdu []byte) ([]byte, error) {
	if p.card == nil {
		return nil, fmt.Errorf("connection not established")
	}
	return p.card.Transmit(apdu)
}

// Close disconnects the card and releases the PC/SC context.
func (p *PCSC) Close() error {
	var errs []error
	if p.card != nil {
		errs = append(errs, p.card.Disconnect(scard.ResetCard))
		p.card = nil
	}
	if p.ctx != nil {
		errs = append(errs, p.ctx.Release())
		p.ctx = nil
	}
	return errors.Join(errs...)
}
