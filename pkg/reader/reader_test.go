package reader_test

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gregLibert/emrtd/pkg/access"
	"github.com/gregLibert/emrtd/pkg/emulator"
	"github.com/gregLibert/emrtd/pkg/lds"
	"github.com/gregLibert/emrtd/pkg/mrz"
	"github.com/gregLibert/emrtd/pkg/pace"
	"github.com/gregLibert/emrtd/pkg/reader"
	"github.com/gregLibert/emrtd/pkg/sm"
	"github.com/gregLibert/emrtd/pkg/transport"
)

var refNow = time.Date(2026, time.October, 18, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seeded(seed byte) io.Reader {
	var s [32]byte
	s[0] = seed
	return rand.NewChaCha8(s)
}

func newReader(opts ...reader.Option) *reader.Reader {
	base := []reader.Option{
		reader.WithLogger(quietLogger()),
		reader.WithClock(func() time.Time { return refNow }),
	}
	return reader.New(append(base, opts...)...)
}

func newChip(t *testing.T, opts ...emulator.Option) *emulator.Chip {
	t.Helper()
	opts = append([]emulator.Option{emulator.WithLogger(quietLogger())}, opts...)
	chip, err := emulator.New(emulator.SampleProfile(), opts...)
	require.NoError(t, err)
	return chip
}

func TestRead_EndToEnd(t *testing.T) {
	tests := []struct {
		name       string
		opts       []emulator.Option
		wantMethod access.Method
	}{
		{"pace", nil, access.MethodPACE},
		{"bac only chip", []emulator.Option{emulator.WithoutPACE()}, access.MethodBAC},
		{"pace rejected", []emulator.Option{emulator.WithPACEPassword([]byte("wrong"))}, access.MethodBAC},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newReader()
			out := r.Read(newChip(t, tt.opts...), "L898902C3", "1974-08-12", "2012-04-15")

			require.NoError(t, out.Err)
			require.NotNil(t, out.Record)
			require.Equal(t, tt.wantMethod, out.Method)
			require.Equal(t, []reader.Status{reader.StatusConnecting, reader.StatusConnected}, out.Statuses)
			require.Equal(t, []reader.Phase{
				reader.PhaseIdle,
				reader.PhaseConnecting,
				reader.PhaseSecureChannelEstablished,
				reader.PhaseReading,
				reader.PhaseComplete,
			}, out.Phases)
			require.Equal(t, reader.StatusConnected, r.Status().Current())
			require.NotEmpty(t, out.AttemptID)

			rec := out.Record
			require.Equal(t, "PASSPORT", rec.DocumentType)
			require.Equal(t, "L898902C3", rec.DocumentNumber)
			require.Equal(t, "ERIKSSON", rec.FirstName)
			require.Equal(t, "ANNA MARIA", rec.LastName)
			require.Equal(t, "F", rec.Gender)
			require.Equal(t, "12/08/1974", rec.BirthDate)
			require.Equal(t, "15/04/2012", rec.ExpirationDate)
			require.Equal(t, "15/04/2002", rec.DeliveryDate)
			require.Equal(t, "ZENITH", rec.City)
		})
	}
}

func TestRead_InvalidKeyMaterial(t *testing.T) {
	chip := newChip(t)
	out := newReader().Read(chip, "", "740812", "120415")

	require.ErrorIs(t, out.Err, reader.ErrInvalidData)
	require.Nil(t, out.Record)
	require.Equal(t, []reader.Status{reader.StatusConnecting, reader.StatusError}, out.Statuses)
	require.Zero(t, chip.Stats().Commands, "no APDU may be sent with invalid key material")
}

func TestRead_WrongDocument(t *testing.T) {
	chip := newChip(t)
	out := newReader().Read(chip, "X00000000", "740812", "120415")

	require.ErrorIs(t, out.Err, reader.ErrInvalidData)
	require.Nil(t, out.Record)
	require.Equal(t, []reader.Status{reader.StatusConnecting, reader.StatusError}, out.Statuses)
	require.Equal(t, reader.PhaseFailed, out.Phases[len(out.Phases)-1])

	st := chip.Stats()
	require.Equal(t, 1, st.PACEAttempts)
	require.Equal(t, 1, st.BACAttempts)
}

// blockingLink never answers until the test ends.
type blockingLink struct {
	release chan struct{}
}

func (l *blockingLink) Transmit([]byte) ([]byte, error) {
	<-l.release
	return nil, errors.New("released")
}

func TestRead_Timeout(t *testing.T) {
	link := &blockingLink{release: make(chan struct{})}
	t.Cleanup(func() { close(link.release) })

	start := time.Now()
	out := newReader(reader.WithTimeout(50*time.Millisecond)).Read(link, "L898902C3", "740812", "120415")

	require.ErrorIs(t, out.Err, reader.ErrInvalidData)
	require.Nil(t, out.Record)
	require.Equal(t, []reader.Status{reader.StatusConnecting, reader.StatusError}, out.Statuses)
	// The first timeout breaks the session: later exchanges fail at once.
	require.Less(t, time.Since(start), 2*time.Second)
}

type unavailableLink struct{}

func (unavailableLink) Connect() error                  { return errors.New("no card in field") }
func (unavailableLink) Transmit([]byte) ([]byte, error) { return nil, errors.New("not connected") }

func TestRead_TransportUnavailable(t *testing.T) {
	out := newReader().Read(unavailableLink{}, "L898902C3", "740812", "120415")

	require.ErrorIs(t, out.Err, reader.ErrInvalidData)
	require.Equal(t, []reader.Phase{reader.PhaseIdle, reader.PhaseConnecting, reader.PhaseFailed}, out.Phases)
}

func TestRead_ReplayIsIdempotent(t *testing.T) {
	chip := newChip(t, emulator.WithPACE(pace.Info{
		Protocol:    pace.ProtocolOID(pace.MappingECDHGeneric, sm.AES256),
		Version:     2,
		ParameterID: pace.ParamBrainpoolP384,
	}))
	rec := transport.NewRecorder(chip)

	first := newReader(reader.WithRand(seeded(7))).Read(rec, "L898902C3", "740812", "120415")
	require.NoError(t, first.Err)
	transcript := rec.Transcript()

	for i := range 2 {
		t.Run(fmt.Sprintf("replay %d", i), func(t *testing.T) {
			replay := transport.NewReplay(transcript)
			out := newReader(reader.WithRand(seeded(7))).Read(replay, "L898902C3", "740812", "120415")

			require.NoError(t, out.Err)
			require.Equal(t, *first.Record, *out.Record)
			require.Equal(t, first.Statuses, out.Statuses)
			require.Zero(t, replay.Remaining())
		})
	}
}

func TestRead_ReplayDiverges(t *testing.T) {
	chip := newChip(t)
	rec := transport.NewRecorder(chip)
	first := newReader(reader.WithRand(seeded(1))).Read(rec, "L898902C3", "740812", "120415")
	require.NoError(t, first.Err)

	// Another terminal nonce cannot follow the recorded session.
	out := newReader(reader.WithRand(seeded(2))).Read(transport.NewReplay(rec.Transcript()), "L898902C3", "740812", "120415")
	require.ErrorIs(t, out.Err, reader.ErrInvalidData)
	require.Equal(t, []reader.Status{reader.StatusConnecting, reader.StatusError}, out.Statuses)
}

func TestRead_WithoutPACE(t *testing.T) {
	chip := newChip(t)
	out := newReader(reader.WithoutPACE()).Read(chip, "L898902C3", "740812", "120415")

	require.NoError(t, out.Err)
	require.Equal(t, access.MethodBAC, out.Method)
	require.Zero(t, chip.Stats().PACEAttempts)
}

func TestRead_SharedFeed(t *testing.T) {
	feed := reader.NewStatusFeed()
	ch, cancel := feed.Subscribe()
	defer cancel()
	require.Equal(t, reader.StatusIdle, <-ch)

	out := newReader(reader.WithStatusFeed(feed)).Read(newChip(t), "L898902C3", "740812", "120415")
	require.NoError(t, out.Err)

	// Only the latest value is kept for a subscriber that did not read.
	require.Equal(t, reader.StatusConnected, <-ch)
	select {
	case s := <-ch:
		t.Fatalf("unexpected queued status %v", s)
	default:
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want reader.ErrorKind
	}{
		{"nil", nil, reader.KindNone},
		{"key material", fmt.Errorf("seed: %w", mrz.ErrInvalidKeyMaterial), reader.KindInvalidKeyMaterial},
		{"unavailable", fmt.Errorf("%w: no reader", transport.ErrUnavailable), reader.KindTransportUnavailable},
		{"io", fmt.Errorf("%w: timeout", transport.ErrIO), reader.KindTransportIO},
		{"secure messaging", fmt.Errorf("read DG1: %w", sm.ErrSecureMessaging), reader.KindTransportIO},
		{"authentication", fmt.Errorf("%w: pace: x; bac: y", access.ErrAuthenticationFailed), reader.KindAuthenticationFailed},
		{
			"authentication over a broken link",
			fmt.Errorf("%w: bac: %w", access.ErrAuthenticationFailed, transport.ErrIO),
			reader.KindTransportIO,
		},
		{"malformed", fmt.Errorf("%w: DG11", lds.ErrMalformedDataGroup), reader.KindMalformedDataGroup},
		{"other", errors.New("boom"), reader.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, reader.Classify(tt.err))
		})
	}
}
