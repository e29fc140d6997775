package access_test

import (
	"errors"
	"testing"

	"github.com/gregLibert/emrtd/pkg/access"
	"github.com/gregLibert/emrtd/pkg/bac"
	"github.com/gregLibert/emrtd/pkg/emulator"
	"github.com/gregLibert/emrtd/pkg/lds"
	"github.com/gregLibert/emrtd/pkg/mrz"
	"github.com/gregLibert/emrtd/pkg/pace"
	"github.com/gregLibert/emrtd/pkg/sm"
)

func sampleKeys(t *testing.T, number string) mrz.Keys {
	t.Helper()
	seed, err := mrz.NewSeed(number, "740812", "120415")
	if err != nil {
		t.Fatalf("NewSeed() error = %v", err)
	}
	keys, err := mrz.Derive(seed)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	return keys
}

func newChip(t *testing.T, opts ...emulator.Option) *emulator.Chip {
	t.Helper()
	chip, err := emulator.New(emulator.SampleProfile(), opts...)
	if err != nil {
		t.Fatalf("emulator.New() error = %v", err)
	}
	return chip
}

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name         string
		opts         []emulator.Option
		wantMethod   access.Method
		wantAlg      sm.Algorithm
		wantPACE     int
		wantBAC      int
		wantPlainCOM int
		wantFallback bool
	}{
		{
			name:       "pace",
			wantMethod: access.MethodPACE,
			wantAlg:    sm.AES128,
			wantPACE:   1,
		},
		{
			name: "pace brainpool 3des",
			opts: []emulator.Option{emulator.WithPACE(pace.Info{
				Protocol:    pace.ProtocolOID(pace.MappingECDHGeneric, sm.TDES),
				Version:     2,
				ParameterID: pace.ParamBrainpoolP256,
			})},
			wantMethod: access.MethodPACE,
			wantAlg:    sm.TDES,
			wantPACE:   1,
		},
		{
			name:         "no card access falls back to bac",
			opts:         []emulator.Option{emulator.WithoutPACE()},
			wantMethod:   access.MethodBAC,
			wantAlg:      sm.TDES,
			wantBAC:      1,
			wantPlainCOM: 1,
			wantFallback: true,
		},
		{
			name: "unsupported mapping falls back to bac",
			opts: []emulator.Option{emulator.WithPACE(pace.Info{
				Protocol:    pace.ProtocolOID(pace.MappingECDHIntegrated, sm.AES128),
				Version:     2,
				ParameterID: pace.ParamNISTP256,
			})},
			wantMethod:   access.MethodBAC,
			wantAlg:      sm.TDES,
			wantBAC:      1,
			wantPlainCOM: 1,
			wantFallback: true,
		},
		{
			name:         "pace mutual authentication failure falls back to bac",
			opts:         []emulator.Option{emulator.WithPACEPassword([]byte("other password"))},
			wantMethod:   access.MethodBAC,
			wantAlg:      sm.TDES,
			wantPACE:     1,
			wantBAC:      1,
			wantPlainCOM: 1,
			wantFallback: true,
		},
		{
			// A readable EF.COM must not skip BAC.
			name:         "ef.com readable in clear still runs bac",
			opts:         []emulator.Option{emulator.WithoutPACE(), emulator.WithPlainCOM()},
			wantMethod:   access.MethodBAC,
			wantAlg:      sm.TDES,
			wantBAC:      1,
			wantPlainCOM: 1,
			wantFallback: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chip := newChip(t, tt.opts...)
			n := &access.Negotiator{}

			ch, err := n.Negotiate(chip, sampleKeys(t, "L898902C3"))
			if err != nil {
				t.Fatalf("Negotiate() error = %v", err)
			}
			defer ch.Close()

			if ch.Method != tt.wantMethod {
				t.Errorf("Method = %v; want %v", ch.Method, tt.wantMethod)
			}
			if got := ch.Session.Algorithm(); got != tt.wantAlg {
				t.Errorf("Algorithm = %v; want %v", got, tt.wantAlg)
			}
			if (ch.Fallback != nil) != tt.wantFallback {
				t.Errorf("Fallback = %v; want fallback %v", ch.Fallback, tt.wantFallback)
			}

			st := chip.Stats()
			if st.PACEAttempts != tt.wantPACE || st.BACAttempts != tt.wantBAC || st.PlainCOMReads != tt.wantPlainCOM {
				t.Errorf("stats = %+v; want pace=%d bac=%d plain com=%d", st, tt.wantPACE, tt.wantBAC, tt.wantPlainCOM)
			}
			if !st.Secured {
				t.Errorf("chip is not in secure messaging after negotiation")
			}

			// The application is selected: DG1 is readable through the channel.
			raw, err := lds.ReadFile(ch, lds.FileDG1)
			if err != nil {
				t.Fatalf("ReadFile(DG1) error = %v", err)
			}
			dg1, err := lds.ParseDG1(raw)
			if err != nil {
				t.Fatalf("ParseDG1() error = %v", err)
			}
			if dg1.DocumentNumber != "L898902C3" {
				t.Errorf("DocumentNumber = %q", dg1.DocumentNumber)
			}
		})
	}
}

func TestNegotiate_DisablePACE(t *testing.T) {
	chip := newChip(t)
	n := &access.Negotiator{DisablePACE: true}

	ch, err := n.Negotiate(chip, sampleKeys(t, "L898902C3"))
	if err != nil {
		t.Fatalf("Negotiate() error = %v", err)
	}
	defer ch.Close()

	if ch.Method != access.MethodBAC {
		t.Errorf("Method = %v; want BAC", ch.Method)
	}
	if st := chip.Stats(); st.PACEAttempts != 0 {
		t.Errorf("PACE attempted %d times with PACE disabled", st.PACEAttempts)
	}
}

func TestNegotiate_WrongKeys(t *testing.T) {
	chip := newChip(t)

	_, err := (&access.Negotiator{}).Negotiate(chip, sampleKeys(t, "X00000000"))
	if !errors.Is(err, access.ErrAuthenticationFailed) {
		t.Fatalf("Negotiate() error = %v; want ErrAuthenticationFailed", err)
	}

	var stepErr *bac.StepError
	if !errors.As(err, &stepErr) || stepErr.Step != bac.StepAuthenticate {
		t.Errorf("error should carry the BAC step failure, got %v", err)
	}

	st := chip.Stats()
	if st.PACEAttempts != 1 || st.BACAttempts != 1 {
		t.Errorf("stats = %+v; want exactly one PACE and one BAC attempt", st)
	}
	if st.Secured {
		t.Errorf("chip should not be secured")
	}
}
