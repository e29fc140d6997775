package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gregLibert/emrtd/pkg/config"
	"github.com/gregLibert/emrtd/pkg/emulator"
	"github.com/gregLibert/emrtd/pkg/identity"
	"github.com/gregLibert/emrtd/pkg/logging"
	"github.com/gregLibert/emrtd/pkg/reader"
	"github.com/gregLibert/emrtd/pkg/transport"
)

// options holds the command line flags shared by every command.
type options struct {
	ConfigFile string
	LogLevel   string
	Output     string

	Number     string
	BirthDate  string
	ExpiryDate string

	ReaderIndex int
	Timeout     time.Duration
	NoPACE      bool
	Replay      string
	Record      string
	RandSeed    uint64
}

var opts options

var rootCmd = &cobra.Command{
	Use:   "emrtd",
	Short: "emrtd - read the identity data of an electronic passport",
	Long: `emrtd reads DG1, DG11 and DG12 of an ICAO 9303 passport chip over a
contact-less reader and prints the holder's identity.

Access keys are derived from the printed MRZ: document number, date of
birth and date of expiry. PACE is tried first, BAC is the fallback.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read a passport on a PC/SC reader or from a recorded transcript",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		var link transport.Link
		if cfg.Reader.Replay != "" {
			t, err := transport.LoadTranscript(cfg.Reader.Replay)
			if err != nil {
				return err
			}
			link = transport.NewReplay(t)
		} else {
			link = transport.NewPCSC(*cfg.Reader.Index)
		}
		return run(cmd.OutOrStdout(), cfg, link)
	},
}

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Read the in-process emulated passport",
	Long: `emulate runs the full read against an emulated chip personalized from the
configured profile, the ICAO specimen by default. Without document flags the
access keys come from the profile's own MRZ.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		profile := cfg.EmulatorProfile()
		if cfg.Document == (config.DocumentConfig{}) {
			seed, err := profile.Seed()
			if err != nil {
				return err
			}
			cfg.Document = config.DocumentConfig{
				Number:     seed.DocumentNumber,
				BirthDate:  seed.DateOfBirth,
				ExpiryDate: seed.DateOfExpiry,
			}
		}

		chip, err := emulator.New(profile, append(cfg.EmulatorOptions(), emulator.WithLogger(logging.GetLogger()))...)
		if err != nil {
			return fmt.Errorf("emulator: %w", err)
		}
		return run(cmd.OutOrStdout(), cfg, chip)
	},
}

var readersCmd = &cobra.Command{
	Use:   "readers",
	Short: "List the PC/SC readers",
	RunE: func(cmd *cobra.Command, args []string) error {
		readers, err := transport.ListReaders()
		if err != nil {
			return err
		}
		for i, name := range readers {
			fmt.Fprintf(cmd.OutOrStdout(), "%d: %s\n", i, name)
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.ConfigFile, "config", "", "YAML configuration file")
	pf.StringVar(&opts.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVarP(&opts.Output, "output", "o", "yaml", "output format (yaml, json)")
	pf.StringVar(&opts.Number, "number", "", "document number as printed in the MRZ")
	pf.StringVar(&opts.BirthDate, "birth-date", "", "date of birth (YYMMDD, YYYYMMDD or YYYY-MM-DD)")
	pf.StringVar(&opts.ExpiryDate, "expiry-date", "", "date of expiry (YYMMDD, YYYYMMDD or YYYY-MM-DD)")
	pf.DurationVar(&opts.Timeout, "timeout", transport.DefaultTimeout, "connection and per-exchange timeout")
	pf.BoolVar(&opts.NoPACE, "no-pace", false, "skip PACE and authenticate with BAC")
	pf.StringVar(&opts.Record, "record", "", "save the APDU transcript to this file")
	pf.Uint64Var(&opts.RandSeed, "rand-seed", 0, "seed a deterministic terminal random source (testing only)")

	readCmd.Flags().IntVar(&opts.ReaderIndex, "reader", 0, "PC/SC reader index")
	readCmd.Flags().StringVar(&opts.Replay, "replay", "", "replay a recorded transcript instead of a reader")

	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(emulateCmd)
	rootCmd.AddCommand(readersCmd)
}

// loadConfig reads the configuration file, if any, and applies the flags set
// on the command line on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if opts.ConfigFile != "" {
		loaded, err := config.Load(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.LogLevel
	}
	if flags.Changed("number") {
		cfg.Document.Number = opts.Number
	}
	if flags.Changed("birth-date") {
		cfg.Document.BirthDate = opts.BirthDate
	}
	if flags.Changed("expiry-date") {
		cfg.Document.ExpiryDate = opts.ExpiryDate
	}
	if flags.Changed("timeout") {
		cfg.Reader.Timeout = opts.Timeout
	}
	if flags.Changed("no-pace") {
		cfg.Reader.DisablePACE = opts.NoPACE
	}
	if flags.Changed("record") {
		cfg.Reader.Record = opts.Record
	}
	if flags.Changed("reader") {
		idx := opts.ReaderIndex
		cfg.Reader.Index = &idx
	}
	if flags.Changed("replay") {
		cfg.Reader.Replay = opts.Replay
	}

	logging.InitLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// run reads the document over link and prints the record.
func run(w io.Writer, cfg *config.Config, link transport.Link) error {
	var recorder *transport.Recorder
	if cfg.Reader.Record != "" {
		recorder = transport.NewRecorder(link)
		link = recorder
	}

	ropts := []reader.Option{
		reader.WithLogger(logging.GetLogger()),
		reader.WithTimeout(cfg.Reader.Timeout),
	}
	if cfg.Reader.DisablePACE {
		ropts = append(ropts, reader.WithoutPACE())
	}
	if opts.RandSeed != 0 {
		var seed [32]byte
		for i := range 8 {
			seed[i] = byte(opts.RandSeed >> (8 * i))
		}
		ropts = append(ropts, reader.WithRand(rand.NewChaCha8(seed)))
	}

	doc := cfg.Document
	out := reader.New(ropts...).Read(link, doc.Number, doc.BirthDate, doc.ExpiryDate)

	if recorder != nil {
		if err := recorder.Transcript().Save(cfg.Reader.Record); err != nil {
			logging.GetLogger().Warn("transcript not saved", "error", err)
		} else {
			logging.GetLogger().Info("transcript saved", "path", cfg.Reader.Record)
		}
	}

	if out.Err != nil {
		return fmt.Errorf("attempt %s: %w", out.AttemptID, out.Err)
	}
	return printRecord(w, out.Record)
}

func printRecord(w io.Writer, rec *identity.Record) error {
	switch opts.Output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rec); err != nil {
			return err
		}
		return enc.Close()
	default:
		return errors.New("unsupported output format " + opts.Output)
	}
}
