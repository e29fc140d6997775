// Package config loads the YAML configuration of the emrtd command.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gregLibert/emrtd/pkg/emulator"
	"github.com/gregLibert/emrtd/pkg/mrz"
	"github.com/gregLibert/emrtd/pkg/transport"
)

type Config struct {
	LogLevel string         `yaml:"log_level"`
	Document DocumentConfig `yaml:"document"`
	Reader   ReaderConfig   `yaml:"reader"`
	Emulator EmulatorConfig `yaml:"emulator"`
}

// DocumentConfig holds the printed MRZ fields used as access key material.
type DocumentConfig struct {
	Number     string `yaml:"number"`
	BirthDate  string `yaml:"birth_date"`
	ExpiryDate string `yaml:"expiry_date"`
}

type ReaderConfig struct {
	Index       *int          `yaml:"index"`
	Timeout     time.Duration `yaml:"timeout"`
	DisablePACE bool          `yaml:"disable_pace"`
	Replay      string        `yaml:"replay"`
	Record      string        `yaml:"record"`
}

type EmulatorConfig struct {
	Profile  *emulator.Profile `yaml:"profile"`
	PACE     *bool             `yaml:"pace"`
	PlainCOM bool              `yaml:"plain_com"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	idx := 0
	return &Config{
		LogLevel: "info",
		Reader:   ReaderConfig{Index: &idx, Timeout: transport.DefaultTimeout},
	}
}

// Load reads, resolves and validates a configuration file.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(content)
	if err != nil {
		return nil, err
	}
	cfg.resolvePaths(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults. Unknown keys are rejected.
func Parse(content []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	cfg := Default()
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Reader.Index == nil {
		return fmt.Errorf("config.reader.index is required")
	}
	if *c.Reader.Index < 0 {
		return fmt.Errorf("config.reader.index must be >= 0")
	}
	if c.Reader.Timeout <= 0 {
		return fmt.Errorf("config.reader.timeout must be positive")
	}
	if c.Reader.Timeout > transport.DefaultTimeout {
		return fmt.Errorf("config.reader.timeout must not exceed %s", transport.DefaultTimeout)
	}
	if c.Reader.Replay != "" {
		if err := validateReadableFile(c.Reader.Replay, "config.reader.replay"); err != nil {
			return err
		}
	}
	if c.Reader.Replay != "" && c.Reader.Record != "" {
		return fmt.Errorf("config.reader.replay and config.reader.record are mutually exclusive")
	}

	if c.Document != (DocumentConfig{}) {
		if _, err := c.Seed(); err != nil {
			return fmt.Errorf("config.document: %w", err)
		}
	}

	if c.Emulator.Profile != nil {
		if err := c.Emulator.Profile.Validate(); err != nil {
			return fmt.Errorf("config.emulator.profile: %w", err)
		}
	}
	return nil
}

// Seed returns the MRZ key material of the configured document.
func (c *Config) Seed() (mrz.Seed, error) {
	return mrz.NewSeed(c.Document.Number, c.Document.BirthDate, c.Document.ExpiryDate)
}

// EmulatorOptions translates the emulator section into chip options.
func (c *Config) EmulatorOptions() []emulator.Option {
	var opts []emulator.Option
	if c.Emulator.PACE != nil && !*c.Emulator.PACE {
		opts = append(opts, emulator.WithoutPACE())
	}
	if c.Emulator.PlainCOM {
		opts = append(opts, emulator.WithPlainCOM())
	}
	return opts
}

// EmulatorProfile returns the configured profile or the ICAO specimen.
func (c *Config) EmulatorProfile() emulator.Profile {
	if c.Emulator.Profile != nil {
		return *c.Emulator.Profile
	}
	return emulator.SampleProfile()
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Reader.Replay = resolvePath(configDir, c.Reader.Replay)
	c.Reader.Record = resolvePath(configDir, c.Reader.Record)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateReadableFile(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}
