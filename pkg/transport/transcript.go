package transport

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// TRANSCRIPTS:
// A Transcript is the ordered list of raw exchanges of one chip session. Recording a
// session against a real chip and replaying it later reproduces the read offline,
// provided the terminal sends the same commands (same random source).
//
// File format (YAML):
//
//	exchanges:
//	  - command: 00A4040C07A0000002471001
//	    response: "9000"
//	  - command: 0084000008
//	    error: "card removed"

// Bytes is a byte slice serialized as uppercase hex in YAML.
type Bytes []byte

func (b Bytes) MarshalYAML() (interface{}, error) {
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

func (b *Bytes) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return fmt.Errorf("line %d: invalid hex: %w", node.Line, err)
	}
	*b = raw
	return nil
}

// Exchange is one command and the link's answer to it.
type Exchange struct {
	Command  Bytes  `yaml:"command"`
	Response Bytes  `yaml:"response,omitempty"`
	Error    string `yaml:"error,omitempty"`
}

// Transcript is a recorded chip session.
type Transcript struct {
	Exchanges []Exchange `yaml:"exchanges"`
}

// Encode writes the transcript as YAML.
func (t *Transcript) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(t); err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	return enc.Close()
}

// Save writes the transcript to path.
func (t *Transcript) Save(path string) error {
	var buf bytes.Buffer
	if err := t.Encode(&buf); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}

// DecodeTranscript reads a YAML transcript.
func DecodeTranscript(r io.Reader) (*Transcript, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var t Transcript
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("parse transcript yaml: %w", err)
	}
	return &t, nil
}

// LoadTranscript reads a YAML transcript from path.
func LoadTranscript(path string) (*Transcript, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return DecodeTranscript(bytes.NewReader(content))
}

// Recorder is a Link decorator that captures every exchange.
type Recorder struct {
	mu         sync.Mutex
	next       Link
	transcript Transcript
}

// NewRecorder records the exchanges sent through next.
func NewRecorder(next Link) *Recorder {
	return &Recorder{next: next}
}

func (r *Recorder) Transmit(cmd []byte) ([]byte, error) {
	resp, err := r.next.Transmit(cmd)

	ex := Exchange{
		Command:  append(Bytes(nil), cmd...),
		Response: append(Bytes(nil), resp...),
	}
	if err != nil {
		ex.Error = err.Error()
	}

	r.mu.Lock()
	r.transcript.Exchanges = append(r.transcript.Exchanges, ex)
	r.mu.Unlock()

	return resp, err
}

// Connect claims the underlying link when it needs it.
func (r *Recorder) Connect() error {
	if c, ok := r.next.(Connector); ok {
		return c.Connect()
	}
	return nil
}

// Close releases the underlying link when it needs it.
func (r *Recorder) Close() error {
	if c, ok := r.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Transcript returns a copy of the exchanges recorded so far.
func (r *Recorder) Transcript() *Transcript {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := &Transcript{Exchanges: make([]Exchange, len(r.transcript.Exchanges))}
	copy(out.Exchanges, r.transcript.Exchanges)
	return out
}

// ErrTranscriptMismatch is returned by Replay when the terminal diverges from the recording.
var ErrTranscriptMismatch = errors.New("command does not match transcript")

// Replay is a Link that answers from a recorded transcript.
type Replay struct {
	mu         sync.Mutex
	transcript *Transcript
	pos        int
}

// NewReplay plays back t from its first exchange.
func NewReplay(t *Transcript) *Replay {
	return &Replay{transcript: t}
}

func (r *Replay) Transmit(cmd []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pos >= len(r.transcript.Exchanges) {
		return nil, fmt.Errorf("%w: transcript exhausted after %d exchanges", ErrTranscriptMismatch, r.pos)
	}

	ex := r.transcript.Exchanges[r.pos]
	if !bytes.Equal(cmd, ex.Command) {
		return nil, fmt.Errorf("%w: exchange %d: expected %X, got %X", ErrTranscriptMismatch, r.pos, []byte(ex.Command), cmd)
	}
	r.pos++

	if ex.Error != "" {
		return nil, errors.New(ex.Error)
	}
	return append([]byte(nil), ex.Response...), nil
}

// Remaining returns the number of exchanges not yet replayed.
func (r *Replay) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transcript.Exchanges) - r.pos
}
