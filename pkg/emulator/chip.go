// Package emulator is an in-process passport chip. It answers the same APDUs as
// a contact-less eMRTD: EF.CardAccess in the master file, PACE and BAC access
// control, secure messaging and the LDS1 application files.
package emulator

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gregLibert/emrtd/pkg/bac"
	"github.com/gregLibert/emrtd/pkg/iso7816"
	"github.com/gregLibert/emrtd/pkg/lds"
	"github.com/gregLibert/emrtd/pkg/mrz"
	"github.com/gregLibert/emrtd/pkg/pace"
	"github.com/gregLibert/emrtd/pkg/sm"
)

// DefaultPACEInfo is advertised unless another set is configured.
var DefaultPACEInfo = pace.Info{
	Protocol:    pace.ProtocolOID(pace.MappingECDHGeneric, sm.AES128),
	Version:     2,
	ParameterID: pace.ParamNISTP256,
}

// Stats counts what a terminal did with the chip since the last Connect.
type Stats struct {
	Commands      int
	PACEAttempts  int
	BACAttempts   int
	PlainCOMReads int
	Secured       bool
}

// Option configures a Chip.
type Option func(*Chip)

// WithPACE sets the PACEInfos advertised in EF.CardAccess.
func WithPACE(infos ...pace.Info) Option {
	return func(c *Chip) { c.paceInfos = infos }
}

// WithoutPACE removes EF.CardAccess, as on a BAC-only chip.
func WithoutPACE() Option {
	return func(c *Chip) { c.paceInfos = nil }
}

// WithPACEPassword makes PACE run against a different password than the MRZ,
// so that PACE fails at mutual authentication while BAC still succeeds.
func WithPACEPassword(password []byte) Option {
	return func(c *Chip) { c.pacePassword = append([]byte(nil), password...) }
}

// WithPlainCOM lets EF.COM be read without access control.
func WithPlainCOM() Option {
	return func(c *Chip) { c.plainCOM = true }
}

// WithRand sets the chip's random source.
func WithRand(r io.Reader) Option {
	return func(c *Chip) { c.rand = r }
}

// WithLogger sets the logger used for the chip's own trace.
func WithLogger(l *slog.Logger) Option {
	return func(c *Chip) { c.logger = l }
}

// Chip is an emulated passport. It implements transport.Link and transport.Connector.
type Chip struct {
	mu sync.Mutex

	keys         mrz.Keys
	pacePassword []byte
	paceInfos    []pace.Info
	plainCOM     bool
	rand         io.Reader
	logger       *slog.Logger

	files      map[uint16][]byte
	cardAccess []byte

	appSelected bool
	current     []byte
	currentFID  uint16
	bacChip     *bac.Chip
	paceChip    *pace.Chip
	card        *sm.Card
	stats       Stats
}

// New personalizes a chip from a profile.
func New(p Profile, opts ...Option) (*Chip, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	seed, _ := p.Seed()
	keys, err := mrz.Derive(seed)
	if err != nil {
		return nil, err
	}
	files, err := p.files()
	if err != nil {
		return nil, fmt.Errorf("build files: %w", err)
	}

	c := &Chip{
		keys:      keys,
		paceInfos: []pace.Info{DefaultPACEInfo},
		rand:      rand.Reader,
		logger:    slog.Default(),
		files:     files,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pacePassword == nil {
		c.pacePassword = keys.PACE
	}
	if len(c.paceInfos) > 0 {
		if c.cardAccess, err = pace.EncodeCardAccess(c.paceInfos); err != nil {
			return nil, fmt.Errorf("build EF.CardAccess: %w", err)
		}
	}
	c.reset()
	return c, nil
}

// Connect simulates a fresh presentation of the document to the field.
func (c *Chip) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
	return nil
}

// Stats returns the counters since the last Connect.
func (c *Chip) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Chip) reset() {
	c.appSelected = false
	c.current = nil
	c.currentFID = 0
	c.card = nil
	c.bacChip = bac.NewChip(c.keys.BAC, c.rand)
	c.paceChip = pace.NewChip(c.pacePassword, c.paceInfos, c.rand)
	c.stats = Stats{}
}

// Transmit processes one command APDU.
func (c *Chip) Transmit(raw []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Commands++
	cmd, err := iso7816.ParseCommandAPDU(raw)
	if err != nil {
		return status(iso7816.SW_ERR_WRONG_LENGTH), nil
	}

	if c.card != nil && cmd.Class.SecureMessaging != iso7816.SMNone {
		plain, err := c.card.UnwrapCommand(cmd)
		if err != nil {
			c.logger.Debug("emulator dropped secure messaging", "error", err)
			c.card = nil
			c.stats.Secured = false
			return status(iso7816.SW_ERR_SM_OBJ_INCORRECT), nil
		}
		data, sw := c.dispatch(plain, true)
		return c.card.WrapResponse(data, sw)
	}

	// A plain command ends any secure messaging session.
	if c.card != nil {
		c.card = nil
		c.stats.Secured = false
	}
	data, sw := c.dispatch(cmd, false)
	return append(data, sw.SW1(), sw.SW2()), nil
}

func (c *Chip) dispatch(cmd *iso7816.CommandAPDU, secured bool) ([]byte, iso7816.StatusWord) {
	switch cmd.Instruction.Raw {
	case iso7816.INS_SELECT:
		return nil, c.selectFile(cmd, secured)
	case iso7816.INS_READ_BINARY:
		return c.readBinary(cmd, secured)
	case iso7816.INS_GET_CHALLENGE:
		return c.getChallenge(cmd)
	case iso7816.INS_EXTERNAL_AUTHENTICATE:
		return c.externalAuthenticate(cmd)
	case iso7816.INS_MANAGE_SECURITY_ENVIRONMENT:
		return c.setAT(cmd)
	case iso7816.INS_GENERAL_AUTHENTICATE:
		return c.generalAuthenticate(cmd)
	}
	return nil, iso7816.SW_ERR_INS_INVALID
}

func (c *Chip) selectFile(cmd *iso7816.CommandAPDU, secured bool) iso7816.StatusWord {
	switch cmd.P1 {
	case iso7816.SelectByDFName:
		if !bytes.Equal(cmd.Data, lds.ApplicationAID) {
			return iso7816.SW_ERR_FILE_NOT_FOUND
		}
		c.appSelected = true
		c.current, c.currentFID = nil, 0
		return iso7816.SW_NO_ERROR
	case iso7816.SelectEFUnderDF, iso7816.SelectByFileID:
		if len(cmd.Data) != 2 {
			return iso7816.SW_ERR_INCORRECT_PARAMS_DATA
		}
		fid := uint16(cmd.Data[0])<<8 | uint16(cmd.Data[1])
		content, ok := c.lookup(fid)
		if !ok {
			return iso7816.SW_ERR_FILE_NOT_FOUND
		}
		c.current, c.currentFID = content, fid
		if fid == lds.FileCOM && !secured {
			c.stats.PlainCOMReads++
		}
		return iso7816.SW_NO_ERROR
	}
	return iso7816.SW_ERR_INCORRECT_PARAMS_P1P2
}

func (c *Chip) lookup(fid uint16) ([]byte, bool) {
	if fid == lds.FileCardAccess {
		return c.cardAccess, c.cardAccess != nil
	}
	if !c.appSelected {
		return nil, false
	}
	content, ok := c.files[fid]
	return content, ok
}

// LDS short file identifiers are the low byte of the FID.
func (c *Chip) lookupSFI(sfi byte) (uint16, []byte, bool) {
	fid := 0x0100 | uint16(sfi)
	content, ok := c.lookup(fid)
	return fid, content, ok
}

func (c *Chip) readBinary(cmd *iso7816.CommandAPDU, secured bool) ([]byte, iso7816.StatusWord) {
	sfi, offset, _ := cmd.ReadBinaryTarget()
	if sfi != 0 {
		fid, content, ok := c.lookupSFI(sfi)
		if !ok {
			return nil, iso7816.SW_ERR_FILE_NOT_FOUND
		}
		c.current, c.currentFID = content, fid
	}
	if c.current == nil {
		return nil, iso7816.SW_ERR_CMD_NOT_ALLOWED_NO_EF
	}

	if !secured && !c.readableInClear(c.currentFID) {
		return nil, iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT
	}

	if offset > len(c.current) {
		return nil, iso7816.SW_ERR_WRONG_P1P2
	}
	ne := cmd.Ne
	if ne == 0 {
		ne = iso7816.MaxShortLe
	}
	end := offset + ne
	if end > len(c.current) {
		return append([]byte(nil), c.current[offset:]...), iso7816.SW_WARN_EOF_REACHED
	}
	return append([]byte(nil), c.current[offset:end]...), iso7816.SW_NO_ERROR
}

func (c *Chip) readableInClear(fid uint16) bool {
	return fid == lds.FileCardAccess || (fid == lds.FileCOM && c.plainCOM)
}

func (c *Chip) getChallenge(cmd *iso7816.CommandAPDU) ([]byte, iso7816.StatusWord) {
	if cmd.Ne != iso7816.ChallengeLength {
		return nil, iso7816.SW_ERR_WRONG_LENGTH
	}
	rnd, err := c.bacChip.Challenge()
	if err != nil {
		return nil, iso7816.SW_ERR_EXEC_NO_INFO
	}
	return rnd, iso7816.SW_NO_ERROR
}

func (c *Chip) externalAuthenticate(cmd *iso7816.CommandAPDU) ([]byte, iso7816.StatusWord) {
	c.stats.BACAttempts++
	resp, card, err := c.bacChip.Authenticate(cmd.Data)
	if err != nil {
		c.logger.Debug("emulator rejected bac", "error", err)
		return nil, iso7816.SW_WARN_NV_CHANGED_NO_INFO
	}
	c.card = card
	c.stats.Secured = true
	return resp, iso7816.SW_NO_ERROR
}

func (c *Chip) setAT(cmd *iso7816.CommandAPDU) ([]byte, iso7816.StatusWord) {
	if cmd.P1 != iso7816.MSESetATP1 || cmd.P2 != iso7816.MSESetATP2 {
		return nil, iso7816.SW_ERR_INCORRECT_PARAMS_P1P2
	}
	c.stats.PACEAttempts++
	if len(c.paceInfos) == 0 {
		return nil, iso7816.SW_ERR_FUNC_NOT_SUPPORTED
	}
	if err := c.paceChip.SetAT(cmd.Data); err != nil {
		c.logger.Debug("emulator rejected mse set at", "error", err)
		return nil, iso7816.SW_ERR_INCORRECT_PARAMS_DATA
	}
	return nil, iso7816.SW_NO_ERROR
}

func (c *Chip) generalAuthenticate(cmd *iso7816.CommandAPDU) ([]byte, iso7816.StatusWord) {
	resp, card, err := c.paceChip.GeneralAuthenticate(cmd.Data)
	if err != nil {
		c.logger.Debug("emulator rejected general authenticate", "error", err)
		return nil, iso7816.SW_WARN_NV_CHANGED_NO_INFO
	}
	if card != nil {
		c.card = card
		c.stats.Secured = true
	}
	return resp, iso7816.SW_NO_ERROR
}

func status(sw iso7816.StatusWord) []byte {
	return []byte{sw.SW1(), sw.SW2()}
}
