// Package lds reads and decodes the Logical Data Structure files of an eMRTD
// (ICAO 9303-10): the common file, the PACE capabilities file and the data
// groups holding the holder's biographic data.
package lds

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gregLibert/emrtd/pkg/iso7816"
	"github.com/gregLibert/emrtd/pkg/tlv"
)

// FILE ACCESS (ICAO 9303-10 §3.6):
// Every LDS file is a transparent EF holding a single BER-TLV object. A file is
// selected by its FID (SELECT, P2='0C', no FCI) or implicitly through its SFI in
// P1 of the first READ BINARY. The first 8 bytes always cover the tag and length
// fields, which announce the total size; the rest is fetched in chunks.
//
// The chunk size is kept at 223 bytes so that a chunk wrapped by secure messaging
// (DO'87' padding, DO'99', DO'8E') still fits a short Le of 256.

// File identifiers of the LDS1 application and the master file.
const (
	FileCOM        uint16 = 0x011E
	FileCardAccess uint16 = 0x011C
	FileDG1        uint16 = 0x0101
	FileDG11       uint16 = 0x010B
	FileDG12       uint16 = 0x010C

	SFICardAccess byte = 0x1C
)

// ApplicationAID is the LDS1 eMRTD application identifier.
var ApplicationAID = []byte{0xA0, 0x00, 0x00, 0x02, 0x47, 0x10, 0x01}

const (
	headerReadLength = 8
	maxChunkLength   = 223
)

// ErrMalformedDataGroup is returned when a file is missing, truncated or cannot be decoded.
var ErrMalformedDataGroup = errors.New("malformed data group")

// ReadFile selects the EF identified by fid and returns its complete content.
func ReadFile(t iso7816.Transmitter, fid uint16) ([]byte, error) {
	client := iso7816.NewClient(t)
	cls, _ := iso7816.NewClass(0x00)

	trace, err := client.Send(iso7816.SelectEF(cls, fid))
	if err != nil {
		return nil, err
	}
	if err := trace.Check(); err != nil {
		return nil, fmt.Errorf("%w: select %04X: %w", ErrMalformedDataGroup, fid, err)
	}

	head, err := readChunk(client, cls, 0, headerReadLength)
	if err != nil {
		return nil, fmt.Errorf("file %04X: %w", fid, err)
	}
	return readRemainder(client, cls, head, fmt.Sprintf("%04X", fid))
}

// ReadFileSFI reads a file selected implicitly by its Short File Identifier.
func ReadFileSFI(t iso7816.Transmitter, sfi byte) ([]byte, error) {
	client := iso7816.NewClient(t)
	cls, _ := iso7816.NewClass(0x00)

	cmd, err := iso7816.ReadBinarySFI(cls, sfi, 0, headerReadLength)
	if err != nil {
		return nil, err
	}
	head, err := sendRead(client, cmd)
	if err != nil {
		return nil, fmt.Errorf("SFI %02X: %w", sfi, err)
	}
	return readRemainder(client, cls, head, fmt.Sprintf("SFI %02X", sfi))
}

func readRemainder(client *iso7816.Client, cls iso7816.Class, head []byte, name string) ([]byte, error) {
	hl, vl, err := tlv.Header(head)
	if err != nil {
		return nil, fmt.Errorf("%w: file %s: %v", ErrMalformedDataGroup, name, err)
	}
	total := hl + vl
	if total <= len(head) {
		return head[:total], nil
	}

	content := make([]byte, 0, total)
	content = append(content, head...)
	for len(content) < total {
		n := min(total-len(content), maxChunkLength)
		chunk, err := readChunk(client, cls, len(content), n)
		if err != nil {
			return nil, fmt.Errorf("file %s: %w", name, err)
		}
		if len(chunk) == 0 {
			return nil, fmt.Errorf("%w: file %s truncated at %d of %d bytes", ErrMalformedDataGroup, name, len(content), total)
		}
		content = append(content, chunk...)
	}
	return content[:total], nil
}

func readChunk(client *iso7816.Client, cls iso7816.Class, offset, n int) ([]byte, error) {
	cmd, err := iso7816.ReadBinary(cls, offset, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDataGroup, err)
	}
	return sendRead(client, cmd)
}

func sendRead(client *iso7816.Client, cmd *iso7816.CommandAPDU) ([]byte, error) {
	trace, err := client.Send(cmd)
	if err != nil {
		return nil, err
	}
	res, err := iso7816.NewReadBinaryResult(trace)
	if err != nil {
		return nil, err
	}
	data, err := res.Data()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDataGroup, err)
	}
	return data, nil
}

// ReadAll reads and decodes DG1, DG11 and DG12 from the selected eMRTD application.
// A failure on any of them fails the whole read.
func ReadAll(t iso7816.Transmitter, logger *slog.Logger) (*DG1, *DG11, *DG12, error) {
	if logger == nil {
		logger = slog.Default()
	}

	raw1, err := ReadFile(t, FileDG1)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read DG1: %w", err)
	}
	logger.Debug("data group read", "dg", 1, "length", len(raw1))
	dg1, err := ParseDG1(raw1)
	if err != nil {
		return nil, nil, nil, err
	}

	raw11, err := ReadFile(t, FileDG11)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read DG11: %w", err)
	}
	logger.Debug("data group read", "dg", 11, "length", len(raw11))
	dg11, err := ParseDG11(raw11)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Debug("data group decoded", "dg", 11, "fields", dg11.Describe())

	raw12, err := ReadFile(t, FileDG12)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read DG12: %w", err)
	}
	logger.Debug("data group read", "dg", 12, "length", len(raw12))
	dg12, err := ParseDG12(raw12)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Debug("data group decoded", "dg", 12, "fields", dg12.Describe())

	return dg1, dg11, dg12, nil
}
