package sm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/aead/cmac"

	"github.com/gregLibert/emrtd/pkg/bits"
)

// CRYPTOGRAPHIC SUITES (ICAO 9303-11 §9.7 and §9.8):
//
// 3DES (BAC and PACE cipher id 1):
//   - Two-key 3DES in CBC mode with a zero IV.
//   - MAC: ISO/IEC 9797-1 algorithm 3 ("retail MAC") with DES, 8 bytes.
//   - Send sequence counter: 8 bytes.
//
// AES (PACE cipher ids 2/3/4):
//   - AES-128/192/256 in CBC mode, IV = E(KSenc, SSC).
//   - MAC: CMAC truncated to 8 bytes.
//   - Send sequence counter: 16 bytes.
//
// Padding is ISO/IEC 9797-1 method 2 (0x80 then zeros up to the block size).
//
// KEY DERIVATION:
//   KDF(K, c) = H(K || c) with c a 32-bit big endian counter,
//   H = SHA-1 for 3DES and AES-128, SHA-256 for AES-192/256.
//   c = 1 for encryption, 2 for MAC, 3 for the PACE password key.

// Algorithm identifies the block cipher of a secure channel.
type Algorithm int

const (
	TDES Algorithm = iota + 1
	AES128
	AES192
	AES256
)

// KDF counters.
const (
	CounterEnc      uint32 = 1
	CounterMAC      uint32 = 2
	CounterPassword uint32 = 3
)

// MACLength is the size of every secure messaging checksum.
const MACLength = 8

var errNotAligned = errors.New("data not block aligned")

func (a Algorithm) String() string {
	switch a {
	case TDES:
		return "3DES"
	case AES128:
		return "AES-128"
	case AES192:
		return "AES-192"
	case AES256:
		return "AES-256"
	default:
		return fmt.Sprintf("Algorithm(%d)", int(a))
	}
}

// KeyLength returns the session key size in bytes.
func (a Algorithm) KeyLength() int {
	switch a {
	case AES192:
		return 24
	case AES256:
		return 32
	default:
		return 16
	}
}

// BlockSize returns the cipher block size, which is also the SSC size.
func (a Algorithm) BlockSize() int {
	if a == TDES {
		return des.BlockSize
	}
	return aes.BlockSize
}

// KDF derives a key for alg from a shared secret and a counter.
func KDF(secret []byte, counter uint32, alg Algorithm) []byte {
	input := make([]byte, 0, len(secret)+4)
	input = append(input, secret...)
	input = binary.BigEndian.AppendUint32(input, counter)

	var digest []byte
	switch alg {
	case AES192, AES256:
		sum := sha256.Sum256(input)
		digest = sum[:]
	default:
		sum := sha1.Sum(input)
		digest = sum[:]
	}

	key := digest[:alg.KeyLength()]
	if alg == TDES {
		return bits.AdjustParity(key)
	}
	out := make([]byte, len(key))
	copy(out, key)
	return out
}

// Pad applies ISO/IEC 9797-1 padding method 2.
func Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - (len(data) % blockSize)
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	out[len(data)] = 0x80
	return out
}

// Unpad removes ISO/IEC 9797-1 padding method 2.
func Unpad(data []byte) ([]byte, error) {
	idx := len(data) - 1
	for idx >= 0 && data[idx] == 0x00 {
		idx--
	}
	if idx < 0 || data[idx] != 0x80 {
		return nil, errors.New("bad padding")
	}
	return data[:idx], nil
}

// Cipher holds the session keys of one secure channel.
type Cipher struct {
	alg  Algorithm
	kEnc []byte
	kMAC []byte

	enc cipher.Block
	mac cipher.Block // AES: CMAC block cipher
	ka  cipher.Block // 3DES: single DES halves of the MAC key
	kb  cipher.Block
}

// NewCipher prepares the encryption and MAC primitives for alg.
func NewCipher(alg Algorithm, kEnc, kMAC []byte) (*Cipher, error) {
	if len(kEnc) != alg.KeyLength() || len(kMAC) != alg.KeyLength() {
		return nil, fmt.Errorf("%s: expected %d byte keys, got %d/%d", alg, alg.KeyLength(), len(kEnc), len(kMAC))
	}

	c := &Cipher{
		alg:  alg,
		kEnc: append([]byte(nil), kEnc...),
		kMAC: append([]byte(nil), kMAC...),
	}

	var err error
	switch alg {
	case TDES:
		if c.enc, err = newTripleDES(c.kEnc); err != nil {
			return nil, err
		}
		if c.ka, err = des.NewCipher(c.kMAC[:8]); err != nil {
			return nil, err
		}
		if c.kb, err = des.NewCipher(c.kMAC[8:16]); err != nil {
			return nil, err
		}
	case AES128, AES192, AES256:
		if c.enc, err = aes.NewCipher(c.kEnc); err != nil {
			return nil, err
		}
		if c.mac, err = aes.NewCipher(c.kMAC); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported algorithm %s", alg)
	}
	return c, nil
}

func newTripleDES(key []byte) (cipher.Block, error) {
	k := make([]byte, 0, 24)
	k = append(k, key[:16]...)
	k = append(k, key[:8]...)
	return des.NewTripleDESCipher(k)
}

// Algorithm returns the cipher suite of the channel.
func (c *Cipher) Algorithm() Algorithm { return c.alg }

// IV computes the CBC initialization vector for the given send sequence counter.
func (c *Cipher) IV(ssc []byte) []byte {
	iv := make([]byte, c.alg.BlockSize())
	if c.alg != TDES {
		c.enc.Encrypt(iv, ssc)
	}
	return iv
}

// Encrypt CBC-encrypts block aligned data.
func (c *Cipher) Encrypt(iv, data []byte) ([]byte, error) {
	if len(data)%c.enc.BlockSize() != 0 {
		return nil, errNotAligned
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(c.enc, iv).CryptBlocks(out, data)
	return out, nil
}

// Decrypt CBC-decrypts block aligned data.
func (c *Cipher) Decrypt(iv, data []byte) ([]byte, error) {
	if len(data)%c.enc.BlockSize() != 0 {
		return nil, errNotAligned
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(c.enc, iv).CryptBlocks(out, data)
	return out, nil
}

// MAC computes the 8-byte checksum of data.
// For 3DES the data must already be padded; CMAC accepts any length.
func (c *Cipher) MAC(data []byte) ([]byte, error) {
	if c.alg == TDES {
		return retailMAC(c.ka, c.kb, data)
	}
	return cmac.Sum(data, c.mac, MACLength)
}

// Wipe zeroes the key material. The Cipher must not be used afterwards.
func (c *Cipher) Wipe() {
	clear(c.kEnc)
	clear(c.kMAC)
	c.enc, c.mac, c.ka, c.kb = nil, nil, nil, nil
}

// retailMAC implements ISO/IEC 9797-1 MAC algorithm 3 with DES: CBC-MAC under Ka,
// then the final block is decrypted under Kb and encrypted again under Ka.
func retailMAC(ka, kb cipher.Block, data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%des.BlockSize != 0 {
		return nil, errNotAligned
	}

	h := make([]byte, des.BlockSize)
	for off := 0; off < len(data); off += des.BlockSize {
		for i := range h {
			h[i] ^= data[off+i]
		}
		ka.Encrypt(h, h)
	}
	kb.Decrypt(h, h)
	ka.Encrypt(h, h)
	return h, nil
}
