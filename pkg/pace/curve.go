package pace

import (
	"crypto/elliptic"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/osanderson/brainpool"
)

// Standardized domain parameter identifiers (ICAO 9303-11 §9.5.1) backed by an
// elliptic curve implementation.
const (
	ParamNISTP224      = 10
	ParamNISTP256      = 12
	ParamBrainpoolP256 = 13
	ParamNISTP384      = 15
	ParamBrainpoolP384 = 16
	ParamBrainpoolP512 = 17
	ParamNISTP521      = 18
)

// CurveByID returns the curve of a standardized domain parameter identifier.
func CurveByID(id int) (elliptic.Curve, error) {
	switch id {
	case ParamNISTP224:
		return elliptic.P224(), nil
	case ParamNISTP256:
		return elliptic.P256(), nil
	case ParamBrainpoolP256:
		return brainpool.P256r1(), nil
	case ParamNISTP384:
		return elliptic.P384(), nil
	case ParamBrainpoolP384:
		return brainpool.P384r1(), nil
	case ParamBrainpoolP512:
		return brainpool.P512r1(), nil
	case ParamNISTP521:
		return elliptic.P521(), nil
	default:
		return nil, fmt.Errorf("unsupported domain parameters %d", id)
	}
}

var errInfinity = errors.New("point at infinity")

// point is an affine point together with its curve.
type point struct {
	curve elliptic.Curve
	x, y  *big.Int
}

func byteLen(c elliptic.Curve) int {
	return (c.Params().BitSize + 7) / 8
}

// Bytes returns the uncompressed encoding 04 || X || Y.
func (p point) Bytes() []byte {
	n := byteLen(p.curve)
	out := make([]byte, 1+2*n)
	out[0] = 0x04
	p.x.FillBytes(out[1 : 1+n])
	p.y.FillBytes(out[1+n:])
	return out
}

func (p point) equal(o point) bool {
	return p.x.Cmp(o.x) == 0 && p.y.Cmp(o.y) == 0
}

// decodePoint parses an uncompressed point and checks it lies on the curve.
func decodePoint(c elliptic.Curve, data []byte) (point, error) {
	n := byteLen(c)
	if len(data) != 1+2*n || data[0] != 0x04 {
		return point{}, fmt.Errorf("invalid point encoding (%d bytes)", len(data))
	}
	x := new(big.Int).SetBytes(data[1 : 1+n])
	y := new(big.Int).SetBytes(data[1+n:])
	if !c.IsOnCurve(x, y) {
		return point{}, fmt.Errorf("point not on curve")
	}
	return point{curve: c, x: x, y: y}, nil
}

// generator returns the base point of c.
func generator(c elliptic.Curve) point {
	p := c.Params()
	return point{curve: c, x: p.Gx, y: p.Gy}
}

func (p point) scalarMult(k []byte) (point, error) {
	x, y := p.curve.ScalarMult(p.x, p.y, k)
	if x.Sign() == 0 && y.Sign() == 0 {
		return point{}, errInfinity
	}
	return point{curve: p.curve, x: x, y: y}, nil
}

func (p point) add(o point) (point, error) {
	x, y := p.curve.Add(p.x, p.y, o.x, o.y)
	if x.Sign() == 0 && y.Sign() == 0 {
		return point{}, errInfinity
	}
	return point{curve: p.curve, x: x, y: y}, nil
}

// mapNonce computes the generic mapping G' = s*G + H.
func mapNonce(c elliptic.Curve, s []byte, h point) (point, error) {
	sg, err := generator(c).scalarMult(s)
	if err != nil {
		return point{}, err
	}
	return sg.add(h)
}

// randomScalar draws a private key in [1, n-1].
func randomScalar(c elliptic.Curve, r io.Reader) ([]byte, error) {
	n := c.Params().N
	buf := make([]byte, byteLen(c)+8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("random: %w", err)
	}
	k := new(big.Int).SetBytes(buf)
	nMinus1 := new(big.Int).Sub(n, big.NewInt(1))
	k.Mod(k, nMinus1)
	k.Add(k, big.NewInt(1))

	out := make([]byte, (n.BitLen()+7)/8)
	return k.FillBytes(out), nil
}

// sharedSecret returns the x-coordinate of the shared point, encoded on the field size.
func sharedSecret(p point) []byte {
	out := make([]byte, byteLen(p.curve))
	return p.x.FillBytes(out)
}
