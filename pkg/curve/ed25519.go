package curve

import (
	"bytes"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"io"

	"filippo.io/edwards25519"
)

// Ed25519Group implements Group over the twisted-Edwards curve used by
// Solana-family chains. Points serialize in the standard 32-byte
// compressed Edwards encoding; scalars are 32-byte little-endian.
type Ed25519Group struct{}

func (Ed25519Group) Name() string { return "ed25519" }

func (Ed25519Group) NewScalar() Scalar { return &edScalar{v: *edwards25519.NewScalar()} }

func (Ed25519Group) NewPoint() Point { return &edPoint{v: *edwards25519.NewIdentityPoint()} }

func (Ed25519Group) Generator() Point {
	return &edPoint{v: *edwards25519.NewGeneratorPoint()}
}

func (Ed25519Group) ScalarFromUint64(v uint64) Scalar {
	var buf [32]byte
	binary.LittleEndian.PutUint64(buf[:8], v)
	s := &edScalar{v: *edwards25519.NewScalar()}
	// Values below the group order are always canonical.
	if _, err := s.v.SetCanonicalBytes(buf[:]); err != nil {
		panic(fmt.Sprintf("ed25519 scalar from uint64: %v", err))
	}
	return s
}

func (Ed25519Group) RandomScalar(r io.Reader) (Scalar, error) {
	var buf [64]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, fmt.Errorf("failed to read randomness: %w", err)
	}
	s := &edScalar{v: *edwards25519.NewScalar()}
	if _, err := s.v.SetUniformBytes(buf[:]); err != nil {
		return nil, fmt.Errorf("failed to derive scalar: %w", err)
	}
	return s, nil
}

// HashToScalar maps SHA-512(data...) to a scalar by wide reduction, the
// same construction ed25519 itself uses for challenge scalars.
func (Ed25519Group) HashToScalar(data ...[]byte) Scalar {
	h := sha512.New()
	for _, d := range data {
		h.Write(d)
	}
	digest := h.Sum(nil)

	s := &edScalar{v: *edwards25519.NewScalar()}
	if _, err := s.v.SetUniformBytes(digest); err != nil {
		panic(fmt.Sprintf("ed25519 hash to scalar: %v", err))
	}
	return s
}

func (Ed25519Group) ScalarLen() int { return 32 }

func (Ed25519Group) PointLen() int { return 32 }

type edScalar struct {
	v edwards25519.Scalar
}

func (s *edScalar) Add(a, b Scalar) Scalar {
	s.v.Add(&a.(*edScalar).v, &b.(*edScalar).v)
	return s
}

func (s *edScalar) Sub(a, b Scalar) Scalar {
	s.v.Subtract(&a.(*edScalar).v, &b.(*edScalar).v)
	return s
}

func (s *edScalar) Mul(a, b Scalar) Scalar {
	s.v.Multiply(&a.(*edScalar).v, &b.(*edScalar).v)
	return s
}

func (s *edScalar) Negate(a Scalar) Scalar {
	s.v.Negate(&a.(*edScalar).v)
	return s
}

func (s *edScalar) Invert(a Scalar) (Scalar, error) {
	av := a.(*edScalar)
	if av.IsZero() {
		return nil, fmt.Errorf("cannot invert zero scalar")
	}
	s.v.Invert(&av.v)
	return s, nil
}

func (s *edScalar) Set(a Scalar) Scalar {
	s.v.Set(&a.(*edScalar).v)
	return s
}

func (s *edScalar) Bytes() []byte {
	return s.v.Bytes()
}

func (s *edScalar) SetBytes(data []byte) (Scalar, error) {
	if _, err := s.v.SetCanonicalBytes(data); err != nil {
		return nil, fmt.Errorf("invalid ed25519 scalar: %w", err)
	}
	return s, nil
}

func (s *edScalar) Equal(b Scalar) bool {
	return s.v.Equal(&b.(*edScalar).v) == 1
}

func (s *edScalar) IsZero() bool {
	return s.v.Equal(edwards25519.NewScalar()) == 1
}

func (s *edScalar) Zeroize() {
	s.v = *edwards25519.NewScalar()
}

type edPoint struct {
	v edwards25519.Point
}

func (p *edPoint) Add(a, b Point) Point {
	p.v.Add(&a.(*edPoint).v, &b.(*edPoint).v)
	return p
}

func (p *edPoint) Sub(a, b Point) Point {
	p.v.Subtract(&a.(*edPoint).v, &b.(*edPoint).v)
	return p
}

func (p *edPoint) Negate(a Point) Point {
	p.v.Negate(&a.(*edPoint).v)
	return p
}

func (p *edPoint) ScalarMult(s Scalar, q Point) Point {
	p.v.ScalarMult(&s.(*edScalar).v, &q.(*edPoint).v)
	return p
}

func (p *edPoint) Set(a Point) Point {
	p.v.Set(&a.(*edPoint).v)
	return p
}

func (p *edPoint) Bytes() []byte {
	return p.v.Bytes()
}

func (p *edPoint) SetBytes(data []byte) (Point, error) {
	if _, err := p.v.SetBytes(data); err != nil {
		return nil, fmt.Errorf("invalid ed25519 point: %w", err)
	}
	if !bytes.Equal(p.v.Bytes(), data) {
		return nil, fmt.Errorf("invalid ed25519 point: non-canonical encoding")
	}
	return p, nil
}

func (p *edPoint) Equal(b Point) bool {
	return p.v.Equal(&b.(*edPoint).v) == 1
}

func (p *edPoint) IsIdentity() bool {
	return p.v.Equal(edwards25519.NewIdentityPoint()) == 1
}
