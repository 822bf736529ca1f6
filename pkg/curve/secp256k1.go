package curve

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Secp256k1Group implements Group over the short-Weierstrass secp256k1
// curve used by Ethereum and Bitcoin-family chains. Points serialize in
// 33-byte SEC1 compressed form; the identity serializes as 33 zero bytes
// (it never appears on the wire in a completed protocol run).
type Secp256k1Group struct{}

const secpPointLen = 33

var secpIdentityBytes = make([]byte, secpPointLen)

func (Secp256k1Group) Name() string { return "secp256k1" }

func (Secp256k1Group) NewScalar() Scalar { return &secpScalar{} }

func (Secp256k1Group) NewPoint() Point { return &secpPoint{} }

func (Secp256k1Group) Generator() Point {
	one := new(secp256k1.ModNScalar)
	one.SetInt(1)
	p := &secpPoint{}
	secp256k1.ScalarBaseMultNonConst(one, &p.v)
	return p
}

func (Secp256k1Group) ScalarFromUint64(v uint64) Scalar {
	var buf [32]byte
	for i := 0; i < 8; i++ {
		buf[31-i] = byte(v >> (8 * i))
	}
	s := &secpScalar{}
	s.v.SetBytes(&buf)
	return s
}

func (Secp256k1Group) RandomScalar(r io.Reader) (Scalar, error) {
	var buf [32]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, fmt.Errorf("failed to read randomness: %w", err)
		}
		s := &secpScalar{}
		overflow := s.v.SetBytes(&buf)
		if overflow == 0 && !s.v.IsZero() {
			return s, nil
		}
	}
}

// HashToScalar reduces SHA-256(data...) modulo the group order. The
// negligible zero case maps to one so the result is always usable as a
// non-zero challenge.
func (Secp256k1Group) HashToScalar(data ...[]byte) Scalar {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}
	digest := h.Sum(nil)

	s := &secpScalar{}
	s.v.SetByteSlice(digest)
	if s.v.IsZero() {
		s.v.SetInt(1)
	}
	return s
}

func (Secp256k1Group) ScalarLen() int { return 32 }

func (Secp256k1Group) PointLen() int { return secpPointLen }

type secpScalar struct {
	v secp256k1.ModNScalar
}

func (s *secpScalar) Add(a, b Scalar) Scalar {
	s.v.Add2(&a.(*secpScalar).v, &b.(*secpScalar).v)
	return s
}

func (s *secpScalar) Sub(a, b Scalar) Scalar {
	neg := new(secp256k1.ModNScalar).NegateVal(&b.(*secpScalar).v)
	s.v.Add2(&a.(*secpScalar).v, neg)
	return s
}

func (s *secpScalar) Mul(a, b Scalar) Scalar {
	s.v.Mul2(&a.(*secpScalar).v, &b.(*secpScalar).v)
	return s
}

func (s *secpScalar) Negate(a Scalar) Scalar {
	s.v.NegateVal(&a.(*secpScalar).v)
	return s
}

func (s *secpScalar) Invert(a Scalar) (Scalar, error) {
	av := &a.(*secpScalar).v
	if av.IsZero() {
		return nil, fmt.Errorf("cannot invert zero scalar")
	}
	s.v.InverseValNonConst(av)
	return s, nil
}

func (s *secpScalar) Set(a Scalar) Scalar {
	s.v.Set(&a.(*secpScalar).v)
	return s
}

func (s *secpScalar) Bytes() []byte {
	b := s.v.Bytes()
	return b[:]
}

func (s *secpScalar) SetBytes(data []byte) (Scalar, error) {
	if len(data) != 32 {
		return nil, fmt.Errorf("invalid secp256k1 scalar length: %d", len(data))
	}
	var buf [32]byte
	copy(buf[:], data)
	if overflow := s.v.SetBytes(&buf); overflow != 0 {
		return nil, fmt.Errorf("secp256k1 scalar out of range")
	}
	return s, nil
}

func (s *secpScalar) Equal(b Scalar) bool {
	return s.v.Equals(&b.(*secpScalar).v)
}

func (s *secpScalar) IsZero() bool {
	return s.v.IsZero()
}

func (s *secpScalar) Zeroize() {
	s.v.Zero()
}

type secpPoint struct {
	v secp256k1.JacobianPoint
}

func (p *secpPoint) Add(a, b Point) Point {
	var r secp256k1.JacobianPoint
	secp256k1.AddNonConst(&a.(*secpPoint).v, &b.(*secpPoint).v, &r)
	p.v = r
	return p
}

func (p *secpPoint) Sub(a, b Point) Point {
	neg := &secpPoint{}
	neg.Negate(b)
	return p.Add(a, neg)
}

func (p *secpPoint) Negate(a Point) Point {
	p.v = a.(*secpPoint).v
	p.v.Y.Negate(1).Normalize()
	return p
}

func (p *secpPoint) ScalarMult(s Scalar, q Point) Point {
	var r secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&s.(*secpScalar).v, &q.(*secpPoint).v, &r)
	p.v = r
	return p
}

func (p *secpPoint) Set(a Point) Point {
	p.v = a.(*secpPoint).v
	return p
}

func (p *secpPoint) Bytes() []byte {
	if p.IsIdentity() {
		out := make([]byte, secpPointLen)
		return out
	}
	affine := p.v
	affine.ToAffine()
	pub := secp256k1.NewPublicKey(&affine.X, &affine.Y)
	return pub.SerializeCompressed()
}

func (p *secpPoint) SetBytes(data []byte) (Point, error) {
	if len(data) != secpPointLen {
		return nil, fmt.Errorf("invalid secp256k1 point length: %d", len(data))
	}
	if bytes.Equal(data, secpIdentityBytes) {
		p.v = secp256k1.JacobianPoint{}
		return p, nil
	}
	pub, err := secp256k1.ParsePubKey(data)
	if err != nil {
		return nil, fmt.Errorf("invalid secp256k1 point: %w", err)
	}
	pub.AsJacobian(&p.v)
	return p, nil
}

func (p *secpPoint) Equal(b Point) bool {
	return bytes.Equal(p.Bytes(), b.Bytes())
}

func (p *secpPoint) IsIdentity() bool {
	z := p.v.Z
	z.Normalize()
	return z.IsZero()
}
