// Package frost implements the FROST threshold signature protocol math:
// two-round distributed key generation and two-round signing, generic over
// the wallet's two ciphersuites.
package frost

import (
	"encoding/binary"
	"fmt"

	"github.com/stars-network/frost-wallet-go/pkg/curve"
)

// Params fixes the ciphersuite and threshold parameters for one protocol
// instance.
type Params struct {
	Suite     *curve.Suite
	Threshold uint16 // t - minimum signers needed
	Total     uint16 // n - total participants
}

// NewParams validates and builds protocol parameters
func NewParams(suite *curve.Suite, threshold, total uint16) (*Params, error) {
	if suite == nil {
		return nil, fmt.Errorf("ciphersuite is required")
	}
	if total < 2 {
		return nil, fmt.Errorf("total participants must be at least 2, got %d", total)
	}
	if threshold < 1 || threshold > total {
		return nil, fmt.Errorf("threshold must be in [1, %d], got %d", total, threshold)
	}
	return &Params{Suite: suite, Threshold: threshold, Total: total}, nil
}

// IdentifierBytes renders a participant index in its canonical wire form
func IdentifierBytes(index uint16) []byte {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], index)
	return buf[:]
}

// identifierScalar maps a 1-based index to its field element
func (p *Params) identifierScalar(index uint16) (curve.Scalar, error) {
	return p.Suite.ScalarFromIndex(index)
}

// evalPolynomial evaluates a polynomial with the given coefficients at x
// using Horner's method. coeffs[0] is the constant term.
func (p *Params) evalPolynomial(coeffs []curve.Scalar, x curve.Scalar) curve.Scalar {
	g := p.Suite.Group
	result := g.NewScalar().Set(coeffs[len(coeffs)-1])
	for i := len(coeffs) - 2; i >= 0; i-- {
		result = g.NewScalar().Mul(result, x)
		result = g.NewScalar().Add(result, coeffs[i])
	}
	return result
}

// lagrangeCoefficient computes the Lagrange basis polynomial for index,
// evaluated at zero, over the given signer set.
func (p *Params) lagrangeCoefficient(index uint16, signerSet []uint16) (curve.Scalar, error) {
	g := p.Suite.Group
	xi, err := p.identifierScalar(index)
	if err != nil {
		return nil, err
	}

	num := g.ScalarFromUint64(1)
	den := g.ScalarFromUint64(1)
	for _, j := range signerSet {
		if j == index {
			continue
		}
		xj, err := p.identifierScalar(j)
		if err != nil {
			return nil, err
		}
		num = g.NewScalar().Mul(num, xj)
		diff := g.NewScalar().Sub(xj, xi)
		den = g.NewScalar().Mul(den, diff)
	}

	denInv, err := g.NewScalar().Invert(den)
	if err != nil {
		return nil, fmt.Errorf("duplicate signer index %d in signer set", index)
	}
	return g.NewScalar().Mul(num, denInv), nil
}

// KeyPackage is a participant's secret output of the DKG ceremony
type KeyPackage struct {
	Index       uint16
	SecretShare curve.Scalar
	PublicShare curve.Point
	GroupKey    curve.Point
	Threshold   uint16
}

// Wipe overwrites the secret share
func (k *KeyPackage) Wipe() {
	if k != nil && k.SecretShare != nil {
		k.SecretShare.Zeroize()
	}
}

// PublicKeyPackage is the public output of the DKG ceremony, identical on
// every participant.
type PublicKeyPackage struct {
	GroupKey        curve.Point
	VerifyingShares map[uint16]curve.Point
	Threshold       uint16
	Total           uint16
}

// SerializeVerifyingKey returns the compressed group public key bytes
func SerializeVerifyingKey(pub *PublicKeyPackage) []byte {
	return pub.GroupKey.Bytes()
}
