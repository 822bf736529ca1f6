package curve

import (
	"encoding/hex"
	"fmt"

	"github.com/stars-network/frost-wallet-go/pkg/config"
)

// Suite binds a group to its curve tag and domain-separation label. The
// variant set is closed: exactly the two ciphersuites the wallet supports.
type Suite struct {
	Curve config.CurveType
	Group Group
	dst   []byte
}

var (
	secp256k1Suite = &Suite{
		Curve: config.CurveTypeSecp256k1,
		Group: Secp256k1Group{},
		dst:   []byte("FROST-secp256k1-SHA256-v1"),
	}
	ed25519Suite = &Suite{
		Curve: config.CurveTypeEd25519,
		Group: Ed25519Group{},
		dst:   []byte("FROST-ED25519-SHA512-v1"),
	}
)

// ForCurve returns the suite for a curve tag
func ForCurve(tag config.CurveType) (*Suite, error) {
	switch tag {
	case config.CurveTypeSecp256k1:
		return secp256k1Suite, nil
	case config.CurveTypeEd25519:
		return ed25519Suite, nil
	default:
		return nil, fmt.Errorf("unsupported curve type: %s", tag)
	}
}

// H hashes the given data to a scalar under the suite's domain separator.
// The context string keeps scalars derived for different purposes
// (binding factors, challenges, proofs) independent.
func (s *Suite) H(context string, data ...[]byte) Scalar {
	input := make([][]byte, 0, len(data)+2)
	input = append(input, s.dst, []byte(context))
	input = append(input, data...)
	return s.Group.HashToScalar(input...)
}

// ScalarFromIndex maps a 1-based participant index to its protocol
// identifier scalar. Zero is not a valid identifier.
func (s *Suite) ScalarFromIndex(index uint16) (Scalar, error) {
	if index == 0 {
		return nil, fmt.Errorf("participant index must be non-zero")
	}
	return s.Group.ScalarFromUint64(uint64(index)), nil
}

// EncodeScalar renders a scalar in its hex wire form
func (s *Suite) EncodeScalar(v Scalar) string {
	return hex.EncodeToString(v.Bytes())
}

// DecodeScalar parses a scalar from its hex wire form
func (s *Suite) DecodeScalar(v string) (Scalar, error) {
	raw, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("invalid scalar encoding: %w", err)
	}
	return s.Group.NewScalar().SetBytes(raw)
}

// EncodePoint renders a point in its hex wire form
func (s *Suite) EncodePoint(p Point) string {
	return hex.EncodeToString(p.Bytes())
}

// DecodePoint parses a point from its hex wire form
func (s *Suite) DecodePoint(v string) (Point, error) {
	raw, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("invalid point encoding: %w", err)
	}
	return s.Group.NewPoint().SetBytes(raw)
}
