package frost

import (
	"fmt"

	"github.com/stars-network/frost-wallet-go/pkg/curve"
)

// Wire forms of the protocol packages. Points and scalars travel as hex
// strings; decoding needs the session's ciphersuite, so raw payloads stay
// opaque until the owning engine decodes them.

// Round1PackageWire is the JSON form of a DKG round-1 broadcast
type Round1PackageWire struct {
	Commitments []string `json:"commitments"`
	ProofR      string   `json:"proof_r"`
	ProofZ      string   `json:"proof_z"`
}

// EncodeRound1Package renders a round-1 package for the wire
func EncodeRound1Package(suite *curve.Suite, pkg *Round1Package) *Round1PackageWire {
	commitments := make([]string, len(pkg.Commitments))
	for i, c := range pkg.Commitments {
		commitments[i] = suite.EncodePoint(c)
	}
	return &Round1PackageWire{
		Commitments: commitments,
		ProofR:      suite.EncodePoint(pkg.ProofR),
		ProofZ:      suite.EncodeScalar(pkg.ProofZ),
	}
}

// DecodeRound1Package parses a round-1 package from its wire form
func DecodeRound1Package(suite *curve.Suite, w *Round1PackageWire) (*Round1Package, error) {
	if len(w.Commitments) == 0 {
		return nil, fmt.Errorf("round 1 package has no commitments")
	}
	commitments := make([]curve.Point, len(w.Commitments))
	for i, c := range w.Commitments {
		p, err := suite.DecodePoint(c)
		if err != nil {
			return nil, fmt.Errorf("round 1 commitment %d: %w", i, err)
		}
		commitments[i] = p
	}
	proofR, err := suite.DecodePoint(w.ProofR)
	if err != nil {
		return nil, fmt.Errorf("round 1 proof commitment: %w", err)
	}
	proofZ, err := suite.DecodeScalar(w.ProofZ)
	if err != nil {
		return nil, fmt.Errorf("round 1 proof response: %w", err)
	}
	return &Round1Package{Commitments: commitments, ProofR: proofR, ProofZ: proofZ}, nil
}

// Round2PackageWire is the JSON form of a DKG round-2 directed share
type Round2PackageWire struct {
	Share string `json:"share"`
}

// EncodeRound2Package renders a round-2 package for the wire
func EncodeRound2Package(suite *curve.Suite, pkg *Round2Package) *Round2PackageWire {
	return &Round2PackageWire{Share: suite.EncodeScalar(pkg.Share)}
}

// DecodeRound2Package parses a round-2 package from its wire form
func DecodeRound2Package(suite *curve.Suite, w *Round2PackageWire) (*Round2Package, error) {
	share, err := suite.DecodeScalar(w.Share)
	if err != nil {
		return nil, fmt.Errorf("round 2 share: %w", err)
	}
	return &Round2Package{Share: share}, nil
}

// SigningCommitmentsWire is the JSON form of a signing round-1 commitment
type SigningCommitmentsWire struct {
	Hiding  string `json:"hiding"`
	Binding string `json:"binding"`
}

// EncodeSigningCommitments renders signing commitments for the wire
func EncodeSigningCommitments(suite *curve.Suite, c *SigningCommitments) *SigningCommitmentsWire {
	return &SigningCommitmentsWire{
		Hiding:  suite.EncodePoint(c.Hiding),
		Binding: suite.EncodePoint(c.Binding),
	}
}

// DecodeSigningCommitments parses signing commitments from the wire form
func DecodeSigningCommitments(suite *curve.Suite, index uint16, w *SigningCommitmentsWire) (*SigningCommitments, error) {
	hiding, err := suite.DecodePoint(w.Hiding)
	if err != nil {
		return nil, fmt.Errorf("hiding commitment: %w", err)
	}
	binding, err := suite.DecodePoint(w.Binding)
	if err != nil {
		return nil, fmt.Errorf("binding commitment: %w", err)
	}
	return &SigningCommitments{Index: index, Hiding: hiding, Binding: binding}, nil
}

// SignatureShareWire is the JSON form of a signing round-2 share
type SignatureShareWire struct {
	Share string `json:"share"`
}

// EncodeSignatureShare renders a signature share for the wire
func EncodeSignatureShare(suite *curve.Suite, s *SignatureShare) *SignatureShareWire {
	return &SignatureShareWire{Share: suite.EncodeScalar(s.Z)}
}

// DecodeSignatureShare parses a signature share from its wire form
func DecodeSignatureShare(suite *curve.Suite, index uint16, w *SignatureShareWire) (*SignatureShare, error) {
	z, err := suite.DecodeScalar(w.Share)
	if err != nil {
		return nil, fmt.Errorf("signature share: %w", err)
	}
	return &SignatureShare{Index: index, Z: z}, nil
}

// KeyPackageWire is the serialized form of a key package, used only by
// the keystore inside the encrypted wallet record.
type KeyPackageWire struct {
	Index       uint16 `json:"identifier"`
	SecretShare string `json:"secret_share"`
	PublicShare string `json:"public_share"`
	GroupKey    string `json:"group_public_key"`
	Threshold   uint16 `json:"min_signers"`
}

// EncodeKeyPackage renders a key package for encrypted storage
func EncodeKeyPackage(suite *curve.Suite, kp *KeyPackage) *KeyPackageWire {
	return &KeyPackageWire{
		Index:       kp.Index,
		SecretShare: suite.EncodeScalar(kp.SecretShare),
		PublicShare: suite.EncodePoint(kp.PublicShare),
		GroupKey:    suite.EncodePoint(kp.GroupKey),
		Threshold:   kp.Threshold,
	}
}

// DecodeKeyPackage parses a key package from encrypted storage
func DecodeKeyPackage(suite *curve.Suite, w *KeyPackageWire) (*KeyPackage, error) {
	secretShare, err := suite.DecodeScalar(w.SecretShare)
	if err != nil {
		return nil, fmt.Errorf("key package secret share: %w", err)
	}
	publicShare, err := suite.DecodePoint(w.PublicShare)
	if err != nil {
		return nil, fmt.Errorf("key package public share: %w", err)
	}
	groupKey, err := suite.DecodePoint(w.GroupKey)
	if err != nil {
		return nil, fmt.Errorf("key package group key: %w", err)
	}
	return &KeyPackage{
		Index:       w.Index,
		SecretShare: secretShare,
		PublicShare: publicShare,
		GroupKey:    groupKey,
		Threshold:   w.Threshold,
	}, nil
}

// PublicKeyPackageWire is the serialized form of the public key package
type PublicKeyPackageWire struct {
	GroupKey        string            `json:"group_public_key"`
	VerifyingShares map[uint16]string `json:"verifying_shares"`
	Threshold       uint16            `json:"min_signers"`
	Total           uint16            `json:"max_signers"`
}

// EncodePublicKeyPackage renders a public key package for storage
func EncodePublicKeyPackage(suite *curve.Suite, pub *PublicKeyPackage) *PublicKeyPackageWire {
	shares := make(map[uint16]string, len(pub.VerifyingShares))
	for index, p := range pub.VerifyingShares {
		shares[index] = suite.EncodePoint(p)
	}
	return &PublicKeyPackageWire{
		GroupKey:        suite.EncodePoint(pub.GroupKey),
		VerifyingShares: shares,
		Threshold:       pub.Threshold,
		Total:           pub.Total,
	}
}

// DecodePublicKeyPackage parses a public key package from storage
func DecodePublicKeyPackage(suite *curve.Suite, w *PublicKeyPackageWire) (*PublicKeyPackage, error) {
	groupKey, err := suite.DecodePoint(w.GroupKey)
	if err != nil {
		return nil, fmt.Errorf("public key package group key: %w", err)
	}
	shares := make(map[uint16]curve.Point, len(w.VerifyingShares))
	for index, p := range w.VerifyingShares {
		point, err := suite.DecodePoint(p)
		if err != nil {
			return nil, fmt.Errorf("verifying share %d: %w", index, err)
		}
		shares[index] = point
	}
	return &PublicKeyPackage{
		GroupKey:        groupKey,
		VerifyingShares: shares,
		Threshold:       w.Threshold,
		Total:           w.Total,
	}, nil
}
