package frost

import (
	"fmt"
	"io"

	"github.com/stars-network/frost-wallet-go/pkg/curve"
)

// Round1Secret is the private state a participant carries between DKG
// rounds one and two. It must never leave the device.
type Round1Secret struct {
	Index  uint16
	coeffs []curve.Scalar
}

// Wipe overwrites the secret polynomial coefficients
func (s *Round1Secret) Wipe() {
	if s == nil {
		return
	}
	for _, c := range s.coeffs {
		c.Zeroize()
	}
	s.coeffs = nil
}

// Round1Package is broadcast to every other participant during round one:
// Feldman commitments to the secret polynomial plus a Schnorr proof of
// knowledge of the constant term.
type Round1Package struct {
	Commitments []curve.Point
	ProofR      curve.Point
	ProofZ      curve.Scalar
}

// Round2Secret is the private state carried from round two into
// finalization: the participant's own evaluation of its polynomial.
type Round2Secret struct {
	Index    uint16
	OwnShare curve.Scalar
}

// Wipe overwrites the retained share
func (s *Round2Secret) Wipe() {
	if s != nil && s.OwnShare != nil {
		s.OwnShare.Zeroize()
	}
}

// Round2Package is sent directly (not broadcast) to a single recipient
// during round two: the sender's polynomial evaluated at the recipient's
// identifier.
type Round2Package struct {
	Share curve.Scalar
}

// ShareVerificationError reports a round-2 share that failed Feldman
// verification against the sender's round-1 commitments.
type ShareVerificationError struct {
	Sender uint16
}

func (e *ShareVerificationError) Error() string {
	return fmt.Sprintf("invalid secret share from participant %d", e.Sender)
}

// DKGRound1 samples the secret polynomial and produces the broadcast
// package. The secret must be wiped if the ceremony aborts.
func (p *Params) DKGRound1(index uint16, rng io.Reader) (*Round1Secret, *Round1Package, error) {
	g := p.Suite.Group
	if _, err := p.identifierScalar(index); err != nil {
		return nil, nil, err
	}

	coeffs := make([]curve.Scalar, p.Threshold)
	for i := range coeffs {
		c, err := g.RandomScalar(rng)
		if err != nil {
			wipeScalars(coeffs[:i])
			return nil, nil, fmt.Errorf("failed to sample polynomial coefficient: %w", err)
		}
		coeffs[i] = c
	}

	commitments := make([]curve.Point, p.Threshold)
	for i, c := range coeffs {
		commitments[i] = g.NewPoint().ScalarMult(c, g.Generator())
	}

	// Schnorr proof of knowledge of the constant term, binding the proof
	// to the prover's identifier.
	k, err := g.RandomScalar(rng)
	if err != nil {
		wipeScalars(coeffs)
		return nil, nil, fmt.Errorf("failed to sample proof nonce: %w", err)
	}
	proofR := g.NewPoint().ScalarMult(k, g.Generator())
	c := p.Suite.H("dkg-pok", IdentifierBytes(index), commitments[0].Bytes(), proofR.Bytes())
	proofZ := g.NewScalar().Mul(coeffs[0], c)
	proofZ = g.NewScalar().Add(k, proofZ)
	k.Zeroize()

	secret := &Round1Secret{Index: index, coeffs: coeffs}
	pkg := &Round1Package{Commitments: commitments, ProofR: proofR, ProofZ: proofZ}
	return secret, pkg, nil
}

// verifyProofOfKnowledge checks a round-1 package's Schnorr proof
func (p *Params) verifyProofOfKnowledge(sender uint16, pkg *Round1Package) error {
	g := p.Suite.Group
	if len(pkg.Commitments) != int(p.Threshold) {
		return fmt.Errorf("participant %d sent %d commitments, expected %d", sender, len(pkg.Commitments), p.Threshold)
	}
	c := p.Suite.H("dkg-pok", IdentifierBytes(sender), pkg.Commitments[0].Bytes(), pkg.ProofR.Bytes())
	lhs := g.NewPoint().ScalarMult(pkg.ProofZ, g.Generator())
	rhs := g.NewPoint().ScalarMult(c, pkg.Commitments[0])
	rhs = g.NewPoint().Add(pkg.ProofR, rhs)
	if !lhs.Equal(rhs) {
		return fmt.Errorf("participant %d failed proof of knowledge", sender)
	}
	return nil
}

// DKGRound2 verifies every received round-1 package and evaluates the
// secret polynomial for each other participant, producing one directed
// package per addressee. The round-1 secret is consumed: its coefficients
// are wiped before returning, success or failure.
func (p *Params) DKGRound2(sec1 *Round1Secret, round1 map[uint16]*Round1Package) (*Round2Secret, map[uint16]*Round2Package, error) {
	defer sec1.Wipe()
	g := p.Suite.Group

	if len(round1) != int(p.Total)-1 {
		return nil, nil, fmt.Errorf("round 1 incomplete: have %d packages, expected %d", len(round1), p.Total-1)
	}

	for sender, pkg := range round1 {
		if sender == sec1.Index {
			return nil, nil, fmt.Errorf("round 1 map must not contain own package")
		}
		if err := p.verifyProofOfKnowledge(sender, pkg); err != nil {
			return nil, nil, err
		}
	}

	out := make(map[uint16]*Round2Package, len(round1))
	for recipient := range round1 {
		x, err := p.identifierScalar(recipient)
		if err != nil {
			return nil, nil, err
		}
		out[recipient] = &Round2Package{Share: p.evalPolynomial(sec1.coeffs, x)}
	}

	selfX, err := p.identifierScalar(sec1.Index)
	if err != nil {
		return nil, nil, err
	}
	own := p.evalPolynomial(sec1.coeffs, selfX)

	sec2 := &Round2Secret{Index: sec1.Index, OwnShare: g.NewScalar().Set(own)}
	own.Zeroize()
	return sec2, out, nil
}

// DKGFinalize verifies every received round-2 share against its sender's
// round-1 commitments, then assembles the key package and the public key
// package. round1 must contain a package for every participant including
// self; round2 one share from every other participant. The round-2 secret
// is consumed.
func (p *Params) DKGFinalize(
	sec2 *Round2Secret,
	round1 map[uint16]*Round1Package,
	round2 map[uint16]*Round2Package,
) (*KeyPackage, *PublicKeyPackage, error) {
	defer sec2.Wipe()
	g := p.Suite.Group

	if len(round1) != int(p.Total) {
		return nil, nil, fmt.Errorf("round 1 map has %d packages, expected %d", len(round1), p.Total)
	}
	if len(round2) != int(p.Total)-1 {
		return nil, nil, fmt.Errorf("round 2 incomplete: have %d shares, expected %d", len(round2), p.Total-1)
	}

	selfX, err := p.identifierScalar(sec2.Index)
	if err != nil {
		return nil, nil, err
	}

	// Feldman check: share * G == sum(C_sender[k] * selfX^k)
	for sender, pkg := range round2 {
		commitments := round1[sender]
		if commitments == nil {
			return nil, nil, fmt.Errorf("round 2 share from participant %d without round 1 package", sender)
		}
		lhs := g.NewPoint().ScalarMult(pkg.Share, g.Generator())
		if !lhs.Equal(p.evalCommitments(commitments.Commitments, selfX)) {
			return nil, nil, &ShareVerificationError{Sender: sender}
		}
	}

	secretShare := g.NewScalar().Set(sec2.OwnShare)
	for _, pkg := range round2 {
		secretShare = g.NewScalar().Add(secretShare, pkg.Share)
	}

	groupKey := g.NewPoint()
	for _, pkg := range round1 {
		groupKey = g.NewPoint().Add(groupKey, pkg.Commitments[0])
	}
	if groupKey.IsIdentity() {
		secretShare.Zeroize()
		return nil, nil, fmt.Errorf("degenerate group key")
	}

	verifyingShares := make(map[uint16]curve.Point, p.Total)
	for m := range round1 {
		x, err := p.identifierScalar(m)
		if err != nil {
			secretShare.Zeroize()
			return nil, nil, err
		}
		share := g.NewPoint()
		for _, pkg := range round1 {
			share = g.NewPoint().Add(share, p.evalCommitments(pkg.Commitments, x))
		}
		verifyingShares[m] = share
	}

	keyPkg := &KeyPackage{
		Index:       sec2.Index,
		SecretShare: secretShare,
		PublicShare: g.NewPoint().Set(verifyingShares[sec2.Index]),
		GroupKey:    g.NewPoint().Set(groupKey),
		Threshold:   p.Threshold,
	}
	pubPkg := &PublicKeyPackage{
		GroupKey:        groupKey,
		VerifyingShares: verifyingShares,
		Threshold:       p.Threshold,
		Total:           p.Total,
	}
	return keyPkg, pubPkg, nil
}

// evalCommitments evaluates a commitment vector at x in the exponent:
// sum(C[k] * x^k)
func (p *Params) evalCommitments(commitments []curve.Point, x curve.Scalar) curve.Point {
	g := p.Suite.Group
	result := g.NewPoint()
	xPower := g.ScalarFromUint64(1)
	for _, c := range commitments {
		term := g.NewPoint().ScalarMult(xPower, c)
		result = g.NewPoint().Add(result, term)
		xPower = g.NewScalar().Mul(xPower, x)
	}
	return result
}

func wipeScalars(scalars []curve.Scalar) {
	for _, s := range scalars {
		if s != nil {
			s.Zeroize()
		}
	}
}
