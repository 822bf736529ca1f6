package frost

import (
	"fmt"
	"io"
	"sort"

	"github.com/stars-network/frost-wallet-go/pkg/curve"
)

// SigningNonces is a signer's private nonce pair for one signing attempt.
// Nonces never leave the device and are consumed by Sign.
type SigningNonces struct {
	Index   uint16
	Hiding  curve.Scalar
	Binding curve.Scalar
}

// Wipe overwrites both nonces
func (n *SigningNonces) Wipe() {
	if n == nil {
		return
	}
	if n.Hiding != nil {
		n.Hiding.Zeroize()
	}
	if n.Binding != nil {
		n.Binding.Zeroize()
	}
}

// SigningCommitments is the public commitment to a nonce pair, broadcast
// in signing round one.
type SigningCommitments struct {
	Index   uint16
	Hiding  curve.Point
	Binding curve.Point
}

// SignatureShare is one signer's contribution to the aggregated signature
type SignatureShare struct {
	Index uint16
	Z     curve.Scalar
}

// Signature is an aggregated Schnorr signature verifiable against the
// group public key.
type Signature struct {
	R curve.Point
	Z curve.Scalar
}

// SigningPackage binds the message to the full commitment set of the
// selected signers. Every signer derives an identical package.
type SigningPackage struct {
	Message     []byte
	Commitments map[uint16]*SigningCommitments
}

// Commit samples a nonce pair and its public commitments
func (p *Params) Commit(kp *KeyPackage, rng io.Reader) (*SigningNonces, *SigningCommitments, error) {
	g := p.Suite.Group
	d, err := g.RandomScalar(rng)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sample hiding nonce: %w", err)
	}
	e, err := g.RandomScalar(rng)
	if err != nil {
		d.Zeroize()
		return nil, nil, fmt.Errorf("failed to sample binding nonce: %w", err)
	}

	nonces := &SigningNonces{Index: kp.Index, Hiding: d, Binding: e}
	commitments := &SigningCommitments{
		Index:   kp.Index,
		Hiding:  g.NewPoint().ScalarMult(d, g.Generator()),
		Binding: g.NewPoint().ScalarMult(e, g.Generator()),
	}
	return nonces, commitments, nil
}

// NewSigningPackage assembles the signing package from the collected
// commitments. The commitment set size must equal the threshold.
func (p *Params) NewSigningPackage(message []byte, commitments map[uint16]*SigningCommitments) (*SigningPackage, error) {
	if len(commitments) != int(p.Threshold) {
		return nil, fmt.Errorf("signing package needs %d commitments, have %d", p.Threshold, len(commitments))
	}
	for index, c := range commitments {
		if c == nil || c.Index != index {
			return nil, fmt.Errorf("malformed commitment for signer %d", index)
		}
	}
	return &SigningPackage{Message: message, Commitments: commitments}, nil
}

// signerSet returns the package's signer indices in ascending order
func (sp *SigningPackage) signerSet() []uint16 {
	set := make([]uint16, 0, len(sp.Commitments))
	for index := range sp.Commitments {
		set = append(set, index)
	}
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	return set
}

// bindingFactors derives the per-signer binding factor rho over the
// message and the ordered commitment list. Deterministic across devices.
func (p *Params) bindingFactors(sp *SigningPackage) map[uint16]curve.Scalar {
	set := sp.signerSet()

	var commitmentList []byte
	for _, index := range set {
		c := sp.Commitments[index]
		commitmentList = append(commitmentList, IdentifierBytes(index)...)
		commitmentList = append(commitmentList, c.Hiding.Bytes()...)
		commitmentList = append(commitmentList, c.Binding.Bytes()...)
	}

	factors := make(map[uint16]curve.Scalar, len(set))
	for _, index := range set {
		factors[index] = p.Suite.H("rho", sp.Message, commitmentList, IdentifierBytes(index))
	}
	return factors
}

// groupCommitment computes R = sum(D_i + rho_i * E_i)
func (p *Params) groupCommitment(sp *SigningPackage, factors map[uint16]curve.Scalar) curve.Point {
	g := p.Suite.Group
	r := g.NewPoint()
	for index, c := range sp.Commitments {
		rhoE := g.NewPoint().ScalarMult(factors[index], c.Binding)
		term := g.NewPoint().Add(c.Hiding, rhoE)
		r = g.NewPoint().Add(r, term)
	}
	return r
}

// challenge computes c = H(R, groupKey, message)
func (p *Params) challenge(r, groupKey curve.Point, message []byte) curve.Scalar {
	return p.Suite.H("chal", r.Bytes(), groupKey.Bytes(), message)
}

// Sign produces this signer's signature share. The nonces are consumed:
// they are wiped before returning, success or failure. The signer's own
// commitments inside the package must match the nonces it holds, which
// guarantees a signer only ever signs over commitments it submitted.
func (p *Params) Sign(sp *SigningPackage, nonces *SigningNonces, kp *KeyPackage) (*SignatureShare, error) {
	defer nonces.Wipe()
	g := p.Suite.Group

	if nonces.Index != kp.Index {
		return nil, fmt.Errorf("nonce identifier %d does not match key package %d", nonces.Index, kp.Index)
	}
	own := sp.Commitments[kp.Index]
	if own == nil {
		return nil, fmt.Errorf("signer %d is not in the signing package", kp.Index)
	}
	if !own.Hiding.Equal(g.NewPoint().ScalarMult(nonces.Hiding, g.Generator())) ||
		!own.Binding.Equal(g.NewPoint().ScalarMult(nonces.Binding, g.Generator())) {
		return nil, fmt.Errorf("signing package commitments for signer %d do not match held nonces", kp.Index)
	}

	factors := p.bindingFactors(sp)
	r := p.groupCommitment(sp, factors)
	c := p.challenge(r, kp.GroupKey, sp.Message)

	lambda, err := p.lagrangeCoefficient(kp.Index, sp.signerSet())
	if err != nil {
		return nil, err
	}

	// z_i = d + rho*e + lambda * s * c
	z := g.NewScalar().Mul(factors[kp.Index], nonces.Binding)
	z = g.NewScalar().Add(nonces.Hiding, z)
	lambdaS := g.NewScalar().Mul(lambda, kp.SecretShare)
	lambdaSC := g.NewScalar().Mul(lambdaS, c)
	z = g.NewScalar().Add(z, lambdaSC)
	lambdaS.Zeroize()

	return &SignatureShare{Index: kp.Index, Z: z}, nil
}

// Aggregate verifies each signature share against the signer's verifying
// share and combines them into the final signature.
func (p *Params) Aggregate(sp *SigningPackage, shares map[uint16]*SignatureShare, pub *PublicKeyPackage) (*Signature, error) {
	g := p.Suite.Group

	if len(shares) != len(sp.Commitments) {
		return nil, fmt.Errorf("have %d signature shares, expected %d", len(shares), len(sp.Commitments))
	}

	factors := p.bindingFactors(sp)
	r := p.groupCommitment(sp, factors)
	c := p.challenge(r, pub.GroupKey, sp.Message)
	set := sp.signerSet()

	for index, share := range shares {
		commitment := sp.Commitments[index]
		if commitment == nil {
			return nil, fmt.Errorf("signature share from %d without matching commitment", index)
		}
		verifyingShare := pub.VerifyingShares[index]
		if verifyingShare == nil {
			return nil, fmt.Errorf("no verifying share for signer %d", index)
		}
		lambda, err := p.lagrangeCoefficient(index, set)
		if err != nil {
			return nil, err
		}

		// z_i*G == D_i + rho_i*E_i + c*lambda_i*pk_i
		lhs := g.NewPoint().ScalarMult(share.Z, g.Generator())
		rhs := g.NewPoint().ScalarMult(factors[index], commitment.Binding)
		rhs = g.NewPoint().Add(commitment.Hiding, rhs)
		cl := g.NewScalar().Mul(c, lambda)
		rhs = g.NewPoint().Add(rhs, g.NewPoint().ScalarMult(cl, verifyingShare))
		if !lhs.Equal(rhs) {
			return nil, fmt.Errorf("invalid signature share from signer %d", index)
		}
	}

	z := g.NewScalar()
	for _, share := range shares {
		z = g.NewScalar().Add(z, share.Z)
	}
	return &Signature{R: r, Z: z}, nil
}

// Verify checks an aggregated signature against the group public key
func (p *Params) Verify(message []byte, sig *Signature, groupKey curve.Point) bool {
	g := p.Suite.Group
	c := p.challenge(sig.R, groupKey, message)

	lhs := g.NewPoint().ScalarMult(sig.Z, g.Generator())
	rhs := g.NewPoint().ScalarMult(c, groupKey)
	rhs = g.NewPoint().Add(sig.R, rhs)
	return lhs.Equal(rhs)
}

// SerializeSignature renders a signature as R || z
func (p *Params) SerializeSignature(sig *Signature) []byte {
	out := make([]byte, 0, p.Suite.Group.PointLen()+p.Suite.Group.ScalarLen())
	out = append(out, sig.R.Bytes()...)
	out = append(out, sig.Z.Bytes()...)
	return out
}

// DeserializeSignature parses a signature from its R || z encoding
func (p *Params) DeserializeSignature(data []byte) (*Signature, error) {
	g := p.Suite.Group
	if len(data) != g.PointLen()+g.ScalarLen() {
		return nil, fmt.Errorf("invalid signature length: %d", len(data))
	}
	r, err := g.NewPoint().SetBytes(data[:g.PointLen()])
	if err != nil {
		return nil, fmt.Errorf("invalid signature commitment: %w", err)
	}
	z, err := g.NewScalar().SetBytes(data[g.PointLen():])
	if err != nil {
		return nil, fmt.Errorf("invalid signature response: %w", err)
	}
	return &Signature{R: r, Z: z}, nil
}
