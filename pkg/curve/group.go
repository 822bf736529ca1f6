package curve

import (
	"io"
)

// Scalar is an element of the scalar field associated with a group.
//
// All arithmetic methods use a mutable receiver pattern: they store the
// result in the receiver and return it, allowing method chaining while
// keeping allocations down. Implementations must keep results in the
// canonical range [0, order).
type Scalar interface {
	// Add sets the receiver to a+b and returns it.
	Add(a, b Scalar) Scalar
	// Sub sets the receiver to a-b and returns it.
	Sub(a, b Scalar) Scalar
	// Mul sets the receiver to a*b and returns it.
	Mul(a, b Scalar) Scalar
	// Negate sets the receiver to -a and returns it.
	Negate(a Scalar) Scalar
	// Invert sets the receiver to a^-1 and returns it.
	// Returns an error if a is zero.
	Invert(a Scalar) (Scalar, error)
	// Set sets the receiver to a and returns it.
	Set(a Scalar) Scalar
	// Bytes returns the canonical byte representation of the scalar.
	Bytes() []byte
	// SetBytes sets the receiver from its canonical byte representation.
	SetBytes(data []byte) (Scalar, error)
	// Equal reports whether the receiver equals b.
	Equal(b Scalar) bool
	// IsZero reports whether the receiver is zero.
	IsZero() bool
	// Zeroize overwrites the receiver with zero. Used to drop secret
	// material on error paths.
	Zeroize()
}

// Point is an element of a cryptographic group. Like Scalar, arithmetic
// methods mutate and return the receiver.
type Point interface {
	// Add sets the receiver to a+b and returns it.
	Add(a, b Point) Point
	// Sub sets the receiver to a-b and returns it.
	Sub(a, b Point) Point
	// Negate sets the receiver to -a and returns it.
	Negate(a Point) Point
	// ScalarMult sets the receiver to s*p and returns it.
	ScalarMult(s Scalar, p Point) Point
	// Set sets the receiver to a and returns it.
	Set(a Point) Point
	// Bytes returns the canonical compressed encoding of the point.
	Bytes() []byte
	// SetBytes sets the receiver from a compressed encoding.
	SetBytes(data []byte) (Point, error)
	// Equal reports whether the receiver equals b.
	Equal(b Point) bool
	// IsIdentity reports whether the receiver is the identity element.
	IsIdentity() bool
}

// Group defines a cryptographic group suitable for FROST threshold
// signatures. A Group implementation encapsulates all curve-specific
// detail so the protocol layers stay generic over the two ciphersuites.
type Group interface {
	// Name returns the group's curve tag string.
	Name() string
	// NewScalar returns a new zero scalar.
	NewScalar() Scalar
	// NewPoint returns a new identity point.
	NewPoint() Point
	// Generator returns the group's base point.
	Generator() Point
	// ScalarFromUint64 returns the scalar with the given small value.
	ScalarFromUint64(v uint64) Scalar
	// RandomScalar returns a cryptographically random scalar.
	RandomScalar(r io.Reader) (Scalar, error)
	// HashToScalar deterministically hashes the input data to a scalar
	// using the group's native hash function. All devices must derive
	// identical scalars from identical inputs.
	HashToScalar(data ...[]byte) Scalar
	// ScalarLen returns the length of a serialized scalar in bytes.
	ScalarLen() int
	// PointLen returns the length of a serialized point in bytes.
	PointLen() int
}
