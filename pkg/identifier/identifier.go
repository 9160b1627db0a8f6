// Package identifier implements the point-chain algebra behind message
// labels: Identifier wraps a public curve point; SecretIdentifier
// additionally holds the scalar that produced it. Both support walking
// the chain forward (next) and backward (prev) by repeated
// multiplication/division by a shared chain key.
package identifier

import (
	"errors"
	"math/big"

	"github.com/kaspeak/kaspeak-go/pkg/curve"
	"github.com/kaspeak/kaspeak-go/pkg/signer"
)

var (
	// ErrInvalidChainKey is returned when a supplied chain key reduces to
	// zero mod N, making it non-invertible and unusable for prev().
	ErrInvalidChainKey = errors.New("identifier: chain key is zero mod n")
	// ErrInvalidIndex is returned by FromChainKey for indices below 1:
	// ID_0 is never materialised.
	ErrInvalidIndex = errors.New("identifier: chain index must be >= 1")
	// ErrInvalidSignature is returned by Verify for malformed signatures;
	// a signature that simply fails cryptographic verification instead
	// yields (false, nil) so callers can distinguish malformed input from
	// a genuine authentication failure.
	ErrInvalidSignature = errors.New("identifier: malformed signature")
)

// Identifier is a public identity on the chain: a secp256k1 point,
// encoded/decoded as a 33-byte compressed key everywhere on the wire.
type Identifier struct {
	point curve.Point
}

// FromBytes parses a 33-byte compressed (or 65-byte uncompressed) point
// encoding into an Identifier.
func FromBytes(b []byte) (Identifier, error) {
	p, err := curve.FromBytes(b)
	if err != nil {
		return Identifier{}, err
	}
	return Identifier{point: p}, nil
}

// FromChainKey derives ID_i = PK * k^i mod n by raising the chain key
// to the i-th power modulo the group order, then scalar-multiplying the
// root public key. i must be at least 1; ID_0 is never materialised.
func FromChainKey(root Identifier, chainKey *big.Int, i int64) (Identifier, error) {
	if i < 1 {
		return Identifier{}, ErrInvalidIndex
	}
	if new(big.Int).Mod(chainKey, curve.N).Sign() == 0 {
		return Identifier{}, ErrInvalidChainKey
	}
	ki := curve.PowModWindow4(chainKey, big.NewInt(i), curve.N)
	return Identifier{point: curve.ScalarMul(root.point, ki)}, nil
}

// Bytes returns the 33-byte compressed point encoding.
func (id Identifier) Bytes() ([]byte, error) {
	return id.point.ToCompressed()
}

// Point exposes the underlying curve point to sibling packages (payload,
// session) that need it for ECDH and re-derivation; it is not part of the
// stable external contract of this package.
func (id Identifier) Point() curve.Point { return id.point }

// Equal reports whether two identifiers encode the same point.
func (id Identifier) Equal(other Identifier) bool {
	return id.point.Equal(other.point)
}

// Next returns the identifier obtained by multiplying this identifier's
// point by chainKey once: ID_{i+1} = ID_i * chainKey.
func (id Identifier) Next(chainKey *big.Int) Identifier {
	return Identifier{point: curve.ScalarMul(id.point, chainKey)}
}

// Prev returns the identifier obtained by dividing this identifier's point
// by chainKey, i.e. multiplying by chainKey's modular inverse: ID_{i-1} =
// ID_i * chainKey^-1.
func (id Identifier) Prev(chainKey *big.Int) (Identifier, error) {
	inv, err := curve.ModInv(chainKey, curve.N)
	if err != nil {
		return Identifier{}, ErrInvalidChainKey
	}
	return Identifier{point: curve.ScalarMul(id.point, inv)}, nil
}

// Verify checks a 64-byte Schnorr signature over digest32 against this
// identifier's point as the x-only public key. A signature that is not
// signer.SignatureSize bytes long yields (false, ErrInvalidSignature); a
// well-formed signature that fails verification yields (false, nil).
func (id Identifier) Verify(sig, digest32 []byte) (bool, error) {
	if len(sig) != signer.SignatureSize {
		return false, ErrInvalidSignature
	}
	compressed, err := id.point.ToCompressed()
	if err != nil {
		return false, err
	}
	return signer.SchnorrVerify(sig, digest32, compressed), nil
}

// SecretIdentifier is an Identifier plus the private scalar that
// generated its point; it can sign, and can derive the next/prev secret
// identifier in the chain (not just the next/prev public point).
type SecretIdentifier struct {
	Identifier
	secret *big.Int
}

// FromSecret builds a SecretIdentifier from a private scalar, reduced mod
// n (zero is rejected), computing its public point as scalar * G.
func FromSecret(priv *big.Int) (SecretIdentifier, error) {
	d := new(big.Int).Mod(priv, curve.N)
	if d.Sign() == 0 {
		return SecretIdentifier{}, curve.ErrZeroScalar
	}
	pub := curve.ScalarMul(curve.G(), d)
	return SecretIdentifier{Identifier: Identifier{point: pub}, secret: d}, nil
}

// Random generates a fresh SecretIdentifier from a cryptographically
// random scalar.
func Random() (SecretIdentifier, error) {
	s, err := curve.RandomScalar()
	if err != nil {
		return SecretIdentifier{}, err
	}
	return FromSecret(s)
}

// Secret returns the private scalar, copied so callers cannot mutate the
// identifier's internal state through the returned value.
func (s SecretIdentifier) Secret() *big.Int {
	return new(big.Int).Set(s.secret)
}

// Sign produces a 64-byte Schnorr signature over digest32 using this
// identifier's private scalar.
func (s SecretIdentifier) Sign(digest32 []byte) ([]byte, error) {
	return signer.SchnorrSign(digest32, s.secret)
}

// NextSecret derives the next secret identifier in the chain:
// secret_{i+1} = secret_i * chainKey mod n, with the point updated to
// match (point * chainKey).
func (s SecretIdentifier) NextSecret(chainKey *big.Int) SecretIdentifier {
	next := new(big.Int).Mul(s.secret, chainKey)
	next.Mod(next, curve.N)
	return SecretIdentifier{
		Identifier: s.Identifier.Next(chainKey),
		secret:     next,
	}
}

// PrevSecret derives the previous secret identifier in the chain:
// secret_{i-1} = secret_i * chainKey^-1 mod n.
func (s SecretIdentifier) PrevSecret(chainKey *big.Int) (SecretIdentifier, error) {
	inv, err := curve.ModInv(chainKey, curve.N)
	if err != nil {
		return SecretIdentifier{}, ErrInvalidChainKey
	}
	prevID, err := s.Identifier.Prev(chainKey)
	if err != nil {
		return SecretIdentifier{}, err
	}
	prevSecret := new(big.Int).Mul(s.secret, inv)
	prevSecret.Mod(prevSecret, curve.N)
	return SecretIdentifier{Identifier: prevID, secret: prevSecret}, nil
}

// SharedSecret computes the ECDH shared secret between this secret
// identifier and another party's public Identifier.
func (s SecretIdentifier) SharedSecret(peer Identifier) ([32]byte, error) {
	return curve.SharedSecret(s.secret, peer.point)
}
