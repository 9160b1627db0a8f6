// Package signer implements Schnorr (BIP-340-style, x-only) and ECDSA
// signatures over secp256k1. Both schemes sign SHA256(message) and emit
// fixed 64-byte signatures.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"math/big"

	"github.com/kaspeak/kaspeak-go/pkg/byteutil"
	"github.com/kaspeak/kaspeak-go/pkg/curve"
)

// SignatureSize is the fixed size of both Schnorr and ECDSA signatures
// produced by this package.
const SignatureSize = 64

// digest returns SHA256 of the message bytes; string messages are
// hashed as their UTF-8 text, raw bytes directly.
func digest(msg []byte) [32]byte {
	return byteutil.SHA256(msg)
}

// DigestString hashes the UTF-8 encoding of a hex (or any) string.
func DigestString(msg string) [32]byte {
	return digest([]byte(msg))
}

// DigestBytes hashes raw bytes directly.
func DigestBytes(msg []byte) [32]byte {
	return digest(msg)
}

// xOnly returns the 32 low bytes of a compressed 33-byte public key
// (bytes [1:33]), the key form Schnorr verification uses.
func xOnly(compressedPub []byte) ([]byte, bool) {
	if len(compressedPub) != curve.CompressedSize {
		return nil, false
	}
	return compressedPub[1:], true
}

// liftX recovers the even-y point for a given 32-byte x-only key, per
// BIP-340 "lift_x": the implicit y-parity for an x-only public key is
// always even.
func liftX(xOnlyKey []byte) (curve.Point, bool) {
	compressed := make([]byte, curve.CompressedSize)
	compressed[0] = 0x02
	copy(compressed[1:], xOnlyKey)
	p, err := curve.FromBytes(compressed)
	if err != nil {
		return curve.Point{}, false
	}
	return p, true
}

// SchnorrPublicKey returns the compressed, even-y public key that
// SchnorrSign will actually verify against for a given private scalar
// (BIP-340 key negation means this may differ in sign from the raw
// scalar*G point).
func SchnorrPublicKey(priv *big.Int) ([]byte, error) {
	d := new(big.Int).Mod(priv, curve.N)
	if d.Sign() == 0 {
		return nil, curve.ErrZeroScalar
	}
	pub := curve.ScalarMul(curve.G(), d)
	if pub.Y.Bit(0) == 1 {
		d = new(big.Int).Sub(curve.N, d)
		pub = curve.ScalarMul(curve.G(), d)
	}
	return pub.ToCompressed()
}

// SchnorrSign signs digest32 with the given private scalar (reduced mod
// n), returning a 64-byte signature (R.x || s), BIP-340-style x-only.
//
// The nonce is derived deterministically as HMAC-SHA256 keyed with the
// 32-byte private scalar over the digest, which
// is sufficient (never reused for a given (priv, digest) pair) without
// requiring the full BIP-340 tagged-hash aux-rand ceremony; the protocol
// does not mandate RFC 6979 or BIP-340's exact nonce derivation, only that
// signatures be 64 bytes and verifiable against the x-only public key.
func SchnorrSign(digest32 []byte, priv *big.Int) ([]byte, error) {
	d := new(big.Int).Mod(priv, curve.N)
	if d.Sign() == 0 {
		return nil, curve.ErrZeroScalar
	}

	pub := curve.ScalarMul(curve.G(), d)
	if pub.Y.Bit(0) == 1 {
		// Public key must have even y for x-only signing; negate d so
		// that G*d has even y, per BIP-340 key negation.
		d = new(big.Int).Sub(curve.N, d)
		pub = curve.ScalarMul(curve.G(), d)
	}

	k := deterministicNonce(d, digest32)
	R := curve.ScalarMul(curve.G(), k)
	if R.Y.Bit(0) == 1 {
		k = new(big.Int).Sub(curve.N, k)
		R = curve.ScalarMul(curve.G(), k)
	}

	e := challenge(R.X, pub.X, digest32)

	s := new(big.Int).Mul(e, d)
	s.Add(s, k)
	s.Mod(s, curve.N)

	sig := make([]byte, SignatureSize)
	rx := curve.ScalarToBytes(R.X)
	copy(sig[:32], rx)
	copy(sig[32:], curve.ScalarToBytes(s))
	return sig, nil
}

// SchnorrVerify verifies a 64-byte Schnorr signature over digest32 against
// a 33-byte compressed public key; the x-only key (bytes [1:33]) is what
// is actually checked. Never panics; returns false for any malformed
// input.
func SchnorrVerify(sig, digest32, compressedPub []byte) bool {
	if len(sig) != SignatureSize {
		return false
	}
	xk, ok := xOnly(compressedPub)
	if !ok {
		return false
	}
	pub, ok := liftX(xk)
	if !ok {
		return false
	}

	rx := new(big.Int).SetBytes(sig[:32])
	if rx.Cmp(curve.P) >= 0 {
		return false
	}
	s := new(big.Int).SetBytes(sig[32:])
	if s.Cmp(curve.N) >= 0 {
		return false
	}

	e := challenge(rx, pub.X, digest32)

	sG := curve.ScalarMul(curve.G(), s)
	eP := curve.ScalarMul(pub, new(big.Int).Mod(new(big.Int).Neg(e), curve.N))
	R := addPoints(sG, eP)

	if R.IsInfinity() || R.Y.Bit(0) == 1 {
		return false
	}
	return R.X.Cmp(rx) == 0
}

func addPoints(a, b curve.Point) curve.Point {
	// curve.Point addition is unexported; reconstruct via ScalarMul(1)+
	// ScalarMul trick is wasteful, so we expose it through AddPublic.
	return curve.AddPublic(a, b)
}

func challenge(rx, px *big.Int, digest32 []byte) *big.Int {
	h := sha256.New()
	h.Write(curve.ScalarToBytes(rx))
	h.Write(curve.ScalarToBytes(px))
	h.Write(digest32)
	e := new(big.Int).SetBytes(h.Sum(nil))
	return e.Mod(e, curve.N)
}

func deterministicNonce(priv *big.Int, digest32 []byte) *big.Int {
	mac := hmac.New(sha256.New, curve.ScalarToBytes(priv))
	mac.Write(digest32)
	k := new(big.Int).SetBytes(mac.Sum(nil))
	k.Mod(k, curve.N)
	if k.Sign() == 0 {
		k.SetInt64(1)
	}
	return k
}

// ECDSASign signs digest32 with an ECDSA signature over secp256k1,
// returning a fixed 64-byte (r || s) encoding. Provided for completeness;
// Schnorr is used for all payload authentication.
func ECDSASign(digest32 []byte, priv *big.Int) ([]byte, error) {
	d := new(big.Int).Mod(priv, curve.N)
	if d.Sign() == 0 {
		return nil, curve.ErrZeroScalar
	}
	z := new(big.Int).SetBytes(digest32)

	for {
		k := deterministicNonce(d, append(digest32, byte(0xEC)))
		R := curve.ScalarMul(curve.G(), k)
		if R.IsInfinity() {
			continue
		}
		r := new(big.Int).Mod(R.X, curve.N)
		if r.Sign() == 0 {
			continue
		}

		kInv, err := curve.ModInv(k, curve.N)
		if err != nil {
			continue
		}
		s := new(big.Int).Mul(r, d)
		s.Add(s, z)
		s.Mul(s, kInv)
		s.Mod(s, curve.N)
		if s.Sign() == 0 {
			continue
		}

		sig := make([]byte, SignatureSize)
		copy(sig[:32], curve.ScalarToBytes(r))
		copy(sig[32:], curve.ScalarToBytes(s))
		return sig, nil
	}
}

// ECDSAVerify verifies a 64-byte (r || s) ECDSA signature over digest32
// against a 33-byte compressed public key.
func ECDSAVerify(sig, digest32, compressedPub []byte) bool {
	if len(sig) != SignatureSize {
		return false
	}
	pub, err := curve.FromBytes(compressedPub)
	if err != nil {
		return false
	}

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	if r.Sign() == 0 || r.Cmp(curve.N) >= 0 || s.Sign() == 0 || s.Cmp(curve.N) >= 0 {
		return false
	}

	z := new(big.Int).SetBytes(digest32)
	sInv, err := curve.ModInv(s, curve.N)
	if err != nil {
		return false
	}

	u1 := new(big.Int).Mul(z, sInv)
	u1.Mod(u1, curve.N)
	u2 := new(big.Int).Mul(r, sInv)
	u2.Mod(u2, curve.N)

	p1 := curve.ScalarMul(curve.G(), u1)
	p2 := curve.ScalarMul(pub, u2)
	R := curve.AddPublic(p1, p2)
	if R.IsInfinity() {
		return false
	}
	return new(big.Int).Mod(R.X, curve.N).Cmp(r) == 0
}
