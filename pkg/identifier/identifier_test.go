package identifier

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/kaspeak/kaspeak-go/pkg/byteutil"
	"github.com/kaspeak/kaspeak-go/pkg/curve"
)

func TestFromSecretBytesRoundTrip(t *testing.T) {
	secret, err := FromSecret(big.NewInt(42))
	if err != nil {
		t.Fatalf("FromSecret: %v", err)
	}
	b, err := secret.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	parsed, err := FromBytes(b)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if !parsed.Equal(secret.Identifier) {
		t.Fatal("round-tripped identifier does not match")
	}
}

func TestNextPrevInverse(t *testing.T) {
	root, err := Random()
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	chainKey, err := curve.RandomScalar()
	if err != nil {
		t.Fatalf("RandomScalar: %v", err)
	}

	next := root.Next(chainKey)
	back, err := next.Prev(chainKey)
	if err != nil {
		t.Fatalf("Prev: %v", err)
	}
	if !back.Equal(root.Identifier) {
		t.Fatal("Prev(Next(x)) != x")
	}
}

func TestNextSecretMatchesPublicNext(t *testing.T) {
	root, err := Random()
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	chainKey, _ := curve.RandomScalar()

	nextSecret := root.NextSecret(chainKey)
	nextPublic := root.Identifier.Next(chainKey)

	if !nextSecret.Identifier.Equal(nextPublic) {
		t.Fatal("NextSecret's public point diverges from Identifier.Next")
	}

	// The secret must reproduce the same public point via scalar*G.
	rederived := curve.ScalarMul(curve.G(), nextSecret.Secret())
	encoded, err := nextSecret.Identifier.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	parsed, err := curve.FromBytes(encoded)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if !rederived.Equal(parsed) {
		t.Fatal("NextSecret's scalar does not match its own public point")
	}
}

func TestFromChainKeyMatchesRepeatedNext(t *testing.T) {
	root, err := Random()
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	chainKey, _ := curve.RandomScalar()

	viaChain, err := FromChainKey(root.Identifier, chainKey, 3)
	if err != nil {
		t.Fatalf("FromChainKey: %v", err)
	}

	viaRepeatedNext := root.Identifier.Next(chainKey).Next(chainKey).Next(chainKey)

	if !viaChain.Equal(viaRepeatedNext) {
		t.Fatal("FromChainKey(root, k, 3) != root.Next(k).Next(k).Next(k)")
	}
}

// Walking the chain with the shared key derived from a real ECDH
// exchange: ID2.prev must land back on ID1 byte-for-byte.
func TestChainWalkWithDerivedKey(t *testing.T) {
	alice, err := FromSecret(big.NewInt(6))
	if err != nil {
		t.Fatalf("FromSecret: %v", err)
	}
	bob, err := FromSecret(big.NewInt(1337))
	if err != nil {
		t.Fatalf("FromSecret: %v", err)
	}
	shared, err := alice.SharedSecret(bob.Identifier)
	if err != nil {
		t.Fatalf("SharedSecret: %v", err)
	}
	chainDigest := byteutil.SHA256(shared[:])
	chainKey := new(big.Int).SetBytes(chainDigest[:])

	id1, err := FromChainKey(alice.Identifier, chainKey, 1)
	if err != nil {
		t.Fatalf("FromChainKey: %v", err)
	}
	id2 := id1.Next(chainKey)
	back, err := id2.Prev(chainKey)
	if err != nil {
		t.Fatalf("Prev: %v", err)
	}

	b1, _ := id1.Bytes()
	bBack, _ := back.Bytes()
	if !bytes.Equal(b1, bBack) {
		t.Fatal("ID2.prev does not reproduce ID1")
	}

	id2Direct, err := FromChainKey(alice.Identifier, chainKey, 2)
	if err != nil {
		t.Fatalf("FromChainKey: %v", err)
	}
	if !id2.Equal(id2Direct) {
		t.Fatal("FromChainKey(k, 1).Next(k) != FromChainKey(k, 2)")
	}
}

func TestFromChainKeyRejectsIndexBelowOne(t *testing.T) {
	root, err := Random()
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	chainKey, _ := curve.RandomScalar()
	for _, i := range []int64{0, -1} {
		if _, err := FromChainKey(root.Identifier, chainKey, i); err != ErrInvalidIndex {
			t.Fatalf("i=%d: got %v, want ErrInvalidIndex", i, err)
		}
	}
}

func TestFromSecretRejectsZero(t *testing.T) {
	if _, err := FromSecret(big.NewInt(0)); err != curve.ErrZeroScalar {
		t.Fatalf("got %v, want ErrZeroScalar", err)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	id, err := Random()
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	digest := [32]byte{1, 2, 3, 4}

	sig, err := id.Sign(digest[:])
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	ok, err := id.Identifier.Verify(sig, digest[:])
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("Verify rejected a signature produced by Sign")
	}
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	id, err := Random()
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	ok, err := id.Identifier.Verify([]byte{1, 2}, []byte{3, 4})
	if err != ErrInvalidSignature {
		t.Fatalf("got err=%v, want ErrInvalidSignature", err)
	}
	if ok {
		t.Fatal("Verify accepted a malformed signature")
	}
}

func TestSharedSecretSymmetric(t *testing.T) {
	a, err := Random()
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	b, err := Random()
	if err != nil {
		t.Fatalf("Random: %v", err)
	}

	s1, err := a.SharedSecret(b.Identifier)
	if err != nil {
		t.Fatalf("SharedSecret: %v", err)
	}
	s2, err := b.SharedSecret(a.Identifier)
	if err != nil {
		t.Fatalf("SharedSecret: %v", err)
	}
	if s1 != s2 {
		t.Fatal("shared secret is not symmetric")
	}
}
