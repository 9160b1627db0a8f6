package curve

import (
	"math/big"
	"testing"
)

func TestPointRoundTrip(t *testing.T) {
	priv, err := RandomScalar()
	if err != nil {
		t.Fatalf("RandomScalar: %v", err)
	}
	pub := ScalarMul(G(), priv)

	compressed, err := pub.ToCompressed()
	if err != nil {
		t.Fatalf("ToCompressed: %v", err)
	}
	if len(compressed) != CompressedSize {
		t.Fatalf("got %d bytes, want %d", len(compressed), CompressedSize)
	}

	parsed, err := FromBytes(compressed)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if !parsed.Equal(pub) {
		t.Fatal("round-tripped point does not match original")
	}
}

func TestFromBytesRejectsBadLength(t *testing.T) {
	if _, err := FromBytes(make([]byte, 10)); err != ErrInvalidLength {
		t.Fatalf("got %v, want ErrInvalidLength", err)
	}
}

func TestFromBytesRejectsBadPrefix(t *testing.T) {
	buf := make([]byte, CompressedSize)
	buf[0] = 0x05
	if _, err := FromBytes(buf); err != ErrInvalidPrefix {
		t.Fatalf("got %v, want ErrInvalidPrefix", err)
	}
}

func TestScalarMulDistributesOverAddition(t *testing.T) {
	a, _ := RandomScalar()
	b, _ := RandomScalar()
	sum := new(big.Int).Mod(new(big.Int).Add(a, b), N)

	lhs := ScalarMul(G(), sum)
	rhs := AddPublic(ScalarMul(G(), a), ScalarMul(G(), b))

	if !lhs.Equal(rhs) {
		t.Fatal("(a+b)*G != a*G + b*G")
	}
}

func TestModInv(t *testing.T) {
	a := big.NewInt(7)
	inv, err := ModInv(a, N)
	if err != nil {
		t.Fatalf("ModInv: %v", err)
	}
	product := new(big.Int).Mod(new(big.Int).Mul(a, inv), N)
	if product.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("a * inv(a) mod n = %s, want 1", product)
	}
}

func TestModInvRejectsZero(t *testing.T) {
	if _, err := ModInv(big.NewInt(0), N); err != ErrNotInvertible {
		t.Fatalf("got %v, want ErrNotInvertible", err)
	}
}

func TestPowModWindow4MatchesExp(t *testing.T) {
	base := big.NewInt(123456789)
	exp := big.NewInt(987654321)
	got := PowModWindow4(base, exp, N)
	want := new(big.Int).Exp(base, exp, N)
	if got.Cmp(want) != 0 {
		t.Fatalf("PowModWindow4 = %s, want %s", got, want)
	}
}

func TestSharedSecretIsSymmetric(t *testing.T) {
	aPriv, _ := RandomScalar()
	bPriv, _ := RandomScalar()
	aPub := ScalarMul(G(), aPriv)
	bPub := ScalarMul(G(), bPriv)

	s1, err := SharedSecret(aPriv, bPub)
	if err != nil {
		t.Fatalf("SharedSecret: %v", err)
	}
	s2, err := SharedSecret(bPriv, aPub)
	if err != nil {
		t.Fatalf("SharedSecret: %v", err)
	}
	if s1 != s2 {
		t.Fatal("ECDH shared secret is not symmetric")
	}
}
