package message

import (
	"math/big"
	"testing"

	"github.com/kaspeak/kaspeak-go/pkg/curve"
)

func TestPeerDerivationsAreSymmetricAndCached(t *testing.T) {
	privA := big.NewInt(6)
	privB := big.NewInt(1337)
	pubA, err := curve.ScalarMul(curve.G(), privA).ToCompressed()
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	pubB, err := curve.ScalarMul(curve.G(), privB).ToCompressed()
	if err != nil {
		t.Fatalf("compress: %v", err)
	}

	// A's view of B, and B's view of A.
	peerB := NewPeer("addr-b", pubB, nil, false, privA)
	peerA := NewPeer("addr-a", pubA, nil, false, privB)

	secretAB, err := peerB.SharedSecret()
	if err != nil {
		t.Fatalf("SharedSecret: %v", err)
	}
	secretBA, err := peerA.SharedSecret()
	if err != nil {
		t.Fatalf("SharedSecret: %v", err)
	}
	if secretAB != secretBA {
		t.Fatal("shared secret is not symmetric")
	}

	chainAB, err := peerB.ChainKey()
	if err != nil {
		t.Fatalf("ChainKey: %v", err)
	}
	chainBA, err := peerA.ChainKey()
	if err != nil {
		t.Fatalf("ChainKey: %v", err)
	}
	if chainAB.Cmp(chainBA) != 0 {
		t.Fatal("chain key is not symmetric")
	}

	// Repeated calls return the cached value; mutating the returned
	// copy must not corrupt the cache.
	chainAB.SetInt64(0)
	again, err := peerB.ChainKey()
	if err != nil {
		t.Fatalf("ChainKey: %v", err)
	}
	if again.Cmp(chainBA) != 0 {
		t.Fatal("cached chain key was corrupted through a returned copy")
	}
}

func TestPeerPrivateKeyOnlyOnOwningSide(t *testing.T) {
	priv := big.NewInt(6)
	pub, err := curve.ScalarMul(curve.G(), priv).ToCompressed()
	if err != nil {
		t.Fatalf("compress: %v", err)
	}

	own := NewPeer("addr", pub, nil, true, priv)
	if own.PrivateKey() == nil || own.PrivateKey().Cmp(priv) != 0 {
		t.Fatal("owning-side peer should expose the private key")
	}
	foreign := NewPeer("addr", pub, nil, false, priv)
	if foreign.PrivateKey() != nil {
		t.Fatal("foreign peer must not expose a private key")
	}
}

func TestPeerBadPublicKeySurfacesOnDerive(t *testing.T) {
	bad := make([]byte, 33)
	bad[0] = 0x09
	p := NewPeer("addr", bad, nil, false, big.NewInt(6))
	if _, err := p.SharedSecret(); err == nil {
		t.Fatal("derivation on a malformed public key should fail")
	}
}

func TestAsMapNormalizesKeyTypes(t *testing.T) {
	direct := map[string]interface{}{"a": 1}
	if m, ok := AsMap(direct); !ok || m["a"] != 1 {
		t.Fatal("string-keyed map should pass through")
	}

	cborShaped := map[interface{}]interface{}{"a": "x"}
	m, ok := AsMap(cborShaped)
	if !ok || m["a"] != "x" {
		t.Fatal("interface-keyed map should be converted")
	}

	if _, ok := AsMap(map[interface{}]interface{}{1: "x"}); ok {
		t.Fatal("non-string keys should be rejected")
	}
	if _, ok := AsMap("not a map"); ok {
		t.Fatal("non-map values should be rejected")
	}
}

func TestUnknownMessageContract(t *testing.T) {
	u := NewUnknown([]byte{1, 2}, "Decryption failed: invalid key", CodeDecryptBadKey)
	if u.MessageType() != UnknownMessageType {
		t.Fatalf("type = %d", u.MessageType())
	}
	if u.RequiresEncryption() {
		t.Fatal("UnknownMessage never requires encryption")
	}
	if err := u.FromPlainObject(nil); err != ErrNotHydratable {
		t.Fatalf("got %v, want ErrNotHydratable", err)
	}
	obj, err := u.ToPlainObject()
	if err != nil {
		t.Fatalf("ToPlainObject: %v", err)
	}
	m, ok := AsMap(obj)
	if !ok || m["code"] != CodeDecryptBadKey {
		t.Fatalf("plain object = %#v", obj)
	}
}
