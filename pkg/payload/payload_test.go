package payload

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/kaspeak/kaspeak-go/pkg/curve"
	"github.com/kaspeak/kaspeak-go/pkg/ledger"
)

func compressedG(t *testing.T) []byte {
	t.Helper()
	g, err := curve.G().ToCompressed()
	if err != nil {
		t.Fatalf("compress G: %v", err)
	}
	return g
}

// testID is a structurally valid (compressed-prefix) identifier that is
// not necessarily a real curve point; the codec only checks the prefix
// byte.
func testID() []byte {
	id := make([]byte, IDSize)
	id[0] = 0x02
	id[IDSize-1] = 0x01
	return id
}

func TestFrameLayout(t *testing.T) {
	data := []byte{0xde, 0xad, 0xbe, 0xef}
	p, err := Build(CoercePrefix("TEST"), 1, testID(), compressedG(t), data)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	wire := p.ToBytes()
	if len(wire) != 147 {
		t.Fatalf("wire len = %d, want 147", len(wire))
	}
	if !bytes.Equal(wire[:4], []byte{0x4B, 0x53, 0x50, 0x4B}) {
		t.Fatalf("marker = % x", wire[:4])
	}
	if wire[4] != 0x01 {
		t.Fatalf("version byte = %#x, want 0x01", wire[4])
	}
	// type and dataLen are little-endian.
	if wire[9] != 0x01 || wire[10] != 0x00 {
		t.Fatalf("type bytes = % x, want 01 00", wire[9:11])
	}
	if wire[141] != 0x04 || wire[142] != 0x00 {
		t.Fatalf("dataLen bytes = % x, want 04 00", wire[141:143])
	}
}

func TestRoundTripPreservesEveryFieldIncludingZeroSignature(t *testing.T) {
	data := []byte("hello protocol")
	p, err := Build(CoercePrefix("demo"), 7, testID(), compressedG(t), data)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	parsed, err := FromBytes(p.ToBytes())
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if parsed.Marker != p.Marker || parsed.Version != p.Version || parsed.Prefix != p.Prefix ||
		parsed.Type != p.Type || parsed.ID != p.ID || parsed.PublicKey != p.PublicKey {
		t.Fatal("round-tripped header fields diverge")
	}
	if parsed.Signature != ([SignatureSize]byte{}) {
		t.Fatal("unsigned payload should round-trip a zero signature")
	}
	if !bytes.Equal(parsed.Data, data) {
		t.Fatal("round-tripped data diverges")
	}
	if parsed.PrefixString() != "demo" {
		t.Fatalf("prefix = %q, want %q", parsed.PrefixString(), "demo")
	}
}

func TestSignThenVerify(t *testing.T) {
	priv := big.NewInt(6)
	pub := curve.ScalarMul(curve.G(), priv)
	pubBytes, err := pub.ToCompressed()
	if err != nil {
		t.Fatalf("compress: %v", err)
	}

	outpointIDs := ""
	for i := 0; i < 32; i++ {
		outpointIDs += "aa"
	}

	p, err := Build(CoercePrefix("TEST"), 1, pubBytes, pubBytes, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := p.Sign(outpointIDs, priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !p.Verify(outpointIDs) {
		t.Fatal("Verify rejected a validly signed payload")
	}

	// A different outpoint set changes the preimage.
	if p.Verify(outpointIDs + "bb") {
		t.Fatal("Verify accepted a payload under a different outpoint set")
	}

	// Corrupting the public key's x-coordinate must break verification.
	p.PublicKey[10] ^= 0xFF
	if p.Verify(outpointIDs) {
		t.Fatal("Verify accepted a payload with a corrupted public key")
	}
}

func TestSignIsOneShot(t *testing.T) {
	p, err := Build(CoercePrefix("TEST"), 1, testID(), compressedG(t), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := p.Sign("", big.NewInt(6)); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := p.Sign("", big.NewInt(6)); err != ErrAlreadySigned {
		t.Fatalf("second Sign: got %v, want ErrAlreadySigned", err)
	}
}

func TestPreimageIsDeterministic(t *testing.T) {
	build := func() *Payload {
		p, err := Build(CoercePrefix("TEST"), 258, testID(), compressedG(t), []byte{1, 2, 3})
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		return p
	}
	a := build().Preimage("aabb")
	b := build().Preimage("aabb")
	if a != b {
		t.Fatal("preimage differs across identical builds")
	}
	// type 258 = 0x0102 little-endian on the wire: 02 01.
	if a[18:22] != "0201" {
		t.Fatalf("type hex in preimage = %q, want %q", a[18:22], "0201")
	}
}

func TestFromBytesRejectsFirstViolatedInvariant(t *testing.T) {
	valid, err := Build(CoercePrefix("TEST"), 1, testID(), compressedG(t), []byte{1})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	wire := valid.ToBytes()

	cases := []struct {
		name    string
		mutate  func([]byte)
		wantErr error
	}{
		{"truncated", func(b []byte) {}, ErrTruncated},
		{"marker", func(b []byte) { b[0] = 'X' }, ErrBadMarker},
		{"version", func(b []byte) { b[4] = 2 }, ErrBadVersion},
		{"id prefix", func(b []byte) { b[11] = 0x04 }, ErrBadIDPrefix},
		{"pubkey prefix", func(b []byte) { b[44] = 0x00 }, ErrBadPubKeyPrefix},
		{"dataLen", func(b []byte) { b[141] = 0xFF }, ErrDataLenMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := append([]byte(nil), wire...)
			if tc.name == "truncated" {
				buf = buf[:HeaderSize-1]
			} else {
				tc.mutate(buf)
			}
			if _, err := FromBytes(buf); err != tc.wantErr {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestBuildRejectsOversizedData(t *testing.T) {
	if _, err := Build(CoercePrefix("TEST"), 1, testID(), compressedG(t), make([]byte, MaxDataLen+1)); err != ErrDataTooLong {
		t.Fatalf("got %v, want ErrDataTooLong", err)
	}
}

func TestBuildRejectsBadFieldSizes(t *testing.T) {
	if _, err := Build(CoercePrefix("TEST"), 1, testID()[:32], compressedG(t), nil); err != ErrBadFieldSize {
		t.Fatalf("short id: got %v, want ErrBadFieldSize", err)
	}
	if _, err := Build(CoercePrefix("TEST"), 1, testID(), compressedG(t)[:32], nil); err != ErrBadFieldSize {
		t.Fatalf("short pubkey: got %v, want ErrBadFieldSize", err)
	}
}

func TestCoercePrefix(t *testing.T) {
	cases := []struct {
		in   string
		want [PrefixSize]byte
	}{
		{"TEST", [4]byte{'T', 'E', 'S', 'T'}},
		{"ab", [4]byte{'a', 'b', 0, 0}},
		{"", [4]byte{}},
		{"toolong", [4]byte{'t', 'o', 'o', 'l'}},
	}
	for _, tc := range cases {
		if got := CoercePrefix(tc.in); got != tc.want {
			t.Fatalf("CoercePrefix(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestOutpointIDsOrdering(t *testing.T) {
	inputs := []ledger.TransactionInput{
		{PreviousOutpoint: ledger.Outpoint{TransactionID: "CC", Index: 2}},
		{PreviousOutpoint: ledger.Outpoint{TransactionID: "aa", Index: 0}},
		{PreviousOutpoint: ledger.Outpoint{TransactionID: "bb", Index: 1}},
	}
	if got := OutpointIDs(inputs); got != "aabbcc" {
		t.Fatalf("OutpointIDs = %q, want %q", got, "aabbcc")
	}

	// Stable on ties: equal indices keep input order.
	ties := []ledger.TransactionInput{
		{PreviousOutpoint: ledger.Outpoint{TransactionID: "11", Index: 5}},
		{PreviousOutpoint: ledger.Outpoint{TransactionID: "22", Index: 5}},
		{PreviousOutpoint: ledger.Outpoint{TransactionID: "00", Index: 1}},
	}
	if got := OutpointIDs(ties); got != "001122" {
		t.Fatalf("OutpointIDs with ties = %q, want %q", got, "001122")
	}

	// Reordering inputs while preserving indices leaves the result
	// unchanged; changing an index does not.
	permuted := []ledger.TransactionInput{inputs[2], inputs[0], inputs[1]}
	if OutpointIDs(permuted) != OutpointIDs(inputs) {
		t.Fatal("OutpointIDs is not invariant under index-preserving permutation")
	}
	reindexed := []ledger.TransactionInput{
		{PreviousOutpoint: ledger.Outpoint{TransactionID: "cc", Index: 0}},
		{PreviousOutpoint: ledger.Outpoint{TransactionID: "aa", Index: 2}},
		{PreviousOutpoint: ledger.Outpoint{TransactionID: "bb", Index: 1}},
	}
	if OutpointIDs(reindexed) == OutpointIDs(inputs) {
		t.Fatal("OutpointIDs ignored the outpoint indices")
	}
}
