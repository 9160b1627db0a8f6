// Package payload implements the on-ledger wire codec: a fixed 143-byte
// header (marker, version, prefix, type, id, public key, signature, data
// length) followed by a variable-length data section, plus the canonical
// signing preimage that ties a payload to the transaction inputs
// carrying it.
package payload

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/big"
	"sort"

	"github.com/kaspeak/kaspeak-go/pkg/byteutil"
	"github.com/kaspeak/kaspeak-go/pkg/curve"
	"github.com/kaspeak/kaspeak-go/pkg/ledger"
	"github.com/kaspeak/kaspeak-go/pkg/signer"
)

// Field widths of the fixed header.
const (
	MarkerSize    = 4
	VersionSize   = 1
	PrefixSize    = 4
	TypeSize      = 2
	IDSize        = curve.CompressedSize // 33
	PublicKeySize = curve.CompressedSize // 33
	SignatureSize = signer.SignatureSize // 64
	DataLenSize   = 2

	HeaderSize = MarkerSize + VersionSize + PrefixSize + TypeSize +
		IDSize + PublicKeySize + SignatureSize + DataLenSize // 143

	// MaxDataLen is the largest data section the 16-bit length field can
	// address. Longer data is rejected rather than silently truncated;
	// truncation would change the signed preimage behind the caller's
	// back.
	MaxDataLen = 0xFFFF
)

// Marker is the 4-byte magic every payload starts with: "KSPK".
var Marker = [MarkerSize]byte{0x4B, 0x53, 0x50, 0x4B}

// MarkerHex is the lowercase hex form of Marker, the cheap prefix test
// the ingestion engine applies before decoding a transaction payload.
const MarkerHex = "4b53504b"

// CurrentVersion is the only protocol version this codec emits or
// accepts.
const CurrentVersion byte = 0x01

var (
	ErrTruncated       = errors.New("payload: buffer shorter than fixed header")
	ErrBadMarker       = errors.New("payload: marker mismatch")
	ErrBadVersion      = errors.New("payload: unsupported version")
	ErrBadIDPrefix     = errors.New("payload: id is not a compressed point")
	ErrBadPubKeyPrefix = errors.New("payload: public key is not a compressed point")
	ErrDataTooLong     = errors.New("payload: data exceeds maximum addressable length")
	ErrDataLenMismatch = errors.New("payload: declared data length does not match buffer")
	ErrBadFieldSize    = errors.New("payload: field has wrong size")
	ErrAlreadySigned   = errors.New("payload: signature already set")
)

// Payload is a protocol frame. All fields are immutable after
// construction except Signature, which Sign sets exactly once.
type Payload struct {
	Marker    [MarkerSize]byte
	Version   byte
	Prefix    [PrefixSize]byte
	Type      uint16
	ID        [IDSize]byte
	PublicKey [PublicKeySize]byte
	Signature [SignatureSize]byte
	Data      []byte

	signed bool
}

// CoercePrefix pads an ASCII application tag with 0x00 to exactly
// PrefixSize bytes, truncating longer input.
func CoercePrefix(s string) [PrefixSize]byte {
	var out [PrefixSize]byte
	copy(out[:], s)
	return out
}

// Build constructs an unsigned Payload: the signature field is left as
// 64 zero bytes until Sign is called. id and publicKey must be 33-byte
// compressed point encodings; data may not exceed MaxDataLen.
func Build(prefix [PrefixSize]byte, typ uint16, id, publicKey, data []byte) (*Payload, error) {
	if len(id) != IDSize {
		return nil, ErrBadFieldSize
	}
	if len(publicKey) != PublicKeySize {
		return nil, ErrBadFieldSize
	}
	if len(data) > MaxDataLen {
		return nil, ErrDataTooLong
	}

	p := &Payload{
		Marker:  Marker,
		Version: CurrentVersion,
		Prefix:  prefix,
		Type:    typ,
		Data:    append([]byte(nil), data...),
	}
	copy(p.ID[:], id)
	copy(p.PublicKey[:], publicKey)
	return p, nil
}

// ToBytes serializes the payload into its wire form: the fixed header
// followed by Data. Type and dataLen are little-endian; everything else
// is copied verbatim.
func (p *Payload) ToBytes() []byte {
	out := make([]byte, HeaderSize+len(p.Data))
	off := 0
	off += copy(out[off:], p.Marker[:])
	out[off] = p.Version
	off++
	off += copy(out[off:], p.Prefix[:])
	binary.LittleEndian.PutUint16(out[off:], p.Type)
	off += TypeSize
	off += copy(out[off:], p.ID[:])
	off += copy(out[off:], p.PublicKey[:])
	off += copy(out[off:], p.Signature[:])
	binary.LittleEndian.PutUint16(out[off:], uint16(len(p.Data)))
	off += DataLenSize
	copy(out[off:], p.Data)
	return out
}

// ToHex returns the lowercase hex encoding of the wire form.
func (p *Payload) ToHex() string {
	return byteutil.EncodeHex(p.ToBytes())
}

// FromBytes parses a wire frame, returning an error naming the first
// violated invariant: length, marker, version, compressed-point
// prefixes, and the declared data length must all hold.
func FromBytes(b []byte) (*Payload, error) {
	if len(b) < HeaderSize {
		return nil, ErrTruncated
	}
	if !bytes.Equal(b[:MarkerSize], Marker[:]) {
		return nil, ErrBadMarker
	}

	var p Payload
	off := 0
	copy(p.Marker[:], b[off:off+MarkerSize])
	off += MarkerSize
	p.Version = b[off]
	off++
	if p.Version != CurrentVersion {
		return nil, ErrBadVersion
	}
	copy(p.Prefix[:], b[off:off+PrefixSize])
	off += PrefixSize
	p.Type = binary.LittleEndian.Uint16(b[off : off+TypeSize])
	off += TypeSize
	copy(p.ID[:], b[off:off+IDSize])
	off += IDSize
	if p.ID[0] != 0x02 && p.ID[0] != 0x03 {
		return nil, ErrBadIDPrefix
	}
	copy(p.PublicKey[:], b[off:off+PublicKeySize])
	off += PublicKeySize
	if p.PublicKey[0] != 0x02 && p.PublicKey[0] != 0x03 {
		return nil, ErrBadPubKeyPrefix
	}
	copy(p.Signature[:], b[off:off+SignatureSize])
	off += SignatureSize
	dataLen := binary.LittleEndian.Uint16(b[off : off+DataLenSize])
	off += DataLenSize

	if int(dataLen) != len(b)-off {
		return nil, ErrDataLenMismatch
	}
	p.Data = append([]byte(nil), b[off:]...)
	return &p, nil
}

// FromHex parses a hex-encoded wire frame.
func FromHex(s string) (*Payload, error) {
	raw, err := byteutil.DecodeHex(s)
	if err != nil {
		return nil, err
	}
	return FromBytes(raw)
}

// Preimage builds the canonical signing preimage: the lowercase hex
// concatenation of marker, version, prefix, type (little-endian), id,
// publicKey, and data, followed by the outpointIds hex string. The
// signature field is not part of the preimage, and there is deliberately
// no length delimiter between publicKey and data: every preceding field
// is fixed-width, so the layout is unambiguous without one.
func (p *Payload) Preimage(outpointIDs string) string {
	typeBuf := make([]byte, TypeSize)
	binary.LittleEndian.PutUint16(typeBuf, p.Type)

	buf := make([]byte, 0, MarkerSize+VersionSize+PrefixSize+TypeSize+IDSize+PublicKeySize+len(p.Data))
	buf = append(buf, p.Marker[:]...)
	buf = append(buf, p.Version)
	buf = append(buf, p.Prefix[:]...)
	buf = append(buf, typeBuf...)
	buf = append(buf, p.ID[:]...)
	buf = append(buf, p.PublicKey[:]...)
	buf = append(buf, p.Data...)
	return byteutil.EncodeHex(buf) + outpointIDs
}

// digest hashes the UTF-8 encoding of the preimage hex string; the
// resulting 32 bytes are what Schnorr signs and verifies.
func (p *Payload) digest(outpointIDs string) [32]byte {
	return signer.DigestString(p.Preimage(outpointIDs))
}

// Sign computes the preimage over outpointIDs, Schnorr-signs its digest
// with priv, and stores the 64-byte result. A payload is signed exactly
// once; a second call fails.
func (p *Payload) Sign(outpointIDs string, priv *big.Int) error {
	if p.signed {
		return ErrAlreadySigned
	}
	digest := p.digest(outpointIDs)
	sig, err := signer.SchnorrSign(digest[:], priv)
	if err != nil {
		return err
	}
	copy(p.Signature[:], sig)
	p.signed = true
	return nil
}

// Verify recomputes the preimage over outpointIDs and checks the stored
// signature against PublicKey (x-only). It never fails loudly: any
// malformed input yields false.
func (p *Payload) Verify(outpointIDs string) bool {
	digest := p.digest(outpointIDs)
	return signer.SchnorrVerify(p.Signature[:], digest[:], p.PublicKey[:])
}

// PrefixString recovers the ASCII prefix from its zero-padded wire form.
func (p *Payload) PrefixString() string {
	return string(byteutil.TrimTrailingZeros(p.Prefix[:]))
}

// OutpointIDs produces the canonical outpoint-id string for a set of
// transaction inputs: the lowercase hex concatenation of each input's
// previous-outpoint transaction id, ordered by ascending outpoint index
// and, on ties, by input position. The result is invariant under any
// stable permutation of the inputs that preserves the indices.
func OutpointIDs(inputs []ledger.TransactionInput) string {
	sorted := make([]ledger.TransactionInput, len(inputs))
	copy(sorted, inputs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PreviousOutpoint.Index < sorted[j].PreviousOutpoint.Index
	})

	var out []byte
	for _, in := range sorted {
		out = append(out, byteutil.LowerHex(in.PreviousOutpoint.TransactionID)...)
	}
	return string(out)
}
