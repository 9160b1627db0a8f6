// Package pipeline implements the message encode/decode pipeline: a
// typed message value is turned into a plain object, CBOR-encoded,
// Zstd-compressed at level 16, then sealed with XChaCha20-Poly1305 when
// the type requires encryption. Decode runs the stages in reverse and
// never surfaces wire-data failures as Go errors — they become
// message.UnknownMessage values carrying the stable failure codes 0..5.
package pipeline

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pion/logging"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/kaspeak/kaspeak-go/pkg/message"
	"github.com/kaspeak/kaspeak-go/pkg/registry"
)

// ZstdLevel is the Zstd compression level the protocol mandates,
// translated into the library's EncoderLevel via
// zstd.EncoderLevelFromZstd.
const ZstdLevel = 16

// NonceSize is the XChaCha20-Poly1305 extended nonce size; encrypted
// wire data is nonce || ciphertext.
const NonceSize = chacha20poly1305.NonceSizeX

// KeySize is the AEAD key size: the 32-byte conversation shared secret.
const KeySize = chacha20poly1305.KeySize

var (
	// ErrEncryptionKeyMissing is returned by Encode when the message
	// type requires encryption and no key was supplied, and by Decode in
	// the symmetric case. Outbound operations fail loudly; silently
	// sending an unencrypted frame would leak the plaintext.
	ErrEncryptionKeyMissing = errors.New("pipeline: message requires encryption but no key was provided")
)

// Pipeline holds the reusable CBOR/Zstd codec state for one session.
// Each session owns its own instance rather than sharing a package
// global; initialisation is idempotent per instance.
type Pipeline struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	log     logging.LeveledLogger
}

// New constructs a Pipeline with a level-16 Zstd encoder and a matching
// decoder. log may be nil.
func New(log logging.LeveledLogger) (*Pipeline, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(ZstdLevel)))
	if err != nil {
		return nil, fmt.Errorf("pipeline: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("pipeline: zstd decoder: %w", err)
	}
	return &Pipeline{encoder: enc, decoder: dec, log: log}, nil
}

// Close releases the decoder's background goroutines.
func (p *Pipeline) Close() {
	p.decoder.Close()
}

// Encode runs the forward pipeline: plain object, CBOR, Zstd, then
// AEAD when the message type requires it. key must be the 32-byte
// conversation shared secret for encrypted types and is ignored (with a
// warning) for plaintext types; a fresh random nonce is drawn per call
// and prepended to the ciphertext.
func (p *Pipeline) Encode(msg message.Message, key []byte) ([]byte, error) {
	if msg.RequiresEncryption() && key == nil {
		return nil, ErrEncryptionKeyMissing
	}
	if !msg.RequiresEncryption() && key != nil {
		if p.log != nil {
			p.log.Warnf("pipeline: key supplied for plaintext message type %d, ignoring", msg.MessageType())
		}
		key = nil
	}

	obj, err := msg.ToPlainObject()
	if err != nil {
		return nil, fmt.Errorf("pipeline: to plain object: %w", err)
	}
	encoded, err := cbor.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("pipeline: cbor marshal: %w", err)
	}

	compressed := p.encoder.EncodeAll(encoded, nil)
	if key == nil {
		return compressed, nil
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("pipeline: aead init: %w", err)
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("pipeline: nonce: %w", err)
	}
	out := make([]byte, 0, NonceSize+len(compressed)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, compressed, nil), nil
}

// Decode runs the reverse pipeline. The concrete instance is built from
// the registry by header type; an unregistered type fails the whole
// call with registry.ErrUnknownMessageType, and an encrypted type
// decoded without a key fails with ErrEncryptionKeyMissing. These two
// are the only failures returned as Go errors. Every stage failure on
// the wire data instead yields an
// UnknownMessage with the stable code identifying the failed stage:
// 0 invalid key, 1 empty plaintext, 2 decrypt panic/short frame,
// 3 decompress, 4 CBOR, 5 hydration.
func (p *Pipeline) Decode(reg *registry.Registry, header *message.Header, data, key []byte) (message.Message, error) {
	instance, err := reg.Create(header.Type)
	if err != nil {
		return nil, err
	}
	instance.SetHeader(header)

	plaintext := data
	if instance.RequiresEncryption() {
		if key == nil {
			return nil, ErrEncryptionKeyMissing
		}
		opened, unknown := p.open(data, key)
		if unknown != nil {
			unknown.SetHeader(header)
			return unknown, nil
		}
		if len(opened) == 0 {
			return p.unknown(header, data, "Decryption produced empty plaintext", message.CodeDecryptEmpty), nil
		}
		plaintext = opened
	}

	decompressed, err := p.decoder.DecodeAll(plaintext, nil)
	if err != nil {
		return p.unknown(header, data, "Decompression failed: "+err.Error(), message.CodeDecompressError), nil
	}

	var obj interface{}
	if err := cbor.Unmarshal(decompressed, &obj); err != nil {
		return p.unknown(header, data, "CBOR decode failed: "+err.Error(), message.CodeCBORError), nil
	}

	if err := instance.FromPlainObject(obj); err != nil {
		return p.unknown(header, data, "Hydration failed: "+err.Error(), message.CodeHydrationError), nil
	}
	return instance, nil
}

// open slices off the nonce and opens the AEAD, converting every
// failure mode into the matching UnknownMessage: an authentication
// failure is code 0, anything panicking (including a frame too short to
// hold a nonce) is code 2.
func (p *Pipeline) open(data, key []byte) (opened []byte, unknown *message.UnknownMessage) {
	defer func() {
		if r := recover(); r != nil {
			opened = nil
			unknown = message.NewUnknown(data, fmt.Sprintf("Decryption panicked: %v", r), message.CodeDecryptPanic)
		}
	}()

	if len(data) < NonceSize {
		return nil, message.NewUnknown(data, "Decryption failed: frame shorter than nonce", message.CodeDecryptPanic)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, message.NewUnknown(data, "Decryption failed: "+err.Error(), message.CodeDecryptBadKey)
	}
	opened, err = aead.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return nil, message.NewUnknown(data, "Decryption failed: invalid key", message.CodeDecryptBadKey)
	}
	return opened, nil
}

func (p *Pipeline) unknown(header *message.Header, data []byte, desc string, code int) *message.UnknownMessage {
	if p.log != nil {
		p.log.Debugf("pipeline: decode failure code=%d: %s", code, desc)
	}
	u := message.NewUnknown(data, desc, code)
	u.SetHeader(header)
	return u
}
