// Package message defines the typed message vocabulary shared by the
// registry, pipeline, ingestion engine, and session façade: the Message
// trait every application message type implements, the immutable Header
// built per inbound transaction, the Peer sender descriptor with its
// lazily cached key derivations, and the UnknownMessage value the
// pipeline produces in place of a decode failure.
package message

import "errors"

// ErrNotHydratable is returned by FromPlainObject implementations that
// cannot be populated from a decoded plain object (UnknownMessage).
var ErrNotHydratable = errors.New("message: value cannot be hydrated from a plain object")

// Message is the typed message trait. Each concrete type declares a
// type code unique within a deployment, whether its wire form must be
// encrypted, and the two plain-object capabilities the pipeline drives:
// ToPlainObject produces a CBOR-encodable value, FromPlainObject
// hydrates fields from one. SetHeader/Header carry the ingestion
// context; embed Base to get them for free.
type Message interface {
	MessageType() uint16
	RequiresEncryption() bool
	ToPlainObject() (interface{}, error)
	FromPlainObject(v interface{}) error
	SetHeader(h *Header)
	Header() *Header
}

// Base provides the header-carrying half of the Message trait for
// embedding in concrete message types.
type Base struct {
	header *Header
}

// SetHeader attaches the ingestion header. The pipeline calls this once,
// immediately after construction.
func (b *Base) SetHeader(h *Header) { b.header = h }

// Header returns the attached ingestion header, nil for outbound
// messages that were never ingested.
func (b *Base) Header() *Header { return b.header }

// Pipeline failure codes carried by UnknownMessage. The numeric values
// identify where in the decode pipeline the failure occurred and are a
// stable part of the protocol contract.
const (
	CodeDecryptBadKey   = 0
	CodeDecryptEmpty    = 1
	CodeDecryptPanic    = 2
	CodeDecompressError = 3
	CodeCBORError       = 4
	CodeHydrationError  = 5
)

// UnknownMessage is the value produced whenever decoding fails: the raw
// wire data is preserved alongside a description and the stable failure
// code. It is a value, never a Go error — pipeline failures are
// reported, not thrown.
type UnknownMessage struct {
	Base
	RawData   []byte
	ErrorDesc string
	Code      int
}

// UnknownMessageType is the reserved type code UnknownMessage reports;
// it is never registered and never appears on the wire.
const UnknownMessageType uint16 = 0xFFFF

// NewUnknown wraps raw wire data that failed to decode.
func NewUnknown(raw []byte, desc string, code int) *UnknownMessage {
	return &UnknownMessage{RawData: raw, ErrorDesc: desc, Code: code}
}

func (u *UnknownMessage) MessageType() uint16      { return UnknownMessageType }
func (u *UnknownMessage) RequiresEncryption() bool { return false }

func (u *UnknownMessage) ToPlainObject() (interface{}, error) {
	return map[string]interface{}{
		"raw":  u.RawData,
		"desc": u.ErrorDesc,
		"code": u.Code,
	}, nil
}

func (u *UnknownMessage) FromPlainObject(interface{}) error { return ErrNotHydratable }

// AsMap normalizes a CBOR-decoded plain object into a string-keyed map.
// fxamacker/cbor decodes maps into map[interface{}]interface{} when the
// target is a bare interface; hydration code should not care.
func AsMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			s, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[s] = val
		}
		return out, true
	default:
		return nil, false
	}
}
