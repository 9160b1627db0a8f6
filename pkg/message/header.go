package message

import (
	"github.com/kaspeak/kaspeak-go/pkg/identifier"
)

// BlockMeta is the confirmed-block context attached to every ingested
// message: the block hash, its timestamp, and its DAA score.
type BlockMeta struct {
	Hash      string
	Timestamp uint64
	DAAScore  uint64
}

// Header is the immutable per-transaction context the ingestion engine
// builds once and hands to the event bus and per-type workers. The
// ConsensusHash is the transaction's outpoint-id string, the same value
// that anchored the payload signature.
type Header struct {
	TxID          string
	Peer          *Peer
	Prefix        string
	Type          uint16
	Identifier    identifier.Identifier
	BlockMeta     BlockMeta
	ConsensusHash string
}
