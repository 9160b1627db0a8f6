// Package ingestion implements the block ingestion engine: the stream
// processor that turns raw ledger blocks into verified message headers
// dispatched on the event bus and, where registered, to a per-type
// worker.
package ingestion

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/pion/logging"

	"github.com/kaspeak/kaspeak-go/pkg/dedup"
	"github.com/kaspeak/kaspeak-go/pkg/eventbus"
	"github.com/kaspeak/kaspeak-go/pkg/identifier"
	"github.com/kaspeak/kaspeak-go/pkg/ledger"
	"github.com/kaspeak/kaspeak-go/pkg/message"
	"github.com/kaspeak/kaspeak-go/pkg/payload"
	"github.com/kaspeak/kaspeak-go/pkg/registry"
)

// minPayloadHexLen is the hex length of the smallest possible frame:
// the 143-byte fixed header with no data.
const minPayloadHexLen = payload.HeaderSize * 2

// ReceivedMessage is the payload of an eventbus.EventMessageReceived
// event: the built header plus the payload's raw data section. Decoding
// the data into a typed value is the worker's job, through the
// session's pipeline, so one undecodable message cannot block the
// event fan-out.
type ReceivedMessage struct {
	Header *message.Header
	Data   []byte
}

// AddressResolver derives a ledger address from a compressed public key
// on a given network; sessions wire ledger.Client.AddressFromPubkey in
// here.
type AddressResolver func(pubkey []byte, networkID string) (string, error)

// Config configures an Engine. Dedup is owned by the caller (the
// session façade) and only mutated here.
type Config struct {
	Prefix              string
	PrefixFilterEnabled bool
	VerifySignatures    bool
	NetworkID           string
	OwnPublicKey        []byte
	PrivateKey          *big.Int
	Dedup               *dedup.Set
	Registry            *registry.Registry
	Bus                 *eventbus.Bus
	Schedule            func(func())
	ResolveAddress      AddressResolver
	Logger              logging.LeveledLogger
}

// Engine filters, parses, verifies, and dispatches every transaction
// payload in a confirmed block. It is purely consumption: it never
// calls back into the ledger during a block.
type Engine struct {
	mu                  sync.Mutex
	prefix              string
	prefixFilterEnabled bool
	verifySignatures    bool

	networkID      string
	ownPublicKey   []byte
	privateKey     *big.Int
	dedupSet       *dedup.Set
	registry       *registry.Registry
	bus            *eventbus.Bus
	schedule       func(func())
	resolveAddress AddressResolver
	log            logging.LeveledLogger
}

// New constructs an Engine from cfg.
func New(cfg Config) *Engine {
	schedule := cfg.Schedule
	if schedule == nil {
		schedule = func(f func()) { f() }
	}
	return &Engine{
		prefix:              cfg.Prefix,
		prefixFilterEnabled: cfg.PrefixFilterEnabled,
		verifySignatures:    cfg.VerifySignatures,
		networkID:           cfg.NetworkID,
		ownPublicKey:        append([]byte(nil), cfg.OwnPublicKey...),
		privateKey:          cfg.PrivateKey,
		dedupSet:            cfg.Dedup,
		registry:            cfg.Registry,
		bus:                 cfg.Bus,
		schedule:            schedule,
		resolveAddress:      cfg.ResolveAddress,
		log:                 cfg.Logger,
	}
}

// SetPrefixFilterEnabled toggles the prefix filter (step 8).
func (e *Engine) SetPrefixFilterEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prefixFilterEnabled = enabled
}

// SetVerifySignatures toggles signature verification (step 10).
// Verification-off mode still enforces every structural invariant.
func (e *Engine) SetVerifySignatures(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.verifySignatures = enabled
}

func (e *Engine) flags() (prefixFilter, verify bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prefixFilterEnabled, e.verifySignatures
}

// HandleBlock processes every transaction in block, in block order. One
// bad transaction never aborts the rest of the block: per-transaction
// failures are logged and skipped.
func (e *Engine) HandleBlock(block ledger.Block) {
	for _, tx := range block.Transactions {
		if err := e.handleTransaction(block.Header, tx); err != nil {
			e.errorf("ingestion: block=%s: %v", block.Header.Hash, err)
		}
	}
}

func (e *Engine) handleTransaction(blockHeader ledger.BlockHeader, tx ledger.Transaction) error {
	// Odd-length payload hex cannot be a byte string; skip outright.
	if len(tx.Payload)%2 != 0 {
		return nil
	}
	// Too short to hold the fixed header.
	if len(tx.Payload) < minPayloadHexLen {
		return nil
	}
	// Cheap marker test on the hex text before any decoding work.
	if strings.ToLower(tx.Payload[:len(payload.MarkerHex)]) != payload.MarkerHex {
		return nil
	}

	if tx.VerboseData == nil {
		return fmt.Errorf("transaction with %d inputs has no verbose data", len(tx.Inputs))
	}
	txID := tx.VerboseData.TransactionID

	if !e.dedupSet.TryAdd(txID) {
		return nil
	}

	p, err := payload.FromHex(tx.Payload)
	if err != nil {
		e.debugf("ingestion: tx=%s malformed payload: %v", txID, err)
		return nil
	}

	prefix := p.PrefixString()
	prefixFilter, verify := e.flags()
	if prefixFilter && prefix != e.prefix {
		return nil
	}

	consensusHash := payload.OutpointIDs(tx.Inputs)

	if verify && !p.Verify(consensusHash) {
		e.debugf("ingestion: tx=%s signature verification failed", txID)
		return nil
	}

	header, err := e.buildHeader(blockHeader, txID, p, prefix, consensusHash)
	if err != nil {
		e.debugf("ingestion: tx=%s header: %v", txID, err)
		return nil
	}

	data := append([]byte(nil), p.Data...)
	if e.bus != nil {
		e.bus.Emit(eventbus.EventMessageReceived, ReceivedMessage{Header: header, Data: data})
	}

	// Worker dispatch only for traffic under this session's own prefix;
	// foreign-prefix traffic is observable via the event above when the
	// filter is off, but never drives workers.
	if prefix != e.prefix {
		return nil
	}
	worker, ok := e.registry.GetWorker(p.Type)
	if !ok {
		return nil
	}
	e.schedule(func() {
		e.runWorker(worker, header, data)
	})
	return nil
}

func (e *Engine) buildHeader(blockHeader ledger.BlockHeader, txID string, p *payload.Payload, prefix, consensusHash string) (*message.Header, error) {
	var address string
	if e.resolveAddress != nil {
		var err error
		address, err = e.resolveAddress(p.PublicKey[:], e.networkID)
		if err != nil {
			return nil, fmt.Errorf("address from pubkey: %w", err)
		}
	}

	isOwn := string(p.PublicKey[:]) == string(e.ownPublicKey)
	peer := message.NewPeer(address, p.PublicKey[:], p.Signature[:], isOwn, e.privateKey)

	id, err := identifier.FromBytes(p.ID[:])
	if err != nil {
		return nil, fmt.Errorf("identifier: %w", err)
	}

	return &message.Header{
		TxID:       txID,
		Peer:       peer,
		Prefix:     prefix,
		Type:       p.Type,
		Identifier: id,
		BlockMeta: message.BlockMeta{
			Hash:      blockHeader.Hash,
			Timestamp: blockHeader.Timestamp,
			DAAScore:  blockHeader.DAAScore,
		},
		ConsensusHash: consensusHash,
	}, nil
}

// runWorker invokes a per-type worker, isolated from the engine's
// control flow: errors are logged, panics are recovered and logged, and
// neither aborts ingestion of subsequent transactions.
func (e *Engine) runWorker(worker registry.Worker, header *message.Header, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			e.errorf("ingestion: worker panic tx=%s type=%d: %v", header.TxID, header.Type, r)
		}
	}()
	if err := worker(header, data); err != nil {
		e.errorf("ingestion: worker error tx=%s type=%d: %v", header.TxID, header.Type, err)
	}
}

func (e *Engine) debugf(format string, args ...interface{}) {
	if e.log != nil {
		e.log.Debugf(format, args...)
	}
}

func (e *Engine) errorf(format string, args ...interface{}) {
	if e.log != nil {
		e.log.Errorf(format, args...)
	}
}
