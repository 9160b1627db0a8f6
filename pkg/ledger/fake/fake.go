// Package fake provides an in-memory ledger.Client double sufficient to
// drive the ingestion engine and session façade end-to-end without a
// real Kaspa-like node.
package fake

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/kaspeak/kaspeak-go/pkg/curve"
	"github.com/kaspeak/kaspeak-go/pkg/ledger"
	"github.com/kaspeak/kaspeak-go/pkg/signer"
)

var ErrNotConnected = errors.New("fake: ledger not connected")

// Ledger is an in-memory ledger.Client. Blocks delivered via Deliver
// are fanned out to every subscribed handler synchronously, matching
// the fake's single-process test usage; a real node delivers
// asynchronously over a websocket/gRPC stream.
type Ledger struct {
	mu          sync.Mutex
	connected   bool
	networkID   string
	handlers    map[int]ledger.BlockHandler
	nextHandler int
	utxos       map[string][]ledger.UTXOEntry
	daaScore    uint64

	// Submitted records every transaction accepted by
	// SubmitTransaction, keyed by its assigned id, so tests can echo
	// them back through Deliver.
	Submitted map[string]ledger.Transaction
}

// New constructs an empty fake Ledger.
func New() *Ledger {
	return &Ledger{
		handlers:  make(map[int]ledger.BlockHandler),
		utxos:     make(map[string][]ledger.UTXOEntry),
		Submitted: make(map[string]ledger.Transaction),
	}
}

func (l *Ledger) Connect(ctx context.Context, networkID, url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = true
	l.networkID = networkID
	return nil
}

func (l *Ledger) Disconnect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = false
	return nil
}

func (l *Ledger) SubscribeBlockAdded(ctx context.Context, handler ledger.BlockHandler) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return nil, ErrNotConnected
	}
	id := l.nextHandler
	l.nextHandler++
	l.handlers[id] = handler
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.handlers, id)
	}, nil
}

// Deliver fans block out to every currently-subscribed handler. Test
// and example code drives ingestion by calling this directly instead of
// waiting on a real node's block stream.
func (l *Ledger) Deliver(block ledger.Block) {
	l.mu.Lock()
	handlers := make([]ledger.BlockHandler, 0, len(l.handlers))
	for _, h := range l.handlers {
		handlers = append(handlers, h)
	}
	l.mu.Unlock()

	for _, h := range handlers {
		h(block)
	}
}

// DeliverTransactions wraps txs in a synthetic confirmed block with a
// fresh hash and a monotonically increasing DAA score, then delivers
// it.
func (l *Ledger) DeliverTransactions(txs ...ledger.Transaction) {
	l.mu.Lock()
	l.daaScore++
	header := ledger.BlockHeader{
		Hash:      uuid.NewString(),
		Timestamp: l.daaScore * 1000,
		DAAScore:  l.daaScore,
	}
	l.mu.Unlock()

	l.Deliver(ledger.Block{Header: header, Transactions: txs})
}

// SeedUTXO registers a spendable UTXO for address, for
// GetUTXOsByAddresses to return.
func (l *Ledger) SeedUTXO(address string, entry ledger.UTXOEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.utxos[address] = append(l.utxos[address], entry)
}

func (l *Ledger) GetUTXOsByAddresses(ctx context.Context, addresses []string) ([]ledger.UTXOEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return nil, ErrNotConnected
	}
	var out []ledger.UTXOEntry
	for _, addr := range addresses {
		out = append(out, l.utxos[addr]...)
	}
	return out, nil
}

func (l *Ledger) SubmitTransaction(ctx context.Context, tx ledger.Transaction) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return "", ErrNotConnected
	}
	id := uuid.NewString()
	tx.VerboseData = &ledger.TransactionVerboseData{TransactionID: id}
	l.Submitted[id] = tx
	return id, nil
}

// AddressFromPubkey derives a deterministic, ledger-agnostic test
// address: "<network>:" followed by the hex of the compressed pubkey.
// It does not attempt to reproduce any real network's bech32 address
// format, since the real format is a node concern.
func (l *Ledger) AddressFromPubkey(pubkey []byte, networkID string) (string, error) {
	if len(pubkey) != curve.CompressedSize {
		return "", errors.New("fake: invalid public key length")
	}
	if networkID == "" {
		networkID = "kaspeaktest"
	}
	return networkID + ":" + hex.EncodeToString(pubkey), nil
}

// SignTransaction is a no-op beyond scalar validation: real per-input
// signature scripts are a ledger-node concern; the fake only needs to
// round-trip a Transaction value through submission.
func (l *Ledger) SignTransaction(tx ledger.Transaction, priv []byte, verify bool) (ledger.Transaction, error) {
	if _, err := curve.ScalarFromBytes(priv); err != nil {
		return ledger.Transaction{}, err
	}
	return tx, nil
}

func (l *Ledger) SignMessage(msg []byte, priv []byte) ([]byte, error) {
	scalar, err := curve.ScalarFromBytes(priv)
	if err != nil {
		return nil, err
	}
	digest := signer.DigestBytes(msg)
	return signer.SchnorrSign(digest[:], scalar)
}

func (l *Ledger) VerifyMessage(msg, sig, pubkey []byte) (bool, error) {
	digest := signer.DigestBytes(msg)
	return signer.SchnorrVerify(sig, digest[:], pubkey), nil
}
