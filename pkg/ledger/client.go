// Package ledger defines the external blockDAG RPC collaborator
// interface: the protocol engine is a consumer of a Kaspa-like ledger
// node, never an implementor of one. Concrete wire-protocol clients are
// out of scope; this package only fixes the shape every session depends
// on, so the layers above it never import a concrete node client.
package ledger

import "context"

// Outpoint identifies a spendable UTXO by its originating transaction
// id and output index.
type Outpoint struct {
	TransactionID string
	Index         uint32
}

// TransactionInput spends one previous outpoint.
type TransactionInput struct {
	PreviousOutpoint Outpoint
}

// Output is a transaction output: an amount paid to an address.
type Output struct {
	Address string
	Amount  uint64
}

// TransactionVerboseData is the node-attached metadata the ingestion
// engine requires on every transaction it processes.
type TransactionVerboseData struct {
	TransactionID string
}

// Transaction is the ledger transaction shape the engine consumes and
// produces: input outpoints, outputs, the opaque payload field as a hex
// string, and the node's verbose data (present on subscribed blocks,
// absent on locally built transactions until submission).
type Transaction struct {
	Inputs      []TransactionInput
	Outputs     []Output
	Payload     string
	VerboseData *TransactionVerboseData
}

// BlockHeader carries the confirmed-block metadata attached to every
// ingested message: hash, timestamp, and DAA score.
type BlockHeader struct {
	Hash      string
	Timestamp uint64
	DAAScore  uint64
}

// Block is the portion of a block-added notification the ingestion
// engine consumes.
type Block struct {
	Header       BlockHeader
	Transactions []Transaction
}

// BlockHandler receives each newly confirmed block.
type BlockHandler func(Block)

// UTXOEntry is a ledger-reported unspent output available to fund a new
// transaction.
type UTXOEntry struct {
	Outpoint Outpoint
	Address  string
	Amount   uint64
}

// Client is the external ledger RPC collaborator interface. Every
// blocking method accepts a context so callers can bound RPC latency;
// the fake implementation under pkg/ledger/fake ignores cancellation
// since it never blocks on real I/O.
type Client interface {
	// Connect opens the node connection for networkID, optionally at an
	// explicit url.
	Connect(ctx context.Context, networkID, url string) error
	Disconnect(ctx context.Context) error

	// SubscribeBlockAdded registers handler to be called for every new
	// block and returns an unsubscribe function.
	SubscribeBlockAdded(ctx context.Context, handler BlockHandler) (func(), error)

	GetUTXOsByAddresses(ctx context.Context, addresses []string) ([]UTXOEntry, error)

	// SubmitTransaction broadcasts tx and returns its assigned id.
	SubmitTransaction(ctx context.Context, tx Transaction) (string, error)

	// AddressFromPubkey derives the ledger's native address encoding for
	// a 33-byte compressed public key on the given network.
	AddressFromPubkey(pubkey []byte, networkID string) (string, error)

	// SignTransaction signs every input of tx with the given 32-byte
	// private scalar; when verify is true the node re-checks the
	// signatures before returning.
	SignTransaction(tx Transaction, priv []byte, verify bool) (Transaction, error)

	// SignMessage/VerifyMessage expose the node's own Schnorr message
	// signing convention over x-only keys, distinct from the protocol's
	// payload signatures.
	SignMessage(msg []byte, priv []byte) ([]byte, error)
	VerifyMessage(msg, sig, pubkey []byte) (bool, error)
}
