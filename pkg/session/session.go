// Package session implements the session façade: the single entry
// point an application holds to create and sign payloads, push them
// onto the ledger as transactions, and receive typed messages from the
// block ingestion engine.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"

	"github.com/cenkalti/backoff"
	"github.com/pion/logging"

	"github.com/kaspeak/kaspeak-go/pkg/byteutil"
	"github.com/kaspeak/kaspeak-go/pkg/curve"
	"github.com/kaspeak/kaspeak-go/pkg/dedup"
	"github.com/kaspeak/kaspeak-go/pkg/eventbus"
	"github.com/kaspeak/kaspeak-go/pkg/identifier"
	"github.com/kaspeak/kaspeak-go/pkg/ingestion"
	"github.com/kaspeak/kaspeak-go/pkg/kconfig"
	"github.com/kaspeak/kaspeak-go/pkg/ledger"
	"github.com/kaspeak/kaspeak-go/pkg/message"
	"github.com/kaspeak/kaspeak-go/pkg/payload"
	"github.com/kaspeak/kaspeak-go/pkg/pipeline"
	"github.com/kaspeak/kaspeak-go/pkg/registry"
)

// SompiPerKAS is the base-unit scale: 1 KAS = 10^8 sompi.
const SompiPerKAS = 100_000_000

// MaxPriorityFeeKAS caps the configurable priority fee; higher requests
// are clamped with a warning.
const MaxPriorityFeeKAS = 100.0

// DefaultPrefix is the application tag used when none is supplied.
const DefaultPrefix = "TEST"

var (
	ErrNotConnected   = errors.New("session: not connected")
	ErrAlreadyClosed  = errors.New("session: already closed")
	ErrNegativeFee    = errors.New("session: priority fee cannot be negative")
	ErrTypeOutOfRange = errors.New("session: message type out of range")
	ErrBadPrivateKey  = errors.New("session: private key must be *big.Int, 32 bytes, or a hex string")
	ErrNoUTXOs        = errors.New("session: no spendable UTXOs")
)

// NormalizePrivateKey coerces any of the accepted private key forms —
// *big.Int, fixed 32-byte big-endian slice, or hex string — into a
// scalar in [1, n-1].
func NormalizePrivateKey(v interface{}) (*big.Int, error) {
	switch k := v.(type) {
	case *big.Int:
		return curve.ScalarFromBytes(k.Bytes())
	case []byte:
		if len(k) != curve.ScalarSize {
			return nil, ErrBadPrivateKey
		}
		return curve.ScalarFromBytes(k)
	case string:
		raw, err := byteutil.DecodeHex(k)
		if err != nil {
			return nil, fmt.Errorf("session: private key hex: %w", err)
		}
		return curve.ScalarFromBytes(raw)
	default:
		return nil, ErrBadPrivateKey
	}
}

// Session is the top-level façade applications drive. It owns its
// identity, a ledger client, and the pipeline/registry/bus/dedup/
// ingestion stack, plus a cooperative single-goroutine task queue that
// serialises event delivery and worker dispatch.
type Session struct {
	cfg    kconfig.SessionConfig
	ledger ledger.Client

	privateKey   *big.Int
	self         identifier.SecretIdentifier
	publicKey    []byte
	publicKeyHex string
	address      string
	prefixBytes  [payload.PrefixSize]byte
	prefixString string

	pipe     *pipeline.Pipeline
	registry *registry.Registry
	bus      *eventbus.Bus
	dedupSet *dedup.Set
	engine   *ingestion.Engine
	log      logging.LeveledLogger

	mu                  sync.Mutex
	peers               map[string]*message.Peer
	balanceSompi        uint64
	utxoCount           int
	priorityFeeSompi    uint64
	prefixFilterEnabled bool
	verifySignatures    bool
	connected           bool
	unsubscribeFunc     func()

	tasks  chan func()
	done   chan struct{}
	closed bool
}

// Create constructs a Session from a private key in any accepted form
// and an application prefix (defaulted to "TEST" and coerced to exactly
// 4 bytes). The public key, its hex form, and the ledger address are
// derived immediately; the connection itself waits for Connect.
func Create(priv interface{}, prefix string, client ledger.Client, cfg kconfig.SessionConfig) (*Session, error) {
	scalar, err := NormalizePrivateKey(priv)
	if err != nil {
		return nil, err
	}
	self, err := identifier.FromSecret(scalar)
	if err != nil {
		return nil, err
	}
	pub, err := self.Bytes()
	if err != nil {
		return nil, err
	}

	if prefix == "" {
		prefix = DefaultPrefix
	}
	prefixBytes := payload.CoercePrefix(prefix)
	prefixString := string(byteutil.TrimTrailingZeros(prefixBytes[:]))

	address, err := client.AddressFromPubkey(pub, cfg.Network)
	if err != nil {
		return nil, fmt.Errorf("session: derive address: %w", err)
	}

	var log logging.LeveledLogger
	if cfg.LoggerFactory != nil {
		log = cfg.LoggerFactory.NewLogger("session")
	}
	var pipeLog logging.LeveledLogger
	if cfg.LoggerFactory != nil {
		pipeLog = cfg.LoggerFactory.NewLogger("pipeline")
	}
	pipe, err := pipeline.New(pipeLog)
	if err != nil {
		return nil, fmt.Errorf("session: create pipeline: %w", err)
	}

	s := &Session{
		cfg:                 cfg,
		ledger:              client,
		privateKey:          scalar,
		self:                self,
		publicKey:           pub,
		publicKeyHex:        byteutil.EncodeHex(pub),
		address:             address,
		prefixBytes:         prefixBytes,
		prefixString:        prefixString,
		pipe:                pipe,
		registry:            registry.New(),
		dedupSet:            dedup.New(cfg.DedupCapacity),
		log:                 log,
		peers:               make(map[string]*message.Peer),
		prefixFilterEnabled: cfg.PrefixFilterEnabled,
		verifySignatures:    cfg.VerifySignatures,
		tasks:               make(chan func(), 256),
		done:                make(chan struct{}),
	}

	s.bus = eventbus.New(s.Enqueue, log)

	var engineLog logging.LeveledLogger
	if cfg.LoggerFactory != nil {
		engineLog = cfg.LoggerFactory.NewLogger("ingestion")
	}
	s.engine = ingestion.New(ingestion.Config{
		Prefix:              prefixString,
		PrefixFilterEnabled: cfg.PrefixFilterEnabled,
		VerifySignatures:    cfg.VerifySignatures,
		NetworkID:           cfg.Network,
		OwnPublicKey:        pub,
		PrivateKey:          scalar,
		Dedup:               s.dedupSet,
		Registry:            s.registry,
		Bus:                 s.bus,
		Schedule:            s.Enqueue,
		ResolveAddress:      client.AddressFromPubkey,
		Logger:              engineLog,
	})

	go s.drain()
	return s, nil
}

// Registry exposes the session's message type registry so callers can
// register constructors/workers before or after Connect.
func (s *Session) Registry() *registry.Registry { return s.registry }

// Bus exposes the session's event bus.
func (s *Session) Bus() *eventbus.Bus { return s.bus }

// Pipeline exposes the session's CBOR/Zstd/AEAD codec so workers can
// decode the raw data handed to them.
func (s *Session) Pipeline() *pipeline.Pipeline { return s.pipe }

// Identity returns this session's public identifier.
func (s *Session) Identity() identifier.Identifier { return s.self.Identifier }

// PublicKeyHex returns the session's compressed public key as lowercase
// hex.
func (s *Session) PublicKeyHex() string { return s.publicKeyHex }

// Address returns the session's own ledger address.
func (s *Session) Address() string { return s.address }

// PrefixString returns the coerced application prefix as a string.
func (s *Session) PrefixString() string { return s.prefixString }

// PrefixBytes returns the 4-byte zero-padded wire form of the prefix.
func (s *Session) PrefixBytes() [payload.PrefixSize]byte { return s.prefixBytes }

// Enqueue schedules f to run on the session's single dispatch
// goroutine, the cooperative "next turn" every event listener and
// worker runs on.
func (s *Session) Enqueue(f func()) {
	select {
	case s.tasks <- f:
	case <-s.done:
	}
}

func (s *Session) drain() {
	for {
		select {
		case f := <-s.tasks:
			s.runTask(f)
		case <-s.done:
			return
		}
	}
}

func (s *Session) runTask(f func()) {
	defer func() {
		if r := recover(); r != nil && s.log != nil {
			s.log.Errorf("session: task panic: %v", r)
		}
	}()
	f()
}

// Connect opens the ledger connection with exponential-backoff retries,
// subscribes the ingestion engine to new blocks, and performs the
// initial balance refresh. Connecting an already-connected session is a
// no-op with a warning.
func (s *Session) Connect(ctx context.Context, url string) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		if s.log != nil {
			s.log.Warnf("session: already connected, ignoring")
		}
		return nil
	}
	s.mu.Unlock()

	op := func() error {
		return s.ledger.Connect(ctx, s.cfg.Network, url)
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		s.bus.Emit(eventbus.EventSessionError, err)
		return fmt.Errorf("session: connect: %w", err)
	}

	unsubscribe, err := s.ledger.SubscribeBlockAdded(ctx, s.engine.HandleBlock)
	if err != nil {
		s.bus.Emit(eventbus.EventSessionError, err)
		return fmt.Errorf("session: subscribe block added: %w", err)
	}

	s.mu.Lock()
	s.connected = true
	s.unsubscribeFunc = unsubscribe
	s.mu.Unlock()

	if err := s.RefreshBalance(ctx); err != nil && s.log != nil {
		s.log.Warnf("session: initial balance refresh: %v", err)
	}

	s.bus.Emit(eventbus.EventSessionConnected, nil)
	return nil
}

// Disconnect unsubscribes from the block stream and closes the ledger
// connection.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	unsubscribe := s.unsubscribeFunc
	s.connected = false
	s.unsubscribeFunc = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	return s.ledger.Disconnect(ctx)
}

// Close stops the session's dispatch goroutine and releases the
// pipeline's resources. It does not disconnect the ledger client; call
// Disconnect first if needed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.pipe.Close()
	return nil
}

// RefreshBalance re-reads the session's own UTXOs and updates the
// cached balance and UTXO count.
func (s *Session) RefreshBalance(ctx context.Context) error {
	entries, err := s.ledger.GetUTXOsByAddresses(ctx, []string{s.address})
	if err != nil {
		return fmt.Errorf("session: refresh balance: %w", err)
	}
	var total uint64
	for _, e := range entries {
		total += e.Amount
	}

	s.mu.Lock()
	s.balanceSompi = total
	s.utxoCount = len(entries)
	s.mu.Unlock()
	return nil
}

// Balance returns the session's balance in whole KAS.
func (s *Session) Balance() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.balanceSompi) / SompiPerKAS
}

// BalanceSompi returns the balance in base units.
func (s *Session) BalanceSompi() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceSompi
}

// UTXOCount returns the number of UTXOs backing the balance.
func (s *Session) UTXOCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.utxoCount
}

// SetPriorityFee configures the fee attached to subsequently created
// transactions, in whole KAS. Negative fees fail; fees above
// MaxPriorityFeeKAS are clamped with a warning. The fee is stored in
// sompi.
func (s *Session) SetPriorityFee(kas float64) error {
	if kas < 0 {
		return ErrNegativeFee
	}
	if kas > MaxPriorityFeeKAS {
		if s.log != nil {
			s.log.Warnf("session: priority fee %.2f KAS above maximum, clamping to %.0f", kas, MaxPriorityFeeKAS)
		}
		kas = MaxPriorityFeeKAS
	}

	s.mu.Lock()
	s.priorityFeeSompi = uint64(math.Round(kas * SompiPerKAS))
	s.mu.Unlock()
	return nil
}

// PriorityFeeSompi returns the configured fee in base units.
func (s *Session) PriorityFeeSompi() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.priorityFeeSompi
}

// SetPrefixFilterEnabled toggles the ingestion prefix filter.
func (s *Session) SetPrefixFilterEnabled(enabled bool) {
	s.mu.Lock()
	s.prefixFilterEnabled = enabled
	s.mu.Unlock()
	s.engine.SetPrefixFilterEnabled(enabled)
}

// SetSignatureVerification toggles payload signature verification
// during ingestion. Structural invariants stay enforced either way.
func (s *Session) SetSignatureVerification(enabled bool) {
	s.mu.Lock()
	s.verifySignatures = enabled
	s.mu.Unlock()
	s.engine.SetVerifySignatures(enabled)
}

// HandleBlock feeds a block directly into the ingestion engine,
// bypassing the subscription. Exposed for callers that source blocks
// out of band.
func (s *Session) HandleBlock(block ledger.Block) {
	s.engine.HandleBlock(block)
}

// PeerFor returns the cached Peer wrapper for a remote identifier,
// creating one on first use so its derivations are computed at most
// once per session.
func (s *Session) PeerFor(remote identifier.Identifier) (*message.Peer, error) {
	encoded, err := remote.Bytes()
	if err != nil {
		return nil, err
	}
	key := byteutil.EncodeHex(encoded)

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.peers[key]; ok {
		return p, nil
	}
	isOwn := key == s.publicKeyHex
	p := message.NewPeer("", encoded, nil, isOwn, s.privateKey)
	s.peers[key] = p
	return p, nil
}

// DeriveConversationKeys returns the ECDH shared secret and chain key
// this session shares with remote: sharedSecret is
// SHA256(SHA256(ECDH)), chainKey is int(SHA256(sharedSecret)).
func (s *Session) DeriveConversationKeys(remote identifier.Identifier) ([32]byte, *big.Int, error) {
	p, err := s.PeerFor(remote)
	if err != nil {
		return [32]byte{}, nil, err
	}
	secret, err := p.SharedSecret()
	if err != nil {
		return [32]byte{}, nil, err
	}
	chainKey, err := p.ChainKey()
	if err != nil {
		return [32]byte{}, nil, err
	}
	return secret, chainKey, nil
}

// EncodeMessage runs msg through the pipeline, sealed with the shared
// secret of remote when the type requires encryption. remote may be
// zero-valued for plaintext types.
func (s *Session) EncodeMessage(msg message.Message, remote identifier.Identifier) ([]byte, error) {
	var key []byte
	if msg.RequiresEncryption() {
		p, err := s.PeerFor(remote)
		if err != nil {
			return nil, err
		}
		secret, err := p.SharedSecret()
		if err != nil {
			return nil, err
		}
		key = secret[:]
	}
	return s.pipe.Encode(msg, key)
}

// DecodeMessage is the inbound counterpart of EncodeMessage, typically
// called from a registered worker with the header and data it was
// handed. The header's peer supplies the AEAD key.
func (s *Session) DecodeMessage(header *message.Header, data []byte) (message.Message, error) {
	var key []byte
	if ctor, ok := s.registry.GetCtor(header.Type); ok && ctor().RequiresEncryption() {
		secret, err := header.Peer.SharedSecret()
		if err != nil {
			return nil, err
		}
		key = secret[:]
	}
	return s.pipe.Decode(s.registry, header, data, key)
}

// CreatePayload builds and signs a wire payload under this session's
// prefix and identity: typ must be in [0, 65535], id labels the
// conversation position, data is the pipeline-encoded message bytes,
// and outpointIDs anchors the signature to the spending transaction.
// Returns the payload as lowercase hex ready for SendTransaction.
func (s *Session) CreatePayload(outpointIDs string, typ int, id identifier.Identifier, data []byte) (string, error) {
	if typ < 0 || typ > registry.MaxTypeCode {
		return "", ErrTypeOutOfRange
	}
	idBytes, err := id.Bytes()
	if err != nil {
		return "", err
	}
	p, err := payload.Build(s.prefixBytes, uint16(typ), idBytes, s.publicKey, data)
	if err != nil {
		return "", err
	}
	if err := p.Sign(outpointIDs, s.privateKey); err != nil {
		return "", err
	}
	return p.ToHex(), nil
}

// OutpointIDs computes the canonical outpoint-id string for tx, the
// value CreatePayload and the ingestion engine both sign/verify over.
func (s *Session) OutpointIDs(tx ledger.Transaction) string {
	return payload.OutpointIDs(tx.Inputs)
}

// CreateTransaction builds a self-transfer spending the session's
// current UTXOs, paying the configured priority fee, with the payload
// field pre-sized for dataLength bytes of message data plus the fixed
// payload header. The placeholder payload is replaced by
// SendTransaction.
func (s *Session) CreateTransaction(ctx context.Context, dataLength int) (ledger.Transaction, error) {
	entries, err := s.ledger.GetUTXOsByAddresses(ctx, []string{s.address})
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("session: create transaction: %w", err)
	}
	if len(entries) == 0 {
		return ledger.Transaction{}, ErrNoUTXOs
	}

	fee := s.PriorityFeeSompi()
	var total uint64
	inputs := make([]ledger.TransactionInput, 0, len(entries))
	for _, e := range entries {
		total += e.Amount
		inputs = append(inputs, ledger.TransactionInput{PreviousOutpoint: e.Outpoint})
	}
	if total <= fee {
		return ledger.Transaction{}, ErrNoUTXOs
	}

	placeholder := make([]byte, payload.HeaderSize+dataLength)
	return ledger.Transaction{
		Inputs:  inputs,
		Outputs: []ledger.Output{{Address: s.address, Amount: total - fee}},
		Payload: byteutil.EncodeHex(placeholder),
	}, nil
}

// SendTransaction attaches payloadHex to tx, signs the transaction with
// the session's private key, submits it, and refreshes the balance.
// Returns the assigned transaction id.
func (s *Session) SendTransaction(ctx context.Context, tx ledger.Transaction, payloadHex string) (string, error) {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return "", ErrNotConnected
	}

	tx.Payload = payloadHex
	signed, err := s.ledger.SignTransaction(tx, curve.ScalarToBytes(s.privateKey), true)
	if err != nil {
		return "", fmt.Errorf("session: sign transaction: %w", err)
	}
	txID, err := s.ledger.SubmitTransaction(ctx, signed)
	if err != nil {
		return "", fmt.Errorf("session: submit transaction: %w", err)
	}

	if err := s.RefreshBalance(ctx); err != nil && s.log != nil {
		s.log.Warnf("session: balance refresh after send: %v", err)
	}
	return txID, nil
}
