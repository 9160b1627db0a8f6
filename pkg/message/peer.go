package message

import (
	"math/big"
	"sync"

	"github.com/kaspeak/kaspeak-go/pkg/byteutil"
	"github.com/kaspeak/kaspeak-go/pkg/curve"
)

// Peer describes the sender of one inbound payload: its ledger address,
// compressed public key, the payload signature it arrived with, and
// whether the sender is this session itself. The ECDH shared secret and
// chain key are derived lazily, at most once for the Peer's lifetime —
// a Peer lives only as long as its containing Header, so the cache is
// never shared across transactions.
type Peer struct {
	address   string
	publicKey []byte
	signature []byte
	isOwn     bool

	// ownPriv is the receiving session's private scalar, used for the
	// ECDH derivations below. It doubles as the owning-side private key
	// exposed by PrivateKey when isOwn.
	ownPriv *big.Int

	once         sync.Once
	deriveErr    error
	sharedSecret [32]byte
	chainKey     *big.Int
}

// NewPeer builds a sender descriptor. publicKey must be the sender's
// 33-byte compressed point; ownPriv is the receiving session's private
// scalar (needed for the lazy ECDH derivations regardless of isOwn).
func NewPeer(address string, publicKey, signature []byte, isOwn bool, ownPriv *big.Int) *Peer {
	return &Peer{
		address:   address,
		publicKey: append([]byte(nil), publicKey...),
		signature: append([]byte(nil), signature...),
		isOwn:     isOwn,
		ownPriv:   ownPriv,
	}
}

// Address returns the sender's ledger address.
func (p *Peer) Address() string { return p.address }

// PublicKey returns the sender's compressed public key.
func (p *Peer) PublicKey() []byte { return append([]byte(nil), p.publicKey...) }

// Signature returns the payload signature this peer arrived with.
func (p *Peer) Signature() []byte { return append([]byte(nil), p.signature...) }

// IsOwn reports whether the sender is the receiving session itself.
func (p *Peer) IsOwn() bool { return p.isOwn }

// PrivateKey returns the session's private scalar when this peer is the
// session itself, nil otherwise.
func (p *Peer) PrivateKey() *big.Int {
	if !p.isOwn {
		return nil
	}
	return new(big.Int).Set(p.ownPriv)
}

func (p *Peer) derive() error {
	p.once.Do(func() {
		pub, err := curve.FromBytes(p.publicKey)
		if err != nil {
			p.deriveErr = err
			return
		}
		secret, err := curve.SharedSecret(p.ownPriv, pub)
		if err != nil {
			p.deriveErr = err
			return
		}
		p.sharedSecret = secret
		chain := byteutil.SHA256(secret[:])
		p.chainKey = new(big.Int).SetBytes(chain[:])
	})
	return p.deriveErr
}

// SharedSecret returns SHA256(SHA256(ECDH(myPriv, peerPub))), computed
// on first call and cached.
func (p *Peer) SharedSecret() ([32]byte, error) {
	if err := p.derive(); err != nil {
		return [32]byte{}, err
	}
	return p.sharedSecret, nil
}

// ChainKey returns int(SHA256(sharedSecret)), the scalar that drives
// this conversation's identifier chain. The pipeline's AEAD stage is
// keyed with SharedSecret, not with this value. Computed on first call
// and cached.
func (p *Peer) ChainKey() (*big.Int, error) {
	if err := p.derive(); err != nil {
		return nil, err
	}
	return new(big.Int).Set(p.chainKey), nil
}
