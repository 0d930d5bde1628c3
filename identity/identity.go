// Package identity owns the process-wide peer keypair. It is generated once,
// lazily, the first time Self is called, and lives for the lifetime of the
// process. There is no rotation and no persistence.
package identity

import (
	"crypto/rand"
	"sync"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// PeerIdentity is the opaque, globally unique, verifiable identifier bound
// to this process's public key.
type PeerIdentity struct {
	ID         peer.ID
	PrivateKey crypto.PrivKey
	PublicKey  crypto.PubKey
}

// String renders the underlying peer.ID, e.g. for log fields.
func (p PeerIdentity) String() string {
	return p.ID.String()
}

// Equal compares two identities by their peer.ID.
func (p PeerIdentity) Equal(other PeerIdentity) bool {
	return p.ID == other.ID
}

var (
	once sync.Once
	self PeerIdentity
	err  error
)

// Self returns this process's PeerIdentity, generating it on first call.
func Self() (PeerIdentity, error) {
	once.Do(func() {
		priv, pub, genErr := crypto.GenerateEd25519Key(rand.Reader)
		if genErr != nil {
			err = genErr
			return
		}
		id, idErr := peer.IDFromPublicKey(pub)
		if idErr != nil {
			err = idErr
			return
		}
		self = PeerIdentity{ID: id, PrivateKey: priv, PublicKey: pub}
	})
	return self, err
}

// New generates a fresh, independent PeerIdentity without touching the
// process-wide singleton. Used by tests that need multiple distinct peers
// in one process.
func New() (PeerIdentity, error) {
	priv, pub, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return PeerIdentity{}, err
	}
	id, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return PeerIdentity{}, err
	}
	return PeerIdentity{ID: id, PrivateKey: priv, PublicKey: pub}, nil
}
