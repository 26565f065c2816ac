//go:build p2p

package p2p

import (
	crand "crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	peer "github.com/libp2p/go-libp2p/core/peer"
)

// LoadOrCreateIdentity returns the node key stored at path, generating and
// persisting a fresh ed25519 key when the file does not exist yet. An empty
// path yields an ephemeral identity that changes on every start.
func LoadOrCreateIdentity(path string) (p2pcrypto.PrivKey, error) {
	if path == "" {
		priv, _, err := p2pcrypto.GenerateEd25519Key(crand.Reader)
		return priv, err
	}
	raw, err := os.ReadFile(path)
	if err == nil {
		b, derr := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
		if derr != nil {
			return nil, fmt.Errorf("identity %s: %w", path, derr)
		}
		return p2pcrypto.UnmarshalPrivateKey(b)
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	priv, _, err := p2pcrypto.GenerateEd25519Key(crand.Reader)
	if err != nil {
		return nil, err
	}
	if err := SaveIdentity(path, priv); err != nil {
		return nil, err
	}
	return priv, nil
}

// SaveIdentity writes the key to path as a single base64 line, mode 0600.
func SaveIdentity(path string, priv p2pcrypto.PrivKey) error {
	b, err := p2pcrypto.MarshalPrivateKey(priv)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(b)+"\n"), 0o600)
}

// PeerID derives the peer identifier for a private key.
func PeerID(priv p2pcrypto.PrivKey) (peer.ID, error) {
	return peer.IDFromPublicKey(priv.GetPublic())
}
