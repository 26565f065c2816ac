package zeroex

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// SignOrder signs the order hash with the maker key and returns a signed
// order carrying the protocol's {v}{r}{s}{type} EIP712 signature. The
// order's MakerAddress must match the key.
func SignOrder(key *ecdsa.PrivateKey, o *Order) (*SignedOrder, error) {
	s := &SignedOrder{Order: *o, Signature: []byte{byte(SignatureEIP712)}}
	hash, err := s.Hash()
	if err != nil {
		return nil, err
	}
	raw, err := crypto.Sign(hash.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("zeroex: sign: %w", err)
	}
	// raw is r||s||recovery; rebuild as v||r||s||type
	sig := make([]byte, 0, 66)
	sig = append(sig, raw[64]+27)
	sig = append(sig, raw[:64]...)
	sig = append(sig, byte(SignatureEIP712))
	s.Signature = sig
	s.ResetHash()
	return s, nil
}
