package zeroex

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureKind is the trailing type byte of a v3 signature.
type SignatureKind byte

const (
	SignatureIllegal SignatureKind = iota
	SignatureInvalid
	SignatureEIP712
	SignatureEthSign
	SignatureWallet
	SignatureValidator
	SignaturePreSigned
	SignatureEIP1271Wallet
)

func (k SignatureKind) String() string {
	switch k {
	case SignatureIllegal:
		return "illegal"
	case SignatureInvalid:
		return "invalid"
	case SignatureEIP712:
		return "eip712"
	case SignatureEthSign:
		return "eth_sign"
	case SignatureWallet:
		return "wallet"
	case SignatureValidator:
		return "validator"
	case SignaturePreSigned:
		return "pre_signed"
	case SignatureEIP1271Wallet:
		return "eip1271_wallet"
	default:
		return fmt.Sprintf("unknown(%d)", byte(k))
	}
}

var (
	ErrShortSignature       = errors.New("zeroex: signature too short")
	ErrIllegalSignature     = errors.New("zeroex: illegal signature kind")
	ErrInvalidSignatureKind = errors.New("zeroex: signature kind invalid")
	ErrBadECDSALayout       = errors.New("zeroex: bad ecdsa signature layout")
	ErrWrongSigner          = errors.New("zeroex: signature does not recover maker")
	// ErrSignatureNeedsChain marks kinds (wallet, validator, pre-signed)
	// that can only be checked against contract state.
	ErrSignatureNeedsChain = errors.New("zeroex: signature requires on-chain check")
)

// Kind extracts the signature's trailing type byte.
func (s *SignedOrder) Kind() (SignatureKind, error) {
	if len(s.Signature) == 0 {
		return SignatureIllegal, ErrShortSignature
	}
	return SignatureKind(s.Signature[len(s.Signature)-1]), nil
}

// VerifySignature checks that the signature recovers the maker address.
// EIP712 and EthSign kinds are verified here; wallet/validator/pre-signed
// kinds return ErrSignatureNeedsChain for the caller to treat as
// indeterminate rather than invalid.
func (s *SignedOrder) VerifySignature() error {
	kind, err := s.Kind()
	if err != nil {
		return err
	}
	switch kind {
	case SignatureIllegal:
		return ErrIllegalSignature
	case SignatureInvalid:
		// Per protocol, kind 1 must carry nothing but the type byte and
		// never validates.
		return ErrInvalidSignatureKind
	case SignatureEIP712:
		hash, err := s.Hash()
		if err != nil {
			return err
		}
		return s.recoverAndCompare(hash.Bytes())
	case SignatureEthSign:
		hash, err := s.Hash()
		if err != nil {
			return err
		}
		wrapped := crypto.Keccak256(append([]byte("\x19Ethereum Signed Message:\n32"), hash.Bytes()...))
		return s.recoverAndCompare(wrapped)
	case SignatureWallet, SignatureValidator, SignaturePreSigned, SignatureEIP1271Wallet:
		return ErrSignatureNeedsChain
	default:
		return ErrIllegalSignature
	}
}

// recoverAndCompare handles the protocol's {v}{r}{s}{type} layout.
func (s *SignedOrder) recoverAndCompare(digest []byte) error {
	if len(s.Signature) != 66 {
		return ErrBadECDSALayout
	}
	v := s.Signature[0]
	if v != 27 && v != 28 {
		return ErrBadECDSALayout
	}
	// go-ethereum wants r||s||recovery with recovery in {0,1}
	sig := make([]byte, 65)
	copy(sig[:32], s.Signature[1:33])
	copy(sig[32:64], s.Signature[33:65])
	sig[64] = v - 27
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return fmt.Errorf("zeroex: recover: %w", err)
	}
	if !bytes.Equal(crypto.PubkeyToAddress(*pub).Bytes(), s.MakerAddress.Bytes()) {
		return ErrWrongSigner
	}
	return nil
}
