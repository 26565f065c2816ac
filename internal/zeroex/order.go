package zeroex

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Order is a 0x protocol v3 order. Field set and JSON shape follow the
// exchange contract's LibOrder struct so hashes match on-chain hashing.
type Order struct {
	ChainID               int64
	ExchangeAddress       common.Address
	MakerAddress          common.Address
	MakerAssetData        []byte
	MakerFeeAssetData     []byte
	MakerAssetAmount      *big.Int
	MakerFee              *big.Int
	TakerAddress          common.Address
	TakerAssetData        []byte
	TakerFeeAssetData     []byte
	TakerAssetAmount      *big.Int
	TakerFee              *big.Int
	SenderAddress         common.Address
	FeeRecipientAddress   common.Address
	ExpirationTimeSeconds *big.Int
	Salt                  *big.Int
}

// SignedOrder is an Order plus its maker signature.
type SignedOrder struct {
	Order
	Signature []byte

	h *common.Hash // cached order hash
}

var (
	ErrNilAmount      = errors.New("zeroex: nil amount field")
	ErrNegativeAmount = errors.New("zeroex: negative amount field")
	ErrNoSignature    = errors.New("zeroex: empty signature")
	ErrNoExpiration   = errors.New("zeroex: missing expirationTimeSeconds")
)

// Validate performs shape checks only: required numerics present and
// non-negative, signature non-empty. Semantic checks (expiry, filter match,
// signature recovery) are the oracle's job.
func (s *SignedOrder) Validate() error {
	for _, v := range []*big.Int{s.MakerAssetAmount, s.TakerAssetAmount, s.MakerFee, s.TakerFee, s.Salt} {
		if v == nil {
			return ErrNilAmount
		}
		if v.Sign() < 0 {
			return ErrNegativeAmount
		}
	}
	if s.ExpirationTimeSeconds == nil || s.ExpirationTimeSeconds.Sign() <= 0 {
		return ErrNoExpiration
	}
	if len(s.Signature) == 0 {
		return ErrNoSignature
	}
	return nil
}

// ExpirationTime returns the declared expiration truncated to seconds.
func (s *SignedOrder) ExpirationTime() time.Time {
	if s.ExpirationTimeSeconds == nil {
		return time.Time{}
	}
	return time.Unix(s.ExpirationTimeSeconds.Int64(), 0).UTC()
}

// ExpiredAt reports whether the order's declared expiration is at or before t.
func (s *SignedOrder) ExpiredAt(t time.Time) bool {
	exp := s.ExpirationTime()
	return !exp.IsZero() && !exp.After(t.Truncate(time.Second))
}
