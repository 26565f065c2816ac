package zeroex

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EIP-712 hashing for v3 orders. The domain is fixed by the protocol
// ("0x Protocol", "3.0.0") and parameterized by chain id and exchange
// address, so equal orders hash equally on every node.

var (
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	eip712OrderTypeHash = crypto.Keccak256Hash([]byte(
		"Order(address makerAddress,address takerAddress,address feeRecipientAddress,address senderAddress,uint256 makerAssetAmount,uint256 takerAssetAmount,uint256 makerFee,uint256 takerFee,uint256 expirationTimeSeconds,uint256 salt,bytes makerAssetData,bytes takerAssetData,bytes makerFeeAssetData,bytes takerFeeAssetData)"))
	eip712DomainNameHash    = crypto.Keccak256Hash([]byte("0x Protocol"))
	eip712DomainVersionHash = crypto.Keccak256Hash([]byte("3.0.0"))
)

// Hash returns the EIP-712 order hash, computing and caching it on first use.
// The hash is computed over decoded canonical fields, never over transport
// bytes, so re-serialized copies of one order always collapse to one hash.
func (s *SignedOrder) Hash() (common.Hash, error) {
	if s.h != nil {
		return *s.h, nil
	}
	if err := s.Validate(); err != nil {
		return common.Hash{}, err
	}
	h := hashOrder(&s.Order)
	s.h = &h
	return h, nil
}

// ResetHash drops the cached hash; callers that mutate an order in place
// (tests, builders) must call it before re-hashing.
func (s *SignedOrder) ResetHash() { s.h = nil }

func hashOrder(o *Order) common.Hash {
	ds := domainSeparator(o.ChainID, o.ExchangeAddress)
	sh := structHash(o)
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, ds[:], sh[:])
}

func domainSeparator(chainID int64, exchange common.Address) common.Hash {
	return crypto.Keccak256Hash(
		eip712DomainTypeHash[:],
		eip712DomainNameHash[:],
		eip712DomainVersionHash[:],
		padUint(big.NewInt(chainID)),
		padAddress(exchange),
	)
}

func structHash(o *Order) common.Hash {
	return crypto.Keccak256Hash(
		eip712OrderTypeHash[:],
		padAddress(o.MakerAddress),
		padAddress(o.TakerAddress),
		padAddress(o.FeeRecipientAddress),
		padAddress(o.SenderAddress),
		padUint(o.MakerAssetAmount),
		padUint(o.TakerAssetAmount),
		padUint(o.MakerFee),
		padUint(o.TakerFee),
		padUint(o.ExpirationTimeSeconds),
		padUint(o.Salt),
		crypto.Keccak256(o.MakerAssetData),
		crypto.Keccak256(o.TakerAssetData),
		crypto.Keccak256(o.MakerFeeAssetData),
		crypto.Keccak256(o.TakerFeeAssetData),
	)
}

func padUint(v *big.Int) []byte {
	if v == nil {
		v = big.NewInt(0)
	}
	return common.LeftPadBytes(v.Bytes(), 32)
}

func padAddress(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}
