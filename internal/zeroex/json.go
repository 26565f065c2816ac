package zeroex

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Wire JSON uses camelCase keys, decimal strings for uint256 fields and
// 0x-hex strings for addresses and byte blobs; chainId alone rides as a
// number. This is the schema peers gossip and the sync protocol pages.

type orderJSON struct {
	ChainID               int64  `json:"chainId"`
	ExchangeAddress       string `json:"exchangeAddress"`
	MakerAddress          string `json:"makerAddress"`
	MakerAssetData        string `json:"makerAssetData"`
	MakerFeeAssetData     string `json:"makerFeeAssetData"`
	MakerAssetAmount      string `json:"makerAssetAmount"`
	MakerFee              string `json:"makerFee"`
	TakerAddress          string `json:"takerAddress"`
	TakerAssetData        string `json:"takerAssetData"`
	TakerFeeAssetData     string `json:"takerFeeAssetData"`
	TakerAssetAmount      string `json:"takerAssetAmount"`
	TakerFee              string `json:"takerFee"`
	SenderAddress         string `json:"senderAddress"`
	FeeRecipientAddress   string `json:"feeRecipientAddress"`
	ExpirationTimeSeconds string `json:"expirationTimeSeconds"`
	Salt                  string `json:"salt"`
	Signature             string `json:"signature"`
}

func (s *SignedOrder) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderJSON{
		ChainID:               s.ChainID,
		ExchangeAddress:       s.ExchangeAddress.Hex(),
		MakerAddress:          s.MakerAddress.Hex(),
		MakerAssetData:        hexutil.Encode(s.MakerAssetData),
		MakerFeeAssetData:     hexutil.Encode(s.MakerFeeAssetData),
		MakerAssetAmount:      bigStr(s.MakerAssetAmount),
		MakerFee:              bigStr(s.MakerFee),
		TakerAddress:          s.TakerAddress.Hex(),
		TakerAssetData:        hexutil.Encode(s.TakerAssetData),
		TakerFeeAssetData:     hexutil.Encode(s.TakerFeeAssetData),
		TakerAssetAmount:      bigStr(s.TakerAssetAmount),
		TakerFee:              bigStr(s.TakerFee),
		SenderAddress:         s.SenderAddress.Hex(),
		FeeRecipientAddress:   s.FeeRecipientAddress.Hex(),
		ExpirationTimeSeconds: bigStr(s.ExpirationTimeSeconds),
		Salt:                  bigStr(s.Salt),
		Signature:             hexutil.Encode(s.Signature),
	})
}

func (s *SignedOrder) UnmarshalJSON(data []byte) error {
	var w orderJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var err error
	s.ChainID = w.ChainID
	if s.ExchangeAddress, err = parseAddress("exchangeAddress", w.ExchangeAddress); err != nil {
		return err
	}
	if s.MakerAddress, err = parseAddress("makerAddress", w.MakerAddress); err != nil {
		return err
	}
	if s.TakerAddress, err = parseAddress("takerAddress", w.TakerAddress); err != nil {
		return err
	}
	if s.SenderAddress, err = parseAddress("senderAddress", w.SenderAddress); err != nil {
		return err
	}
	if s.FeeRecipientAddress, err = parseAddress("feeRecipientAddress", w.FeeRecipientAddress); err != nil {
		return err
	}
	if s.MakerAssetData, err = parseBytes("makerAssetData", w.MakerAssetData); err != nil {
		return err
	}
	if s.MakerFeeAssetData, err = parseBytes("makerFeeAssetData", w.MakerFeeAssetData); err != nil {
		return err
	}
	if s.TakerAssetData, err = parseBytes("takerAssetData", w.TakerAssetData); err != nil {
		return err
	}
	if s.TakerFeeAssetData, err = parseBytes("takerFeeAssetData", w.TakerFeeAssetData); err != nil {
		return err
	}
	if s.Signature, err = parseBytes("signature", w.Signature); err != nil {
		return err
	}
	if s.MakerAssetAmount, err = parseBig("makerAssetAmount", w.MakerAssetAmount); err != nil {
		return err
	}
	if s.MakerFee, err = parseBig("makerFee", w.MakerFee); err != nil {
		return err
	}
	if s.TakerAssetAmount, err = parseBig("takerAssetAmount", w.TakerAssetAmount); err != nil {
		return err
	}
	if s.TakerFee, err = parseBig("takerFee", w.TakerFee); err != nil {
		return err
	}
	if s.ExpirationTimeSeconds, err = parseBig("expirationTimeSeconds", w.ExpirationTimeSeconds); err != nil {
		return err
	}
	if s.Salt, err = parseBig("salt", w.Salt); err != nil {
		return err
	}
	s.h = nil
	return nil
}

func bigStr(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(field, v string) (*big.Int, error) {
	if v == "" {
		return big.NewInt(0), nil
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, fmt.Errorf("zeroex: field %s: bad decimal %q", field, v)
	}
	return n, nil
}

func parseAddress(field, v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("zeroex: field %s: bad address %q", field, v)
	}
	return common.HexToAddress(v), nil
}

func parseBytes(field, v string) ([]byte, error) {
	if v == "" || v == "0x" {
		return []byte{}, nil
	}
	b, err := hexutil.Decode(v)
	if err != nil {
		return nil, fmt.Errorf("zeroex: field %s: %w", field, err)
	}
	return b, nil
}
