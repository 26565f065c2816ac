package zeroex

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// OrderFilter scopes a node to one chain and exchange deployment. The
// custom schema rides along for wire compatibility with peers that filter
// on order shape; it is not evaluated locally.
type OrderFilter struct {
	ChainID           int64  `json:"chainID"`
	ExchangeAddress   string `json:"exchangeAddress"`
	CustomOrderSchema string `json:"customOrderSchema"`
}

const DefaultOrderSchema = "{}"

// MainnetV3 is the filter for the v3 exchange deployment on mainnet.
func MainnetV3() OrderFilter {
	return OrderFilter{
		ChainID:           1,
		ExchangeAddress:   "0x61935cbdd02287b511119ddb11aeb42f1593b7ef",
		CustomOrderSchema: DefaultOrderSchema,
	}
}

var (
	ErrWrongChain    = errors.New("zeroex: order for different chain")
	ErrWrongExchange = errors.New("zeroex: order for different exchange")
)

// Match reports whether the order belongs to this filter's chain and
// exchange.
func (f OrderFilter) Match(o *SignedOrder) error {
	if o.ChainID != f.ChainID {
		return ErrWrongChain
	}
	if f.ExchangeAddress != "" && o.ExchangeAddress != common.HexToAddress(f.ExchangeAddress) {
		return ErrWrongExchange
	}
	return nil
}

// Topic derives the gossip topic for this filter. The schema segment is the
// base64 of the custom order schema, "e30=" for the default empty schema.
func (f OrderFilter) Topic() string {
	schema := f.CustomOrderSchema
	if schema == "" {
		schema = DefaultOrderSchema
	}
	enc := base64.StdEncoding.EncodeToString([]byte(schema))
	return fmt.Sprintf("/0x-orders/version/3/chain/%d/schema/%s", f.ChainID, enc)
}
