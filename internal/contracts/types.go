package contracts

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OfframpRequestParams matches the requestOfframp params tuple. Field names
// line up with the ABI components so abi packing resolves them.
type OfframpRequestParams struct {
	User            common.Address
	Amount          *big.Int
	AmountRealWorld *big.Int
	ChannelAccount  [32]byte
	ChannelId       [32]byte
}
