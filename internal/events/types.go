package events

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Kind names a decoded log event.
type Kind string

const (
	KindRequestOfframp     Kind = "RequestOfframp"
	KindFillOfframp        Kind = "FillOfframp"
	KindNewTaskCreated     Kind = "NewTaskCreated"
	KindTaskResponded      Kind = "TaskResponded"
	KindMint               Kind = "Mint"
	KindWithdraw           Kind = "Withdraw"
	KindOnRampRequested    Kind = "OnRampRequested"
	KindOnRampAccepted     Kind = "OnRampAccepted"
	KindReceiptIdSubmitted Kind = "ReceiptIdSubmitted"
	KindOnRampCompleted    Kind = "OnRampCompleted"
	KindStakeSettled       Kind = "StakeSettled"
	KindTransfer           Kind = "Transfer"
)

// Event is one decoded log plus its chain coordinates. BlockNumber and
// LogIndex define apply order; TxHash+LogIndex is the redelivery identity.
type Event struct {
	Kind           Kind
	BlockNumber    uint64
	BlockTimestamp uint64
	TxHash         common.Hash
	LogIndex       uint
	Payload        interface{}
}

// Key is the deterministic redelivery identity for this event.
func (e *Event) Key() string {
	return fmt.Sprintf("%s-%d", e.TxHash.Hex(), e.LogIndex)
}

type RequestOfframp struct {
	RequestOfframpID common.Hash
	User             common.Address
	Amount           *big.Int
	AmountRealWorld  *big.Int
	ChannelAccount   common.Hash
	ChannelID        common.Hash
}

type FillOfframp struct {
	RequestOfframpID common.Hash
	Receiver         common.Address
	Proof            []byte
	ReclaimProof     []byte
}

type NewTaskCreated struct {
	TaskIndex        uint32
	ChannelID        common.Hash
	TransactionID    common.Hash
	RequestOfframpID common.Hash
	Receiver         common.Address
	TaskCreatedBlock uint32
}

type TaskResponded struct {
	TaskIndex uint32
	Operator  common.Address
}

type Mint struct {
	User   common.Address
	Amount *big.Int
}

type Withdraw struct {
	User   common.Address
	Amount *big.Int
}

type OnRampRequested struct {
	OnRampID common.Hash
	Buyer    common.Address
	Amount   *big.Int
}

type OnRampAccepted struct {
	OnRampID  common.Hash
	Seller    common.Address
	ChannelID common.Hash
}

type ReceiptIdSubmitted struct {
	OnRampID  common.Hash
	ReceiptID common.Hash
}

type OnRampCompleted struct {
	OnRampID common.Hash
	Buyer    common.Address
	Amount   *big.Int
}

type StakeSettled struct {
	User     common.Address
	Amount   *big.Int
	Provider common.Address
}

type Transfer struct {
	From  common.Address
	To    common.Address
	Value *big.Int
}
