package events

import (
	"fmt"
	"math/big"
	"strings"

	"ramprails/internal/contracts"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Decoder turns raw logs into Events using the service manager ABI.
type Decoder struct {
	abi    abi.ABI
	byName map[common.Hash]string
}

// ErrUnknownEvent is returned for logs whose topic is not part of the ABI.
var ErrUnknownEvent = fmt.Errorf("unknown event topic")

func NewDecoder() (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(contracts.RampServiceManagerABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	byName := make(map[common.Hash]string, len(parsed.Events))
	for name, ev := range parsed.Events {
		byName[ev.ID] = name
	}

	return &Decoder{abi: parsed, byName: byName}, nil
}

// DecodeLog decodes one log. blockTimestamp comes from the block header the
// caller already resolved; logs themselves do not carry timestamps.
func (d *Decoder) DecodeLog(lg types.Log, blockTimestamp uint64) (*Event, error) {
	if len(lg.Topics) == 0 {
		return nil, ErrUnknownEvent
	}
	name, ok := d.byName[lg.Topics[0]]
	if !ok {
		return nil, ErrUnknownEvent
	}

	values := map[string]interface{}{}
	if err := d.abi.UnpackIntoMap(values, name, lg.Data); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", name, err)
	}

	payload, err := buildPayload(Kind(name), values)
	if err != nil {
		return nil, err
	}

	return &Event{
		Kind:           Kind(name),
		BlockNumber:    lg.BlockNumber,
		BlockTimestamp: blockTimestamp,
		TxHash:         lg.TxHash,
		LogIndex:       lg.Index,
		Payload:        payload,
	}, nil
}

func buildPayload(kind Kind, v map[string]interface{}) (interface{}, error) {
	switch kind {
	case KindRequestOfframp:
		return RequestOfframp{
			RequestOfframpID: hashField(v, "requestOfframpId"),
			User:             addrField(v, "user"),
			Amount:           bigField(v, "amount"),
			AmountRealWorld:  bigField(v, "amountRealWorld"),
			ChannelAccount:   hashField(v, "channelAccount"),
			ChannelID:        hashField(v, "channelId"),
		}, nil
	case KindFillOfframp:
		return FillOfframp{
			RequestOfframpID: hashField(v, "requestOfframpId"),
			Receiver:         addrField(v, "receiver"),
			Proof:            bytesField(v, "proof"),
			ReclaimProof:     bytesField(v, "reclaimProof"),
		}, nil
	case KindNewTaskCreated:
		return NewTaskCreated{
			TaskIndex:        uint32Field(v, "taskIndex"),
			ChannelID:        hashField(v, "channelId"),
			TransactionID:    hashField(v, "transactionId"),
			RequestOfframpID: hashField(v, "requestOfframpId"),
			Receiver:         addrField(v, "receiver"),
			TaskCreatedBlock: uint32Field(v, "taskCreatedBlock"),
		}, nil
	case KindTaskResponded:
		return TaskResponded{
			TaskIndex: uint32Field(v, "taskIndex"),
			Operator:  addrField(v, "operator"),
		}, nil
	case KindMint:
		return Mint{User: addrField(v, "user"), Amount: bigField(v, "amount")}, nil
	case KindWithdraw:
		return Withdraw{User: addrField(v, "user"), Amount: bigField(v, "amount")}, nil
	case KindOnRampRequested:
		return OnRampRequested{
			OnRampID: hashField(v, "onRampId"),
			Buyer:    addrField(v, "buyer"),
			Amount:   bigField(v, "amount"),
		}, nil
	case KindOnRampAccepted:
		return OnRampAccepted{
			OnRampID:  hashField(v, "onRampId"),
			Seller:    addrField(v, "seller"),
			ChannelID: hashField(v, "channelId"),
		}, nil
	case KindReceiptIdSubmitted:
		return ReceiptIdSubmitted{
			OnRampID:  hashField(v, "onRampId"),
			ReceiptID: hashField(v, "receiptId"),
		}, nil
	case KindOnRampCompleted:
		return OnRampCompleted{
			OnRampID: hashField(v, "onRampId"),
			Buyer:    addrField(v, "buyer"),
			Amount:   bigField(v, "amount"),
		}, nil
	case KindStakeSettled:
		return StakeSettled{
			User:     addrField(v, "user"),
			Amount:   bigField(v, "amount"),
			Provider: addrField(v, "provider"),
		}, nil
	case KindTransfer:
		return Transfer{
			From:  addrField(v, "from"),
			To:    addrField(v, "to"),
			Value: bigField(v, "value"),
		}, nil
	}
	return nil, fmt.Errorf("no payload mapping for %s", kind)
}

func hashField(v map[string]interface{}, name string) common.Hash {
	if b, ok := v[name].([32]byte); ok {
		return common.Hash(b)
	}
	return common.Hash{}
}

func addrField(v map[string]interface{}, name string) common.Address {
	if a, ok := v[name].(common.Address); ok {
		return a
	}
	return common.Address{}
}

func bigField(v map[string]interface{}, name string) *big.Int {
	if b, ok := v[name].(*big.Int); ok {
		return b
	}
	return new(big.Int)
}

func bytesField(v map[string]interface{}, name string) []byte {
	if b, ok := v[name].([]byte); ok {
		return b
	}
	return nil
}

func uint32Field(v map[string]interface{}, name string) uint32 {
	if u, ok := v[name].(uint32); ok {
		return u
	}
	return 0
}
