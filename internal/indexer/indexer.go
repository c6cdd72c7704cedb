package indexer

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"ramprails/internal/events"
	"ramprails/internal/store"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
)

// Metrics is the slice of the metrics registry the indexer reports to.
type Metrics interface {
	EventApplied(kind, outcome string)
	SetPendingDepth(depth int)
}

// Indexer derives entity state from the event stream. It is single-threaded
// per stream: Apply must be called in (blockNumber, logIndex) order by one
// goroutine. Redelivery of an already-applied (txHash, logIndex) is a no-op.
type Indexer struct {
	store   store.Store
	log     *logrus.Entry
	metrics Metrics

	// Events that arrived before the entity they depend on, keyed by the
	// entity id they are waiting for.
	pendingFills     map[string][]*events.Event
	pendingResponses map[string][]*events.Event
}

func New(st store.Store, log *logrus.Logger, metrics Metrics) *Indexer {
	return &Indexer{
		store:            st,
		log:              log.WithField("component", "indexer"),
		metrics:          metrics,
		pendingFills:     make(map[string][]*events.Event),
		pendingResponses: make(map[string][]*events.Event),
	}
}

// Run applies events from the stream until the context ends. Apply errors
// are logged, never fatal; a broken event must not take the indexer down.
func (ix *Indexer) Run(ctx context.Context, stream <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream:
			if !ok {
				return
			}
			if err := ix.Apply(ctx, &ev); err != nil {
				ix.log.WithError(err).WithFields(logrus.Fields{
					"kind": ev.Kind,
					"tx":   ev.TxHash.Hex(),
				}).Warn("event not applied")
			}
		}
	}
}

// Apply applies one event. Idempotent on (txHash, logIndex).
func (ix *Indexer) Apply(ctx context.Context, ev *events.Event) error {
	key := ev.Key()
	seen, err := ix.store.HasEvent(ctx, key)
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if seen {
		ix.log.WithFields(logrus.Fields{"kind": ev.Kind, "key": key}).Debug("redelivered event, skipping")
		ix.observe(ev.Kind, "redelivered")
		return nil
	}

	if err := ix.dispatch(ctx, ev); err != nil {
		ix.observe(ev.Kind, outcomeFor(err))
		return err
	}

	if err := ix.store.MarkEvent(ctx, key); err != nil {
		return fmt.Errorf("mark event: %w", err)
	}
	ix.observe(ev.Kind, "applied")
	return nil
}

func (ix *Indexer) dispatch(ctx context.Context, ev *events.Event) error {
	switch p := ev.Payload.(type) {
	case events.RequestOfframp:
		return ix.applyRequestOfframp(ctx, ev, p)
	case events.FillOfframp:
		return ix.applyFillOfframp(ctx, ev, p)
	case events.NewTaskCreated:
		return ix.applyNewTaskCreated(ctx, ev, p)
	case events.TaskResponded:
		return ix.applyTaskResponded(ctx, ev, p)
	case events.OnRampRequested:
		return ix.applyOnRampRequested(ctx, p)
	case events.OnRampAccepted:
		return ix.applyOnRampAccepted(ctx, p)
	case events.ReceiptIdSubmitted:
		return ix.applyReceiptIdSubmitted(ctx, p)
	case events.OnRampCompleted:
		return ix.applyOnRampCompleted(ctx, ev, p)
	case events.Mint:
		return ix.store.InsertLedger(ctx, store.LedgerMint, &store.LedgerEntry{
			ID:              ev.Key(),
			User:            p.User.Hex(),
			Amount:          p.Amount.String(),
			BlockNumber:     ev.BlockNumber,
			BlockTimestamp:  ev.BlockTimestamp,
			TransactionHash: ev.TxHash.Hex(),
		})
	case events.Withdraw:
		return ix.store.InsertLedger(ctx, store.LedgerWithdraw, &store.LedgerEntry{
			ID:              ev.Key(),
			User:            p.User.Hex(),
			Amount:          p.Amount.String(),
			BlockNumber:     ev.BlockNumber,
			BlockTimestamp:  ev.BlockTimestamp,
			TransactionHash: ev.TxHash.Hex(),
		})
	case events.Transfer:
		return ix.store.InsertLedger(ctx, store.LedgerTransfer, &store.LedgerEntry{
			ID:              ev.Key(),
			From:            p.From.Hex(),
			To:              p.To.Hex(),
			Amount:          p.Value.String(),
			BlockNumber:     ev.BlockNumber,
			BlockTimestamp:  ev.BlockTimestamp,
			TransactionHash: ev.TxHash.Hex(),
		})
	case events.StakeSettled:
		return ix.store.InsertLedger(ctx, store.LedgerStake, &store.LedgerEntry{
			ID:              ev.TxHash.Hex(),
			User:            p.User.Hex(),
			Provider:        p.Provider.Hex(),
			Amount:          p.Amount.String(),
			BlockNumber:     ev.BlockNumber,
			BlockTimestamp:  ev.BlockTimestamp,
			TransactionHash: ev.TxHash.Hex(),
		})
	}
	return fmt.Errorf("no handler for event kind %s", ev.Kind)
}

func (ix *Indexer) applyRequestOfframp(ctx context.Context, ev *events.Event, p events.RequestOfframp) error {
	id := p.RequestOfframpID.Hex()
	existing, err := ix.store.GetOffRamp(ctx, id)
	if err != nil {
		return err
	}
	if existing != nil {
		ix.log.WithField("id", id).Warn("offramp request already exists, ignoring redelivery")
		return fmt.Errorf("offramp %s: %w", id, ErrDuplicateEntity)
	}

	err = ix.store.PutOffRamp(ctx, &store.OffRampRequest{
		ID:                       id,
		User:                     p.User.Hex(),
		RequestedAmount:          p.Amount.String(),
		RequestedAmountRealWorld: p.AmountRealWorld.String(),
		ChannelAccount:           p.ChannelAccount.Hex(),
		ChannelID:                p.ChannelID.Hex(),
		BlockNumber:              ev.BlockNumber,
		BlockTimestamp:           ev.BlockTimestamp,
		TransactionHash:          ev.TxHash.Hex(),
		Status:                   store.OffRampPending,
	})
	if err != nil {
		return err
	}

	return ix.drainPendingFills(ctx, id)
}

func (ix *Indexer) applyFillOfframp(ctx context.Context, ev *events.Event, p events.FillOfframp) error {
	id := p.RequestOfframpID.Hex()
	entity, err := ix.store.GetOffRamp(ctx, id)
	if err != nil {
		return err
	}
	if entity == nil {
		ix.bufferFill(id, ev)
		return fmt.Errorf("offramp %s not indexed yet: %w", id, ErrMissingEntity)
	}
	if entity.Status == store.OffRampCompleted {
		ix.log.WithField("id", id).Debug("fill reapplied on completed offramp, no-op")
		return nil
	}

	entity.Receiver = p.Receiver.Hex()
	entity.Proof = hexutil.Encode(p.Proof)
	entity.ReclaimProof = hexutil.Encode(p.ReclaimProof)
	entity.FillBlockNumber = ev.BlockNumber
	entity.FillBlockTimestamp = ev.BlockTimestamp
	entity.FillTransactionHash = ev.TxHash.Hex()
	entity.Status = store.OffRampCompleted
	return ix.store.PutOffRamp(ctx, entity)
}

func (ix *Indexer) applyNewTaskCreated(ctx context.Context, ev *events.Event, p events.NewTaskCreated) error {
	id := strconv.FormatUint(uint64(p.TaskIndex), 10)
	existing, err := ix.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if existing != nil {
		ix.log.WithField("taskIndex", p.TaskIndex).Warn("task already exists, ignoring redelivery")
		return fmt.Errorf("task %s: %w", id, ErrDuplicateEntity)
	}

	err = ix.store.PutTask(ctx, &store.Task{
		ID:               id,
		TaskIndex:        p.TaskIndex,
		ChannelID:        p.ChannelID.Hex(),
		TransactionID:    p.TransactionID.Hex(),
		RequestOfframpID: p.RequestOfframpID.Hex(),
		Receiver:         p.Receiver.Hex(),
		TaskCreatedBlock: p.TaskCreatedBlock,
		Status:           store.TaskPending,
		CreatedAt:        ev.BlockTimestamp,
		TransactionHash:  ev.TxHash.Hex(),
	})
	if err != nil {
		return err
	}

	return ix.drainPendingResponses(ctx, id)
}

func (ix *Indexer) applyTaskResponded(ctx context.Context, ev *events.Event, p events.TaskResponded) error {
	id := strconv.FormatUint(uint64(p.TaskIndex), 10)
	task, err := ix.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		ix.bufferResponse(id, ev)
		return fmt.Errorf("task %s not indexed yet: %w", id, ErrMissingEntity)
	}

	if task.Status != store.TaskPending {
		// Anything but PENDING->COMPLETED is a protocol anomaly; applying
		// it would double-count the operator.
		ix.log.WithFields(logrus.Fields{
			"taskIndex": p.TaskIndex,
			"status":    task.Status,
		}).Warn("unexpected task response, task not pending")
		return nil
	}

	operatorID := p.Operator.Hex()

	// Complete the task before touching the counter. If the second write is
	// lost, a replay sees a non-PENDING task and skips the increment; the
	// reverse order would count the same response twice.
	task.Status = store.TaskCompleted
	task.RespondedAt = ev.BlockTimestamp
	task.Operator = operatorID
	if err := ix.store.PutTask(ctx, task); err != nil {
		return err
	}

	op, err := ix.store.GetOperator(ctx, operatorID)
	if err != nil {
		return err
	}
	if op == nil {
		op = &store.Operator{Address: operatorID}
	}
	op.TotalTasksCompleted++
	op.LastActiveTimestamp = ev.BlockTimestamp
	return ix.store.PutOperator(ctx, op)
}

func (ix *Indexer) applyOnRampRequested(ctx context.Context, p events.OnRampRequested) error {
	entity, err := ix.getOrNewOnRamp(ctx, p.OnRampID.Hex())
	if err != nil {
		return err
	}
	entity.Buyer = p.Buyer.Hex()
	entity.Amount = p.Amount.String()
	entity.LegacyStatus = "Requested"
	return ix.store.PutOnRamp(ctx, entity)
}

func (ix *Indexer) applyOnRampAccepted(ctx context.Context, p events.OnRampAccepted) error {
	entity, err := ix.getOrNewOnRamp(ctx, p.OnRampID.Hex())
	if err != nil {
		return err
	}
	entity.Seller = p.Seller.Hex()
	entity.ChannelID = p.ChannelID.Hex()
	entity.LegacyStatus = "Accepted"
	return ix.store.PutOnRamp(ctx, entity)
}

func (ix *Indexer) applyReceiptIdSubmitted(ctx context.Context, p events.ReceiptIdSubmitted) error {
	entity, err := ix.getOrNewOnRamp(ctx, p.OnRampID.Hex())
	if err != nil {
		return err
	}
	entity.ReceiptID = p.ReceiptID.Hex()
	entity.LegacyStatus = "Receipt Submitted"
	return ix.store.PutOnRamp(ctx, entity)
}

func (ix *Indexer) applyOnRampCompleted(ctx context.Context, ev *events.Event, p events.OnRampCompleted) error {
	entity, err := ix.getOrNewOnRamp(ctx, p.OnRampID.Hex())
	if err != nil {
		return err
	}
	entity.Buyer = p.Buyer.Hex()
	entity.Amount = p.Amount.String()
	entity.CompletedTxHash = ev.TxHash.Hex()
	entity.LegacyStatus = "Completed"
	return ix.store.PutOnRamp(ctx, entity)
}

func (ix *Indexer) getOrNewOnRamp(ctx context.Context, id string) (*store.OnRampRequest, error) {
	entity, err := ix.store.GetOnRamp(ctx, id)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		entity = &store.OnRampRequest{ID: id}
	}
	return entity, nil
}

func (ix *Indexer) bufferFill(id string, ev *events.Event) {
	ix.pendingFills[id] = append(ix.pendingFills[id], ev)
	ix.reportPendingDepth()
}

func (ix *Indexer) bufferResponse(id string, ev *events.Event) {
	ix.pendingResponses[id] = append(ix.pendingResponses[id], ev)
	ix.reportPendingDepth()
}

func (ix *Indexer) drainPendingFills(ctx context.Context, id string) error {
	buffered := ix.pendingFills[id]
	if len(buffered) == 0 {
		return nil
	}
	delete(ix.pendingFills, id)
	ix.reportPendingDepth()

	for _, ev := range buffered {
		ix.log.WithFields(logrus.Fields{"id": id, "key": ev.Key()}).Info("replaying buffered fill")
		if err := ix.Apply(ctx, ev); err != nil {
			return fmt.Errorf("replay buffered fill: %w", err)
		}
	}
	return nil
}

func (ix *Indexer) drainPendingResponses(ctx context.Context, id string) error {
	buffered := ix.pendingResponses[id]
	if len(buffered) == 0 {
		return nil
	}
	delete(ix.pendingResponses, id)
	ix.reportPendingDepth()

	for _, ev := range buffered {
		ix.log.WithFields(logrus.Fields{"task": id, "key": ev.Key()}).Info("replaying buffered task response")
		if err := ix.Apply(ctx, ev); err != nil {
			return fmt.Errorf("replay buffered task response: %w", err)
		}
	}
	return nil
}

func (ix *Indexer) reportPendingDepth() {
	if ix.metrics == nil {
		return
	}
	depth := 0
	for _, evs := range ix.pendingFills {
		depth += len(evs)
	}
	for _, evs := range ix.pendingResponses {
		depth += len(evs)
	}
	ix.metrics.SetPendingDepth(depth)
}

func (ix *Indexer) observe(kind events.Kind, outcome string) {
	if ix.metrics != nil {
		ix.metrics.EventApplied(string(kind), outcome)
	}
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateEntity):
		return "duplicate"
	case errors.Is(err, ErrMissingEntity):
		return "buffered"
	default:
		return "failed"
	}
}
