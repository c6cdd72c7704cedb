package indexer

import (
	"context"
	"errors"
	"io"
	"math/big"
	"testing"

	"ramprails/internal/events"
	"ramprails/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

func newTestIndexer() (*Indexer, *store.MemoryStore) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	st := store.NewMemoryStore()
	return New(st, log, nil), st
}

func requestEvent(id string, block uint64, logIndex uint) *events.Event {
	return &events.Event{
		Kind:           events.KindRequestOfframp,
		BlockNumber:    block,
		BlockTimestamp: block * 12,
		TxHash:         common.HexToHash("0x" + id + "01"),
		LogIndex:       logIndex,
		Payload: events.RequestOfframp{
			RequestOfframpID: common.HexToHash("0x" + id),
			User:             common.HexToAddress("0xaaa1"),
			Amount:           big.NewInt(1000),
			AmountRealWorld:  big.NewInt(10),
			ChannelAccount:   common.HexToHash("0xca"),
			ChannelID:        common.HexToHash("0xc1"),
		},
	}
}

func fillEvent(id string, block uint64, logIndex uint) *events.Event {
	return &events.Event{
		Kind:           events.KindFillOfframp,
		BlockNumber:    block,
		BlockTimestamp: block * 12,
		TxHash:         common.HexToHash("0x" + id + "02"),
		LogIndex:       logIndex,
		Payload: events.FillOfframp{
			RequestOfframpID: common.HexToHash("0x" + id),
			Receiver:         common.HexToAddress("0xbbb2"),
			Proof:            []byte{0x01, 0x02},
			ReclaimProof:     []byte{0x03},
		},
	}
}

func taskEvent(index uint32, block uint64, logIndex uint) *events.Event {
	return &events.Event{
		Kind:           events.KindNewTaskCreated,
		BlockNumber:    block,
		BlockTimestamp: block * 12,
		TxHash:         common.HexToHash("0x1111"),
		LogIndex:       logIndex,
		Payload: events.NewTaskCreated{
			TaskIndex:        index,
			ChannelID:        common.HexToHash("0xc1"),
			TransactionID:    common.HexToHash("0xd1"),
			RequestOfframpID: common.HexToHash("0xab"),
			Receiver:         common.HexToAddress("0xbbb2"),
			TaskCreatedBlock: uint32(block),
		},
	}
}

func respondEvent(index uint32, operator string, block uint64, logIndex uint) *events.Event {
	return &events.Event{
		Kind:           events.KindTaskResponded,
		BlockNumber:    block,
		BlockTimestamp: block * 12,
		TxHash:         common.HexToHash("0x2222"),
		LogIndex:       logIndex,
		Payload: events.TaskResponded{
			TaskIndex: index,
			Operator:  common.HexToAddress(operator),
		},
	}
}

func TestOffRampLifecycleInOrder(t *testing.T) {
	ix, st := newTestIndexer()
	ctx := context.Background()

	if err := ix.Apply(ctx, requestEvent("ab", 10, 0)); err != nil {
		t.Fatalf("apply request: %v", err)
	}

	req, err := st.GetOffRamp(ctx, common.HexToHash("0xab").Hex())
	if err != nil || req == nil {
		t.Fatalf("expected stored request, got %v err %v", req, err)
	}
	if req.Status != store.OffRampPending {
		t.Fatalf("expected PENDING got %s", req.Status)
	}
	if req.RequestedAmount != "1000" || req.RequestedAmountRealWorld != "10" {
		t.Fatalf("unexpected amounts %s / %s", req.RequestedAmount, req.RequestedAmountRealWorld)
	}

	if err := ix.Apply(ctx, fillEvent("ab", 12, 1)); err != nil {
		t.Fatalf("apply fill: %v", err)
	}

	req, _ = st.GetOffRamp(ctx, common.HexToHash("0xab").Hex())
	if req.Status != store.OffRampCompleted {
		t.Fatalf("expected COMPLETED got %s", req.Status)
	}
	if req.Receiver != common.HexToAddress("0xbbb2").Hex() {
		t.Fatalf("receiver not recorded: %s", req.Receiver)
	}
	if req.Proof != "0x0102" || req.ReclaimProof != "0x03" {
		t.Fatalf("proofs not recorded: %s / %s", req.Proof, req.ReclaimProof)
	}
	if req.FillBlockNumber != 12 {
		t.Fatalf("fill block not recorded: %d", req.FillBlockNumber)
	}
}

func TestFillBeforeRequestIsBufferedAndReplayed(t *testing.T) {
	ix, st := newTestIndexer()
	ctx := context.Background()

	err := ix.Apply(ctx, fillEvent("cd", 12, 0))
	if !errors.Is(err, ErrMissingEntity) {
		t.Fatalf("expected ErrMissingEntity got %v", err)
	}

	// The fill waits for its request; nothing visible yet.
	if req, _ := st.GetOffRamp(ctx, common.HexToHash("0xcd").Hex()); req != nil {
		t.Fatalf("request should not exist yet")
	}

	if err := ix.Apply(ctx, requestEvent("cd", 10, 0)); err != nil {
		t.Fatalf("apply request: %v", err)
	}

	req, _ := st.GetOffRamp(ctx, common.HexToHash("0xcd").Hex())
	if req == nil || req.Status != store.OffRampCompleted {
		t.Fatalf("expected replayed fill to complete request, got %+v", req)
	}
}

func TestEventRedeliveryIsNoOp(t *testing.T) {
	ix, st := newTestIndexer()
	ctx := context.Background()

	ev := requestEvent("ef", 10, 0)
	if err := ix.Apply(ctx, ev); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := ix.Apply(ctx, ev); err != nil {
		t.Fatalf("redelivery should be a silent no-op, got %v", err)
	}

	list, _ := st.ListOffRamps(ctx, store.Filter{})
	if len(list) != 1 {
		t.Fatalf("expected 1 request got %d", len(list))
	}
}

func TestDuplicateRequestDifferentEventRejected(t *testing.T) {
	ix, st := newTestIndexer()
	ctx := context.Background()

	if err := ix.Apply(ctx, requestEvent("ab", 10, 0)); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	dup := requestEvent("ab", 11, 3)
	dup.TxHash = common.HexToHash("0x9999")
	err := ix.Apply(ctx, dup)
	if !errors.Is(err, ErrDuplicateEntity) {
		t.Fatalf("expected ErrDuplicateEntity got %v", err)
	}

	req, _ := st.GetOffRamp(ctx, common.HexToHash("0xab").Hex())
	if req.BlockNumber != 10 {
		t.Fatalf("original request must be preserved, got block %d", req.BlockNumber)
	}
}

func TestTaskResponseIncrementsOperatorOnce(t *testing.T) {
	ix, st := newTestIndexer()
	ctx := context.Background()

	if err := ix.Apply(ctx, taskEvent(7, 10, 0)); err != nil {
		t.Fatalf("apply task: %v", err)
	}
	resp := respondEvent(7, "0xfeed", 11, 0)
	if err := ix.Apply(ctx, resp); err != nil {
		t.Fatalf("apply response: %v", err)
	}

	op, _ := st.GetOperator(ctx, common.HexToAddress("0xfeed").Hex())
	if op == nil || op.TotalTasksCompleted != 1 {
		t.Fatalf("expected counter 1, got %+v", op)
	}

	// Redelivery of the same response must not double-count.
	if err := ix.Apply(ctx, resp); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	op, _ = st.GetOperator(ctx, common.HexToAddress("0xfeed").Hex())
	if op.TotalTasksCompleted != 1 {
		t.Fatalf("counter double-counted: %d", op.TotalTasksCompleted)
	}

	// A second response to an already-completed task is ignored too.
	late := respondEvent(7, "0xfeed", 12, 4)
	late.TxHash = common.HexToHash("0x3333")
	if err := ix.Apply(ctx, late); err != nil {
		t.Fatalf("late response: %v", err)
	}
	op, _ = st.GetOperator(ctx, common.HexToAddress("0xfeed").Hex())
	if op.TotalTasksCompleted != 1 {
		t.Fatalf("late response must not count: %d", op.TotalTasksCompleted)
	}

	task, _ := st.GetTask(ctx, "7")
	if task.Status != store.TaskCompleted {
		t.Fatalf("expected COMPLETED got %s", task.Status)
	}
}

func TestOperatorCounterMonotonicAcrossTasks(t *testing.T) {
	ix, st := newTestIndexer()
	ctx := context.Background()

	for i := uint32(0); i < 3; i++ {
		te := taskEvent(i, uint64(10+i), 0)
		te.TxHash = common.HexToHash("0x1111" + string(rune('a'+i)))
		if err := ix.Apply(ctx, te); err != nil {
			t.Fatalf("task %d: %v", i, err)
		}
		re := respondEvent(i, "0xfeed", uint64(11+i), 1)
		re.TxHash = common.HexToHash("0x2222" + string(rune('a'+i)))
		if err := ix.Apply(ctx, re); err != nil {
			t.Fatalf("response %d: %v", i, err)
		}
	}

	op, _ := st.GetOperator(ctx, common.HexToAddress("0xfeed").Hex())
	if op.TotalTasksCompleted != 3 {
		t.Fatalf("expected 3 completions got %d", op.TotalTasksCompleted)
	}
	if op.LastActiveTimestamp != 13*12 {
		t.Fatalf("last active not advanced: %d", op.LastActiveTimestamp)
	}
}

type flakyOperatorStore struct {
	*store.MemoryStore
	failures int
}

func (s *flakyOperatorStore) PutOperator(ctx context.Context, e *store.Operator) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("write lost")
	}
	return s.MemoryStore.PutOperator(ctx, e)
}

func TestLostOperatorWriteNeverDoubleCounts(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	st := &flakyOperatorStore{MemoryStore: store.NewMemoryStore(), failures: 1}
	ix := New(st, log, nil)
	ctx := context.Background()

	if err := ix.Apply(ctx, taskEvent(7, 10, 0)); err != nil {
		t.Fatalf("apply task: %v", err)
	}

	resp := respondEvent(7, "0xfeed", 11, 0)
	if err := ix.Apply(ctx, resp); err == nil {
		t.Fatalf("expected lost write to surface")
	}

	// The event was not marked, so a replay arrives; it must see the
	// completed task and skip the increment rather than count twice.
	if err := ix.Apply(ctx, resp); err != nil {
		t.Fatalf("replay: %v", err)
	}

	op, _ := st.GetOperator(ctx, common.HexToAddress("0xfeed").Hex())
	if op != nil && op.TotalTasksCompleted > 1 {
		t.Fatalf("counter double-counted after replay: %d", op.TotalTasksCompleted)
	}
	task, _ := st.GetTask(ctx, "7")
	if task.Status != store.TaskCompleted {
		t.Fatalf("task should be completed, got %s", task.Status)
	}
}

func TestResponseBeforeTaskIsBuffered(t *testing.T) {
	ix, st := newTestIndexer()
	ctx := context.Background()

	err := ix.Apply(ctx, respondEvent(9, "0xfeed", 11, 0))
	if !errors.Is(err, ErrMissingEntity) {
		t.Fatalf("expected ErrMissingEntity got %v", err)
	}

	if err := ix.Apply(ctx, taskEvent(9, 10, 0)); err != nil {
		t.Fatalf("apply task: %v", err)
	}

	task, _ := st.GetTask(ctx, "9")
	if task == nil || task.Status != store.TaskCompleted {
		t.Fatalf("buffered response should complete the task, got %+v", task)
	}
	op, _ := st.GetOperator(ctx, common.HexToAddress("0xfeed").Hex())
	if op == nil || op.TotalTasksCompleted != 1 {
		t.Fatalf("expected counter 1, got %+v", op)
	}
}

func TestOnRampEventsMergeOutOfOrder(t *testing.T) {
	ix, st := newTestIndexer()
	ctx := context.Background()

	id := common.HexToHash("0x77")

	accepted := &events.Event{
		Kind:    events.KindOnRampAccepted,
		TxHash:  common.HexToHash("0x4442"),
		Payload: events.OnRampAccepted{OnRampID: id, Seller: common.HexToAddress("0x5e11"), ChannelID: common.HexToHash("0xc9")},
	}
	if err := ix.Apply(ctx, accepted); err != nil {
		t.Fatalf("accepted: %v", err)
	}

	entity, _ := st.GetOnRamp(ctx, id.Hex())
	if entity == nil || entity.Seller == "" {
		t.Fatalf("accepted fields not merged: %+v", entity)
	}
	// Without a receipt or completion the request reads as ACCEPTED even
	// though the buyer fields arrived late.
	if got := store.DeriveOnRampStatus(entity); got != store.OnRampAccepted {
		t.Fatalf("expected ACCEPTED got %s", got)
	}

	requested := &events.Event{
		Kind:    events.KindOnRampRequested,
		TxHash:  common.HexToHash("0x4441"),
		Payload: events.OnRampRequested{OnRampID: id, Buyer: common.HexToAddress("0xb1"), Amount: big.NewInt(500)},
	}
	if err := ix.Apply(ctx, requested); err != nil {
		t.Fatalf("requested: %v", err)
	}

	receipt := &events.Event{
		Kind:    events.KindReceiptIdSubmitted,
		TxHash:  common.HexToHash("0x4443"),
		Payload: events.ReceiptIdSubmitted{OnRampID: id, ReceiptID: common.HexToHash("0x5551")},
	}
	if err := ix.Apply(ctx, receipt); err != nil {
		t.Fatalf("receipt: %v", err)
	}

	entity, _ = st.GetOnRamp(ctx, id.Hex())
	if entity.Buyer != common.HexToAddress("0xb1").Hex() || entity.Amount != "500" {
		t.Fatalf("requested fields lost after merge: %+v", entity)
	}
	if got := store.DeriveOnRampStatus(entity); got != store.OnRampReceiptSubmitted {
		t.Fatalf("expected RECEIPT_SUBMITTED got %s", got)
	}

	completed := &events.Event{
		Kind:    events.KindOnRampCompleted,
		TxHash:  common.HexToHash("0x4444"),
		Payload: events.OnRampCompleted{OnRampID: id, Buyer: common.HexToAddress("0xb1"), Amount: big.NewInt(500)},
	}
	if err := ix.Apply(ctx, completed); err != nil {
		t.Fatalf("completed: %v", err)
	}

	entity, _ = st.GetOnRamp(ctx, id.Hex())
	if got := store.DeriveOnRampStatus(entity); got != store.OnRampCompleted {
		t.Fatalf("expected COMPLETED got %s", got)
	}
}

func TestOnRampReceiptBeforeAcceptStaysRequested(t *testing.T) {
	ix, st := newTestIndexer()
	ctx := context.Background()

	id := common.HexToHash("0x88")

	requested := &events.Event{
		Kind:    events.KindOnRampRequested,
		TxHash:  common.HexToHash("0x6661"),
		Payload: events.OnRampRequested{OnRampID: id, Buyer: common.HexToAddress("0xb1"), Amount: big.NewInt(500)},
	}
	if err := ix.Apply(ctx, requested); err != nil {
		t.Fatalf("requested: %v", err)
	}

	receipt := &events.Event{
		Kind:    events.KindReceiptIdSubmitted,
		TxHash:  common.HexToHash("0x6662"),
		Payload: events.ReceiptIdSubmitted{OnRampID: id, ReceiptID: common.HexToHash("0x5551")},
	}
	if err := ix.Apply(ctx, receipt); err != nil {
		t.Fatalf("receipt: %v", err)
	}

	// No seller yet, so the receipt alone must not read as complete.
	entity, _ := st.GetOnRamp(ctx, id.Hex())
	if entity.ReceiptID == "" {
		t.Fatalf("receipt not merged: %+v", entity)
	}
	if got := store.DeriveOnRampStatus(entity); got != store.OnRampRequested {
		t.Fatalf("expected REQUESTED got %s", got)
	}
}

func TestLedgerEntries(t *testing.T) {
	ix, st := newTestIndexer()
	ctx := context.Background()

	mint := &events.Event{
		Kind:        events.KindMint,
		BlockNumber: 5,
		TxHash:      common.HexToHash("0x7771"),
		Payload:     events.Mint{User: common.HexToAddress("0xaaa1"), Amount: big.NewInt(100)},
	}
	if err := ix.Apply(ctx, mint); err != nil {
		t.Fatalf("mint: %v", err)
	}

	stake := &events.Event{
		Kind:        events.KindStakeSettled,
		BlockNumber: 6,
		TxHash:      common.HexToHash("0x8881"),
		Payload: events.StakeSettled{
			User:     common.HexToAddress("0xaaa1"),
			Amount:   big.NewInt(50),
			Provider: common.HexToAddress("0xp1"),
		},
	}
	if err := ix.Apply(ctx, stake); err != nil {
		t.Fatalf("stake: %v", err)
	}

	mints, _ := st.ListLedger(ctx, store.LedgerMint, store.Filter{})
	if len(mints) != 1 || mints[0].Amount != "100" {
		t.Fatalf("unexpected mints %+v", mints)
	}

	stakes, _ := st.ListLedger(ctx, store.LedgerStake, store.Filter{})
	if len(stakes) != 1 || stakes[0].Provider != common.HexToAddress("0xp1").Hex() {
		t.Fatalf("unexpected stakes %+v", stakes)
	}

	// Filtering by user covers both sides of the ledger.
	filtered, _ := st.ListLedger(ctx, store.LedgerMint, store.Filter{User: common.HexToAddress("0xaaa1").Hex()})
	if len(filtered) != 1 {
		t.Fatalf("expected user filter to match, got %d", len(filtered))
	}
}
