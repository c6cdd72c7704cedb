package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type scriptedNonceSource struct {
	pending uint64
	calls   int
	err     error
}

func (s *scriptedNonceSource) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	return s.pending, nil
}

func TestNonceSequencerPrimesOnceAndIncrements(t *testing.T) {
	src := &scriptedNonceSource{pending: 7}
	seq := NewNonceSequencer()
	account := common.HexToAddress("0xaa")

	for want := uint64(7); want < 10; want++ {
		nonce, err := seq.Reserve(context.Background(), src, account)
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if nonce.Uint64() != want {
			t.Fatalf("expected nonce %d got %d", want, nonce.Uint64())
		}
	}
	if src.calls != 1 {
		t.Fatalf("expected one priming call got %d", src.calls)
	}
}

func TestNonceSequencerInvalidateReprimes(t *testing.T) {
	src := &scriptedNonceSource{pending: 3}
	seq := NewNonceSequencer()
	account := common.HexToAddress("0xaa")

	if _, err := seq.Reserve(context.Background(), src, account); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// After a submission error the local counter may be ahead of the chain.
	seq.Invalidate()
	src.pending = 3

	nonce, err := seq.Reserve(context.Background(), src, account)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if nonce.Uint64() != 3 {
		t.Fatalf("expected re-primed nonce 3 got %d", nonce.Uint64())
	}
	if src.calls != 2 {
		t.Fatalf("expected two priming calls got %d", src.calls)
	}
}

func TestNonceSequencerPropagatesPrimeError(t *testing.T) {
	src := &scriptedNonceSource{err: errors.New("rpc down")}
	seq := NewNonceSequencer()

	if _, err := seq.Reserve(context.Background(), src, common.HexToAddress("0xaa")); err == nil {
		t.Fatalf("expected prime failure")
	}
}

func TestIsDuplicateRequest(t *testing.T) {
	dup := &RevertError{Reason: "execution reverted: DuplicateRequest()", TxHash: "0x1"}
	if !IsDuplicateRequest(dup) {
		t.Fatalf("duplicate guard not recognized")
	}
	if !IsDuplicateRequest(fmt.Errorf("send: %w", dup)) {
		t.Fatalf("wrapped duplicate guard not recognized")
	}
	if IsDuplicateRequest(&RevertError{Reason: "InsufficientBalance()", TxHash: "0x1"}) {
		t.Fatalf("unrelated revert misclassified")
	}
	if IsDuplicateRequest(errors.New("DuplicateRequest")) {
		t.Fatalf("plain error misclassified as revert")
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Fatalf("nil error is not retryable")
	}
	if IsRetryable(&RevertError{Reason: "x", TxHash: "0x1"}) {
		t.Fatalf("reverts are deterministic, never retryable")
	}
	if !IsRetryable(&TimeoutError{TxHash: "0x1"}) {
		t.Fatalf("timeouts are retryable")
	}
	if !IsRetryable(errors.New("connection reset")) {
		t.Fatalf("transport errors are retryable")
	}
}

func TestFakeClientQueuedErrorsAndRecording(t *testing.T) {
	fake := NewFakeClient()
	fake.FailNext("approve", &TimeoutError{TxHash: "0x1"})

	ctx := context.Background()
	if _, err := fake.Send(ctx, "approve", common.HexToAddress("0xbb")); err == nil {
		t.Fatalf("queued error not returned")
	}

	receipt, err := fake.Send(ctx, "approve", common.HexToAddress("0xbb"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if receipt.TxHash == (common.Hash{}) {
		t.Fatalf("expected deterministic receipt hash")
	}
	if got := fake.SentMethods(); len(got) != 1 || got[0] != "approve" {
		t.Fatalf("unexpected record %v", got)
	}
}

func TestHashUTF8MatchesKnownVector(t *testing.T) {
	// keccak256 of the empty string is a fixed, well-known value.
	want := common.HexToHash("0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470")
	if got := HashUTF8(""); got != want {
		t.Fatalf("expected %s got %s", want.Hex(), got.Hex())
	}
	if HashUTF8("mpesa") == HashUTF8("wire") {
		t.Fatalf("distinct channels must hash apart")
	}
}

func TestClassifyLookupError(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	wait, cancelWait := context.WithCancel(parent)
	defer cancelWait()

	// Both contexts alive: the lookup failure stands on its own.
	if got := classifyLookupError(parent, wait, "0x1"); got != nil {
		t.Fatalf("expected nil for live contexts, got %v", got)
	}

	// Only the bounded wait expired: the failure is a confirmation timeout.
	cancelWait()
	var timeout *TimeoutError
	got := classifyLookupError(parent, wait, "0x1")
	if !errors.As(got, &timeout) {
		t.Fatalf("expected TimeoutError, got %v", got)
	}
	if timeout.TxHash != "0x1" {
		t.Fatalf("timeout carries wrong hash %s", timeout.TxHash)
	}
	if !IsRetryable(got) {
		t.Fatalf("confirmation timeout must stay retryable")
	}

	// Parent cancellation takes precedence over the timeout shape.
	cancelParent()
	if got := classifyLookupError(parent, wait, "0x1"); !errors.Is(got, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", got)
	}
}
