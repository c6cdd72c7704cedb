package chain

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// SentTx records one FakeClient submission.
type SentTx struct {
	Method string
	Args   []interface{}
}

// FakeClient mimics a bound contract for tests and keyless local runs.
// Receipts carry a deterministic hash of the call so assertions are stable.
type FakeClient struct {
	mu       sync.Mutex
	sent     []SentTx
	sendErrs map[string][]error
	callFn   func(method string, args ...interface{}) ([]interface{}, error)
}

func NewFakeClient() *FakeClient {
	return &FakeClient{sendErrs: make(map[string][]error)}
}

// FailNext queues errors for the next Sends of method, consumed in order.
func (f *FakeClient) FailNext(method string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErrs[method] = append(f.sendErrs[method], errs...)
}

// OnCall installs the read-call handler.
func (f *FakeClient) OnCall(fn func(method string, args ...interface{}) ([]interface{}, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callFn = fn
}

func (f *FakeClient) Call(_ context.Context, method string, args ...interface{}) ([]interface{}, error) {
	f.mu.Lock()
	fn := f.callFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(method, args...)
}

func (f *FakeClient) Send(_ context.Context, method string, args ...interface{}) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if queued := f.sendErrs[method]; len(queued) > 0 {
		err := queued[0]
		f.sendErrs[method] = queued[1:]
		if err != nil {
			return nil, err
		}
	}

	f.sent = append(f.sent, SentTx{Method: method, Args: args})

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%v-%d", method, args, len(f.sent))))
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      common.BytesToHash(sum[:]),
		BlockNumber: big.NewInt(int64(len(f.sent))),
	}, nil
}

// Sent returns a copy of everything submitted so far.
func (f *FakeClient) Sent() []SentTx {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentTx, len(f.sent))
	copy(out, f.sent)
	return out
}

// SentMethods returns just the method names, in submission order.
func (f *FakeClient) SentMethods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, tx := range f.sent {
		out = append(out, tx.Method)
	}
	return out
}
