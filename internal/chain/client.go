package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ramprails/internal/events"

	"github.com/ethereum/go-ethereum/core/types"
)

// Client abstracts one bound contract: read calls and confirmed writes.
type Client interface {
	// Call executes a read-only method and returns the decoded outputs.
	Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error)
	// Send submits a transaction and blocks until it is confirmed. A mined
	// revert surfaces as *RevertError, an unconfirmed wait as *TimeoutError.
	Send(ctx context.Context, method string, args ...interface{}) (*types.Receipt, error)
}

// Subscriber produces the decoded event stream, restartable from a block
// height for replay and reorg recovery.
type Subscriber interface {
	Subscribe(ctx context.Context, fromBlock uint64) (<-chan events.Event, error)
}

// HealthChecker is implemented by clients that can probe the RPC endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// RevertError is an on-chain rejection of a mined transaction.
type RevertError struct {
	Reason string
	TxHash string
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("transaction %s reverted: %s", e.TxHash, e.Reason)
}

// TimeoutError means confirmation was not observed in time. The transaction
// may still mine later; the step is retryable.
type TimeoutError struct {
	TxHash string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transaction %s not confirmed in time", e.TxHash)
}

// IsDuplicateRequest reports whether a revert carries the contract's
// request-id uniqueness guard. Those reverts are swallowed, not escalated:
// the request already exists on-chain and the sequence can move on.
func IsDuplicateRequest(err error) bool {
	var revert *RevertError
	if !errors.As(err, &revert) {
		return false
	}
	return strings.Contains(revert.Reason, "DuplicateRequest")
}

// IsRetryable reports whether a step failure is worth another attempt.
// Reverts are deterministic; timeouts and transport errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var revert *RevertError
	return !errors.As(err, &revert)
}
