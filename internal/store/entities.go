package store

import "time"

// Entity identity is always taken from the chain (request ids, task indexes,
// tx hash + log index); nothing here is generated locally. Amounts are
// decimal strings in token base units.

type OffRampStatus string

const (
	OffRampPending   OffRampStatus = "PENDING"
	OffRampCompleted OffRampStatus = "COMPLETED"
)

// OffRampRequest is created by RequestOfframp and completed, exactly once,
// by FillOfframp. The fill fields are only ever set on that transition.
type OffRampRequest struct {
	ID                       string        `json:"id"`
	User                     string        `json:"user"`
	RequestedAmount          string        `json:"requestedAmount"`
	RequestedAmountRealWorld string        `json:"requestedAmountRealWorld"`
	ChannelAccount           string        `json:"channelAccount"`
	ChannelID                string        `json:"channelId"`
	BlockNumber              uint64        `json:"blockNumber"`
	BlockTimestamp           uint64        `json:"blockTimestamp"`
	TransactionHash          string        `json:"transactionHash"`
	Status                   OffRampStatus `json:"status"`
	Receiver                 string        `json:"receiver,omitempty"`
	Proof                    string        `json:"proof,omitempty"`
	ReclaimProof             string        `json:"reclaimProof,omitempty"`
	FillBlockNumber          uint64        `json:"fillBlockNumber,omitempty"`
	FillBlockTimestamp       uint64        `json:"fillBlockTimestamp,omitempty"`
	FillTransactionHash      string        `json:"fillTransactionHash,omitempty"`
}

type OnRampStatus string

const (
	OnRampRequested        OnRampStatus = "REQUESTED"
	OnRampAccepted         OnRampStatus = "ACCEPTED"
	OnRampReceiptSubmitted OnRampStatus = "RECEIPT_SUBMITTED"
	OnRampCompleted        OnRampStatus = "COMPLETED"
)

// OnRampRequest is merged from up to four event kinds that can arrive in any
// order within a block. LegacyStatus is whatever string the last handler
// annotated; it is never read back, DeriveOnRampStatus is authoritative.
type OnRampRequest struct {
	ID              string `json:"id"`
	Buyer           string `json:"buyer,omitempty"`
	Amount          string `json:"amount,omitempty"`
	Seller          string `json:"seller,omitempty"`
	ChannelID       string `json:"channelId,omitempty"`
	ReceiptID       string `json:"receiptId,omitempty"`
	CompletedTxHash string `json:"completedTransactionHash,omitempty"`
	LegacyStatus    string `json:"legacyStatus,omitempty"`
}

// DeriveOnRampStatus recomputes status from which fields are populated, so a
// reordered delivery can never leave a stored status ahead of the data.
func DeriveOnRampStatus(e *OnRampRequest) OnRampStatus {
	switch {
	case e.Seller == "":
		return OnRampRequested
	case e.ReceiptID == "":
		return OnRampAccepted
	case e.CompletedTxHash == "":
		return OnRampReceiptSubmitted
	default:
		return OnRampCompleted
	}
}

type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
)

type Task struct {
	ID               string     `json:"id"`
	TaskIndex        uint32     `json:"taskIndex"`
	ChannelID        string     `json:"channelId"`
	TransactionID    string     `json:"transactionId"`
	RequestOfframpID string     `json:"requestOfframpId"`
	Receiver         string     `json:"receiver"`
	TaskCreatedBlock uint32     `json:"taskCreatedBlock"`
	Status           TaskStatus `json:"status"`
	Operator         string     `json:"operator,omitempty"`
	CreatedAt        uint64     `json:"createdAt"`
	RespondedAt      uint64     `json:"respondedAt,omitempty"`
	TransactionHash  string     `json:"transactionHash"`
}

// Operator is created lazily on the first task response.
type Operator struct {
	Address             string `json:"address"`
	TotalTasksCompleted uint64 `json:"totalTasksCompleted"`
	LastActiveTimestamp uint64 `json:"lastActiveTimestamp"`
}

// LedgerEntry is an append-only audit record. Kind distinguishes mints,
// withdraws and transfers; stakes carry a provider as well.
type LedgerEntry struct {
	ID              string `json:"id"`
	User            string `json:"user,omitempty"`
	From            string `json:"from,omitempty"`
	To              string `json:"to,omitempty"`
	Provider        string `json:"provider,omitempty"`
	Amount          string `json:"amount"`
	BlockNumber     uint64 `json:"blockNumber"`
	BlockTimestamp  uint64 `json:"blockTimestamp"`
	TransactionHash string `json:"transactionHash"`
}

// Checkpoint records how far a fulfillment sequence progressed for one
// off-ramp request, so a restart resumes at the right step.
type Checkpoint struct {
	RequestID string    `json:"requestId"`
	NextStep  string    `json:"nextStep"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"lastError,omitempty"`
	Done      bool      `json:"done"`
	UpdatedAt time.Time `json:"updatedAt"`
}
