package ports

import (
	"context"
	"errors"

	"ledger-mirror/internal/core/domain"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotConfigured is returned by every gateway call while the ledger's
// address, interface descriptor or network location is unset.
var ErrNotConfigured = errors.New("ledger gateway not configured")

// ReceiptStatus is the execution outcome recorded on the ledger.
type ReceiptStatus string

const (
	ReceiptStatusSuccess  ReceiptStatus = "success"
	ReceiptStatusReverted ReceiptStatus = "reverted"
)

// Receipt is the confirmation of a broadcast transaction.
type Receipt struct {
	TxHash      common.Hash
	Status      ReceiptStatus
	BlockHeight uint64
}

// Subscription is a live event stream. Unsubscribe is safe to call more than
// once; Err delivers at most one error when the stream is lost.
type Subscription interface {
	Err() <-chan error
	Unsubscribe()
}

// LedgerGateway is the typed request/response and subscription facade over the
// remote ledger. It carries no logic of its own.
type LedgerGateway interface {
	ReadAggregate(ctx context.Context) (domain.LedgerSummary, error)
	ReadEntry(ctx context.Context, index uint64) (domain.LedgerEntry, error)
	// SubscribeAppendEvents invokes onEntry for every append notification, in
	// non-decreasing sequence order, possibly more than once per entry.
	SubscribeAppendEvents(ctx context.Context, onEntry func(domain.LedgerEntry)) (Subscription, error)
	Broadcast(ctx context.Context, signed []byte) (common.Hash, error)
	// WaitForReceipt blocks until the receipt is available or ctx is done.
	WaitForReceipt(ctx context.Context, txHash common.Hash) (Receipt, error)
}
