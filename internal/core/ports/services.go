package ports

import (
	"context"

	"ledger-mirror/internal/core/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// --- Service Ports (UI surface) ---

// MirrorService is everything the UI layer may read or trigger.
type MirrorService interface {
	View() domain.MirrorView
	Summary() domain.LedgerSummary
	RecentEntries() []domain.LedgerEntry
	Pending() []domain.PendingTransaction
	// Subscribe returns a channel that receives a value after each state change.
	// The returned func releases the subscription.
	Subscribe() (<-chan struct{}, func())

	Connect(ctx context.Context) (common.Address, error)
	SubmitAppend(ctx context.Context, text string, amount *uint256.Int) (domain.PendingTransaction, error)
	SubmitWithdraw(ctx context.Context) (domain.PendingTransaction, error)
	Dismiss(clientID string) error

	// ArchivedEntries reads the entry archive, newest first.
	ArchivedEntries(ctx context.Context, limit int) ([]domain.LedgerEntry, error)
}
