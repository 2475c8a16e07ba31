package ports

import (
	"context"

	"ledger-mirror/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// SnapshotCache keeps the last good snapshot so a restart can render
// immediately while the first live load runs.
type SnapshotCache interface {
	Save(ctx context.Context, snap domain.Snapshot) error
	Load(ctx context.Context) (*domain.Snapshot, error) // Returns nil when nothing is cached
}

// TxJournal remembers transactions whose confirmation was not observed, so
// they can be re-checked later.
type TxJournal interface {
	Record(ctx context.Context, tx domain.PendingTransaction) error
	List(ctx context.Context) ([]domain.PendingTransaction, error)
	Remove(ctx context.Context, clientID string) error
}

// EntryArchive persists every confirmed entry the mirror observes, beyond the
// in-memory retention window.
type EntryArchive interface {
	// SaveEntries inserts entries not yet archived; returns how many were new.
	SaveEntries(ctx context.Context, entries []domain.LedgerEntry) (int64, error)
	ListRecent(ctx context.Context, limit int) ([]domain.LedgerEntry, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
