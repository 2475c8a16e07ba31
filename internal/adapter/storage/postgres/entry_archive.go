package postgres

import (
	"context"
	"fmt"
	"strings"

	"ledger-mirror/internal/core/domain"
	"ledger-mirror/internal/core/ports"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EntryArchive implements ports.EntryArchive. Rows are keyed by ledger
// address and sequence, so re-archiving an entry is a no-op.
type EntryArchive struct {
	pool       Pool
	transactor ports.DBTransactor
	contract   string
}

func NewEntryArchive(pool Pool, transactor ports.DBTransactor, ledgerAddress string) *EntryArchive {
	return &EntryArchive{
		pool:       pool,
		transactor: transactor,
		contract:   strings.ToLower(ledgerAddress),
	}
}

var _ ports.EntryArchive = (*EntryArchive)(nil)

// SaveEntries inserts entries in one transaction and returns how many were new.
func (a *EntryArchive) SaveEntries(ctx context.Context, entries []domain.LedgerEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := a.transactor.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := `INSERT INTO ledger_entries (contract, sequence, sender, amount, created_at, text, source)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
		ON CONFLICT (contract, sequence) DO NOTHING`

	var inserted int64
	for _, e := range entries {
		if !e.IsConfirmed() {
			continue
		}
		tag, err := tx.Exec(ctx, query,
			a.contract, int64(e.Sequence), e.Sender.Hex(), e.AmountOrZero().Dec(),
			int64(e.CreatedAt), e.Text, string(e.Source),
		)
		if err != nil {
			return 0, fmt.Errorf("insert entry %d: %w", e.Sequence, err)
		}
		inserted += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit archive tx: %w", err)
	}
	return inserted, nil
}

// ListRecent returns up to limit archived entries, newest first.
func (a *EntryArchive) ListRecent(ctx context.Context, limit int) ([]domain.LedgerEntry, error) {
	query := `SELECT sequence, sender, amount::text, created_at, text, source
		FROM ledger_entries WHERE contract = $1
		ORDER BY sequence DESC LIMIT $2`

	rows, err := a.pool.Query(ctx, query, a.contract, limit)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			seq, createdAt       int64
			sender, amount, text string
			source               string
		)
		if err := rows.Scan(&seq, &sender, &amount, &createdAt, &text, &source); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		value, err := uint256.FromDecimal(amount)
		if err != nil {
			return nil, fmt.Errorf("entry %d amount %q: %w", seq, amount, err)
		}
		entries = append(entries, domain.LedgerEntry{
			Sequence:  uint64(seq),
			Sender:    common.HexToAddress(sender),
			Amount:    value,
			CreatedAt: uint64(createdAt),
			Text:      text,
			Source:    domain.EntrySource(source),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}
