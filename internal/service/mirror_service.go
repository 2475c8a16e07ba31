package service

import (
	"context"

	"ledger-mirror/internal/core/domain"
	"ledger-mirror/internal/core/ports"
	"ledger-mirror/pkg/apperror"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// MirrorServiceImpl implements ports.MirrorService on top of the store and
// the transaction controller.
type MirrorServiceImpl struct {
	store   *Store
	tx      *TxController
	archive ports.EntryArchive // optional
	recent  int
	log     zerolog.Logger

	archived map[uint64]struct{} // owned by RunArchiver
}

// NewMirrorService creates the UI-facing service. archive may be nil.
func NewMirrorService(
	store *Store,
	tx *TxController,
	archive ports.EntryArchive,
	recent int,
	log zerolog.Logger,
) *MirrorServiceImpl {
	if recent <= 0 {
		recent = 20
	}
	return &MirrorServiceImpl{
		store:    store,
		tx:       tx,
		archive:  archive,
		recent:   recent,
		log:      log,
		archived: make(map[uint64]struct{}),
	}
}

var _ ports.MirrorService = (*MirrorServiceImpl)(nil)

func (s *MirrorServiceImpl) View() domain.MirrorView {
	v := s.store.View(s.recent)
	v.Account = s.tx.Account()
	return v
}

func (s *MirrorServiceImpl) Summary() domain.LedgerSummary {
	return s.store.Summary()
}

func (s *MirrorServiceImpl) RecentEntries() []domain.LedgerEntry {
	return s.store.RecentEntries(s.recent)
}

func (s *MirrorServiceImpl) Pending() []domain.PendingTransaction {
	return s.store.Pending()
}

func (s *MirrorServiceImpl) Subscribe() (<-chan struct{}, func()) {
	return s.store.Subscribe()
}

func (s *MirrorServiceImpl) Connect(ctx context.Context) (common.Address, error) {
	return s.tx.Connect(ctx)
}

func (s *MirrorServiceImpl) SubmitAppend(_ context.Context, text string, amount *uint256.Int) (domain.PendingTransaction, error) {
	return s.tx.SubmitAppend(text, amount)
}

func (s *MirrorServiceImpl) SubmitWithdraw(_ context.Context) (domain.PendingTransaction, error) {
	return s.tx.SubmitWithdraw()
}

func (s *MirrorServiceImpl) Dismiss(clientID string) error {
	return s.store.DismissPending(clientID)
}

// ArchivedEntries reads the archive, or the held confirmed entries when no
// archive is configured.
func (s *MirrorServiceImpl) ArchivedEntries(ctx context.Context, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = s.recent
	}
	if s.archive == nil {
		held := s.store.Entries()
		out := make([]domain.LedgerEntry, 0, limit)
		for i := len(held) - 1; i >= 0 && len(out) < limit; i-- {
			out = append(out, held[i])
		}
		return out, nil
	}

	entries, err := s.archive.ListRecent(ctx, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read entry archive")
		return nil, apperror.InternalError(err)
	}
	return entries, nil
}

// RunArchiver copies every confirmed entry the store holds into the archive
// until ctx is canceled. Failed writes are retried on the next change.
func (s *MirrorServiceImpl) RunArchiver(ctx context.Context) {
	if s.archive == nil {
		return
	}
	changes, cancel := s.store.Subscribe()
	defer cancel()

	s.archiveNew(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			s.archiveNew(ctx)
		}
	}
}

func (s *MirrorServiceImpl) archiveNew(ctx context.Context) {
	held := s.store.Entries()
	fresh := make([]domain.LedgerEntry, 0)
	for _, e := range held {
		if _, done := s.archived[e.Sequence]; !done {
			fresh = append(fresh, e)
		}
	}
	if len(fresh) == 0 {
		return
	}

	inserted, err := s.archive.SaveEntries(ctx, fresh)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn().Err(err).Int("entries", len(fresh)).Msg("Failed to archive entries")
		}
		return
	}

	// Forget sequences the store no longer holds.
	next := make(map[uint64]struct{}, len(held))
	for _, e := range held {
		next[e.Sequence] = struct{}{}
	}
	s.archived = next
	s.log.Debug().Int64("inserted", inserted).Int("offered", len(fresh)).Msg("Entries archived")
}
