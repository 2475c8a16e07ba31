package service

import (
	"math/rand"
	"testing"
	"time"

	"ledger-mirror/internal/core/domain"
	"ledger-mirror/pkg/apperror"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ownerAddr  = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	senderAddr = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

const finney = 1_000_000_000_000_000

func entry(seq uint64, amount uint64, text string) domain.LedgerEntry {
	return domain.LedgerEntry{
		Sequence:  seq,
		Sender:    senderAddr,
		Amount:    uint256.NewInt(amount),
		CreatedAt: 1_700_000_000 + seq,
		Text:      text,
		Source:    domain.EntrySourceLive,
	}
}

func summaryOf(count uint64, total uint64) domain.LedgerSummary {
	return domain.LedgerSummary{TotalAmount: uint256.NewInt(total), EntryCount: count, Owner: ownerAddr}
}

func newTestStore(opts StoreOptions) *Store {
	return NewStore(opts, zerolog.Nop())
}

func drained(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// ==================== Snapshot Tests ====================

func TestStore_ApplySnapshot_ReplacesState(t *testing.T) {
	s := newTestStore(StoreOptions{})
	changed := s.ApplySnapshot(
		[]domain.LedgerEntry{entry(1, finney, "b"), entry(0, finney, "a")},
		summaryOf(2, 2*finney),
	)
	require.True(t, changed)

	sum := s.Summary()
	assert.Equal(t, uint64(2), sum.EntryCount)
	assert.Equal(t, uint64(2*finney), sum.TotalAmount.Uint64())
	assert.Equal(t, ownerAddr, sum.Owner)

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(0), entries[0].Sequence)
	assert.Equal(t, domain.EntrySourceSnapshot, entries[0].Source)
	assert.True(t, s.HasBaseline())
}

func TestStore_ApplySnapshot_Idempotent(t *testing.T) {
	s := newTestStore(StoreOptions{})
	snap := []domain.LedgerEntry{entry(0, finney, "a"), entry(1, 2*finney, "b")}

	require.True(t, s.ApplySnapshot(snap, summaryOf(2, 3*finney)))
	before := s.View(10)

	ch, cancel := s.Subscribe()
	defer cancel()

	assert.False(t, s.ApplySnapshot(snap, summaryOf(2, 3*finney)))
	assert.False(t, drained(ch), "identical snapshot must not notify")
	assert.Equal(t, before, s.View(10))
}

func TestStore_ApplySnapshot_IgnoresStale(t *testing.T) {
	s := newTestStore(StoreOptions{})
	require.True(t, s.ApplySnapshot([]domain.LedgerEntry{entry(0, 1, "a"), entry(1, 1, "b")}, summaryOf(2, 2)))

	assert.False(t, s.ApplySnapshot([]domain.LedgerEntry{entry(0, 1, "a")}, summaryOf(1, 1)))
	assert.Equal(t, uint64(2), s.Summary().EntryCount)
	assert.Len(t, s.Entries(), 2)
}

func TestStore_ApplySnapshot_KeepsNewerLiveEntries(t *testing.T) {
	s := newTestStore(StoreOptions{})
	s.ApplySnapshot([]domain.LedgerEntry{entry(0, 1, "a")}, summaryOf(1, 1))
	s.MergeLiveEntry(entry(1, 10, "b"))
	s.MergeLiveEntry(entry(2, 100, "c"))

	// Snapshot taken after seq 1 but before seq 2 landed.
	s.ApplySnapshot([]domain.LedgerEntry{entry(0, 1, "a"), entry(1, 10, "b")}, summaryOf(2, 11))

	sum := s.Summary()
	assert.Equal(t, uint64(3), sum.EntryCount)
	assert.Equal(t, uint64(111), sum.TotalAmount.Uint64())
	entries := s.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, domain.EntrySourceSnapshot, entries[1].Source)
	assert.Equal(t, domain.EntrySourceLive, entries[2].Source)
}

// ==================== Live Merge Tests ====================

func TestStore_MergeLiveEntry_DuplicateSequenceCountedOnce(t *testing.T) {
	s := newTestStore(StoreOptions{})
	s.ApplySnapshot([]domain.LedgerEntry{entry(0, finney, "a")}, summaryOf(1, finney))

	res := s.MergeLiveEntry(entry(1, 2*finney, "b"))
	assert.True(t, res.Inserted)
	assert.True(t, res.Counted)
	assert.False(t, res.Gap)

	res = s.MergeLiveEntry(entry(1, 2*finney, "b"))
	assert.True(t, res.Duplicate)
	assert.False(t, res.Inserted)

	sum := s.Summary()
	assert.Equal(t, uint64(2), sum.EntryCount)
	assert.Equal(t, uint64(3*finney), sum.TotalAmount.Uint64())
	assert.Len(t, s.Entries(), 2)
}

func TestStore_MergeLiveEntry_AlreadyInAggregateNotCounted(t *testing.T) {
	s := newTestStore(StoreOptions{})
	// Aggregate covers seq 0..2 but only 0 and 2 were fetched.
	s.ApplySnapshot([]domain.LedgerEntry{entry(0, 1, "a"), entry(2, 1, "c")}, summaryOf(3, 3))

	res := s.MergeLiveEntry(entry(1, 1, "b"))
	assert.True(t, res.Inserted)
	assert.False(t, res.Counted)
	assert.Equal(t, uint64(3), s.Summary().EntryCount)
	assert.Len(t, s.Entries(), 3)
}

func TestStore_MergeLiveEntry_ReportsGap(t *testing.T) {
	s := newTestStore(StoreOptions{})
	s.ApplySnapshot([]domain.LedgerEntry{entry(0, 1, "a")}, summaryOf(1, 1))

	res := s.MergeLiveEntry(entry(3, 1, "d"))
	assert.True(t, res.Gap)
	assert.True(t, res.Inserted)
}

func TestStore_SequenceSumInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 50; run++ {
		s := newTestStore(StoreOptions{})
		amounts := make(map[uint64]uint64)
		s.ApplySnapshot(nil, summaryOf(0, 0))

		for i := 0; i < 40; i++ {
			seq := uint64(rng.Intn(20))
			amount, ok := amounts[seq]
			if !ok {
				amount = uint64(rng.Intn(1000) + 1)
				amounts[seq] = amount
			}
			s.MergeLiveEntry(entry(seq, amount, "x"))
		}

		var total uint64
		for _, a := range amounts {
			total += a
		}
		sum := s.Summary()
		assert.Equal(t, uint64(len(amounts)), sum.EntryCount)
		assert.Equal(t, total, sum.TotalAmount.Uint64())

		entries := s.Entries()
		for i := 1; i < len(entries); i++ {
			assert.Less(t, entries[i-1].Sequence, entries[i].Sequence)
		}
	}
}

func TestStore_Retention_PrunesWithoutTouchingCounters(t *testing.T) {
	s := newTestStore(StoreOptions{MaxEntries: 2})
	s.ApplySnapshot(nil, summaryOf(0, 0))
	for seq := uint64(0); seq < 4; seq++ {
		s.MergeLiveEntry(entry(seq, 10, "x"))
	}

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(2), entries[0].Sequence)
	assert.Equal(t, uint64(4), s.Summary().EntryCount)

	res := s.MergeLiveEntry(entry(0, 10, "x"))
	assert.True(t, res.Duplicate, "pruned sequences stay deduplicated")
	assert.Equal(t, uint64(40), s.Summary().TotalAmount.Uint64())
}

// ==================== Pending Tests ====================

func pendingAppend(id string) domain.PendingTransaction {
	return domain.PendingTransaction{
		ClientID: id,
		Kind:     domain.TxKindAppend,
		From:     senderAddr,
		Payload:  domain.TxPayload{Text: "gm", Amount: uint256.NewInt(finney)},
		State:    domain.TxStateSigning,
	}
}

func TestStore_UpsertPending_RejectsSecondActiveOfSameKind(t *testing.T) {
	s := newTestStore(StoreOptions{})
	require.NoError(t, s.UpsertPending(pendingAppend("a")))

	tx, _ := s.PendingByID("a")
	tx.State = domain.TxStatePendingConfirmation
	require.NoError(t, s.UpsertPending(tx))

	err := s.UpsertPending(pendingAppend("b"))
	require.Error(t, err)
	assert.Equal(t, "VAL_006", err.(*apperror.AppError).Code)

	withdraw := domain.PendingTransaction{ClientID: "w", Kind: domain.TxKindWithdraw, From: ownerAddr, State: domain.TxStateSigning}
	assert.NoError(t, s.UpsertPending(withdraw), "other kinds are independent")
}

func TestStore_ResolvePending_FreesKind(t *testing.T) {
	s := newTestStore(StoreOptions{})
	require.NoError(t, s.UpsertPending(pendingAppend("a")))
	require.NoError(t, s.ResolvePending("a", Outcome{State: domain.TxStateFailed, Err: "reverted"}))

	tx, ok := s.PendingByID("a")
	require.True(t, ok)
	assert.Equal(t, domain.TxStateFailed, tx.State)
	assert.Equal(t, "Tip failed: reverted", s.PendingStatus())

	// First outcome wins.
	require.NoError(t, s.ResolvePending("a", Outcome{State: domain.TxStateConfirmed}))
	tx, _ = s.PendingByID("a")
	assert.Equal(t, domain.TxStateFailed, tx.State)

	assert.NoError(t, s.UpsertPending(pendingAppend("b")))
}

func TestStore_ResolvePending_SettlesInconclusive(t *testing.T) {
	s := newTestStore(StoreOptions{})
	require.NoError(t, s.UpsertPending(pendingAppend("a")))
	require.NoError(t, s.ResolvePending("a", Outcome{State: domain.TxStateInconclusive, Err: "timed out"}))
	require.NoError(t, s.ResolvePending("a", Outcome{State: domain.TxStateConfirmed, BlockHeight: 7}))

	tx, _ := s.PendingByID("a")
	assert.Equal(t, domain.TxStateConfirmed, tx.State)
	assert.Equal(t, uint64(7), tx.BlockHeight)
	assert.Empty(t, tx.Error)
}

func TestStore_ResolvePending_Errors(t *testing.T) {
	s := newTestStore(StoreOptions{})
	err := s.ResolvePending("missing", Outcome{State: domain.TxStateFailed})
	assert.Equal(t, "VAL_007", err.(*apperror.AppError).Code)

	require.NoError(t, s.UpsertPending(pendingAppend("a")))
	err = s.ResolvePending("a", Outcome{State: domain.TxStateBroadcasting})
	assert.Equal(t, "VAL_000", err.(*apperror.AppError).Code)
}

func TestStore_UpsertPending_TerminalCannotRegress(t *testing.T) {
	s := newTestStore(StoreOptions{})
	require.NoError(t, s.UpsertPending(pendingAppend("a")))
	require.NoError(t, s.ResolvePending("a", Outcome{State: domain.TxStateConfirmed, BlockHeight: 9}))

	tx := pendingAppend("a")
	tx.State = domain.TxStateBroadcasting
	assert.Error(t, s.UpsertPending(tx))
}

func TestStore_DismissPending(t *testing.T) {
	s := newTestStore(StoreOptions{})
	require.NoError(t, s.UpsertPending(pendingAppend("a")))

	err := s.DismissPending("a")
	assert.Equal(t, "VAL_008", err.(*apperror.AppError).Code)

	require.NoError(t, s.ResolvePending("a", Outcome{State: domain.TxStateConfirmed}))
	require.NoError(t, s.DismissPending("a"))
	assert.Empty(t, s.Pending())
	assert.Equal(t, "", s.PendingStatus())

	err = s.DismissPending("a")
	assert.Equal(t, "VAL_007", err.(*apperror.AppError).Code)
}

func TestStore_PendingOrderedBySubmission(t *testing.T) {
	s := newTestStore(StoreOptions{})
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	require.NoError(t, s.UpsertPending(pendingAppend("first")))
	require.NoError(t, s.UpsertPending(domain.PendingTransaction{ClientID: "second", Kind: domain.TxKindWithdraw, State: domain.TxStateSigning}))

	pending := s.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "first", pending[0].ClientID)
	assert.Equal(t, "Waiting for wallet signature...", s.PendingStatus())
}

// ==================== Optimistic Tests ====================

func TestStore_Optimistic_ReplacedByConfirmedEntry(t *testing.T) {
	s := newTestStore(StoreOptions{OptimisticEntries: true})
	s.ApplySnapshot(nil, summaryOf(0, 0))
	require.NoError(t, s.UpsertPending(pendingAppend("a")))

	recent := s.RecentEntries(5)
	require.Len(t, recent, 1)
	assert.Equal(t, domain.EntrySourceOptimistic, recent[0].Source)
	assert.Equal(t, "a", recent[0].ClientID)
	assert.Equal(t, uint64(0), s.Summary().EntryCount, "placeholders are never counted")

	s.MergeLiveEntry(entry(0, finney, "gm"))
	recent = s.RecentEntries(5)
	require.Len(t, recent, 1)
	assert.Equal(t, domain.EntrySourceLive, recent[0].Source)
}

func TestStore_Optimistic_RolledBackOnFailure(t *testing.T) {
	s := newTestStore(StoreOptions{OptimisticEntries: true})
	require.NoError(t, s.UpsertPending(pendingAppend("a")))
	require.NoError(t, s.ResolvePending("a", Outcome{State: domain.TxStateFailed}))
	assert.Empty(t, s.RecentEntries(5))
}

func TestStore_RecentEntries_NewestFirst(t *testing.T) {
	s := newTestStore(StoreOptions{})
	s.ApplySnapshot([]domain.LedgerEntry{entry(0, 1, "a"), entry(1, 1, "b"), entry(2, 1, "c")}, summaryOf(3, 3))

	recent := s.RecentEntries(2)
	require.Len(t, recent, 2)
	assert.Equal(t, uint64(2), recent[0].Sequence)
	assert.Equal(t, uint64(1), recent[1].Sequence)
}

func TestStore_Subscribe_CoalescesAndCancels(t *testing.T) {
	s := newTestStore(StoreOptions{})
	ch, cancel := s.Subscribe()

	s.MergeLiveEntry(entry(0, 1, "a"))
	s.MergeLiveEntry(entry(1, 1, "b"))
	assert.True(t, drained(ch))
	assert.False(t, drained(ch))

	cancel()
	cancel()
	s.MergeLiveEntry(entry(2, 1, "c"))
	assert.False(t, drained(ch))
}

func TestStore_ReadsAreCopies(t *testing.T) {
	s := newTestStore(StoreOptions{})
	s.ApplySnapshot([]domain.LedgerEntry{entry(0, 5, "a")}, summaryOf(1, 5))

	sum := s.Summary()
	sum.TotalAmount.SetUint64(999)
	entries := s.Entries()
	entries[0].Amount.SetUint64(999)

	assert.Equal(t, uint64(5), s.Summary().TotalAmount.Uint64())
	assert.Equal(t, uint64(5), s.Entries()[0].Amount.Uint64())
}
