package service

import (
	"sort"
	"sync"
	"time"

	"ledger-mirror/internal/core/domain"
	"ledger-mirror/pkg/apperror"
	"ledger-mirror/pkg/metrics"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// MergeResult describes what MergeLiveEntry did with one entry.
type MergeResult struct {
	Inserted  bool // entry was new to the store
	Counted   bool // entry was folded into the summary counters
	Duplicate bool // entry's sequence was already seen
	Gap       bool // entry skipped past the next expected sequence
}

// Outcome is a terminal transition for a pending transaction.
type Outcome struct {
	State       domain.TxState
	BlockHeight uint64
	Err         string
}

// StoreOptions configures a Store.
type StoreOptions struct {
	MaxEntries        int  // retention cap for held entries, 0 = unbounded
	OptimisticEntries bool // hold a tagged placeholder for each in-flight append
}

// Store is the mirrored ledger state the UI renders from. Every mutation
// runs under one mutex, and every read returns a copy.
//
// The summary is the aggregate read by the last applied snapshot (the
// baseline) plus every held entry whose sequence lies at or beyond the
// baseline's entry count. Entries below that count are already part of the
// aggregate and never counted twice.
type Store struct {
	mu sync.Mutex

	summary     domain.LedgerSummary
	baseline    uint64 // entry count of the last applied aggregate
	hasBaseline bool
	floor       uint64               // sequences below it were seen and pruned
	entries     []domain.LedgerEntry // confirmed, ascending by sequence
	optimistic  []domain.LedgerEntry // placeholders, oldest first

	pending map[string]*domain.PendingTransaction
	active  map[domain.TxKind]string // kind -> client id of the non-terminal tx

	opts StoreOptions
	log  zerolog.Logger
	now  func() time.Time

	subs   map[int]chan struct{}
	nextID int
}

// NewStore creates an empty Store.
func NewStore(opts StoreOptions, log zerolog.Logger) *Store {
	return &Store{
		summary: domain.NewLedgerSummary(common.Address{}),
		pending: make(map[string]*domain.PendingTransaction),
		active:  make(map[domain.TxKind]string),
		opts:    opts,
		log:     log,
		now:     time.Now,
		subs:    make(map[int]chan struct{}),
	}
}

// ---- Observers ----

// Subscribe returns a channel that receives a value after each mutation that
// changed state. Notifications coalesce: a slow reader sees one pending
// value, then pulls a fresh view.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
		})
	}
}

// notify must be called with s.mu held.
func (s *Store) notify() {
	metrics.HeldEntries.Set(float64(len(s.entries)))
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// ---- Ledger mutations ----

// ApplySnapshot atomically replaces the held entries and the baseline with
// a snapshot. A snapshot whose aggregate count is below the current baseline
// is stale and ignored. Held entries at or beyond the snapshot's count are
// newer than it and survive. Returns whether the state changed.
func (s *Store) ApplySnapshot(entries []domain.LedgerEntry, summary domain.LedgerSummary) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasBaseline && summary.EntryCount < s.baseline {
		s.log.Warn().
			Uint64("snapshot_count", summary.EntryCount).
			Uint64("baseline", s.baseline).
			Msg("Ignoring stale snapshot")
		return false
	}

	count := summary.EntryCount
	next := make([]domain.LedgerEntry, 0, len(entries))
	seen := make(map[uint64]struct{}, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.Sequence]; dup {
			continue
		}
		seen[e.Sequence] = struct{}{}
		e = e.Clone()
		e.Source = domain.EntrySourceSnapshot
		e.ClientID = ""
		next = append(next, e)
	}

	nextSummary := summary.Clone()
	for _, held := range s.entries {
		if held.Sequence < count {
			continue
		}
		if _, dup := seen[held.Sequence]; dup {
			continue
		}
		next = append(next, held)
		nextSummary = nextSummary.Add(held)
	}
	sort.Slice(next, func(i, j int) bool { return next[i].Sequence < next[j].Sequence })

	if s.hasBaseline && s.baseline == count &&
		s.summary.Equal(nextSummary) && sameEntries(s.entries, next) {
		return false
	}

	previous := make(map[uint64]struct{}, len(s.entries))
	for _, e := range s.entries {
		previous[e.Sequence] = struct{}{}
	}

	s.entries = next
	s.summary = nextSummary
	s.baseline = count
	s.hasBaseline = true
	if s.floor < count {
		s.floor = 0
	}
	for _, e := range next {
		if _, held := previous[e.Sequence]; !held {
			s.supersedeOptimistic(e)
		}
	}
	s.prune()
	s.notify()
	return true
}

// MergeLiveEntry inserts a live entry unless its sequence is already held.
// The summary is updated incrementally, and only for entries the baseline
// aggregate does not already include.
func (s *Store) MergeLiveEntry(e domain.LedgerEntry) MergeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Sequence < s.floor {
		return MergeResult{Duplicate: true}
	}
	i := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].Sequence >= e.Sequence })
	if i < len(s.entries) && s.entries[i].Sequence == e.Sequence {
		if !s.entries[i].Equal(e) {
			s.log.Warn().Uint64("sequence", e.Sequence).Msg("Live entry differs from held entry, keeping held")
		}
		return MergeResult{Duplicate: true}
	}

	res := MergeResult{
		Inserted: true,
		Gap:      s.hasBaseline && e.Sequence > s.summary.EntryCount,
	}

	e = e.Clone()
	e.ClientID = ""
	if e.Source == domain.EntrySourceOptimistic || e.Source == "" {
		e.Source = domain.EntrySourceLive
	}
	s.entries = append(s.entries, domain.LedgerEntry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e

	if e.Sequence >= s.baseline {
		s.summary = s.summary.Add(e)
		res.Counted = true
	}

	s.supersedeOptimistic(e)
	s.prune()
	s.notify()
	return res
}

// prune drops the oldest entries beyond the retention cap. Counters are
// left alone; the floor remembers what was dropped.
func (s *Store) prune() {
	if s.opts.MaxEntries <= 0 || len(s.entries) <= s.opts.MaxEntries {
		return
	}
	drop := len(s.entries) - s.opts.MaxEntries
	s.entries = append([]domain.LedgerEntry(nil), s.entries[drop:]...)
	s.floor = s.entries[0].Sequence
}

// supersedeOptimistic removes the placeholder that e confirms, if any.
func (s *Store) supersedeOptimistic(e domain.LedgerEntry) {
	for i, p := range s.optimistic {
		if e.Matches(p.Sender, p.Text, p.Amount) {
			s.log.Debug().Str("client_id", p.ClientID).Uint64("sequence", e.Sequence).Msg("Optimistic entry confirmed")
			s.optimistic = append(s.optimistic[:i], s.optimistic[i+1:]...)
			return
		}
	}
}

func (s *Store) dropOptimistic(clientID string) {
	for i, p := range s.optimistic {
		if p.ClientID == clientID {
			s.optimistic = append(s.optimistic[:i], s.optimistic[i+1:]...)
			return
		}
	}
}

func sameEntries(a, b []domain.LedgerEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) || a[i].Source != b[i].Source {
			return false
		}
	}
	return true
}

// ---- Pending transactions ----

// UpsertPending inserts or updates a pending transaction. A new transaction
// is rejected while another of the same kind is active.
func (s *Store) UpsertPending(tx domain.PendingTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.pending[tx.ClientID]
	if !ok {
		if activeID, busy := s.active[tx.Kind]; busy {
			return apperror.ErrKindInFlight(string(tx.Kind) + " (" + activeID + ")")
		}
		tx = tx.Clone()
		now := s.now()
		if tx.SubmittedAt.IsZero() {
			tx.SubmittedAt = now
		}
		tx.UpdatedAt = now
		s.pending[tx.ClientID] = &tx
		if !tx.IsTerminal() {
			s.active[tx.Kind] = tx.ClientID
		}
		if s.opts.OptimisticEntries && tx.Kind == domain.TxKindAppend && !tx.IsTerminal() {
			s.optimistic = append(s.optimistic, domain.LedgerEntry{
				Sender:    tx.From,
				Amount:    tx.Payload.Amount,
				CreatedAt: uint64(now.Unix()),
				Text:      tx.Payload.Text,
				Source:    domain.EntrySourceOptimistic,
				ClientID:  tx.ClientID,
			})
		}
		s.notify()
		return nil
	}

	if existing.IsTerminal() {
		return apperror.Validation("transaction " + tx.ClientID + " already finished")
	}
	if existing.Kind != tx.Kind {
		return apperror.Validation("transaction kind cannot change")
	}
	if samePending(*existing, tx) {
		return nil
	}

	updated := tx.Clone()
	updated.SubmittedAt = existing.SubmittedAt
	updated.UpdatedAt = s.now()
	*existing = updated
	if updated.IsTerminal() {
		s.release(existing)
	}
	s.notify()
	return nil
}

// ResolvePending moves a transaction to a terminal state and frees its kind.
// The first terminal outcome wins and later ones are ignored, except that an
// INCONCLUSIVE transaction may still be settled as CONFIRMED or FAILED.
func (s *Store) ResolvePending(clientID string, outcome Outcome) error {
	if !outcome.State.IsTerminal() {
		return apperror.Validation("outcome " + string(outcome.State) + " is not terminal")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.pending[clientID]
	if !ok {
		return apperror.ErrNotFound("Transaction")
	}
	settling := tx.State == domain.TxStateInconclusive && outcome.State != domain.TxStateInconclusive
	if tx.IsTerminal() && !settling {
		if tx.State != outcome.State {
			s.log.Warn().
				Str("client_id", clientID).
				Str("state", string(tx.State)).
				Str("ignored", string(outcome.State)).
				Msg("Transaction already resolved")
		}
		return nil
	}

	tx.State = outcome.State
	tx.Error = outcome.Err
	if outcome.BlockHeight > 0 {
		tx.BlockHeight = outcome.BlockHeight
	}
	tx.UpdatedAt = s.now()
	s.release(tx)
	s.notify()
	return nil
}

// release frees the kind slot of a terminal transaction and rolls back its
// placeholder unless it was confirmed.
func (s *Store) release(tx *domain.PendingTransaction) {
	if s.active[tx.Kind] == tx.ClientID {
		delete(s.active, tx.Kind)
	}
	if tx.State != domain.TxStateConfirmed {
		s.dropOptimistic(tx.ClientID)
	}
}

// DismissPending removes a terminal transaction once the user acknowledged it.
func (s *Store) DismissPending(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.pending[clientID]
	if !ok {
		return apperror.ErrNotFound("Transaction")
	}
	if !tx.IsTerminal() {
		return apperror.ErrNotTerminal()
	}
	delete(s.pending, clientID)
	s.dropOptimistic(clientID)
	s.notify()
	return nil
}

func samePending(a, b domain.PendingTransaction) bool {
	sameHash := (a.TxHash == nil && b.TxHash == nil) ||
		(a.TxHash != nil && b.TxHash != nil && *a.TxHash == *b.TxHash)
	return a.State == b.State && sameHash &&
		a.BlockHeight == b.BlockHeight && a.Error == b.Error &&
		a.From == b.From && a.Payload.Text == b.Payload.Text
}

// ---- Reads ----

func (s *Store) Summary() domain.LedgerSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary.Clone()
}

// HasBaseline reports whether a snapshot was ever applied.
func (s *Store) HasBaseline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasBaseline
}

// Entries returns the confirmed entries in ascending sequence order.
func (s *Store) Entries() []domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.LedgerEntry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Clone()
	}
	return out
}

// RecentEntries returns up to n entries newest first, placeholders leading.
func (s *Store) RecentEntries(n int) []domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recentLocked(n)
}

func (s *Store) recentLocked(n int) []domain.LedgerEntry {
	out := make([]domain.LedgerEntry, 0, n)
	for i := len(s.optimistic) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.optimistic[i].Clone())
	}
	for i := len(s.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.entries[i].Clone())
	}
	return out
}

// Pending returns every tracked transaction, oldest submission first.
func (s *Store) Pending() []domain.PendingTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked()
}

func (s *Store) pendingLocked() []domain.PendingTransaction {
	out := make([]domain.PendingTransaction, 0, len(s.pending))
	for _, tx := range s.pending {
		out = append(out, tx.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ClientID < out[j].ClientID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// PendingByID returns one tracked transaction.
func (s *Store) PendingByID(clientID string) (domain.PendingTransaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.pending[clientID]
	if !ok {
		return domain.PendingTransaction{}, false
	}
	return tx.Clone(), true
}

// PendingStatus is the status line of the most recently updated transaction.
func (s *Store) PendingStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Store) statusLocked() string {
	var latest *domain.PendingTransaction
	for _, tx := range s.pending {
		if latest == nil || tx.UpdatedAt.After(latest.UpdatedAt) {
			latest = tx
		}
	}
	if latest == nil {
		return ""
	}
	return latest.StatusString()
}

// View returns summary, the n newest entries, pending transactions and the
// status line from one consistent read.
func (s *Store) View(n int) domain.MirrorView {
	s.mu.Lock()
	defer s.mu.Unlock()

	return domain.MirrorView{
		Summary: s.summary.Clone(),
		Entries: s.recentLocked(n),
		Pending: s.pendingLocked(),
		Status:  s.statusLocked(),
	}
}
