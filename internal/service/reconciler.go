package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"ledger-mirror/config"
	"ledger-mirror/internal/core/domain"
	"ledger-mirror/internal/core/ports"
	"ledger-mirror/pkg/apperror"
	"ledger-mirror/pkg/metrics"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Session end causes, also used as metric labels.
const (
	causeSubscribeFailed  = "subscribe_failed"
	causeSnapshotFailed   = "snapshot_failed"
	causeSubscriptionLost = "subscription_lost"
	causeGap              = "gap"
	causeResync           = "resync_requested"
)

var errSequenceGap = errors.New("live entry skipped past the next expected sequence")

// SnapshotSource runs a snapshot load, possibly shared with one in flight.
type SnapshotSource interface {
	Load(ctx context.Context) (SnapshotReport, error)
}

// Reconciler keeps the store converged with the ledger. Each session opens
// the live subscription first, then loads a snapshot, then merges queued
// and subsequent live entries. A lost stream or a sequence gap ends the
// session; the next one starts after a backoff.
type Reconciler struct {
	gateway    ports.LedgerGateway
	store      *Store
	loader     SnapshotSource
	minBackoff time.Duration
	maxBackoff time.Duration
	resync     chan struct{}
	log        zerolog.Logger

	// Highest sequence delivered live, used to spot out-of-order delivery.
	watermark     uint64
	haveWatermark bool
}

func NewReconciler(
	gateway ports.LedgerGateway,
	store *Store,
	loader SnapshotSource,
	cfg config.MirrorConfig,
	log zerolog.Logger,
) *Reconciler {
	r := &Reconciler{
		gateway:    gateway,
		store:      store,
		loader:     loader,
		minBackoff: cfg.ResubscribeMin,
		maxBackoff: cfg.ResubscribeMax,
		resync:     make(chan struct{}, 1),
		log:        log,
	}
	if r.minBackoff <= 0 {
		r.minBackoff = time.Second
	}
	if r.maxBackoff < r.minBackoff {
		r.maxBackoff = r.minBackoff
	}
	return r
}

// Resync asks the running session to start over with a fresh snapshot.
func (r *Reconciler) Resync() {
	select {
	case r.resync <- struct{}{}:
	default:
	}
}

// Run reconciles until ctx is canceled. It returns early only when the
// ledger is not configured.
func (r *Reconciler) Run(ctx context.Context) error {
	bo := r.newBackOff()
	for {
		cause, healthy, err := r.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ports.ErrNotConfigured) {
			r.log.Error().Err(err).Msg("Ledger not configured, reconciler stopped")
			return apperror.ErrNotConfigured(err)
		}

		metrics.Resubscribes.WithLabelValues(cause).Inc()
		if healthy {
			bo.Reset()
		}
		// A gap or an explicit resync starts the next session at once.
		var wait time.Duration
		if cause != causeGap && cause != causeResync {
			wait = bo.NextBackOff()
		}
		r.log.Warn().Err(err).Str("cause", cause).Dur("retry_in", wait).Msg("Reconciler session ended")

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}
	}
}

// newBackOff doubles from minBackoff up to maxBackoff and never gives up.
func (r *Reconciler) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.minBackoff
	bo.MaxInterval = r.maxBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// session runs one subscribe-snapshot-merge cycle. healthy reports whether
// the session reached the streaming phase.
func (r *Reconciler) session(ctx context.Context) (cause string, healthy bool, err error) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.haveWatermark = false
	q := newEntryQueue()
	sub, err := r.gateway.SubscribeAppendEvents(sctx, q.push)
	if err != nil {
		return causeSubscribeFailed, false, err
	}
	defer sub.Unsubscribe()

	if _, err := r.loader.Load(sctx); err != nil {
		return causeSnapshotFailed, false, err
	}
	r.log.Debug().Uint64("entry_count", r.store.Summary().EntryCount).Msg("Streaming live entries")

	for {
		// Entries queued while the snapshot ran are merged first.
		for _, e := range q.drain() {
			if r.merge(e) {
				return causeGap, true, errSequenceGap
			}
		}

		select {
		case <-ctx.Done():
			return "", true, ctx.Err()
		case err := <-sub.Err():
			return causeSubscriptionLost, true, err
		case <-r.resync:
			return causeResync, true, nil
		case <-q.signal:
		}
	}
}

// merge applies one live entry and reports whether it revealed a gap.
func (r *Reconciler) merge(e domain.LedgerEntry) bool {
	if r.haveWatermark && e.Sequence < r.watermark {
		metrics.LiveEvents.WithLabelValues("out_of_order").Inc()
		r.log.Debug().Uint64("sequence", e.Sequence).Uint64("watermark", r.watermark).Msg("Out-of-order live entry")
	}
	if !r.haveWatermark || e.Sequence > r.watermark {
		r.watermark = e.Sequence
		r.haveWatermark = true
	}

	res := r.store.MergeLiveEntry(e)
	switch {
	case res.Duplicate:
		metrics.LiveEvents.WithLabelValues("duplicate").Inc()
	case res.Gap:
		metrics.LiveEvents.WithLabelValues("gap").Inc()
		r.log.Warn().Uint64("sequence", e.Sequence).Msg("Sequence gap in live entries")
	default:
		metrics.LiveEvents.WithLabelValues("inserted").Inc()
	}
	return res.Gap
}

// entryQueue buffers live entries between the subscription callback and the
// session loop. push never blocks.
type entryQueue struct {
	mu     sync.Mutex
	items  []domain.LedgerEntry
	signal chan struct{}
}

func newEntryQueue() *entryQueue {
	return &entryQueue{signal: make(chan struct{}, 1)}
}

func (q *entryQueue) push(e domain.LedgerEntry) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *entryQueue) drain() []domain.LedgerEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
