package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"ledger-mirror/config"
	"ledger-mirror/internal/core/domain"
	"ledger-mirror/internal/core/ports"
	"ledger-mirror/pkg/apperror"
	"ledger-mirror/pkg/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// SnapshotReport describes one snapshot load.
type SnapshotReport struct {
	Summary domain.LedgerSummary
	Fetched int      // entries read successfully
	Skipped []uint64 // indices whose read failed
	Applied bool     // the store changed
}

const snapshotKey = "snapshot"

// SnapshotLoader reads the aggregate and the newest window of entries and
// applies them to the store as one snapshot. Concurrent loads share a
// single in-flight read; reads themselves never overlap.
type SnapshotLoader struct {
	gateway     ports.LedgerGateway
	store       *Store
	cache       ports.SnapshotCache // optional
	window      int
	concurrency int
	limiter     *rate.Limiter // nil = unlimited
	group       singleflight.Group
	running     chan struct{} // held while a load reads the ledger
	log         zerolog.Logger
}

// NewSnapshotLoader creates a loader. cache may be nil.
func NewSnapshotLoader(
	gateway ports.LedgerGateway,
	store *Store,
	cache ports.SnapshotCache,
	cfg config.SnapshotConfig,
	log zerolog.Logger,
) *SnapshotLoader {
	l := &SnapshotLoader{
		gateway:     gateway,
		store:       store,
		cache:       cache,
		window:      cfg.Window,
		concurrency: cfg.Concurrency,
		running:     make(chan struct{}, 1),
		log:         log,
	}
	if l.window <= 0 {
		l.window = 50
	}
	if l.concurrency <= 0 {
		l.concurrency = 1
	}
	if cfg.ReadsPerSec > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(cfg.ReadsPerSec), l.concurrency)
	}
	return l
}

// Load runs one snapshot load, or joins the one already running.
func (l *SnapshotLoader) Load(ctx context.Context) (SnapshotReport, error) {
	v, err, shared := l.group.Do(snapshotKey, func() (interface{}, error) {
		return l.load(ctx)
	})
	if shared {
		l.log.Debug().Msg("Joined in-flight snapshot load")
	}
	if err != nil {
		return SnapshotReport{}, err
	}
	return v.(SnapshotReport), nil
}

// Refresh runs a load that reads the ledger after the call is made. A load
// already in flight is not joined: Refresh waits for it to finish and then
// reads again on its own ctx.
func (l *SnapshotLoader) Refresh(ctx context.Context) (SnapshotReport, error) {
	l.group.Forget(snapshotKey)
	return l.Load(ctx)
}

func (l *SnapshotLoader) load(ctx context.Context) (SnapshotReport, error) {
	select {
	case l.running <- struct{}{}:
	case <-ctx.Done():
		return SnapshotReport{}, ctx.Err()
	}
	defer func() { <-l.running }()

	start := time.Now()
	defer func() { metrics.SnapshotDuration.Observe(time.Since(start).Seconds()) }()

	summary, err := l.gateway.ReadAggregate(ctx)
	if err != nil {
		metrics.SnapshotRuns.WithLabelValues("failed").Inc()
		if errors.Is(err, ports.ErrNotConfigured) {
			return SnapshotReport{}, apperror.ErrNotConfigured(err)
		}
		l.log.Warn().Err(err).Msg("Failed to read ledger aggregate")
		return SnapshotReport{}, apperror.ErrLedgerUnavailable(err)
	}

	count := summary.EntryCount
	var lo uint64
	if count > uint64(l.window) {
		lo = count - uint64(l.window)
	}
	n := int(count - lo)

	// results[i] holds index count-1-i, newest first.
	results := make([]domain.LedgerEntry, n)
	ok := make([]bool, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i := 0; i < n; i++ {
		i := i
		index := count - 1 - uint64(i)
		g.Go(func() error {
			if l.limiter != nil {
				if err := l.limiter.Wait(gctx); err != nil {
					return err
				}
			}
			e, err := l.gateway.ReadEntry(gctx, index)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				l.log.Warn().Err(err).Uint64("index", index).Msg("Skipping unreadable entry")
				return nil
			}
			e.Sequence = index
			e.Source = domain.EntrySourceSnapshot
			results[i] = e
			ok[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.SnapshotRuns.WithLabelValues("failed").Inc()
		return SnapshotReport{}, err
	}

	report := SnapshotReport{Summary: summary}
	entries := make([]domain.LedgerEntry, 0, n)
	for i := range results {
		if !ok[i] {
			report.Skipped = append(report.Skipped, count-1-uint64(i))
			continue
		}
		entries = append(entries, results[i])
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Sequence < entries[j].Sequence })
	sort.Slice(report.Skipped, func(i, j int) bool { return report.Skipped[i] < report.Skipped[j] })
	report.Fetched = len(entries)
	metrics.SnapshotSkippedEntries.Add(float64(len(report.Skipped)))

	report.Applied = l.store.ApplySnapshot(entries, summary)
	if report.Applied {
		metrics.SnapshotRuns.WithLabelValues("applied").Inc()
	} else {
		metrics.SnapshotRuns.WithLabelValues("unchanged").Inc()
	}

	l.log.Info().
		Uint64("entry_count", count).
		Int("fetched", report.Fetched).
		Int("skipped", len(report.Skipped)).
		Bool("applied", report.Applied).
		Dur("took", time.Since(start)).
		Msg("Snapshot loaded")

	if l.cache != nil {
		snap := domain.Snapshot{Summary: summary, Entries: entries, TakenAt: time.Now().UTC()}
		if err := l.cache.Save(ctx, snap); err != nil {
			l.log.Warn().Err(err).Msg("Failed to cache snapshot")
		}
	}
	return report, nil
}

// Restore applies the cached snapshot, if any, to a store that has not yet
// seen one. It lets the mirror render before the first live load finishes.
func (l *SnapshotLoader) Restore(ctx context.Context) (bool, error) {
	if l.cache == nil || l.store.HasBaseline() {
		return false, nil
	}
	snap, err := l.cache.Load(ctx)
	if err != nil {
		return false, err
	}
	if snap == nil {
		return false, nil
	}
	applied := l.store.ApplySnapshot(snap.Entries, snap.Summary)
	l.log.Info().
		Uint64("entry_count", snap.Summary.EntryCount).
		Time("taken_at", snap.TakenAt).
		Msg("Restored cached snapshot")
	return applied, nil
}
