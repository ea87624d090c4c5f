package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/resilience"
)

// RebuiltEvent is published on the snapshot-rebuilt topic by the statistics
// build job once a new snapshot is committed.
type RebuiltEvent struct {
	Version int64     `json:"version"`
	BuiltAt time.Time `json:"built_at"`
}

// SwapFunc is called after a new snapshot has been published.
type SwapFunc func(ctx context.Context, prev, next *Snapshot)

// Refresher keeps a Holder current. It loads at startup, on every rebuilt
// notification and on a fixed interval, skipping versions it already has.
type Refresher struct {
	loader   Loader
	holder   *Holder
	interval time.Duration
	retry    resilience.RetryConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu     sync.Mutex
	onSwap []SwapFunc
}

// NewRefresher creates a Refresher. m may be nil.
func NewRefresher(loader Loader, holder *Holder, interval time.Duration, m *metrics.Metrics) *Refresher {
	return &Refresher{
		loader:   loader,
		holder:   holder,
		interval: interval,
		retry: resilience.RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
		metrics: m,
		logger:  slog.Default().With("component", "snapshot-refresher"),
	}
}

// OnSwap registers fn to run after each successful swap.
func (r *Refresher) OnSwap(fn SwapFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSwap = append(r.onSwap, fn)
}

// LoadInitial loads the latest snapshot, retrying transient failures. A
// missing snapshot is not retried.
func (r *Refresher) LoadInitial(ctx context.Context) error {
	return resilience.Retry(ctx, "snapshot-initial-load", r.retry, func() error {
		_, err := r.Refresh(ctx)
		if errors.Is(err, errSnapshotMissing) {
			return resilience.Permanent(err)
		}
		return err
	})
}

var errSnapshotMissing = errors.New("no snapshot published")

// Refresh loads and publishes the latest snapshot if it is newer than the
// current one. It reports whether a swap happened.
func (r *Refresher) Refresh(ctx context.Context) (bool, error) {
	latest, err := r.loader.LatestVersion(ctx)
	if err != nil {
		r.count("error")
		if errors.Is(err, apperrors.ErrSnapshotNotFound) {
			return false, fmt.Errorf("%w: %v", errSnapshotMissing, err)
		}
		return false, fmt.Errorf("checking latest snapshot version: %w", err)
	}
	return r.refreshTo(ctx, latest)
}

func (r *Refresher) refreshTo(ctx context.Context, version int64) (bool, error) {
	if version <= r.holder.Version() {
		r.count("unchanged")
		return false, nil
	}
	snap, err := r.loader.Load(ctx, version)
	if err != nil {
		r.count("error")
		return false, fmt.Errorf("loading snapshot %d: %w", version, err)
	}
	if err := snap.Validate(); err != nil {
		r.count("error")
		return false, fmt.Errorf("rejecting snapshot %d: %w", version, err)
	}
	prev, swapped := r.holder.Swap(snap)
	if !swapped {
		r.count("unchanged")
		return false, nil
	}
	r.count("swapped")
	if r.metrics != nil {
		r.metrics.SnapshotVersion.Set(float64(snap.Version))
		r.metrics.SnapshotDocuments.Set(float64(snap.TotalDocuments))
	}
	r.logger.Info("snapshot swapped",
		"version", snap.Version,
		"total_documents", snap.TotalDocuments,
		"terms", len(snap.DocumentFrequency),
	)

	r.mu.Lock()
	hooks := append([]SwapFunc(nil), r.onSwap...)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn(ctx, prev, snap)
	}
	return true, nil
}

// HandleRebuilt is a kafka.MessageHandler for snapshot-rebuilt notifications.
func (r *Refresher) HandleRebuilt(ctx context.Context, _ []byte, value []byte) error {
	event, err := kafka.DecodeJSON[RebuiltEvent](value)
	if err != nil {
		r.logger.Warn("dropping malformed rebuilt event", "error", err)
		return nil
	}
	r.logger.Debug("snapshot rebuilt notification", "version", event.Version)
	_, err = r.refreshTo(ctx, event.Version)
	return err
}

// Run refreshes on a ticker until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Refresh(ctx); err != nil {
				r.logger.Warn("periodic snapshot refresh failed", "error", err)
			}
		}
	}
}

func (r *Refresher) count(status string) {
	if r.metrics != nil {
		r.metrics.SnapshotSwapsTotal.WithLabelValues(status).Inc()
	}
}
