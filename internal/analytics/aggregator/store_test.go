package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/postgres/pgtest"
)

func TestSaveAndLoadSnapshots(t *testing.T) {
	pg := pgtest.Open(t, "retrieval_analytics_snapshots")
	store := NewStore(pg)
	ctx := context.Background()

	latest, err := store.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	require.NoError(t, store.SaveSnapshot(ctx, analytics.AggregatedStats{TotalRetrievals: 1}))
	require.NoError(t, store.SaveSnapshot(ctx, analytics.AggregatedStats{
		TotalRetrievals: 2,
		Stages:          map[string]int64{"strict": 2},
	}))

	latest, err = store.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(2), latest.TotalRetrievals)
	assert.Equal(t, int64(2), latest.Stages["strict"])

	list, err := store.ListSnapshots(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestPersistSavesOnShutdown(t *testing.T) {
	pg := pgtest.Open(t, "retrieval_analytics_snapshots")
	store := NewStore(pg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.Persist(ctx, func() analytics.AggregatedStats {
			return analytics.AggregatedStats{TotalRetrievals: 42}
		}, time.Hour)
		close(done)
	}()
	cancel()
	<-done

	latest, err := store.LatestSnapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(42), latest.TotalRetrievals)
}
