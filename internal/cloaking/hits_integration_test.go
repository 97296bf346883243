//go:build integration

package cloaking

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelgate/internal/testinfra"
)

func TestPostgresHitRecorder_ConcurrentHits(t *testing.T) {
	infra := testinfra.Setup(t, testinfra.Options{Postgres: true})
	db := infra.PostgresDB

	siteID := testinfra.InsertSite(t, db, "hits-site", true, true, false)
	r1 := testinfra.InsertRule(t, db, siteID, "R1", "country", "substring", "DE", "warning_page", "active", 0)
	r2 := testinfra.InsertRule(t, db, siteID, "R2", "device_type", "substring", "mobile", "safe_page", "active", 1)

	recorder := NewPostgresHitRecorder(db)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- recorder.RecordHit(context.Background(), r1)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var hits1, hits2 int64
	require.NoError(t, db.QueryRow(`SELECT hits FROM cloaking_rules WHERE id = $1`, r1).Scan(&hits1))
	require.NoError(t, db.QueryRow(`SELECT hits FROM cloaking_rules WHERE id = $1`, r2).Scan(&hits2))
	assert.Equal(t, int64(n), hits1)
	assert.Equal(t, int64(0), hits2)
}

func TestPostgresHitRecorder_UnknownRule(t *testing.T) {
	infra := testinfra.Setup(t, testinfra.Options{Postgres: true})

	err := NewPostgresHitRecorder(infra.PostgresDB).RecordHit(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrRuleNotFound)
}
