//go:build integration

package lease

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/zoku-engine/pkg/models"
	"github.com/ekaya-inc/zoku-engine/pkg/repositories"
	"github.com/ekaya-inc/zoku-engine/pkg/testhelpers"
)

func TestRedisLocker_ExclusiveUntilReleased(t *testing.T) {
	rdb := testhelpers.GetTestRedis(t)
	l := NewRedisLocker(rdb.Client)
	ctx := context.Background()
	sourceID := uuid.New()

	token, ok, err := l.Acquire(ctx, sourceID, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = l.Acquire(ctx, sourceID, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while the lease is held")

	require.NoError(t, l.Release(ctx, sourceID, "not-the-holder"))
	_, ok, err = l.Acquire(ctx, sourceID, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "release with a foreign token must not free the lease")

	require.NoError(t, l.Release(ctx, sourceID, token))
	_, ok, err = l.Acquire(ctx, sourceID, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLocker_Expires(t *testing.T) {
	rdb := testhelpers.GetTestRedis(t)
	l := NewRedisLocker(rdb.Client)
	ctx := context.Background()
	sourceID := uuid.New()

	_, ok, err := l.Acquire(ctx, sourceID, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(120 * time.Millisecond)
	_, ok, err = l.Acquire(ctx, sourceID, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease can be taken over")
}

func TestPostgresLocker(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	ctx, cleanup := engineDB.ScopedContext(t)
	defer cleanup()

	sources := repositories.NewSourceRepository()
	entanglementID := engineDB.CreateEntanglement(t, "lease test", nil)
	src := &models.Source{EntanglementID: entanglementID, Type: models.SourceTypeWebhook, Enabled: true}
	require.NoError(t, sources.Create(ctx, src, ""))

	l := NewPostgresLocker(sources)

	token, ok, err := l.Acquire(ctx, src.ID, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.Acquire(ctx, src.ID, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, src.ID, token))
	_, ok, err = l.Acquire(ctx, src.ID, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
