package locks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(t *testing.T) (*Guard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewGuard(rdb, 45*time.Second), mr
}

func TestTryClaimBlocksDuplicates(t *testing.T) {
	guard, _ := newTestGuard(t)
	ctx := context.Background()

	ok, err := guard.TryClaim(ctx, "mb1", "msg1", "worker-a")
	require.NoError(t, err)
	assert.True(t, ok)

	// A duplicate notification for the same message must not claim.
	ok, err = guard.TryClaim(ctx, "mb1", "msg1", "worker-b")
	require.NoError(t, err)
	assert.False(t, ok)

	// A different message is unaffected.
	ok, err = guard.TryClaim(ctx, "mb1", "msg2", "worker-b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseOnlyByOwner(t *testing.T) {
	guard, _ := newTestGuard(t)
	ctx := context.Background()

	ok, err := guard.TryClaim(ctx, "mb1", "msg1", "worker-a")
	require.NoError(t, err)
	require.True(t, ok)

	// A non-owner release must leave the claim standing.
	require.NoError(t, guard.Release(ctx, "mb1", "msg1", "worker-b"))
	ok, err = guard.TryClaim(ctx, "mb1", "msg1", "worker-c")
	require.NoError(t, err)
	assert.False(t, ok)

	// The owner's release frees it.
	require.NoError(t, guard.Release(ctx, "mb1", "msg1", "worker-a"))
	ok, err = guard.TryClaim(ctx, "mb1", "msg1", "worker-c")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClaimExpiresWithTTL(t *testing.T) {
	guard, mr := newTestGuard(t)
	ctx := context.Background()

	ok, err := guard.TryClaim(ctx, "mb1", "msg1", "worker-a")
	require.NoError(t, err)
	require.True(t, ok)

	// A crashed worker never releases; the TTL self-heals the claim.
	mr.FastForward(46 * time.Second)

	ok, err = guard.TryClaim(ctx, "mb1", "msg1", "worker-b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPauseMailbox(t *testing.T) {
	guard, mr := newTestGuard(t)
	ctx := context.Background()

	paused, err := guard.IsPaused(ctx, "mb1")
	require.NoError(t, err)
	assert.False(t, paused)

	require.NoError(t, guard.PauseMailbox(ctx, "mb1", time.Minute))

	paused, err = guard.IsPaused(ctx, "mb1")
	require.NoError(t, err)
	assert.True(t, paused)

	mr.FastForward(61 * time.Second)
	paused, err = guard.IsPaused(ctx, "mb1")
	require.NoError(t, err)
	assert.False(t, paused)
}
