package cursor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewTracker(rdb)
}

func TestGetEmptyWhenUnset(t *testing.T) {
	tracker := newTestTracker(t)

	cur, err := tracker.Get(context.Background(), "mb1")
	require.NoError(t, err)
	assert.Equal(t, "", cur)
}

func TestCommitAdvancesNumericCursor(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	ok, err := tracker.Commit(ctx, "mb1", "100")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tracker.Commit(ctx, "mb1", "250")
	require.NoError(t, err)
	assert.True(t, ok)

	cur, err := tracker.Get(ctx, "mb1")
	require.NoError(t, err)
	assert.Equal(t, "250", cur)
}

func TestCommitRejectsNumericRegression(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.Commit(ctx, "mb1", "250")
	require.NoError(t, err)

	// A stale worker committing an older history id must not move the
	// cursor backwards.
	ok, err := tracker.Commit(ctx, "mb1", "100")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = tracker.Commit(ctx, "mb1", "250")
	require.NoError(t, err)
	assert.False(t, ok)

	cur, err := tracker.Get(ctx, "mb1")
	require.NoError(t, err)
	assert.Equal(t, "250", cur)
}

func TestCommitOpaqueCursorAlwaysOverwrites(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	// Outlook delta tokens are opaque; ordering is enforced by the
	// mailbox lock, not by comparison.
	ok, err := tracker.Commit(ctx, "mb1", "deltatoken-aaa")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tracker.Commit(ctx, "mb1", "deltatoken-bbb")
	require.NoError(t, err)
	assert.True(t, ok)

	cur, err := tracker.Get(ctx, "mb1")
	require.NoError(t, err)
	assert.Equal(t, "deltatoken-bbb", cur)
}

func TestCommitEmptyCursorIsNoop(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	ok, err := tracker.Commit(ctx, "mb1", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWatchExpiryRoundTrip(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	got, err := tracker.WatchExpiry(ctx, "mb1")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	expires := time.Now().Add(70 * time.Hour).Truncate(time.Second)
	require.NoError(t, tracker.SetWatchExpiry(ctx, "mb1", expires))

	got, err = tracker.WatchExpiry(ctx, "mb1")
	require.NoError(t, err)
	assert.Equal(t, expires.Unix(), got.Unix())
}

func TestWithMailboxLockExcludesSecondHolder(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	ran := 0
	err := tracker.WithMailboxLock(ctx, "mb1", time.Minute, func(ctx context.Context) error {
		ran++
		// A competing worker finds the lock held and no-ops.
		return tracker.WithMailboxLock(ctx, "mb1", time.Minute, func(ctx context.Context) error {
			ran += 100
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, ran)
}
