package cursor

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	goredis "github.com/redis/go-redis/v9"

	"mailpilot-backend/pkg/redis"
)

// Tracker persists the last-processed provider cursor (Gmail historyId /
// Outlook delta token) and the watch expiry per mailbox. Commits are
// single-writer per mailbox: callers wrap delta-fetch + dispatch + commit
// in WithMailboxLock.
type Tracker struct {
	rdb    *goredis.Client
	locker *redislock.Client
}

func NewTracker(rdb *goredis.Client) *Tracker {
	return &Tracker{
		rdb:    rdb,
		locker: redislock.New(rdb),
	}
}

// commitScript refuses numeric regression: Gmail history ids are
// monotonically increasing integers, so a stale commit must not move the
// cursor backwards. Opaque (non-numeric) cursors always overwrite; the
// mailbox lock serializes those.
var commitScript = goredis.NewScript(`
local current = redis.call("hget", KEYS[1], "cursor")
local new = ARGV[1]
if current and tonumber(current) and tonumber(new) then
	if tonumber(new) <= tonumber(current) then
		return 0
	end
end
redis.call("hset", KEYS[1], "cursor", new)
return 1
`)

// Get returns the stored cursor for a mailbox, empty when none exists.
func (t *Tracker) Get(ctx context.Context, mailboxID string) (string, error) {
	val, err := t.rdb.HGet(ctx, redis.Keys.CursorState(mailboxID), "cursor").Result()
	if err == goredis.Nil {
		return "", nil
	}
	return val, err
}

// Commit advances the cursor after the delta's message ids have been
// handed to the pipeline. Returns false when the commit was rejected as
// a regression.
func (t *Tracker) Commit(ctx context.Context, mailboxID, newCursor string) (bool, error) {
	if newCursor == "" {
		return false, nil
	}
	n, err := commitScript.Run(ctx, t.rdb, []string{redis.Keys.CursorState(mailboxID)}, newCursor).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetWatchExpiry records when the provider push subscription lapses.
func (t *Tracker) SetWatchExpiry(ctx context.Context, mailboxID string, expires time.Time) error {
	return t.rdb.HSet(ctx, redis.Keys.CursorState(mailboxID), "watch_expiry", expires.Unix()).Err()
}

// WatchExpiry returns the stored subscription expiry, zero when unset.
func (t *Tracker) WatchExpiry(ctx context.Context, mailboxID string) (time.Time, error) {
	val, err := t.rdb.HGet(ctx, redis.Keys.CursorState(mailboxID), "watch_expiry").Int64()
	if err == goredis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(val, 0), nil
}

// WithMailboxLock runs fn while holding the per-mailbox cursor lock,
// enforcing the single-writer invariant across processes. A held lock
// means another worker is already draining this mailbox's delta; that is
// not an error.
func (t *Tracker) WithMailboxLock(ctx context.Context, mailboxID string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lock, err := t.locker.Obtain(ctx, redis.Keys.CursorLock(mailboxID), ttl, nil)
	if err == redislock.ErrNotObtained {
		return nil
	}
	if err != nil {
		return fmt.Errorf("unable to obtain cursor lock for mailbox %s: %w", mailboxID, err)
	}
	defer lock.Release(context.WithoutCancel(ctx))

	return fn(ctx)
}
