package locks

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"mailpilot-backend/pkg/redis"
)

// Guard enforces at-most-one concurrent executor per (mailbox, message)
// via SET NX with a TTL. A crashed worker's claim self-heals when the
// TTL expires.
type Guard struct {
	rdb *goredis.Client
	ttl time.Duration
}

func NewGuard(rdb *goredis.Client, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = 45 * time.Second
	}
	return &Guard{rdb: rdb, ttl: ttl}
}

// releaseScript deletes the claim only if the stored owner matches, so a
// worker that lost its claim to TTL expiry cannot release a successor's.
var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// TryClaim attempts to claim processing of a message. Returns false when
// another worker (or a duplicate delivery) already holds the claim.
func (g *Guard) TryClaim(ctx context.Context, mailboxID, messageID, owner string) (bool, error) {
	key := redis.Keys.ProcessingLock(mailboxID, messageID)
	return g.rdb.SetNX(ctx, key, owner, g.ttl).Result()
}

// Release drops the claim after successful processing.
func (g *Guard) Release(ctx context.Context, mailboxID, messageID, owner string) error {
	key := redis.Keys.ProcessingLock(mailboxID, messageID)
	return releaseScript.Run(ctx, g.rdb, []string{key}, owner).Err()
}

// Extend refreshes the TTL mid-processing when classification runs long.
func (g *Guard) Extend(ctx context.Context, mailboxID, messageID string) error {
	key := redis.Keys.ProcessingLock(mailboxID, messageID)
	return g.rdb.Expire(ctx, key, g.ttl).Err()
}

// PauseMailbox flags a mailbox as rate-limited for the cooldown window.
func (g *Guard) PauseMailbox(ctx context.Context, mailboxID string, cooldown time.Duration) error {
	return g.rdb.Set(ctx, redis.Keys.MailboxCooldown(mailboxID), "1", cooldown).Err()
}

// IsPaused reports whether a mailbox is inside a rate-limit cooldown.
func (g *Guard) IsPaused(ctx context.Context, mailboxID string) (bool, error) {
	n, err := g.rdb.Exists(ctx, redis.Keys.MailboxCooldown(mailboxID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
