// Package runlock provides a lease held in Redis that keeps scheduled renewal
// passes from overlapping across replicas.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var (
	// ErrNotAcquired is returned when another holder owns the key.
	ErrNotAcquired = errors.New("runlock: lock held elsewhere")
	// ErrLeaseLost is returned by Release when the lease expired or was
	// taken over before release.
	ErrLeaseLost = errors.New("runlock: lease lost")
)

// Lease is a held lock.
type Lease interface {
	Key() string
	Release(ctx context.Context) error
}

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	client *redis.Client
	token  func() string
}

func NewLocker(client *redis.Client) *Locker {
	return &Locker{
		client: client,
		token:  func() string { return uuid.NewString() },
	}
}

// Acquire takes key for ttl. The lease expires on its own if the holder dies.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if key == "" {
		return nil, fmt.Errorf("runlock: empty key")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("runlock: ttl must be positive")
	}

	token := l.token()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("runlock: set %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &lease{client: l.client, key: key, token: token}, nil
}

type lease struct {
	client *redis.Client
	key    string
	token  string
}

func (l *lease) Key() string { return l.key }

func (l *lease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("runlock: release %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}
