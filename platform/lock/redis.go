package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned when a lease was lost or taken by someone else.
var ErrNotHeld = errors.New("lock not held")

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease is a Redis lock acquired with SET NX PX.
type Lease struct {
	client redis.UniversalClient
	key    string
	token  string
}

// Acquire takes key for ttl. ok is false when another holder has it.
func Acquire(ctx context.Context, client redis.UniversalClient, key string, ttl time.Duration) (*Lease, bool, error) {
	token := uuid.NewString()
	ok, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{client: client, key: key, token: token}, true, nil
}

// Release gives the lease back. Releasing an expired or stolen lease
// returns ErrNotHeld and leaves the new holder alone.
func (l *Lease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
