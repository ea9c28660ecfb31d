package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

var ErrLockNotHeld = errors.New(errors.ErrCodeConflict, "lock not held by this owner")

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// DocumentLock is a single-owner lease on a document id. The worker takes one
// before processing so a redelivered message is not extracted twice at once.
type DocumentLock struct {
	client *Client
	key    string
	token  string
}

// TryLockDocument attempts to take the lease without waiting. ok is false when
// another owner holds it.
func TryLockDocument(ctx context.Context, client *Client, documentID string, ttl time.Duration) (lock *DocumentLock, ok bool, err error) {
	if client.isClosed() {
		return nil, false, ErrClientClosed
	}
	l := &DocumentLock{client: client, key: "lexextract:lock:doc:" + documentID, token: uuid.NewString()}
	ok, err = client.rdb.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return nil, false, errors.Wrap(err, errors.ErrCodeCacheError, "acquire document lock")
	}
	if !ok {
		return nil, false, nil
	}
	return l, true, nil
}

// Unlock releases the lease if this owner still holds it.
func (l *DocumentLock) Unlock(ctx context.Context) error {
	n, err := unlockScript.Run(ctx, l.client.rdb, []string{l.key}, l.token).Int64()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "release document lock")
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

//Personal.AI order the ending
