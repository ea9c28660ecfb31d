package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	pkgerrors "github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

type RedisTestSuite struct {
	suite.Suite
	mr     *miniredis.Miniredis
	client *Client
	cache  Cache
}

func (s *RedisTestSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.client = NewClientFromUniversal(goredis.NewClient(&goredis.Options{Addr: s.mr.Addr()}), nil, nil)
	s.cache = NewRedisCache(s.client, nil, WithPrefix("test:"), WithoutJitter())
}

func (s *RedisTestSuite) TearDownTest() {
	_ = s.client.Close()
}

type stagePayload struct {
	Annotations []string `json:"annotations"`
}

func (s *RedisTestSuite) TestSetGet() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Set(ctx, "stage:validation:abc", stagePayload{Annotations: []string{"ok"}}, time.Minute))
	s.True(s.mr.Exists("test:stage:validation:abc"))
	s.Equal(time.Minute, s.mr.TTL("test:stage:validation:abc"))

	var got stagePayload
	s.Require().NoError(s.cache.Get(ctx, "stage:validation:abc", &got))
	s.Equal([]string{"ok"}, got.Annotations)
}

func (s *RedisTestSuite) TestMiss() {
	var got stagePayload
	err := s.cache.Get(context.Background(), "absent", &got)
	s.ErrorIs(err, ErrCacheMiss)
	s.True(pkgerrors.IsCode(err, pkgerrors.ErrCodeNotFound))
}

func (s *RedisTestSuite) TestCorruptValue() {
	s.Require().NoError(s.mr.Set("test:bad", "{not json"))
	var got stagePayload
	err := s.cache.Get(context.Background(), "bad", &got)
	s.True(pkgerrors.IsCode(err, pkgerrors.ErrCodeSerialization))
}

func (s *RedisTestSuite) TestExpiry() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Set(ctx, "k", stagePayload{}, time.Second))
	s.mr.FastForward(2 * time.Second)
	ok, err := s.cache.Exists(ctx, "k")
	s.NoError(err)
	s.False(ok)
}

func (s *RedisTestSuite) TestDeleteByPrefix() {
	ctx := context.Background()
	for _, k := range []string{"stage:validation:1", "stage:validation:2", "stage:enhancement:1"} {
		s.Require().NoError(s.cache.Set(ctx, k, stagePayload{}, time.Minute))
	}
	n, err := s.cache.DeleteByPrefix(ctx, "stage:validation:")
	s.NoError(err)
	s.Equal(int64(2), n)
	ok, _ := s.cache.Exists(ctx, "stage:enhancement:1")
	s.True(ok)
}

func (s *RedisTestSuite) TestClosedClient() {
	s.Require().NoError(s.client.Close())
	s.NoError(s.client.Close())
	s.ErrorIs(s.client.Ping(context.Background()), ErrClientClosed)
	s.ErrorIs(s.cache.Set(context.Background(), "k", 1, 0), ErrClientClosed)
}

func (s *RedisTestSuite) TestDocumentLock() {
	ctx := context.Background()
	l, ok, err := TryLockDocument(ctx, s.client, "doc-1", time.Minute)
	s.Require().NoError(err)
	s.Require().True(ok)

	_, ok, err = TryLockDocument(ctx, s.client, "doc-1", time.Minute)
	s.NoError(err)
	s.False(ok, "second owner is refused")

	s.NoError(l.Unlock(ctx))
	s.ErrorIs(l.Unlock(ctx), ErrLockNotHeld)

	_, ok, err = TryLockDocument(ctx, s.client, "doc-1", time.Minute)
	s.NoError(err)
	s.True(ok)
}

func TestRedisTestSuite(t *testing.T) {
	suite.Run(t, new(RedisTestSuite))
}

func TestNewClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err := NewClient(&RedisConfig{Addr: addr, DialTimeout: 100 * time.Millisecond, MaxRetries: -1}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestNewClient_Standalone(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewClient(&RedisConfig{Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	defer c.Close()
	assert.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, 3, c.config.MaxRetries)
}

//Personal.AI order the ending
