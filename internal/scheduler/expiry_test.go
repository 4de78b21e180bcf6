package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) CheckAndUpdateExpiredCards(context.Context) (int, error) {
	s.calls.Add(1)
	return 2, s.err
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRunOnceSweeps(t *testing.T) {
	sweeper := &countingSweeper{}
	s, err := NewExpirySweeper("0 0 * * *", sweeper, NewRedisLocker(newRedis(t), time.Minute), nil)
	require.NoError(t, err)

	require.NoError(t, s.RunOnce(context.Background()))
	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, int32(2), sweeper.calls.Load())
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	client := newRedis(t)
	other := redsync.New(goredis.NewPool(client)).NewMutex(expiryLockKey, redsync.WithExpiry(time.Minute))
	require.NoError(t, other.Lock())
	t.Cleanup(func() { _, _ = other.Unlock() })

	sweeper := &countingSweeper{}
	s, err := NewExpirySweeper("0 0 * * *", sweeper, NewRedisLocker(client, time.Minute), nil)
	require.NoError(t, err)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, int32(0), sweeper.calls.Load())

	err = NewRedisLocker(client, time.Minute).WithLock(context.Background(), expiryLockKey, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrLockHeld)
}

func TestWithLockReleasesAfterFailure(t *testing.T) {
	client := newRedis(t)
	locker := NewRedisLocker(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, locker.WithLock(ctx, "lock:test", func(context.Context) error { return nil }))
	err := locker.WithLock(ctx, "lock:test", func(context.Context) error { return errors.New("boom") })
	assert.EqualError(t, err, "boom")

	ran := false
	require.NoError(t, locker.WithLock(ctx, "lock:test", func(context.Context) error { ran = true; return nil }))
	assert.True(t, ran)
	assert.Zero(t, client.Exists(ctx, "lock:test").Val())
}

func TestRunOnceReportsRedisOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	sweeper := &countingSweeper{}
	s, err := NewExpirySweeper("0 0 * * *", sweeper, NewRedisLocker(client, time.Minute), nil)
	require.NoError(t, err)

	err = s.RunOnce(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrLockHeld))
	assert.Equal(t, int32(0), sweeper.calls.Load())
}

func TestRunOnceReportsSweepFailure(t *testing.T) {
	sweeper := &countingSweeper{err: errors.New("db down")}
	s, err := NewExpirySweeper("@daily", sweeper, nil, nil)
	require.NoError(t, err)

	assert.Error(t, s.RunOnce(context.Background()))
	assert.Equal(t, int32(1), sweeper.calls.Load())
}

func TestNewExpirySweeperRejectsBadSpec(t *testing.T) {
	_, err := NewExpirySweeper("every now and then", &countingSweeper{}, nil, nil)
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	s, err := NewExpirySweeper("@every 1h", &countingSweeper{}, nil, nil)
	require.NoError(t, err)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
