package sample

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

const defaultRateKeyPrefix = "intake:sample:kept:"

// RedisRateSource coordinates the sample rate across every collector sharing
// a Redis. Each instance adds its kept count to a counter for the current
// time window, and all of them derive the rate from the previous, complete
// window, so they converge on the same value.
type RedisRateSource struct {
	Client    redis.UniversalClient
	Target    int
	KeyPrefix string
	Clock     clockwork.Clock
}

func (s *RedisRateSource) NextRate(ctx context.Context, kept int64, interval time.Duration, current float64) (float64, error) {
	if s.Clock == nil {
		s.Clock = clockwork.NewRealClock()
	}
	prefix := s.KeyPrefix
	if prefix == "" {
		prefix = defaultRateKeyPrefix
	}

	secs := int64(interval / time.Second)
	if secs < 1 {
		secs = 1
	}
	window := s.Clock.Now().Unix() / secs
	key := prefix + strconv.FormatInt(window, 10)
	prevKey := prefix + strconv.FormatInt(window-1, 10)

	pipe := s.Client.TxPipeline()
	pipe.IncrBy(ctx, key, kept)
	pipe.Expire(ctx, key, 3*time.Duration(secs)*time.Second)
	prev := pipe.Get(ctx, prevKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return current, err
	}

	total, err := prev.Int64()
	if errors.Is(err, redis.Nil) {
		// first window anyone has reported in; nothing to go on yet
		return current, nil
	}
	if err != nil {
		return current, err
	}
	return rateForThroughput(s.Target, total, time.Duration(secs)*time.Second, current), nil
}
