// Package store adapts the shared Redis cluster behind a typed interface:
// plain keys, hashes, prefix scans, pub/sub, and a serialized
// read-modify-write primitive. Every call goes through a circuit breaker so
// a dead cluster degrades into fast ErrUnavailable failures instead of
// piled-up timeouts.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/syncroom-live/syncroom/backend/go/internal/v1/logging"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/metrics"
	"go.uber.org/zap"
)

var (
	// ErrUnavailable means the backing service is unreachable or the
	// breaker is open. Callers treat this as transient.
	ErrUnavailable = errors.New("shared state store unavailable")

	// ErrContention means an atomic update lost the optimistic race more
	// times than the retry budget allows.
	ErrContention = errors.New("atomic update retry budget exhausted")
)

const (
	// atomicMaxRetries bounds WATCH/MULTI retries on contended keys.
	atomicMaxRetries = 16
	// atomicMaxWait bounds the total wall time of one AtomicUpdate.
	atomicMaxWait = 5 * time.Second
)

// Service handles all interaction with the Redis cluster.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// NewService creates a Redis connection and verifies it with a ping.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	slog.Info("Connected to Redis", "addr", addr)
	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// Client returns the underlying Redis client. Used by the rate limiter
// store and by tests; application code goes through the typed methods.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// execute runs op through the circuit breaker, translating an open breaker
// into ErrUnavailable.
func (s *Service) execute(op func() (any, error)) (any, error) {
	res, err := s.cb.Execute(op)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return nil, err
	}
	return res, nil
}

// Get returns the value at key. The second return is false when the key
// is absent.
func (s *Service) Get(ctx context.Context, key string) (string, bool, error) {
	res, err := s.execute(func() (any, error) {
		v, err := s.client.Get(ctx, key).Result()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		return "", false, err
	}
	if res == nil {
		return "", false, nil
	}
	return res.(string), true, nil
}

// Set writes value at key, last-writer-wins. A zero ttl means no expiry.
func (s *Service) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.client.Set(ctx, key, value, ttl).Err()
	})
	return err
}

// SetNX writes value at key only if the key is absent. Returns whether the
// write happened.
func (s *Service) SetNX(ctx context.Context, key, value string) (bool, error) {
	res, err := s.execute(func() (any, error) {
		return s.client.SetNX(ctx, key, value, 0).Result()
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Service) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.execute(func() (any, error) {
		return nil, s.client.Del(ctx, keys...).Err()
	})
	return err
}

// Exists reports whether key is present.
func (s *Service) Exists(ctx context.Context, key string) (bool, error) {
	res, err := s.execute(func() (any, error) {
		return s.client.Exists(ctx, key).Result()
	})
	if err != nil {
		return false, err
	}
	return res.(int64) > 0, nil
}

// ScanKeys returns every key matching prefix. SCAN, never KEYS: the sweep
// jobs run against live traffic.
func (s *Service) ScanKeys(ctx context.Context, prefix string) ([]string, error) {
	res, err := s.execute(func() (any, error) {
		var keys []string
		iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]string), nil
}

// HashSet writes one field of the hash at key.
func (s *Service) HashSet(ctx context.Context, key string, fields map[string]string) error {
	args := make([]any, 0, len(fields)*2)
	for f, v := range fields {
		args = append(args, f, v)
	}
	_, err := s.execute(func() (any, error) {
		return nil, s.client.HSet(ctx, key, args...).Err()
	})
	return err
}

// HashGetAll returns the full mapping of the hash at key. An absent key
// yields an empty map.
func (s *Service) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	res, err := s.execute(func() (any, error) {
		return s.client.HGetAll(ctx, key).Result()
	})
	if err != nil {
		return nil, err
	}
	return res.(map[string]string), nil
}

// HashDelete removes fields from the hash at key.
func (s *Service) HashDelete(ctx context.Context, key string, fields ...string) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.client.HDel(ctx, key, fields...).Err()
	})
	return err
}

// Publish fires payload at every current subscriber of channel.
func (s *Service) Publish(ctx context.Context, channel string, payload []byte) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.client.Publish(ctx, channel, payload).Err()
	})
	return err
}

// Subscribe starts a background goroutine delivering every message on
// channel to handler until ctx is cancelled. The handler runs on the
// listener goroutine and must hand off work instead of blocking.
func (s *Service) Subscribe(ctx context.Context, channel string, wg *sync.WaitGroup, handler func(payload []byte)) {
	pubsub := s.client.Subscribe(ctx, channel)

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer pubsub.Close()
		if wg != nil {
			defer wg.Done()
		}

		logging.Info(ctx, "Subscribed to channel", zap.String("channel", channel))

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					logging.Warn(ctx, "Subscription channel closed", zap.String("channel", channel))
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()
}

// AtomicUpdate performs a serialized read-modify-write on key. fn receives
// the current value (exists=false when absent) and returns the replacement.
// Implemented as an optimistic WATCH/MULTI transaction: concurrent updates
// on the same key never interleave, losers retry. fn must therefore be pure
// and idempotent; an error from fn aborts without writing and is returned
// verbatim.
func (s *Service) AtomicUpdate(ctx context.Context, key string, fn func(current string, exists bool) (string, error)) error {
	ctx, cancel := context.WithTimeout(ctx, atomicMaxWait)
	defer cancel()

	// A rejection from fn is a domain decision and a lost optimistic race is
	// ordinary contention; neither is a store failure, so both are smuggled
	// past the circuit breaker instead of counting against it.
	errRejected := errors.New("update rejected")
	var fnErr error
	var lostRace bool

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Result()
		exists := true
		if err == redis.Nil {
			exists = false
			current = ""
		} else if err != nil {
			return err
		}

		next, err := fn(current, exists)
		if err != nil {
			fnErr = err
			return errRejected
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, redis.KeepTTL)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < atomicMaxRetries; attempt++ {
		fnErr = nil
		lostRace = false
		_, err := s.execute(func() (any, error) {
			err := s.client.Watch(ctx, txf, key)
			if errors.Is(err, errRejected) {
				return nil, nil
			}
			if errors.Is(err, redis.TxFailedErr) {
				lostRace = true
				return nil, nil
			}
			return nil, err
		})
		if err != nil {
			return err
		}
		if lostRace {
			continue // another writer won the race, re-read and retry
		}
		if fnErr != nil {
			return fnErr
		}
		return nil
	}
	return ErrContention
}

// Ping checks connectivity. Used by health checks.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.execute(func() (any, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return err
}

// Close gracefully shuts down the connection pool.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
