package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	"github.com/drblury/busflow/internal/runtime/jsoncodec"
)

// DefaultRedisKeyPrefix namespaces saga keys.
const DefaultRedisKeyPrefix = "busflow:saga:"

type redisRecord struct {
	Version int64  `json:"version"`
	Data    []byte `json:"data"`
}

// RedisOption customises a RedisRepository.
type RedisOption func(*redisOptions)

type redisOptions struct {
	prefix string
	ttl    time.Duration
}

// WithRedisKeyPrefix replaces DefaultRedisKeyPrefix.
func WithRedisKeyPrefix(prefix string) RedisOption {
	return func(o *redisOptions) { o.prefix = prefix }
}

// WithRedisTTL expires instances that were not written for ttl. Zero keeps
// them until deleted.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(o *redisOptions) { o.ttl = ttl }
}

// RedisRepository stores instances as versioned JSON records. Inserts use SETNX
// and updates run inside WATCH/MULTI, so concurrent writers are detected.
type RedisRepository[S Saga] struct {
	client   redis.UniversalClient
	prefix   string
	ttl      time.Duration
	sagaType string
}

// NewRedisRepository pings client before returning the repository.
func NewRedisRepository[S Saga](ctx context.Context, client redis.UniversalClient, opts ...RedisOption) (*RedisRepository[S], error) {
	if client == nil {
		return nil, errspkg.NewConfigurationError("redis saga repository", errspkg.ErrRepositoryRequired)
	}
	o := redisOptions{prefix: DefaultRedisKeyPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisRepository[S]{
		client:   client,
		prefix:   o.prefix,
		ttl:      o.ttl,
		sagaType: typeName[S](),
	}, nil
}

func (r *RedisRepository[S]) key(id uuid.UUID) string {
	return r.prefix + r.sagaType + ":" + id.String()
}

func (r *RedisRepository[S]) Load(ctx context.Context, id uuid.UUID) (S, bool, error) {
	var zero S
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("redis get: %w", err)
	}
	var rec redisRecord
	if err := jsoncodec.Unmarshal(raw, &rec); err != nil {
		return zero, false, fmt.Errorf("decode saga record: %w", err)
	}
	instance, err := decodeInstance[S](rec.Data)
	if err != nil {
		return zero, false, err
	}
	setVersion(instance, rec.Version)
	return instance, true, nil
}

func (r *RedisRepository[S]) Insert(ctx context.Context, instance S) error {
	setVersion(instance, 1)
	raw, err := encodeRecord(instance, 1)
	if err != nil {
		return err
	}
	ok, err := r.client.SetNX(ctx, r.key(instance.CorrelationID()), raw, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", errspkg.ErrDuplicateSaga, instance.CorrelationID())
	}
	return nil
}

func (r *RedisRepository[S]) Update(ctx context.Context, instance S) error {
	id := instance.CorrelationID()
	key := r.key(id)

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s was removed", errspkg.ErrSagaConcurrency, id)
		}
		if err != nil {
			return fmt.Errorf("redis get: %w", err)
		}
		var current redisRecord
		if err := jsoncodec.Unmarshal(raw, &current); err != nil {
			return fmt.Errorf("decode saga record: %w", err)
		}
		if v, ok := any(instance).(Versioned); ok && v.Version() != current.Version {
			return fmt.Errorf("%w: %s expected version %d, stored %d",
				errspkg.ErrSagaConcurrency, id, v.Version(), current.Version)
		}

		next := current.Version + 1
		setVersion(instance, next)
		updated, err := encodeRecord(instance, next)
		if err != nil {
			setVersion(instance, current.Version)
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, r.ttl)
			return nil
		})
		if err != nil {
			setVersion(instance, current.Version)
		}
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: %s", errspkg.ErrSagaConcurrency, id)
	}
	return err
}

func (r *RedisRepository[S]) Delete(ctx context.Context, instance S) error {
	if err := r.client.Del(ctx, r.key(instance.CorrelationID())).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func encodeRecord[S Saga](instance S, version int64) ([]byte, error) {
	data, err := jsoncodec.Marshal(instance)
	if err != nil {
		return nil, fmt.Errorf("encode saga: %w", err)
	}
	raw, err := jsoncodec.Marshal(redisRecord{Version: version, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode saga record: %w", err)
	}
	return raw, nil
}
