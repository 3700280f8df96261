package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/sibylhq/sibyl/internal/domain/models"
)

const (
	emailCodePrefix  = "sibyl:email_code:"
	counterPrefix    = "sibyl:counter:"
	lastAnswerPrefix = "sibyl:last_answer:"
)

// KV implements ports.KVStore on Redis. Cached messages are msgpack
// encoded to keep the payloads compact.
type KV struct {
	client *redis.Client
}

// NewKV connects to Redis and verifies the connection.
func NewKV(ctx context.Context, addr, password string, db int) (*KV, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &KV{client: client}, nil
}

// Close releases the underlying connection pool.
func (k *KV) Close() error {
	return k.client.Close()
}

// SetEmailCode stores a verification code for an email address.
func (k *KV) SetEmailCode(ctx context.Context, email, code string, ttl time.Duration) error {
	return k.client.Set(ctx, emailCodePrefix+email, code, ttl).Err()
}

// VerifyEmailCode checks a verification code and consumes it on a match.
// A missing or expired code verifies as false without error.
func (k *KV) VerifyEmailCode(ctx context.Context, email, code string) (bool, error) {
	key := emailCodePrefix + email
	stored, err := k.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get email code: %w", err)
	}
	if stored != code {
		return false, nil
	}
	if err := k.client.Del(ctx, key).Err(); err != nil {
		return false, fmt.Errorf("consume email code: %w", err)
	}
	return true, nil
}

// IncrCounter increments a named counter, setting the expiry window on
// first use. A non-positive window makes the counter persistent.
func (k *KV) IncrCounter(ctx context.Context, name string, window time.Duration) (int64, error) {
	key := counterPrefix + name
	n, err := k.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr counter %s: %w", name, err)
	}
	if n == 1 && window > 0 {
		if err := k.client.Expire(ctx, key, window).Err(); err != nil {
			return n, fmt.Errorf("expire counter %s: %w", name, err)
		}
	}
	return n, nil
}

// GetCounter reads a named counter; missing counters read as zero.
func (k *KV) GetCounter(ctx context.Context, name string) (int64, error) {
	n, err := k.client.Get(ctx, counterPrefix+name).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get counter %s: %w", name, err)
	}
	return n, nil
}

// SetLastAnswer caches the most recent AI message of a session.
func (k *KV) SetLastAnswer(ctx context.Context, sessionID string, message *models.Message, ttl time.Duration) error {
	data, err := encodeMessage(message)
	if err != nil {
		return err
	}
	return k.client.Set(ctx, lastAnswerPrefix+sessionID, data, ttl).Err()
}

// GetLastAnswer returns the cached last AI message of a session, or nil
// when none is cached.
func (k *KV) GetLastAnswer(ctx context.Context, sessionID string) (*models.Message, error) {
	data, err := k.client.Get(ctx, lastAnswerPrefix+sessionID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last answer: %w", err)
	}
	return decodeMessage(data)
}

// Delete removes a raw key.
func (k *KV) Delete(ctx context.Context, key string) error {
	return k.client.Del(ctx, key).Err()
}

func encodeMessage(message *models.Message) ([]byte, error) {
	data, err := msgpack.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

func decodeMessage(data []byte) (*models.Message, error) {
	var message models.Message
	if err := msgpack.Unmarshal(data, &message); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &message, nil
}
