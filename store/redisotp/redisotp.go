// Package redisotp stores one-time codes in Redis with native TTL
// expiry, as an alternative to the relational OTP tables for
// deployments that already run Redis.
package redisotp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vaultsync/authcore/otp"
)

var ErrUnavailable = errors.New("redisotp: redis unavailable")

// consumeScript deletes the code and its owner pointer atomically, so
// two concurrent consumes of one code cannot both observe it live.
// KEYS[1] = code key, KEYS[2] = owner pointer key.
var consumeScript = redis.NewScript(`
local deleted = redis.call('DEL', KEYS[1])
if deleted == 0 then
  return 0
end
redis.call('DEL', KEYS[2])
return 1
`)

type record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store implements otp.Store on Redis. Expiry rides on key TTLs;
// invalidation and use both delete, which preserves the single-use and
// one-active-code-per-user semantics of the relational adapter.
type Store struct {
	client redis.UniversalClient
	prefix string
}

func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "authotp"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) codeKey(kind otp.Kind, code string) string {
	return fmt.Sprintf("%s:%s:code:%s", s.prefix, kind, code)
}

func (s *Store) ownerKey(kind otp.Kind, userID string) string {
	return fmt.Sprintf("%s:%s:user:%s", s.prefix, kind, userID)
}

// idKey maps a record id back to its code key so MarkUsed can address
// the record the engine found.
func (s *Store) idKey(kind otp.Kind, id string) string {
	return fmt.Sprintf("%s:%s:id:%s", s.prefix, kind, id)
}

func (s *Store) InvalidateUnused(ctx context.Context, kind otp.Kind, userID string, _ time.Time) error {
	owner := s.ownerKey(kind, userID)
	code, err := s.client.Get(ctx, owner).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var rec record
	keys := []string{owner, s.codeKey(kind, code)}
	if data, err := s.client.Get(ctx, s.codeKey(kind, code)).Result(); err == nil {
		if json.Unmarshal([]byte(data), &rec) == nil {
			keys = append(keys, s.idKey(kind, rec.ID))
		}
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, kind otp.Kind, rec *otp.Record) error {
	data, err := json.Marshal(record{
		ID:        rec.ID,
		UserID:    rec.UserID,
		Code:      rec.Code,
		ExpiresAt: rec.ExpiresAt,
	})
	if err != nil {
		return err
	}

	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return errors.New("redisotp: record already expired")
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.codeKey(kind, rec.Code), data, ttl)
	pipe.Set(ctx, s.ownerKey(kind, rec.UserID), rec.Code, ttl)
	pipe.Set(ctx, s.idKey(kind, rec.ID), rec.Code, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Store) FindActive(ctx context.Context, kind otp.Kind, code string, now time.Time) (*otp.Record, error) {
	data, err := s.client.Get(ctx, s.codeKey(kind, code)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var rec record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("%w: corrupt record: %v", ErrUnavailable, err)
	}
	if !rec.ExpiresAt.After(now) {
		return nil, nil
	}
	return &otp.Record{
		ID:        rec.ID,
		UserID:    rec.UserID,
		Code:      rec.Code,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

func (s *Store) MarkUsed(ctx context.Context, kind otp.Kind, id string, _ time.Time) error {
	code, err := s.client.Get(ctx, s.idKey(kind, id)).Result()
	if errors.Is(err, redis.Nil) {
		return otp.ErrCodeInvalid
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var rec record
	if data, err := s.client.Get(ctx, s.codeKey(kind, code)).Result(); err == nil {
		_ = json.Unmarshal([]byte(data), &rec)
	}

	n, err := consumeScript.Run(ctx, s.client,
		[]string{s.codeKey(kind, code), s.ownerKey(kind, rec.UserID)},
	).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	_ = s.client.Del(ctx, s.idKey(kind, id)).Err()
	if n == 0 {
		return otp.ErrCodeInvalid
	}
	return nil
}
