package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis hash field names. History is serialized as JSON text so the
// record stays a flat hash with a single TTL.
const (
	fieldUserID      = "user_id"
	fieldDisplayName = "display_name"
	fieldCreatedAt   = "created_at"
	fieldHistory     = "history"
)

// RedisConfig holds connection settings for the Redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RedisStore persists chat states as one Redis hash per user under
// "chatstate:<user_id>" with a sliding TTL refreshed on every write.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisStore creates a Redis-backed store. A ttl of 0 uses DefaultTTL.
func NewRedisStore(cfg RedisConfig, ttl time.Duration, logger *slog.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl:    ttl,
		logger: logger.With("component", "state.redis"),
	}
}

// Ping verifies the connection. Called once at startup.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func stateKey(userID string) string {
	return "chatstate:" + userID
}

func (r *RedisStore) Get(ctx context.Context, userID string) (*ChatState, error) {
	fields, err := r.client.HGetAll(ctx, stateKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("loading chat state: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	st := &ChatState{
		UserID:      fields[fieldUserID],
		DisplayName: fields[fieldDisplayName],
	}
	if raw := fields[fieldCreatedAt]; raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			st.CreatedAt = ts
		}
	}
	if raw := fields[fieldHistory]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &st.History); err != nil {
			return nil, fmt.Errorf("decoding history for %s: %w", userID, err)
		}
	}
	if st.History == nil {
		st.History = []Turn{}
	}
	return st, nil
}

func (r *RedisStore) CreateOrReplace(ctx context.Context, st *ChatState) error {
	return r.save(ctx, st)
}

func (r *RedisStore) save(ctx context.Context, st *ChatState) error {
	history, err := json.Marshal(st.History)
	if err != nil {
		return fmt.Errorf("encoding history for %s: %w", st.UserID, err)
	}

	key := stateKey(st.UserID)
	err = r.client.HSet(ctx, key, map[string]any{
		fieldUserID:      st.UserID,
		fieldDisplayName: st.DisplayName,
		fieldCreatedAt:   st.CreatedAt.Format(time.RFC3339Nano),
		fieldHistory:     string(history),
	}).Err()
	if err != nil {
		return fmt.Errorf("saving chat state for %s: %w", st.UserID, err)
	}
	if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
		return fmt.Errorf("refreshing ttl for %s: %w", st.UserID, err)
	}
	return nil
}

func (r *RedisStore) Reset(ctx context.Context, userID string) error {
	st, err := r.Get(ctx, userID)
	if err != nil {
		return err
	}
	if st == nil {
		return nil
	}
	st.History = []Turn{}
	return r.save(ctx, st)
}

func (r *RedisStore) Append(ctx context.Context, userID string, turn Turn) error {
	st, err := r.Get(ctx, userID)
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("append for %s: %w", userID, ErrNotFound)
	}
	st.History = append(st.History, turn)
	return r.save(ctx, st)
}

func (r *RedisStore) ReplaceTurnContent(ctx context.Context, userID string, index int, text string) error {
	st, err := r.Get(ctx, userID)
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("replace for %s: %w", userID, ErrNotFound)
	}
	if err := replaceTurnContent(st.History, index, text); err != nil {
		return err
	}
	return r.save(ctx, st)
}

func (r *RedisStore) RemoveTurn(ctx context.Context, userID string, index int) error {
	st, err := r.Get(ctx, userID)
	if err != nil {
		return err
	}
	if st == nil {
		return nil
	}
	st.History = removeTurn(st.History, index)
	return r.save(ctx, st)
}

func (r *RedisStore) FilterByRole(ctx context.Context, userID string, role Role) ([]Turn, error) {
	st, err := r.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("filter for %s: %w", userID, ErrNotFound)
	}
	return filterByRole(st.History, role), nil
}

var _ Store = (*RedisStore)(nil)
