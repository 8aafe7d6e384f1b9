package notifystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/appointmenthub/hub/services/booking-service/internal/model"
	"github.com/appointmenthub/hub/services/booking-service/internal/store"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each notification list as one JSON document under
// notifications:{audience}:{owner}. Writes replace the whole list.
type RedisStore struct {
	rdb    redis.Cmdable
	prefix string
	// MaxItems caps list length by dropping the oldest entries that need no
	// action. Pending entries are never dropped. Zero keeps all.
	MaxItems int
}

func NewRedisStore(rdb redis.Cmdable, prefix string) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "notifications"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, MaxItems: 200}
}

func (s *RedisStore) key(audience model.Audience, ownerID string) string {
	return s.prefix + ":" + string(audience) + ":" + ownerID
}

func (s *RedisStore) Read(ctx context.Context, audience model.Audience, ownerID string) ([]model.Notification, error) {
	raw, err := s.rdb.Get(ctx, s.key(audience, ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []model.Notification{}, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeList(raw)
}

func (s *RedisStore) Write(ctx context.Context, audience model.Audience, ownerID string, list []model.Notification) error {
	raw, err := encodeList(capList(list, s.MaxItems))
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(audience, ownerID), raw, 0).Err()
}

// capList trims list to max entries, oldest first, skipping pending ones. The
// result is longer than max only when more than max entries are pending.
func capList(list []model.Notification, max int) []model.Notification {
	if max <= 0 || len(list) <= max {
		return list
	}
	excess := len(list) - max
	drop := make([]bool, len(list))
	for i := len(list) - 1; i >= 0 && excess > 0; i-- {
		if !list[i].Pending() {
			drop[i] = true
			excess--
		}
	}
	out := make([]model.Notification, 0, max)
	for i, n := range list {
		if !drop[i] {
			out = append(out, n)
		}
	}
	return out
}

func encodeList(list []model.Notification) ([]byte, error) {
	for _, n := range list {
		if err := n.Validate(); err != nil {
			return nil, err
		}
	}
	if list == nil {
		list = []model.Notification{}
	}
	return json.Marshal(list)
}

func decodeList(raw []byte) ([]model.Notification, error) {
	var list []model.Notification
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	if list == nil {
		list = []model.Notification{}
	}
	return list, nil
}

// ReadyCheck pings Redis for /readyz.
func ReadyCheck(rdb redis.Cmdable) func(context.Context) error {
	return func(ctx context.Context) error {
		if rdb == nil {
			return errors.New("redis not configured")
		}
		return rdb.Ping(ctx).Err()
	}
}

var _ store.NotificationStore = (*RedisStore)(nil)
