package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence stores focus flags and last-seen timestamps in Redis.
// Last-seen keys expire after ttl so idle users fall back to unknown.
type Presence struct {
	client *redis.Client
	ttl    time.Duration
	clock  func() time.Time
}

func NewPresence(client *redis.Client, ttl time.Duration) *Presence {
	return &Presence{client: client, ttl: ttl, clock: time.Now}
}

func (p *Presence) IsFocusMode(ctx context.Context, userID string) (bool, error) {
	n, err := p.client.Exists(ctx, p.focusKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *Presence) LastSeenAt(ctx context.Context, userID string) (time.Time, error) {
	raw, err := p.client.Get(ctx, p.seenKey(userID)).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

func (p *Presence) SetFocus(ctx context.Context, userID string, enabled bool) error {
	if enabled {
		return p.client.Set(ctx, p.focusKey(userID), "1", 0).Err()
	}
	return p.client.Del(ctx, p.focusKey(userID)).Err()
}

func (p *Presence) Touch(ctx context.Context, userID string) error {
	return p.client.Set(ctx, p.seenKey(userID), strconv.FormatInt(p.clock().UnixMilli(), 10), p.ttl).Err()
}

func (p *Presence) focusKey(userID string) string {
	return "user:" + userID + ":focus"
}

func (p *Presence) seenKey(userID string) string {
	return "user:" + userID + ":last_seen"
}
