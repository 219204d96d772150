package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"contextkeeper/internal/model"
)

const generationTTL = 24 * time.Hour

// TranscriptCache caches pages of a session's chat transcript. Every page key
// embeds the session's transcript generation; Invalidate bumps the
// generation so older pages become unreachable and expire on their own.
type TranscriptCache struct {
	client  *redisv9.Client
	pageTTL time.Duration
}

func NewTranscriptCache(client *redisv9.Client, pageTTL time.Duration) *TranscriptCache {
	if pageTTL <= 0 {
		pageTTL = 60 * time.Second
	}
	return &TranscriptCache{client: client, pageTTL: pageTTL}
}

func (c *TranscriptCache) Generation(ctx context.Context, sessionID string) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey(sessionID)).Int64()
	if errors.Is(err, redisv9.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get transcript generation failed: %w", err)
	}
	return gen, nil
}

func (c *TranscriptCache) GetPage(ctx context.Context, sessionID string, gen int64, limit, offset int) ([]model.ChatEntry, bool, error) {
	raw, err := c.client.Get(ctx, c.pageKey(sessionID, gen, limit, offset)).Result()
	if errors.Is(err, redisv9.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get transcript page failed: %w", err)
	}

	var entries []model.ChatEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached transcript failed: %w", err)
	}
	return entries, true, nil
}

func (c *TranscriptCache) SetPage(ctx context.Context, sessionID string, gen int64, limit, offset int, entries []model.ChatEntry) error {
	payload, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal transcript cache failed: %w", err)
	}
	if err := c.client.Set(ctx, c.pageKey(sessionID, gen, limit, offset), payload, c.pageTTL).Err(); err != nil {
		return fmt.Errorf("redis set transcript page failed: %w", err)
	}
	return nil
}

// Invalidate is called after any write to the session's transcript.
func (c *TranscriptCache) Invalidate(ctx context.Context, sessionID string) error {
	key := c.generationKey(sessionID)
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, generationTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis bump transcript generation failed: %w", err)
	}
	return nil
}

func (c *TranscriptCache) generationKey(sessionID string) string {
	return fmt.Sprintf("chat:transcript:gen:%s", sessionID)
}

func (c *TranscriptCache) pageKey(sessionID string, gen int64, limit, offset int) string {
	return fmt.Sprintf("chat:transcript:%s:%d:%d:%d", sessionID, gen, limit, offset)
}
