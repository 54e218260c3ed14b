package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rpattn/dealreport/internal/domain"
	"github.com/rpattn/dealreport/internal/engine"
)

// PreviewCache stores rendered template previews. Misses are reported with ok=false.
type PreviewCache interface {
	Get(ctx context.Context, key string) (*engine.Preview, bool, error)
	Set(ctx context.Context, key string, preview *engine.Preview) error
}

// RedisPreviewCache keeps previews as JSON documents with a fixed TTL.
type RedisPreviewCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPreviewCache(client *redis.Client, ttl time.Duration) *RedisPreviewCache {
	return &RedisPreviewCache{client: client, ttl: ttl}
}

func (c *RedisPreviewCache) Get(ctx context.Context, key string) (*engine.Preview, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var preview engine.Preview
	if err := json.Unmarshal(val, &preview); err != nil {
		return nil, false, fmt.Errorf("decode cached preview: %w", err)
	}
	return &preview, true, nil
}

func (c *RedisPreviewCache) Set(ctx context.Context, key string, preview *engine.Preview) error {
	payload, err := json.Marshal(preview)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, c.ttl).Err()
}

type noopPreviewCache struct{}

func (noopPreviewCache) Get(context.Context, string) (*engine.Preview, bool, error) {
	return nil, false, nil
}

func (noopPreviewCache) Set(context.Context, string, *engine.Preview) error { return nil }

// previewCacheKey changes whenever the template or one of its calculations is edited,
// so stale entries simply expire.
func previewCacheKey(report domain.ReportTemplate, calcs []domain.CalculationSpec, cycleCode int) string {
	version := report.UpdatedAt
	for _, c := range calcs {
		if c.UpdatedAt.After(version) {
			version = c.UpdatedAt
		}
	}
	return fmt.Sprintf("reports:preview:%d:%d:%d", report.ID, version.UnixNano(), cycleCode)
}
