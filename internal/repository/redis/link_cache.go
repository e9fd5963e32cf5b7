package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gamassss/edgelink/internal/domain"
	"github.com/redis/go-redis/v9"
)

type LinkCache struct {
	client *redis.Client
}

func NewLinkCache(client *redis.Client) *LinkCache {
	return &LinkCache{client: client}
}

func linkKey(domainScope, slug string) string {
	if domainScope == "" {
		return "link:" + slug
	}
	return "link:" + domainScope + ":" + slug
}

// Get returns nil, nil on a cache miss.
func (c *LinkCache) Get(ctx context.Context, domainScope, slug string) (*domain.Link, error) {
	data, err := c.client.Get(ctx, linkKey(domainScope, slug)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var link domain.Link
	if err := json.Unmarshal(data, &link); err != nil {
		return nil, err
	}

	return &link, nil
}

func (c *LinkCache) Set(ctx context.Context, link *domain.Link, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(link)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, linkKey(link.CustomDomain, link.Slug), data, ttl).Err()
}

func (c *LinkCache) Delete(ctx context.Context, domainScope, slug string) error {
	return c.client.Del(ctx, linkKey(domainScope, slug)).Err()
}
