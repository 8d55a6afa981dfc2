// Package redisvisited implements crawler.VisitedSet on top of Redis SETNX,
// giving a crawl a durable, externally backed visited set with a TTL.
package redisvisited

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/parallel-webcrawler/internal/crawler"
	"github.com/JakeFAU/parallel-webcrawler/internal/hash/sha256"
	"github.com/JakeFAU/parallel-webcrawler/internal/id/uuid"
)

// DefaultKeyPrefix namespaces visited keys.
const DefaultKeyPrefix = "webcrawler:visited"

// Config controls key layout and expiry.
type Config struct {
	KeyPrefix string
	TTL       time.Duration
}

// Set is a visited set scoped to one crawl ID.
type Set struct {
	client    redis.Cmdable
	namespace string
	ttl       time.Duration
}

// NewClient builds a go-redis client and verifies connectivity.
func NewClient(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// NewSet returns a Set whose keys live under <prefix>:<crawlID>.
func NewSet(client redis.Cmdable, cfg Config, crawlID string) *Set {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Set{
		client:    client,
		namespace: prefix + ":" + crawlID,
		ttl:       cfg.TTL,
	}
}

// NewFactory returns a crawler.VisitedSetFactory that opens a fresh key
// namespace per crawl, named after the crawl ID carried by the context. A
// random ID is used when the context carries none.
func NewFactory(client redis.Cmdable, cfg Config) crawler.VisitedSetFactory {
	gen := uuid.New()
	return func(ctx context.Context) crawler.VisitedSet {
		crawlID, ok := crawler.CrawlIDFromContext(ctx)
		if !ok {
			id, err := gen.NewID()
			if err != nil {
				id = fmt.Sprintf("anon-%d", time.Now().UnixNano())
			}
			crawlID = id
		}
		return NewSet(client, cfg, crawlID)
	}
}

// TryVisit atomically marks url as visited and reports whether this call
// was the first to do so.
func (s *Set) TryVisit(ctx context.Context, url string) (bool, error) {
	added, err := s.client.SetNX(ctx, s.key(url), 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return added, nil
}

func (s *Set) key(url string) string {
	return s.namespace + ":" + sha256.SumString(url)
}
