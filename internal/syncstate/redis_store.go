// Package syncstate replicates sketch state between enforcement points
// through shared Redis keys. Each node pushes its own cumulative sketch
// for the endpoints it has recently updated and pulls peers' pushes
// back. A pulled sketch replaces that source's slot in the registry, so
// pulling the same payload twice, or a newer cumulative payload from
// the same source, leaves the combined counters correct.
package syncstate

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"segflow/internal/sketch"
)

// Config configures Redis access for sketch-delta synchronization.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL bounds how long an unclaimed delta stays visible.
	TTL time.Duration
}

// Store manages push/pull of sketch deltas over Redis.
type Store struct {
	client *redis.Client
	source string
	prefix string
	ttl    time.Duration
}

// NewStore constructs a Redis-backed sync store for one source node.
func NewStore(cfg Config, sourceID string) (*Store, error) {
	if strings.TrimSpace(sourceID) == "" {
		return nil, fmt.Errorf("sync source id is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "segflow:sketch"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis sync store: %w", err)
	}

	return &Store{
		client: client,
		source: sourceID,
		prefix: strings.TrimSpace(cfg.KeyPrefix),
		ttl:    cfg.TTL,
	}, nil
}

// Push publishes encoded sketch deltas keyed by endpoint id.
func (s *Store) Push(ctx context.Context, deltas map[string][]byte) error {
	if len(deltas) == 0 {
		return nil
	}
	now := float64(time.Now().Unix())
	pipe := s.client.Pipeline()

	for endpointID, payload := range deltas {
		if endpointID == "" || len(payload) == 0 {
			continue
		}
		key := s.sketchKey(s.source, endpointID)
		pipe.Set(ctx, key, payload, s.ttl)
		pipe.ZAdd(ctx, s.dirtySetKey(), redis.Z{Score: now, Member: encodeMember(s.source, endpointID)})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push sketch deltas: %w", err)
	}
	return nil
}

// PullSince fetches sketches pushed by other sources since the given
// time and folds them into the registry. Own pushes are skipped.
// Returns the number of sketches merged.
func (s *Store) PullSince(ctx context.Context, since time.Time, limit int64, reg *sketch.Registry) (int, error) {
	if limit <= 0 {
		limit = 1000
	}
	members, err := s.client.ZRangeByScoreWithScores(ctx, s.dirtySetKey(), &redis.ZRangeBy{
		Min:    fmt.Sprintf("%d", since.Unix()),
		Max:    "+inf",
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("read dirty sketch members: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	merged := 0
	for _, z := range members {
		member, ok := z.Member.(string)
		if !ok || member == "" {
			continue
		}
		source, endpointID, ok := decodeMember(member)
		if !ok || source == s.source {
			continue
		}

		payload, err := s.client.Get(ctx, s.sketchKey(source, endpointID)).Bytes()
		if err == redis.Nil {
			continue // expired before we got to it
		}
		if err != nil {
			return merged, fmt.Errorf("fetch sketch %s from %s: %w", endpointID, source, err)
		}

		remote, err := sketch.Decode(payload)
		if err != nil {
			// A corrupt remote payload is dropped, not fatal.
			continue
		}
		if err := reg.MergeRemote(source, remote); err != nil {
			continue
		}
		merged++
	}
	return merged, nil
}

// Close closes Redis resources.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) sketchKey(source, endpointID string) string {
	return s.prefix + ":state:" + source + ":" + endpointID
}

func (s *Store) dirtySetKey() string {
	return s.prefix + ":dirty"
}

func encodeMember(source, endpointID string) string {
	return source + "|" + endpointID
}

func decodeMember(member string) (string, string, bool) {
	parts := strings.SplitN(member, "|", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
