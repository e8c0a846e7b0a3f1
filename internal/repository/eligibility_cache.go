package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/classworks/edumarket-api/pkg/errors"
)

// EligibilityCache keeps recently computed eligibility sets in Redis so
// downstream consumers (tests, attendance, access checks) do not hit the
// store on every request. Entries are invalidated on every batch mutation.
type EligibilityCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewEligibilityCache constructs the cache. A nil client disables caching.
func NewEligibilityCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *EligibilityCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &EligibilityCache{client: client, ttl: ttl, logger: logger}
}

func eligibilityKey(batchID, className, subjectName string) string {
	return fmt.Sprintf("eligibility:%s:%s:%s", batchID, className, subjectName)
}

// Get retrieves a cached eligibility set.
func (c *EligibilityCache) Get(ctx context.Context, batchID, className, subjectName string) ([]string, error) {
	if c.client == nil {
		return nil, appErrors.ErrCacheMiss
	}
	raw, err := c.client.Get(ctx, eligibilityKey(batchID, className, subjectName)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, appErrors.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get eligibility: %w", err)
	}
	var students []string
	if err := json.Unmarshal(raw, &students); err != nil {
		return nil, fmt.Errorf("unmarshal eligibility set: %w", err)
	}
	return students, nil
}

// Set stores an eligibility set with the configured TTL.
func (c *EligibilityCache) Set(ctx context.Context, batchID, className, subjectName string, students []string) error {
	if c.client == nil {
		return nil
	}
	payload, err := json.Marshal(students)
	if err != nil {
		return fmt.Errorf("marshal eligibility set: %w", err)
	}
	if err := c.client.Set(ctx, eligibilityKey(batchID, className, subjectName), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set eligibility: %w", err)
	}
	return nil
}

// InvalidateBatch drops every cached set for a batch.
func (c *EligibilityCache) InvalidateBatch(ctx context.Context, batchID string) error {
	if c.client == nil {
		return nil
	}
	pattern := fmt.Sprintf("eligibility:%s:*", batchID)
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis delete %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %s: %w", pattern, err)
	}
	return nil
}
