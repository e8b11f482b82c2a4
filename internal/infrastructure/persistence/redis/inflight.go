// Package redis 提供 Redis 在途任务去重实现
package redis

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// InflightSet 基于 SETNX 的在途任务去重集合
// 键带 TTL，任务卡死时靠过期自动解锁。
type InflightSet struct {
	client *Client
}

// NewInflightSet 创建在途集合
func NewInflightSet(client *Client) *InflightSet {
	return &InflightSet{client: client}
}

// TryAcquire 尝试占用键；已被占用时返回 false
func (s *InflightSet) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, span := tracer.Start(ctx, "inflight.TryAcquire",
		trace.WithAttributes(attribute.String("inflight.key", key)))
	defer span.End()

	ok, err := s.client.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	span.SetAttributes(attribute.Bool("inflight.acquired", ok))
	return ok, nil
}

// Release 释放键
func (s *InflightSet) Release(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "inflight.Release",
		trace.WithAttributes(attribute.String("inflight.key", key)))
	defer span.End()

	return s.client.rdb.Del(ctx, key).Err()
}
