// Package limiter 实现了基于 Redis 的跨进程分片上传并发限制。
package limiter

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"pai-resource-go/pkg/log"
)

// Limiter 约束同一资源同时在途的分片上传数量。
type Limiter interface {
	// Acquire 尝试占用一个并发名额，返回是否成功以及当前计数。
	Acquire(ctx context.Context, resourceID string) (granted bool, current int64)
	// Release 释放一个并发名额。
	Release(ctx context.Context, resourceID string)
}

// acquireScript 检查并自增计数，必须在一次往返内原子完成，
// 否则两个并发请求可能同时观察到"有空位"而双双放行。
// 首次创建计数 key 时附带过期时间，异常中断的请求由 TTL 自行回收。
var acquireScript = redis.NewScript(`
local currentCount = redis.call('GET', KEYS[1])
if currentCount then
  if tonumber(currentCount) >= tonumber(ARGV[1]) then
    return {tonumber(currentCount), 0}
  end
  redis.call('INCR', KEYS[1])
  return {tonumber(currentCount) + 1, 1}
else
  redis.call('SET', KEYS[1], 1, 'EX', ARGV[2])
  return {1, 1}
end
`)

// releaseScript 自减计数，归零时删除 key。
var releaseScript = redis.NewScript(`
local currentCount = redis.call('GET', KEYS[1])
if currentCount then
  local newCount = redis.call('DECR', KEYS[1])
  if newCount <= 0 then
    redis.call('DEL', KEYS[1])
    return 0
  end
  return newCount
else
  return -1
end
`)

// RedisLimiter 是 Limiter 的 Redis 实现。
type RedisLimiter struct {
	rdb           *redis.Client
	limit         int
	expirySeconds int
}

// NewRedisLimiter 创建一个 RedisLimiter。
// limit 为同一资源的并发上限，expirySeconds 为计数 key 的过期时间。
func NewRedisLimiter(rdb *redis.Client, limit, expirySeconds int) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limit: limit, expirySeconds: expirySeconds}
}

func (l *RedisLimiter) lockKey(resourceID string) string {
	return fmt.Sprintf("resource_upload_lock:%s", resourceID)
}

// Acquire 原子地检查并占用一个并发名额。
// Redis 不可用时选择放行而不是阻塞所有上传：该限制是保护性护栏，可用性优先。
func (l *RedisLimiter) Acquire(ctx context.Context, resourceID string) (bool, int64) {
	result, err := acquireScript.Run(ctx, l.rdb, []string{l.lockKey(resourceID)},
		l.limit, l.expirySeconds).Result()
	if err != nil {
		log.Warnf("[Limiter] Redis 不可用，本次放行并发检查, resourceId: %s, error: %v", resourceID, err)
		return true, 0
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		log.Warnf("[Limiter] 并发脚本返回格式异常，本次放行, resourceId: %s", resourceID)
		return true, 0
	}
	count, _ := values[0].(int64)
	acquired, _ := values[1].(int64)
	return acquired == 1, count
}

// Release 释放一个并发名额，失败仅记录日志（名额会随 TTL 过期）。
func (l *RedisLimiter) Release(ctx context.Context, resourceID string) {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.lockKey(resourceID)}).Err(); err != nil {
		log.Warnf("[Limiter] 释放并发名额失败, resourceId: %s, error: %v", resourceID, err)
	}
}
