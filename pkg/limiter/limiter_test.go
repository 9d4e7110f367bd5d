package limiter

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pai-resource-go/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	os.Exit(m.Run())
}

func newTestLimiter(t *testing.T, limit, expirySeconds int) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisLimiter(rdb, limit, expirySeconds), mr
}

func TestAcquireUpToLimit(t *testing.T) {
	lim, _ := newTestLimiter(t, 2, 30)
	ctx := context.Background()

	granted, count := lim.Acquire(ctx, "res-1")
	assert.True(t, granted)
	assert.Equal(t, int64(1), count)

	granted, count = lim.Acquire(ctx, "res-1")
	assert.True(t, granted)
	assert.Equal(t, int64(2), count)

	// 超出上限的请求被拒绝，计数不再增长
	granted, count = lim.Acquire(ctx, "res-1")
	assert.False(t, granted)
	assert.Equal(t, int64(2), count)

	// 释放一个名额后可以再次获取
	lim.Release(ctx, "res-1")
	granted, _ = lim.Acquire(ctx, "res-1")
	assert.True(t, granted)
}

func TestAcquireIsPerResource(t *testing.T) {
	lim, _ := newTestLimiter(t, 1, 30)
	ctx := context.Background()

	granted, _ := lim.Acquire(ctx, "res-a")
	assert.True(t, granted)
	// 不同资源的名额互不影响
	granted, _ = lim.Acquire(ctx, "res-b")
	assert.True(t, granted)
	granted, _ = lim.Acquire(ctx, "res-a")
	assert.False(t, granted)
}

func TestAcquireConcurrent(t *testing.T) {
	const limit = 5
	lim, _ := newTestLimiter(t, limit, 30)
	ctx := context.Background()

	var grantedCount int64
	var wg sync.WaitGroup
	for i := 0; i < limit+3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if granted, _ := lim.Acquire(ctx, "res-burst"); granted {
				atomic.AddInt64(&grantedCount, 1)
			}
		}()
	}
	wg.Wait()

	// 无论并发压力如何，成功获取的名额恰好等于上限
	assert.Equal(t, int64(limit), atomic.LoadInt64(&grantedCount))
}

func TestReleaseDeletesKeyAtZero(t *testing.T) {
	lim, mr := newTestLimiter(t, 3, 30)
	ctx := context.Background()

	lim.Acquire(ctx, "res-z")
	require.True(t, mr.Exists("resource_upload_lock:res-z"))

	lim.Release(ctx, "res-z")
	assert.False(t, mr.Exists("resource_upload_lock:res-z"))
}

func TestCounterExpiresByTTL(t *testing.T) {
	lim, mr := newTestLimiter(t, 1, 30)
	ctx := context.Background()

	granted, _ := lim.Acquire(ctx, "res-ttl")
	require.True(t, granted)
	granted, _ = lim.Acquire(ctx, "res-ttl")
	require.False(t, granted)

	// 异常中断从不 Release 的占用随 TTL 过期自动回收
	mr.FastForward(31 * time.Second)
	granted, _ = lim.Acquire(ctx, "res-ttl")
	assert.True(t, granted)
}

func TestFailOpenWhenRedisUnavailable(t *testing.T) {
	lim, mr := newTestLimiter(t, 1, 30)
	mr.Close()

	// 护栏不可用时放行，不阻塞上传主链路
	granted, count := lim.Acquire(context.Background(), "res-down")
	assert.True(t, granted)
	assert.Equal(t, int64(0), count)
}
