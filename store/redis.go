package store

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/ctrkit/core"
)

// RedisClient 是 RedisTable 用到的 go-redis 方法子集，*redis.Client 与 *redis.ClusterClient 都满足。
type RedisClient interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Pipeline() redis.Pipeliner
	Close() error
}

// RedisTable 是 Redis 实现的 Table，用于 RemoteService 后端。
//
// 存储格式：
//
//	key:   {prefix}:{id}            例如 "ctrkit:DCN:0:1460"
//	value: Codec 编码的向量（默认小端 fp32）
//
// 生产环境常用，支持持久化、集群、哨兵等；多个推理进程可共享同一份表。
type RedisTable[K core.Key] struct {
	client     RedisClient
	prefix     string
	vecSize    int
	codec      Codec
	batchSize  int
	timeout    time.Duration
	ownsClient bool
}

// RedisTableOption RedisTable 配置选项
type RedisTableOption func(*redisTableOptions)

type redisTableOptions struct {
	codec      Codec
	batchSize  int
	timeout    time.Duration
	ownsClient bool
}

// WithRedisCodec 设置向量编码
func WithRedisCodec(codec Codec) RedisTableOption {
	return func(o *redisTableOptions) {
		if codec != nil {
			o.codec = codec
		}
	}
}

// WithRedisBatchSize 设置单次 MGET 的 key 数
func WithRedisBatchSize(n int) RedisTableOption {
	return func(o *redisTableOptions) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithRedisTimeout 设置单次 Lookup 的超时
func WithRedisTimeout(d time.Duration) RedisTableOption {
	return func(o *redisTableOptions) {
		o.timeout = d
	}
}

// WithRedisOwnership 由 RedisTable 负责在 Close 时关闭 client
func WithRedisOwnership() RedisTableOption {
	return func(o *redisTableOptions) {
		o.ownsClient = true
	}
}

// NewRedisTable 创建 RedisTable。
func NewRedisTable[K core.Key](client RedisClient, prefix string, vecSize int, opts ...RedisTableOption) (*RedisTable[K], error) {
	if client == nil {
		return nil, core.Errorf(core.ModuleStore, core.ErrorCodeConfig, "redis: client is required")
	}
	if vecSize <= 0 {
		return nil, core.Errorf(core.ModuleStore, core.ErrorCodeConfig, "redis: invalid vec_size %d", vecSize)
	}
	o := &redisTableOptions{
		codec:     Float32Codec{},
		batchSize: 512,
		timeout:   core.DefaultRemoteTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return &RedisTable[K]{
		client:     client,
		prefix:     prefix,
		vecSize:    vecSize,
		codec:      o.codec,
		batchSize:  o.batchSize,
		timeout:    o.timeout,
		ownsClient: o.ownsClient,
	}, nil
}

// NewRedisClient 按地址创建 go-redis 客户端并检查连通性。
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, core.WrapError(core.ModuleStore, core.ErrorCodeUnavailable, err, "redis: ping %s", addr)
	}
	return client, nil
}

func (r *RedisTable[K]) Name() string { return "redis" }

func (r *RedisTable[K]) VecSize() int { return r.vecSize }

// RedisKey 返回 id 在 Redis 中的 key
func (r *RedisTable[K]) RedisKey(id K) string {
	return r.prefix + ":" + strconv.FormatUint(uint64(id), 10)
}

func (r *RedisTable[K]) Lookup(ctx context.Context, keys []K, dst []float32) (core.LookupStats, error) {
	if err := checkLookupDst(r.Name(), len(keys), r.vecSize, len(dst)); err != nil {
		return core.LookupStats{}, err
	}
	if len(keys) == 0 {
		return core.LookupStats{}, nil
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	// 按 batchSize 拆分 MGET，各批并发
	nBatches := (len(keys) + r.batchSize - 1) / r.batchSize
	misses := make([]int, nBatches)
	eg, egCtx := errgroup.WithContext(ctx)
	for b := 0; b < nBatches; b++ {
		lo := b * r.batchSize
		hi := min(lo+r.batchSize, len(keys))
		eg.Go(func() error {
			n, err := r.mget(egCtx, keys[lo:hi], dst[lo*r.vecSize:hi*r.vecSize])
			misses[b] = n
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return core.LookupStats{}, err
	}
	stats := core.LookupStats{Keys: len(keys)}
	for _, n := range misses {
		stats.Misses += n
	}
	return stats, nil
}

func (r *RedisTable[K]) mget(ctx context.Context, keys []K, dst []float32) (int, error) {
	rkeys := make([]string, len(keys))
	for i, k := range keys {
		rkeys[i] = r.RedisKey(k)
	}
	vals, err := r.client.MGet(ctx, rkeys...).Result()
	if err != nil {
		return 0, core.WrapError(core.ModuleStore, core.ErrorCodeUnavailable, err, "redis: mget %d keys", len(rkeys))
	}
	if len(vals) != len(keys) {
		return 0, core.Errorf(core.ModuleStore, core.ErrorCodeUnavailable,
			"redis: mget returned %d values for %d keys", len(vals), len(keys))
	}

	misses := 0
	vs := r.vecSize
	for i, v := range vals {
		out := dst[i*vs : (i+1)*vs]
		s, ok := v.(string)
		if v == nil || !ok {
			clear(out)
			misses++
			continue
		}
		if err := r.codec.Decode(out, []byte(s)); err != nil {
			return 0, core.WrapError(core.ModuleStore, core.ErrorCodeUnavailable, err, "redis: key %s", rkeys[i])
		}
	}
	return misses, nil
}

// Load 把向量写入 Redis（pipeline 批量写入），ttl 为 0 表示不过期。
// 仅用于离线灌库，推理路径不会调用。
func (r *RedisTable[K]) Load(ctx context.Context, keys []K, vectors []float32, ttl time.Duration) error {
	if len(vectors) != len(keys)*r.vecSize {
		return core.Errorf(core.ModuleStore, core.ErrorCodeConfig,
			"redis: %d keys need %d floats, got %d", len(keys), len(keys)*r.vecSize, len(vectors))
	}
	vs := r.vecSize
	for lo := 0; lo < len(keys); lo += r.batchSize {
		hi := min(lo+r.batchSize, len(keys))
		pipe := r.client.Pipeline()
		for i := lo; i < hi; i++ {
			pipe.Set(ctx, r.RedisKey(keys[i]), r.codec.Encode(vectors[i*vs:(i+1)*vs]), ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return core.WrapError(core.ModuleStore, core.ErrorCodeUnavailable, err, "redis: load batch [%d,%d)", lo, hi)
		}
	}
	return nil
}

func (r *RedisTable[K]) Close() error {
	if r.ownsClient {
		return r.client.Close()
	}
	return nil
}

var _ Table[uint64] = (*RedisTable[uint64])(nil)
var _ RedisClient = (*redis.Client)(nil)
