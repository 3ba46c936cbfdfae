package store

import (
	"context"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/ctrkit/core"
)

// MemoryTable 是内存实现的 Table，用于 Local 后端。
// 构造完成后只读，读取无需加锁；重新加载由 paramserver 以“新建后替换”的方式完成。
type MemoryTable[K core.Key] struct {
	vecSize   int
	index     map[K]int32
	data      []float32
	shardSize int
}

// NewMemoryTable 用 keys 与行主序的 vectors 构造内存表，重复 key 以最后一次为准。
func NewMemoryTable[K core.Key](vecSize int, keys []K, vectors []float32) (*MemoryTable[K], error) {
	if vecSize <= 0 {
		return nil, core.Errorf(core.ModuleStore, core.ErrorCodeConfig, "memory: invalid vec_size %d", vecSize)
	}
	if len(vectors) != len(keys)*vecSize {
		return nil, core.Errorf(core.ModuleStore, core.ErrorCodeConfig,
			"memory: %d keys need %d floats, got %d", len(keys), len(keys)*vecSize, len(vectors))
	}
	m := &MemoryTable[K]{
		vecSize:   vecSize,
		index:     make(map[K]int32, len(keys)),
		data:      make([]float32, 0, len(vectors)),
		shardSize: core.DefaultLookupShardSize,
	}
	for i, k := range keys {
		vec := vectors[i*vecSize : (i+1)*vecSize]
		if row, ok := m.index[k]; ok {
			copy(m.data[int(row)*vecSize:], vec)
			continue
		}
		m.index[k] = int32(len(m.data) / vecSize)
		m.data = append(m.data, vec...)
	}
	return m, nil
}

// WithShardSize 设置并发分片大小（<=0 表示不分片），返回自身便于链式调用。
func (m *MemoryTable[K]) WithShardSize(n int) *MemoryTable[K] {
	m.shardSize = n
	return m
}

func (m *MemoryTable[K]) Name() string { return "memory" }

func (m *MemoryTable[K]) VecSize() int { return m.vecSize }

// Len 返回表中 key 的个数
func (m *MemoryTable[K]) Len() int { return len(m.index) }

func (m *MemoryTable[K]) Lookup(ctx context.Context, keys []K, dst []float32) (core.LookupStats, error) {
	if err := checkLookupDst(m.Name(), len(keys), m.vecSize, len(dst)); err != nil {
		return core.LookupStats{}, err
	}
	if m.shardSize <= 0 || len(keys) <= m.shardSize {
		misses := m.lookupRange(keys, dst)
		return core.LookupStats{Keys: len(keys), Misses: misses}, nil
	}

	// 纯读操作，按 key 区间分片并发
	shards := lo.Chunk(keys, m.shardSize)
	misses := make([]int, len(shards))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, shard := range shards {
		i, shard := i, shard
		off := i * m.shardSize * m.vecSize
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			misses[i] = m.lookupRange(shard, dst[off:off+len(shard)*m.vecSize])
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return core.LookupStats{}, err
	}
	return core.LookupStats{Keys: len(keys), Misses: lo.Sum(misses)}, nil
}

func (m *MemoryTable[K]) lookupRange(keys []K, dst []float32) int {
	vs := m.vecSize
	misses := 0
	for i, k := range keys {
		out := dst[i*vs : (i+1)*vs]
		row, ok := m.index[k]
		if !ok {
			clear(out)
			misses++
			continue
		}
		copy(out, m.data[int(row)*vs:(int(row)+1)*vs])
	}
	return misses
}

func (m *MemoryTable[K]) Close() error { return nil }

var _ Table[uint32] = (*MemoryTable[uint32])(nil)
