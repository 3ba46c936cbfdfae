package store

import (
	"context"

	"github.com/rushteam/ctrkit/core"
)

// Table 是一张只读 embedding 表：key → 定长 float32 向量。
//
// 实现：
//   - MemoryTable：进程内存（Local 后端）
//   - RedisTable：Redis（RemoteService 后端，默认驱动）
//   - FeastTable：Feast 在线特征（RemoteService 后端）
//
// 示例：
//
//	var table store.Table[uint32] = store.NewMemoryTable[uint32](16, keys, vectors)
type Table[K core.Key] interface {
	// Name 返回存储后端名称（用于日志/监控）
	Name() string

	// VecSize 返回向量维度
	VecSize() int

	// Lookup 把 len(keys)*VecSize() 个 float 按输入顺序写入 dst，未知 key 写零向量并计入 Misses
	Lookup(ctx context.Context, keys []K, dst []float32) (core.LookupStats, error)

	// Close 关闭连接/释放资源
	Close() error
}

// checkLookupDst 校验 dst 能容纳 n 个向量。
func checkLookupDst(name string, n, vecSize, dstLen int) error {
	if dstLen < n*vecSize {
		return core.Errorf(core.ModuleStore, core.ErrorCodeWrongInput,
			"%s: lookup dst too small: %d < %d", name, dstLen, n*vecSize)
	}
	return nil
}
