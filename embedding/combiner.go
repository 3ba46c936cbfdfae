// Package embedding 实现 EmbeddingFeatureCombiner：把每个 (样本, slot) 的变长 embedding 列表池化为定长向量。
package embedding

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gorgonia.org/vecf32"

	"github.com/rushteam/ctrkit/core"
)

// Pool 把 vectors 中 [start, end) 段的向量池化到 dst[:vecSize]。
//
//   - Sum：逐元素求和
//   - Mean：求和后除以段长
//   - 空段（start == end）：零向量
//
// vectors 与 key 数组逐位对应，第 k 个向量为 vectors[k*vecSize:(k+1)*vecSize]。
func Pool(dst, vectors []float32, vecSize, start, end int, mode core.Combiner) {
	dst = dst[:vecSize]
	clear(dst)
	for k := start; k < end; k++ {
		vecf32.Add(dst, vectors[k*vecSize:(k+1)*vecSize])
	}
	if mode == core.CombinerMean && end > start {
		vecf32.ScaleInv(dst, float32(end-start))
	}
}

// Combiner 对一张表的全部 CSR 行做池化。
type Combiner struct {
	Mode    core.Combiner
	VecSize int

	// Workers 是最大并发数（<=0 表示 GOMAXPROCS）
	Workers int

	// Chunk 是每个任务处理的行数（<=0 使用 core.DefaultCombineChunk）
	Chunk int
}

// Combine 对 rowPtrs 描述的每一行调用 Pool，第 r 行写入 dst[r*VecSize:(r+1)*VecSize]。
// 行与行之间没有依赖，按块并发执行；输出位置由行号决定，与调度顺序无关。
func (c *Combiner) Combine(ctx context.Context, dst, vectors []float32, rowPtrs []int32) error {
	rows := len(rowPtrs) - 1
	if rows <= 0 {
		return nil
	}
	if len(dst) < rows*c.VecSize {
		return core.Errorf(core.ModuleSession, core.ErrorCodeWrongInput,
			"combine output too small: %d < %d", len(dst), rows*c.VecSize)
	}
	if need := int(rowPtrs[rows]) * c.VecSize; len(vectors) < need {
		return core.Errorf(core.ModuleSession, core.ErrorCodeWrongInput,
			"combine input too small: %d < %d", len(vectors), need)
	}

	chunk := c.Chunk
	if chunk <= 0 {
		chunk = core.DefaultCombineChunk
	}
	if rows <= chunk {
		c.combineRange(dst, vectors, rowPtrs, 0, rows)
		return ctx.Err()
	}

	workers := c.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for lo := 0; lo < rows; lo += chunk {
		lo, hi := lo, min(lo+chunk, rows)
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			c.combineRange(dst, vectors, rowPtrs, lo, hi)
			return nil
		})
	}
	return eg.Wait()
}

func (c *Combiner) combineRange(dst, vectors []float32, rowPtrs []int32, lo, hi int) {
	vs := c.VecSize
	for r := lo; r < hi; r++ {
		Pool(dst[r*vs:(r+1)*vs], vectors, vs, int(rowPtrs[r]), int(rowPtrs[r+1]), c.Mode)
	}
}
