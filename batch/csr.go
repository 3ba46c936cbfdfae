// Package batch 定义推理批次的类型化缓冲区：CSR 稀疏输入、稠密矩阵与单次调用的临时缓冲。
//
// 所有长度、步长、维度信息在构造时校验一次，使用处不再重复推导。
package batch

import (
	"github.com/rushteam/ctrkit/core"
)

// CSR 是一张 embedding 表的稀疏输入：RowPtrs 划分 Keys。
// 第 i*SlotNum+j 行是样本 i 在 slot j 上的 id 列表。
type CSR[K core.Key] struct {
	Keys    []K
	RowPtrs []int32
	Samples int
	SlotNum int
}

// NewCSR 构造并校验 CSR。
func NewCSR[K core.Key](keys []K, rowPtrs []int32, samples, slotNum int) (*CSR[K], error) {
	c := &CSR[K]{
		Keys:    keys,
		RowPtrs: rowPtrs,
		Samples: samples,
		SlotNum: slotNum,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate 校验 CSR 不变式：
//   - len(RowPtrs) == Samples*SlotNum+1
//   - RowPtrs[0] == 0 且单调不减
//   - len(Keys) == RowPtrs[last]
func (c *CSR[K]) Validate() error {
	if c.Samples < 0 || c.SlotNum <= 0 {
		return core.Errorf(core.ModuleBatch, core.ErrorCodeWrongInput,
			"invalid csr shape: samples=%d slot_num=%d", c.Samples, c.SlotNum)
	}
	rows := c.Samples * c.SlotNum
	if err := ValidateRowPtrs(c.RowPtrs, rows); err != nil {
		return err
	}
	if last := int(c.RowPtrs[rows]); len(c.Keys) != last {
		return core.Errorf(core.ModuleBatch, core.ErrorCodeWrongInput,
			"keys length %d does not match row_ptrs[%d]=%d", len(c.Keys), rows, last)
	}
	return nil
}

// ValidateRowPtrs 校验 rows 行的 CSR 偏移数组。
func ValidateRowPtrs(rowPtrs []int32, rows int) error {
	if len(rowPtrs) != rows+1 {
		return core.Errorf(core.ModuleBatch, core.ErrorCodeWrongInput,
			"row_ptrs length %d does not equal rows+1=%d", len(rowPtrs), rows+1)
	}
	if rowPtrs[0] != 0 {
		return core.Errorf(core.ModuleBatch, core.ErrorCodeWrongInput,
			"row_ptrs[0] must be 0, got %d", rowPtrs[0])
	}
	for i := 1; i < len(rowPtrs); i++ {
		if rowPtrs[i] < rowPtrs[i-1] {
			return core.Errorf(core.ModuleBatch, core.ErrorCodeWrongInput,
				"row_ptrs not monotonic at %d: %d < %d", i, rowPtrs[i], rowPtrs[i-1])
		}
	}
	return nil
}

// Rows 返回 (sample, slot) 行数
func (c *CSR[K]) Rows() int { return c.Samples * c.SlotNum }

// Row 返回第 r 行在 Keys 中的区间 [start, end)
func (c *CSR[K]) Row(r int) (start, end int) {
	return int(c.RowPtrs[r]), int(c.RowPtrs[r+1])
}

// Segment 返回样本 sample 在 slot 上的 id 列表（不复制）
func (c *CSR[K]) Segment(sample, slot int) []K {
	start, end := c.Row(sample*c.SlotNum + slot)
	return c.Keys[start:end]
}

// SampleNNZ 返回样本 i 在所有 slot 上的 id 总数
func (c *CSR[K]) SampleNNZ(i int) int {
	return int(c.RowPtrs[(i+1)*c.SlotNum] - c.RowPtrs[i*c.SlotNum])
}

// Head 返回前 n 个样本的视图。RowPtrs[0]==0，所以截断后的偏移依然有效。
func (c *CSR[K]) Head(n int) *CSR[K] {
	if n >= c.Samples {
		return c
	}
	rows := n * c.SlotNum
	return &CSR[K]{
		Keys:    c.Keys[:c.RowPtrs[rows]],
		RowPtrs: c.RowPtrs[:rows+1],
		Samples: n,
		SlotNum: c.SlotNum,
	}
}
