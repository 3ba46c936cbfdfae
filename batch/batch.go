package batch

import (
	"github.com/rushteam/ctrkit/core"
)

// Batch 是一次推理的完整输入：稠密特征 + 每张 embedding 表一个 CSR。
// Sparse 的顺序与模型配置中 embedding 层的声明顺序一致。
type Batch[K core.Key] struct {
	Samples  int
	DenseDim int
	Dense    []float32 // 行主序 Samples × DenseDim
	Sparse   []*CSR[K]
}

// NewBatch 构造并校验 Batch。
func NewBatch[K core.Key](samples, denseDim int, dense []float32, sparse ...*CSR[K]) (*Batch[K], error) {
	b := &Batch[K]{
		Samples:  samples,
		DenseDim: denseDim,
		Dense:    dense,
		Sparse:   sparse,
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate 校验稠密特征长度以及每个 CSR 与样本数一致。
func (b *Batch[K]) Validate() error {
	if b.Samples < 0 || b.DenseDim < 0 {
		return core.Errorf(core.ModuleBatch, core.ErrorCodeWrongInput,
			"invalid batch shape: samples=%d dense_dim=%d", b.Samples, b.DenseDim)
	}
	if want := b.Samples * b.DenseDim; len(b.Dense) != want {
		return core.Errorf(core.ModuleBatch, core.ErrorCodeWrongInput,
			"dense length %d does not equal num_samples*dense_dim=%d", len(b.Dense), want)
	}
	for t, c := range b.Sparse {
		if c == nil {
			return core.Errorf(core.ModuleBatch, core.ErrorCodeWrongInput, "sparse input %d is nil", t)
		}
		if c.Samples != b.Samples {
			return core.Errorf(core.ModuleBatch, core.ErrorCodeWrongInput,
				"sparse input %d has %d samples, batch has %d", t, c.Samples, b.Samples)
		}
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DenseRow 返回样本 i 的稠密特征
func (b *Batch[K]) DenseRow(i int) []float32 {
	return b.Dense[i*b.DenseDim : (i+1)*b.DenseDim]
}

// Head 返回前 n 个样本的视图（不复制）。
func (b *Batch[K]) Head(n int) *Batch[K] {
	if n >= b.Samples {
		return b
	}
	sparse := make([]*CSR[K], len(b.Sparse))
	for t, c := range b.Sparse {
		sparse[t] = c.Head(n)
	}
	return &Batch[K]{
		Samples:  n,
		DenseDim: b.DenseDim,
		Dense:    b.Dense[:n*b.DenseDim],
		Sparse:   sparse,
	}
}

// FromFlat 把扁平的多表输入拆分为 Batch。
//
// 扁平格式：
//   - keys：所有表的 key 按表顺序拼接
//   - rowPtrs：所有表的偏移按表顺序拼接，每张表 samples*slotNums[t]+1 个，且各自从 0 开始
func FromFlat[K core.Key](dense []float32, keys []K, rowPtrs []int32, samples, denseDim int, slotNums []int) (*Batch[K], error) {
	if samples < 0 {
		return nil, core.Errorf(core.ModuleBatch, core.ErrorCodeWrongInput, "num_samples must be non-negative, got %d", samples)
	}
	wantPtrs := 0
	for _, slots := range slotNums {
		wantPtrs += samples*slots + 1
	}
	if len(rowPtrs) != wantPtrs {
		return nil, core.Errorf(core.ModuleBatch, core.ErrorCodeWrongInput,
			"row_ptrs length %d does not match num_samples=%d and slot layout %v (want %d)",
			len(rowPtrs), samples, slotNums, wantPtrs)
	}

	sparse := make([]*CSR[K], len(slotNums))
	ptrOff, keyOff := 0, 0
	for t, slots := range slotNums {
		rows := samples * slots
		ptrs := rowPtrs[ptrOff : ptrOff+rows+1]
		if err := ValidateRowPtrs(ptrs, rows); err != nil {
			return nil, err
		}
		n := int(ptrs[rows])
		if keyOff+n > len(keys) {
			return nil, core.Errorf(core.ModuleBatch, core.ErrorCodeWrongInput,
				"keys length %d too short for table %d (need %d)", len(keys), t, keyOff+n)
		}
		sparse[t] = &CSR[K]{
			Keys:    keys[keyOff : keyOff+n],
			RowPtrs: ptrs,
			Samples: samples,
			SlotNum: slots,
		}
		ptrOff += rows + 1
		keyOff += n
	}
	if keyOff != len(keys) {
		return nil, core.Errorf(core.ModuleBatch, core.ErrorCodeWrongInput,
			"keys length %d does not equal total row_ptrs count %d", len(keys), keyOff)
	}
	return NewBatch(samples, denseDim, dense, sparse...)
}
