package dataset

import (
	"math/rand/v2"

	"github.com/rushteam/ctrkit/config"
	"github.com/rushteam/ctrkit/core"
)

// CriteoKeyRanges 是 Criteo 各类别特征的 key 区间边界，slot j 的 key 取自 [r[j], r[j+1])。
// slot 数超过区间个数时循环使用。
var CriteoKeyRanges = []uint64{
	0, 1460, 2018, 337396, 549106, 549411, 549431,
	561567, 562200, 562203, 613501, 618803, 951403, 954582,
	954609, 966800, 1268011, 1268021, 1272862, 1274948, 1274952,
	1599225, 1599242, 1599257, 1678991, 1679087, 1737709,
}

// Generator 按模型参数合成批次，同一 seed 生成的数据相同。
type Generator[K core.Key] struct {
	rng    *rand.Rand
	ranges []uint64
	// OneHot 为 true 时每个 slot 恰好一个 id，结果可用 Write 写成文本格式
	OneHot bool
}

// NewGenerator 创建生成器
func NewGenerator[K core.Key](seed uint64) *Generator[K] {
	return &Generator[K]{
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		ranges: CriteoKeyRanges,
	}
}

// Generate 为 params 描述的全部表生成 n 个样本：
//   - 每个 (样本, slot) 的 id 个数均匀取自 [1, max_nnz]，max_nnz = max_feature_num_per_sample / slot_num（至少为 1）
//   - slot j 的 id 均匀取自 Criteo 第 j 个区间
//   - dense 均匀取自 [0, 1)
func (g *Generator[K]) Generate(params *config.InferenceParams, n int) (*Data[K], error) {
	if n < 0 {
		return nil, core.Errorf(core.ModuleDataset, core.ErrorCodeWrongInput, "num_samples must be non-negative, got %d", n)
	}
	d := &Data[K]{
		Samples:  n,
		DenseDim: params.DenseDim,
		SlotNums: params.SlotNums(),
		Dense:    make([]float32, n*params.DenseDim),
	}
	for i := range d.Dense {
		d.Dense[i] = g.rng.Float32()
	}

	spans := len(g.ranges) - 1
	for _, tp := range params.Tables {
		maxNNZ := 1
		if !g.OneHot && tp.MaxFeatureNumPerSample/tp.SlotNum > 1 {
			maxNNZ = tp.MaxFeatureNumPerSample / tp.SlotNum
		}
		d.RowPtrs = append(d.RowPtrs, 0)
		var ptr int32
		for i := 0; i < n; i++ {
			for j := 0; j < tp.SlotNum; j++ {
				lo, hi := g.ranges[j%spans], g.ranges[j%spans+1]
				nnz := 1 + g.rng.IntN(maxNNZ)
				for k := 0; k < nnz; k++ {
					d.Keys = append(d.Keys, K(lo+g.rng.Uint64N(hi-lo)))
				}
				ptr += int32(nnz)
				d.RowPtrs = append(d.RowPtrs, ptr)
			}
		}
	}
	return d, nil
}

// Labels 为数据随机生成 0/1 标签
func (g *Generator[K]) Labels(d *Data[K]) {
	d.Labels = make([]int, d.Samples)
	for i := range d.Labels {
		d.Labels[i] = g.rng.IntN(2)
	}
}
