package config

import (
	"github.com/rushteam/ctrkit/core"
)

// 可识别的 embedding 层类型；layers[1:] 中遇到第一个其他类型即停止解析。
var EmbeddingLayerTypes = map[string]bool{
	"DistributedSlotSparseEmbeddingHash": true,
	"LocalizedSlotSparseEmbeddingHash":   true,
	"LocalizedSlotSparseEmbeddingOneHot": true,
}

// TableParams 是一张 embedding 表的推理参数。
type TableParams struct {
	SlotNum                int
	MaxFeatureNumPerSample int
	VecSize                int
	Combiner               core.Combiner
	LayerName              string
	LayerType              string
}

// BlockWidth 返回该表每个样本拼接后的宽度（slot_num * vec_size）
func (t TableParams) BlockWidth() int { return t.SlotNum * t.VecSize }

// InferenceParams 是从 ModelConfig 推导出的推理参数，构造后只读。
type InferenceParams struct {
	MaxBatchsize     int
	DenseDim         int
	Tables           []TableParams
	SparseModelFiles []string
	Scorer           *ScorerConfig
	OutputTransform  string
	ParameterServer  *ParameterServerConfig
}

// NewInferenceParams 校验并推导推理参数，缺失或非法字段返回 CONFIG_ERROR。
func NewInferenceParams(cfg *ModelConfig) (*InferenceParams, error) {
	if cfg == nil {
		return nil, configErrorf("model config is nil")
	}
	inf := cfg.Inference
	if inf.MaxBatchsize == nil {
		return nil, configErrorf("inference.max_batchsize is required")
	}
	if *inf.MaxBatchsize < 0 {
		return nil, configErrorf("inference.max_batchsize must be >= 0, got %d", *inf.MaxBatchsize)
	}
	if len(cfg.Layers) == 0 {
		return nil, configErrorf("layers is empty")
	}

	// 1. 数据层
	data := cfg.Layers[0]
	if data.Dense == nil || data.Dense.DenseDim == nil {
		return nil, configErrorf("layers[0].dense.dense_dim is required")
	}
	if *data.Dense.DenseDim < 0 {
		return nil, configErrorf("layers[0].dense.dense_dim must be >= 0, got %d", *data.Dense.DenseDim)
	}
	if len(data.Sparse) == 0 {
		return nil, configErrorf("layers[0].sparse is empty")
	}

	// 2. embedding 层，第 i 层消费第 i 组稀疏输入
	var tables []TableParams
	for _, layer := range cfg.Layers[1:] {
		if !EmbeddingLayerTypes[layer.Type] {
			break
		}
		i := len(tables)
		if i >= len(data.Sparse) {
			return nil, configErrorf("embedding layer %q has no sparse input (only %d groups)", layer.Name, len(data.Sparse))
		}
		in := data.Sparse[i]
		if in.SlotNum == nil || *in.SlotNum <= 0 {
			return nil, configErrorf("layers[0].sparse[%d].slot_num must be > 0", i)
		}
		if in.MaxFeatureNumPerSample == nil || *in.MaxFeatureNumPerSample < 0 {
			return nil, configErrorf("layers[0].sparse[%d].max_feature_num_per_sample is required", i)
		}
		hp := layer.SparseEmbeddingHparam
		if hp == nil || hp.EmbeddingVecSize == nil || *hp.EmbeddingVecSize <= 0 {
			return nil, configErrorf("layer %q: sparse_embedding_hparam.embedding_vec_size must be > 0", layer.Name)
		}
		combiner := core.CombinerSum
		if hp.Combiner != nil {
			combiner = core.CombinerFromInt(*hp.Combiner)
		}
		tables = append(tables, TableParams{
			SlotNum:                *in.SlotNum,
			MaxFeatureNumPerSample: *in.MaxFeatureNumPerSample,
			VecSize:                *hp.EmbeddingVecSize,
			Combiner:               combiner,
			LayerName:              layer.Name,
			LayerType:              layer.Type,
		})
	}
	if len(tables) == 0 {
		return nil, configErrorf("no embedding layer found in layers[1:]")
	}
	if len(inf.SparseModelFiles) > 0 && len(inf.SparseModelFiles) != len(tables) {
		return nil, configErrorf("inference.sparse_model_files has %d entries for %d embedding tables",
			len(inf.SparseModelFiles), len(tables))
	}

	return &InferenceParams{
		MaxBatchsize:     *inf.MaxBatchsize,
		DenseDim:         *data.Dense.DenseDim,
		Tables:           tables,
		SparseModelFiles: inf.SparseModelFiles,
		Scorer:           inf.Scorer,
		OutputTransform:  inf.OutputTransform,
		ParameterServer:  inf.ParameterServer,
	}, nil
}

// NumTables 返回 embedding 表个数
func (p *InferenceParams) NumTables() int { return len(p.Tables) }

// SlotNums 返回各表的 slot 数
func (p *InferenceParams) SlotNums() []int {
	out := make([]int, len(p.Tables))
	for i, t := range p.Tables {
		out[i] = t.SlotNum
	}
	return out
}

// FeatureWidth 返回打分函数的输入宽度：各表块宽度之和加上 dense_dim
func (p *InferenceParams) FeatureWidth() int {
	w := p.DenseDim
	for _, t := range p.Tables {
		w += t.BlockWidth()
	}
	return w
}

func configErrorf(format string, args ...any) error {
	return core.Errorf(core.ModuleConfig, core.ErrorCodeConfig, format, args...)
}
