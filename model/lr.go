package model

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rushteam/ctrkit/core"
)

// LRScorer 实现了逻辑回归 (Logistic Regression) 打分。
// 它是点击率预估 (CTR) 最基础也最经典的算法。
//
// 预测原理：
// 1. 线性加权求和: z = Bias + sum(Weight_i * Feature_i)
// 2. Sigmoid 变换: P = 1 / (1 + exp(-z))
//
// 输入为拼接后的特征行 [embedding 块 | dense]，Weights 长度即输入宽度。
type LRScorer struct {
	Bias    float32   // 偏置项 (Bias / Intercept)
	Weights []float32 // 特征权重，按特征位置对齐
}

// LoadLRScorer 从 JSON 文件加载：{"bias": 0.1, "weights": [...]}
func LoadLRScorer(path string) (*LRScorer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.WrapError(core.ModuleModel, core.ErrorCodeConfig, err, "read lr model %s", path)
	}
	var raw struct {
		Bias    float32   `json:"bias"`
		Weights []float32 `json:"weights"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, core.WrapError(core.ModuleModel, core.ErrorCodeConfig, err, "parse lr model %s", path)
	}
	return &LRScorer{Bias: raw.Bias, Weights: raw.Weights}, nil
}

func (m *LRScorer) Name() string { return "lr" }

// InputDim 返回权重个数，Session 构造时据此校验特征宽度
func (m *LRScorer) InputDim() int { return len(m.Weights) }

func (m *LRScorer) Forward(ctx context.Context, features []float32, rows, width int, out []float32) error {
	if err := checkForward(m.Name(), features, rows, width, len(m.Weights), out); err != nil {
		return err
	}
	for i := 0; i < rows; i++ {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return core.WrapError(core.ModuleModel, core.ErrorCodeForwardFailure, err, "lr: canceled")
			}
		}
		row := features[i*width : (i+1)*width]
		out[i] = sigmoid(m.Bias + dot(m.Weights, row))
	}
	return nil
}

var _ core.Scorer = (*LRScorer)(nil)
var _ core.InputDimer = (*LRScorer)(nil)
