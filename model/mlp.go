package model

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"gorgonia.org/vecf32"

	"github.com/rushteam/ctrkit/core"
)

// DenseLayer 是一层全连接：out = W·in + B，W 为 [out][in]。
type DenseLayer struct {
	Weights [][]float32 `json:"weights"`
	Bias    []float32   `json:"bias"`
}

func (l DenseLayer) outDim() int { return len(l.Weights) }

func (l DenseLayer) inDim() int {
	if len(l.Weights) == 0 {
		return 0
	}
	return len(l.Weights[0])
}

// MLPScorer 是多层感知机打分（DNN 的稠密部分）。
//
// 工程特征：
//   - 实时性：好（本地推理）
//   - 计算复杂度：中等（多层全连接）
//   - 特征交互：强（隐层自动学习特征交互）
//
// 隐层使用 ReLU，输出层只有一个神经元并做 Sigmoid。
// 各层激活缓冲区在多次 Forward 之间复用，因此声明 SharesForwardBuffer，由 Session 串行调用。
type MLPScorer struct {
	Layers []DenseLayer

	mu   sync.Mutex
	bufs [][]float32
}

// NewMLPScorer 校验各层形状并创建 MLPScorer。
func NewMLPScorer(layers []DenseLayer) (*MLPScorer, error) {
	if len(layers) == 0 {
		return nil, core.Errorf(core.ModuleModel, core.ErrorCodeConfig, "mlp: no layers")
	}
	for i, l := range layers {
		if l.outDim() == 0 || l.inDim() == 0 {
			return nil, core.Errorf(core.ModuleModel, core.ErrorCodeConfig, "mlp: layer %d is empty", i)
		}
		for j, w := range l.Weights {
			if len(w) != l.inDim() {
				return nil, core.Errorf(core.ModuleModel, core.ErrorCodeConfig,
					"mlp: layer %d neuron %d has %d weights, want %d", i, j, len(w), l.inDim())
			}
		}
		if len(l.Bias) != l.outDim() {
			return nil, core.Errorf(core.ModuleModel, core.ErrorCodeConfig,
				"mlp: layer %d has %d biases, want %d", i, len(l.Bias), l.outDim())
		}
		if i > 0 && l.inDim() != layers[i-1].outDim() {
			return nil, core.Errorf(core.ModuleModel, core.ErrorCodeConfig,
				"mlp: layer %d input %d does not match previous output %d", i, l.inDim(), layers[i-1].outDim())
		}
	}
	if last := layers[len(layers)-1]; last.outDim() != 1 {
		return nil, core.Errorf(core.ModuleModel, core.ErrorCodeConfig, "mlp: output layer must have 1 neuron, got %d", last.outDim())
	}
	m := &MLPScorer{Layers: layers, bufs: make([][]float32, len(layers))}
	for i, l := range layers {
		m.bufs[i] = make([]float32, l.outDim())
	}
	return m, nil
}

// LoadMLPScorer 从 JSON 文件加载：{"layers": [{"weights": [[...]], "bias": [...]}, ...]}
func LoadMLPScorer(path string) (*MLPScorer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.WrapError(core.ModuleModel, core.ErrorCodeConfig, err, "read mlp model %s", path)
	}
	var raw struct {
		Layers []DenseLayer `json:"layers"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, core.WrapError(core.ModuleModel, core.ErrorCodeConfig, err, "parse mlp model %s", path)
	}
	return NewMLPScorer(raw.Layers)
}

func (m *MLPScorer) Name() string { return "mlp" }

func (m *MLPScorer) InputDim() int { return m.Layers[0].inDim() }

func (m *MLPScorer) SharesForwardBuffer() bool { return true }

func (m *MLPScorer) Forward(ctx context.Context, features []float32, rows, width int, out []float32) error {
	if err := checkForward(m.Name(), features, rows, width, m.InputDim(), out); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := 0; i < rows; i++ {
		if err := ctx.Err(); err != nil {
			return core.WrapError(core.ModuleModel, core.ErrorCodeForwardFailure, err, "mlp: canceled")
		}
		out[i] = m.forwardRow(features[i*width : (i+1)*width])
	}
	return nil
}

// forwardRow 逐层前向传播，调用方持有 m.mu
func (m *MLPScorer) forwardRow(input []float32) float32 {
	current := input
	last := len(m.Layers) - 1
	for li, l := range m.Layers {
		next := m.bufs[li]
		for j, w := range l.Weights {
			next[j] = dot(w, current)
		}
		vecf32.Add(next, l.Bias)
		if li < last {
			for j, v := range next {
				next[j] = relu(v)
			}
		}
		current = next
	}
	return sigmoid(current[0])
}

var _ core.Scorer = (*MLPScorer)(nil)
var _ core.SharedBufferScorer = (*MLPScorer)(nil)
