package core

import "context"

// Scorer 是打分函数（ScoringFunction）的领域接口：只做前向计算。
//
// 使用场景：
//   - 本地模型：LR、MLP
//   - 外部模型服务：自定义 RPC、TensorFlow Serving、KServe
//
// 实现：
//   - model.LRScorer / model.MLPScorer / model.RPCScorer / model.TFServingScorer / model.KServeScorer
type Scorer interface {
	// Name 返回打分函数名称（用于日志/监控）
	Name() string

	// Forward 对 rows 个样本打分。
	// features 为行主序矩阵，每行 width 个 float；out 长度至少为 rows。
	Forward(ctx context.Context, features []float32, rows, width int, out []float32) error
}

// InputDimer 由能声明输入维度的 Scorer 实现，Session 构造时据此校验拼接后的特征宽度。
type InputDimer interface {
	InputDim() int
}

// SharedBufferScorer 由在多次 Forward 之间复用内部缓冲区的 Scorer 实现。
// SharesForwardBuffer 返回 true 时，Session 会串行化对它的调用。
type SharedBufferScorer interface {
	SharesForwardBuffer() bool
}
