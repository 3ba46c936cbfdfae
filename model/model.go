// Package model 提供打分函数（core.Scorer）的实现：本地的 LR / MLP，以及调用外部模型服务的 RPC / TF Serving / KServe。
package model

import (
	"github.com/chewxy/math32"

	"github.com/rushteam/ctrkit/core"
)

// checkForward 校验 Forward 的缓冲区形状
func checkForward(name string, features []float32, rows, width, inputDim int, out []float32) error {
	if inputDim > 0 && width != inputDim {
		return forwardErrorf("%s: feature width %d, want %d", name, width, inputDim)
	}
	if len(features) < rows*width {
		return forwardErrorf("%s: features too short: %d < %d", name, len(features), rows*width)
	}
	if len(out) < rows {
		return forwardErrorf("%s: output too short: %d < %d", name, len(out), rows)
	}
	return nil
}

func forwardErrorf(format string, args ...any) error {
	return core.Errorf(core.ModuleModel, core.ErrorCodeForwardFailure, format, args...)
}

// sigmoid Sigmoid 激活函数。
func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// relu ReLU 激活函数。
func relu(x float32) float32 {
	if x > 0 {
		return x
	}
	return 0
}

func dot(a, b []float32) float32 {
	var s float32
	for i, v := range a {
		s += v * b[i]
	}
	return s
}
