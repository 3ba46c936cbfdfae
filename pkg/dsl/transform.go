// Package dsl 提供基于 CEL (Common Expression Language) 的分数变换。
package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

// initCELEnv 初始化 CEL 环境，定义变量
func initCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("score", cel.DoubleType),
		cel.Variable("index", cel.IntType),
	)
}

// getCELEnv 获取或创建 CEL 环境
func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = initCELEnv()
	})
	return celEnv, celEnvErr
}

// ScoreTransform 对打分函数的每个输出执行一个 CEL 表达式，结果替换原分数。
//
// 可用变量：
//   - score：当前分数（double）
//   - index：样本在批次中的下标（int）
//
// 示例：
//   - `score * 100.0` → 转为百分制
//   - `score < 0.01 ? 0.0 : score` → 截断极小值
//
// 表达式在构造时编译一次，Apply 可并发调用。
type ScoreTransform struct {
	expr string
	prg  cel.Program
}

// NewScoreTransform 编译表达式，表达式结果必须是 double 或 int。
func NewScoreTransform(expr string) (*ScoreTransform, error) {
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(types.DoubleType) && !out.IsExactType(types.IntType) && !out.IsExactType(types.DynType) {
		return nil, fmt.Errorf("expression must return double or int, got %s", out)
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error: %w", err)
	}
	return &ScoreTransform{expr: expr, prg: prg}, nil
}

// Expr 返回原始表达式
func (t *ScoreTransform) Expr() string { return t.expr }

// Apply 就地变换 scores。
func (t *ScoreTransform) Apply(scores []float32) error {
	for i, s := range scores {
		out, _, err := t.prg.Eval(map[string]interface{}{
			"score": float64(s),
			"index": int64(i),
		})
		if err != nil {
			return fmt.Errorf("eval error at %d: %w", i, err)
		}
		switch v := out.Value().(type) {
		case float64:
			scores[i] = float32(v)
		case int64:
			scores[i] = float32(v)
		default:
			return fmt.Errorf("expression must return double or int, got %T", out.Value())
		}
	}
	return nil
}
