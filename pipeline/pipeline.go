// Package pipeline 把一次推理拆成按顺序执行的 Stage，并在阶段之间报告状态迁移。
package pipeline

import (
	"context"

	"github.com/rushteam/ctrkit/core"
)

// Stage 是 Pipeline 的最小单元，State 是执行该 Stage 时所处的状态。
type Stage[T any] interface {
	Name() string
	State() core.State
	Process(ctx context.Context, in T) error
}

// StageFunc 用函数构造 Stage。
type StageFunc[T any] struct {
	StageName  string
	StageState core.State
	Fn         func(ctx context.Context, in T) error
}

func (s StageFunc[T]) Name() string { return s.StageName }

func (s StageFunc[T]) State() core.State { return s.StageState }

func (s StageFunc[T]) Process(ctx context.Context, in T) error { return s.Fn(ctx, in) }

// TransitionFunc 在每次状态迁移时被调用（可为 nil）。
type TransitionFunc func(from, to core.State)

// Pipeline 顺序执行 Stages：Idle → 各 Stage 的 State → Complete，任一阶段失败则进入 Error。
type Pipeline[T any] struct {
	Stages []Stage[T]
}

// Run 执行全部 Stage，返回终止状态（Complete 或 Error）与首个错误。
// 每个 Stage 开始前检查 ctx，已取消时不再进入下一阶段。
func (p *Pipeline[T]) Run(ctx context.Context, in T, onTransition TransitionFunc) (core.State, error) {
	state := core.StateIdle
	move := func(to core.State) {
		if onTransition != nil {
			onTransition(state, to)
		}
		state = to
	}
	for _, stage := range p.Stages {
		if err := ctx.Err(); err != nil {
			move(core.StateError)
			return state, err
		}
		move(stage.State())
		if err := stage.Process(ctx, in); err != nil {
			move(core.StateError)
			return state, err
		}
	}
	move(core.StateComplete)
	return state, nil
}
