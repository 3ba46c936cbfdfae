// Package ctrkit 是 CTR 模型的 CPU 推理工具包。
//
// 设计要点：
// - 参数服务（paramserver）持有全部 embedding 表，多个 Session 共享，只读查询、独占加载
// - Session 按 Validating → Lookup → Combine → Forward 执行一次打分，失败时不写 output
// - 稠密网络通过 core.Scorer 接入（本地 LR / MLP，或 RPC / TF Serving / KServe）
//
// 使用配置中的 scorer 时，需 import _ "github.com/rushteam/ctrkit/config/builders"。
package ctrkit

import (
	"context"
	"log/slog"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/paramserver"
	"github.com/rushteam/ctrkit/session"
)

// 轻量 facade：便于用户直接 import "ctrkit" 使用核心抽象。
type Key = core.Key
type Session[K core.Key] = session.Session[K]
type ParameterServer[K core.Key] = paramserver.Server[K]
type BackendKind = core.BackendKind

const (
	BackendLocal         = core.BackendLocal
	BackendRemoteService = core.BackendRemoteService
)

// Open 为单个模型创建参数服务与 Session，调用方负责关闭返回的参数服务。
func Open[K core.Key](ctx context.Context, kind BackendKind, configPath, modelName string, logger *slog.Logger) (*Session[K], *ParameterServer[K], error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ps, err := paramserver.CreateParameterServer[K](ctx, kind, []string{configPath}, []string{modelName},
		paramserver.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	sess, err := session.NewFromFile[K](configPath, modelName, ps, session.WithLogger(logger))
	if err != nil {
		_ = ps.Close()
		return nil, nil, err
	}
	return sess, ps, nil
}
