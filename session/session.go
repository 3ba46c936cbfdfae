// Package session 实现 InferenceSession：校验批次、查 embedding、池化、拼接特征并调用打分函数。
//
// 一次 Predict 的状态迁移：
//
//	Idle → Validating → Lookup → Combine → Forward → Complete
//
// 任一阶段失败进入 Error，且不会写 output。Session 构造后只读，可被多个 goroutine 并发调用；
// 每次调用的临时缓冲区来自 batch.Scratch，调用返回前归还。
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rushteam/ctrkit/batch"
	"github.com/rushteam/ctrkit/config"
	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/embedding"
	"github.com/rushteam/ctrkit/monitor"
	"github.com/rushteam/ctrkit/pipeline"
	"github.com/rushteam/ctrkit/pkg/dsl"
)

// Session 是一个模型的推理会话。
type Session[K core.Key] struct {
	model     string
	params    *config.InferenceParams
	ps        core.ParameterServer[K]
	scorer    core.Scorer
	transform *dsl.ScoreTransform
	combiners []embedding.Combiner
	width     int

	logger  *slog.Logger
	clock   core.Clock
	monitor monitor.Monitor

	// 打分函数声明共享前向缓冲区时，串行化 Forward
	serialForward bool
	forwardMu     sync.Mutex

	pipe *pipeline.Pipeline[*call[K]]
}

// New 校验模型配置并创建 Session。
// ps 中必须已加载 modelName 的全部表，且维度与配置一致；否则返回 CONFIG_ERROR。
func New[K core.Key](cfg *config.ModelConfig, modelName string, ps core.ParameterServer[K], opts ...Option) (*Session[K], error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	params, err := config.NewInferenceParams(cfg)
	if err != nil {
		return nil, err
	}
	if ps == nil {
		return nil, configErrorf("parameter server is required")
	}

	// 1. 表维度与参数服务一致
	for t, tp := range params.Tables {
		vs, err := ps.VecSize(modelName, t)
		if err != nil {
			return nil, core.WrapError(core.ModuleSession, core.ErrorCodeConfig, err, "model %s table %d", modelName, t)
		}
		if vs != tp.VecSize {
			return nil, configErrorf("model %s table %d: parameter server vec_size %d, config %d", modelName, t, vs, tp.VecSize)
		}
	}

	// 2. 打分函数
	scorer := o.scorer
	if scorer == nil {
		if scorer, err = config.BuildScorer(params.Scorer); err != nil {
			return nil, err
		}
	}
	width := params.FeatureWidth()
	if d, ok := scorer.(core.InputDimer); ok && d.InputDim() > 0 && d.InputDim() != width {
		return nil, configErrorf("scorer %s expects %d features, model produces %d", scorer.Name(), d.InputDim(), width)
	}

	// 3. 输出变换
	var transform *dsl.ScoreTransform
	if params.OutputTransform != "" {
		if transform, err = dsl.NewScoreTransform(params.OutputTransform); err != nil {
			return nil, core.WrapError(core.ModuleSession, core.ErrorCodeConfig, err, "inference.output_transform")
		}
	}

	combiners := make([]embedding.Combiner, len(params.Tables))
	for t, tp := range params.Tables {
		combiners[t] = embedding.Combiner{Mode: tp.Combiner, VecSize: tp.VecSize, Workers: o.workers}
	}

	s := &Session[K]{
		model:     modelName,
		params:    params,
		ps:        ps,
		scorer:    scorer,
		transform: transform,
		combiners: combiners,
		width:     width,
		logger:    o.logger.With("model", modelName),
		clock:     o.clock,
		monitor:   o.monitor,
	}
	if sb, ok := scorer.(core.SharedBufferScorer); ok {
		s.serialForward = sb.SharesForwardBuffer()
	}
	s.pipe = &pipeline.Pipeline[*call[K]]{Stages: []pipeline.Stage[*call[K]]{
		pipeline.StageFunc[*call[K]]{StageName: "validate", StageState: core.StateValidating, Fn: s.validate},
		pipeline.StageFunc[*call[K]]{StageName: "lookup", StageState: core.StateLookup, Fn: s.lookup},
		pipeline.StageFunc[*call[K]]{StageName: "combine", StageState: core.StateCombine, Fn: s.combine},
		pipeline.StageFunc[*call[K]]{StageName: "forward", StageState: core.StateForward, Fn: s.forward},
	}}

	s.logger.Info("session created",
		"tables", len(params.Tables), "dense_dim", params.DenseDim, "width", width,
		"max_batchsize", params.MaxBatchsize, "scorer", scorer.Name())
	return s, nil
}

// NewFromFile 从模型配置文件创建 Session。
func NewFromFile[K core.Key](path, modelName string, ps core.ParameterServer[K], opts ...Option) (*Session[K], error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return New(cfg, modelName, ps, opts...)
}

// Model 返回模型名
func (s *Session[K]) Model() string { return s.model }

// Params 返回推理参数（只读）
func (s *Session[K]) Params() *config.InferenceParams { return s.params }

// Width 返回打分函数的输入宽度
func (s *Session[K]) Width() int { return s.width }

// Predict 对扁平输入打分，结果写入 output[0:n)，n = min(numSamples, max_batchsize)。
//
//   - dense：numSamples × dense_dim，行主序
//   - keys：所有表的 key 按表顺序拼接
//   - rowPtrs：所有表的 CSR 偏移按表顺序拼接，每张表 numSamples*slot_num+1 个，各自从 0 开始
//
// 长度按 numSamples 校验；超过 max_batchsize 的样本被忽略（截断计入 monitor 并记录告警日志）。
// 失败时 output 不会被写入。
func (s *Session[K]) Predict(ctx context.Context, dense []float32, keys []K, rowPtrs []int32, output []float32, numSamples int) error {
	return s.run(ctx, &call[K]{
		requested: numSamples,
		output:    output,
		flat:      &flatInput[K]{dense: dense, keys: keys, rowPtrs: rowPtrs},
	})
}

// PredictBatch 对已构造的 Batch 打分，语义同 Predict。
func (s *Session[K]) PredictBatch(ctx context.Context, b *batch.Batch[K], output []float32) error {
	if b == nil {
		return wrongInputf("batch is nil")
	}
	return s.run(ctx, &call[K]{
		requested: b.Samples,
		output:    output,
		in:        b,
	})
}

type flatInput[K core.Key] struct {
	dense   []float32
	keys    []K
	rowPtrs []int32
}

// call 是一次 Predict 的状态，只在本次调用内可见
type call[K core.Key] struct {
	requestID string
	requested int
	output    []float32
	flat      *flatInput[K]

	in      *batch.Batch[K] // 校验后截断到 n 个样本
	n       int
	scratch *batch.Scratch
	stats   []core.LookupStats
}

func (s *Session[K]) run(ctx context.Context, c *call[K]) error {
	// max_batchsize 为 0 时任何调用都不合法，先于其他检查
	if s.params.MaxBatchsize == 0 {
		err := wrongInputf("max_batchsize is 0")
		s.monitor.RecordError(s.model, core.ErrorCodeWrongInput)
		return err
	}

	c.requestID = uuid.NewString()
	c.scratch = batch.AcquireScratch(len(s.params.Tables))
	defer c.scratch.Release()

	start := s.clock.Now()
	stageStart := start
	state, err := s.pipe.Run(ctx, c, func(from, to core.State) {
		now := s.clock.Now()
		if from != core.StateIdle {
			s.monitor.RecordLatency(s.model, from, now.Sub(stageStart))
		}
		stageStart = now
	})
	elapsed := s.clock.Now().Sub(start)
	if err != nil {
		code := "UNKNOWN"
		if de := core.GetDomainError(err); de != nil {
			code = de.Code
		}
		s.monitor.RecordError(s.model, code)
		s.logger.Warn("predict failed",
			"request_id", c.requestID, "num_samples", c.requested, "state", string(state), "code", code, "error", err)
		if core.IsDomainError(err) {
			return err
		}
		return fmt.Errorf("session %s: %w", s.model, err)
	}

	// Complete：只在全部阶段成功后写 output
	copy(c.output[:c.n], c.scratch.Scores[:c.n])
	s.logger.Debug("predict",
		"request_id", c.requestID, "num_samples", c.n, "elapsed", elapsed)
	return nil
}

// validate 校验输入并截断到 max_batchsize，失败时尚未访问任何表
func (s *Session[K]) validate(_ context.Context, c *call[K]) error {
	if c.requested < 0 {
		return wrongInputf("num_samples must be non-negative, got %d", c.requested)
	}
	in := c.in
	if c.flat != nil {
		b, err := batch.FromFlat(c.flat.dense, c.flat.keys, c.flat.rowPtrs, c.requested, s.params.DenseDim, s.params.SlotNums())
		if err != nil {
			return err
		}
		in = b
	} else if err := in.Validate(); err != nil {
		return err
	}
	if in.DenseDim != s.params.DenseDim {
		return wrongInputf("dense_dim %d, model expects %d", in.DenseDim, s.params.DenseDim)
	}
	if len(in.Sparse) != len(s.params.Tables) {
		return wrongInputf("%d sparse inputs, model has %d tables", len(in.Sparse), len(s.params.Tables))
	}
	for t, tp := range s.params.Tables {
		if in.Sparse[t].SlotNum != tp.SlotNum {
			return wrongInputf("sparse input %d has slot_num %d, model expects %d", t, in.Sparse[t].SlotNum, tp.SlotNum)
		}
	}

	n := min(c.requested, s.params.MaxBatchsize)
	if n < c.requested {
		s.monitor.RecordClamp(s.model, c.requested, n)
		s.logger.Warn("num_samples exceeds max_batchsize, extra samples ignored",
			"request_id", c.requestID, "num_samples", c.requested, "max_batchsize", s.params.MaxBatchsize)
	}
	if len(c.output) < n {
		return wrongInputf("output length %d is smaller than %d samples", len(c.output), n)
	}
	in = in.Head(n)

	// max_feature_num_per_sample <= 0 表示不限制
	for t, tp := range s.params.Tables {
		if tp.MaxFeatureNumPerSample <= 0 {
			continue
		}
		csr := in.Sparse[t]
		for i := 0; i < n; i++ {
			if nnz := csr.SampleNNZ(i); nnz > tp.MaxFeatureNumPerSample {
				return wrongInputf("sample %d has %d ids in sparse input %d, max_feature_num_per_sample is %d",
					i, nnz, t, tp.MaxFeatureNumPerSample)
			}
		}
	}

	c.in = in
	c.n = n
	return nil
}

func wrongInputf(format string, args ...any) error {
	return core.Errorf(core.ModuleSession, core.ErrorCodeWrongInput, format, args...)
}

func configErrorf(format string, args ...any) error {
	return core.Errorf(core.ModuleSession, core.ErrorCodeConfig, format, args...)
}
