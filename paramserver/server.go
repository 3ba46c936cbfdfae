// Package paramserver 实现 core.ParameterServer：按模型名与表序号提供 embedding 查询。
//
// 后端：
//   - Local：从稀疏模型文件加载到 store.MemoryTable
//   - RemoteService：store.RedisTable（默认）或 store.FeastTable
//
// 并发模型：独占加载、共享读取。Lookup 持读锁；Reload 在锁外构建新表，再持写锁替换。
package paramserver

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rushteam/ctrkit/config"
	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/store"
)

// Server 是多模型、多表的参数服务。
type Server[K core.Key] struct {
	kind   core.BackendKind
	logger *slog.Logger

	mu      sync.RWMutex
	models  map[string]*modelTables[K]
	closers []io.Closer
	closed  bool
}

type modelTables[K core.Key] struct {
	params *config.InferenceParams
	tables []store.Table[K]
}

// Option ParameterServer 配置选项
type Option func(*options)

type options struct {
	logger      *slog.Logger
	redisClient store.RedisClient
	feastClient store.FeastClient
}

// WithLogger 设置日志
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRedisClient 使用外部创建的 Redis 客户端（RemoteService 后端），Close 时不会关闭它。
func WithRedisClient(client store.RedisClient) Option {
	return func(o *options) {
		o.redisClient = client
	}
}

// WithFeastClient 使用外部创建的 Feast 客户端（RemoteService 后端）。
func WithFeastClient(client store.FeastClient) Option {
	return func(o *options) {
		o.feastClient = client
	}
}

// CreateParameterServer 为每个 (模型配置, 模型名) 加载全部 embedding 表。
// 配置缺失、文件不可读或远程后端不可达都会使构造失败。
func CreateParameterServer[K core.Key](ctx context.Context, kind core.BackendKind, modelConfigPaths, modelNames []string, opts ...Option) (*Server[K], error) {
	if len(modelConfigPaths) == 0 {
		return nil, psConfigErrorf("no model config")
	}
	if len(modelConfigPaths) != len(modelNames) {
		return nil, psConfigErrorf("%d model configs for %d model names", len(modelConfigPaths), len(modelNames))
	}
	o := &options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(o)
	}

	s := &Server[K]{
		kind:   kind,
		logger: o.logger,
		models: make(map[string]*modelTables[K], len(modelNames)),
	}
	for i, name := range modelNames {
		if name == "" {
			_ = s.Close()
			return nil, psConfigErrorf("model name %d is empty", i)
		}
		if _, ok := s.models[name]; ok {
			_ = s.Close()
			return nil, psConfigErrorf("duplicate model name %q", name)
		}
		start := time.Now()
		mt, err := s.loadModel(ctx, o, name, modelConfigPaths[i])
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.models[name] = mt
		s.logger.Info("parameter server: model loaded",
			"model", name, "backend", string(kind), "tables", len(mt.tables), "elapsed", time.Since(start))
	}
	return s, nil
}

func (s *Server[K]) loadModel(ctx context.Context, o *options, name, path string) (*modelTables[K], error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	params, err := config.NewInferenceParams(cfg)
	if err != nil {
		return nil, core.WrapError(core.ModuleParamServer, core.ErrorCodeConfig, err, "model %s", name)
	}

	var tables []store.Table[K]
	switch s.kind {
	case core.BackendLocal:
		tables, err = s.localTables(params, filepath.Dir(path))
	case core.BackendRemoteService:
		tables, err = s.remoteTables(ctx, o, name, params)
	default:
		err = psConfigErrorf("unknown backend kind %q", s.kind)
	}
	if err != nil {
		return nil, err
	}
	return &modelTables[K]{params: params, tables: tables}, nil
}

// localTables 加载 sparse_model_files，相对路径相对于模型配置文件所在目录
func (s *Server[K]) localTables(params *config.InferenceParams, baseDir string) ([]store.Table[K], error) {
	if len(params.SparseModelFiles) != params.NumTables() {
		return nil, psConfigErrorf("local backend needs %d sparse_model_files, got %d",
			params.NumTables(), len(params.SparseModelFiles))
	}
	tables := make([]store.Table[K], 0, params.NumTables())
	for i, t := range params.Tables {
		table, err := buildMemoryTable[K](resolvePath(baseDir, params.SparseModelFiles[i]), t.VecSize)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("parameter server: table loaded", "table", i, "keys", table.Len(), "vec_size", t.VecSize)
		tables = append(tables, table)
	}
	return tables, nil
}

func buildMemoryTable[K core.Key](path string, vecSize int) (*store.MemoryTable[K], error) {
	keys, vectors, err := LoadSparseModelFile[K](path, vecSize)
	if err != nil {
		return nil, err
	}
	return store.NewMemoryTable(vecSize, keys, vectors)
}

func resolvePath(baseDir, p string) string {
	if filepath.IsAbs(p) || baseDir == "" {
		return p
	}
	return filepath.Join(baseDir, p)
}

// Lookup 实现 core.ParameterServer。
func (s *Server[K]) Lookup(ctx context.Context, model string, tableID int, keys []K, dst []float32) (core.LookupStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	table, err := s.tableLocked(model, tableID)
	if err != nil {
		return core.LookupStats{}, err
	}
	return table.Lookup(ctx, keys, dst)
}

// VecSize 返回表的向量维度。
func (s *Server[K]) VecSize(model string, tableID int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	table, err := s.tableLocked(model, tableID)
	if err != nil {
		return 0, err
	}
	return table.VecSize(), nil
}

// NumTables 返回模型的表个数。
func (s *Server[K]) NumTables(model string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mt, ok := s.models[model]
	if !ok {
		return 0, psConfigErrorf("model %q not loaded", model)
	}
	return len(mt.tables), nil
}

// Models 返回已加载的模型名（排序）。
func (s *Server[K]) Models() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.models))
	for name := range s.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server[K]) tableLocked(model string, tableID int) (store.Table[K], error) {
	if s.closed {
		return nil, core.Errorf(core.ModuleParamServer, core.ErrorCodeUnavailable, "parameter server is closed")
	}
	mt, ok := s.models[model]
	if !ok {
		return nil, psConfigErrorf("model %q not loaded", model)
	}
	if tableID < 0 || tableID >= len(mt.tables) {
		return nil, psConfigErrorf("model %q has no table %d (%d tables)", model, tableID, len(mt.tables))
	}
	return mt.tables[tableID], nil
}

// Reload 从稀疏模型文件重新加载 Local 后端的一张表。
// 新表在锁外构建完成后再持写锁替换，读者不会看到加载到一半的表。
func (s *Server[K]) Reload(ctx context.Context, model string, tableID int, path string) error {
	if s.kind != core.BackendLocal {
		return core.Errorf(core.ModuleParamServer, core.ErrorCodeNotSupported, "reload is only supported by the local backend")
	}
	vecSize, err := s.VecSize(model, tableID)
	if err != nil {
		return err
	}
	start := time.Now()
	table, err := buildMemoryTable[K](path, vecSize)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	old, err := s.tableLocked(model, tableID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.models[model].tables[tableID] = table
	s.mu.Unlock()

	_ = old.Close()
	s.logger.Info("parameter server: table reloaded",
		"model", model, "table", tableID, "keys", table.Len(), "elapsed", time.Since(start))
	return nil
}

// Close 关闭全部表与由 Server 创建的客户端，可重复调用。
func (s *Server[K]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var firstErr error
	for _, mt := range s.models {
		for _, t := range mt.tables {
			if err := t.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func psConfigErrorf(format string, args ...any) error {
	return core.Errorf(core.ModuleParamServer, core.ErrorCodeConfig, format, args...)
}

var _ core.ParameterServer[uint64] = (*Server[uint64])(nil)
