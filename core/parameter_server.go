package core

import "context"

// Key 是稀疏特征 id 的类型约束，每个部署选定一次（32 位或 64 位）。
type Key interface {
	~uint32 | ~uint64
}

// BackendKind 指定 ParameterServer 的表来源。
type BackendKind string

const (
	BackendLocal         BackendKind = "local"          // 进程内存表，从稀疏模型文件加载
	BackendRemoteService BackendKind = "remote_service" // 远程 KV 服务（Redis / Feast）
)

// ParseBackendKind 解析后端类型字符串，兼容 "Local" / "RemoteService" 等写法。
func ParseBackendKind(s string) (BackendKind, error) {
	switch s {
	case "local", "Local", "LOCAL":
		return BackendLocal, nil
	case "remote", "remote_service", "RemoteService", "REMOTE":
		return BackendRemoteService, nil
	default:
		return "", Errorf(ModuleParamServer, ErrorCodeConfig, "unknown backend kind: %q", s)
	}
}

// LookupStats 是单次 Lookup 的诊断信息。
// Misses 对应 LOOKUP_MISS：不在表中的 key 会被解析为零向量，只计数，不报错。
type LookupStats struct {
	Keys   int
	Misses int
}

// Add 累加另一次 Lookup 的统计。
func (s *LookupStats) Add(o LookupStats) {
	s.Keys += o.Keys
	s.Misses += o.Misses
}

// ParameterServer 是 embedding 参数服务的领域接口。
//
// 设计原则：
//   - 定义在领域层（core），由基础设施层（paramserver）实现
//   - 推理路径只读：加载与读取不交错（独占加载、共享读取）
//   - 输出顺序与输入 key 顺序逐位对应，允许重复 key
//
// 实现：
//   - paramserver.Server 实现此接口（Local / RemoteService 两种后端）
type ParameterServer[K Key] interface {
	// Lookup 查询 model 的第 tableID 张表，把 len(keys)*vecSize 个 float 写入 dst。
	// 未知 key 写入零向量。
	Lookup(ctx context.Context, model string, tableID int, keys []K, dst []float32) (LookupStats, error)

	// VecSize 返回表的向量维度
	VecSize(model string, tableID int) (int, error)

	// Close 关闭连接/释放资源
	Close() error
}
