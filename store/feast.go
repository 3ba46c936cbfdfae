package store

import (
	"context"
	"fmt"
	"time"

	feastsdk "github.com/feast-dev/feast/sdk/go"

	"github.com/rushteam/ctrkit/core"
)

// FeastClient 是 FeastTable 用到的 Feast SDK 方法子集，*feastsdk.GrpcClient 满足。
type FeastClient interface {
	GetOnlineFeatures(ctx context.Context, req *feastsdk.OnlineFeaturesRequest) (*feastsdk.OnlineFeaturesResponse, error)
}

// FeastTable 是基于 Feast 在线特征的 Table，用于 RemoteService 后端。
//
// 每个 embedding id 是一个实体（Entity），向量存放在一个 float_list（或 double_list）特征中：
//
//	entity:  {Entity} = id（int64）
//	feature: {Feature}，例如 "dcn_embedding_0:vector"
//
// 注意：uint64 id 会按位转换为 int64 实体值。
type FeastTable[K core.Key] struct {
	client    FeastClient
	Project   string
	Entity    string
	Feature   string
	vecSize   int
	batchSize int
	Timeout   time.Duration
}

// NewFeastTable 创建 FeastTable。
func NewFeastTable[K core.Key](client FeastClient, project, entity, feature string, vecSize int) (*FeastTable[K], error) {
	if client == nil {
		return nil, core.Errorf(core.ModuleStore, core.ErrorCodeConfig, "feast: client is required")
	}
	if entity == "" || feature == "" {
		return nil, core.Errorf(core.ModuleStore, core.ErrorCodeConfig, "feast: entity and feature are required")
	}
	if vecSize <= 0 {
		return nil, core.Errorf(core.ModuleStore, core.ErrorCodeConfig, "feast: invalid vec_size %d", vecSize)
	}
	return &FeastTable[K]{
		client:    client,
		Project:   project,
		Entity:    entity,
		Feature:   feature,
		vecSize:   vecSize,
		batchSize: 256,
		Timeout:   core.DefaultRemoteTimeout,
	}, nil
}

// NewFeastClient 创建 Feast gRPC 客户端（无认证）。
func NewFeastClient(host string, port int) (*feastsdk.GrpcClient, error) {
	if port == 0 {
		port = 6565 // 默认 gRPC 端口
	}
	client, err := feastsdk.NewGrpcClient(host, port)
	if err != nil {
		return nil, core.WrapError(core.ModuleStore, core.ErrorCodeUnavailable, err, "feast: connect %s:%d", host, port)
	}
	return client, nil
}

func (f *FeastTable[K]) Name() string { return "feast" }

func (f *FeastTable[K]) VecSize() int { return f.vecSize }

func (f *FeastTable[K]) Lookup(ctx context.Context, keys []K, dst []float32) (core.LookupStats, error) {
	if err := checkLookupDst(f.Name(), len(keys), f.vecSize, len(dst)); err != nil {
		return core.LookupStats{}, err
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	stats := core.LookupStats{Keys: len(keys)}
	for lo := 0; lo < len(keys); lo += f.batchSize {
		hi := min(lo+f.batchSize, len(keys))
		misses, err := f.fetch(ctx, keys[lo:hi], dst[lo*f.vecSize:hi*f.vecSize])
		if err != nil {
			return core.LookupStats{}, err
		}
		stats.Misses += misses
	}
	return stats, nil
}

func (f *FeastTable[K]) fetch(ctx context.Context, keys []K, dst []float32) (int, error) {
	// 1. 构建实体行
	rows := make([]feastsdk.Row, len(keys))
	for i, k := range keys {
		rows[i] = feastsdk.Row{f.Entity: feastsdk.Int64Val(int64(k))}
	}

	// 2. 调用 SDK
	resp, err := f.client.GetOnlineFeatures(ctx, &feastsdk.OnlineFeaturesRequest{
		Features: []string{f.Feature},
		Entities: rows,
		Project:  f.Project,
	})
	if err != nil {
		return 0, core.WrapError(core.ModuleStore, core.ErrorCodeUnavailable, err, "feast: get online features")
	}
	got := resp.Rows()
	if len(got) != len(keys) {
		return 0, core.Errorf(core.ModuleStore, core.ErrorCodeUnavailable,
			"feast: response row count mismatch: expected %d, got %d", len(keys), len(got))
	}

	// 3. 解析向量，缺失值按零向量处理
	misses := 0
	vs := f.vecSize
	for i, row := range got {
		out := dst[i*vs : (i+1)*vs]
		val := row[f.Feature]
		if fl := val.GetFloatListVal().GetVal(); len(fl) > 0 {
			if len(fl) != vs {
				return 0, f.dimError(keys[i], len(fl))
			}
			copy(out, fl)
			continue
		}
		if dl := val.GetDoubleListVal().GetVal(); len(dl) > 0 {
			if len(dl) != vs {
				return 0, f.dimError(keys[i], len(dl))
			}
			for d, v := range dl {
				out[d] = float32(v)
			}
			continue
		}
		clear(out)
		misses++
	}
	return misses, nil
}

func (f *FeastTable[K]) dimError(key K, got int) error {
	return core.NewDomainError(core.ModuleStore, core.ErrorCodeUnavailable,
		fmt.Sprintf("feast: feature %s for id %d has dim %d, want %d", f.Feature, uint64(key), got, f.vecSize))
}

// Close 官方 SDK 的连接由 gRPC 库管理，这里不持有需要释放的资源
func (f *FeastTable[K]) Close() error { return nil }

var _ Table[uint64] = (*FeastTable[uint64])(nil)
var _ FeastClient = (*feastsdk.GrpcClient)(nil)
