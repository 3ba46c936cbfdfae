package paramserver

import (
	"context"
	"strconv"
	"time"

	"github.com/rushteam/ctrkit/config"
	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/store"
)

const (
	driverRedis = "redis"
	driverFeast = "feast"
)

// remoteTables 按 inference.parameter_server 创建远程表。
// 客户端优先使用 WithRedisClient / WithFeastClient 注入的；否则按配置创建，并由 Server 负责关闭。
func (s *Server[K]) remoteTables(ctx context.Context, o *options, model string, params *config.InferenceParams) ([]store.Table[K], error) {
	psc := params.ParameterServer
	if psc == nil {
		psc = &config.ParameterServerConfig{}
	}
	timeout := core.DefaultRemoteTimeout
	if psc.TimeoutMs > 0 {
		timeout = time.Duration(psc.TimeoutMs) * time.Millisecond
	}

	switch psc.Driver {
	case "", driverRedis:
		return s.redisTables(ctx, o, model, params, psc, timeout)
	case driverFeast:
		return s.feastTables(o, params, psc, timeout)
	default:
		return nil, psConfigErrorf("unknown parameter_server.driver %q", psc.Driver)
	}
}

func (s *Server[K]) redisTables(ctx context.Context, o *options, model string, params *config.InferenceParams,
	psc *config.ParameterServerConfig, timeout time.Duration) ([]store.Table[K], error) {
	codec, err := store.CodecByName(psc.Codec)
	if err != nil {
		return nil, err
	}
	client := o.redisClient
	if client == nil {
		if psc.RedisAddr == "" {
			return nil, psConfigErrorf("parameter_server.redis_addr is required")
		}
		c, err := store.NewRedisClient(ctx, psc.RedisAddr, psc.RedisPassword, psc.RedisDB)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, c)
		client = c
	}

	tables := make([]store.Table[K], 0, params.NumTables())
	for i, t := range params.Tables {
		table, err := store.NewRedisTable[K](client, TablePrefix(psc.KeyPrefix, model, i), t.VecSize,
			store.WithRedisCodec(codec), store.WithRedisTimeout(timeout))
		if err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}
	return tables, nil
}

func (s *Server[K]) feastTables(o *options, params *config.InferenceParams,
	psc *config.ParameterServerConfig, timeout time.Duration) ([]store.Table[K], error) {
	if len(psc.FeastFeatures) != params.NumTables() {
		return nil, psConfigErrorf("parameter_server.feast_features needs %d entries, got %d",
			params.NumTables(), len(psc.FeastFeatures))
	}
	client := o.feastClient
	if client == nil {
		if psc.FeastHost == "" {
			return nil, psConfigErrorf("parameter_server.feast_host is required")
		}
		c, err := store.NewFeastClient(psc.FeastHost, psc.FeastPort)
		if err != nil {
			return nil, err
		}
		client = c
	}

	tables := make([]store.Table[K], 0, params.NumTables())
	for i, t := range params.Tables {
		table, err := store.NewFeastTable[K](client, psc.FeastProject, psc.FeastEntity, psc.FeastFeatures[i], t.VecSize)
		if err != nil {
			return nil, err
		}
		table.Timeout = timeout
		tables = append(tables, table)
	}
	return tables, nil
}

// TablePrefix 返回第 tableID 张表在 Redis 中的 key 前缀：{prefix}:{tableID}，prefix 为空时为 ctrkit:{model}。
func TablePrefix(prefix, model string, tableID int) string {
	if prefix == "" {
		prefix = "ctrkit:" + model
	}
	return prefix + ":" + strconv.Itoa(tableID)
}
