package core

import "time"

// Clock 提供当前时间，由调用方注入，避免进程级的全局计时器。
type Clock interface {
	Now() time.Time
}

// SystemClock 是基于 time.Now 的 Clock。
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// 推理相关默认值
const (
	// DefaultLookupShardSize 是单表 Lookup 分片的 key 数，超过后按分片并发读取
	DefaultLookupShardSize = 4096

	// DefaultCombineChunk 是 Combine 阶段每个任务处理的样本数
	DefaultCombineChunk = 64

	// DefaultRemoteTimeout 是远程后端单次请求的默认超时
	DefaultRemoteTimeout = 2 * time.Second
)
