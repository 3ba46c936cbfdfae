// Package monitor 记录推理过程的诊断信息：查表未命中、批次截断、各阶段耗时与错误。
// 生产环境可以实现 Monitor 接口对接 Prometheus、StatsD 等外部监控系统。
package monitor

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/rushteam/ctrkit/core"
)

// Monitor 是 Session 使用的诊断接口，实现必须并发安全。
type Monitor interface {
	// RecordLookup 记录一次查表，Misses 即 LOOKUP_MISS 计数
	RecordLookup(model string, tableID int, stats core.LookupStats)

	// RecordClamp 记录一次 num_samples 超过 max_batchsize 的截断
	RecordClamp(model string, requested, processed int)

	// RecordLatency 记录某个阶段的耗时
	RecordLatency(model string, stage core.State, d time.Duration)

	// RecordError 记录一次失败的调用
	RecordError(model, code string)
}

// Nop 丢弃所有记录。
type Nop struct{}

func (Nop) RecordLookup(string, int, core.LookupStats) {}
func (Nop) RecordClamp(string, int, int) {}
func (Nop) RecordLatency(string, core.State, time.Duration) {}
func (Nop) RecordError(string, string) {}

// LatencyStats 是一个阶段的耗时统计。
type LatencyStats struct {
	Count int
	Mean  time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
}

// Stats 是一个模型的诊断快照。
type Stats struct {
	Model          string
	LookupKeys     int64
	LookupMisses   int64
	TableMisses    map[int]int64
	ClampedCalls   int64
	ClampedSamples int64 // 被丢弃的样本总数
	Errors         map[string]int64
	Latency        map[core.State]LatencyStats
}

// MissRate 返回查表未命中率
func (s Stats) MissRate() float64 {
	if s.LookupKeys == 0 {
		return 0
	}
	return float64(s.LookupMisses) / float64(s.LookupKeys)
}

// MemoryMonitor 是内存实现的 Monitor，每个阶段保留最近 maxSamples 个耗时样本。
type MemoryMonitor struct {
	mu         sync.Mutex
	maxSamples int
	models     map[string]*modelStats
}

type modelStats struct {
	stats   Stats
	samples map[core.State][]float64 // 纳秒
}

// NewMemoryMonitor 创建内存监控，maxSamples <= 0 时默认 1024。
func NewMemoryMonitor(maxSamples int) *MemoryMonitor {
	if maxSamples <= 0 {
		maxSamples = 1024
	}
	return &MemoryMonitor{
		maxSamples: maxSamples,
		models:     make(map[string]*modelStats),
	}
}

func (m *MemoryMonitor) model(name string) *modelStats {
	ms := m.models[name]
	if ms == nil {
		ms = &modelStats{
			stats: Stats{
				Model:       name,
				TableMisses: make(map[int]int64),
				Errors:      make(map[string]int64),
			},
			samples: make(map[core.State][]float64),
		}
		m.models[name] = ms
	}
	return ms
}

func (m *MemoryMonitor) RecordLookup(model string, tableID int, s core.LookupStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms := m.model(model)
	ms.stats.LookupKeys += int64(s.Keys)
	ms.stats.LookupMisses += int64(s.Misses)
	ms.stats.TableMisses[tableID] += int64(s.Misses)
}

func (m *MemoryMonitor) RecordClamp(model string, requested, processed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms := m.model(model)
	ms.stats.ClampedCalls++
	ms.stats.ClampedSamples += int64(requested - processed)
}

func (m *MemoryMonitor) RecordLatency(model string, stage core.State, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms := m.model(model)
	values := ms.samples[stage]
	if len(values) >= m.maxSamples {
		// 移除最旧的样本
		values = values[1:]
	}
	ms.samples[stage] = append(values, float64(d))
}

func (m *MemoryMonitor) RecordError(model, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model(model).stats.Errors[code]++
}

// Snapshot 返回模型当前的统计副本，耗时分位数在此时计算。
func (m *MemoryMonitor) Snapshot(model string) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms := m.model(model)

	out := ms.stats
	out.TableMisses = make(map[int]int64, len(ms.stats.TableMisses))
	for k, v := range ms.stats.TableMisses {
		out.TableMisses[k] = v
	}
	out.Errors = make(map[string]int64, len(ms.stats.Errors))
	for k, v := range ms.stats.Errors {
		out.Errors[k] = v
	}
	out.Latency = make(map[core.State]LatencyStats, len(ms.samples))
	for stage, values := range ms.samples {
		out.Latency[stage] = computeLatency(values)
	}
	return out
}

func computeLatency(values []float64) LatencyStats {
	if len(values) == 0 {
		return LatencyStats{}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	q := func(p float64) time.Duration {
		return time.Duration(stat.Quantile(p, stat.Empirical, sorted, nil))
	}
	return LatencyStats{
		Count: len(sorted),
		Mean:  time.Duration(stat.Mean(sorted, nil)),
		P50:   q(0.5),
		P95:   q(0.95),
		P99:   q(0.99),
		Max:   time.Duration(sorted[len(sorted)-1]),
	}
}

var _ Monitor = Nop{}
var _ Monitor = (*MemoryMonitor)(nil)
