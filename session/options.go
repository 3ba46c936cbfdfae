package session

import (
	"log/slog"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/monitor"
)

// Option Session 配置选项
type Option func(*options)

type options struct {
	logger  *slog.Logger
	clock   core.Clock
	monitor monitor.Monitor
	scorer  core.Scorer
	workers int
}

func defaultOptions() *options {
	return &options{
		logger:  slog.New(slog.DiscardHandler),
		clock:   core.SystemClock{},
		monitor: monitor.Nop{},
	}
}

// WithLogger 设置日志，默认丢弃。
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock 设置计时用的时钟
func WithClock(clock core.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithMonitor 设置诊断信息的接收方
func WithMonitor(m monitor.Monitor) Option {
	return func(o *options) {
		if m != nil {
			o.monitor = m
		}
	}
}

// WithScorer 直接指定打分函数，忽略 inference.scorer 配置
func WithScorer(scorer core.Scorer) Option {
	return func(o *options) {
		o.scorer = scorer
	}
}

// WithWorkers 设置 Combine 阶段的最大并发数（<=0 表示 GOMAXPROCS）
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}
