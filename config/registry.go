package config

import (
	"sort"
	"sync"

	"github.com/rushteam/ctrkit/core"
)

// 使用配置驱动时，需在 main 或入口处 import _ "github.com/rushteam/ctrkit/config/builders"
// 以触发内置 Scorer（lr、mlp、rpc、tf_serving、kserve）的 init 注册。

// ScorerBuilder 根据 inference.scorer.config 构建 Scorer。
type ScorerBuilder func(cfg map[string]interface{}) (core.Scorer, error)

var (
	defaultBuilders   = make(map[string]ScorerBuilder)
	defaultBuildersMu sync.RWMutex
)

// Register 注册一种 Scorer 的构建逻辑。
// 建议在各组件的 init 中调用，例如：func init() { config.Register("lr", BuildLRScorer) }
func Register(typeName string, builder ScorerBuilder) {
	if typeName == "" || builder == nil {
		return
	}
	defaultBuildersMu.Lock()
	defer defaultBuildersMu.Unlock()
	defaultBuilders[typeName] = builder
}

// SupportedTypes 返回当前已注册的 Scorer 类型列表（排序），用于错误提示与校验。
func SupportedTypes() []string {
	defaultBuildersMu.RLock()
	defer defaultBuildersMu.RUnlock()
	types := make([]string, 0, len(defaultBuilders))
	for t := range defaultBuilders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ValidateScorerConfig 校验 scorer 类型已注册；未注册时返回包含已支持列表的 CONFIG_ERROR。
func ValidateScorerConfig(sc *ScorerConfig) error {
	if sc == nil || sc.Type == "" {
		return configErrorf("inference.scorer.type is required")
	}
	defaultBuildersMu.RLock()
	_, ok := defaultBuilders[sc.Type]
	defaultBuildersMu.RUnlock()
	if !ok {
		return configErrorf("unsupported scorer type %q (supported: %v)", sc.Type, SupportedTypes())
	}
	return nil
}

// BuildScorer 按注册表构建 Scorer，构建失败统一包装为 CONFIG_ERROR。
func BuildScorer(sc *ScorerConfig) (core.Scorer, error) {
	if err := ValidateScorerConfig(sc); err != nil {
		return nil, err
	}
	defaultBuildersMu.RLock()
	builder := defaultBuilders[sc.Type]
	defaultBuildersMu.RUnlock()

	scorer, err := builder(sc.Config)
	if err != nil {
		if core.IsConfigError(err) {
			return nil, err
		}
		return nil, core.WrapError(core.ModuleConfig, core.ErrorCodeConfig, err, "build scorer %s", sc.Type)
	}
	return scorer, nil
}
