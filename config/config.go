package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/ctrkit/core"
)

// ModelConfig 是模型配置文件的结构（支持 YAML/JSON，按扩展名区分）。
//
// 只解析推理用到的字段，其余训练相关字段被忽略。数值字段使用指针，用于区分“缺失”与“零值”。
type ModelConfig struct {
	Inference Inference     `yaml:"inference" json:"inference"`
	Layers    []LayerConfig `yaml:"layers" json:"layers"`
}

// Inference 是 inference 段。
type Inference struct {
	MaxBatchsize     *int     `yaml:"max_batchsize" json:"max_batchsize"`
	SparseModelFiles []string `yaml:"sparse_model_files" json:"sparse_model_files"`

	// Scorer 是稠密部分的打分函数
	Scorer *ScorerConfig `yaml:"scorer" json:"scorer"`

	// OutputTransform 可选，对每个分数执行的 CEL 表达式，例如 "score * 100.0"
	OutputTransform string `yaml:"output_transform" json:"output_transform"`

	// ParameterServer 是 RemoteService 后端的连接配置
	ParameterServer *ParameterServerConfig `yaml:"parameter_server" json:"parameter_server"`
}

// ScorerConfig 与注册表中的构建器对应：Type 选择构建器，Config 原样交给它。
type ScorerConfig struct {
	Type   string                 `yaml:"type" json:"type"`
	Config map[string]interface{} `yaml:"config" json:"config"`
}

// ParameterServerConfig 是远程表的连接配置。
type ParameterServerConfig struct {
	Driver string `yaml:"driver" json:"driver"` // redis（默认）/ feast
	Codec  string `yaml:"codec" json:"codec"`   // fp32（默认）/ fp16

	// KeyPrefix 为空时使用 "ctrkit:{model}"，第 i 张表的前缀为 "{KeyPrefix}:{i}"
	KeyPrefix     string `yaml:"key_prefix" json:"key_prefix"`
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string `yaml:"redis_password" json:"redis_password"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db"`

	FeastHost    string `yaml:"feast_host" json:"feast_host"`
	FeastPort    int    `yaml:"feast_port" json:"feast_port"`
	FeastProject string `yaml:"feast_project" json:"feast_project"`
	FeastEntity  string `yaml:"feast_entity" json:"feast_entity"`
	// FeastFeatures 每张表一个特征引用，例如 "dcn_embedding_0:vector"
	FeastFeatures []string `yaml:"feast_features" json:"feast_features"`

	TimeoutMs int `yaml:"timeout_ms" json:"timeout_ms"`
}

// LayerConfig 是 layers 中的一项。layers[0] 为数据层，其后为 embedding 层。
type LayerConfig struct {
	Name   string              `yaml:"name" json:"name"`
	Type   string              `yaml:"type" json:"type"`
	Dense  *DenseInput         `yaml:"dense" json:"dense"`
	Sparse []SparseInputConfig `yaml:"sparse" json:"sparse"`

	SparseEmbeddingHparam *EmbeddingHparam `yaml:"sparse_embedding_hparam" json:"sparse_embedding_hparam"`
}

// DenseInput 描述稠密输入。
type DenseInput struct {
	Top      string `yaml:"top" json:"top"`
	DenseDim *int   `yaml:"dense_dim" json:"dense_dim"`
}

// SparseInputConfig 描述一组稀疏输入（对应一张 embedding 表）。
type SparseInputConfig struct {
	Top                    string `yaml:"top" json:"top"`
	Type                   string `yaml:"type" json:"type"`
	SlotNum                *int   `yaml:"slot_num" json:"slot_num"`
	MaxFeatureNumPerSample *int   `yaml:"max_feature_num_per_sample" json:"max_feature_num_per_sample"`
}

// EmbeddingHparam 是 embedding 层的超参。
type EmbeddingHparam struct {
	EmbeddingVecSize *int `yaml:"embedding_vec_size" json:"embedding_vec_size"`
	Combiner         *int `yaml:"combiner" json:"combiner"`
}

// Load 从文件加载模型配置：.yaml / .yml 按 YAML 解析，其余按 JSON 解析。
func Load(path string) (*ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.WrapError(core.ModuleConfig, core.ErrorCodeConfig, err, "read model config %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// ParseJSON 解析 JSON 格式的模型配置。
func ParseJSON(data []byte) (*ModelConfig, error) {
	var cfg ModelConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, core.WrapError(core.ModuleConfig, core.ErrorCodeConfig, err, "parse json")
	}
	return &cfg, nil
}

// ParseYAML 解析 YAML 格式的模型配置。
func ParseYAML(data []byte) (*ModelConfig, error) {
	var cfg ModelConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, core.WrapError(core.ModuleConfig, core.ErrorCodeConfig, err, "parse yaml")
	}
	return &cfg, nil
}
