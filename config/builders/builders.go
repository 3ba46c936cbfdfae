package builders

import (
	"fmt"
	"time"

	"github.com/rushteam/ctrkit/config"
	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/model"
	"github.com/rushteam/ctrkit/pkg/conv"
)

func init() {
	config.Register("lr", BuildLRScorer)
	config.Register("mlp", BuildMLPScorer)
	config.Register("rpc", BuildRPCScorer)
	config.Register("tf_serving", BuildTFServingScorer)
	config.Register("kserve", BuildKServeScorer)
}

// BuildLRScorer 支持两种写法：model_path 指向 JSON 权重文件，或直接内联 weights + bias。
func BuildLRScorer(cfg map[string]interface{}) (core.Scorer, error) {
	if path := conv.ConfigGet(cfg, "model_path", ""); path != "" {
		return model.LoadLRScorer(path)
	}
	raw, ok := cfg["weights"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("weights or model_path not found")
	}
	weights := conv.SliceAnyToFloat32(raw)
	if len(weights) != len(raw) {
		return nil, fmt.Errorf("weights must be numeric")
	}
	bias, _ := conv.ToFloat64(cfg["bias"])
	return &model.LRScorer{Bias: float32(bias), Weights: weights}, nil
}

func BuildMLPScorer(cfg map[string]interface{}) (core.Scorer, error) {
	path := conv.ConfigGet(cfg, "model_path", "")
	if path == "" {
		return nil, fmt.Errorf("model_path not found")
	}
	return model.LoadMLPScorer(path)
}

func BuildRPCScorer(cfg map[string]interface{}) (core.Scorer, error) {
	endpoint := conv.ConfigGet(cfg, "endpoint", "")
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint not found")
	}
	timeout := 5 * time.Second
	if sec := conv.ConfigGetInt64(cfg, "timeout", 5); sec > 0 {
		timeout = time.Duration(sec) * time.Second
	}
	return model.NewRPCScorer(conv.ConfigGet(cfg, "name", "rpc"), endpoint, timeout), nil
}

func BuildTFServingScorer(cfg map[string]interface{}) (core.Scorer, error) {
	endpoint := conv.ConfigGet(cfg, "endpoint", "")
	modelName := conv.ConfigGet(cfg, "model_name", "")
	if endpoint == "" || modelName == "" {
		return nil, fmt.Errorf("endpoint and model_name are required")
	}
	var opts []model.TFServingOption
	if v := conv.ConfigGet(cfg, "version", ""); v != "" {
		opts = append(opts, model.WithTFServingVersion(v))
	}
	if s := conv.ConfigGet(cfg, "signature_name", ""); s != "" {
		opts = append(opts, model.WithTFServingSignature(s))
	}
	if sec := conv.ConfigGetInt64(cfg, "timeout", 0); sec > 0 {
		opts = append(opts, model.WithTFServingTimeout(time.Duration(sec)*time.Second))
	}
	if auth := authConfig(cfg); auth != nil {
		opts = append(opts, model.WithTFServingAuth(auth))
	}
	return model.NewTFServingScorer(endpoint, modelName, opts...), nil
}

func BuildKServeScorer(cfg map[string]interface{}) (core.Scorer, error) {
	endpoint := conv.ConfigGet(cfg, "endpoint", "")
	modelName := conv.ConfigGet(cfg, "model_name", "")
	if endpoint == "" || modelName == "" {
		return nil, fmt.Errorf("endpoint and model_name are required")
	}
	opts := []model.KServeOption{
		model.WithKServeTensors(conv.ConfigGet(cfg, "input_name", ""), conv.ConfigGet(cfg, "output_name", "")),
	}
	if v := conv.ConfigGet(cfg, "version", ""); v != "" {
		opts = append(opts, model.WithKServeVersion(v))
	}
	if sec := conv.ConfigGetInt64(cfg, "timeout", 0); sec > 0 {
		opts = append(opts, model.WithKServeTimeout(time.Duration(sec)*time.Second))
	}
	if auth := authConfig(cfg); auth != nil {
		opts = append(opts, model.WithKServeAuth(auth))
	}
	return model.NewKServeScorer(endpoint, modelName, opts...), nil
}

func authConfig(cfg map[string]interface{}) *model.AuthConfig {
	auth, ok := cfg["auth"].(map[string]interface{})
	if !ok {
		return nil
	}
	return &model.AuthConfig{
		Type:     conv.ConfigGet(auth, "type", ""),
		Username: conv.ConfigGet(auth, "username", ""),
		Password: conv.ConfigGet(auth, "password", ""),
		Token:    conv.ConfigGet(auth, "token", ""),
		APIKey:   conv.ConfigGet(auth, "api_key", ""),
	}
}
