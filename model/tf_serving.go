package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rushteam/ctrkit/core"
)

// TFServingScorer 通过 TensorFlow Serving 的 REST API（端口 8501）打分。
//
// 使用场景：
//   - 稠密部分（交叉网络 + MLP）以 SavedModel 部署在 TF Serving，
//     embedding 查询与池化仍在本进程完成
//   - 需要版本管理的场景
type TFServingScorer struct {
	// Endpoint 服务端点，例如 "http://localhost:8501"
	Endpoint string

	// ModelName 模型名称
	ModelName string

	// ModelVersion 模型版本（可选，为空则使用最新版本）
	ModelVersion string

	// SignatureName 签名名称（可选，默认为 "serving_default"）
	SignatureName string

	Timeout time.Duration

	Auth *AuthConfig

	httpClient *http.Client
}

// AuthConfig 认证配置
type AuthConfig struct {
	Type     string // "basic", "bearer", "api_key"
	Username string
	Password string
	Token    string
	APIKey   string
}

// TFServingOption TF Serving 打分配置选项
type TFServingOption func(*TFServingScorer)

// WithTFServingVersion 设置模型版本
func WithTFServingVersion(version string) TFServingOption {
	return func(c *TFServingScorer) {
		c.ModelVersion = version
	}
}

// WithTFServingSignature 设置签名名称
func WithTFServingSignature(signatureName string) TFServingOption {
	return func(c *TFServingScorer) {
		c.SignatureName = signatureName
	}
}

// WithTFServingTimeout 设置超时时间
func WithTFServingTimeout(timeout time.Duration) TFServingOption {
	return func(c *TFServingScorer) {
		c.Timeout = timeout
	}
}

// WithTFServingAuth 设置认证信息
func WithTFServingAuth(auth *AuthConfig) TFServingOption {
	return func(c *TFServingScorer) {
		c.Auth = auth
	}
}

// NewTFServingScorer 创建一个新的 TF Serving 打分函数。
func NewTFServingScorer(endpoint, modelName string, opts ...TFServingOption) *TFServingScorer {
	c := &TFServingScorer{
		Endpoint:      endpoint,
		ModelName:     modelName,
		SignatureName: "serving_default",
		Timeout:       30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient = &http.Client{Timeout: c.Timeout}
	return c
}

func (c *TFServingScorer) Name() string { return "tf_serving" }

func (c *TFServingScorer) predictURL() string {
	if c.ModelVersion != "" {
		return fmt.Sprintf("%s/v1/models/%s/versions/%s:predict", c.Endpoint, c.ModelName, c.ModelVersion)
	}
	return fmt.Sprintf("%s/v1/models/%s:predict", c.Endpoint, c.ModelName)
}

func (c *TFServingScorer) Forward(ctx context.Context, features []float32, rows, width int, out []float32) error {
	if err := checkForward(c.Name(), features, rows, width, 0, out); err != nil {
		return err
	}
	if rows == 0 {
		return nil
	}

	// 1. 构建请求体
	body := map[string]interface{}{
		"instances": splitRows(features, rows, width),
	}
	if c.SignatureName != "" {
		body["signature_name"] = c.SignatureName
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return core.WrapError(core.ModuleModel, core.ErrorCodeForwardFailure, err, "marshal request")
	}

	// 2. 发送请求
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.predictURL(), bytes.NewBuffer(jsonData))
	if err != nil {
		return core.WrapError(core.ModuleModel, core.ErrorCodeForwardFailure, err, "create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	setAuth(httpReq, c.Auth)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return core.WrapError(core.ModuleModel, core.ErrorCodeForwardFailure, err, "http request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return forwardErrorf("tf serving error: status=%d, body=%s", resp.StatusCode, string(bodyBytes))
	}

	// 3. 解析响应，predictions 每项为标量或单元素数组
	var result struct {
		Predictions []interface{} `json:"predictions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return core.WrapError(core.ModuleModel, core.ErrorCodeForwardFailure, err, "decode response")
	}
	if len(result.Predictions) != rows {
		return forwardErrorf("tf serving: expected %d predictions, got %d", rows, len(result.Predictions))
	}
	for i, pred := range result.Predictions {
		switch v := pred.(type) {
		case float64:
			out[i] = float32(v)
		case []interface{}:
			fv, ok := firstFloat(v)
			if !ok {
				return forwardErrorf("tf serving: prediction %d is not numeric", i)
			}
			out[i] = fv
		default:
			return forwardErrorf("tf serving: unexpected prediction type: %T", pred)
		}
	}
	return nil
}

func firstFloat(v []interface{}) (float32, bool) {
	if len(v) == 0 {
		return 0, false
	}
	f, ok := v[0].(float64)
	return float32(f), ok
}

// setAuth 添加认证信息到 HTTP 请求
func setAuth(req *http.Request, auth *AuthConfig) {
	if auth == nil {
		return
	}
	switch auth.Type {
	case "basic":
		req.SetBasicAuth(auth.Username, auth.Password)
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case "api_key":
		req.Header.Set("X-API-Key", auth.APIKey)
	}
}

// Health 健康检查
func (c *TFServingScorer) Health(ctx context.Context) error {
	url := fmt.Sprintf("%s/v1/models/%s", c.Endpoint, c.ModelName)
	if c.ModelVersion != "" {
		url = fmt.Sprintf("%s/v1/models/%s/versions/%s", c.Endpoint, c.ModelName, c.ModelVersion)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return core.WrapError(core.ModuleModel, core.ErrorCodeUnavailable, err, "create request")
	}
	setAuth(httpReq, c.Auth)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return core.WrapError(core.ModuleModel, core.ErrorCodeUnavailable, err, "health check failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return core.Errorf(core.ModuleModel, core.ErrorCodeUnavailable,
			"health check failed: status=%d, body=%s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}

var _ core.Scorer = (*TFServingScorer)(nil)
