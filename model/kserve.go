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

// KServeScorer 通过 KServe V2（Open Inference Protocol）打分：
//   - Infer: POST /v2/models/{model_name}[/versions/{version}]/infer
//   - 请求：{"inputs": [{"name": "input0", "shape": [rows, width], "datatype": "FP32", "data": [...]}]}
//   - 响应：{"outputs": [{"name": "...", "data": [...]}]}，每行一个分数
//   - Server Ready: GET /v2/health/ready
//
// 适用于 KServe / ModelMesh / Triton 部署的稠密网络。
type KServeScorer struct {
	Endpoint     string
	ModelName    string
	ModelVersion string
	// InputName 输入张量名称，默认 "input0"
	InputName string
	// OutputName 期望的输出张量名称；为空或找不到时取 outputs[0]
	OutputName string
	Timeout    time.Duration
	Auth       *AuthConfig

	httpClient *http.Client
}

// KServeOption 配置 KServe 打分函数
type KServeOption func(*KServeScorer)

// WithKServeVersion 设置模型版本（路径会带 /versions/{version}）
func WithKServeVersion(version string) KServeOption {
	return func(c *KServeScorer) {
		c.ModelVersion = version
	}
}

// WithKServeTensors 设置输入/输出张量名称
func WithKServeTensors(input, output string) KServeOption {
	return func(c *KServeScorer) {
		if input != "" {
			c.InputName = input
		}
		c.OutputName = output
	}
}

// WithKServeTimeout 设置超时
func WithKServeTimeout(timeout time.Duration) KServeOption {
	return func(c *KServeScorer) {
		c.Timeout = timeout
	}
}

// WithKServeAuth 设置认证
func WithKServeAuth(auth *AuthConfig) KServeOption {
	return func(c *KServeScorer) {
		c.Auth = auth
	}
}

// NewKServeScorer 创建 KServe 打分函数。endpoint 为根地址（如 http://localhost:8000）。
func NewKServeScorer(endpoint, modelName string, opts ...KServeOption) *KServeScorer {
	c := &KServeScorer{
		Endpoint:  endpoint,
		ModelName: modelName,
		InputName: "input0",
		Timeout:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient = &http.Client{Timeout: c.Timeout}
	return c
}

func (c *KServeScorer) Name() string { return "kserve" }

func (c *KServeScorer) inferURL() string {
	path := fmt.Sprintf("%s/v2/models/%s", c.Endpoint, c.ModelName)
	if c.ModelVersion != "" {
		path = fmt.Sprintf("%s/versions/%s", path, c.ModelVersion)
	}
	return path + "/infer"
}

type v2InputTensor struct {
	Name     string    `json:"name"`
	Shape    []int     `json:"shape"`
	Datatype string    `json:"datatype"`
	Data     []float32 `json:"data"`
}

type v2OutputTensor struct {
	Name     string        `json:"name"`
	Shape    []int         `json:"shape"`
	Datatype string        `json:"datatype"`
	Data     []interface{} `json:"data"`
}

type v2InferResponse struct {
	ModelName    string           `json:"model_name"`
	ModelVersion string           `json:"model_version"`
	Outputs      []v2OutputTensor `json:"outputs"`
}

func (c *KServeScorer) Forward(ctx context.Context, features []float32, rows, width int, out []float32) error {
	if err := checkForward(c.Name(), features, rows, width, 0, out); err != nil {
		return err
	}
	if rows == 0 {
		return nil
	}

	reqBody := map[string]interface{}{
		"inputs": []v2InputTensor{{
			Name:     c.InputName,
			Shape:    []int{rows, width},
			Datatype: "FP32",
			Data:     features[:rows*width],
		}},
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return core.WrapError(core.ModuleModel, core.ErrorCodeForwardFailure, err, "kserve marshal request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.inferURL(), bytes.NewBuffer(jsonData))
	if err != nil {
		return core.WrapError(core.ModuleModel, core.ErrorCodeForwardFailure, err, "kserve create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	setAuth(httpReq, c.Auth)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return core.WrapError(core.ModuleModel, core.ErrorCodeForwardFailure, err, "kserve request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return forwardErrorf("kserve error: status=%d, body=%s", resp.StatusCode, string(bodyBytes))
	}

	var result v2InferResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return core.WrapError(core.ModuleModel, core.ErrorCodeForwardFailure, err, "kserve decode response")
	}
	if len(result.Outputs) == 0 {
		return forwardErrorf("kserve: empty outputs")
	}
	tensor := &result.Outputs[0]
	for i := range result.Outputs {
		if c.OutputName != "" && result.Outputs[i].Name == c.OutputName {
			tensor = &result.Outputs[i]
			break
		}
	}
	if len(tensor.Data) != rows {
		return forwardErrorf("kserve: output %q has %d values for %d rows", tensor.Name, len(tensor.Data), rows)
	}
	for i, v := range tensor.Data {
		f, ok := v.(float64)
		if !ok {
			return forwardErrorf("kserve: output value %d is %T", i, v)
		}
		out[i] = float32(f)
	}
	return nil
}

// Health 检查服务就绪：GET /v2/health/ready
func (c *KServeScorer) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+"/v2/health/ready", nil)
	if err != nil {
		return core.WrapError(core.ModuleModel, core.ErrorCodeUnavailable, err, "kserve health create request")
	}
	setAuth(httpReq, c.Auth)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return core.WrapError(core.ModuleModel, core.ErrorCodeUnavailable, err, "kserve health request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return core.Errorf(core.ModuleModel, core.ErrorCodeUnavailable,
			"kserve health failed: status=%d, body=%s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}

var _ core.Scorer = (*KServeScorer)(nil)
