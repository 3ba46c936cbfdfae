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

// RPCScorer 是通过 HTTP 调用外部模型服务的 Scorer 实现。
// 适用于 GBDT、XGBoost、自研 DNN 服务等只暴露 JSON 接口的模型。
type RPCScorer struct {
	name     string
	Endpoint string // 例如 "http://localhost:8080/predict"
	Timeout  time.Duration
	Client   *http.Client
}

func NewRPCScorer(name, endpoint string, timeout time.Duration) *RPCScorer {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	if name == "" {
		name = "rpc"
	}
	return &RPCScorer{
		name:     name,
		Endpoint: endpoint,
		Timeout:  timeout,
		Client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (m *RPCScorer) Name() string {
	return m.name
}

// Forward 调用远程模型服务进行批量打分。
// 请求格式（JSON）：
//
//	{"instances": [[0.1, 0.2, ...], ...]}
//
// 响应格式（JSON）：
//
//	{"scores": [0.85, 0.72, ...]}
func (m *RPCScorer) Forward(ctx context.Context, features []float32, rows, width int, out []float32) error {
	if err := checkForward(m.Name(), features, rows, width, 0, out); err != nil {
		return err
	}
	if rows == 0 {
		return nil
	}
	if m.Client == nil {
		m.Client = &http.Client{Timeout: m.Timeout}
	}

	// 构建请求
	reqBody := map[string]any{
		"instances": splitRows(features, rows, width),
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return core.WrapError(core.ModuleModel, core.ErrorCodeForwardFailure, err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return core.WrapError(core.ModuleModel, core.ErrorCodeForwardFailure, err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	// 发送请求
	resp, err := m.Client.Do(req)
	if err != nil {
		return core.WrapError(core.ModuleModel, core.ErrorCodeForwardFailure, err, "rpc call")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return forwardErrorf("rpc error: status=%d, read body failed: %v", resp.StatusCode, err)
		}
		return forwardErrorf("rpc error: status=%d, body=%s", resp.StatusCode, string(body))
	}

	// 解析响应
	var result struct {
		Scores []float32 `json:"scores"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return core.WrapError(core.ModuleModel, core.ErrorCodeForwardFailure, err, "decode response")
	}

	if len(result.Scores) != rows {
		return forwardErrorf("response scores count mismatch: expected %d, got %d", rows, len(result.Scores))
	}
	copy(out, result.Scores)
	return nil
}

// splitRows 把行主序矩阵切成行切片（共享底层数组）
func splitRows(features []float32, rows, width int) [][]float32 {
	out := make([][]float32, rows)
	for i := range out {
		out[i] = features[i*width : (i+1)*width]
	}
	return out
}

func (m *RPCScorer) String() string {
	return fmt.Sprintf("%s(%s)", m.name, m.Endpoint)
}

var _ core.Scorer = (*RPCScorer)(nil)
