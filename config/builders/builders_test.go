package builders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/ctrkit/config"
	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/model"
)

func TestRegistered(t *testing.T) {
	types := config.SupportedTypes()
	for _, typ := range []string{"lr", "mlp", "rpc", "tf_serving", "kserve"} {
		assert.Contains(t, types, typ)
	}
}

func TestBuildLRScorer(t *testing.T) {
	scorer, err := config.BuildScorer(&config.ScorerConfig{
		Type: "lr",
		Config: map[string]interface{}{
			"bias":    0.25,
			"weights": []interface{}{1, 0.5, 2.0},
		},
	})
	require.NoError(t, err)
	lr, ok := scorer.(*model.LRScorer)
	require.True(t, ok)
	assert.Equal(t, float32(0.25), lr.Bias)
	assert.Equal(t, []float32{1, 0.5, 2}, lr.Weights)

	_, err = config.BuildScorer(&config.ScorerConfig{Type: "lr", Config: map[string]interface{}{}})
	assert.True(t, core.IsConfigError(err))

	_, err = config.BuildScorer(&config.ScorerConfig{Type: "lr", Config: map[string]interface{}{
		"weights": []interface{}{"x"},
	}})
	assert.True(t, core.IsConfigError(err))
}

func TestBuildRemoteScorers(t *testing.T) {
	scorer, err := config.BuildScorer(&config.ScorerConfig{
		Type:   "rpc",
		Config: map[string]interface{}{"endpoint": "http://localhost:8080/predict", "timeout": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "rpc", scorer.Name())

	scorer, err = config.BuildScorer(&config.ScorerConfig{
		Type: "tf_serving",
		Config: map[string]interface{}{
			"endpoint":   "http://localhost:8501",
			"model_name": "dcn",
			"version":    "2",
			"auth":       map[string]interface{}{"type": "api_key", "api_key": "k"},
		},
	})
	require.NoError(t, err)
	tf := scorer.(*model.TFServingScorer)
	assert.Equal(t, "2", tf.ModelVersion)
	assert.Equal(t, "k", tf.Auth.APIKey)

	scorer, err = config.BuildScorer(&config.ScorerConfig{
		Type: "kserve",
		Config: map[string]interface{}{
			"endpoint":    "http://localhost:8000",
			"model_name":  "dcn",
			"output_name": "prob",
			"timeout":     2,
			"auth":        map[string]interface{}{"type": "bearer", "token": "t"},
		},
	})
	require.NoError(t, err)
	ks := scorer.(*model.KServeScorer)
	assert.Equal(t, "input0", ks.InputName)
	assert.Equal(t, "prob", ks.OutputName)
	assert.Equal(t, 2*time.Second, ks.Timeout)
	assert.Equal(t, "t", ks.Auth.Token)

	_, err = config.BuildScorer(&config.ScorerConfig{Type: "kserve", Config: map[string]interface{}{"endpoint": "http://x"}})
	assert.True(t, core.IsConfigError(err))

	_, err = config.BuildScorer(&config.ScorerConfig{Type: "tf_serving", Config: map[string]interface{}{}})
	assert.True(t, core.IsConfigError(err))

	_, err = config.BuildScorer(&config.ScorerConfig{Type: "mlp", Config: map[string]interface{}{}})
	assert.True(t, core.IsConfigError(err))
}
