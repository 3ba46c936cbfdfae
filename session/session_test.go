package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/ctrkit/batch"
	"github.com/rushteam/ctrkit/config"
	_ "github.com/rushteam/ctrkit/config/builders"
	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/model"
	"github.com/rushteam/ctrkit/monitor"
	"github.com/rushteam/ctrkit/paramserver"
	"github.com/rushteam/ctrkit/store"
)

func intp(v int) *int { return &v }

type tableSpec struct {
	slotNum, maxFeatures, vecSize, combiner int
}

func modelConfig(maxBatch, denseDim int, tables ...tableSpec) *config.ModelConfig {
	data := config.LayerConfig{
		Name:  "data",
		Type:  "Data",
		Dense: &config.DenseInput{DenseDim: intp(denseDim)},
	}
	layers := []config.LayerConfig{data}
	for i, t := range tables {
		layers[0].Sparse = append(layers[0].Sparse, config.SparseInputConfig{
			SlotNum:                intp(t.slotNum),
			MaxFeatureNumPerSample: intp(t.maxFeatures),
		})
		layers = append(layers, config.LayerConfig{
			Name: "sparse_embedding" + string(rune('1'+i)),
			Type: "DistributedSlotSparseEmbeddingHash",
			SparseEmbeddingHparam: &config.EmbeddingHparam{
				EmbeddingVecSize: intp(t.vecSize),
				Combiner:         intp(t.combiner),
			},
		})
	}
	return &config.ModelConfig{
		Inference: config.Inference{MaxBatchsize: intp(maxBatch)},
		Layers:    layers,
	}
}

// fakePS 用内存表实现 core.ParameterServer，并记录调用次数
type fakePS struct {
	tables []*store.MemoryTable[uint32]
	calls  atomic.Int32
	err    error
}

func (f *fakePS) Lookup(ctx context.Context, _ string, tableID int, keys []uint32, dst []float32) (core.LookupStats, error) {
	f.calls.Add(1)
	if f.err != nil {
		return core.LookupStats{}, f.err
	}
	return f.tables[tableID].Lookup(ctx, keys, dst)
}

func (f *fakePS) VecSize(_ string, tableID int) (int, error) {
	if tableID >= len(f.tables) {
		return 0, errors.New("no such table")
	}
	return f.tables[tableID].VecSize(), nil
}

func (f *fakePS) Close() error { return nil }

// scenarioTable: emb(5)=[1,0,0,0] emb(7)=[0,1,0,0] emb(9)=[0,0,1,1]
func scenarioTable(t *testing.T) *store.MemoryTable[uint32] {
	t.Helper()
	table, err := store.NewMemoryTable[uint32](4, []uint32{5, 7, 9}, []float32{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 1,
	})
	require.NoError(t, err)
	return table
}

// captureScorer 记录最近一次的特征矩阵，分数为每行之和
type captureScorer struct {
	mu       sync.Mutex
	features []float32
	fail     error
	nan      bool
}

func (s *captureScorer) Name() string { return "capture" }

func (s *captureScorer) Forward(_ context.Context, features []float32, rows, width int, out []float32) error {
	if s.fail != nil {
		return s.fail
	}
	s.mu.Lock()
	s.features = append(s.features[:0], features[:rows*width]...)
	s.mu.Unlock()
	for i := 0; i < rows; i++ {
		var sum float32
		for _, v := range features[i*width : (i+1)*width] {
			sum += v
		}
		out[i] = sum
		if s.nan {
			out[i] = math32.NaN()
		}
	}
	return nil
}

func (s *captureScorer) lastFeatures() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float32(nil), s.features...)
}

func filled(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func newScenarioSession(t *testing.T, maxBatch, combiner int, opts ...Option) (*Session[uint32], *fakePS, *captureScorer) {
	t.Helper()
	ps := &fakePS{tables: []*store.MemoryTable[uint32]{scenarioTable(t)}}
	scorer := &captureScorer{}
	cfg := modelConfig(maxBatch, 1, tableSpec{slotNum: 2, maxFeatures: 4, vecSize: 4, combiner: combiner})
	s, err := New[uint32](cfg, "dcn", ps, append([]Option{WithScorer(scorer)}, opts...)...)
	require.NoError(t, err)
	return s, ps, scorer
}

func TestMaxBatchsizeZero(t *testing.T) {
	s, ps, _ := newScenarioSession(t, 0, 0)
	output := filled(1, -1)
	err := s.Predict(context.Background(), []float32{0.5}, []uint32{5, 7, 9}, []int32{0, 2, 3}, output, 1)
	require.Error(t, err)
	assert.True(t, core.IsWrongInput(err))
	assert.Zero(t, ps.calls.Load())
	assert.Equal(t, []float32{-1}, output)
}

func TestSlotBlockLayout(t *testing.T) {
	s, _, scorer := newScenarioSession(t, 8, 0)
	output := make([]float32, 1)
	err := s.Predict(context.Background(), []float32{0.5}, []uint32{5, 7, 9}, []int32{0, 2, 3}, output, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1, 0, 0, 0, 0, 1, 1, 0.5}, scorer.lastFeatures())
	assert.Equal(t, float32(4.5), output[0])
}

func TestClampToMaxBatchsize(t *testing.T) {
	mon := monitor.NewMemoryMonitor(0)
	s, _, scorer := newScenarioSession(t, 2, 0, WithMonitor(mon))

	// 3 个样本：{5}{} / {7}{9} / {9}{9}
	dense := []float32{0.1, 0.2, 0.3}
	keys := []uint32{5, 7, 9, 9, 9}
	rowPtrs := []int32{0, 1, 1, 2, 3, 4, 5}
	output := filled(3, -1)
	require.NoError(t, s.Predict(context.Background(), dense, keys, rowPtrs, output, 3))

	assert.Equal(t, []float32{
		1, 0, 0, 0, 0, 0, 0, 0, 0.1,
		0, 1, 0, 0, 0, 0, 1, 1, 0.2,
	}, scorer.lastFeatures())
	assert.InDelta(t, 1.1, output[0], 1e-6)
	assert.InDelta(t, 3.2, output[1], 1e-6)
	assert.Equal(t, float32(-1), output[2], "samples beyond max_batchsize must be left untouched")

	stats := mon.Snapshot("dcn")
	assert.Equal(t, int64(1), stats.ClampedCalls)
	assert.Equal(t, int64(1), stats.ClampedSamples)
	// 截断后只查询前 2 个样本的 3 个 key
	assert.Equal(t, int64(3), stats.LookupKeys)
}

func TestUnknownKeyContributesZero(t *testing.T) {
	tests := []struct {
		name     string
		combiner int
		want     []float32
	}{
		{"sum", 0, []float32{1, 0, 0, 0, 0, 0, 1, 1, 0}},
		{"mean", 1, []float32{0.5, 0, 0, 0, 0, 0, 1, 1, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mon := monitor.NewMemoryMonitor(0)
			s, _, scorer := newScenarioSession(t, 4, tt.combiner, WithMonitor(mon))
			output := make([]float32, 1)
			err := s.Predict(context.Background(), []float32{0}, []uint32{5, 12345, 9}, []int32{0, 2, 3}, output, 1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, scorer.lastFeatures())
			assert.Equal(t, int64(1), mon.Snapshot("dcn").LookupMisses)
		})
	}
}

func TestPredictIdempotent(t *testing.T) {
	s, _, _ := newScenarioSession(t, 8, 1)
	dense := []float32{0.1, 0.2}
	keys := []uint32{5, 7, 9, 1, 5}
	rowPtrs := []int32{0, 2, 3, 4, 5}

	first := make([]float32, 2)
	second := make([]float32, 2)
	require.NoError(t, s.Predict(context.Background(), dense, keys, rowPtrs, first, 2))
	require.NoError(t, s.Predict(context.Background(), dense, keys, rowPtrs, second, 2))
	assert.Equal(t, first, second)
	for _, v := range first {
		assert.False(t, math32.IsNaN(v) || math32.IsInf(v, 0))
	}
}

func TestPredictZeroSamples(t *testing.T) {
	s, _, _ := newScenarioSession(t, 8, 0)
	output := filled(2, -1)
	require.NoError(t, s.Predict(context.Background(), nil, nil, []int32{0}, output, 0))
	assert.Equal(t, []float32{-1, -1}, output)
}

func TestPredictWrongInput(t *testing.T) {
	tests := []struct {
		name    string
		dense   []float32
		keys    []uint32
		rowPtrs []int32
		outLen  int
		n       int
	}{
		{"negative num_samples", nil, nil, []int32{0}, 1, -1},
		{"dense too short", []float32{}, []uint32{5}, []int32{0, 1, 1}, 1, 1},
		{"row_ptrs too short", []float32{0}, []uint32{5}, []int32{0, 1}, 1, 1},
		{"row_ptrs not monotonic", []float32{0}, []uint32{5, 7}, []int32{0, 2, 1}, 1, 1},
		{"row_ptrs not from zero", []float32{0}, []uint32{5}, []int32{1, 1, 1}, 1, 1},
		{"keys length mismatch", []float32{0}, []uint32{5, 7, 9}, []int32{0, 1, 2}, 1, 1},
		{"output too short", []float32{0}, []uint32{5}, []int32{0, 1, 1}, 0, 1},
		{"too many ids per sample", []float32{0}, []uint32{5, 5, 5, 5, 5}, []int32{0, 3, 5}, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ps, _ := newScenarioSession(t, 8, 0)
			output := filled(tt.outLen, -1)
			err := s.Predict(context.Background(), tt.dense, tt.keys, tt.rowPtrs, output, tt.n)
			require.Error(t, err)
			assert.True(t, core.IsWrongInput(err), "got %v", err)
			assert.Zero(t, ps.calls.Load(), "validation must fail before any table access")
			assert.Equal(t, filled(tt.outLen, -1), output)
		})
	}
}

func TestForwardFailureLeavesOutputUntouched(t *testing.T) {
	tests := []struct {
		name   string
		scorer *captureScorer
	}{
		{"error", &captureScorer{fail: errors.New("graph crashed")}},
		{"nan", &captureScorer{nan: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps := &fakePS{tables: []*store.MemoryTable[uint32]{scenarioTable(t)}}
			cfg := modelConfig(8, 1, tableSpec{slotNum: 2, maxFeatures: 4, vecSize: 4})
			s, err := New[uint32](cfg, "dcn", ps, WithScorer(tt.scorer))
			require.NoError(t, err)

			output := filled(1, -1)
			err = s.Predict(context.Background(), []float32{0}, []uint32{5, 7, 9}, []int32{0, 2, 3}, output, 1)
			require.Error(t, err)
			assert.True(t, core.IsForwardFailure(err), "got %v", err)
			assert.Equal(t, []float32{-1}, output)
		})
	}
}

func TestLookupUnavailable(t *testing.T) {
	s, ps, _ := newScenarioSession(t, 8, 0)
	ps.err = core.Errorf(core.ModuleStore, core.ErrorCodeUnavailable, "redis: connection refused")
	output := filled(1, -1)
	err := s.Predict(context.Background(), []float32{0}, []uint32{5}, []int32{0, 1, 1}, output, 1)
	assert.True(t, core.IsUnavailable(err))
	assert.Equal(t, []float32{-1}, output)
}

func TestPredictCanceled(t *testing.T) {
	s, ps, _ := newScenarioSession(t, 8, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	output := filled(1, -1)
	err := s.Predict(ctx, []float32{0}, []uint32{5}, []int32{0, 1, 1}, output, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, ps.calls.Load())
	assert.Equal(t, []float32{-1}, output)
}

func TestNewConfigErrors(t *testing.T) {
	ps := &fakePS{tables: []*store.MemoryTable[uint32]{scenarioTable(t)}}
	cfg := modelConfig(8, 1, tableSpec{slotNum: 2, maxFeatures: 4, vecSize: 4})

	// LR 权重个数与拼接宽度 2*4+1 不符
	_, err := New[uint32](cfg, "dcn", ps, WithScorer(&model.LRScorer{Weights: make([]float32, 3)}))
	assert.True(t, core.IsConfigError(err))

	// 参数服务的维度与配置不符
	bad := modelConfig(8, 1, tableSpec{slotNum: 2, maxFeatures: 4, vecSize: 8})
	_, err = New[uint32](bad, "dcn", ps, WithScorer(&captureScorer{}))
	assert.True(t, core.IsConfigError(err))

	// 参数服务缺少表
	two := modelConfig(8, 1, tableSpec{slotNum: 2, maxFeatures: 4, vecSize: 4}, tableSpec{slotNum: 1, maxFeatures: 1, vecSize: 4})
	_, err = New[uint32](two, "dcn", ps, WithScorer(&captureScorer{}))
	assert.True(t, core.IsConfigError(err))

	// 没有 scorer 配置
	_, err = New[uint32](cfg, "dcn", ps)
	assert.True(t, core.IsConfigError(err))

	_, err = New[uint32](cfg, "dcn", nil, WithScorer(&captureScorer{}))
	assert.True(t, core.IsConfigError(err))

	cfg.Inference.OutputTransform = "score +"
	_, err = New[uint32](cfg, "dcn", ps, WithScorer(&captureScorer{}))
	assert.True(t, core.IsConfigError(err))
}

func TestMultiTableLayout(t *testing.T) {
	t0 := scenarioTable(t)
	t1, err := store.NewMemoryTable[uint32](2, []uint32{1, 2}, []float32{10, 20, 30, 40})
	require.NoError(t, err)
	ps := &fakePS{tables: []*store.MemoryTable[uint32]{t0, t1}}
	cfg := modelConfig(8, 2,
		tableSpec{slotNum: 2, maxFeatures: 4, vecSize: 4, combiner: 0},
		tableSpec{slotNum: 1, maxFeatures: 2, vecSize: 2, combiner: 1})
	scorer := &captureScorer{}
	s, err := New[uint32](cfg, "dcn", ps, WithScorer(scorer))
	require.NoError(t, err)
	assert.Equal(t, 2*4+1*2+2, s.Width())

	// 2 个样本；表 0: s0={5}{9} s1={}{7}；表 1: s0={1,2} s1={}
	dense := []float32{0.1, 0.2, 0.3, 0.4}
	keys := []uint32{5, 9, 7, 1, 2}
	rowPtrs := []int32{
		0, 1, 2, 2, 3, // 表 0
		0, 2, 2, // 表 1
	}
	output := make([]float32, 2)
	require.NoError(t, s.Predict(context.Background(), dense, keys, rowPtrs, output, 2))
	assert.Equal(t, []float32{
		1, 0, 0, 0, 0, 0, 1, 1, 20, 30, 0.1, 0.2,
		0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0.3, 0.4,
	}, scorer.lastFeatures())

	// PredictBatch 与扁平输入等价
	b, err := batch.FromFlat(dense, keys, rowPtrs, 2, 2, []int{2, 1})
	require.NoError(t, err)
	viaBatch := make([]float32, 2)
	require.NoError(t, s.PredictBatch(context.Background(), b, viaBatch))
	assert.Equal(t, output, viaBatch)

	assert.True(t, core.IsWrongInput(s.PredictBatch(context.Background(), nil, viaBatch)))
	// 表的个数不符
	one, err := batch.FromFlat(dense, keys[:3], rowPtrs[:5], 2, 2, []int{2})
	require.NoError(t, err)
	assert.True(t, core.IsWrongInput(s.PredictBatch(context.Background(), one, viaBatch)))
}

func TestConcurrentPredict(t *testing.T) {
	s, _, _ := newScenarioSession(t, 64, 1, WithWorkers(2))
	const samples = 32
	dense := make([]float32, samples)
	var keys []uint32
	rowPtrs := []int32{0}
	for i := 0; i < samples; i++ {
		dense[i] = float32(i) / samples
		keys = append(keys, 5, uint32(i%3)*2+5, 9)
		rowPtrs = append(rowPtrs, rowPtrs[len(rowPtrs)-1]+2, rowPtrs[len(rowPtrs)-1]+3)
	}
	want := make([]float32, samples)
	require.NoError(t, s.Predict(context.Background(), dense, keys, rowPtrs, want, samples))

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				got := make([]float32, samples)
				if !assert.NoError(t, s.Predict(context.Background(), dense, keys, rowPtrs, got, samples)) {
					return
				}
				assert.Equal(t, want, got)
			}
		}()
	}
	wg.Wait()
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func TestStageLatencyAndTransform(t *testing.T) {
	mon := monitor.NewMemoryMonitor(0)
	ps := &fakePS{tables: []*store.MemoryTable[uint32]{scenarioTable(t)}}
	cfg := modelConfig(8, 1, tableSpec{slotNum: 2, maxFeatures: 4, vecSize: 4})
	cfg.Inference.OutputTransform = "score * 2.0"
	s, err := New[uint32](cfg, "dcn", ps,
		WithScorer(&captureScorer{}), WithMonitor(mon), WithClock(&stepClock{}))
	require.NoError(t, err)

	output := make([]float32, 1)
	require.NoError(t, s.Predict(context.Background(), []float32{0.5}, []uint32{5, 7, 9}, []int32{0, 2, 3}, output, 1))
	assert.Equal(t, float32(9), output[0])

	lat := mon.Snapshot("dcn").Latency
	for _, st := range []core.State{core.StateValidating, core.StateLookup, core.StateCombine, core.StateForward} {
		assert.Equal(t, 1, lat[st].Count, st)
		assert.Equal(t, time.Millisecond, lat[st].Max, st)
	}
}

const e2eConfig = `{
  "inference": {
    "max_batchsize": 4,
    "sparse_model_files": ["emb0.model"],
    "scorer": {"type": "lr", "config": {"bias": 0, "weights": [1, 1, 1, 1, 1, 1, 1, 1, 0]}}
  },
  "layers": [
    {"name": "data", "type": "Data", "dense": {"dense_dim": 1},
     "sparse": [{"slot_num": 2, "max_feature_num_per_sample": 4}]},
    {"name": "sparse_embedding1", "type": "DistributedSlotSparseEmbeddingHash",
     "sparse_embedding_hparam": {"embedding_vec_size": 4, "combiner": 0}},
    {"name": "fc1", "type": "InnerProduct"}
  ]
}`

func TestEndToEndLocal(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "dcn.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(e2eConfig), 0o644))
	require.NoError(t, paramserver.WriteSparseModelFile(filepath.Join(dir, "emb0.model"),
		[]uint64{5, 7, 9}, []float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 1}, 4))

	ctx := context.Background()
	ps, err := paramserver.CreateParameterServer[uint64](ctx, core.BackendLocal, []string{cfgPath}, []string{"dcn"})
	require.NoError(t, err)
	defer ps.Close()

	s, err := NewFromFile[uint64](cfgPath, "dcn", ps)
	require.NoError(t, err)

	output := make([]float32, 1)
	require.NoError(t, s.Predict(ctx, []float32{0.5}, []uint64{5, 7, 9}, []int32{0, 2, 3}, output, 1))
	// sigmoid(1+1+1+1)
	assert.InDelta(t, 0.98201, output[0], 1e-4)
}
