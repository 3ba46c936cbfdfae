package paramserver

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/store"
)

const modelJSON = `{
  "inference": {
    "max_batchsize": 8,
    "sparse_model_files": ["table0.model", "table1.model"],
    "scorer": {"type": "lr", "config": {}}
  },
  "layers": [
    {"name": "data", "type": "Data", "dense": {"dense_dim": 1},
     "sparse": [{"slot_num": 2, "max_feature_num_per_sample": 4},
                {"slot_num": 1, "max_feature_num_per_sample": 2}]},
    {"name": "e0", "type": "DistributedSlotSparseEmbeddingHash",
     "sparse_embedding_hparam": {"embedding_vec_size": 2, "combiner": 0}},
    {"name": "e1", "type": "LocalizedSlotSparseEmbeddingHash",
     "sparse_embedding_hparam": {"embedding_vec_size": 3, "combiner": 1}}
  ]
}`

func writeModel(t *testing.T) (dir, cfgPath string) {
	t.Helper()
	dir = t.TempDir()
	cfgPath = filepath.Join(dir, "dcn.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(modelJSON), 0o644))
	require.NoError(t, WriteSparseModelFile(filepath.Join(dir, "table0.model"),
		[]uint64{1, 2}, []float32{1, 1, 2, 2}, 2))
	require.NoError(t, WriteSparseModelFile(filepath.Join(dir, "table1.model"),
		[]uint64{10}, []float32{1, 2, 3}, 3))
	return dir, cfgPath
}

func TestSparseModelRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSparseModel(&buf, []uint32{7, 9}, []float32{0.5, -1, 2, 3}, 2))
	assert.Equal(t, 2*(8+2*4), buf.Len())

	keys, vectors, err := ReadSparseModel[uint32](bytes.NewReader(buf.Bytes()), 2)
	require.NoError(t, err)
	assert.Equal(t, []uint32{7, 9}, keys)
	assert.Equal(t, []float32{0.5, -1, 2, 3}, vectors)

	_, _, err = ReadSparseModel[uint32](bytes.NewReader(buf.Bytes()[:buf.Len()-1]), 2)
	assert.True(t, core.IsConfigError(err))
}

func TestSparseModelKeyOverflow(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSparseModel(&buf, []uint64{1 << 40}, []float32{1}, 1))
	_, _, err := ReadSparseModel[uint32](&buf, 1)
	assert.True(t, core.IsConfigError(err))
}

func TestCreateLocal(t *testing.T) {
	_, cfgPath := writeModel(t)
	ps, err := CreateParameterServer[uint64](context.Background(), core.BackendLocal,
		[]string{cfgPath}, []string{"dcn"})
	require.NoError(t, err)
	defer ps.Close()

	assert.Equal(t, []string{"dcn"}, ps.Models())
	n, err := ps.NumTables("dcn")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	vs, err := ps.VecSize("dcn", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, vs)

	dst := make([]float32, 3*2)
	stats, err := ps.Lookup(context.Background(), "dcn", 0, []uint64{2, 99, 1}, dst)
	require.NoError(t, err)
	assert.Equal(t, core.LookupStats{Keys: 3, Misses: 1}, stats)
	assert.Equal(t, []float32{2, 2, 0, 0, 1, 1}, dst)

	_, err = ps.Lookup(context.Background(), "dcn", 2, []uint64{1}, dst)
	assert.True(t, core.IsConfigError(err))
	_, err = ps.Lookup(context.Background(), "other", 0, []uint64{1}, dst)
	assert.True(t, core.IsConfigError(err))
}

func TestCreateInvalid(t *testing.T) {
	dir, cfgPath := writeModel(t)
	ctx := context.Background()

	_, err := CreateParameterServer[uint64](ctx, core.BackendLocal, nil, nil)
	assert.True(t, core.IsConfigError(err))
	_, err = CreateParameterServer[uint64](ctx, core.BackendLocal, []string{cfgPath}, []string{"a", "b"})
	assert.True(t, core.IsConfigError(err))
	_, err = CreateParameterServer[uint64](ctx, core.BackendLocal, []string{cfgPath, cfgPath}, []string{"a", "a"})
	assert.True(t, core.IsConfigError(err))
	_, err = CreateParameterServer[uint64](ctx, core.BackendKind("gpu"), []string{cfgPath}, []string{"a"})
	assert.True(t, core.IsConfigError(err))

	require.NoError(t, os.Remove(filepath.Join(dir, "table1.model")))
	_, err = CreateParameterServer[uint64](ctx, core.BackendLocal, []string{cfgPath}, []string{"dcn"})
	assert.True(t, core.IsConfigError(err))
}

func TestReload(t *testing.T) {
	dir, cfgPath := writeModel(t)
	ctx := context.Background()
	ps, err := CreateParameterServer[uint64](ctx, core.BackendLocal, []string{cfgPath}, []string{"dcn"})
	require.NoError(t, err)
	defer ps.Close()

	next := filepath.Join(dir, "table0.v2.model")
	require.NoError(t, WriteSparseModelFile(next, []uint64{99}, []float32{9, 9}, 2))

	// 并发读取期间替换，读者只会看到旧表或新表
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dst := make([]float32, 2)
			for i := 0; i < 200; i++ {
				_, err := ps.Lookup(ctx, "dcn", 0, []uint64{99}, dst)
				if !assert.NoError(t, err) {
					return
				}
				if dst[0] != 0 && dst[0] != 9 {
					t.Errorf("unexpected vector %v", dst)
					return
				}
			}
		}()
	}
	require.NoError(t, ps.Reload(ctx, "dcn", 0, next))
	wg.Wait()

	dst := make([]float32, 2)
	stats, err := ps.Lookup(ctx, "dcn", 0, []uint64{99}, dst)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Misses)
	assert.Equal(t, []float32{9, 9}, dst)

	assert.True(t, core.IsConfigError(ps.Reload(ctx, "dcn", 0, filepath.Join(dir, "missing"))))
}

func TestClose(t *testing.T) {
	_, cfgPath := writeModel(t)
	ps, err := CreateParameterServer[uint32](context.Background(), core.BackendLocal, []string{cfgPath}, []string{"dcn"})
	require.NoError(t, err)
	require.NoError(t, ps.Close())
	require.NoError(t, ps.Close())
	_, err = ps.Lookup(context.Background(), "dcn", 0, []uint32{1}, make([]float32, 2))
	assert.True(t, core.IsUnavailable(err))
}

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func (f *fakeRedis) MGet(_ context.Context, keys ...string) *redis.SliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	vals := make([]interface{}, len(keys))
	for i, k := range keys {
		if v, ok := f.data[k]; ok {
			vals[i] = v
		}
	}
	return redis.NewSliceResult(vals, nil)
}

func (f *fakeRedis) Pipeline() redis.Pipeliner { return nil }

func (f *fakeRedis) Close() error { return nil }

func TestCreateRemoteRedis(t *testing.T) {
	_, cfgPath := writeModel(t)
	codec := store.Float32Codec{}
	fake := &fakeRedis{data: map[string]string{
		fmt.Sprintf("%s:%d", TablePrefix("", "dcn", 1), 10): string(codec.Encode([]float32{4, 5, 6})),
	}}
	ps, err := CreateParameterServer[uint64](context.Background(), core.BackendRemoteService,
		[]string{cfgPath}, []string{"dcn"}, WithRedisClient(fake))
	require.NoError(t, err)
	defer ps.Close()

	dst := make([]float32, 6)
	stats, err := ps.Lookup(context.Background(), "dcn", 1, []uint64{10, 11}, dst)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Misses)
	assert.Equal(t, []float32{4, 5, 6, 0, 0, 0}, dst)

	err = ps.Reload(context.Background(), "dcn", 1, "x")
	assert.True(t, core.IsNotSupported(err))
}

func TestTablePrefix(t *testing.T) {
	assert.Equal(t, "ctrkit:dcn:0", TablePrefix("", "dcn", 0))
	assert.Equal(t, "emb:3", TablePrefix("emb", "dcn", 3))
}
