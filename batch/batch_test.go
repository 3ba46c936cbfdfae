package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/ctrkit/core"
)

func TestValidateRowPtrs(t *testing.T) {
	tests := []struct {
		name    string
		ptrs    []int32
		rows    int
		wantErr bool
	}{
		{name: "valid", ptrs: []int32{0, 2, 3}, rows: 2},
		{name: "empty rows allowed", ptrs: []int32{0, 0, 0, 1}, rows: 3},
		{name: "zero rows", ptrs: []int32{0}, rows: 0},
		{name: "wrong length", ptrs: []int32{0, 1}, rows: 2, wantErr: true},
		{name: "non-zero start", ptrs: []int32{1, 2, 3}, rows: 2, wantErr: true},
		{name: "decreasing", ptrs: []int32{0, 3, 2}, rows: 2, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRowPtrs(tt.ptrs, tt.rows)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, core.IsWrongInput(err))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNewCSR(t *testing.T) {
	c, err := NewCSR([]uint32{5, 7, 9}, []int32{0, 2, 3}, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Rows())
	assert.Equal(t, []uint32{5, 7}, c.Segment(0, 0))
	assert.Equal(t, []uint32{9}, c.Segment(0, 1))
	assert.Equal(t, 3, c.SampleNNZ(0))

	_, err = NewCSR([]uint32{5, 7}, []int32{0, 2, 3}, 1, 2)
	require.Error(t, err)
	assert.True(t, core.IsWrongInput(err))

	_, err = NewCSR([]uint32{}, []int32{0}, 0, 0)
	require.Error(t, err)
}

func TestCSRHead(t *testing.T) {
	// 3 个样本、2 个 slot
	c, err := NewCSR([]uint64{1, 2, 3, 4, 5, 6}, []int32{0, 1, 2, 3, 4, 6, 6}, 3, 2)
	require.NoError(t, err)

	h := c.Head(2)
	require.NoError(t, h.Validate())
	assert.Equal(t, 2, h.Samples)
	assert.Equal(t, []uint64{1, 2, 3, 4}, h.Keys)
	assert.Equal(t, []int32{0, 1, 2, 3, 4}, h.RowPtrs)

	assert.Same(t, c, c.Head(5))
}

func TestFromFlat(t *testing.T) {
	// 两张表：表 0 有 2 个 slot，表 1 有 1 个 slot；2 个样本
	dense := []float32{0.1, 0.2, 0.3, 0.4}
	keys := []uint32{
		1, 2, 3, 4, // 表 0
		10, 11, 12, // 表 1
	}
	rowPtrs := []int32{
		0, 1, 2, 3, 4, // 表 0
		0, 2, 3, // 表 1
	}
	b, err := FromFlat(dense, keys, rowPtrs, 2, 2, []int{2, 1})
	require.NoError(t, err)
	require.Len(t, b.Sparse, 2)
	assert.Equal(t, []uint32{1, 2, 3, 4}, b.Sparse[0].Keys)
	assert.Equal(t, []uint32{10, 11, 12}, b.Sparse[1].Keys)
	assert.Equal(t, []uint32{10, 11}, b.Sparse[1].Segment(0, 0))
	assert.Equal(t, []float32{0.3, 0.4}, b.DenseRow(1))

	h := b.Head(1)
	require.NoError(t, h.Validate())
	assert.Equal(t, []float32{0.1, 0.2}, h.Dense)
	assert.Equal(t, []uint32{1, 2}, h.Sparse[0].Keys)
	assert.Equal(t, []uint32{10, 11}, h.Sparse[1].Keys)
}

func TestFromFlatMismatch(t *testing.T) {
	tests := []struct {
		name    string
		dense   []float32
		keys    []uint32
		rowPtrs []int32
		samples int
	}{
		{name: "dense too short", dense: []float32{1}, keys: []uint32{1}, rowPtrs: []int32{0, 1}, samples: 1},
		{name: "row_ptrs too long", dense: []float32{1, 2}, keys: []uint32{1}, rowPtrs: []int32{0, 1, 1}, samples: 1},
		{name: "extra keys", dense: []float32{1, 2}, keys: []uint32{1, 2}, rowPtrs: []int32{0, 1}, samples: 1},
		{name: "missing keys", dense: []float32{1, 2}, keys: []uint32{}, rowPtrs: []int32{0, 1}, samples: 1},
		{name: "negative samples", dense: nil, keys: nil, rowPtrs: nil, samples: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromFlat(tt.dense, tt.keys, tt.rowPtrs, tt.samples, 2, []int{1})
			require.Error(t, err)
			assert.True(t, core.IsWrongInput(err), "got %v", err)
		})
	}
}

func TestScratchReuse(t *testing.T) {
	s := AcquireScratch(3)
	require.Len(t, s.Vectors, 3)
	require.Len(t, s.Pooled, 3)

	s.Scores = Float32s(s.Scores, 4)
	s.Scores[0] = 42
	s.Release()

	s2 := AcquireScratch(1)
	defer s2.Release()
	s2.Scores = Float32s(s2.Scores, 4)
	assert.Equal(t, []float32{0, 0, 0, 0}, s2.Scores)
	assert.Len(t, s2.Vectors, 1)
}

func TestMatrixRow(t *testing.T) {
	m := Matrix{Data: []float32{1, 2, 3, 4, 5, 6}, Rows: 2, Cols: 3}
	assert.Equal(t, []float32{4, 5, 6}, m.Row(1))
}
