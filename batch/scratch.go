package batch

import "sync"

// Matrix 是行主序的 float32 矩阵视图。
type Matrix struct {
	Data []float32
	Rows int
	Cols int
}

// Row 返回第 i 行（不复制）
func (m Matrix) Row(i int) []float32 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// Scratch 是单次 Predict 调用的临时缓冲区。
// 通过 AcquireScratch 获取，调用结束时必须 Release；Release 之后不得再访问其中任何切片。
type Scratch struct {
	Vectors  [][]float32 // 每张表 Lookup 得到的向量，len(keys)*vecSize
	Pooled   [][]float32 // 每张表池化结果，samples*slotNum*vecSize
	Features []float32   // 拼接后的打分输入，samples*width
	Scores   []float32   // 打分结果，samples
}

var scratchPool = sync.Pool{
	New: func() any { return &Scratch{} },
}

// AcquireScratch 获取一个可容纳 tables 张表的 Scratch。
// 不同调用拿到的 Scratch 互不共享，可并发使用。
func AcquireScratch(tables int) *Scratch {
	s := scratchPool.Get().(*Scratch)
	s.Vectors = resizeTables(s.Vectors, tables)
	s.Pooled = resizeTables(s.Pooled, tables)
	return s
}

// Release 归还 Scratch。
func (s *Scratch) Release() {
	if s == nil {
		return
	}
	for i := range s.Vectors {
		s.Vectors[i] = s.Vectors[i][:0]
	}
	for i := range s.Pooled {
		s.Pooled[i] = s.Pooled[i][:0]
	}
	s.Features = s.Features[:0]
	s.Scores = s.Scores[:0]
	scratchPool.Put(s)
}

// Float32s 返回长度为 n 且清零的切片，尽量复用 buf 的底层数组。
func Float32s(buf []float32, n int) []float32 {
	if cap(buf) < n {
		return make([]float32, n)
	}
	buf = buf[:n]
	clear(buf)
	return buf
}

func resizeTables(bufs [][]float32, tables int) [][]float32 {
	if cap(bufs) < tables {
		grown := make([][]float32, tables)
		copy(grown, bufs)
		return grown
	}
	return bufs[:tables]
}
