// Package dataset 提供离线验证数据：4 行文本格式的读写，以及按 Criteo 取值范围合成的批次。
//
// 文本格式（空格分隔，每行以换行结束）：
//
//	labels     每个样本一个整数
//	dense      num_samples*dense_dim 个浮点数，行主序
//	keys       num_samples*slot_num 个整数，每个 (样本, slot) 一个 id
//	row_ptrs   num_samples*slot_num+1 个整数
//
// 文件只描述第一张 embedding 表；token 个数与声明不符时返回 IO_ERROR。
package dataset

import (
	"bufio"
	"errors"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rushteam/ctrkit/batch"
	"github.com/rushteam/ctrkit/core"
)

// Data 是扁平的多表输入，可直接传给 session.Predict。
type Data[K core.Key] struct {
	Labels   []int // 合成数据为空
	Samples  int
	DenseDim int
	SlotNums []int
	Dense    []float32
	Keys     []K     // 各表按顺序拼接
	RowPtrs  []int32 // 各表按顺序拼接，每张表从 0 开始
}

// Batch 把 Data 转为校验过的 batch.Batch
func (d *Data[K]) Batch() (*batch.Batch[K], error) {
	return batch.FromFlat(d.Dense, d.Keys, d.RowPtrs, d.Samples, d.DenseDim, d.SlotNums)
}

// Read 读取 4 行格式的数据。
func Read[K core.Key](r io.Reader, denseDim, slotNum int) (*Data[K], error) {
	if denseDim < 0 || slotNum <= 0 {
		return nil, ioErrorf("invalid shape: dense_dim=%d slot_num=%d", denseDim, slotNum)
	}
	br := bufio.NewReader(r)
	lines := make([][]string, 4)
	for i := range lines {
		line, err := br.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return nil, core.WrapError(core.ModuleDataset, core.ErrorCodeIO, err, "read line %d", i+1)
		}
		lines[i] = strings.Fields(line)
	}

	d := &Data[K]{
		Samples:  len(lines[0]),
		DenseDim: denseDim,
		SlotNums: []int{slotNum},
	}
	rows := d.Samples * slotNum

	// 1. 各行 token 数
	if got, want := len(lines[1]), d.Samples*denseDim; got != want {
		return nil, ioErrorf("dense line has %d values, num_samples*dense_dim=%d", got, want)
	}
	if got := len(lines[2]); got != rows {
		return nil, ioErrorf("keys line has %d values, num_samples*slot_num=%d", got, rows)
	}
	if got := len(lines[3]); got != rows+1 {
		return nil, ioErrorf("row_ptrs line has %d values, num_samples*slot_num+1=%d", got, rows+1)
	}

	// 2. 解析
	d.Labels = make([]int, d.Samples)
	for i, tok := range lines[0] {
		v, err := strconv.Atoi(tok)
		if err != nil {
			return nil, core.WrapError(core.ModuleDataset, core.ErrorCodeIO, err, "label %d", i)
		}
		d.Labels[i] = v
	}
	d.Dense = make([]float32, len(lines[1]))
	for i, tok := range lines[1] {
		v, err := strconv.ParseFloat(tok, 32)
		if err != nil {
			return nil, core.WrapError(core.ModuleDataset, core.ErrorCodeIO, err, "dense value %d", i)
		}
		d.Dense[i] = float32(v)
	}
	bits := 64
	if uint64(^K(0)) == math.MaxUint32 {
		bits = 32
	}
	d.Keys = make([]K, len(lines[2]))
	for i, tok := range lines[2] {
		v, err := strconv.ParseUint(tok, 10, bits)
		if err != nil {
			return nil, core.WrapError(core.ModuleDataset, core.ErrorCodeIO, err, "key %d", i)
		}
		d.Keys[i] = K(v)
	}
	d.RowPtrs = make([]int32, len(lines[3]))
	for i, tok := range lines[3] {
		v, err := strconv.ParseInt(tok, 10, 32)
		if err != nil {
			return nil, core.WrapError(core.ModuleDataset, core.ErrorCodeIO, err, "row_ptr %d", i)
		}
		d.RowPtrs[i] = int32(v)
	}
	return d, nil
}

// ReadFile 打开并读取数据文件
func ReadFile[K core.Key](path string, denseDim, slotNum int) (*Data[K], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, core.WrapError(core.ModuleDataset, core.ErrorCodeIO, err, "open %s", path)
	}
	defer f.Close()
	return Read[K](f, denseDim, slotNum)
}

// Write 以 4 行格式写出单表数据；每个 slot 必须恰好一个 id。
func Write[K core.Key](w io.Writer, d *Data[K]) error {
	if len(d.SlotNums) != 1 {
		return ioErrorf("text format holds one table, data has %d", len(d.SlotNums))
	}
	if len(d.Keys) != d.Samples*d.SlotNums[0] {
		return ioErrorf("text format needs one id per slot: %d keys for %d rows", len(d.Keys), d.Samples*d.SlotNums[0])
	}
	labels := d.Labels
	if labels == nil {
		labels = make([]int, d.Samples)
	}

	bw := bufio.NewWriter(w)
	writeLine(bw, labels, func(v int) string { return strconv.Itoa(v) })
	writeLine(bw, d.Dense, func(v float32) string { return strconv.FormatFloat(float64(v), 'g', -1, 32) })
	writeLine(bw, d.Keys, func(v K) string { return strconv.FormatUint(uint64(v), 10) })
	writeLine(bw, d.RowPtrs, func(v int32) string { return strconv.FormatInt(int64(v), 10) })
	if err := bw.Flush(); err != nil {
		return core.WrapError(core.ModuleDataset, core.ErrorCodeIO, err, "write data")
	}
	return nil
}

// WriteFile 把数据写入 path
func WriteFile[K core.Key](path string, d *Data[K]) error {
	f, err := os.Create(path)
	if err != nil {
		return core.WrapError(core.ModuleDataset, core.ErrorCodeIO, err, "create %s", path)
	}
	if err := Write(f, d); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return core.WrapError(core.ModuleDataset, core.ErrorCodeIO, err, "close %s", path)
	}
	return nil
}

func writeLine[T any](w *bufio.Writer, values []T, format func(T) string) {
	for i, v := range values {
		if i > 0 {
			w.WriteByte(' ')
		}
		w.WriteString(format(v))
	}
	w.WriteByte('\n')
}

func ioErrorf(format string, args ...any) error {
	return core.Errorf(core.ModuleDataset, core.ErrorCodeIO, format, args...)
}
