package paramserver

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"

	"github.com/rushteam/ctrkit/core"
)

// 稀疏模型文件格式（小端，无文件头），逐条记录：
//
//	key uint64 | vec_size × float32
//
// 文件长度必须是记录长度的整数倍。

// ReadSparseModel 读取全部记录，返回 keys 与行主序的 vectors。
func ReadSparseModel[K core.Key](r io.Reader, vecSize int) ([]K, []float32, error) {
	if vecSize <= 0 {
		return nil, nil, core.Errorf(core.ModuleParamServer, core.ErrorCodeConfig, "invalid vec_size %d", vecSize)
	}
	br := bufio.NewReaderSize(r, 1<<16)
	record := make([]byte, 8+4*vecSize)
	var (
		keys    []K
		vectors []float32
	)
	for n := 0; ; n++ {
		if _, err := io.ReadFull(br, record); err != nil {
			if errors.Is(err, io.EOF) {
				return keys, vectors, nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, nil, core.Errorf(core.ModuleParamServer, core.ErrorCodeConfig,
					"sparse model truncated at record %d (record size %d bytes)", n, len(record))
			}
			return nil, nil, core.WrapError(core.ModuleParamServer, core.ErrorCodeConfig, err, "read sparse model")
		}
		raw := binary.LittleEndian.Uint64(record)
		key := K(raw)
		if uint64(key) != raw {
			return nil, nil, core.Errorf(core.ModuleParamServer, core.ErrorCodeConfig,
				"sparse model key %d at record %d overflows the configured key width", raw, n)
		}
		keys = append(keys, key)
		for d := 0; d < vecSize; d++ {
			vectors = append(vectors, math.Float32frombits(binary.LittleEndian.Uint32(record[8+4*d:])))
		}
	}
}

// LoadSparseModelFile 打开并读取稀疏模型文件。
func LoadSparseModelFile[K core.Key](path string, vecSize int) ([]K, []float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, core.WrapError(core.ModuleParamServer, core.ErrorCodeConfig, err, "open sparse model %s", path)
	}
	defer f.Close()
	keys, vectors, err := ReadSparseModel[K](f, vecSize)
	if err != nil {
		return nil, nil, core.WrapError(core.ModuleParamServer, core.ErrorCodeConfig, err, "load %s", path)
	}
	return keys, vectors, nil
}

// WriteSparseModel 按稀疏模型文件格式写出记录。
func WriteSparseModel[K core.Key](w io.Writer, keys []K, vectors []float32, vecSize int) error {
	if vecSize <= 0 || len(vectors) != len(keys)*vecSize {
		return core.Errorf(core.ModuleParamServer, core.ErrorCodeConfig,
			"%d keys with vec_size %d need %d floats, got %d", len(keys), vecSize, len(keys)*vecSize, len(vectors))
	}
	bw := bufio.NewWriterSize(w, 1<<16)
	record := make([]byte, 8+4*vecSize)
	for i, k := range keys {
		binary.LittleEndian.PutUint64(record, uint64(k))
		for d, v := range vectors[i*vecSize : (i+1)*vecSize] {
			binary.LittleEndian.PutUint32(record[8+4*d:], math.Float32bits(v))
		}
		if _, err := bw.Write(record); err != nil {
			return core.WrapError(core.ModuleParamServer, core.ErrorCodeIO, err, "write sparse model")
		}
	}
	if err := bw.Flush(); err != nil {
		return core.WrapError(core.ModuleParamServer, core.ErrorCodeIO, err, "flush sparse model")
	}
	return nil
}

// WriteSparseModelFile 创建（覆盖）稀疏模型文件。
func WriteSparseModelFile[K core.Key](path string, keys []K, vectors []float32, vecSize int) error {
	f, err := os.Create(path)
	if err != nil {
		return core.WrapError(core.ModuleParamServer, core.ErrorCodeIO, err, "create %s", path)
	}
	if err := WriteSparseModel(f, keys, vectors, vecSize); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return core.WrapError(core.ModuleParamServer, core.ErrorCodeIO, err, "close %s", path)
	}
	return nil
}
