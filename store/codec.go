package store

import (
	"encoding/binary"
	"math"

	"github.com/x448/float16"

	"github.com/rushteam/ctrkit/core"
)

// Codec 定义远程表中向量的二进制编码。
type Codec interface {
	Name() string
	Encode(vec []float32) []byte
	// Decode 把 data 解码到 dst，长度不符返回错误
	Decode(dst []float32, data []byte) error
}

// CodecByName 按名称获取编码：fp32（默认）/ fp16。
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "fp32", "float32":
		return Float32Codec{}, nil
	case "fp16", "float16":
		return Float16Codec{}, nil
	default:
		return nil, core.Errorf(core.ModuleStore, core.ErrorCodeConfig, "unknown vector codec: %q", name)
	}
}

// Float32Codec 以小端 float32 存储，每维 4 字节。
type Float32Codec struct{}

func (Float32Codec) Name() string { return "fp32" }

func (Float32Codec) Encode(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func (Float32Codec) Decode(dst []float32, data []byte) error {
	if len(data) != 4*len(dst) {
		return core.Errorf(core.ModuleStore, core.ErrorCodeUnavailable,
			"fp32 codec: corrupted vector: %d bytes for dim %d", len(data), len(dst))
	}
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return nil
}

// Float16Codec 以小端 IEEE 754 半精度存储，每维 2 字节，体积减半、精度有损。
type Float16Codec struct{}

func (Float16Codec) Name() string { return "fp16" }

func (Float16Codec) Encode(vec []float32) []byte {
	buf := make([]byte, 2*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint16(buf[2*i:], float16.Fromfloat32(v).Bits())
	}
	return buf
}

func (Float16Codec) Decode(dst []float32, data []byte) error {
	if len(data) != 2*len(dst) {
		return core.Errorf(core.ModuleStore, core.ErrorCodeUnavailable,
			"fp16 codec: corrupted vector: %d bytes for dim %d", len(data), len(dst))
	}
	for i := range dst {
		dst[i] = float16.Frombits(binary.LittleEndian.Uint16(data[2*i:])).Float32()
	}
	return nil
}
