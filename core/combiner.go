package core

// Combiner 是把变长 embedding 列表池化为定长向量的方式。
type Combiner int

const (
	CombinerSum  Combiner = 0
	CombinerMean Combiner = 1
)

// CombinerFromInt 按模型配置中的整数值解析 combiner：1 为 Mean，其余均为 Sum。
func CombinerFromInt(v int) Combiner {
	if v == int(CombinerMean) {
		return CombinerMean
	}
	return CombinerSum
}

func (c Combiner) String() string {
	switch c {
	case CombinerMean:
		return "mean"
	default:
		return "sum"
	}
}
