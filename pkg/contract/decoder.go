package contract

import "context"

// Decoder: 将 Raw 清洗为阶段输出文本（去围栏/分隔符/首尾空白）。
// 结果为空或明显半截时返回 ErrResponseInvalid。
type Decoder interface {
	Decode(ctx context.Context, raw Raw) (string, error)
}
