package contract

import "context"

// Gateway: 外部翻译服务边界。
// 单次调用、同步返回；应尊重 ctx 取消/超时。
// 返回空切片表示“空结果”（由调用方视为失败并重试）。
type Gateway interface {
	Translate(ctx context.Context, text, from, to string) ([]Translation, error)
}

// Sanitizer: 将原始文本修复为合法 JSON 文本（多行字符串、缺小数位、注释）。
// 无法修复时返回包装 ErrSanitize 的错误。
type Sanitizer interface {
	Sanitize(raw []byte) ([]byte, error)
}
