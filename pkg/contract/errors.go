package contract

import "errors"

// 领域错误分类（上层据此决定恢复策略与日志代码）。
var (
	// ErrSanitize: 源文本无法修复为合法 JSON（该文档致命，需上报）。
	ErrSanitize = errors.New("sanitization failure")
	// ErrParse: 补丁文件无法解析（本地恢复为“存在但为空”）。
	ErrParse = errors.New("parse failure")
	// ErrTranslation: 网关返回空结果或传输错误（重试；放弃时该条目保持缺失）。
	ErrTranslation = errors.New("translation failure")
	// ErrWrite: 目标写入失败（记录日志，不自动重试）。
	ErrWrite = errors.New("write failure")
)

// 路径与不变量相关。
var (
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvariantViolation: 领域不变量违例（如补丁文件内 path 重复）。
	ErrInvariantViolation = errors.New("invariant violation")
)

// 网关传输相关的最小错误分类（用于重试策略判定）。
var (
	ErrRateLimited     = errors.New("rate limited")
	ErrResponseInvalid = errors.New("response invalid")
	ErrInvalidInput    = errors.New("invalid input")
)
