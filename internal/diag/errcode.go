package diag

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"os"
	"time"

	"patchsync/pkg/contract"
)

// Code 为日志与指标里的错误分类，与退出码无关。
type Code string

const (
	CodeUnknown     Code = "unknown"
	CodeCancel      Code = "cancel"
	CodeSanitize    Code = "sanitize"
	CodeParse       Code = "parse"
	CodeTranslation Code = "translation"
	CodeRateLimit   Code = "rate_limit"
	CodeProtocol    Code = "protocol"
	CodeInvariant   Code = "invariant"
	CodeIO          Code = "io"
	CodeNetwork     Code = "network"
)

// sentinels 按优先级排列；包装链中同时出现多个时取靠前者。
var sentinels = []struct {
	err  error
	code Code
}{
	{context.Canceled, CodeCancel},
	{context.DeadlineExceeded, CodeCancel},
	{contract.ErrSanitize, CodeSanitize},
	{contract.ErrParse, CodeParse},
	{contract.ErrWrite, CodeIO},
	{contract.ErrRateLimited, CodeRateLimit},
	{contract.ErrResponseInvalid, CodeProtocol},
	{contract.ErrTranslation, CodeTranslation},
	{contract.ErrInvariantViolation, CodeInvariant},
	{contract.ErrInvalidInput, CodeInvariant},
	{contract.ErrPathInvalid, CodeInvariant},
}

// Classify 只看哨兵错误与错误类型，不匹配消息文本。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.code
		}
	}
	var ue contract.UpstreamError
	if errors.As(err, &ue) {
		return upstreamCode(ue.UpstreamStatus())
	}
	var (
		syn  *json.SyntaxError
		perr *fs.PathError
		lerr *os.LinkError
		nerr net.Error
	)
	switch {
	case errors.As(err, &syn):
		return CodeParse
	case errors.As(err, &perr), errors.As(err, &lerr):
		return CodeIO
	case errors.As(err, &nerr):
		return CodeNetwork
	}
	return CodeUnknown
}

// upstreamCode 仅识别 HTTP 状态；服务商私有错误码（如百度 52001）归为 protocol。
func upstreamCode(status int) Code {
	switch {
	case status == http.StatusTooManyRequests:
		return CodeRateLimit
	case status >= 500 && status < 600:
		return CodeNetwork
	default:
		return CodeProtocol
	}
}

// NowUTC 返回日志字段 ts 使用的 RFC3339 UTC 时间。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
