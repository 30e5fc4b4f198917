package contract

// UpstreamError 由翻译网关返回，携带上游的状态（HTTP 状态码或服务商 error_code）与原始消息，
// 供翻译步骤写入日志字段 upstream_status/upstream_msg。
type UpstreamError interface {
	error
	UpstreamStatus() int
	UpstreamMessage() string
}
