package registry

import (
	"bytes"
	"encoding/json"

	"patchsync/internal/sanitize"
	"patchsync/pkg/contract"
	baidu "patchsync/plugins/gateway/baidu"
	flaky "patchsync/plugins/gateway/flaky"
	mock "patchsync/plugins/gateway/mock"
	oai "patchsync/plugins/gateway/openai"
	rfs "patchsync/plugins/reader/filesystem"
	wfs "patchsync/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewGateway 工厂签名：接收原样 JSON Options。
type NewGateway func(raw json.RawMessage) (contract.Gateway, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// NewSanitizer 工厂签名：无选项。
type NewSanitizer func() contract.Sanitizer

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统源树 Reader（glob 过滤 + 目录排除）
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts)
	},
}

// strictGateway 先以严格模式校验选项，再交给网关自身构造。
func strictGateway[T any](build func(json.RawMessage) (contract.Gateway, error)) NewGateway {
	return func(raw json.RawMessage) (contract.Gateway, error) {
		var opts T
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return build(raw)
	}
}

// Gateway 工厂注册表。
var Gateway = map[string]NewGateway{
	"baidu":  strictGateway[baidu.Options](baidu.New),
	"openai": strictGateway[oai.Options](oai.New),
	"mock":   strictGateway[mock.Options](mock.New),
	"flaky":  strictGateway[flaky.Options](flaky.New),
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

// Sanitizer 注册表。
var Sanitizer = map[string]NewSanitizer{
	// default: 多行字符串转义、补齐小数位、剥离注释
	"default": func() contract.Sanitizer { return sanitize.New() },
}
