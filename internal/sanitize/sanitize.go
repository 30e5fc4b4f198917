// Package sanitize 将手写配置文本修复为合法 JSON。
//
// 修复项（仅作用于字符串字面量之外，或按说明作用于字面量之内）：
//   - 字符串内未转义的换行/回车/制表符 → \n / \r / \t；
//   - 缺少小数位的数字（如 "1." 后接 , ] } 或空白）→ "1.0"；
//   - 行注释 // 与块注释 /* */ 去除；
//   - UTF-8 BOM 去除。
//
// 修复后仍不是合法 JSON 时返回包装 contract.ErrSanitize 的错误。
package sanitize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"patchsync/pkg/contract"
)

// Sanitizer 实现 contract.Sanitizer（无状态，可并发使用）。
type Sanitizer struct{}

// New 返回默认净化器。
func New() Sanitizer { return Sanitizer{} }

var _ contract.Sanitizer = Sanitizer{}

var bom = []byte{0xEF, 0xBB, 0xBF}

// Sanitize 修复已知的畸形模式并校验结果。
func (Sanitizer) Sanitize(raw []byte) ([]byte, error) {
	out, err := repair(bytes.TrimPrefix(raw, bom))
	if err != nil {
		return nil, err
	}
	if !json.Valid(out) {
		var v json.RawMessage
		derr := json.Unmarshal(out, &v)
		var se *json.SyntaxError
		if errors.As(derr, &se) {
			return nil, fmt.Errorf("%w: offset %d: %v", contract.ErrSanitize, se.Offset, se)
		}
		return nil, fmt.Errorf("%w: %v", contract.ErrSanitize, derr)
	}
	return out, nil
}

func repair(in []byte) ([]byte, error) {
	out := make([]byte, 0, len(in)+16)
	inStr := false
	for i := 0; i < len(in); i++ {
		c := in[i]
		if inStr {
			switch c {
			case '\\':
				out = append(out, c)
				if i+1 < len(in) {
					i++
					out = append(out, in[i])
				}
			case '"':
				inStr = false
				out = append(out, c)
			case '\n':
				out = append(out, '\\', 'n')
			case '\r':
				// CRLF 折叠为一个 \n
				if i+1 < len(in) && in[i+1] == '\n' {
					i++
					out = append(out, '\\', 'n')
					continue
				}
				out = append(out, '\\', 'r')
			case '\t':
				out = append(out, '\\', 't')
			default:
				out = append(out, c)
			}
			continue
		}
		switch {
		case c == '"':
			inStr = true
			out = append(out, c)
		case c == '/' && i+1 < len(in) && in[i+1] == '/':
			for i < len(in) && in[i] != '\n' {
				i++
			}
			if i < len(in) {
				out = append(out, '\n')
			}
		case c == '/' && i+1 < len(in) && in[i+1] == '*':
			end := bytes.Index(in[i+2:], []byte("*/"))
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated block comment at offset %d", contract.ErrSanitize, i)
			}
			i += 2 + end + 1
			out = append(out, ' ')
		case c == '.' && i > 0 && isDigit(in[i-1]) && missingFraction(in, i+1):
			out = append(out, '.', '0')
		default:
			out = append(out, c)
		}
	}
	if inStr {
		return nil, fmt.Errorf("%w: unterminated string", contract.ErrSanitize)
	}
	return out, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// missingFraction: '.' 之后（跳过空白）紧跟收尾标点或结束。
func missingFraction(in []byte, j int) bool {
	for ; j < len(in); j++ {
		switch in[j] {
		case ' ', '\t', '\n', '\r':
			continue
		case ',', ']', '}':
			return true
		default:
			return false
		}
	}
	return true
}
