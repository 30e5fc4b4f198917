package contract

import "encoding/json"

// FileID: 源文档的逻辑标识（相对源根目录的路径，需规范化，跨平台一致）。
type FileID string

// OpReplace: 本系统写出的补丁记录统一使用 replace 操作。
const OpReplace = "replace"

// Leaf: 可翻译叶子（TranslatableLeaf）。
// 约束：
// - Path 为自根起以 '/' 连接的键名序列（数组下标以十进制段表示），如 /items/0/name；
// - Value 为叶子处的原样 JSON（可能为标量或容器）；
// - 顺序遵循树的自然遍历顺序。
type Leaf struct {
	Value json.RawMessage
	Path  string
}

// Text 返回字符串叶子的解码值；非字符串叶子返回 ok=false。
func (l Leaf) Text() (string, bool) {
	return DecodeText(l.Value)
}

// PatchRecord: 补丁文件中的单条记录。
// Path 与 Leaf.Path 完全一致（含前导斜杠），是源数据与补丁数据的连接键。
type PatchRecord struct {
	Path   string          `json:"path"`
	Op     string          `json:"op"`
	Source json.RawMessage `json:"source"`
	Value  json.RawMessage `json:"value"`
}

// Document: 已净化、已解析的源文档及其可翻译叶子（只读）。
type Document struct {
	ID     FileID
	Leaves []Leaf
}

// Paths 返回叶子路径集合（去重）。
func (d Document) Paths() map[string]struct{} {
	out := make(map[string]struct{}, len(d.Leaves))
	for _, l := range d.Leaves {
		out[l.Path] = struct{}{}
	}
	return out
}

// Translation: 网关返回的单条结果。
type Translation struct {
	Source     string
	Translated string
}

// DecodeText 将原样 JSON 解码为字符串；非字符串返回 ok=false。
func DecodeText(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// EncodeText 将字符串编码为 JSON（不转义 HTML 字符，保持与源文件一致的可读性）。
func EncodeText(s string) json.RawMessage {
	var b []byte
	b = append(b, '"')
	for _, r := range s {
		switch r {
		case '"':
			b = append(b, '\\', '"')
		case '\\':
			b = append(b, '\\', '\\')
		case '\n':
			b = append(b, '\\', 'n')
		case '\r':
			b = append(b, '\\', 'r')
		case '\t':
			b = append(b, '\\', 't')
		default:
			if r < 0x20 {
				const hex = "0123456789abcdef"
				b = append(b, '\\', 'u', '0', '0', hex[r>>4], hex[r&0xf])
				continue
			}
			b = append(b, string(r)...)
		}
	}
	b = append(b, '"')
	return json.RawMessage(b)
}
