// Package keypath 提供保序 JSON 树与可翻译键路径的提取/解析。
package keypath

import (
	"strconv"
	"strings"

	"patchsync/pkg/contract"
)

// KeySet: 可翻译字段名集合。
type KeySet map[string]struct{}

// NewKeySet 由字段名列表构造集合（忽略空串）。
func NewKeySet(keys ...string) KeySet {
	ks := make(KeySet, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		ks[k] = struct{}{}
	}
	return ks
}

// Has 报告 key 是否需要翻译。
func (ks KeySet) Has(key string) bool {
	_, ok := ks[key]
	return ok
}

// Extract 返回树中所有键名命中的 (value, path)。
// 策略：按键名匹配；无论是否命中，递归进入所有容器（对象与数组）。
// 纯函数，不修改输入；顺序为确定性的文档遍历顺序。
func Extract(root *Node, keys KeySet) []contract.Leaf {
	var out []contract.Leaf
	walk(root, "", keys, &out)
	return out
}

func walk(n *Node, parent string, keys KeySet, out *[]contract.Leaf) {
	if n == nil {
		return
	}
	switch n.Kind {
	case Object:
		for _, m := range n.Members {
			p := parent + "/" + m.Key
			if keys.Has(m.Key) {
				*out = append(*out, contract.Leaf{Value: m.Value.JSON(), Path: p})
			}
			walk(m.Value, p, keys, out)
		}
	case Array:
		for i, it := range n.Items {
			walk(it, parent+"/"+strconv.Itoa(i), keys, out)
		}
	}
}

// Split 将键路径拆为段；"/" 与 "" 表示根。
func Split(path string) []string {
	p := strings.TrimPrefix(path, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// Join 将段连接为键路径（带前导斜杠）。
func Join(segs ...string) string {
	if len(segs) == 0 {
		return "/"
	}
	return "/" + strings.Join(segs, "/")
}

// Resolve 沿键路径取值；数组段按十进制下标解析。
func Resolve(root *Node, path string) (*Node, bool) {
	cur := root
	for _, seg := range Split(path) {
		if cur == nil {
			return nil, false
		}
		switch cur.Kind {
		case Object:
			next, ok := cur.Get(seg)
			if !ok {
				return nil, false
			}
			cur = next
		case Array:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(cur.Items) {
				return nil, false
			}
			cur = cur.Items[i]
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}
