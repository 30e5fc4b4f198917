package keypath

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"patchsync/pkg/contract"
)

// Kind: JSON 节点类型。
type Kind uint8

const (
	Null Kind = iota
	Bool
	Number
	String
	Object
	Array
)

// Member: 对象成员（保持源文档中的键顺序）。
type Member struct {
	Key   string
	Value *Node
}

// Node: 保序 JSON 树节点。
// 标量保留原样字面量（Raw）；容器通过 Members/Items 表示。
type Node struct {
	Kind    Kind
	Members []Member
	Items   []*Node
	Raw     json.RawMessage
}

// Parse 将已净化的 JSON 文本解析为保序树。
// 同一对象内的重复键：保留首次出现的位置，值取最后一次（与常见 JSON 解析器一致）。
func Parse(b []byte) (*Node, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	n, err := parseValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("keypath: trailing data after document")
	}
	return n, nil
}

func parseValue(dec *json.Decoder) (*Node, error) {
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			return parseObject(dec)
		case '[':
			return parseArray(dec)
		}
		return nil, fmt.Errorf("keypath: unexpected delimiter %q", v)
	case string:
		return &Node{Kind: String, Raw: contract.EncodeText(v)}, nil
	case json.Number:
		return &Node{Kind: Number, Raw: json.RawMessage(v.String())}, nil
	case bool:
		if v {
			return &Node{Kind: Bool, Raw: json.RawMessage("true")}, nil
		}
		return &Node{Kind: Bool, Raw: json.RawMessage("false")}, nil
	case nil:
		return &Node{Kind: Null, Raw: json.RawMessage("null")}, nil
	}
	return nil, fmt.Errorf("keypath: unexpected token %v", tok)
}

func parseObject(dec *json.Decoder) (*Node, error) {
	n := &Node{Kind: Object}
	index := map[string]int{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("keypath: object key is %T", tok)
		}
		val, err := parseValue(dec)
		if err != nil {
			return nil, err
		}
		if i, dup := index[key]; dup {
			n.Members[i].Value = val
			continue
		}
		index[key] = len(n.Members)
		n.Members = append(n.Members, Member{Key: key, Value: val})
	}
	// 消费 '}'
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return n, nil
}

func parseArray(dec *json.Decoder) (*Node, error) {
	n := &Node{Kind: Array}
	for dec.More() {
		val, err := parseValue(dec)
		if err != nil {
			return nil, err
		}
		n.Items = append(n.Items, val)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return n, nil
}

// Get 返回对象成员；非对象或不存在时 ok=false。
func (n *Node) Get(key string) (*Node, bool) {
	if n == nil || n.Kind != Object {
		return nil, false
	}
	for _, m := range n.Members {
		if m.Key == key {
			return m.Value, true
		}
	}
	return nil, false
}

// MarshalJSON 按原始顺序输出紧凑 JSON。
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	n.write(&buf)
	return buf.Bytes(), nil
}

func (n *Node) write(buf *bytes.Buffer) {
	if n == nil {
		buf.WriteString("null")
		return
	}
	switch n.Kind {
	case Object:
		buf.WriteByte('{')
		for i, m := range n.Members {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.Write(contract.EncodeText(m.Key))
			buf.WriteByte(':')
			m.Value.write(buf)
		}
		buf.WriteByte('}')
	case Array:
		buf.WriteByte('[')
		for i, it := range n.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			it.write(buf)
		}
		buf.WriteByte(']')
	default:
		buf.Write(n.Raw)
	}
}

// JSON 返回节点的原样 JSON（保序、紧凑）。
func (n *Node) JSON() json.RawMessage {
	b, _ := n.MarshalJSON()
	return json.RawMessage(b)
}
