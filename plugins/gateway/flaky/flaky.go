package flaky

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"patchsync/pkg/contract"
)

// Options 定义可选项。
type Options struct {
	Prefix string `json:"prefix"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Client 是带状态的网关实现：
// 第一次 Translate 返回 ErrRateLimited；
// 第二次返回空结果；
// 之后返回占位译文。
type Client struct {
	prefix  string
	logPath string
	count   atomic.Int32
}

// New 构造 Client。
func New(raw json.RawMessage) (contract.Gateway, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, err
		}
	}
	if o.Prefix == "" {
		o.Prefix = "FLAKY"
	}
	return &Client{prefix: o.Prefix, logPath: o.LogPath}, nil
}

// Calls 返回累计调用次数。
func (c *Client) Calls() int { return int(c.count.Load()) }

func (c *Client) log(s string) {
	if c.logPath == "" {
		return
	}
	// 追加写入，忽略错误。
	_ = appendFile(c.logPath, s+"\n")
}

// appendFile 以追加方式写入。
func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}

// Translate 实现 contract.Gateway。
func (c *Client) Translate(ctx context.Context, text, from, to string) ([]contract.Translation, error) {
	switch c.count.Add(1) {
	case 1:
		c.log("rate_limited")
		return nil, contract.ErrRateLimited
	case 2:
		c.log("empty")
		return nil, nil
	default:
		c.log("ok")
		return []contract.Translation{{Source: text, Translated: fmt.Sprintf("%s: %s", c.prefix, text)}}, nil
	}
}
