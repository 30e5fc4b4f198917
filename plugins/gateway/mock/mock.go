package mock

import (
	"context"
	"encoding/json"
	"fmt"

	"patchsync/pkg/contract"
)

// Options: 最小调试配置（可选）。
type Options struct {
	Prefix string `json:"prefix"` // 输出前缀，默认 "MOCK"
	// APIKey: 仅用于限流分组（调试用），默认使用内置常量，不参与任何网络请求。
	APIKey string `json:"api_key"`
}

// Client 返回确定性的占位译文：Prefix + ": " + 原文。
type Client struct {
	prefix string
}

func New(raw json.RawMessage) (contract.Gateway, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("mock options: %w", err)
		}
	}
	if o.Prefix == "" {
		o.Prefix = "MOCK"
	}
	return &Client{prefix: o.Prefix}, nil
}

func (c *Client) Translate(ctx context.Context, text, from, to string) ([]contract.Translation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []contract.Translation{{Source: text, Translated: fmt.Sprintf("%s: %s", c.prefix, text)}}, nil
}
