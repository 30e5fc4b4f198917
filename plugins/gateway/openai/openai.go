package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"patchsync/pkg/contract"
)

const (
	defaultBaseURL  = "https://api.openai.com/v1"
	defaultModel    = "gpt-4.1-mini"
	defaultKeyEnv   = "OPENAI_API_KEY"
	defaultEndpoint = "/chat/completions"
	defaultTimeout  = 60
	errBodyLimit    = 4 << 10
)

// Options 兼容 OpenAI Chat Completions 协议的服务（含第三方代理）。
type Options struct {
	BaseURL        string   `json:"base_url"`
	Model          string   `json:"model"`
	APIKeyEnv      string   `json:"api_key_env"`
	APIKey         string   `json:"api_key"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	Temperature    *float64 `json:"temperature,omitempty"`
	// EndpointPath 以 http(s):// 开头时视为完整 URL，忽略 BaseURL。
	EndpointPath       string            `json:"endpoint_path"`
	DisableDefaultAuth bool              `json:"disable_default_auth"`
	ExtraHeaders       map[string]string `json:"extra_headers"`
	// Instructions 覆盖系统提示；%[1]s 为源语言，%[2]s 为目标语言。
	Instructions string `json:"instructions,omitempty"`
}

const defaultInstructions = "You translate video game localization strings from %[1]s to %[2]s. " +
	"Reply with the translated text only. Keep placeholders, escape sequences and markup such as ^orange; unchanged."

// Client 每次 Translate 对应一次 chat 请求；整条回复即一条译文。
type Client struct {
	endpoint     string
	header       http.Header
	model        string
	temperature  *float64
	instructions string
	hc           *http.Client
}

var _ contract.Gateway = (*Client)(nil)

func New(raw json.RawMessage) (contract.Gateway, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("openai options: %w", err)
		}
	}
	key := o.APIKey
	if key == "" {
		key = os.Getenv(or(o.APIKeyEnv, defaultKeyEnv))
	}
	if key == "" {
		return nil, fmt.Errorf("openai: %w: missing api key", contract.ErrInvalidInput)
	}
	timeout := o.TimeoutSeconds
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	if !o.DisableDefaultAuth {
		h.Set("Authorization", "Bearer "+key)
	}
	for k, v := range o.ExtraHeaders {
		if k != "" {
			h.Set(k, v)
		}
	}
	return &Client{
		endpoint:     endpointURL(or(o.BaseURL, defaultBaseURL), or(o.EndpointPath, defaultEndpoint)),
		header:       h,
		model:        or(o.Model, defaultModel),
		temperature:  o.Temperature,
		instructions: or(o.Instructions, defaultInstructions),
		hc:           &http.Client{Timeout: time.Duration(timeout) * time.Second},
	}, nil
}

func or(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func endpointURL(base, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// statusError 为 5xx/408 的上游错误；实现 net.Error 以便归入网络类。
type statusError struct {
	status int
	body   string
}

func (e statusError) Error() string           { return fmt.Sprintf("openai upstream %d: %s", e.status, e.body) }
func (e statusError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e statusError) Temporary() bool         { return true }
func (e statusError) UpstreamStatus() int     { return e.status }
func (e statusError) UpstreamMessage() string { return e.body }

func (c *Client) Translate(ctx context.Context, text, from, to string) ([]contract.Translation, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []chatMessage{
			{Role: "system", Content: fmt.Sprintf(c.instructions, from, to)},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode: %v: %w", err, contract.ErrInvalidInput)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("new request: %v: %w", err, contract.ErrInvalidInput)
	}
	req.Header = c.header.Clone()

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("decode: %v: %w", err, contract.ErrResponseInvalid)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("no choices: %w", contract.ErrResponseInvalid)
	}
	out := strings.TrimSpace(cr.Choices[0].Message.Content)
	if out == "" {
		return nil, nil
	}
	return []contract.Translation{{Source: text, Translated: out}}, nil
}

// checkStatus 429 限流；5xx/408 可重试的上游错误；其余非 2xx 视为请求或凭据无效。
func checkStatus(resp *http.Response) error {
	s := resp.StatusCode
	switch {
	case s >= 200 && s < 300:
		return nil
	case s == http.StatusTooManyRequests:
		return contract.ErrRateLimited
	case s == http.StatusRequestTimeout || s >= 500:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
		return statusError{status: s, body: strings.TrimSpace(string(b))}
	default:
		return fmt.Errorf("openai upstream %d: %w", s, contract.ErrInvalidInput)
	}
}
