package baidu

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"patchsync/pkg/contract"
)

// Options: 百度翻译通用 API 配置。凭据优先取明文字段，其次取环境变量。
type Options struct {
	BaseURL        string `json:"base_url"`   // 默认 https://fanyi-api.baidu.com/api/trans/vip/translate
	AppID          string `json:"app_id"`     // 明文（不推荐，按需用于测试）
	AppIDEnv       string `json:"app_id_env"` // 默认 TRANSLATION_APP_ID
	Secret         string `json:"secret"`
	SecretEnv      string `json:"secret_env"` // 默认 TRANSLATION_SECRET
	TimeoutSeconds int    `json:"timeout_seconds"`
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://fanyi-api.baidu.com/api/trans/vip/translate"
	}
	if o.AppIDEnv == "" {
		o.AppIDEnv = "TRANSLATION_APP_ID"
	}
	if o.SecretEnv == "" {
		o.SecretEnv = "TRANSLATION_SECRET"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 30
	}
}

type Client struct {
	url    string
	appID  string
	secret string
	salt   func() string
	do     func(*http.Request) (*http.Response, error)
}

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (contract.Gateway, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("baidu options: %w", err)
		}
	}
	opts.defaults()
	appID := opts.AppID
	if appID == "" {
		appID = os.Getenv(opts.AppIDEnv)
	}
	secret := opts.Secret
	if secret == "" {
		secret = os.Getenv(opts.SecretEnv)
	}
	if appID == "" || secret == "" {
		return nil, fmt.Errorf("baidu: %w: missing app id or secret", contract.ErrInvalidInput)
	}
	hc := &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	return &Client{url: opts.BaseURL, appID: appID, secret: secret, salt: uuid.NewString, do: hc.Do}, nil
}

// 服务商错误码（仅列出需要区分的）。
const (
	codeTimeout     = 52001
	codeSystemError = 52002
	codeFrequency   = 54003
)

type bdResp struct {
	From        string `json:"from"`
	To          string `json:"to"`
	TransResult []struct {
		Src string `json:"src"`
		Dst string `json:"dst"`
	} `json:"trans_result"`
	ErrorCode json.RawMessage `json:"error_code"` // 服务端可能返回字符串或数字
	ErrorMsg  string          `json:"error_msg"`
}

// upstreamError 实现 net.Error，将可重试的服务端错误码映射为网络类错误，便于分类。
type upstreamError struct {
	code int
	msg  string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("baidu upstream %d: %s", e.code, e.msg) }
func (e upstreamError) Timeout() bool           { return e.code == codeTimeout }
func (e upstreamError) Temporary() bool         { return e.code == codeTimeout || e.code == codeSystemError }
func (e upstreamError) UpstreamStatus() int     { return e.code }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// Sign 计算 md5(appid+q+salt+secret) 的小写十六进制。
func Sign(appID, q, salt, secret string) string {
	sum := md5.Sum([]byte(appID + q + salt + secret))
	return hex.EncodeToString(sum[:])
}

// Translate: 单次调用；服务端错误码映射为哨兵错误或 upstreamError。
func (c *Client) Translate(ctx context.Context, text, from, to string) ([]contract.Translation, error) {
	salt := c.salt()
	form := url.Values{}
	form.Set("q", text)
	form.Set("from", from)
	form.Set("to", to)
	form.Set("appid", c.appID)
	form.Set("salt", salt)
	form.Set("sign", Sign(c.appID, text, salt, c.secret))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("new request: %v: %w", err, contract.ErrInvalidInput)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, contract.ErrRateLimited
	}
	if resp.StatusCode/100 != 2 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, upstreamError{code: resp.StatusCode, msg: strings.TrimSpace(string(slurp))}
	}
	var br bdResp
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, fmt.Errorf("decode: %w", contract.ErrResponseInvalid)
	}
	if code := parseCode(br.ErrorCode); code != 0 && code != 52000 {
		switch code {
		case codeFrequency:
			return nil, fmt.Errorf("baidu %d %s: %w", code, br.ErrorMsg, contract.ErrRateLimited)
		case codeTimeout, codeSystemError:
			return nil, upstreamError{code: code, msg: br.ErrorMsg}
		default:
			return nil, fmt.Errorf("baidu %d %s: %w", code, br.ErrorMsg, contract.ErrInvalidInput)
		}
	}
	out := make([]contract.Translation, 0, len(br.TransResult))
	for _, r := range br.TransResult {
		out = append(out, contract.Translation{Source: r.Src, Translated: r.Dst})
	}
	return out, nil
}

func parseCode(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	s := strings.Trim(string(raw), `"`)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
