package rate

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
)

// DeriveKeyFromGatewayOptions 从网关标识与其原样 Options JSON 中提取凭据，
// 并返回按 gateway+sha256(credential) 构造的限流分组键。找不到凭据时返回错误。
// baidu 读取 "app_id"/"app_id_env"；openai 读取 "api_key"/"api_key_env"；mock/flaky 无凭据时使用内置调试键。
func DeriveKeyFromGatewayOptions(gateway string, raw json.RawMessage) (LimitKey, error) {
	var obj map[string]any
	_ = json.Unmarshal(raw, &obj)

	pick := func(key string) string {
		if v, ok := obj[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}
	direct := func(field, envField, defEnv string) string {
		if v := pick(field); v != "" {
			return v
		}
		env := pick(envField)
		if env == "" {
			env = defEnv
		}
		if env == "" {
			return ""
		}
		return os.Getenv(env)
	}

	key := ""
	switch gateway {
	case "baidu":
		key = direct("app_id", "app_id_env", "TRANSLATION_APP_ID")
	case "openai":
		key = direct("api_key", "api_key_env", "")
	case "mock", "flaky":
		key = pick("api_key")
		if key == "" {
			key = "MOCK_DEBUG_KEY"
		}
	default:
		key = direct("api_key", "api_key_env", "")
	}

	if key == "" {
		return "", fmt.Errorf("rate: missing credential for gateway %s", gateway)
	}
	sum := sha256.Sum256([]byte(key))
	return LimitKey(fmt.Sprintf("%s:%x", gateway, sum[:])), nil
}
