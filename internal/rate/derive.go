package rate

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
)

// defaultKeyEnv: 各客户端未声明 api_key_env 时读取的环境变量。
var defaultKeyEnv = map[string]string{
	"openai": "OPENAI_API_KEY",
	"gemini": "GOOGLE_API_KEY",
}

// debugKeys: 离线客户端的固定分组键。
var debugKeys = map[string]string{
	"mock":  "MOCK_DEBUG_KEY",
	"flaky": "FLAKY_DEBUG_KEY",
}

// DeriveKeyFromProviderOptions 从 LLM 客户端标识与其原样 Options JSON 中提取 API Key，
// 并返回按 client+sha256(key) 构造的限流分组键。找不到 key 时返回错误。
// 解析顺序："api_key" → "api_key_env" → 客户端默认环境变量；离线客户端使用固定调试键。
func DeriveKeyFromProviderOptions(client string, raw json.RawMessage) (LimitKey, error) {
	var obj map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &obj)
	}
	pick := func(key string) string {
		if v, ok := obj[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}

	key := pick("api_key")
	if key == "" {
		if dk, ok := debugKeys[client]; ok {
			key = dk
		}
	}
	if key == "" {
		env := pick("api_key_env")
		if env == "" {
			env = defaultKeyEnv[client]
		}
		if env != "" {
			key = os.Getenv(env)
		}
	}
	if key == "" {
		return "", fmt.Errorf("rate: missing api key for client %s", client)
	}
	sum := sha256.Sum256([]byte(key))
	return LimitKey(fmt.Sprintf("%s:%x", client, sum[:])), nil
}
