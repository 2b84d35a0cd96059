package chat

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

const MaxMessageLength = 1000

// SanitizeContent 截断到 MaxMessageLength 个字符后去除首尾空白。
func SanitizeContent(content string) string {
	if utf8.RuneCountInString(content) > MaxMessageLength {
		runes := []rune(content)
		content = string(runes[:MaxMessageLength])
	}
	return strings.TrimSpace(content)
}

// ContentFromJSON 解析客户端传来的 content 字段。
// present 为 false 表示字段缺失或为假值（null、""、false、0）。
// 非字符串的真值被清洗为空字符串。
func ContentFromJSON(raw json.RawMessage) (content string, present bool) {
	var v interface{}
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return "", false
	}
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		if t == "" {
			return "", false
		}
		return SanitizeContent(t), true
	case bool:
		return "", t
	case float64:
		return "", t != 0
	default:
		return "", true
	}
}
