package pairing

import (
	"crypto/rand"
	"strings"
	"time"
)

const (
	// CodeAlphabet 配对码字符集，去掉了易混淆的 I O 0 1
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	// CodeLength 配对码有效字符数
	CodeLength = 8

	// ClaimTTL 配对码有效期
	ClaimTTL = 5 * time.Minute
)

// GenerateCode 生成 XXXX-XXXX 形式的配对码
//
// 字符集大小为 32，取随机字节低 5 位不产生偏差。
func GenerateCode() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, 0, CodeLength+1)
	for i, b := range buf {
		if i == CodeLength/2 {
			out = append(out, '-')
		}
		out = append(out, CodeAlphabet[b&0x1f])
	}
	return string(out), nil
}

// NormalizeCode 规范化用户输入的配对码
//
// 忽略大小写、空白和分隔符，返回 XXXX-XXXX 形式；
// 长度或字符不合法时返回 ErrInvalidCode。
func NormalizeCode(input string) (string, error) {
	var sb strings.Builder
	for _, r := range strings.ToUpper(input) {
		switch {
		case r == '-' || r == ' ' || r == '\t':
			continue
		case r < 0x80 && strings.IndexByte(CodeAlphabet, byte(r)) >= 0:
			sb.WriteRune(r)
		default:
			return "", ErrInvalidCode
		}
	}
	raw := sb.String()
	if len(raw) != CodeLength {
		return "", ErrInvalidCode
	}
	return raw[:CodeLength/2] + "-" + raw[CodeLength/2:], nil
}
