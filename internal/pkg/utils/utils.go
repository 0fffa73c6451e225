package utils

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// CodeAlphabet 授权码字符集 [A-Z0-9]
const CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	codeGroups    = 4
	codeGroupSize = 4
)

var alphabetSize = big.NewInt(int64(len(CodeAlphabet)))

// GenerateLicenseCode 生成授权码
// 格式: XXXX-XXXX-XXXX-XXXX，每个字符从 36 个字符中均匀选取
func GenerateLicenseCode() (string, error) {
	var b strings.Builder
	b.Grow(codeGroups*codeGroupSize + codeGroups - 1)
	for g := 0; g < codeGroups; g++ {
		if g > 0 {
			b.WriteByte('-')
		}
		for i := 0; i < codeGroupSize; i++ {
			n, err := rand.Int(rand.Reader, alphabetSize)
			if err != nil {
				return "", err
			}
			b.WriteByte(CodeAlphabet[n.Int64()])
		}
	}
	return b.String(), nil
}

// IsLicenseCode 检查格式是否符合授权码规则（需已转大写）
func IsLicenseCode(code string) bool {
	groups := strings.Split(code, "-")
	if len(groups) != codeGroups {
		return false
	}
	for _, g := range groups {
		if len(g) != codeGroupSize {
			return false
		}
		for i := 0; i < len(g); i++ {
			if !strings.ContainsRune(CodeAlphabet, rune(g[i])) {
				return false
			}
		}
	}
	return true
}

// MaskCode 隐藏授权码中间部分，用于日志
func MaskCode(code string) string {
	if len(code) < 8 {
		return code
	}
	return code[0:4] + "-****-****-" + code[len(code)-4:]
}

// MaskEmail 隐藏邮箱中间部分
func MaskEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return email
	}
	name := parts[0]
	domain := parts[1]
	if len(name) <= 2 {
		return email
	}
	masked := name[0:1] + "***" + name[len(name)-1:]
	return masked + "@" + domain
}
