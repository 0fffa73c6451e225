package crypto

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

// HashSecret 生成 bcrypt 哈希，用于在配置中保存管理员密钥
func HashSecret(secret string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CheckSecret 校验管理员密钥，优先使用 bcrypt 哈希，否则常量时间比较明文
func CheckSecret(provided, plain, hashed string) bool {
	if provided == "" {
		return false
	}
	if hashed != "" {
		return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(provided)) == nil
	}
	if plain == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(plain)) == 1
}
