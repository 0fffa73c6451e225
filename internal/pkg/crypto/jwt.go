package crypto

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DeviceClaims 设备校验令牌声明，绑定授权 ID 与设备指纹
type DeviceClaims struct {
	LicenseID   string `json:"lid"`
	Fingerprint string `json:"fp"`
	jwt.RegisteredClaims
}

// GenerateDeviceToken 生成设备校验令牌
func GenerateDeviceToken(licenseID, fingerprint, secret string, ttl time.Duration, now time.Time) (string, error) {
	claims := DeviceClaims{
		LicenseID:   licenseID,
		Fingerprint: fingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   licenseID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseDeviceToken 解析设备校验令牌，now 用于过期判断
func ParseDeviceToken(tokenString, secret string, now time.Time) (*DeviceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DeviceClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*DeviceClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
