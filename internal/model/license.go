package model

import (
	"strings"
	"time"
)

// License 授权记录，设备绑定列表归属于该聚合，只能通过它的方法修改
type License struct {
	BaseModel
	Code             string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"code"`
	ExpiresAt        time.Time `gorm:"not null;index" json:"expiresAt"`
	MaxDevices       int       `gorm:"not null;default:1" json:"maxDevices"`
	Revoked          bool      `gorm:"not null;default:false;index" json:"revoked"`
	AllowedCountries []string  `gorm:"type:text;serializer:json" json:"allowedCountries"`
	CustomerEmail    string    `gorm:"type:varchar(255)" json:"customerEmail"`
	CustomerName     string    `gorm:"type:varchar(255)" json:"customerName"`
	Notes            string    `gorm:"type:text" json:"notes"`
	// 按激活顺序排列
	Devices []Device `gorm:"foreignKey:LicenseID;constraint:OnDelete:CASCADE" json:"devices"`
}

func (License) TableName() string {
	return "licenses"
}

// NormalizeCode 统一授权码格式（去空白、转大写）
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsExpired 是否已过期
func (l *License) IsExpired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// IsActive 未吊销且未过期
func (l *License) IsActive(now time.Time) bool {
	return !l.Revoked && !l.IsExpired(now)
}

// DaysRemaining 剩余天数，向上取整，最小为 0
func (l *License) DaysRemaining(now time.Time) int {
	remaining := l.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	days := remaining / (24 * time.Hour)
	if remaining%(24*time.Hour) != 0 {
		days++
	}
	return int(days)
}

// FindDevice 按指纹查找绑定
func (l *License) FindDevice(fingerprint string) *Device {
	for i := range l.Devices {
		if l.Devices[i].Fingerprint == fingerprint {
			return &l.Devices[i]
		}
	}
	return nil
}

// Clone 深拷贝，内存存储用来隔离调用方
func (l *License) Clone() *License {
	if l == nil {
		return nil
	}
	out := *l
	if l.AllowedCountries != nil {
		out.AllowedCountries = append([]string(nil), l.AllowedCountries...)
	}
	if l.Devices != nil {
		out.Devices = make([]Device, len(l.Devices))
		for i := range l.Devices {
			out.Devices[i] = l.Devices[i].clone()
		}
	}
	return &out
}
