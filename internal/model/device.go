package model

import (
	"time"
)

// DeviceInfo 客户端上报的设备描述（浏览器、系统、硬件等），原样保存
type DeviceInfo map[string]any

// Device 设备绑定
type Device struct {
	BaseModel
	LicenseID       string     `gorm:"type:varchar(36);not null;uniqueIndex:idx_license_fingerprint,priority:1" json:"-"`
	Fingerprint     string     `gorm:"type:varchar(255);not null;uniqueIndex:idx_license_fingerprint,priority:2;index:idx_device_fingerprint" json:"fingerprint"`
	Position        int        `gorm:"not null;default:0" json:"-"` // 激活顺序
	DeviceInfo      DeviceInfo `gorm:"type:text;serializer:json" json:"deviceInfo"`
	FirstActivated  time.Time  `json:"firstActivated"`
	LastSeen        time.Time  `json:"lastSeen"`
	ActivationCount int        `gorm:"not null;default:1" json:"activationCount"`
	IPAddress       string     `gorm:"type:varchar(45)" json:"ipAddress"`
	Blocked         bool       `gorm:"not null;default:false" json:"blocked"`
}

func (Device) TableName() string {
	return "license_devices"
}

func (d Device) clone() Device {
	if d.DeviceInfo != nil {
		info := make(DeviceInfo, len(d.DeviceInfo))
		for k, v := range d.DeviceInfo {
			info[k] = v
		}
		d.DeviceInfo = info
	}
	return d
}
