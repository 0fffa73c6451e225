package model

import "time"

// Validity 授权整体状态
type Validity string

const (
	ValidityValid   Validity = "VALID"
	ValidityExpired Validity = "EXPIRED"
	ValidityRevoked Validity = "REVOKED"
)

// Admission 设备准入结果
type Admission string

const (
	AdmissionAllow            Admission = "ALLOW"
	AdmissionDeviceBlocked    Admission = "DEVICE_BLOCKED"
	AdmissionCapacityExceeded Admission = "CAPACITY_EXCEEDED"
)

// Validate 吊销优先于过期判断
func (l *License) Validate(now time.Time) Validity {
	if l.Revoked {
		return ValidityRevoked
	}
	if l.IsExpired(now) {
		return ValidityExpired
	}
	return ValidityValid
}

// CanActivate 已绑定设备重新激活不受容量限制
func (l *License) CanActivate(fingerprint string) Admission {
	if device := l.FindDevice(fingerprint); device != nil {
		if device.Blocked {
			return AdmissionDeviceBlocked
		}
		return AdmissionAllow
	}
	if len(l.Devices) >= l.MaxDevices {
		return AdmissionCapacityExceeded
	}
	return AdmissionAllow
}

// Activate 绑定或更新设备，返回绑定记录及是否新绑定。
// 调用方必须先确认 Validate 为 VALID 且 CanActivate 为 ALLOW。
func (l *License) Activate(fingerprint string, info DeviceInfo, ipAddress string, now time.Time) (*Device, bool) {
	if device := l.FindDevice(fingerprint); device != nil {
		device.LastSeen = now
		device.ActivationCount++
		device.DeviceInfo = info
		device.IPAddress = ipAddress
		return device, false
	}

	l.Devices = append(l.Devices, Device{
		LicenseID:       l.ID,
		Fingerprint:     fingerprint,
		Position:        len(l.Devices),
		DeviceInfo:      info,
		FirstActivated:  now,
		LastSeen:        now,
		ActivationCount: 1,
		IPAddress:       ipAddress,
	})
	return &l.Devices[len(l.Devices)-1], true
}

// Touch 复查时只刷新 lastSeen
func (l *License) Touch(fingerprint string, now time.Time) bool {
	device := l.FindDevice(fingerprint)
	if device == nil {
		return false
	}
	device.LastSeen = now
	return true
}

// BlockDevice 封禁设备，返回状态是否发生变化
func (l *License) BlockDevice(fingerprint string) bool {
	device := l.FindDevice(fingerprint)
	if device == nil || device.Blocked {
		return false
	}
	device.Blocked = true
	return true
}
