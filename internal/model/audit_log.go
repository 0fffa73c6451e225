package model

// AuditLog 管理操作日志
type AuditLog struct {
	BaseModel
	Action       string `gorm:"type:varchar(50);not null" json:"action"`
	Resource     string `gorm:"type:varchar(50);not null" json:"resource"`
	ResourceID   string `gorm:"type:varchar(64);index" json:"resourceId"`
	Description  string `gorm:"type:varchar(500)" json:"description"`
	IPAddress    string `gorm:"type:varchar(45)" json:"ipAddress"`
	UserAgent    string `gorm:"type:varchar(500)" json:"userAgent"`
	RequestBody  string `gorm:"type:text" json:"requestBody"`
	ResponseCode int    `gorm:"type:int" json:"responseCode"`
	Duration     int64  `gorm:"type:bigint" json:"duration"` // 毫秒
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

// 操作类型常量
const (
	ActionCreate   = "create"
	ActionUpdate   = "update"
	ActionDelete   = "delete"
	ActionRevoke   = "revoke"
	ActionUnrevoke = "unrevoke"
	ActionBlock    = "block"
)

// 资源类型常量
const (
	ResourceLicense = "license"
	ResourceDevice  = "device"
)
