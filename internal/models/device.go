package models

import "gorm.io/datatypes"

// 设备聚合健康状态
const (
	HealthStatusUnknown  = "unknown"  // 尚未产生任何确认的观测
	HealthStatusOK       = "ok"       // 所有指标健康
	HealthStatusProblem  = "problem"  // 存在非关键指标异常
	HealthStatusCritical = "critical" // 存在关键指标异常
)

// Device 被监控设备
type Device struct {
	ID             string `gorm:"primaryKey" json:"id"`
	OrganizationID string `gorm:"index:idx_device_org" json:"organizationId"` // 所属组织
	Name           string `json:"name"`                                       // 设备名称
	MgmtAddress    string `json:"mgmtAddress"`                                // 管理地址（进入 critical 时清空）
	ConfigStatus   string `json:"configStatus"`                               // 配置下发状态（applied/modified/error）
	Active         bool   `json:"active"`                                     // 是否启用（停用设备跳过所有检查）
	Status         string `json:"status"`                                     // 聚合健康状态（物化字段，仅由健康聚合器更新）
	CreatedAt      int64  `json:"createdAt"`                                  // 创建时间（毫秒）
}

func (Device) TableName() string {
	return "devices"
}

// Organization 组织（租户）
type Organization struct {
	ID           string         `gorm:"primaryKey" json:"id"`
	Name         string         `json:"name"`         // 组织名称
	Active       bool           `json:"active"`       // 是否启用（停用组织的设备跳过所有检查）
	IperfServers datatypes.JSON `json:"iperfServers"` // 带宽测试服务器池（JSON 字符串数组，按顺序尝试）
	CreatedAt    int64          `json:"createdAt"`    // 创建时间（毫秒）
}

func (Organization) TableName() string {
	return "organizations"
}
