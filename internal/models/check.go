package models

import "gorm.io/datatypes"

// Check 检查任务（某设备上某种检查类型的一次性配置）
type Check struct {
	ID              string         `gorm:"primaryKey" json:"id"`
	Name            string         `json:"name"`                                      // 任务名称
	Type            string         `gorm:"index:idx_check_type" json:"type"`          // 检查类型标识（ping、iperf 等，需已注册）
	DeviceID        string         `gorm:"index:idx_check_device" json:"deviceId"`    // 目标设备（通用检查为空）
	Params          datatypes.JSON `json:"params"`                                    // 检查参数（各类型自行解析与校验）
	IntervalSeconds int            `json:"intervalSeconds"`                           // 执行间隔（秒）
	Active          bool           `gorm:"index:idx_check_active" json:"active"`      // 是否启用
	CreatedAt       int64          `json:"createdAt"`                                 // 创建时间（毫秒）
}

func (Check) TableName() string {
	return "checks"
}
