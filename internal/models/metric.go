package models

// 指标健康状态的三态表示：Healthy 为 nil 表示从未评估过（unknown）
const (
	// OperatorGreaterThan 大于阈值告警
	OperatorGreaterThan = ">"
	// OperatorLessThan 小于阈值告警
	OperatorLessThan = "<"
)

// Metric 监控指标（按 key + field + 归属对象唯一）
type Metric struct {
	ID                   string `gorm:"primaryKey" json:"id"`
	Key                  string `gorm:"uniqueIndex:ux_metric_identity" json:"key"`         // 指标 key（如 ping、iperf）
	FieldName            string `gorm:"uniqueIndex:ux_metric_identity" json:"fieldName"`   // 字段名（如 reachable、loss）
	SubjectType          string `gorm:"uniqueIndex:ux_metric_identity" json:"subjectType"` // 归属对象类型（device 或空）
	SubjectID            string `gorm:"uniqueIndex:ux_metric_identity" json:"subjectId"`   // 归属对象 ID（通用指标为空）
	Name                 string `json:"name"`                                              // 展示名称
	Healthy              *bool  `json:"healthy"`                                           // 健康状态（nil 表示未知）
	NotificationsEnabled bool   `json:"notificationsEnabled"`                              // 是否发送通知
	CreatedAt            int64  `json:"createdAt"`                                         // 创建时间（毫秒）
}

func (Metric) TableName() string {
	return "metrics"
}

// IsHealthyKnown 健康状态是否已经确定过
func (m *Metric) IsHealthyKnown() bool {
	return m.Healthy != nil
}

// AlertSettings 告警配置（每个指标至多一条）
type AlertSettings struct {
	ID               string  `gorm:"primaryKey" json:"id"`
	MetricID         string  `gorm:"uniqueIndex:ux_alert_metric" json:"metricId"` // 所属指标（1:0..1）
	Operator         string  `json:"operator"`                                    // 比较操作符：> 或 <
	ThresholdValue   float64 `json:"thresholdValue"`                              // 阈值
	ToleranceSeconds uint    `json:"toleranceSeconds"`                            // 持续时间容忍（秒，0 表示立即告警）
	IsCritical       bool    `json:"isCritical"`                                  // 是否关键指标（单独即可触发 critical）
	IsActive         bool    `json:"isActive"`                                    // 是否启用
	CreatedAt        int64   `json:"createdAt"`                                   // 创建时间（毫秒）
}

func (AlertSettings) TableName() string {
	return "alert_settings"
}

// Crossed 判断当前值是否越过阈值
func (a *AlertSettings) Crossed(value float64) bool {
	if a.Operator == OperatorLessThan {
		return value < a.ThresholdValue
	}
	return value > a.ThresholdValue
}
