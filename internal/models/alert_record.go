package models

// 通知类型
const (
	AlertKindProblem  = "problem"  // 指标转为异常
	AlertKindRecovery = "recovery" // 指标恢复健康
)

// AlertRecord 告警通知记录（通知发送的持久化日志）
type AlertRecord struct {
	ID         int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	MetricID   string  `gorm:"index:idx_alert_record_metric" json:"metricId"` // 触发指标
	MetricName string  `json:"metricName"`                                    // 指标名称（冗余，便于展示）
	DeviceID   string  `gorm:"index:idx_alert_record_device" json:"deviceId"` // 所属设备（通用指标为空）
	Kind       string  `json:"kind"`                                          // problem 或 recovery
	Value      float64 `json:"value"`                                         // 触发时的观测值
	Message    string  `json:"message"`                                       // 通知内容
	CreatedAt  int64   `json:"createdAt"`                                     // 创建时间（毫秒）
}

func (AlertRecord) TableName() string {
	return "alert_records"
}
