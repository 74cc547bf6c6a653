package models

// ResourceLease 共享资源租约（同一资源同一时刻至多一条未过期租约）
type ResourceLease struct {
	ResourceName string `gorm:"primaryKey" json:"resourceName"` // 资源名称（如 iperf 服务器地址）
	HolderID     string `json:"holderId"`                       // 持有者标识
	ExpiresAt    int64  `json:"expiresAt"`                      // 过期时间（毫秒，过期后任何人可抢占）
	CreatedAt    int64  `json:"createdAt"`                      // 获取时间（毫秒）
}

func (ResourceLease) TableName() string {
	return "resource_leases"
}

// Expired 租约是否已过期
func (l *ResourceLease) Expired(now int64) bool {
	return l.ExpiresAt <= now
}
