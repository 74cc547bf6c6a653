package repo

import (
	"context"

	"github.com/dushixiang/osprey/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LeaseRepo 资源租约数据访问层
type LeaseRepo struct {
	db *gorm.DB
}

func NewLeaseRepo(db *gorm.DB) *LeaseRepo {
	return &LeaseRepo{db: db}
}

// TryInsert 原子性地获取租约：同一事务内先清理该资源的过期租约，
// 再以主键冲突检测插入新租约。返回是否获取成功
func (r *LeaseRepo) TryInsert(ctx context.Context, lease *models.ResourceLease, now int64) (bool, error) {
	var acquired bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 过期租约视为无主，先删除（TTL 自愈）
		if err := tx.Where("resource_name = ? AND expires_at <= ?", lease.ResourceName, now).
			Delete(&models.ResourceLease{}).Error; err != nil {
			return err
		}

		// 主键冲突说明存在未过期租约，DoNothing 后 RowsAffected 为 0
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(lease)
		if result.Error != nil {
			return result.Error
		}
		acquired = result.RowsAffected > 0
		return nil
	})
	return acquired, err
}

// Delete 释放租约。只删除仍由 holderID 持有且未过期的租约：
// 过期租约可能已被他人抢占，不能盲目删除
func (r *LeaseRepo) Delete(ctx context.Context, resourceName, holderID string, now int64) error {
	return r.db.WithContext(ctx).
		Where("resource_name = ? AND holder_id = ? AND expires_at > ?", resourceName, holderID, now).
		Delete(&models.ResourceLease{}).Error
}
