package service

import (
	"context"
	"time"

	"github.com/dushixiang/osprey/internal/models"
	"github.com/dushixiang/osprey/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LeaseService 共享资源仲裁器：在一组命名资源（如带宽测试服务器）上
// 提供带 TTL 的互斥租约。单次尝试、不阻塞；租约到期自愈，
// 持有者崩溃后资源自动恢复可用
type LeaseService struct {
	logger    *zap.Logger
	leaseRepo *repo.LeaseRepo
}

func NewLeaseService(logger *zap.Logger, db *gorm.DB) *LeaseService {
	return &LeaseService{
		logger:    logger,
		leaseRepo: repo.NewLeaseRepo(db),
	}
}

// TryAcquire 按调用方给定的顺序逐个尝试获取资源租约，
// 返回第一个成功的资源名。全部被占用时返回 ok=false（不是错误）
func (s *LeaseService) TryAcquire(ctx context.Context, resourceNames []string, holderID string, ttl time.Duration) (string, bool, error) {
	now := time.Now().UnixMilli()

	for _, name := range resourceNames {
		lease := &models.ResourceLease{
			ResourceName: name,
			HolderID:     holderID,
			ExpiresAt:    now + ttl.Milliseconds(),
			CreatedAt:    now,
		}
		acquired, err := s.leaseRepo.TryInsert(ctx, lease, now)
		if err != nil {
			return "", false, err
		}
		if acquired {
			s.logger.Debug("获取资源租约",
				zap.String("resource", name),
				zap.String("holder", holderID),
				zap.Duration("ttl", ttl))
			return name, true, nil
		}
	}
	return "", false, nil
}

// Release 释放租约。只释放仍由 holderID 持有且未过期的租约：
// 已过期的租约可能被他人抢占，归属新持有者
func (s *LeaseService) Release(ctx context.Context, resourceName, holderID string) error {
	now := time.Now().UnixMilli()
	if err := s.leaseRepo.Delete(ctx, resourceName, holderID, now); err != nil {
		return err
	}
	s.logger.Debug("释放资源租约",
		zap.String("resource", resourceName),
		zap.String("holder", holderID))
	return nil
}

// WithLease 作用域化的租约：获取成功后执行 fn，无论 fn 结果如何都释放租约。
// 全部资源被占用时返回 ok=false 且不执行 fn
func (s *LeaseService) WithLease(ctx context.Context, resourceNames []string, holderID string, ttl time.Duration, fn func(resourceName string) error) (bool, error) {
	name, ok, err := s.TryAcquire(ctx, resourceNames, holderID, ttl)
	if err != nil || !ok {
		return ok, err
	}

	defer func() {
		if err := s.Release(ctx, name, holderID); err != nil {
			s.logger.Error("释放资源租约失败",
				zap.String("resource", name),
				zap.Error(err))
		}
	}()

	return true, fn(name)
}
