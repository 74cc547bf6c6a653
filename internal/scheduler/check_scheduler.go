package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dushixiang/osprey/internal/service"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CheckTask 调度任务（轻量级，仅存储必要信息）
type CheckTask struct {
	ID      string       // 检查任务 ID
	EntryID cron.EntryID // cron 任务的 ID
}

// CheckScheduler 检查任务调度器。实现了 checks.Rescheduler：
// 资源受限的检查在资源被占用时通过 Reschedule 请求一次性的延迟重试
type CheckScheduler struct {
	mu           sync.RWMutex
	cron         *cron.Cron
	tasks        map[string]*CheckTask // checkID -> CheckTask
	checkService *service.CheckService
	logger       *zap.Logger
	ctx          context.Context
	cancel       context.CancelFunc

	// 未决的一次性重试定时器，Stop 时取消
	retries map[string]*time.Timer
}

// NewCheckScheduler 创建检查任务调度器
func NewCheckScheduler(checkService *service.CheckService, logger *zap.Logger) *CheckScheduler {
	return &CheckScheduler{
		cron:         cron.New(cron.WithSeconds()), // 支持秒级调度
		tasks:        make(map[string]*CheckTask),
		retries:      make(map[string]*time.Timer),
		checkService: checkService,
		logger:       logger,
	}
}

// Start 启动调度器
func (s *CheckScheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.logger.Info("启动检查任务调度器")

	// 首次加载所有启用的任务
	s.LoadTasks()

	s.cron.Start()
}

// Stop 停止调度器
func (s *CheckScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	for id, timer := range s.retries {
		timer.Stop()
		delete(s.retries, id)
	}
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.logger.Info("检查任务调度器已停止")
}

// LoadTasks 加载所有启用的检查任务（可周期性调用做增量同步）
func (s *CheckScheduler) LoadTasks() {
	list, err := s.checkService.FindByActive(context.Background(), true)
	if err != nil {
		s.logger.Error("加载检查任务失败", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 标记当前存在的任务
	existingTasks := make(map[string]bool)
	for _, check := range list {
		existingTasks[check.ID] = true

		if _, exists := s.tasks[check.ID]; !exists {
			if err := s.addTaskLocked(check.ID, check.IntervalSeconds); err != nil {
				s.logger.Error("添加检查任务失败",
					zap.String("checkId", check.ID),
					zap.String("checkName", check.Name),
					zap.Error(err))
			}
		}
	}

	// 删除已不存在或已禁用的任务
	for checkID := range s.tasks {
		if !existingTasks[checkID] {
			s.removeTaskLocked(checkID)
		}
	}
}

// AddTask 添加检查任务
func (s *CheckScheduler) AddTask(checkID string, interval int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addTaskLocked(checkID, interval)
}

// addTaskLocked 添加检查任务（需要持有锁）
func (s *CheckScheduler) addTaskLocked(checkID string, interval int) error {
	// 如果任务已存在，先删除
	if task, exists := s.tasks[checkID]; exists {
		s.cron.Remove(task.EntryID)
		delete(s.tasks, checkID)
	}

	// 确保间隔合法
	if interval <= 0 {
		interval = 300 // 默认 5 分钟
	}

	spec := fmt.Sprintf("@every %ds", interval)

	entryID, err := s.cron.AddFunc(spec, func() {
		s.executeTask(checkID)
	})
	if err != nil {
		return fmt.Errorf("添加 cron 任务失败: %w", err)
	}

	s.tasks[checkID] = &CheckTask{
		ID:      checkID,
		EntryID: entryID,
	}

	s.logger.Info("添加检查任务",
		zap.String("checkId", checkID),
		zap.Int("interval", interval))

	return nil
}

// UpdateTask 更新检查任务（先删除再添加）
func (s *CheckScheduler) UpdateTask(checkID string, interval int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeTaskLocked(checkID)
	return s.addTaskLocked(checkID, interval)
}

// RemoveTask 删除检查任务
func (s *CheckScheduler) RemoveTask(checkID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeTaskLocked(checkID)
}

// removeTaskLocked 删除检查任务（需要持有锁）
func (s *CheckScheduler) removeTaskLocked(checkID string) {
	if task, exists := s.tasks[checkID]; exists {
		s.cron.Remove(task.EntryID)
		delete(s.tasks, checkID)
		s.logger.Info("删除检查任务", zap.String("checkId", checkID))
	}
}

// Reschedule 在指定延迟后重新执行一次检查（checks.Rescheduler 接口）。
// 同一检查只保留最近一次未决的重试
func (s *CheckScheduler) Reschedule(checkID string, after time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, exists := s.retries[checkID]; exists {
		timer.Stop()
	}

	s.retries[checkID] = time.AfterFunc(after, func() {
		s.mu.Lock()
		delete(s.retries, checkID)
		s.mu.Unlock()
		s.executeTask(checkID)
	})

	s.logger.Debug("已安排检查重试",
		zap.String("checkId", checkID),
		zap.Duration("after", after))
	return nil
}

// executeTask 执行任务（从数据库查询最新配置）
func (s *CheckScheduler) executeTask(checkID string) {
	if s.ctx != nil && s.ctx.Err() != nil {
		return
	}

	check, err := s.checkService.FindById(s.ctx, checkID)
	if err != nil {
		s.logger.Error("查询检查任务失败",
			zap.String("checkId", checkID),
			zap.Error(err))
		return
	}

	// 检查任务是否仍然启用
	if !check.Active {
		s.logger.Warn("检查任务已禁用，跳过执行",
			zap.String("checkId", checkID),
			zap.String("checkName", check.Name))
		return
	}

	s.logger.Debug("执行检查任务",
		zap.String("checkId", checkID),
		zap.String("checkName", check.Name),
		zap.String("type", check.Type))

	result, err := s.checkService.RunCheck(s.ctx, checkID)
	if err != nil {
		s.logger.Error("检查任务执行失败",
			zap.String("checkId", checkID),
			zap.String("checkName", check.Name),
			zap.Error(err))
		return
	}

	if result.Skipped {
		s.logger.Debug("检查任务已跳过",
			zap.String("checkId", checkID),
			zap.String("reason", result.Reason))
	}
}

// GetTaskCount 获取任务数量
func (s *CheckScheduler) GetTaskCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// GetTaskStatus 获取任务状态
func (s *CheckScheduler) GetTaskStatus() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]map[string]interface{}, 0, len(s.tasks))

	entries := s.cron.Entries()
	entryMap := make(map[cron.EntryID]cron.Entry)
	for _, entry := range entries {
		entryMap[entry.ID] = entry
	}

	for _, task := range s.tasks {
		taskInfo := map[string]interface{}{
			"id": task.ID,
		}
		if entry, exists := entryMap[task.EntryID]; exists {
			taskInfo["nextRunTime"] = entry.Next.Format(time.RFC3339)
		}
		tasks = append(tasks, taskInfo)
	}

	return map[string]interface{}{
		"totalTasks": len(s.tasks),
		"tasks":      tasks,
	}
}
