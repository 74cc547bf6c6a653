package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dushixiang/osprey/internal/checks"
	"github.com/dushixiang/osprey/internal/models"
	"github.com/dushixiang/osprey/internal/service"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CheckHandler 检查任务处理器
type CheckHandler struct {
	logger       *zap.Logger
	checkService *service.CheckService
	scheduler    CheckScheduler
}

// CheckScheduler 调度器接口（避免循环依赖）
type CheckScheduler interface {
	AddTask(checkID string, interval int) error
	RemoveTask(checkID string)
	GetTaskStatus() map[string]interface{}
}

// NewCheckHandler 创建处理器
func NewCheckHandler(logger *zap.Logger, checkService *service.CheckService, scheduler CheckScheduler) *CheckHandler {
	return &CheckHandler{
		logger:       logger,
		checkService: checkService,
		scheduler:    scheduler,
	}
}

// Create 创建检查任务
// POST /api/checks
func (h *CheckHandler) Create(c echo.Context) error {
	var req struct {
		Name            string         `json:"name"`
		Type            string         `json:"type"`
		DeviceID        string         `json:"deviceId"`
		Params          datatypes.JSON `json:"params"`
		IntervalSeconds int            `json:"intervalSeconds"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "请求参数错误",
		})
	}

	check := &models.Check{
		Name:            req.Name,
		Type:            req.Type,
		DeviceID:        req.DeviceID,
		Params:          req.Params,
		IntervalSeconds: req.IntervalSeconds,
		Active:          true,
	}
	if err := h.checkService.Create(c.Request().Context(), check); err != nil {
		if errors.Is(err, checks.ErrUnknownType) {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
		}
		h.logger.Error("创建检查任务失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "创建检查任务失败",
		})
	}

	// 新任务立即进入调度
	if err := h.scheduler.AddTask(check.ID, check.IntervalSeconds); err != nil {
		h.logger.Error("调度检查任务失败", zap.String("checkId", check.ID), zap.Error(err))
	}

	return c.JSON(http.StatusOK, check)
}

// Run 立即执行单个检查
// POST /api/checks/:id/run
func (h *CheckHandler) Run(c echo.Context) error {
	checkID := c.Param("id")
	if checkID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "检查任务ID不能为空",
		})
	}

	result, err := h.checkService.RunCheck(c.Request().Context(), checkID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": "检查任务不存在",
			})
		}
		var validationErr *checks.ValidationError
		if errors.As(err, &validationErr) {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": validationErr.Error(),
			})
		}
		h.logger.Error("执行检查失败", zap.String("checkId", checkID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "执行检查失败",
		})
	}

	return c.JSON(http.StatusOK, result)
}

// RunAll 执行所有启用的检查
// POST /api/checks/run-all?types=ping,iperf
func (h *CheckHandler) RunAll(c echo.Context) error {
	var typeFilter []string
	if types := c.QueryParam("types"); types != "" {
		typeFilter = strings.Split(types, ",")
	}

	if err := h.checkService.RunAllActiveChecks(c.Request().Context(), typeFilter); err != nil {
		if errors.Is(err, checks.ErrUnknownType) {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
		}
		h.logger.Error("批量执行检查失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "批量执行检查失败",
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "已执行",
	})
}

// SchedulerStatus 查看调度器状态
// GET /api/checks/scheduler
func (h *CheckHandler) SchedulerStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.scheduler.GetTaskStatus())
}
