package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dushixiang/osprey/internal/models"
	"github.com/dushixiang/osprey/internal/service"
	"github.com/go-orz/cache"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type deviceStatus struct {
	Device  models.Device   `json:"device"`
	Status  string          `json:"status"`
	Metrics []models.Metric `json:"metrics"`
}

// DeviceHandler 设备处理器
type DeviceHandler struct {
	logger        *zap.Logger
	deviceService *service.DeviceService
	statusCache   cache.Cache[string, deviceStatus]
}

// NewDeviceHandler 创建处理器
func NewDeviceHandler(logger *zap.Logger, deviceService *service.DeviceService) *DeviceHandler {
	return &DeviceHandler{
		logger:        logger,
		deviceService: deviceService,
		statusCache:   cache.New[string, deviceStatus](10 * time.Second),
	}
}

// Create 创建设备
// POST /api/devices
func (h *DeviceHandler) Create(c echo.Context) error {
	var req struct {
		OrganizationID string `json:"organizationId"`
		Name           string `json:"name"`
		MgmtAddress    string `json:"mgmtAddress"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "请求参数错误",
		})
	}

	device := &models.Device{
		OrganizationID: req.OrganizationID,
		Name:           req.Name,
		MgmtAddress:    req.MgmtAddress,
		Active:         true,
	}
	if err := h.deviceService.Create(c.Request().Context(), device); err != nil {
		h.logger.Error("创建设备失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "创建设备失败",
		})
	}
	return c.JSON(http.StatusOK, device)
}

// CreateOrganization 创建组织
// POST /api/organizations
func (h *DeviceHandler) CreateOrganization(c echo.Context) error {
	var req struct {
		Name         string         `json:"name"`
		IperfServers datatypes.JSON `json:"iperfServers"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "请求参数错误",
		})
	}

	org := &models.Organization{
		Name:         req.Name,
		IperfServers: req.IperfServers,
		Active:       true,
	}
	if err := h.deviceService.CreateOrganization(c.Request().Context(), org); err != nil {
		h.logger.Error("创建组织失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "创建组织失败",
		})
	}
	return c.JSON(http.StatusOK, org)
}

// Status 查看设备聚合健康状态及其指标
// GET /api/devices/:id/status
func (h *DeviceHandler) Status(c echo.Context) error {
	deviceID := c.Param("id")
	if deviceID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "设备ID不能为空",
		})
	}

	if status, ok := h.statusCache.Get(deviceID); ok {
		return c.JSON(http.StatusOK, status)
	}

	ctx := c.Request().Context()
	device, err := h.deviceService.FindById(ctx, deviceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": "设备不存在",
			})
		}
		h.logger.Error("查找设备失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "查找设备失败",
		})
	}

	metrics, err := h.deviceService.Metrics(ctx, deviceID)
	if err != nil {
		h.logger.Error("查找设备指标失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "查找设备指标失败",
		})
	}

	status := deviceStatus{
		Device:  device,
		Status:  device.Status,
		Metrics: metrics,
	}
	h.statusCache.Set(deviceID, status, 10*time.Second)
	return c.JSON(http.StatusOK, status)
}

// AlertRecords 查看设备告警记录
// GET /api/devices/:id/alerts?limit=50
func (h *DeviceHandler) AlertRecords(c echo.Context) error {
	deviceID := c.Param("id")
	if deviceID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "设备ID不能为空",
		})
	}

	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := h.deviceService.AlertRecords(c.Request().Context(), deviceID, limit)
	if err != nil {
		h.logger.Error("查找告警记录失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "查找告警记录失败",
		})
	}
	return c.JSON(http.StatusOK, records)
}
