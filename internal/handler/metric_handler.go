package handler

import (
	"errors"
	"net/http"

	"github.com/dushixiang/osprey/internal/service"
	"github.com/dushixiang/osprey/internal/tsdb"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// MetricHandler 指标处理器
type MetricHandler struct {
	logger        *zap.Logger
	metricService *service.MetricService
}

// NewMetricHandler 创建处理器
func NewMetricHandler(logger *zap.Logger, metricService *service.MetricService) *MetricHandler {
	return &MetricHandler{
		logger:        logger,
		metricService: metricService,
	}
}

// RecordObservation 写入观测值并返回健康状态变化
// POST /api/metrics/observations
func (h *MetricHandler) RecordObservation(c echo.Context) error {
	var req struct {
		Key         string             `json:"key"`
		FieldName   string             `json:"fieldName"`
		SubjectType string             `json:"subjectType"`
		SubjectID   string             `json:"subjectId"`
		Value       float64            `json:"value"`
		ExtraFields map[string]float64 `json:"extraFields"`
		Timestamp   int64              `json:"timestamp"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "请求参数错误",
		})
	}
	if req.Key == "" || req.FieldName == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "key 和 fieldName 不能为空",
		})
	}

	transition, err := h.metricService.RecordObservation(c.Request().Context(), service.WriteRequest{
		Identity: service.MetricIdentity{
			Key:         req.Key,
			FieldName:   req.FieldName,
			SubjectType: req.SubjectType,
			SubjectID:   req.SubjectID,
		},
		Value:       req.Value,
		ExtraFields: req.ExtraFields,
		Timestamp:   req.Timestamp,
	})
	if err != nil {
		// 存储错误原样上抛，由调用方决定是否重试
		if errors.Is(err, tsdb.ErrStorage) {
			h.logger.Error("时序存储访问失败", zap.Error(err))
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"error": "时序存储暂时不可用，请重试",
			})
		}
		h.logger.Error("写入观测值失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "写入观测值失败",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"transition": transition.String(),
	})
}
