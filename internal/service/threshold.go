package service

import (
	"time"

	"github.com/dushixiang/osprey/internal/models"
	"github.com/dushixiang/osprey/internal/tsdb"
)

// Transition 一次观测评估后指标健康状态的变化
type Transition int

const (
	// TransitionNone 状态不变（或评估不充分）
	TransitionNone Transition = iota
	// TransitionBecameUnhealthy 指标转为异常（需要通知）
	TransitionBecameUnhealthy
	// TransitionBecameHealthy 指标恢复健康（需要通知）
	TransitionBecameHealthy
	// TransitionFirstHealthy 首次观测即健康（不通知）
	TransitionFirstHealthy
	// TransitionFirstUnhealthy 首次观测即异常（不通知）
	TransitionFirstUnhealthy
)

// Flipped 健康状态是否发生了变化
func (t Transition) Flipped() bool {
	return t != TransitionNone
}

// First 是否为首次观测（首次观测不触发告警通知）
func (t Transition) First() bool {
	return t == TransitionFirstHealthy || t == TransitionFirstUnhealthy
}

// NewHealthy 变化后的健康状态，仅在 Flipped 时有意义
func (t Transition) NewHealthy() bool {
	return t == TransitionBecameHealthy || t == TransitionFirstHealthy
}

func (t Transition) String() string {
	switch t {
	case TransitionBecameUnhealthy:
		return "became_unhealthy"
	case TransitionBecameHealthy:
		return "became_healthy"
	case TransitionFirstHealthy:
		return "first_healthy"
	case TransitionFirstUnhealthy:
		return "first_unhealthy"
	default:
		return "no_change"
	}
}

const (
	// maxToleranceSeconds 告警容忍时间上限（7 天）
	maxToleranceSeconds = 604800

	// lookbackWindow 历史回溯窗口。观测总是携带"当前"时间戳，
	// 持续时间阈值必须通过回读有界历史来确认越界是否连续。
	// 窗口取容忍时间上限的 1.05 倍，限定单次评估的读取成本
	lookbackWindow = time.Duration(float64(maxToleranceSeconds)*1.05) * time.Second
)

// decideTransition 纯评估函数：根据告警配置、当前健康状态、新观测值
// 和一段按时间降序排列的历史数据点（不含刚写入的点），判定健康状态变化。
//
// prior 仅在 toleranceSeconds > 0 且观测携带当前时间戳时才会被使用；
// explicitTs 表示调用方显式提供了历史时间戳，此时不做历史回溯，
// 直接用该时间戳与 now - tolerance 比较
func decideTransition(settings *models.AlertSettings, healthy *bool, value float64, ts int64, explicitTs bool, prior []tsdb.Point, fieldName string, now int64) Transition {
	crossed := settings.Crossed(value)

	// 状态未变：健康且未越界，或异常且仍越界
	if !crossed && healthy != nil && *healthy {
		return TransitionNone
	}
	if crossed && healthy != nil && !*healthy {
		return TransitionNone
	}

	if !crossed {
		// 未越界：异常 -> 恢复，未知 -> 首次健康
		if healthy == nil {
			return TransitionFirstHealthy
		}
		return TransitionBecameHealthy
	}

	// 越界且当前为健康或未知：候选异常转换
	first := healthy == nil

	if settings.ToleranceSeconds == 0 {
		if first {
			return TransitionFirstUnhealthy
		}
		return TransitionBecameUnhealthy
	}

	toleranceMillis := int64(settings.ToleranceSeconds) * 1000

	if !explicitTs {
		// 回溯历史确认越界已持续：遇到未越界的点说明不连续，
		// 遇到超出容忍时间的越界点即可确认
		for _, p := range prior {
			v, ok := p.Values[fieldName]
			if !ok || !settings.Crossed(v) {
				return TransitionNone
			}
			if now-p.Timestamp > toleranceMillis {
				if first {
					return TransitionFirstUnhealthy
				}
				return TransitionBecameUnhealthy
			}
		}
	}

	// 历史不足以确认时，退化为比较观测时间戳本身
	if now-ts >= toleranceMillis {
		if first {
			return TransitionFirstUnhealthy
		}
		return TransitionBecameUnhealthy
	}
	return TransitionNone
}
