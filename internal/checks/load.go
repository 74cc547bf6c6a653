package checks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dushixiang/osprey/internal/models"
	"github.com/shirou/gopsutil/v4/cpu"
)

// TypeLoad 负载检查类型标识
const TypeLoad = "load"

func init() {
	Register(TypeLoad, NewLoadCheck)
}

// LoadParams 负载检查参数
type LoadParams struct {
	Threshold        float64 `json:"threshold" validate:"omitempty,min=1,max=100"` // 告警阈值（百分比），默认 90
	ToleranceSeconds uint    `json:"toleranceSeconds" validate:"omitempty,max=604800"` // 持续时间容忍（秒）
}

// LoadCheck 采样本机 CPU 负载并写入 load 指标。
// 未绑定设备时作为通用指标记录（监控主机自身）
type LoadCheck struct {
	deps   Deps
	check  models.Check
	params LoadParams

	// 采样函数，测试时注入假实现
	sample func(ctx context.Context) (float64, error)
}

func NewLoadCheck(deps Deps, check models.Check) (Check, error) {
	c := &LoadCheck{
		deps:  deps,
		check: check,
		sample: func(ctx context.Context) (float64, error) {
			percents, err := cpu.PercentWithContext(ctx, time.Second, false)
			if err != nil {
				return 0, err
			}
			if len(percents) == 0 {
				return 0, nil
			}
			return percents[0], nil
		},
	}
	if len(check.Params) > 0 {
		if err := json.Unmarshal(check.Params, &c.params); err != nil {
			return nil, &ValidationError{CheckType: TypeLoad, Err: err}
		}
	}
	return c, nil
}

func (c *LoadCheck) Validate() error {
	if err := validate.Struct(&c.params); err != nil {
		return &ValidationError{CheckType: TypeLoad, Err: err}
	}
	return nil
}

func (c *LoadCheck) Run(ctx context.Context) (*Result, error) {
	value, err := c.sample(ctx)
	if err != nil {
		return nil, err
	}

	threshold := c.params.Threshold
	if threshold == 0 {
		threshold = 90
	}

	return &Result{Observations: []Observation{{
		Key:       "load",
		FieldName: "load",
		Name:      "load",
		Value:     value,
		Alert: &AlertTemplate{
			Operator:         models.OperatorGreaterThan,
			ThresholdValue:   threshold,
			ToleranceSeconds: c.params.ToleranceSeconds,
		},
	}}}, nil
}

func (c *LoadCheck) Store(ctx context.Context, result *Result) error {
	subjectType, subjectID := "", ""
	if c.check.DeviceID != "" {
		subjectType, subjectID = SubjectTypeDevice, c.check.DeviceID
	}
	return storeObservations(ctx, c.deps.Writer, subjectType, subjectID, result)
}
