package checks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dushixiang/osprey/internal/models"
)

// TypeConfigApplied 配置下发状态检查类型标识
const TypeConfigApplied = "config_applied"

func init() {
	Register(TypeConfigApplied, NewConfigAppliedCheck)
}

// ConfigAppliedParams 配置下发状态检查参数
type ConfigAppliedParams struct {
	// ToleranceSeconds 配置处于未应用状态多久后才告警，默认 300
	ToleranceSeconds uint `json:"toleranceSeconds" validate:"omitempty,max=604800"`
}

// ConfigAppliedCheck 检查设备配置是否已应用：
// 配置长时间停留在 modified/error 状态说明下发失败
type ConfigAppliedCheck struct {
	deps   Deps
	check  models.Check
	params ConfigAppliedParams
}

func NewConfigAppliedCheck(deps Deps, check models.Check) (Check, error) {
	c := &ConfigAppliedCheck{deps: deps, check: check}
	if len(check.Params) > 0 {
		if err := json.Unmarshal(check.Params, &c.params); err != nil {
			return nil, &ValidationError{CheckType: TypeConfigApplied, Err: err}
		}
	}
	return c, nil
}

func (c *ConfigAppliedCheck) Validate() error {
	if err := validate.Struct(&c.params); err != nil {
		return &ValidationError{CheckType: TypeConfigApplied, Err: err}
	}
	if c.check.DeviceID == "" {
		return &ValidationError{CheckType: TypeConfigApplied, Err: fmt.Errorf("缺少目标设备")}
	}
	return nil
}

func (c *ConfigAppliedCheck) Run(ctx context.Context) (*Result, error) {
	device, err := c.deps.Devices.FindDevice(ctx, c.check.DeviceID)
	if err != nil {
		return nil, err
	}

	// 设备从未上报过配置状态时无从判断，跳过
	if device.ConfigStatus == "" {
		return &Result{Skipped: true, Reason: "设备尚未上报配置状态"}, nil
	}

	applied := float64(0)
	if device.ConfigStatus == "applied" {
		applied = 1
	}

	tolerance := c.params.ToleranceSeconds
	if tolerance == 0 {
		tolerance = 300
	}

	return &Result{Observations: []Observation{{
		Key:       "config_applied",
		FieldName: "config_applied",
		Name:      "config applied",
		Value:     applied,
		Alert: &AlertTemplate{
			Operator:         models.OperatorLessThan,
			ThresholdValue:   1,
			ToleranceSeconds: tolerance,
		},
	}}}, nil
}

func (c *ConfigAppliedCheck) Store(ctx context.Context, result *Result) error {
	return storeObservations(ctx, c.deps.Writer, SubjectTypeDevice, c.check.DeviceID, result)
}
