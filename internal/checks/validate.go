package checks

import "github.com/go-playground/validator/v10"

// SubjectTypeDevice 设备类型的归属对象
const SubjectTypeDevice = "device"

// 所有检查类型共享一个校验器实例
var validate = validator.New()
