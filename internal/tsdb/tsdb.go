package tsdb

import (
	"context"
	"errors"
)

// ErrStorage 时序存储读写失败（调用方必须失败关闭，不得据此翻转健康状态）
var ErrStorage = errors.New("时序存储访问失败")

// Point 单个时序数据点
type Point struct {
	Timestamp int64              `json:"timestamp"` // 毫秒时间戳
	Values    map[string]float64 `json:"values"`    // 字段名 -> 值
}

// Store 时序存储接口（外部协作方，引擎只消费此契约）
type Store interface {
	// Write 写入一个数据点，retentionPolicy 为空表示默认保留策略
	Write(ctx context.Context, key string, fields map[string]float64, tags map[string]string, timestamp int64, retentionPolicy string) error

	// Read 按时间读取数据点。fields 为空表示返回全部字段；
	// since 为毫秒时间戳下界（0 表示不限）；orderDesc 为 true 时按时间降序返回
	Read(ctx context.Context, key string, fields []string, tags map[string]string, since int64, limit int, orderDesc bool) ([]Point, error)
}

// seriesKey 根据 key 和 tags 生成序列标识
func seriesKey(key string, tags map[string]string) string {
	if len(tags) == 0 {
		return key
	}
	// tags 数量很少（通常只有 subject），直接按固定顺序拼接
	s := key
	for _, k := range sortedTagKeys(tags) {
		s += "," + k + "=" + tags[k]
	}
	return s
}

func sortedTagKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	// 插入排序，tag 数量极少
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// filterFields 只保留请求的字段，fields 为空时原样返回
func filterFields(p Point, fields []string) Point {
	if len(fields) == 0 {
		return p
	}
	values := make(map[string]float64, len(fields))
	for _, f := range fields {
		if v, ok := p.Values[f]; ok {
			values[f] = v
		}
	}
	return Point{Timestamp: p.Timestamp, Values: values}
}
