package tsdb

import (
	"context"
	"sync"
)

// MemoryStore 内存时序存储（用于测试和单机部署）
type MemoryStore struct {
	mu     sync.RWMutex
	series map[string][]Point // seriesKey -> 按时间升序的数据点
}

// NewMemoryStore 创建内存时序存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		series: make(map[string][]Point),
	}
}

// Write 写入一个数据点
func (s *MemoryStore) Write(ctx context.Context, key string, fields map[string]float64, tags map[string]string, timestamp int64, retentionPolicy string) error {
	values := make(map[string]float64, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	point := Point{Timestamp: timestamp, Values: values}

	s.mu.Lock()
	defer s.mu.Unlock()

	sk := seriesKey(key, tags)
	points := s.series[sk]

	// 观测点几乎总是追加在末尾，乱序写入时向前找插入位置
	i := len(points)
	for i > 0 && points[i-1].Timestamp > timestamp {
		i--
	}
	points = append(points, Point{})
	copy(points[i+1:], points[i:])
	points[i] = point
	s.series[sk] = points
	return nil
}

// Read 读取数据点
func (s *MemoryStore) Read(ctx context.Context, key string, fields []string, tags map[string]string, since int64, limit int, orderDesc bool) ([]Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points := s.series[seriesKey(key, tags)]

	var result []Point
	if orderDesc {
		for i := len(points) - 1; i >= 0; i-- {
			if points[i].Timestamp < since {
				break
			}
			result = append(result, filterFields(points[i], fields))
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	} else {
		for _, p := range points {
			if p.Timestamp < since {
				continue
			}
			result = append(result, filterFields(p, fields))
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}
