package tsdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// 保留策略元数据桶
var metaBucket = []byte("_retention")

// BoltStore 基于 bbolt 的嵌入式时序存储
// 每个序列一个桶，桶内 key 为 8 字节大端时间戳 + 4 字节序列号（同毫秒多点）
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore 打开（或创建）嵌入式时序数据库
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: 打开数据库: %v", ErrStorage, err)
	}
	return &BoltStore{db: db}, nil
}

// Close 关闭数据库
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Write 写入一个数据点
func (s *BoltStore) Write(ctx context.Context, key string, fields map[string]float64, tags map[string]string, timestamp int64, retentionPolicy string) error {
	value, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: 编码数据点: %v", ErrStorage, err)
	}

	sk := []byte(seriesKey(key, tags))
	err = s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(sk)
		if err != nil {
			return err
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}

		k := make([]byte, 12)
		binary.BigEndian.PutUint64(k[:8], uint64(timestamp))
		binary.BigEndian.PutUint32(k[8:], uint32(seq))
		if err := bucket.Put(k, value); err != nil {
			return err
		}

		// 记录序列的保留策略，供 Prune 使用
		if retentionPolicy != "" {
			meta, err := tx.CreateBucketIfNotExists(metaBucket)
			if err != nil {
				return err
			}
			return meta.Put(sk, []byte(retentionPolicy))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: 写入数据点: %v", ErrStorage, err)
	}
	return nil
}

// Read 读取数据点
func (s *BoltStore) Read(ctx context.Context, key string, fields []string, tags map[string]string, since int64, limit int, orderDesc bool) ([]Point, error) {
	var result []Point

	sinceKey := make([]byte, 8)
	binary.BigEndian.PutUint64(sinceKey, uint64(since))

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(seriesKey(key, tags)))
		if bucket == nil {
			return nil
		}

		c := bucket.Cursor()
		appendPoint := func(k, v []byte) error {
			var values map[string]float64
			if err := json.Unmarshal(v, &values); err != nil {
				return err
			}
			p := Point{Timestamp: int64(binary.BigEndian.Uint64(k[:8])), Values: values}
			result = append(result, filterFields(p, fields))
			return nil
		}

		if orderDesc {
			for k, v := c.Last(); k != nil; k, v = c.Prev() {
				if int64(binary.BigEndian.Uint64(k[:8])) < since {
					break
				}
				if err := appendPoint(k, v); err != nil {
					return err
				}
				if limit > 0 && len(result) >= limit {
					break
				}
			}
		} else {
			for k, v := c.Seek(sinceKey); k != nil; k, v = c.Next() {
				if err := appendPoint(k, v); err != nil {
					return err
				}
				if limit > 0 && len(result) >= limit {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: 读取数据点: %v", ErrStorage, err)
	}
	return result, nil
}

// Prune 删除过期数据点。retention 为保留策略名 -> 保留时长，
// 未记录保留策略的序列使用 defaultAge
func (s *BoltStore) Prune(ctx context.Context, retention map[string]time.Duration, defaultAge time.Duration, now int64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metaBucket)

		return tx.ForEach(func(name []byte, bucket *bolt.Bucket) error {
			if string(name) == string(metaBucket) {
				return nil
			}

			age := defaultAge
			if meta != nil {
				if rp := meta.Get(name); rp != nil {
					if d, ok := retention[string(rp)]; ok {
						age = d
					}
				}
			}
			if age <= 0 {
				return nil
			}

			cutoff := now - age.Milliseconds()
			c := bucket.Cursor()
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				if int64(binary.BigEndian.Uint64(k[:8])) >= cutoff {
					break
				}
				if err := c.Delete(); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("%w: 清理过期数据: %v", ErrStorage, err)
	}
	return nil
}
