// Package kv 提供带前缀隔离的 KV 存储抽象层
//
// Store 在底层存储引擎之上提供命名空间隔离，
// 每个组件使用不同的前缀来隔离数据：
//
//	devices := kv.New(engine, []byte("dev/"))
//	devices.PutJSON([]byte(id), device)   // 实际键: dev/<id>
package kv

import (
	"encoding/json"

	"github.com/mydia/go-remoteaccess/internal/core/storage/engine"
)

// Store 带前缀隔离的 KV 存储
type Store struct {
	engine engine.Engine
	prefix []byte
}

// New 创建新的 KVStore
func New(eng engine.Engine, prefix []byte) *Store {
	return &Store{
		engine: eng,
		prefix: prefix,
	}
}

// prefixKey 为键添加前缀
func (s *Store) prefixKey(key []byte) []byte {
	if len(s.prefix) == 0 {
		return key
	}
	prefixed := make([]byte, len(s.prefix)+len(key))
	copy(prefixed, s.prefix)
	copy(prefixed[len(s.prefix):], key)
	return prefixed
}

// stripPrefix 从键中移除前缀
func (s *Store) stripPrefix(key []byte) []byte {
	if len(s.prefix) == 0 || len(key) < len(s.prefix) {
		return key
	}
	return key[len(s.prefix):]
}

// Get 获取指定键的值
func (s *Store) Get(key []byte) ([]byte, error) {
	return s.engine.Get(s.prefixKey(key))
}

// Put 设置键值对
func (s *Store) Put(key, value []byte) error {
	return s.engine.Put(s.prefixKey(key), value)
}

// Delete 删除指定键
func (s *Store) Delete(key []byte) error {
	return s.engine.Delete(s.prefixKey(key))
}

// Has 检查键是否存在
func (s *Store) Has(key []byte) (bool, error) {
	return s.engine.Has(s.prefixKey(key))
}

// GetJSON 获取并反序列化 JSON 值
func (s *Store) GetJSON(key []byte, v interface{}) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// PutJSON 序列化并存储 JSON 值
func (s *Store) PutJSON(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Put(key, data)
}

// PrefixScan 扫描指定前缀的所有键值对
//
// 回调函数返回 false 时停止扫描。
// 返回的 key 已去除 Store 的前缀，但保留 subPrefix。
func (s *Store) PrefixScan(subPrefix []byte, fn func(key, value []byte) bool) error {
	return s.engine.Scan(s.prefixKey(subPrefix), func(key, value []byte) bool {
		return fn(s.stripPrefix(key), value)
	})
}

// Count 统计指定前缀的键数量
func (s *Store) Count(subPrefix []byte) (int64, error) {
	var count int64
	err := s.PrefixScan(subPrefix, func(_, _ []byte) bool {
		count++
		return true
	})
	return count, err
}

// Update 在读写事务中执行 fn，事务内的键自动带前缀
func (s *Store) Update(fn func(tx *Tx) error) error {
	return s.engine.Update(func(txn engine.Txn) error {
		return fn(&Tx{store: s, txn: txn})
	})
}

// View 在只读事务中执行 fn
func (s *Store) View(fn func(tx *Tx) error) error {
	return s.engine.View(func(txn engine.Txn) error {
		return fn(&Tx{store: s, txn: txn})
	})
}

// SubStore 创建子存储（在当前前缀基础上添加子前缀）
//
// 子存储与父存储共享底层引擎，因此可以在一个事务内
// 通过 Tx.In 同时操作多个子存储。
func (s *Store) SubStore(subPrefix []byte) *Store {
	return &Store{
		engine: s.engine,
		prefix: s.prefixKey(subPrefix),
	}
}

// Prefix 返回当前 Store 的前缀
func (s *Store) Prefix() []byte {
	return s.prefix
}

// Tx 带前缀的事务
type Tx struct {
	store *Store
	txn   engine.Txn
}

// In 返回共享同一底层事务、但使用另一个 Store 前缀的视图
func (t *Tx) In(other *Store) *Tx {
	return &Tx{store: other, txn: t.txn}
}

// Get 在事务中获取值
func (t *Tx) Get(key []byte) ([]byte, error) {
	return t.txn.Get(t.store.prefixKey(key))
}

// Set 在事务中设置值
func (t *Tx) Set(key, value []byte) error {
	return t.txn.Set(t.store.prefixKey(key), value)
}

// Delete 在事务中删除键
func (t *Tx) Delete(key []byte) error {
	return t.txn.Delete(t.store.prefixKey(key))
}

// GetJSON 在事务中获取并反序列化 JSON
func (t *Tx) GetJSON(key []byte, v interface{}) error {
	data, err := t.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// SetJSON 在事务中序列化并存储 JSON
func (t *Tx) SetJSON(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.Set(key, data)
}

// PrefixScan 在事务快照中扫描
func (t *Tx) PrefixScan(subPrefix []byte, fn func(key, value []byte) bool) error {
	return t.txn.Scan(t.store.prefixKey(subPrefix), func(key, value []byte) bool {
		return fn(t.store.stripPrefix(key), value)
	})
}
