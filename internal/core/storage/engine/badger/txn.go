package badger

import (
	"github.com/dgraph-io/badger/v4"

	"github.com/mydia/go-remoteaccess/internal/core/storage/engine"
)

// Transaction BadgerDB 事务实现
//
// 生命周期由 Engine.Update/View 管理，不能在回调之外使用。
type Transaction struct {
	txn      *badger.Txn
	writable bool
}

var _ engine.Txn = (*Transaction)(nil)

// Get 在事务中读取值
func (t *Transaction) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, engine.ErrEmptyKey
	}
	item, err := t.txn.Get(key)
	if err != nil {
		return nil, convertError(err)
	}
	return item.ValueCopy(nil)
}

// Set 在事务中设置值
func (t *Transaction) Set(key, value []byte) error {
	if !t.writable {
		return engine.ErrReadOnly
	}
	if len(key) == 0 {
		return engine.ErrEmptyKey
	}
	return convertError(t.txn.Set(key, value))
}

// Delete 在事务中删除键
func (t *Transaction) Delete(key []byte) error {
	if !t.writable {
		return engine.ErrReadOnly
	}
	if len(key) == 0 {
		return engine.ErrEmptyKey
	}
	return convertError(t.txn.Delete(key))
}

// Scan 在事务快照中遍历前缀
func (t *Transaction) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if !fn(item.KeyCopy(nil), value) {
			break
		}
	}
	return nil
}
