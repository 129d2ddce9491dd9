// Package engine 定义存储引擎接口
//
// 所有接口实现必须保证线程安全。事务在提交前互相隔离，
// 提交时若读集合被并发修改，返回 ErrTransactionConflict。
package engine

// Engine 存储引擎接口
type Engine interface {
	// Get 获取指定键的值，不存在时返回 ErrNotFound
	Get(key []byte) ([]byte, error)

	// Put 设置键值对
	Put(key, value []byte) error

	// Delete 删除指定键，键不存在不视为错误
	Delete(key []byte) error

	// Has 检查键是否存在
	Has(key []byte) (bool, error)

	// Scan 按键序遍历指定前缀的所有键值对，回调返回 false 时停止
	//
	// 回调收到的 key/value 在回调返回后失效，需要保留时请复制。
	Scan(prefix []byte, fn func(key, value []byte) bool) error

	// Update 在读写事务中执行 fn
	//
	// fn 返回 nil 时提交，否则丢弃。
	Update(fn func(txn Txn) error) error

	// View 在只读事务中执行 fn
	View(fn func(txn Txn) error) error

	// Start 启动后台任务
	Start() error

	// Close 关闭引擎
	Close() error
}

// Txn 事务接口
type Txn interface {
	// Get 在事务中读取值
	Get(key []byte) ([]byte, error)

	// Set 在事务中设置值
	Set(key, value []byte) error

	// Delete 在事务中删除键
	Delete(key []byte) error

	// Scan 在事务快照中遍历前缀
	Scan(prefix []byte, fn func(key, value []byte) bool) error
}
