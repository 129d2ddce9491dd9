// Package badger 提供基于 BadgerDB 的存储引擎实现
//
// # 使用示例
//
//	cfg := engine.DefaultConfig("/data/remote.db")
//	db, err := badger.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	err = db.Update(func(txn engine.Txn) error {
//	    return txn.Set([]byte("key"), []byte("value"))
//	})
package badger
