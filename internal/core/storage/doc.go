// Package storage 提供远程访问服务的持久化存储
//
// 所有持久化数据（设备、配对码、实例身份）保存在同一个 BadgerDB 中，
// 各组件通过 kv.Store 的键前缀隔离各自的数据：
//
//	dev/    - 已配对设备
//	dtok/   - 设备令牌哈希索引
//	claim/  - 配对码
//	inst/   - 实例身份（静态密钥对）
//
// # 使用示例
//
//	eng, err := storage.New(t.TempDir())
//	devices := storage.NewKVStore(eng, []byte("dev/"))
//
// 在 Fx 应用中由 Module() 提供 engine.Engine，并在 OnStop 时关闭。
package storage
