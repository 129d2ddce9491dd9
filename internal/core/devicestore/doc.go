// Package devicestore 持久化已配对设备、配对码和实例身份
//
// 数据保存在 storage 提供的 BadgerDB 中，键空间：
//
//	dev/<device_id>        设备记录（JSON）
//	dtok/<token_hash>      设备令牌哈希 -> device_id
//	dpk/<hex(public_key)>  设备静态公钥 -> device_id（唯一索引）
//	claim/<code>           配对码
//	inst/self              实例身份（私钥加密保存）
//
// 已吊销的设备对所有查询方法都表现为 ErrNotFound，
// 调用方无法区分"不存在"与"已吊销"。
package devicestore
