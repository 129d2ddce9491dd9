// Package pairing 实现设备配对与重连密钥交换
//
// 服务端总是响应方，每个会话生成新的 X25519 临时密钥对：
//
//	首次配对：client_pub -> server_pub，双方 ECDH + HKDF 得到会话密钥
//	兑换配对码：在加密通道内提交 {code, device_name, platform, static_key}，
//	            创建设备并返回 device_token 与 media_token
//	重连：{client_pub, device_token} -> server_pub + 新的 media_token
//
// 会话密钥派生：
//
//	prk = HKDF-Extract(SHA-256, salt="", ECDH(priv, peer_pub))
//	key = HKDF-Expand(SHA-256, prk, "mydia-session-key", 32)
//
// 设备不存在与已吊销对调用方不可区分，均返回 ErrDeviceNotFound。
package pairing
