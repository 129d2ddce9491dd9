// Package relay 维护到中继的单条持久 WebSocket 连接
//
// 连接建立后发送 register{instance_id, public_key, direct_urls}，
// 之后每个心跳周期发送一次 ping。入站事件：
//
//	connection{session_id, client_public_key, client_ip}  创建隧道会话
//	relay_message{session_id, payload}                    按 session_id 投递给会话
//	pong                                                  忽略
//	error                                                 记录日志
//
// 同一 session_id 同时只存在一个会话，重复的 connection 事件被丢弃。
// 连接断开时关闭所有会话，按指数退避重连（1s 起，翻倍，上限 60s，
// 连接成功后重置）。远程访问未启用或未配置时 Start 直接返回
// ErrConfiguration，不进入重连。
package relay
