// Package tunnel 实现经中继转发的隧道会话
//
// 每个会话由一个 goroutine 独占状态，入站消息通过 inbox 通道投递：
//
//	AwaitingHandshake --pairing_handshake / key_exchange--> Authenticated --close/空闲--> Closed
//
// 握手完成前所有信封都是明文 JSON；完成后双向都必须是密文，
// 握手后收到的明文消息按损坏处理。握手类消息（pairing_handshake、
// key_exchange_complete、handshake_complete）始终明文发送。
//
// 只完成 pairing_handshake、尚未兑换配对码的会话处于 Authenticated
// 但没有绑定设备，此时 request 一律返回 401。
//
// 会话内部错误只以 message_processing_failed 告知对端，细节只写日志。
package tunnel
