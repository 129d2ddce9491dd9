// Package stun 提供 STUN 协议客户端实现
//
// 通过 RFC 5389 Binding Request 发现本机的公网 IPv4 地址，
// 供直连地址探测使用：
//   - 按优先级依次查询服务器，首个成功即返回
//   - 每个服务器单独超时（默认 2 秒）
//   - 优先使用 XOR-MAPPED-ADDRESS，其次 MAPPED-ADDRESS
//   - IPv6 映射地址返回 ErrIPv6Unsupported
//
// 所有服务器都失败时返回 ErrAllServersFailed，
// 其中聚合了每个服务器的失败原因。
package stun
