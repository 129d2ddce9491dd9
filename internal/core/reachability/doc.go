// Package reachability 发现本实例的公网直连地址
//
// Coordinator 通过 STUN 获取公网 IPv4，与配置的协议和端口组合成直连地址，
// 合并静态配置的地址后持久化到实例记录，并在地址变化时回调
// （通常是中继管理器的 update_urls 通知）。
//
// 探测失败时保留上一次的结果，不会撤回已通告的地址。
package reachability
