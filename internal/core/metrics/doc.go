// Package metrics 提供远程访问服务的 Prometheus 指标
//
// 指标分为三组：
//   - 配对：配对码限流次数、握手失败次数
//   - 会话：活跃会话数、代理请求耗时
//   - 中继：连接状态、重连次数、收发字节
//
// 所有方法对 nil *Metrics 安全，未启用指标时组件可直接传 nil。
//
// 启用 MetricsConfig.Enabled 后，Server 在 ListenAddr 上暴露 /metrics。
package metrics
