// Package token 签发和校验媒体访问令牌
//
// 媒体令牌是 HS256 签名的 JWT，载荷包含设备、用户和权限列表，
// 客户端在访问单个媒体资源时携带。校验时除签名与有效期外，
// 还会回查设备，设备不存在或已吊销的令牌一律拒绝。
package token
