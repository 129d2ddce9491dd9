// Package certificate 管理直连 HTTPS 使用的自签名证书
//
// 证书与私钥以 PEM 形式保存在配置的目录中（cert.pem / key.pem），
// 已存在且有效时直接复用。客户端通过 SHA-256 指纹固定证书，
// 指纹格式为冒号分隔的大写十六进制，例如 "AB:CD:...".
package certificate
