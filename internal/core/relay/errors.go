package relay

import "errors"

var (
	// ErrConfiguration 远程访问未启用或配置不完整
	ErrConfiguration = errors.New("relay: remote access not configured")

	// ErrNotConnected 当前没有可用的中继连接
	ErrNotConnected = errors.New("relay: not connected")

	// ErrAlreadyStarted 重复启动
	ErrAlreadyStarted = errors.New("relay: manager already started")

	// ErrDeadPeer 超时未收到中继的任何消息
	ErrDeadPeer = errors.New("relay: no traffic from relay")
)
