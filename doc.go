// Package remoteaccess 组装 Mydia 远程访问隧道服务
//
// 服务通过出站 WebSocket 连接到中继，为远端客户端建立端到端加密的隧道会话：
// 配对（一次性配对码 + X25519 密钥交换）、已配对设备重连、
// 以及把加密请求代理到本地 Mydia HTTP API。
//
// 快速开始：
//
//	cfg := config.NewConfig()
//	cfg.RemoteAccess.Enabled = true
//	cfg.RemoteAccess.SecretKeyBase = os.Getenv("SECRET_KEY_BASE")
//	cfg.Relay.URL = "wss://relay.example.com/relay/tunnel"
//
//	app, err := remoteaccess.New(cfg)
//	if err != nil {
//	    return err
//	}
//	if err := app.Start(ctx); err != nil {
//	    return err
//	}
//	defer app.Stop(context.Background())
//
// 管理操作（生成配对码、列出和吊销设备）不需要中继连接，使用 NewAdmin：
//
//	admin, err := remoteaccess.NewAdmin(cfg)
//	claim, err := admin.CreateClaim(ctx, "user-1")
//
// 错误分类见 errors.go，使用 errors.Is(Category(err), ErrConfiguration) 判断。
package remoteaccess
