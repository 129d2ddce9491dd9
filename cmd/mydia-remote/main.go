// Package main 提供 mydia-remote 命令行入口
//
// 使用方法:
//
//	mydia-remote [-config file] [-data-dir dir] <command> [flags]
//
// 命令:
//
//	serve               连接中继并提供远程访问
//	claim -user ID      为用户生成一次性配对码
//	devices [-all]      列出已配对设备
//	revoke -device ID   吊销设备
//	stun                通过 STUN 探测公网地址
//	version             显示版本信息
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	remoteaccess "github.com/mydia/go-remoteaccess"
	"github.com/mydia/go-remoteaccess/config"
	"github.com/mydia/go-remoteaccess/internal/core/nat/stun"
	"github.com/mydia/go-remoteaccess/internal/util/logger"
)

var log = logger.Logger("cmd")

// shutdownTimeout 优雅关闭的最长等待时间
const shutdownTimeout = 15 * time.Second

// errUsage 参数错误，已打印用法
var errUsage = errors.New("invalid usage")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Getenv); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		}
		os.Exit(exitCode(err))
	}
}

// exitCode 按错误分类返回退出码
func exitCode(err error) int {
	switch {
	case errors.Is(err, errUsage):
		return 2
	case remoteaccess.Category(err) == remoteaccess.ErrConfiguration:
		return 78
	default:
		return 1
	}
}

func run(args []string, stdout io.Writer, getenv func(string) string) error {
	global := flag.NewFlagSet("mydia-remote", flag.ContinueOnError)
	global.SetOutput(stdout)
	configFile := global.String("config", "", "配置文件路径（也可使用 MYDIA_CONFIG）")
	dataDir := global.String("data-dir", "", "数据目录（默认: ./data）")
	global.Usage = func() { printUsage(stdout, global) }
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return errUsage
	}

	rest := global.Args()
	if len(rest) == 0 {
		printUsage(stdout, global)
		return errUsage
	}
	cmd, cmdArgs := rest[0], rest[1:]
	if cmd == "version" {
		fmt.Fprintln(stdout, remoteaccess.VersionInfo())
		return nil
	}

	cfg, err := loadConfig(*configFile, getenv)
	if err != nil {
		return err
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}

	logFile, err := setupLogging(cfg.Log)
	if err != nil {
		fmt.Fprintf(stdout, "警告: %v，继续使用控制台输出日志\n", err)
	}
	if logFile != nil {
		defer func() { _ = logFile.Close() }()
	}

	switch cmd {
	case "serve":
		return cmdServe(cfg, cmdArgs, stdout)
	case "claim":
		return cmdClaim(cfg, cmdArgs, stdout)
	case "devices":
		return cmdDevices(cfg, cmdArgs, stdout)
	case "revoke":
		return cmdRevoke(cfg, cmdArgs, stdout)
	case "stun":
		return cmdSTUN(cfg, cmdArgs, stdout)
	default:
		fmt.Fprintf(stdout, "未知命令: %s\n\n", cmd)
		printUsage(stdout, global)
		return errUsage
	}
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "用法: mydia-remote [全局参数] <命令> [参数]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "命令:")
	fmt.Fprintln(w, "  serve               连接中继并提供远程访问")
	fmt.Fprintln(w, "  claim -user ID      为用户生成一次性配对码")
	fmt.Fprintln(w, "  devices [-all]      列出已配对设备")
	fmt.Fprintln(w, "  revoke -device ID   吊销设备")
	fmt.Fprintln(w, "  stun                通过 STUN 探测公网地址")
	fmt.Fprintln(w, "  version             显示版本信息")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "全局参数:")
	fs.PrintDefaults()
}

// ═══════════════════════════════════════════════════════════════════════════
// serve
// ═══════════════════════════════════════════════════════════════════════════

func cmdServe(cfg *config.Config, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stdout)
	relayURL := fs.String("relay", "", "中继地址（覆盖配置）")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *relayURL != "" {
		cfg.Relay.URL = *relayURL
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(stdout, "%s\n", remoteaccess.VersionInfo())
	log.Info("启动远程访问服务", "version", remoteaccess.Version, "commit", remoteaccess.GitCommit)

	app, err := remoteaccess.New(cfg)
	if err != nil {
		return err
	}
	startCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}

	if inst, err := app.Instance(ctx); err == nil {
		fmt.Fprintf(stdout, "实例 ID:   %s\n", inst.InstanceID)
		if inst.CertFingerprint != "" {
			fmt.Fprintf(stdout, "证书指纹:  %s\n", inst.CertFingerprint)
		}
	}
	fmt.Fprintf(stdout, "中继地址:  %s\n", cfg.Relay.URL)
	for _, u := range app.DirectURLs() {
		fmt.Fprintf(stdout, "直连地址:  %s\n", u)
	}
	fmt.Fprintln(stdout, "服务已启动，按 Ctrl+C 退出")

	select {
	case <-ctx.Done():
	case <-app.Done():
	}

	fmt.Fprintln(stdout, "\n正在关闭...")
	stopCtx, cancelStop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelStop()
	return app.Stop(stopCtx)
}

// ═══════════════════════════════════════════════════════════════════════════
// 管理命令
// ═══════════════════════════════════════════════════════════════════════════

func cmdClaim(cfg *config.Config, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("claim", flag.ContinueOnError)
	fs.SetOutput(stdout)
	userID := fs.String("user", "", "用户 ID（必需）")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *userID == "" {
		fmt.Fprintln(stdout, "claim 需要 -user 参数")
		fs.PrintDefaults()
		return errUsage
	}

	return withAdmin(cfg, func(ctx context.Context, admin *remoteaccess.Admin) error {
		claim, err := admin.CreateClaim(ctx, *userID)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "配对码:   %s\n", claim.Code)
		fmt.Fprintf(stdout, "过期时间: %s\n", claim.ExpiresAt.Local().Format(time.DateTime))
		return nil
	})
}

func cmdDevices(cfg *config.Config, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("devices", flag.ContinueOnError)
	fs.SetOutput(stdout)
	all := fs.Bool("all", false, "包含已吊销的设备")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	return withAdmin(cfg, func(ctx context.Context, admin *remoteaccess.Admin) error {
		devices, err := admin.ListDevices(ctx, *all)
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Fprintln(stdout, "没有已配对的设备")
			return nil
		}

		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tUSER\tNAME\tPLATFORM\tLAST SEEN\tSTATUS")
		for _, d := range devices {
			status := "active"
			if d.Revoked() {
				status = "revoked"
			}
			lastSeen := "-"
			if !d.LastSeenAt.IsZero() {
				lastSeen = d.LastSeenAt.Local().Format(time.DateTime)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				d.ID, d.UserID, d.DeviceName, d.Platform, lastSeen, status)
		}
		return tw.Flush()
	})
}

func cmdRevoke(cfg *config.Config, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("revoke", flag.ContinueOnError)
	fs.SetOutput(stdout)
	deviceID := fs.String("device", "", "设备 ID（必需）")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *deviceID == "" {
		fmt.Fprintln(stdout, "revoke 需要 -device 参数")
		fs.PrintDefaults()
		return errUsage
	}

	return withAdmin(cfg, func(ctx context.Context, admin *remoteaccess.Admin) error {
		if err := admin.RevokeDevice(ctx, *deviceID); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "设备 %s 已吊销\n", *deviceID)
		return nil
	})
}

// withAdmin 打开存储执行 fn，结束后关闭
func withAdmin(cfg *config.Config, fn func(ctx context.Context, admin *remoteaccess.Admin) error) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	admin, err := remoteaccess.NewAdmin(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := admin.Close(closeCtx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, admin)
}

// ═══════════════════════════════════════════════════════════════════════════
// stun
// ═══════════════════════════════════════════════════════════════════════════

func cmdSTUN(cfg *config.Config, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("stun", flag.ContinueOnError)
	fs.SetOutput(stdout)
	server := fs.String("server", "", "只查询指定服务器（host:port）")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	servers := cfg.NAT.STUNServers
	if *server != "" {
		servers = []string{*server}
	}
	client := stun.NewClient(servers, cfg.NAT.STUNTimeout.Duration())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := client.Discover(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "公网地址: %s\n", result.String())
	fmt.Fprintf(stdout, "服务器:   %s\n", result.Server)
	return nil
}
