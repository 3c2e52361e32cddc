package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"voice-gateway/config"
	"voice-gateway/handle"
	"voice-gateway/log"
	"voice-gateway/metrics"
	"voice-gateway/server"
	"voice-gateway/session"
	"voice-gateway/store"
	"voice-gateway/utils"
	ws "voice-gateway/websocket"

	"github.com/spf13/cobra"
)

// 构建时通过 -ldflags 注入
var (
	Version   = "dev"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:          "voice-gateway",
	Short:        "实时语音助手WebSocket网关",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "打印版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("voice-gateway %s (commit: %s, go: %s)\n", Version, GitCommit, runtime.Version())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动网关",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 默认配置文件为当前目录下的config.yaml
		configPath, _ := cmd.Flags().GetString("config")
		return serve(configPath)
	},
}

func init() {
	serveCmd.Flags().StringP("config", "c", "config.yaml", "配置文件路径")
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func serve(configPath string) error {
	// 加载配置文件
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("加载配置文件失败: %w", err)
	}

	// 初始化日志系统
	if err := log.Init(&cfg.Log); err != nil {
		return fmt.Errorf("初始化日志系统失败: %w", err)
	}

	log.Infof("正在启动voice-gateway %s...", Version)
	log.Infof("已加载配置文件: %s", configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 旧版Python服务只在配置了 http provider 时需要
	if cfg.UsesPythonAPI() {
		if err := server.WaitForPythonAPI(ctx, cfg); err != nil {
			return fmt.Errorf("初始化Python API失败: %w", err)
		}
	}

	// 初始化语音组件
	services, err := utils.Init(cfg)
	if err != nil {
		return fmt.Errorf("初始化语音组件失败: %w", err)
	}

	m := metrics.NewMetrics("")
	registry := session.NewRegistry(m)
	registry.StartReaper(ctx, cfg.WebSocket.GetCloseTimeout())

	deps := &ws.Dependencies{
		Config:      cfg,
		Registry:    registry,
		Metrics:     m,
		NewVAD:      services.NewVAD,
		NewDecoder:  services.NewDecoder,
		Transcriber: services.Transcriber,
		Responder:   services.Responder,
		Synthesizer: services.Synthesizer,
	}

	// 未配置路径时 Recorder 与 history 保持为nil
	var history server.HistoryReader
	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("打开对话记录库失败: %w", err)
		}
		defer st.Close()
		deps.Recorder = st
		history = st
		log.Infof("对话记录保存到 %s", cfg.Store.Path)
	}

	errCh := make(chan error, 2)

	wsServer := server.NewWebSocketServer(cfg, handle.NewHandler(deps))
	go func() { errCh <- wsServer.ListenAndServe() }()

	var admin *server.HTTPServer
	if cfg.HTTP.Enabled {
		admin = server.NewHTTPServer(cfg.HTTP, registry, history, m)
		go func() { errCh <- admin.ListenAndServe() }()
	}

	select {
	case <-ctx.Done():
		log.Infof("收到退出信号，正在关闭...")
	case err := <-errCh:
		if err != nil {
			log.Errorf("服务器错误: %v", err)
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("关闭WebSocket服务器失败: %v", err)
	}
	if admin != nil {
		if err := admin.Shutdown(shutdownCtx); err != nil {
			log.Warnf("关闭管理接口失败: %v", err)
		}
	}
	// 已升级的连接不受 Shutdown 管理，逐个关闭会话
	registry.CloseAll()
	log.Infof("voice-gateway 已退出")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
