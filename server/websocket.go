package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"voice-gateway/config"
	"voice-gateway/handle"
	"voice-gateway/log"
	"voice-gateway/utils"
)

// WebSocketServer 设备与助手的WebSocket服务器
type WebSocketServer struct {
	server *http.Server
}

// NewWebSocketServer 创建WebSocket服务器
// 参数:
//   - cfg: 服务器配置信息，包含WebSocket服务器的主机地址、端口和接入路径
//   - h: 升级处理器
func NewWebSocketServer(cfg *config.Config, h *handle.Handler) *WebSocketServer {
	mux := http.NewServeMux()
	// 设备接入路径交给 HandleWebSocket，助手路径交给 HandleAssistant
	mux.HandleFunc(cfg.WebSocket.Path, h.HandleWebSocket)
	if cfg.WebSocket.AssistantPath != "" {
		mux.HandleFunc(cfg.WebSocket.AssistantPath, h.HandleAssistant)
	}

	return &WebSocketServer{
		server: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.WebSocket.Host, cfg.WebSocket.Port),
			Handler: mux,
		},
	}
}

// Handler 返回路由，便于测试
func (s *WebSocketServer) Handler() http.Handler {
	return s.server.Handler
}

// ListenAndServe 启动服务器，阻塞直到服务器关闭
// 返回:
//   - error: 监听失败时返回错误，正常关闭返回nil
func (s *WebSocketServer) ListenAndServe() error {
	// 获取本机IP地址，用于日志显示
	log.Infof("正在启动WebSocket服务器，监听地址: %s (本机IP: %s)", s.server.Addr, utils.GetLocalIP())
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 停止接受新连接；已升级的连接由会话目录关闭
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	log.Infof("正在关闭WebSocket服务器...")
	return s.server.Shutdown(ctx)
}
