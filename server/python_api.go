package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"voice-gateway/config"
	"voice-gateway/log"
)

// pollInterval 健康检查的重试间隔
var pollInterval = time.Second

// WaitForPythonAPI 等待旧版Python服务就绪
// 只有配置了 http provider 时才需要调用。
// 参数:
//   - ctx: 取消时立即返回
//   - cfg: 服务器配置信息，包含Python API的主机地址、端口和等待时长
//
// 返回:
//   - error: 超时仍未就绪或ctx取消时返回错误
func WaitForPythonAPI(ctx context.Context, cfg *config.Config) error {
	// 构建Python API的基础URL
	pythonAPI := fmt.Sprintf("http://%s:%d", cfg.PythonAPI.Host, cfg.PythonAPI.Port)
	timeout := time.Duration(cfg.PythonAPI.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	log.Infof("等待Python API就绪，地址: %s...", pythonAPI)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if healthy(ctx, client, pythonAPI+"/health") {
			log.Infof("Python API 已就绪")
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("python API 不可用，地址: %s: %w", pythonAPI, ctx.Err())
		case <-ticker.C:
		}
	}
}

func healthy(ctx context.Context, client *http.Client, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
