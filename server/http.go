package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"voice-gateway/config"
	"voice-gateway/log"
	"voice-gateway/metrics"
	"voice-gateway/session"
	"voice-gateway/store"
)

// HistoryReader 读取设备的对话记录
type HistoryReader interface {
	ListTurns(ctx context.Context, deviceID string, limit int) ([]store.Turn, error)
}

// HTTPServer 管理接口：健康检查、会话列表、对话记录和prometheus指标
type HTTPServer struct {
	server    *http.Server
	registry  *session.Registry
	history   HistoryReader
	metrics   *metrics.Metrics
	startTime time.Time
}

// NewHTTPServer 创建管理接口服务器
// history 为nil时 /history 返回503。
func NewHTTPServer(cfg config.HTTPConfig, registry *session.Registry, history HistoryReader, m *metrics.Metrics) *HTTPServer {
	h := &HTTPServer{
		registry:  registry,
		history:   history,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.IP, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return h
}

func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.withMetrics("/healthz", h.handleHealth))
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/history", h.withMetrics("/history", h.handleHistory))

	// 指标接口本身不计数
	mux.Handle("/metrics", h.metrics.Handler())
}

// Handler 返回路由，便于测试
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// withMetrics 记录请求数和状态码
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)
		h.metrics.RecordHTTPRequest(r.Method, endpoint, ww.statusCode)
	}
}

// responseWriter 记录状态码
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// ListenAndServe 启动管理接口，阻塞直到关闭
func (h *HTTPServer) ListenAndServe() error {
	log.Infof("正在启动管理接口，监听地址: %s", h.server.Addr)
	if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 优雅关闭
func (h *HTTPServer) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("写入响应失败: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"uptime":   time.Since(h.startTime).Round(time.Second).String(),
		"sessions": h.registry.Count(),
	})
}

func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sessions := h.registry.Snapshots()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

// handleHistory GET /history?device_id=xx&limit=20
func (h *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "对话记录未启用")
		return
	}

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "缺少 device_id")
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit 无效")
			return
		}
		limit = n
	}

	turns, err := h.history.ListTurns(r.Context(), deviceID, limit)
	if err != nil {
		log.Errorf("查询对话记录失败: %v", err)
		writeError(w, http.StatusInternalServerError, "查询失败")
		return
	}
	if turns == nil {
		turns = []store.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"device_id": deviceID,
		"turns":     turns,
	})
}
