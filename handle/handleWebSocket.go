package handle

import (
	"net"
	"net/http"
	"strings"

	"voice-gateway/log"
	ws "voice-gateway/websocket"

	"github.com/gorilla/websocket"
)

// ProtocolVersion 设备握手时必须声明的协议版本
const ProtocolVersion = "1"

// Handler 处理设备和助手的WebSocket升级请求
type Handler struct {
	deps     *ws.Dependencies
	auth     *Authenticator
	upgrader websocket.Upgrader
}

// NewHandler 创建升级处理器
// 写缓冲区大小等于分片上限，使每次写入对应一个WebSocket帧。
func NewHandler(deps *ws.Dependencies) *Handler {
	cfg := deps.Config.WebSocket
	return &Handler{
		deps: deps,
		auth: NewAuthenticator(cfg.Auth),
		upgrader: websocket.Upgrader{
			WriteBufferSize: cfg.MaxChunkSize,
			// 允许所有来源的跨域请求，设备不发送Origin
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// rejection 握手被拒绝的原因
type rejection struct {
	status int
	reason string // 指标标签
	err    error
}

// handshake 通过校验的握手信息
type handshake struct {
	deviceID      string
	authenticated bool
}

// validate 在升级前检查请求头
// Authorization 必须带Bearer令牌；启用认证时令牌必须有效。Device-Id 不能为空，Protocol-Version 必须为1。
func (h *Handler) validate(r *http.Request) (handshake, *rejection) {
	authHeader := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(authHeader, "Bearer ")
	if !found || token == "" {
		return handshake{}, &rejection{http.StatusUnauthorized, "missing_token", &AuthenticationError{Reason: "缺少Bearer令牌"}}
	}

	deviceID := r.Header.Get("Device-Id")
	if deviceID == "" {
		return handshake{}, &rejection{http.StatusBadRequest, "missing_device_id", nil}
	}
	if v := r.Header.Get("Protocol-Version"); v != ProtocolVersion {
		return handshake{}, &rejection{http.StatusBadRequest, "protocol_version", nil}
	}

	hs := handshake{deviceID: deviceID}
	if h.auth.Enabled() {
		name, err := h.auth.Authenticate(token, deviceID)
		if err != nil {
			return handshake{}, &rejection{http.StatusUnauthorized, "invalid_token", err}
		}
		log.Debugf("设备 %s 认证通过 (%s)", deviceID, name)
		hs.authenticated = true
	}
	if !h.auth.DeviceAllowed(deviceID) {
		return handshake{}, &rejection{http.StatusUnauthorized, "device_not_allowed", nil}
	}
	return hs, nil
}

// HandleWebSocket 校验握手并将HTTP连接升级为WebSocket，为连接创建新的WebSocketConnection
// 参数:
//   - w: HTTP响应写入器
//   - r: HTTP请求
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientIP := ClientIP(r)

	hs, rej := h.validate(r)
	if rej != nil {
		h.deps.Metrics.RecordHandshakeRejected(rej.reason)
		if rej.err != nil {
			log.Warnf("拒绝来自 %s 的连接: %s: %v", clientIP, rej.reason, rej.err)
		} else {
			log.Warnf("拒绝来自 %s 的连接: %s", clientIP, rej.reason)
		}
		http.Error(w, http.StatusText(rej.status), rej.status)
		return
	}

	// 将HTTP连接升级为WebSocket
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("升级连接失败: %v", err)
		return
	}

	log.Infof("新的WebSocket连接来自 %s，设备 %s", clientIP, hs.deviceID)

	// 为此连接创建一个新的WebSocket连接处理器
	wsConn := ws.NewWebSocketConnection(conn, hs.deviceID, clientIP, hs.authenticated, h.deps)

	// 在新的goroutine中处理连接
	go wsConn.HandleConnection()
}

// HandleAssistant 升级文本助手连接，不做设备握手校验
func (h *Handler) HandleAssistant(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("升级助手连接失败: %v", err)
		return
	}
	log.Infof("新的助手连接来自 %s", ClientIP(r))

	go ws.NewAssistantConnection(conn, h.deps).HandleConnection()
}

// ClientIP 返回客户端地址，优先使用反向代理设置的请求头
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
