package handle

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"voice-gateway/config"

	jwt "github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized 所有认证失败都可以用 errors.Is(err, ErrUnauthorized) 判断
var ErrUnauthorized = errors.New("unauthorized")

// AuthenticationError 令牌校验失败
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("认证失败: %s: %v", e.Reason, e.Err)
	}
	return "认证失败: " + e.Reason
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

func (e *AuthenticationError) Is(target error) bool {
	return target == ErrUnauthorized
}

// Authenticator 校验握手时的Bearer令牌
// 先匹配静态令牌列表，再尝试HS256签名的JWT。
type Authenticator struct {
	cfg     config.AuthConfig
	allowed map[string]struct{}
}

// NewAuthenticator 创建认证器
func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	a := &Authenticator{cfg: cfg}
	if len(cfg.AllowedDevices) > 0 {
		a.allowed = make(map[string]struct{}, len(cfg.AllowedDevices))
		for _, d := range cfg.AllowedDevices {
			a.allowed[d] = struct{}{}
		}
	}
	return a
}

// Enabled 是否启用认证
func (a *Authenticator) Enabled() bool {
	return a.cfg.Enabled
}

// DeviceAllowed 设备是否在允许列表中，未配置列表时全部允许
func (a *Authenticator) DeviceAllowed(deviceID string) bool {
	if a.allowed == nil {
		return true
	}
	_, ok := a.allowed[deviceID]
	return ok
}

// Authenticate 校验令牌
// 参数:
//   - token: Bearer 之后的令牌
//   - deviceID: 请求头中的设备ID，JWT带 device_id 声明时必须一致
//
// 返回:
//   - string: 令牌对应的名称（静态令牌的name或JWT的sub）
//   - error: 校验失败时返回 *AuthenticationError
func (a *Authenticator) Authenticate(token, deviceID string) (string, error) {
	for _, t := range a.cfg.Tokens {
		if subtle.ConstantTimeCompare([]byte(t.Token), []byte(token)) == 1 {
			return t.Name, nil
		}
	}

	if a.cfg.JWTSecret == "" {
		return "", &AuthenticationError{Reason: "无效的令牌"}
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(a.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", &AuthenticationError{Reason: "JWT校验失败", Err: err}
	}

	if bound, ok := claims["device_id"].(string); ok && bound != deviceID {
		return "", &AuthenticationError{Reason: fmt.Sprintf("令牌绑定的设备 %q 与 %q 不符", bound, deviceID)}
	}
	sub, _ := claims.GetSubject()
	return sub, nil
}
