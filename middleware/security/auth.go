package security

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// —— header keys ——
const (
	HeaderSecret = "X-Relay-Secret" // 静态共享密钥；Authorization: Bearer 也认
)

type Options struct {
	Secret                    string // 共享密钥；为空表示该路由未配置（503）
	EnableAuthorizationBearer bool   // 默认 true
}

func DefaultOptions(secret string) *Options {
	return &Options{Secret: secret, EnableAuthorizationBearer: true}
}

// SharedSecret webhook/诊断路由的准入：密钥不符一律 401，请求直接丢弃
func SharedSecret(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		if opts == nil || opts.Secret == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "webhook secret not configured"})
			return
		}

		token := strings.TrimSpace(c.GetHeader(HeaderSecret))

		// 兼容 Authorization: Bearer xxx
		if token == "" && opts.EnableAuthorizationBearer {
			if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
				if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
					token = strings.TrimSpace(authz[len("bearer "):])
				}
			}
		}

		// 常数时间比较，别给侧信道留口子
		if subtle.ConstantTimeCompare([]byte(token), []byte(opts.Secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Next()
	}
}
