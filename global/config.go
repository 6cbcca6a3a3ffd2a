package global

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// 环境变量：
// RELAY_PORT              监听端口（默认 4000）
// RELAY_ALLOWED_ORIGINS   握手允许的 Origin，逗号分隔；"*" 放行全部（默认 "*"）
// RELAY_WEBHOOK_SECRET    webhook 共享密钥（必填，否则 webhook 路由 503）
// RELAY_API_BASE_URL      门户 REST API 地址（核心逻辑不用，只给周边胶水）
// RELAY_JWT_SECRET        可选：identify 携带 token 时按 HS256 校验
// RELAY_PROBE_INTERVAL_S  存活探测周期（默认 30s）
// RELAY_PROBE_GRACE_S     探测应答宽限（默认 15s）
// RELAY_ACTIVITY_PING_S   协议层保活 ping 周期（默认 20s）
// RELAY_NODE_ID           雪花ID节点号 0~1023（默认 1）
// REDIS_ADDR/REDIS_PASSWORD/REDIS_DB
// MONGO_URI/MONGO_DATABASE

type AppConfig struct {
	Port           int
	AllowedOrigins []string
	WebhookSecret  string
	APIBaseURL     string
	JWTSecret      string

	ProbeInterval time.Duration
	ProbeGrace    time.Duration
	ActivityPing  time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MongoURI      string
	MongoDatabase string

	NodeID int64 // 雪花ID节点号
}

var Config AppConfig

// Load 启动时调用一次；default 值保证无配置也能本地跑起来
func Load() {
	Config = AppConfig{
		Port:           GetEnvInt("RELAY_PORT", 4000),
		AllowedOrigins: splitCSV(GetEnv("RELAY_ALLOWED_ORIGINS", "*")),
		WebhookSecret:  GetEnv("RELAY_WEBHOOK_SECRET", ""),
		APIBaseURL:     GetEnv("RELAY_API_BASE_URL", "http://localhost:3000"),
		JWTSecret:      GetEnv("RELAY_JWT_SECRET", ""),

		ProbeInterval: time.Duration(GetEnvInt("RELAY_PROBE_INTERVAL_S", 30)) * time.Second,
		ProbeGrace:    time.Duration(GetEnvInt("RELAY_PROBE_GRACE_S", 15)) * time.Second,
		ActivityPing:  time.Duration(GetEnvInt("RELAY_ACTIVITY_PING_S", 20)) * time.Second,

		RedisAddr:     GetEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: GetEnv("REDIS_PASSWORD", ""),
		RedisDB:       GetEnvInt("REDIS_DB", 0),

		MongoURI:      GetEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: GetEnv("MONGO_DATABASE", "hemeroteca"),

		NodeID: int64(GetEnvInt("RELAY_NODE_ID", 1)),
	}
}

// OriginAllowed 判断握手 Origin 是否放行；空 Origin（非浏览器客户端）放行
func (c *AppConfig) OriginAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range c.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func GetEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
