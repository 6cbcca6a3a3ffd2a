package middleware

import (
	"github.com/gin-gonic/gin"

	midsec "github.com/MrCobi/HemerotecaDigital-sub002/middleware/security"
)

// RouteOpt 路由配置选项
type RouteOpt struct {
	Secret string // 非空则挂共享密钥准入
}

// POST 封装
func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.Secret != "" {
		r.POST(path, midsec.SharedSecret(midsec.DefaultOptions(opt.Secret)), handler)
	} else {
		r.POST(path, handler)
	}
}

// GET 封装
func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.Secret != "" {
		r.GET(path, midsec.SharedSecret(midsec.DefaultOptions(opt.Secret)), handler)
	} else {
		r.GET(path, handler)
	}
}
