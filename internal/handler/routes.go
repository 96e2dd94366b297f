package handler

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Middlewares 路由分组使用的中间件
type Middlewares struct {
	Auth         gin.HandlerFunc
	OptionalAuth gin.HandlerFunc
	Admin        gin.HandlerFunc
	RateLimit    gin.HandlerFunc
}

func (m Middlewares) orNoop() Middlewares {
	noop := func(c *gin.Context) { c.Next() }
	if m.Auth == nil {
		m.Auth = noop
	}
	if m.OptionalAuth == nil {
		m.OptionalAuth = noop
	}
	if m.Admin == nil {
		m.Admin = noop
	}
	if m.RateLimit == nil {
		m.RateLimit = noop
	}
	return m
}

// RegisterRoutes 注册全部路由；/:code 与静态路由共存，静态路由优先
func RegisterRoutes(router *gin.Engine, links *LinkHandler, authHandler *AuthHandler, mw Middlewares) {
	mw = mw.orNoop()

	router.GET("/health", links.HealthCheck)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/analytics/:code", mw.RateLimit, links.Analytics)
	router.GET("/:code", links.Redirect)

	authGroup := router.Group("/auth", mw.RateLimit)
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	api := router.Group("/api", mw.RateLimit)
	{
		api.GET("/me", mw.Auth, authHandler.GetCurrentUser)

		urls := api.Group("/urls", mw.OptionalAuth)
		urls.POST("/shorten", links.Shorten)
		urls.GET("", links.List)
		urls.GET("/analytics/:code", links.Analytics)
		urls.DELETE("/:code", links.Deactivate)

		admin := api.Group("/admin", mw.Auth, mw.Admin)
		admin.GET("/stats", links.Stats)
		admin.POST("/sweep", links.Sweep)
	}
}
