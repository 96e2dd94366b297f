package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"shorturl-analytics/internal/cache"
	"shorturl-analytics/internal/config"
	"shorturl-analytics/internal/handler"
	"shorturl-analytics/internal/middleware"
	"shorturl-analytics/internal/recorder"
	"shorturl-analytics/internal/service"
	"shorturl-analytics/internal/shortcode"
	"shorturl-analytics/internal/store"
	"shorturl-analytics/internal/sweeper"
	"shorturl-analytics/pkg/database"
	auth "shorturl-analytics/pkg/jwt"
	"shorturl-analytics/pkg/logger"
	"shorturl-analytics/pkg/redis"
	"syscall"
	"time"

	"shorturl-analytics/docs"

	"github.com/gin-gonic/gin"
	redisClient "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// @title 短链接服务 API
// @version 1.0
// @description 短链接生成、跳转与访问统计
// @BasePath /
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization
func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.InitLogger(cfg.Log)
	defer func() {
		_ = zapLogger.Sync()
	}()
	sugaredLogger := zapLogger.Sugar()

	db, err := database.Open(cfg.Database, zapLogger)
	if err != nil {
		sugaredLogger.Fatalf("数据库初始化失败: %v", err)
	}
	sugaredLogger.Infof("✅ 数据库连接成功 (%s)", cfg.Database.Driver)

	var rdb *redisClient.Client
	rdb, err = redis.NewRedisClient(&redis.Options{
		Host:        cfg.Cache.Host,
		Port:        cfg.Cache.Port,
		Password:    cfg.Cache.Password,
		DB:          cfg.Cache.DB,
		PoolSize:    cfg.Cache.PoolSize,
		DialTimeout: time.Duration(cfg.Cache.DialTimeoutSeconds) * time.Second,
	})
	if err != nil {
		sugaredLogger.Warnf("缓存连接失败，使用进程内缓存: %v", err)
	}
	var resolveCache cache.Cache
	if rdb != nil {
		defer func() {
			if err := rdb.Close(); err != nil {
				sugaredLogger.Errorf("关闭 Redis 连接失败: %v", err)
			}
		}()
		resolveCache = cache.NewRedisCache(rdb)
		sugaredLogger.Info("✅ 缓存连接成功")
	} else {
		resolveCache = cache.NewMemoryCache(time.Minute)
	}

	linkStore := store.NewGormStore(db)
	userStore := store.NewUserStore(db, rdb)

	clickRecorder := recorder.New(linkStore, recorder.Options{
		Workers:   cfg.Recorder.Workers,
		QueueSize: cfg.Recorder.QueueSize,
		Timeout:   time.Duration(cfg.Recorder.TimeoutSeconds) * time.Second,
	}, sugaredLogger)
	clickRecorder.Start()
	sugaredLogger.Info("✅ 点击记录器已启动")

	linkService := service.NewLinkService(linkStore, shortcode.NewGenerator(cfg.Shorten.CodeLength), clickRecorder, service.Options{
		BaseURL:           cfg.App.BaseURL,
		MaxRetries:        cfg.Shorten.MaxRetries,
		DefaultTTLDays:    cfg.Shorten.DefaultTTLDays,
		ReuseExisting:     cfg.Shorten.ReuseExisting,
		BlockPrivateHosts: cfg.Shorten.BlockPrivateHosts,
		CacheTTL:          time.Duration(cfg.Cache.TTLMinutes) * time.Minute,
		HistoryLimit:      cfg.Analytics.HistoryLimit,
		PurgeAfter:        time.Duration(cfg.Sweeper.PurgeAfterDays) * 24 * time.Hour,
	}, sugaredLogger, service.WithCache(resolveCache))

	var expirySweeper *sweeper.Sweeper
	if cfg.Sweeper.Enabled {
		expirySweeper = sweeper.New(linkService, time.Duration(cfg.Sweeper.IntervalSeconds)*time.Second, 0, sugaredLogger)
		expirySweeper.Start()
	}

	tokenManager := auth.NewManager(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.ExpirationHours)
	sugaredLogger.Info("✅ 认证管理器初始化成功")

	if created, err := userStore.EnsureAdmin(context.Background(), cfg.Auth.AdminPassword); err != nil {
		sugaredLogger.Errorf("创建管理员失败: %v", err)
	} else if created {
		sugaredLogger.Infow("✅ 默认管理员创建成功", "username", "admin")
	}

	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	docs.SwaggerInfo.Version = cfg.App.Version

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.GinZapRecovery(zapLogger, true))
	router.Use(middleware.GinZapLogger(zapLogger))
	router.Use(middleware.SecurityHeaders())

	devMode := cfg.App.IsDevelopment()
	handler.RegisterRoutes(router,
		handler.NewLinkHandler(linkService, clickRecorder, devMode),
		handler.NewAuthHandler(userStore, tokenManager, devMode),
		handler.Middlewares{
			Auth:         middleware.AuthMiddleware(tokenManager),
			OptionalAuth: middleware.OptionalAuth(tokenManager),
			Admin:        middleware.AdminMiddleware(),
			RateLimit:    middleware.RateLimit(middleware.NewLimiter(rdb, cfg.RateLimit, zapLogger), &cfg.RateLimit),
		},
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		sugaredLogger.Infof("🚀 服务启动成功, 访问 http://localhost:%d", cfg.Server.Port)
		sugaredLogger.Infof("📚 Swagger 文档地址: http://localhost:%d/swagger/index.html", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugaredLogger.Fatalf("服务启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	sugaredLogger.Infof("收到信号 %s，开始关闭服务...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		sugaredLogger.Errorf("HTTP 服务关闭失败: %v", err)
	}

	// 先停止请求入口，再停后台任务，最后排空点击队列
	if expirySweeper != nil {
		expirySweeper.Stop()
	}
	clickRecorder.Stop()

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	zap.L().Info("服务已退出")
}
