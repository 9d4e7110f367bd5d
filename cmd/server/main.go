// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"pai-resource-go/internal/config"
	"pai-resource-go/internal/handler"
	"pai-resource-go/internal/middleware"
	"pai-resource-go/internal/model"
	"pai-resource-go/internal/repository"
	"pai-resource-go/internal/service"
	"pai-resource-go/internal/staging"
	"pai-resource-go/pkg/database"
	"pai-resource-go/pkg/kafka"
	"pai-resource-go/pkg/limiter"
	"pai-resource-go/pkg/log"
	"pai-resource-go/pkg/storage"
	"pai-resource-go/pkg/token"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储与 Kafka
	database.InitMySQL(cfg.Database.MySQL.DSN, &model.Resource{})
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	store, err := storage.NewMinioStore(cfg.MinIO)
	if err != nil {
		log.Fatal("MinIO 初始化失败", err)
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化暂存目录与并发限制器
	chunkStore, err := staging.NewChunkStore(cfg.Upload.TempDir)
	if err != nil {
		log.Fatal("暂存目录初始化失败", err)
	}
	chunkLimiter := limiter.NewRedisLimiter(database.RDB, cfg.Upload.ConcurrentLimit, cfg.Upload.LockExpirySeconds)

	// 5. 初始化 Repository 与 Service（依赖注入）
	resourceRepo := repository.NewResourceRepository(database.DB)
	mergeService := service.NewMergeService(cfg.Upload.StrictSizeCheck)
	decompressService := service.NewDecompressService(store, cfg.StoragePaths)
	resourceService := service.NewResourceService(
		resourceRepo,
		store,
		chunkStore,
		chunkLimiter,
		mergeService,
		decompressService,
		cfg.Upload,
		cfg.MinIO.BucketName,
		cfg.StoragePaths,
	)

	// 6. 启动暂存目录定期清理任务：启动时立即清理一次，之后每小时一次
	tempFileExpiry := time.Duration(cfg.Upload.TempFileExpiryHours) * time.Hour
	chunkStore.SweepExpired(tempFileExpiry)
	sweeper := cron.New()
	if _, err := sweeper.AddFunc("@hourly", func() {
		chunkStore.SweepExpired(tempFileExpiry)
	}); err != nil {
		log.Fatal("注册清理任务失败", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 8. 注册路由
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	resourceHandler := handler.NewResourceHandler(resourceService)

	apiV1 := r.Group("/api/v1")
	{
		resources := apiV1.Group("/resource")
		resources.Use(middleware.AuthMiddleware(jwtManager))
		{
			resources.POST("/init", resourceHandler.InitUpload)
			resources.POST("/upload", resourceHandler.UploadFile)
			resources.POST("/chunk", resourceHandler.UploadChunk)
			resources.POST("/merge", resourceHandler.MergeChunks)
			resources.DELETE("/:id", resourceHandler.DeleteResource)
			resources.GET("/:id", resourceHandler.GetResourceDetail)
			resources.GET("", resourceHandler.GetResourceList)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
