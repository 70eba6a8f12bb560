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

	"docchat-go/internal/app"
	"docchat-go/internal/config"
	"docchat-go/internal/handler"
	"docchat-go/pkg/database"
	"docchat-go/pkg/log"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库和 Redis
	database.InitDB(cfg.Database)
	database.InitRedis(cfg.Database.Redis)

	// 4. 初始化存储、向量化、索引、生成与业务服务
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()
	application, err := app.New(rootCtx, cfg, database.DB, database.RDB, app.Options{Async: true})
	if err != nil {
		log.Fatal("组件初始化失败", err)
	}
	defer application.Close()

	// 5. 内存索引在重启后为空，对外服务前按已保存的文档重建
	if n, err := application.Reconcile(rootCtx); err == nil && n > 0 {
		log.Infof("已为 %d 个文档重建索引", n)
	}

	// 6. 启动后台 Kafka 消费者（仅异步模式）
	application.StartWorkers(rootCtx)

	// 7. 初始化导入 seed 目录，已导入则跳过
	if cfg.Server.SeedDir != "" {
		go app.SeedDirectory(rootCtx, cfg.Server.SeedDir, application.Documents)
	}

	// 8. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(application.Handlers())

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

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止 Kafka 消费者与种子导入
	cancelRoot()
	log.Info("服务已优雅关闭")
}
