package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "transcoding_service/cmd/transcoding_service/docs" // 引入生成的 Swagger 文档
	"transcoding_service/internal/transcode/api/handlers"
	"transcoding_service/internal/transcode/api/router"
	"transcoding_service/internal/transcode/app"
	"transcoding_service/internal/transcode/bootstrap"
	"transcoding_service/pkg/config"
	"transcoding_service/pkg/logger"
	testtool "transcoding_service/pkg/test_tool"

	"go.uber.org/zap"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.TranscodingService, config.EnvConfig.TranscodingServiceLogPath)
	defer logger.Log.Sync()

	cfg := config.LoadConfig[config.Transcoding](config.EnvConfig.TranscodingService, config.EnvConfig.TranscodingServiceYAMLPath)
	deps, err := bootstrap.New(cfg)
	if err != nil {
		logger.Log.Fatal("invalid config", zap.Error(err))
	}
	defer deps.Close()
	cfg = deps.Cfg

	testtool.StartPprof(testtool.DefaultPprofAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	uc, err := deps.UseCase(ctx)
	if err != nil {
		logger.Log.Fatal("Unable to init transcode use case", zap.Error(err))
	}
	verifier, err := bootstrap.NewVerifier(cfg.Auth)
	if err != nil {
		logger.Log.Fatal("Unable to init token verifier", zap.Error(err))
	}

	hub := app.NewHub()
	relay, err := deps.Relay(ctx)
	if err != nil {
		logger.Log.Fatal("Unable to init progress relay", zap.Error(err))
	}
	if relay != nil {
		// 其他 worker process 的進度經由 redis 轉進 hub
		if err := relay.Subscribe(ctx, hub); err != nil {
			logger.Log.Fatal("progress relay subscribe failed", zap.Error(err))
		}
	}

	var worker *app.Worker
	if cfg.Worker.Embedded {
		var progress app.ProgressPublisher = hub
		if relay != nil {
			progress = relay
		}
		w, ws, err := deps.Worker(ctx, progress)
		if err != nil {
			logger.Log.Fatal("Unable to init embedded worker", zap.Error(err))
		}
		if removed, err := ws.Sweep(); err != nil {
			logger.Log.Warn("workspace sweep failed", zap.Error(err))
		} else if len(removed) > 0 {
			logger.Log.Info("stale workspaces removed", zap.Strings("dirs", removed))
		}
		worker = w
		worker.Start(ctx)
	}

	// 添加日志中间件
	file, err := os.OpenFile(fmt.Sprintf("%s/access.log", config.EnvConfig.TranscodingServiceLogPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	r := router.NewApp(router.AppConfig{
		UploadLimitMB: cfg.UploadLimitMB,
		CORSOrigins:   cfg.CORSOrigins,
		AccessLog:     file,
	})
	router.RegisterRoutes(r, handlers.NewTranscodeHandler(uc, hub), verifier)

	go func() {
		<-ctx.Done()
		logger.Log.Info("shutting down transcoding service")
		if err := r.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Log.Warn("http shutdown", zap.Error(err))
		}
	}()

	logger.Log.Info("Transcoding Service running", zap.String("port", cfg.Port), zap.Bool("embeddedWorker", cfg.Worker.Embedded))
	if err := r.Listen(cfg.IP + ":" + cfg.Port); err != nil {
		logger.Log.Error("Server failed to start", zap.Error(err))
	}

	if worker != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.VisibilityTimeout)
		defer cancel()
		if err := worker.Stop(stopCtx); err != nil {
			logger.Log.Warn("worker did not stop in time, job will be redelivered", zap.Error(err))
		}
	}
}
