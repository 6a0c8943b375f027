package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"transcoding_service/internal/transcode/app"
	"transcoding_service/internal/transcode/bootstrap"
	"transcoding_service/pkg/config"
	"transcoding_service/pkg/database"
	"transcoding_service/pkg/logger"
	testtool "transcoding_service/pkg/test_tool"

	"go.uber.org/zap"
)

// healthService gRPC health service name of the worker
const healthService = "transcode.worker"

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.TranscodeWorker, config.EnvConfig.TranscodeWorkerLogPath)
	defer logger.Log.Sync()

	cfg := config.LoadConfig[config.Transcoding](config.EnvConfig.TranscodeWorker, config.EnvConfig.TranscodeWorkerYAMLPath)
	deps, err := bootstrap.New(cfg)
	if err != nil {
		logger.Log.Fatal("invalid config", zap.Error(err))
	}
	defer deps.Close()
	cfg = deps.Cfg

	testtool.StartPprof(testtool.DefaultPprofAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var progress app.ProgressPublisher
	relay, err := deps.Relay(ctx)
	if err != nil {
		logger.Log.Fatal("Unable to init progress relay", zap.Error(err))
	}
	if relay != nil {
		progress = relay
	} else {
		// 沒有 relay 時進度只留在本 process, 沒有訂閱者
		logger.Log.Warn("worker.relay is off, progress frames are not delivered to any http process")
		progress = app.NewHub()
	}

	worker, ws, err := deps.Worker(ctx, progress)
	if err != nil {
		logger.Log.Fatal("Unable to init worker", zap.Error(err))
	}
	if removed, err := ws.Sweep(); err != nil {
		logger.Log.Warn("workspace sweep failed", zap.Error(err))
	} else if len(removed) > 0 {
		logger.Log.Info("stale workspaces removed", zap.Strings("dirs", removed))
	}

	health := database.NewHealthServer()
	if cfg.GRPC.Port != "" {
		lis, err := net.Listen("tcp", cfg.IP+":"+cfg.GRPC.Port)
		if err != nil {
			logger.Log.Fatal("Failed to listen gRPC port", zap.String("port", cfg.GRPC.Port), zap.Error(err))
		}
		go func() {
			if err := health.Serve(lis); err != nil {
				logger.Log.Error("gRPC health server stopped", zap.Error(err))
			}
		}()
		defer health.Stop()
	}
	health.SetServing("", true)
	health.SetServing(healthService, true)

	logger.Log.Info("transcode worker running", zap.String("queue", cfg.Queue.Name), zap.String("driver", cfg.Queue.Driver))
	// 一次只處理一個工作, 直到收到中止訊號
	worker.Run(ctx)

	health.SetServing(healthService, false)
	logger.Log.Info("transcode worker stopped")
}
