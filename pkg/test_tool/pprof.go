package testtool

import (
	"net/http"
	_ "net/http/pprof" // 匯入後會自動註冊 pprof endpoint

	"transcoding_service/pkg/config"
	"transcoding_service/pkg/logger"

	"go.uber.org/zap"
)

// DefaultPprofAddr 只監聽本機
const DefaultPprofAddr = "127.0.0.1:6060"

// StartPprof start pprof server on addr, disabled in production
//
//	curl http://localhost:6060/debug/pprof/
//	go tool pprof http://localhost:6060/debug/pprof/heap
//	go tool pprof http://localhost:6060/debug/pprof/goroutine
func StartPprof(addr string) bool {
	if config.IsProduction() {
		logger.Log.Info("Production environment detected, pprof is disabled.")
		return false
	}
	if addr == "" {
		addr = DefaultPprofAddr
	}

	go func() {
		logger.Log.Info("Starting pprof server", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, nil); err != nil {
			logger.Log.Warn("pprof server failed", zap.Error(err))
		}
	}()
	return true
}
