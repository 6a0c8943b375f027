package router

import (
	"io"

	"transcoding_service/internal/transcode/api/handlers"
	"transcoding_service/pkg/middlewares"
	t_token "transcoding_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiber_log "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/swagger"
	"github.com/gofiber/websocket/v2"
)

// AppConfig fiber app setting
type AppConfig struct {
	UploadLimitMB int
	CORSOrigins   string
	// AccessLog access log output, nil disables the access log
	AccessLog io.Writer
}

// NewApp create fiber app with body limit, cors and access log
func NewApp(cfg AppConfig) *fiber.App {
	limit := cfg.UploadLimitMB
	if limit <= 0 {
		limit = 50
	}
	r := fiber.New(fiber.Config{
		AppName:   handlers.ServiceName,
		BodyLimit: limit * 1024 * 1024,
	})

	r.Use(recover.New())
	origins := cfg.CORSOrigins
	if origins == "" {
		origins = "*"
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: "GET,POST",
		AllowHeaders: "Content-Type,Authorization",
		// wildcard origin 不能帶 credentials
		AllowCredentials: origins != "*",
	}))
	if cfg.AccessLog != nil {
		r.Use(fiber_log.New(fiber_log.Config{
			Output: cfg.AccessLog, // 將日誌輸出到檔案
		}))
	}
	return r
}

// RegisterRoutes 註冊轉碼相關的路由
// @title Transcoding Service API
// @version 1.0
// @description Upload videos, follow transcode progress and fetch download urls
// @host localhost:3002
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func RegisterRoutes(app *fiber.App, h *handlers.TranscodeHandler, verifier t_token.Verifier) {
	app.Get("/swagger/*", swagger.HandlerDefault)

	api := app.Group("/api")
	api.Get("/transcode/health", handlers.Health)
	api.Post("/transcode/debug", handlers.DebugLogFlag)

	api.Get("/transcode/progress/:filename", h.ProgressStream)
	api.Use("/transcode/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/transcode/ws/:filename", websocket.New(h.ProgressWebsocket))

	auth := middlewares.TokenAuth(verifier)
	api.Post("/transcode/normal", auth, h.UploadVideo)
	api.Get("/presigned-url/:videoName", auth, h.GetPresignedURL)
}
