package handlers

import (
	"fmt"
	"strconv"
	"time"

	"transcoding_service/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ServiceName reported by the health check
const ServiceName = "transcoding-service"

// HealthResponse health check body
type HealthResponse struct {
	Status    string `json:"status" example:"healthy"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service" example:"transcoding-service"`
}

// Health check service status
// @Summary Health check
// @Tags Shared
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /api/transcode/health [get]
func Health(c *fiber.Ctx) error {
	logger.Log.Debug("health check endpoint hit")
	return c.JSON(HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Service:   ServiceName,
	})
}

// DebugLogFlag toggle debug log flag
// @Summary Toggle Debug Log Flag
// @Description Enable or disable debug logging
// @Tags Shared
// @Param enable query bool true "Debug status"
// @Success 200 {string} string "debug mode updated"
// @Failure 400 {string} string "Invalid enable value"
// @Router /api/transcode/debug [post]
func DebugLogFlag(c *fiber.Ctx) error {
	enableStr := c.Query("enable")
	logger.Log.Info("debug", zap.String("enable", enableStr))
	enable, err := strconv.ParseBool(enableStr)
	if err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}

	logger.Log.SetDebugMode(enable)
	return c.SendString(fmt.Sprintf("service[%s]: debug mode is : %t", ServiceName, enable))
}
