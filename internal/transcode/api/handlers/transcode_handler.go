package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"transcoding_service/internal/transcode/app"
	"transcoding_service/internal/transcode/domain"
	errprocess "transcoding_service/pkg/err"
	"transcoding_service/pkg/logger"
	"transcoding_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// DefaultKeepAlive SSE comment / websocket ping interval
const DefaultKeepAlive = 15 * time.Second

// TranscodeHandler transcode http handler
type TranscodeHandler struct {
	UseCase   app.TranscodeUseCase
	Hub       *app.Hub
	KeepAlive time.Duration
}

// NewTranscodeHandler create transcode handler
func NewTranscodeHandler(uc app.TranscodeUseCase, hub *app.Hub) *TranscodeHandler {
	return &TranscodeHandler{UseCase: uc, Hub: hub, KeepAlive: DefaultKeepAlive}
}

// UploadResponse upload accepted
type UploadResponse struct {
	Status    string `json:"status" example:"queued"`
	Message   string `json:"message" example:"Video queued for transcoding"`
	VideoName string `json:"videoName" example:"clip"`
}

// DownloadURLResponse signed download url
type DownloadURLResponse struct {
	DownloadURL string `json:"downloadUrl"`
}

// ErrorResponse error body
type ErrorResponse struct {
	Error string `json:"error"`
}

// UploadVideo godoc
// @Summary Upload a video for transcoding
// @Description Stores the source under uploads/ and enqueues a transcode job
// @Tags Transcode
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param video formData file true "Video File"
// @Success 200 {object} UploadResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/transcode/normal [post]
func (h *TranscodeHandler) UploadVideo(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("video")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "No files were uploaded."})
	}

	id, err := middlewares.GetIdentity(c)
	if err != nil {
		return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{Error: "Invalid token"})
	}

	file, err := fileHeader.Open()
	if err != nil {
		logger.Log.Errorf("Open file failed", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "Failed to open file"})
	}
	defer file.Close()

	name, err := h.UseCase.UploadVideo(c.UserContext(), app.UploadInput{
		Filename:    fileHeader.Filename,
		Body:        file,
		Size:        fileHeader.Size,
		ContentType: fileHeader.Header.Get(fiber.HeaderContentType),
		Token:       id.Bearer,
		Owner:       id.Username,
	})
	if err != nil {
		return errorJSON(c, err, "Failed to process video request")
	}

	return c.JSON(UploadResponse{
		Status:    "queued",
		Message:   "Video queued for transcoding",
		VideoName: name,
	})
}

// GetPresignedURL godoc
// @Summary Signed download url of a transcoded video
// @Tags Transcode
// @Produce json
// @Security BearerAuth
// @Param videoName path string true "Video name"
// @Success 200 {object} DownloadURLResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/presigned-url/{videoName} [get]
func (h *TranscodeHandler) GetPresignedURL(c *fiber.Ctx) error {
	url, err := h.UseCase.GetDownloadURL(c.UserContext(), c.Params("videoName"))
	if err != nil {
		if errprocess.IsNotFound(err) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "Video not found"})
		}
		return errorJSON(c, err, "Failed to generate download url")
	}
	return c.JSON(DownloadURLResponse{DownloadURL: url})
}

// ProgressStream godoc
// @Summary Transcode progress as server-sent events
// @Description Each event is `data: {"status","progress","downloadUrl?","error?"}`. The stream ends after a completed frame.
// @Tags Transcode
// @Produce text/event-stream
// @Param filename path string true "Video name"
// @Success 200 {string} string "event stream"
// @Router /api/transcode/progress/{filename} [get]
func (h *TranscodeHandler) ProgressStream(c *fiber.Ctx) error {
	name := c.Params("filename")
	if err := domain.ValidateVideoName(name); err != nil {
		return errorJSON(c, err, "")
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set(fiber.HeaderTransferEncoding, "chunked")

	sub := h.Hub.Subscribe(name)
	logger.Log.Info("progress subscriber connected", zap.String("job", name), zap.String("transport", "sse"))
	keepAlive := h.keepAlive()

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer func() {
			sub.Close()
			logger.Log.Info("progress subscriber disconnected", zap.String("job", name), zap.String("transport", "sse"))
		}()

		// 先送一個 comment, 讓 client 確認連線已建立
		fmt.Fprint(w, ": connected\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()
		for {
			select {
			case frame, ok := <-sub.Events():
				if !ok {
					return
				}
				fmt.Fprintf(w, "data: %s\n\n", frame)
				if err := w.Flush(); err != nil {
					return
				}
				if isCompletedFrame(frame) {
					return
				}
			case <-ticker.C:
				// flush 失敗代表 client 已斷線
				fmt.Fprint(w, ": keepalive\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))
	return nil
}

// ProgressWebsocket same frames as ProgressStream over a websocket
func (h *TranscodeHandler) ProgressWebsocket(conn *websocket.Conn) {
	name := conn.Params("filename")
	if err := domain.ValidateVideoName(name); err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid video name"))
		conn.Close()
		return
	}

	sub := h.Hub.Subscribe(name)
	logger.Log.Info("progress subscriber connected", zap.String("job", name), zap.String("transport", "websocket"))
	defer func() {
		sub.Close()
		conn.Close()
		logger.Log.Info("progress subscriber disconnected", zap.String("job", name), zap.String("transport", "websocket"))
	}()

	// client 不會送資料, 讀取只為了偵測斷線
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.keepAlive())
	defer ticker.Stop()
	for {
		select {
		case frame, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Log.Warn("websocket write failed", zap.String("job", name), zap.Error(err))
				return
			}
			if isCompletedFrame(frame) {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "completed"))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(time.Second)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func (h *TranscodeHandler) keepAlive() time.Duration {
	if h.KeepAlive <= 0 {
		return DefaultKeepAlive
	}
	return h.KeepAlive
}

func isCompletedFrame(frame []byte) bool {
	var ev struct {
		Status domain.ProgressStatus `json:"status"`
	}
	if json.Unmarshal(frame, &ev) != nil {
		return false
	}
	return ev.Status == domain.ProgressCompleted
}

// errorJSON map err kind to status, server side details are not exposed
func errorJSON(c *fiber.Ctx, err error, fallback string) error {
	status := errprocess.HTTPStatus(err)
	msg := fallback
	var e *errprocess.Error
	if status < fiber.StatusInternalServerError && errors.As(err, &e) {
		msg = e.Msg
	}
	if msg == "" {
		msg = fiber.ErrInternalServerError.Message
	}
	if status >= fiber.StatusInternalServerError {
		logger.Log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(ErrorResponse{Error: msg})
}
