package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// BotStatus reports the logged-in bot identity for the liveness payload.
type BotStatus interface {
	Tag() string
}

type HealthHandler struct {
	logger    *slog.Logger
	bot       BotStatus
	startedAt time.Time
}

func NewHealthHandler(log *slog.Logger, bot BotStatus) *HealthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HealthHandler{
		logger:    log.With(slog.String("handler", "health")),
		bot:       bot,
		startedAt: time.Now(),
	}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.RouteNotFound("/*", h.Alive)
}

func (h *HealthHandler) Health(c echo.Context) error {
	tag := "starting"
	if h.bot != nil {
		if t := h.bot.Tag(); t != "" {
			tag = t
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"bot":    tag,
		"uptime": int64(time.Since(h.startedAt).Seconds()),
	})
}

// Alive answers every other path with a plain liveness message.
func (h *HealthHandler) Alive(c echo.Context) error {
	return c.String(http.StatusOK, "relaybot is running")
}
