package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/basecrm/basecrm-api/internal/service"
	"github.com/basecrm/basecrm-api/pkg/response"
)

// MetricsHandler exposes the Prometheus scrape endpoint and liveness
// checks for the API and its backing stores.
type MetricsHandler struct {
	metrics *service.MetricsService
	db      *sqlx.DB
	redis   *redis.Client
}

// NewMetricsHandler creates a new handler. redis may be nil when the
// cache is not configured.
func NewMetricsHandler(metrics *service.MetricsService, db *sqlx.DB, redisClient *redis.Client) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, db: db, redis: redisClient}
}

// Prometheus serves the metrics registry in the Prometheus text format.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health godoc
// @Summary Health check
// @Description Reports API, database and cache status
// @Tags System
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /health [get]
func (h *MetricsHandler) Health(c *gin.Context) {
	status := http.StatusOK
	checks := gin.H{"api": "ok"}

	if h.db != nil {
		if err := h.db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "down"
			status = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}

	if h.redis != nil {
		if err := h.redis.Ping(c.Request.Context()).Err(); err != nil {
			checks["cache"] = "down"
		} else {
			checks["cache"] = "ok"
		}
	}

	response.JSON(c, status, checks, nil)
}

// Ready reports whether the process can serve traffic.
func (h *MetricsHandler) Ready(c *gin.Context) {
	response.JSON(c, http.StatusOK, gin.H{"status": "ready"}, nil)
}
