package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tradeledger/backend/internal/interfaces/http/dto"
	"github.com/tradeledger/backend/internal/interfaces/http/middleware"
)

// DatabasePinger is the slice of persistence.Database the health check needs
type DatabasePinger interface {
	Ping() error
	Driver() string
}

// HealthHandler answers liveness and readiness probes
type HealthHandler struct {
	BaseHandler
	db      DatabasePinger
	version string
	started time.Time
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db DatabasePinger, version string) *HealthHandler {
	return &HealthHandler{db: db, version: version, started: time.Now()}
}

// HealthStatus is the data of a health response
type HealthStatus struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Driver   string `json:"driver,omitempty"`
	Version  string `json:"version,omitempty"`
	Uptime   string `json:"uptime"`
}

// Health pings the database; 503 when it does not answer
func (h *HealthHandler) Health(c *gin.Context) {
	status := HealthStatus{
		Status:   "ok",
		Database: "ok",
		Version:  h.version,
		Uptime:   time.Since(h.started).Truncate(time.Second).String(),
	}
	if h.db == nil {
		status.Status, status.Database = "degraded", "not configured"
		c.JSON(http.StatusServiceUnavailable, dto.Response{Success: false, Data: status})
		return
	}

	status.Driver = h.db.Driver()
	if err := h.db.Ping(); err != nil {
		status.Status, status.Database = "degraded", err.Error()
		c.Set(middleware.ErrorCodeKey, dto.ErrCodeServiceUnavailable)
		resp := dto.NewErrorResponseWithRequestID(dto.ErrCodeServiceUnavailable, "Database unreachable", getRequestID(c))
		resp.Data = status
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	h.Success(c, status)
}
