package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradeledger/backend/internal/interfaces/http/dto"
)

type fakePinger struct {
	err error
}

func (p fakePinger) Ping() error    { return p.err }
func (p fakePinger) Driver() string { return "sqlite" }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name     string
		db       DatabasePinger
		status   int
		want     string
		wantCode string
	}{
		{"healthy", fakePinger{}, http.StatusOK, "ok", ""},
		{"database down", fakePinger{err: errors.New("connection refused")}, http.StatusServiceUnavailable, "degraded", dto.ErrCodeServiceUnavailable},
		{"no database", nil, http.StatusServiceUnavailable, "degraded", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.db, "1.2.0")
			r := gin.New()
			r.GET("/health", h.Health)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			require.Equal(t, tt.status, w.Code)
			resp := decodeAs[HealthStatus](t, w)
			assert.Equal(t, tt.want, resp.Data.Status)
			assert.Equal(t, "1.2.0", resp.Data.Version)
			if tt.wantCode != "" {
				require.NotNil(t, resp.Error)
				assert.Equal(t, tt.wantCode, resp.Error.Code)
			}
		})
	}
}
