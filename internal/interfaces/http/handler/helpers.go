package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tradeledger/backend/internal/interfaces/http/middleware"
)

const dateLayout = "2006-01-02"

// parseDateParam accepts a calendar date or an RFC 3339 timestamp. Empty
// input yields nil. endOfDay moves a bare date to the last instant of that
// day so "to" bounds are inclusive.
func parseDateParam(value string, endOfDay bool) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, expected YYYY-MM-DD or RFC 3339", value)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// pathUUID parses the named path parameter
func pathUUID(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s format", name)
	}
	return id, nil
}

// tagCounterparty records the counterparty a request acted on for the
// span attribute middleware
func tagCounterparty(c *gin.Context, counterpartyID string) {
	if counterpartyID = strings.TrimSpace(counterpartyID); counterpartyID != "" {
		c.Set(middleware.CounterpartyIDKey, counterpartyID)
	}
}
