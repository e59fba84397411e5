package handler

import "github.com/tradeledger/backend/internal/interfaces/http/dto"

// APIResponse is the response envelope with a typed data field, used by
// clients and tests that decode responses
type APIResponse[T any] struct {
	Success bool           `json:"success"`
	Data    T              `json:"data,omitempty"`
	Error   *dto.ErrorInfo `json:"error,omitempty"`
	Meta    *dto.Meta      `json:"meta,omitempty"`
}
