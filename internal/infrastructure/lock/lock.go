// Package lock serialises cash event commits per counterparty, either within
// one process or across instances through Redis.
package lock

import (
	"github.com/tradeledger/backend/internal/domain/shared"
)

// CodeLockNotAcquired is returned when the counterparty lock stays busy past the wait budget
const CodeLockNotAcquired = "LOCK_NOT_ACQUIRED"

// ErrLockNotAcquired is the sentinel for errors.Is
var ErrLockNotAcquired = shared.NewDomainError(CodeLockNotAcquired, "Another commit for this counterparty is in progress, retry shortly")

func notAcquired(counterpartyID string) *shared.DomainError {
	return ErrLockNotAcquired.WithDetails(map[string]any{"counterparty_id": counterpartyID})
}
