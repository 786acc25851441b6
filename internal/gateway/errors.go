package gateway

import (
	"errors"
	"fmt"
	"time"
)

// Error codes the gateway reports in its envelope. Everything else is
// treated as transient.
const (
	codeAuthRequired  = "auth_required"
	codeAccountBanned = "account_banned"
	codeUnauthorized  = "unauthorized"
	codeFloodWait     = "flood_wait"
)

// APIError is a non-2xx gateway response.
type APIError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	return fmt.Sprintf("gateway http %d: %s", e.Status, msg)
}

// IsAuthRequired reports whether the account must re-authenticate before any
// further use (extra verification demanded).
func IsAuthRequired(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == codeAuthRequired || apiErr.Status == 401
}

// IsFatal reports whether the account is permanently unusable.
func IsFatal(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == codeAccountBanned || apiErr.Code == codeUnauthorized || apiErr.Status == 403
}

// FloodWait extracts the server-mandated delay from a rate-limit response.
func FloodWait(err error) (time.Duration, bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return 0, false
	}
	if apiErr.Status != 429 && apiErr.Code != codeFloodWait {
		return 0, false
	}
	wait := apiErr.RetryAfter
	if wait <= 0 {
		wait = time.Second
	}
	return wait, true
}
