package worker

import (
	"context"
	"errors"
	"time"

	"github.com/knapabuse2-cmd/outreach/internal/gateway"
	"github.com/knapabuse2-cmd/outreach/internal/store"
)

type failureKind int

const (
	// failTransient retries after a short backoff.
	failTransient failureKind = iota
	// failFloodWait honors the server-mandated delay.
	failFloodWait
	// failAuth needs a human to re-authenticate the session.
	failAuth
	// failFatal means the account is gone for good.
	failFatal
	// failConflict is an optimistic-lock loss; the caller merges.
	failConflict
	// failCanceled propagates shutdown.
	failCanceled
)

// classifyFailure sorts an error into the consequence it carries for the
// worker. Auth demands outrank the generic fatal check so a 401 never
// bans an account that only needs a new code.
func classifyFailure(err error) (failureKind, time.Duration) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return failCanceled, 0
	case store.IsConflict(err):
		return failConflict, 0
	case gateway.IsAuthRequired(err):
		return failAuth, 0
	case gateway.IsFatal(err):
		return failFatal, 0
	}
	if wait, ok := gateway.FloodWait(err); ok {
		return failFloodWait, wait
	}
	return failTransient, 0
}
