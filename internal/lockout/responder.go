package lockout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"carealert/internal/logging"
)

// ErrLocked is returned when the acknowledgment window is still active.
var ErrLocked = errors.New("alert acknowledgment is locked")

// Confirmer tells the backend the caregiver is on the way.
type Confirmer interface {
	ConfirmAlert(ctx context.Context, alertID int64) error
}

// Responder runs the "I'm on my way" command: check, confirm, then lock.
type Responder struct {
	locks     *Manager
	confirmer Confirmer
	logger    *slog.Logger
}

// NewResponder builds responder over lockout manager and backend confirmer.
// Params: lockout manager, confirmer, and logger.
// Returns: responder.
func NewResponder(locks *Manager, confirmer Confirmer, logger *slog.Logger) *Responder {
	return &Responder{locks: locks, confirmer: confirmer, logger: logging.Component(logger, "responder")}
}

// Respond confirms alertID and locks it only after the backend accepted.
// Params: context and alert id.
// Returns: unlock time, ErrLocked while locked, or confirmation error.
func (r *Responder) Respond(ctx context.Context, alertID int64) (time.Time, error) {
	if left := r.locks.Remaining(alertID); left > 0 {
		return time.Time{}, fmt.Errorf("alert %d for another %s: %w", alertID, left.Round(time.Second), ErrLocked)
	}
	if err := r.confirmer.ConfirmAlert(ctx, alertID); err != nil {
		r.logger.Warn("confirmation failed", "alert_id", alertID, "error", err.Error())
		return time.Time{}, fmt.Errorf("confirm alert %d: %w", alertID, err)
	}
	return r.locks.Acquire(ctx, alertID), nil
}
