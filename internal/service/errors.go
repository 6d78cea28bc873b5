package service

import (
	"fmt"
	"strings"

	"studiobook/internal/models"

	"github.com/cockroachdb/errors"
)

// Error kinds. Use errors.Is against these; concrete errors carry them as marks.
var (
	ErrValidation       = errors.New("validation failed")
	ErrConflict         = errors.New("time slot conflict")
	ErrUnauthenticated  = errors.New("authentication required")
	ErrForbidden        = errors.New("not allowed")
	ErrNotFound         = errors.New("booking not found")
	ErrBookingCancelled = errors.New("booking is cancelled")
	ErrBusy             = errors.New("booking date is busy, retry later")
	ErrCalendarSync     = errors.New("calendar sync failed")
	ErrNotification     = errors.New("notification failed")
)

// ConflictError lists the slots that overlap a requested booking.
type ConflictError struct {
	Slots []models.PublicSlot
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Slots))
	for _, s := range e.Slots {
		parts = append(parts, fmt.Sprintf("%s %s (%gh)", s.Date, s.Time, s.DurationHours))
	}
	return fmt.Sprintf("%s with %s", ErrConflict.Error(), strings.Join(parts, ", "))
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func validationf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

func invalid(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrValidation)
}

// Kind returns the taxonomy error err belongs to, or nil for internal errors.
func Kind(err error) error {
	for _, kind := range []error{
		ErrValidation, ErrConflict, ErrUnauthenticated, ErrForbidden,
		ErrNotFound, ErrBookingCancelled, ErrBusy,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
