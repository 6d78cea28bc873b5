package domain

import (
	"context"
	"errors"
	"time"

	"studiobook/internal/models"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrLockTimeout is returned by lockers when the wait budget is exhausted.
	ErrLockTimeout = errors.New("lock wait timeout")
	// ErrEventNotFound is returned by calendar clients when the remote event is gone.
	ErrEventNotFound = errors.New("calendar event not found")
)

// BookingStore persists the authoritative booking record and its public
// projection. Implementations write both views from models.NewPublicSlot in
// the same call.
type BookingStore interface {
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	UpdateBooking(ctx context.Context, booking *models.Booking) error
	MarkCancelled(ctx context.Context, id string, at time.Time) error
	MarkPaid(ctx context.Context, id string, at time.Time) error
	UpdateCalendarSync(ctx context.Context, id, eventID string, sync models.CalendarSync) error
	ListActiveSlotsBetween(ctx context.Context, from, to time.Time) ([]models.PublicSlot, error)
	ListSlotsByDate(ctx context.Context, date string) ([]models.PublicSlot, error)
	ListBookingsByOwner(ctx context.Context, userID string) ([]*models.Booking, error)
	ListBookingsByDateRange(ctx context.Context, fromDate, toDate string) ([]*models.Booking, error)
	UpsertProfile(ctx context.Context, profile *models.Profile) error
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	Ping(ctx context.Context) error
	Close() error
}

// SyncTaskStore persists calendar reconciliation tasks.
type SyncTaskStore interface {
	CreateSyncTask(ctx context.Context, task *models.SyncTask) error
	GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error)
	UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
	GetFailedSyncTasks(ctx context.Context) ([]models.SyncTask, error)
}

// DateLocker serializes booking writes per calendar date.
type DateLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// CalendarClient mirrors bookings to an external calendar.
type CalendarClient interface {
	InsertEvent(ctx context.Context, booking *models.Booking) (string, error)
	UpdateEvent(ctx context.Context, eventID string, booking *models.Booking) error
	DeleteEvent(ctx context.Context, eventID string) error
}

type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type SyncEnqueuer interface {
	EnqueueReconcile(ctx context.Context, bookingID string) error
}

type AuthVerifier interface {
	Verify(ctx context.Context, token string) (models.Identity, error)
}
