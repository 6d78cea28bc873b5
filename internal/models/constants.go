package models

const (
	StatusActive    = "active"
	StatusCancelled = "cancelled"
)

const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
)

const (
	PaymentMethodCash     = "cash"
	PaymentMethodTransfer = "transfer"
)

// Calendar sync statuses stored on the booking.
const (
	CalendarSyncPending = "pending"
	CalendarSyncOK      = "ok"
	CalendarSyncFailed  = "failed"
)

// Sync queue task statuses.
const (
	TaskStatusPending   = "pending"
	TaskStatusRetry     = "retry"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

const (
	RoleAdmin = "admin"

	// AnonymousName is used when a token carries neither a name nor an email.
	AnonymousName = "Anonymous"

	// WorkerQueueSize размер очереди воркера
	WorkerQueueSize = 128

	// DefaultExportRangeDays range used by the admin export when none is given
	DefaultExportRangeDays = 30
)

func IsValidPaymentMethod(m string) bool {
	return m == PaymentMethodCash || m == PaymentMethodTransfer
}
