package models

import "time"

// Booking is the authoritative booking record. Date and Time are zone-naive
// and interpreted in UserTimeZone.
type Booking struct {
	ID              string          `json:"id" bson:"_id"`
	Date            string          `json:"date" bson:"date"`
	Time            string          `json:"time" bson:"time"`
	DurationHours   float64         `json:"durationHours" bson:"duration_hours"`
	UserTimeZone    string          `json:"userTimeZone" bson:"user_time_zone"`
	UserID          string          `json:"userId" bson:"user_id"`
	UserName        string          `json:"userName" bson:"user_name"`
	UserEmail       string          `json:"userEmail,omitempty" bson:"user_email,omitempty"`
	Equipment       []EquipmentItem `json:"equipment" bson:"equipment"`
	Total           float64         `json:"total" bson:"total"`
	PaymentMethod   string          `json:"paymentMethod" bson:"payment_method"`
	PaymentStatus   string          `json:"paymentStatus" bson:"payment_status"`
	PaidAt          *time.Time      `json:"paidAt,omitempty" bson:"paid_at,omitempty"`
	CalendarEventID string          `json:"calendarEventId,omitempty" bson:"calendar_event_id,omitempty"`
	CalendarSync    CalendarSync    `json:"calendarSync" bson:"calendar_sync"`
	Status          string          `json:"status" bson:"status"`
	CancelledAt     *time.Time      `json:"cancelledAt,omitempty" bson:"cancelled_at,omitempty"`
	StartAt         time.Time       `json:"startAt" bson:"start_at"`
	EndAt           time.Time       `json:"endAt" bson:"end_at"`
	CreatedAt       time.Time       `json:"createdAt" bson:"created_at"`
	UpdatedAt       time.Time       `json:"updatedAt" bson:"updated_at"`
}

type EquipmentItem struct {
	Name  string  `json:"name" bson:"name"`
	Price float64 `json:"price" bson:"price"`
}

// CalendarSync records the outcome of the last calendar mirror attempt.
type CalendarSync struct {
	Status    string     `json:"status" bson:"status"`
	LastError string     `json:"lastError,omitempty" bson:"last_error,omitempty"`
	SyncedAt  *time.Time `json:"syncedAt,omitempty" bson:"synced_at,omitempty"`
}

func (b *Booking) IsActive() bool {
	return b.Status == StatusActive
}

func (b *Booking) IsPaid() bool {
	return b.PaymentStatus == PaymentPaid
}

func (b *Booking) EquipmentNames() []string {
	names := make([]string, 0, len(b.Equipment))
	for _, e := range b.Equipment {
		names = append(names, e.Name)
	}
	return names
}

// PublicSlot is the publicly readable projection of a booking. It never
// carries payment or contact details.
type PublicSlot struct {
	ID            string    `json:"id" bson:"_id"`
	Date          string    `json:"date" bson:"date"`
	Time          string    `json:"time" bson:"time"`
	DurationHours float64   `json:"durationHours" bson:"duration_hours"`
	UserName      string    `json:"userName" bson:"user_name"`
	UserTimeZone  string    `json:"userTimeZone" bson:"user_time_zone"`
	Status        string    `json:"status" bson:"status"`
	StartAt       time.Time `json:"-" bson:"start_at"`
	EndAt         time.Time `json:"-" bson:"end_at"`
}

// NewPublicSlot derives the public projection of b. Every store writes the
// projection through this function.
func NewPublicSlot(b *Booking) PublicSlot {
	return PublicSlot{
		ID:            b.ID,
		Date:          b.Date,
		Time:          b.Time,
		DurationHours: b.DurationHours,
		UserName:      b.UserName,
		UserTimeZone:  b.UserTimeZone,
		Status:        b.Status,
		StartAt:       b.StartAt.UTC(),
		EndAt:         b.EndAt.UTC(),
	}
}
