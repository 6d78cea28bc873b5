package service

import (
	"fmt"
	"strings"

	"studiobook/internal/models"
	"studiobook/internal/schedule"
)

const (
	kindCreated   = "booking_created"
	kindUpdated   = "booking_updated"
	kindCancelled = "booking_cancelled"
	kindPaid      = "booking_paid"
)

var subjects = map[string]string{
	kindCreated:   "Booking confirmed",
	kindUpdated:   "Booking updated",
	kindCancelled: "Booking cancelled",
	kindPaid:      "Payment received",
}

// bookingNotification renders the message for a lifecycle transition. To is
// the booking email and may be empty.
func bookingNotification(kind string, b *models.Booking) models.Notification {
	var body strings.Builder

	fmt.Fprintf(&body, "Hi %s,\n\n", b.UserName)
	switch kind {
	case kindCreated:
		body.WriteString("Your studio booking is confirmed.\n\n")
	case kindUpdated:
		body.WriteString("Your studio booking was changed.\n\n")
	case kindCancelled:
		body.WriteString("Your studio booking was cancelled.\n\n")
	case kindPaid:
		body.WriteString("We received your payment. See you in the studio!\n\n")
	}

	fmt.Fprintf(&body, "Booking: %s\n", b.ID)
	fmt.Fprintf(&body, "Date: %s\n", b.Date)
	fmt.Fprintf(&body, "Time: %s (%s)\n", localRange(b), b.UserTimeZone)
	fmt.Fprintf(&body, "Duration: %g h\n", b.DurationHours)
	if len(b.Equipment) > 0 {
		fmt.Fprintf(&body, "Equipment: %s\n", strings.Join(b.EquipmentNames(), ", "))
	}
	fmt.Fprintf(&body, "Total: %.2f\n", b.Total)
	fmt.Fprintf(&body, "Payment: %s / %s\n", b.PaymentMethod, b.PaymentStatus)

	return models.Notification{
		Kind:    kind,
		To:      b.UserEmail,
		Subject: fmt.Sprintf("%s: %s %s", subjects[kind], b.Date, b.Time),
		Body:    body.String(),
	}
}

// localRange formats the booking as HH:MM-HH:MM in its own zone.
func localRange(b *models.Booking) string {
	loc, err := schedule.LoadZone(b.UserTimeZone)
	if err != nil || b.StartAt.IsZero() {
		return b.Time
	}
	return b.StartAt.In(loc).Format(schedule.TimeLayout) + "-" + b.EndAt.In(loc).Format(schedule.TimeLayout)
}
