package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"studiobook/internal/domain"
	"studiobook/internal/models"
	"studiobook/internal/schedule"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	emailReminderMinutes = 24 * 60
	popupReminderMinutes = 60
)

// CalendarService mirrors bookings as events of one Google calendar.
type CalendarService struct {
	service    *calendar.Service
	calendarID string
	studioName string
	location   string
}

// NewCalendarService authenticates with a service account key file.
func NewCalendarService(ctx context.Context, credentialsFile, calendarID, studioName, location string) (*CalendarService, error) {
	// Читаем файл учетных данных сервисного аккаунта
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	return NewCalendarServiceWithOptions(ctx, calendarID, studioName, location, option.WithHTTPClient(config.Client(ctx)))
}

// NewCalendarServiceWithOptions builds the client from explicit API options.
func NewCalendarServiceWithOptions(ctx context.Context, calendarID, studioName, location string, opts ...option.ClientOption) (*CalendarService, error) {
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}
	return &CalendarService{
		service:    srv,
		calendarID: calendarID,
		studioName: studioName,
		location:   location,
	}, nil
}

// TestConnection проверяет доступ к календарю
func (s *CalendarService) TestConnection(ctx context.Context) error {
	if _, err := s.service.Calendars.Get(s.calendarID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

func (s *CalendarService) InsertEvent(ctx context.Context, booking *models.Booking) (string, error) {
	event, err := s.buildEvent(booking)
	if err != nil {
		return "", err
	}
	created, err := s.service.Events.Insert(s.calendarID, event).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return created.Id, nil
}

// UpdateEvent replaces the event body. A missing event yields
// domain.ErrEventNotFound so the caller can insert instead.
func (s *CalendarService) UpdateEvent(ctx context.Context, eventID string, booking *models.Booking) error {
	event, err := s.buildEvent(booking)
	if err != nil {
		return err
	}
	if _, err := s.service.Events.Update(s.calendarID, eventID, event).Context(ctx).Do(); err != nil {
		if isGone(err) {
			return fmt.Errorf("update event %s: %w", eventID, domain.ErrEventNotFound)
		}
		return fmt.Errorf("update event %s: %w", eventID, err)
	}
	return nil
}

// DeleteEvent removes the event; an already deleted event is not an error.
func (s *CalendarService) DeleteEvent(ctx context.Context, eventID string) error {
	err := s.service.Events.Delete(s.calendarID, eventID).Context(ctx).Do()
	if err != nil && !isGone(err) {
		return fmt.Errorf("delete event %s: %w", eventID, err)
	}
	return nil
}

func (s *CalendarService) buildEvent(b *models.Booking) (*calendar.Event, error) {
	loc, err := schedule.LoadZone(b.UserTimeZone)
	if err != nil {
		return nil, err
	}
	start := b.StartAt.In(loc)
	end := b.EndAt.In(loc)

	equipment := strings.Join(b.EquipmentNames(), ", ")
	if equipment == "" {
		equipment = "-"
	}

	description := fmt.Sprintf(
		"Booking ID: %s\nDate: %s\nTime: %s - %s\nDuration: %g hours\nEquipment: %s\nPayment: %s (%s)",
		b.ID, b.Date, start.Format("15:04"), end.Format("15:04"), b.DurationHours,
		equipment, b.PaymentMethod, b.PaymentStatus,
	)

	return &calendar.Event{
		Summary:     fmt.Sprintf("%s Booking by %s", s.studioName, b.UserName),
		Location:    s.location,
		Description: description,
		Start: &calendar.EventDateTime{
			DateTime: start.Format("2006-01-02T15:04:05-07:00"),
			TimeZone: loc.String(),
		},
		End: &calendar.EventDateTime{
			DateTime: end.Format("2006-01-02T15:04:05-07:00"),
			TimeZone: loc.String(),
		},
		Reminders: &calendar.EventReminders{
			UseDefault: false,
			Overrides: []*calendar.EventReminder{
				{Method: "email", Minutes: emailReminderMinutes},
				{Method: "popup", Minutes: popupReminderMinutes},
			},
			ForceSendFields: []string{"UseDefault"},
		},
	}, nil
}

func isGone(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone
	}
	return false
}
