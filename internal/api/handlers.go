package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"studiobook/internal/export"
	"studiobook/internal/models"
	"studiobook/internal/schedule"
	"studiobook/internal/service"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type bookingData struct {
	Date          string                 `json:"date"`
	Time          string                 `json:"time"`
	Duration      float64                `json:"duration"`
	UserTimeZone  string                 `json:"userTimeZone"`
	Equipment     []models.EquipmentItem `json:"equipment"`
	Total         float64                `json:"total"`
	PaymentMethod string                 `json:"paymentMethod"`
}

type confirmBookingRequest struct {
	BookingData      *bookingData `json:"bookingData"`
	UserName         string       `json:"userName"`
	UserEmail        string       `json:"userEmail"`
	EditingBookingID string       `json:"editingBookingId"`
}

type bookingIDRequest struct {
	BookingID string `json:"bookingId"`
}

type updateProfileRequest struct {
	DisplayName string `json:"displayName"`
}

// slotResponse is the public view of a booked slot.
type slotResponse struct {
	ID            string  `json:"id"`
	Date          string  `json:"date"`
	Time          string  `json:"time"`
	DurationHours float64 `json:"durationHours"`
	UserName      string  `json:"userName"`
	UserTimeZone  string  `json:"userTimeZone"`
}

func toSlotResponses(slots []models.PublicSlot) []slotResponse {
	out := make([]slotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotResponse{
			ID:            s.ID,
			Date:          s.Date,
			Time:          s.Time,
			DurationHours: s.DurationHours,
			UserName:      s.UserName,
			UserTimeZone:  s.UserTimeZone,
		})
	}
	return out
}

func (s *HTTPServer) handleConfirmBooking(w http.ResponseWriter, r *http.Request) {
	var body confirmBookingRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.BookingData == nil {
		writeError(w, http.StatusBadRequest, "Booking data is required")
		return
	}

	data := body.BookingData
	result, err := s.svc.ConfirmBooking(r.Context(), identityFrom(r.Context()), service.ConfirmRequest{
		Date:             data.Date,
		Time:             data.Time,
		DurationHours:    data.Duration,
		UserTimeZone:     data.UserTimeZone,
		UserName:         body.UserName,
		UserEmail:        body.UserEmail,
		Equipment:        data.Equipment,
		Total:            data.Total,
		PaymentMethod:    data.PaymentMethod,
		EditingBookingID: strings.TrimSpace(body.EditingBookingID),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	message := "Booking and calendar event updated successfully!"
	if result.Created {
		status = http.StatusCreated
		message = "Booking and calendar event confirmed successfully!"
	}
	writeJSON(w, status, map[string]any{
		"bookingId":      result.Booking.ID,
		"status":         "confirmed",
		"message":        message,
		"calendarSynced": result.CalendarSynced,
	})
}

func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := readBookingID(w, r)
	if !ok {
		return
	}

	result, err := s.svc.CancelBooking(r.Context(), identityFrom(r.Context()), bookingID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"bookingId":        result.BookingID,
		"status":           models.StatusCancelled,
		"alreadyCancelled": result.AlreadyCancelled,
		"message":          "Booking cancelled successfully.",
	})
}

func (s *HTTPServer) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := readBookingID(w, r)
	if !ok {
		return
	}

	result, err := s.svc.ConfirmPayment(r.Context(), identityFrom(r.Context()), bookingID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := map[string]any{
		"bookingId":   result.Booking.ID,
		"status":      models.PaymentPaid,
		"alreadyPaid": result.AlreadyPaid,
	}
	if result.Booking.PaidAt != nil {
		resp["paidAt"] = result.Booking.PaidAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleBookedSlots(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}

	slots, err := s.svc.ListBookedSlots(r.Context(), date)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "slots": toSlotResponses(slots)})
}

func (s *HTTPServer) handleMyBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := s.svc.ListMyBookings(r.Context(), identityFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if bookings == nil {
		bookings = []*models.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := s.svc.GetBooking(r.Context(), identityFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var body updateProfileRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	profile, err := s.svc.UpdateProfile(r.Context(), identityFrom(r.Context()), body.DisplayName)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "Profile updated successfully!",
		"displayName": profile.DisplayName,
	})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	fromDate, toDate := s.exportRange(r)

	bookings, err := s.svc.ListBookingsForExport(r.Context(), identityFrom(r.Context()), fromDate, toDate)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteBookings(&buf, fromDate, toDate, bookings); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(fromDate, toDate)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// exportRange fills a missing bound so the range spans
// models.DefaultExportRangeDays.
func (s *HTTPServer) exportRange(r *http.Request) (string, string) {
	q := r.URL.Query()
	fromDate := strings.TrimSpace(q.Get("from"))
	toDate := strings.TrimSpace(q.Get("to"))
	span := models.DefaultExportRangeDays

	switch {
	case fromDate == "" && toDate == "":
		today := s.now().UTC()
		fromDate = today.Format(schedule.DateLayout)
		toDate = today.AddDate(0, 0, span).Format(schedule.DateLayout)
	case toDate == "":
		if from, err := time.Parse(schedule.DateLayout, fromDate); err == nil {
			toDate = from.AddDate(0, 0, span).Format(schedule.DateLayout)
		}
	case fromDate == "":
		if to, err := time.Parse(schedule.DateLayout, toDate); err == nil {
			fromDate = to.AddDate(0, 0, -span).Format(schedule.DateLayout)
		}
	}
	return fromDate, toDate
}

// readBookingID takes bookingId from the JSON body, or from the query string
// for body-less DELETE requests.
func readBookingID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body bookingIDRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return "", false
		}
	}
	id := strings.TrimSpace(body.BookingID)
	if id == "" {
		id = strings.TrimSpace(r.URL.Query().Get("bookingId"))
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "bookingId is required")
		return "", false
	}
	return id, true
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, status, "internal server error")
		return
	}

	var conflict *service.ConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, status, map[string]any{
			"error":            "The selected time overlaps an existing booking.",
			"conflictingSlots": toSlotResponses(conflict.Slots),
		})
		return
	}
	writeError(w, status, err.Error())
}

// statusFor maps the service error taxonomy to an HTTP status.
func statusFor(err error) int {
	switch service.Kind(err) {
	case service.ErrValidation:
		return http.StatusBadRequest
	case service.ErrUnauthenticated:
		return http.StatusUnauthorized
	case service.ErrForbidden:
		return http.StatusForbidden
	case service.ErrNotFound:
		return http.StatusNotFound
	case service.ErrConflict, service.ErrBookingCancelled:
		return http.StatusConflict
	case service.ErrBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
