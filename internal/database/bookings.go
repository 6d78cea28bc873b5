package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"studiobook/internal/domain"
	"studiobook/internal/models"

	"github.com/google/uuid"
)

const bookingColumns = `id, user_id, user_name, user_email, date, time, duration_hours, user_time_zone,
	equipment, total, payment_method, payment_status, paid_at, calendar_event_id,
	calendar_sync_status, calendar_sync_error, calendar_synced_at, status, cancelled_at,
	start_at, end_at, created_at, updated_at`

const slotColumns = `id, date, time, duration_hours, user_name, user_time_zone, status, start_at, end_at`

// CreateBooking mints an id and writes the private record and its public
// projection in one transaction.
func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	booking.CreatedAt = now
	booking.UpdatedAt = now

	equipment, err := json.Marshal(booking.Equipment)
	if err != nil {
		return fmt.Errorf("failed to encode equipment: %w", err)
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO bookings (`+bookingColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			booking.ID, booking.UserID, booking.UserName, booking.UserEmail,
			booking.Date, booking.Time, booking.DurationHours, booking.UserTimeZone,
			string(equipment), booking.Total, booking.PaymentMethod, booking.PaymentStatus,
			booking.PaidAt, booking.CalendarEventID,
			booking.CalendarSync.Status, booking.CalendarSync.LastError, booking.CalendarSync.SyncedAt,
			booking.Status, booking.CancelledAt,
			booking.StartAt.Unix(), booking.EndAt.Unix(), booking.CreatedAt, booking.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create booking: %w", err)
		}
		return upsertSlot(ctx, tx, models.NewPublicSlot(booking))
	})
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// UpdateBooking overwrites the mutable fields of an existing booking and
// rewrites its projection.
func (db *DB) UpdateBooking(ctx context.Context, booking *models.Booking) error {
	booking.UpdatedAt = time.Now().UTC()

	equipment, err := json.Marshal(booking.Equipment)
	if err != nil {
		return fmt.Errorf("failed to encode equipment: %w", err)
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE bookings SET
				user_name = ?, user_email = ?, date = ?, time = ?, duration_hours = ?, user_time_zone = ?,
				equipment = ?, total = ?, payment_method = ?, start_at = ?, end_at = ?, updated_at = ?
			WHERE id = ?`,
			booking.UserName, booking.UserEmail, booking.Date, booking.Time, booking.DurationHours,
			booking.UserTimeZone, string(equipment), booking.Total, booking.PaymentMethod,
			booking.StartAt.Unix(), booking.EndAt.Unix(), booking.UpdatedAt, booking.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update booking: %w", err)
		}
		if err := requireAffected(res); err != nil {
			return err
		}
		return upsertSlot(ctx, tx, models.NewPublicSlot(booking))
	})
}

func (db *DB) MarkCancelled(ctx context.Context, id string, at time.Time) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE bookings SET status = ?, cancelled_at = ?, updated_at = ? WHERE id = ?`,
			models.StatusCancelled, at.UTC(), at.UTC(), id)
		if err != nil {
			return fmt.Errorf("failed to cancel booking: %w", err)
		}
		if err := requireAffected(res); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE public_slots SET status = ? WHERE id = ?`,
			models.StatusCancelled, id); err != nil {
			return fmt.Errorf("failed to cancel public slot: %w", err)
		}
		return nil
	})
}

// MarkPaid only touches the private record; the projection carries no
// payment fields.
func (db *DB) MarkPaid(ctx context.Context, id string, at time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE bookings SET payment_status = ?, paid_at = ?, updated_at = ? WHERE id = ?`,
		models.PaymentPaid, at.UTC(), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark booking paid: %w", err)
	}
	return requireAffected(res)
}

func (db *DB) UpdateCalendarSync(ctx context.Context, id, eventID string, sync models.CalendarSync) error {
	res, err := db.ExecContext(ctx, `UPDATE bookings SET
			calendar_event_id = ?, calendar_sync_status = ?, calendar_sync_error = ?, calendar_synced_at = ?
		WHERE id = ?`,
		eventID, sync.Status, sync.LastError, sync.SyncedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update calendar sync: %w", err)
	}
	return requireAffected(res)
}

// ListActiveSlotsBetween returns active slots whose interval intersects
// [from, to).
func (db *DB) ListActiveSlotsBetween(ctx context.Context, from, to time.Time) ([]models.PublicSlot, error) {
	return db.querySlots(ctx, `SELECT `+slotColumns+` FROM public_slots
		WHERE status = ? AND start_at < ? AND end_at > ? ORDER BY start_at`,
		models.StatusActive, to.Unix(), from.Unix())
}

func (db *DB) ListSlotsByDate(ctx context.Context, date string) ([]models.PublicSlot, error) {
	return db.querySlots(ctx, `SELECT `+slotColumns+` FROM public_slots
		WHERE date = ? AND status = ? ORDER BY time, start_at`,
		date, models.StatusActive)
}

func (db *DB) ListBookingsByOwner(ctx context.Context, userID string) ([]*models.Booking, error) {
	return db.queryBookings(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE user_id = ? ORDER BY date DESC, time DESC`, userID)
}

// ListBookingsByDateRange returns bookings whose date falls in [fromDate, toDate].
func (db *DB) ListBookingsByDateRange(ctx context.Context, fromDate, toDate string) ([]*models.Booking, error) {
	return db.queryBookings(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE date >= ? AND date <= ? ORDER BY date, time`, fromDate, toDate)
}

func (db *DB) querySlots(ctx context.Context, query string, args ...any) ([]models.PublicSlot, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query slots: %w", err)
	}
	defer rows.Close()

	var slots []models.PublicSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan slot: %w", err)
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

func (db *DB) queryBookings(ctx context.Context, query string, args ...any) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func upsertSlot(ctx context.Context, tx *sql.Tx, s models.PublicSlot) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO public_slots (`+slotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date, time = excluded.time, duration_hours = excluded.duration_hours,
			user_name = excluded.user_name, user_time_zone = excluded.user_time_zone,
			status = excluded.status, start_at = excluded.start_at, end_at = excluded.end_at`,
		s.ID, s.Date, s.Time, s.DurationHours, s.UserName, s.UserTimeZone, s.Status,
		s.StartAt.Unix(), s.EndAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to write public slot: %w", err)
	}
	return nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanBooking(r rowScanner) (*models.Booking, error) {
	var (
		b                 models.Booking
		equipment         string
		startAt, endAt    int64
		paidAt, cancelled sql.NullTime
		syncedAt          sql.NullTime
	)
	err := r.Scan(
		&b.ID, &b.UserID, &b.UserName, &b.UserEmail, &b.Date, &b.Time, &b.DurationHours, &b.UserTimeZone,
		&equipment, &b.Total, &b.PaymentMethod, &b.PaymentStatus, &paidAt, &b.CalendarEventID,
		&b.CalendarSync.Status, &b.CalendarSync.LastError, &syncedAt, &b.Status, &cancelled,
		&startAt, &endAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(equipment), &b.Equipment); err != nil {
		return nil, fmt.Errorf("decode equipment: %w", err)
	}
	b.StartAt = time.Unix(startAt, 0).UTC()
	b.EndAt = time.Unix(endAt, 0).UTC()
	b.PaidAt = nullTimePtr(paidAt)
	b.CancelledAt = nullTimePtr(cancelled)
	b.CalendarSync.SyncedAt = nullTimePtr(syncedAt)
	return &b, nil
}

func scanSlot(r rowScanner) (models.PublicSlot, error) {
	var (
		s              models.PublicSlot
		startAt, endAt int64
	)
	if err := r.Scan(&s.ID, &s.Date, &s.Time, &s.DurationHours, &s.UserName, &s.UserTimeZone,
		&s.Status, &startAt, &endAt); err != nil {
		return s, err
	}
	s.StartAt = time.Unix(startAt, 0).UTC()
	s.EndAt = time.Unix(endAt, 0).UTC()
	return s, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
