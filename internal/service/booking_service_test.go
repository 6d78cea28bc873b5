package service

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"studiobook/internal/database"
	"studiobook/internal/domain"
	"studiobook/internal/events"
	"studiobook/internal/models"
	"studiobook/internal/schedule"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCalendar struct {
	mock.Mock
}

func (m *mockCalendar) InsertEvent(ctx context.Context, b *models.Booking) (string, error) {
	args := m.Called(ctx, b)
	return args.String(0), args.Error(1)
}

func (m *mockCalendar) UpdateEvent(ctx context.Context, eventID string, b *models.Booking) error {
	return m.Called(ctx, eventID, b).Error(0)
}

func (m *mockCalendar) DeleteEvent(ctx context.Context, eventID string) error {
	return m.Called(ctx, eventID).Error(0)
}

type mockSyncer struct {
	mock.Mock
}

func (m *mockSyncer) EnqueueReconcile(ctx context.Context, bookingID string) error {
	return m.Called(ctx, bookingID).Error(0)
}

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) Lock(ctx context.Context, key string) (func(), error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func()), args.Error(1)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, msg := range n.sent {
		out = append(out, msg.Kind)
	}
	return out
}

type fixture struct {
	svc      *BookingService
	db       *database.DB
	notifier *recordingNotifier
	bus      *events.EventBus
	events   []string
}

var fixedNow = time.Date(2025, 6, 20, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, calendar domain.CalendarClient, syncer domain.SyncEnqueuer) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{db: db, notifier: &recordingNotifier{}, bus: events.NewEventBus()}
	f.bus.SubscribeAll(func(e *events.Event) error {
		f.events = append(f.events, e.Type)
		return nil
	})

	deps := Deps{Store: db, Notifier: f.notifier, Events: f.bus}
	if calendar != nil {
		deps.Calendar = calendar
	}
	if syncer != nil {
		deps.Syncer = syncer
	}

	f.svc = NewBookingService(deps, Options{LockWait: time.Second}, &logger)
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

var (
	owner = models.Identity{UserID: "user-1", DisplayName: "Rina", Email: "rina@example.com"}
	other = models.Identity{UserID: "user-2", DisplayName: "Budi"}
	admin = models.Identity{UserID: "admin-1", Role: models.RoleAdmin}
)

func request(date, clock, zone string, hours float64) ConfirmRequest {
	return ConfirmRequest{
		Date:          date,
		Time:          clock,
		DurationHours: hours,
		UserTimeZone:  zone,
		Equipment:     []models.EquipmentItem{{Name: "CDJ-3000", Price: 50}},
		Total:         150,
		PaymentMethod: models.PaymentMethodTransfer,
	}
}

func TestConfirmBooking_Create(t *testing.T) {
	cal := &mockCalendar{}
	cal.On("InsertEvent", mock.Anything, mock.Anything).Return("evt-1", nil).Once()
	f := newFixture(t, cal, nil)
	ctx := context.Background()

	res, err := f.svc.ConfirmBooking(ctx, owner, request("2025-07-01", "14:00", "Asia/Jakarta", 2))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.True(t, res.CalendarSynced)

	stored, err := f.db.GetBooking(ctx, res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 7, 1, 7, 0, 0, 0, time.UTC), stored.StartAt)
	assert.Equal(t, time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC), stored.EndAt)
	assert.Equal(t, models.PaymentPending, stored.PaymentStatus)
	assert.Equal(t, models.StatusActive, stored.Status)
	assert.Equal(t, "Rina", stored.UserName)
	assert.Equal(t, "rina@example.com", stored.UserEmail)
	assert.Equal(t, "evt-1", stored.CalendarEventID)
	assert.Equal(t, models.CalendarSyncOK, stored.CalendarSync.Status)

	slots, err := f.svc.ListBookedSlots(ctx, "2025-07-01")
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, res.Booking.ID, slots[0].ID)
	assert.Equal(t, "14:00", slots[0].Time)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "rina@example.com", f.notifier.sent[0].To)
	assert.Contains(t, f.notifier.sent[0].Body, "14:00-16:00")
	assert.Equal(t, []string{events.EventBookingCreated}, f.events)
	cal.AssertExpectations(t)
}

func TestConfirmBooking_DefaultsAndValidation(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	t.Run("missing zone uses default", func(t *testing.T) {
		res, err := f.svc.ConfirmBooking(ctx, owner, request("2025-07-02", "10:00", "", 1))
		require.NoError(t, err)
		assert.Equal(t, "Asia/Jakarta", res.Booking.UserTimeZone)
		assert.Equal(t, time.Date(2025, 7, 2, 3, 0, 0, 0, time.UTC), res.Booking.StartAt)
		assert.False(t, res.CalendarSynced)
		assert.Equal(t, models.CalendarSyncPending, res.Booking.CalendarSync.Status)
	})

	t.Run("anonymous caller gets default user name", func(t *testing.T) {
		res, err := f.svc.ConfirmBooking(ctx, models.Identity{UserID: "anon", DisplayName: models.AnonymousName},
			request("2025-07-03", "10:00", "UTC", 1))
		require.NoError(t, err)
		assert.Equal(t, "A User", res.Booking.UserName)
	})

	tests := []struct {
		name string
		req  ConfirmRequest
	}{
		{"unknown zone", request("2025-07-04", "10:00", "Mars/Olympus", 1)},
		{"missing date", request("", "10:00", "UTC", 1)},
		{"bad time", request("2025-07-04", "25:00", "UTC", 1)},
		{"zero duration", request("2025-07-04", "10:00", "UTC", 0)},
		{"too long", request("2025-07-04", "10:00", "UTC", 13)},
		{"bad payment method", func() ConfirmRequest {
			r := request("2025-07-04", "10:00", "UTC", 1)
			r.PaymentMethod = "crypto"
			return r
		}()},
		{"negative total", func() ConfirmRequest {
			r := request("2025-07-04", "10:00", "UTC", 1)
			r.Total = -1
			return r
		}()},
		{"unnamed equipment", func() ConfirmRequest {
			r := request("2025-07-04", "10:00", "UTC", 1)
			r.Equipment = []models.EquipmentItem{{Price: 10}}
			return r
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ConfirmBooking(ctx, owner, tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
		})
	}

	slots, err := f.svc.ListBookedSlots(ctx, "2025-07-04")
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestConfirmBooking_Unauthenticated(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, err := f.svc.ConfirmBooking(context.Background(), models.Identity{}, request("2025-07-01", "10:00", "UTC", 1))
	assert.True(t, errors.Is(err, ErrUnauthenticated))
}

func TestConflictScenario(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	first, err := f.svc.ConfirmBooking(ctx, owner, request("2025-07-01", "10:00", "UTC", 2))
	require.NoError(t, err)

	_, err = f.svc.ConfirmBooking(ctx, other, request("2025-07-01", "11:00", "UTC", 2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	require.Len(t, conflict.Slots, 1)
	assert.Equal(t, first.Booking.ID, conflict.Slots[0].ID)

	edit := request("2025-07-01", "13:00", "UTC", 2)
	edit.EditingBookingID = first.Booking.ID
	edited, err := f.svc.ConfirmBooking(ctx, owner, edit)
	require.NoError(t, err)
	assert.False(t, edited.Created)
	assert.Equal(t, first.Booking.ID, edited.Booking.ID)

	second, err := f.svc.ConfirmBooking(ctx, other, request("2025-07-01", "11:00", "UTC", 2))
	require.NoError(t, err)
	assert.True(t, second.Created)

	slots, err := f.svc.ListBookedSlots(ctx, "2025-07-01")
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, "11:00", slots[0].Time)
	assert.Equal(t, "13:00", slots[1].Time)
}

func TestConfirmBooking_AcrossZones(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.svc.ConfirmBooking(ctx, owner, request("2025-06-30", "12:00", "Asia/Makassar", 2))
	require.NoError(t, err)

	_, err = f.svc.ConfirmBooking(ctx, other, request("2025-06-30", "06:00", "UTC", 1))
	assert.NoError(t, err, "touching intervals must not conflict")

	_, err = f.svc.ConfirmBooking(ctx, other, request("2025-06-30", "05:59", "UTC", 1))
	assert.True(t, errors.Is(err, ErrConflict), "got %v", err)

	// 2025-07-01 02:00 Jakarta is 2025-06-30 19:00 UTC; a different wall date still conflicts.
	_, err = f.svc.ConfirmBooking(ctx, owner, request("2025-06-30", "19:00", "UTC", 2))
	require.NoError(t, err)
	_, err = f.svc.ConfirmBooking(ctx, other, request("2025-07-01", "02:00", "Asia/Jakarta", 1))
	assert.True(t, errors.Is(err, ErrConflict), "got %v", err)
}

func TestConfirmBooking_EditRoundTrip(t *testing.T) {
	cal := &mockCalendar{}
	cal.On("InsertEvent", mock.Anything, mock.Anything).Return("evt-1", nil).Once()
	cal.On("UpdateEvent", mock.Anything, "evt-1", mock.Anything).Return(nil).Once()
	f := newFixture(t, cal, nil)
	ctx := context.Background()

	created, err := f.svc.ConfirmBooking(ctx, owner, request("2025-07-01", "10:00", "UTC", 2))
	require.NoError(t, err)

	_, err = f.svc.ConfirmPayment(ctx, admin, created.Booking.ID)
	require.NoError(t, err)
	cal.On("UpdateEvent", mock.Anything, "evt-1", mock.Anything).Return(nil).Once()

	edit := request("2025-07-01", "10:00", "UTC", 2)
	edit.EditingBookingID = created.Booking.ID
	edit.Equipment = append(edit.Equipment, models.EquipmentItem{Name: "Mixer", Price: 20})
	edited, err := f.svc.ConfirmBooking(ctx, owner, edit)
	require.NoError(t, err)
	assert.True(t, edited.CalendarSynced)

	stored, err := f.db.GetBooking(ctx, created.Booking.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Equipment, 2)
	assert.Equal(t, models.PaymentPaid, stored.PaymentStatus, "edit preserves payment status")
	assert.Equal(t, "evt-1", stored.CalendarEventID)
	assert.True(t, created.Booking.CreatedAt.Equal(stored.CreatedAt))
	cal.AssertExpectations(t)
}

func TestConfirmBooking_EditErrors(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	created, err := f.svc.ConfirmBooking(ctx, owner, request("2025-07-01", "10:00", "UTC", 2))
	require.NoError(t, err)

	edit := request("2025-07-01", "12:00", "UTC", 1)
	edit.EditingBookingID = created.Booking.ID
	_, err = f.svc.ConfirmBooking(ctx, other, edit)
	assert.True(t, errors.Is(err, ErrForbidden))

	missing := edit
	missing.EditingBookingID = "nope"
	_, err = f.svc.ConfirmBooking(ctx, owner, missing)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = f.svc.CancelBooking(ctx, owner, created.Booking.ID)
	require.NoError(t, err)
	_, err = f.svc.ConfirmBooking(ctx, owner, edit)
	assert.True(t, errors.Is(err, ErrBookingCancelled))

	second, err := f.svc.ConfirmBooking(ctx, owner, request("2025-07-02", "10:00", "UTC", 1))
	require.NoError(t, err)
	adminEdit := request("2025-07-02", "11:00", "UTC", 1)
	adminEdit.EditingBookingID = second.Booking.ID
	_, err = f.svc.ConfirmBooking(ctx, admin, adminEdit)
	assert.True(t, errors.Is(err, ErrForbidden), "admins cannot edit other users' bookings")

	stored, err := f.db.GetBooking(ctx, second.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, "10:00", stored.Time)
}

func TestCancelBooking_AdminForbidden(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	created, err := f.svc.ConfirmBooking(ctx, owner, request("2025-07-01", "10:00", "UTC", 2))
	require.NoError(t, err)

	_, err = f.svc.CancelBooking(ctx, admin, created.Booking.ID)
	assert.True(t, errors.Is(err, ErrForbidden))

	stored, err := f.db.GetBooking(ctx, created.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, stored.Status)

	slots, err := f.svc.ListBookedSlots(ctx, "2025-07-01")
	require.NoError(t, err)
	assert.Len(t, slots, 1)
}

func TestConfirmBooking_CanonicalTime(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	late, err := f.svc.ConfirmBooking(ctx, owner, request("2025-07-01", "10:00", "UTC", 1))
	require.NoError(t, err)
	early, err := f.svc.ConfirmBooking(ctx, other, request("2025-07-01", "9:00", "UTC", 1))
	require.NoError(t, err)
	assert.Equal(t, "09:00", early.Booking.Time)
	withSeconds, err := f.svc.ConfirmBooking(ctx, other, request("2025-07-01", "12:00:00", "UTC", 1))
	require.NoError(t, err)
	assert.Equal(t, "12:00", withSeconds.Booking.Time)

	slots, err := f.svc.ListBookedSlots(ctx, "2025-07-01")
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, early.Booking.ID, slots[0].ID)
	assert.Equal(t, late.Booking.ID, slots[1].ID)
	assert.Equal(t, "09:00", slots[0].Time)
}

func TestConfirmBooking_InvalidEmail(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	for _, email := range []string{"not-an-email", "Eve <eve@example.com>", "a@b.c\r\nBcc: x@y.z"} {
		req := request("2025-07-01", "10:00", "UTC", 1)
		req.UserEmail = email
		_, err := f.svc.ConfirmBooking(ctx, owner, req)
		assert.True(t, errors.Is(err, ErrValidation), email)
	}

	req := request("2025-07-01", "10:00", "UTC", 1)
	req.UserEmail = "rina@example.com"
	res, err := f.svc.ConfirmBooking(ctx, owner, req)
	require.NoError(t, err)
	assert.Equal(t, "rina@example.com", res.Booking.UserEmail)
}

func TestConfirmBooking_CalendarFailureQueuesReconcile(t *testing.T) {
	cal := &mockCalendar{}
	cal.On("InsertEvent", mock.Anything, mock.Anything).Return("", errors.New("calendar down")).Once()
	syncer := &mockSyncer{}
	syncer.On("EnqueueReconcile", mock.Anything, mock.AnythingOfType("string")).Return(nil).Once()
	f := newFixture(t, cal, syncer)
	ctx := context.Background()

	res, err := f.svc.ConfirmBooking(ctx, owner, request("2025-07-01", "10:00", "UTC", 2))
	require.NoError(t, err)
	assert.False(t, res.CalendarSynced)

	stored, err := f.db.GetBooking(ctx, res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CalendarSyncFailed, stored.CalendarSync.Status)
	assert.Equal(t, "calendar down", stored.CalendarSync.LastError)
	assert.Empty(t, stored.CalendarEventID)
	assert.Contains(t, f.events, events.EventCalendarSyncFailed)
	assert.Equal(t, []string{kindCreated}, f.notifier.kinds())

	cal.On("InsertEvent", mock.Anything, mock.Anything).Return("evt-9", nil).Once()
	require.NoError(t, f.svc.ReconcileCalendar(ctx, res.Booking.ID))

	stored, err = f.db.GetBooking(ctx, res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, "evt-9", stored.CalendarEventID)
	assert.Equal(t, models.CalendarSyncOK, stored.CalendarSync.Status)

	cal.AssertExpectations(t)
	syncer.AssertExpectations(t)
}

func TestConfirmBooking_UpdateFallsBackToInsert(t *testing.T) {
	cal := &mockCalendar{}
	cal.On("InsertEvent", mock.Anything, mock.Anything).Return("evt-1", nil).Once()
	cal.On("UpdateEvent", mock.Anything, "evt-1", mock.Anything).Return(domain.ErrEventNotFound).Once()
	cal.On("InsertEvent", mock.Anything, mock.Anything).Return("evt-2", nil).Once()
	f := newFixture(t, cal, nil)
	ctx := context.Background()

	created, err := f.svc.ConfirmBooking(ctx, owner, request("2025-07-01", "10:00", "UTC", 2))
	require.NoError(t, err)

	edit := request("2025-07-01", "11:00", "UTC", 2)
	edit.EditingBookingID = created.Booking.ID
	res, err := f.svc.ConfirmBooking(ctx, owner, edit)
	require.NoError(t, err)
	assert.True(t, res.CalendarSynced)
	assert.Equal(t, "evt-2", res.Booking.CalendarEventID)
	cal.AssertExpectations(t)
}

func TestConfirmBooking_NotificationFailureIgnored(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.notifier.err = errors.New("smtp down")

	res, err := f.svc.ConfirmBooking(context.Background(), owner, request("2025-07-01", "10:00", "UTC", 1))
	require.NoError(t, err)
	assert.True(t, res.Created)
}

func TestConfirmBooking_Busy(t *testing.T) {
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	defer db.Close()

	locker := &mockLocker{}
	locker.On("Lock", mock.Anything, mock.MatchedBy(func(k string) bool { return strings.HasPrefix(k, "booking:") })).
		Return(func() {}, nil)
	locker.On("Lock", mock.Anything, "date:2025-07-01").Return(nil, domain.ErrLockTimeout)

	svc := NewBookingService(Deps{Store: db, Locker: locker}, Options{}, &logger)
	_, err = svc.ConfirmBooking(context.Background(), owner, request("2025-07-01", "10:00", "UTC", 1))
	assert.True(t, errors.Is(err, ErrBusy), "got %v", err)
	assert.True(t, errors.Is(err, domain.ErrLockTimeout))

	slots, err := db.ListSlotsByDate(context.Background(), "2025-07-01")
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestConfirmBooking_ConcurrentSameSlot(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ConfirmBooking(ctx, owner, request("2025-07-01", "10:00", "UTC", 2))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, n-1, conflicts)
}

func TestCancelBooking(t *testing.T) {
	cal := &mockCalendar{}
	cal.On("InsertEvent", mock.Anything, mock.Anything).Return("evt-1", nil).Once()
	cal.On("DeleteEvent", mock.Anything, "evt-1").Return(nil).Once()
	f := newFixture(t, cal, nil)
	ctx := context.Background()

	created, err := f.svc.ConfirmBooking(ctx, owner, request("2025-07-01", "10:00", "UTC", 2))
	require.NoError(t, err)

	_, err = f.svc.CancelBooking(ctx, other, created.Booking.ID)
	assert.True(t, errors.Is(err, ErrForbidden))

	res, err := f.svc.CancelBooking(ctx, owner, created.Booking.ID)
	require.NoError(t, err)
	assert.False(t, res.AlreadyCancelled)

	stored, err := f.db.GetBooking(ctx, created.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status)
	assert.NotNil(t, stored.CancelledAt)
	assert.Empty(t, stored.CalendarEventID)

	slots, err := f.svc.ListBookedSlots(ctx, "2025-07-01")
	require.NoError(t, err)
	assert.Empty(t, slots)

	again, err := f.svc.CancelBooking(ctx, owner, created.Booking.ID)
	require.NoError(t, err)
	assert.True(t, again.AlreadyCancelled)

	missing, err := f.svc.CancelBooking(ctx, owner, "does-not-exist")
	require.NoError(t, err)
	assert.True(t, missing.AlreadyCancelled)

	assert.Equal(t, []string{kindCreated, kindCancelled}, f.notifier.kinds())

	// the freed slot can be booked again
	cal.On("InsertEvent", mock.Anything, mock.Anything).Return("evt-2", nil).Once()
	_, err = f.svc.ConfirmBooking(ctx, other, request("2025-07-01", "10:00", "UTC", 2))
	require.NoError(t, err)
	cal.AssertExpectations(t)
}

func TestCancelBooking_CalendarDeleteTolerated(t *testing.T) {
	cal := &mockCalendar{}
	cal.On("InsertEvent", mock.Anything, mock.Anything).Return("evt-1", nil).Once()
	cal.On("DeleteEvent", mock.Anything, "evt-1").Return(domain.ErrEventNotFound).Once()
	f := newFixture(t, cal, nil)
	ctx := context.Background()

	created, err := f.svc.ConfirmBooking(ctx, owner, request("2025-07-01", "10:00", "UTC", 2))
	require.NoError(t, err)

	_, err = f.svc.CancelBooking(ctx, owner, created.Booking.ID)
	require.NoError(t, err)

	stored, err := f.db.GetBooking(ctx, created.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CalendarSyncOK, stored.CalendarSync.Status)
	assert.Empty(t, stored.CalendarEventID)
}

func TestConfirmPayment(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	created, err := f.svc.ConfirmBooking(ctx, owner, request("2025-07-01", "10:00", "UTC", 2))
	require.NoError(t, err)

	_, err = f.svc.ConfirmPayment(ctx, other, created.Booking.ID)
	assert.True(t, errors.Is(err, ErrForbidden))

	_, err = f.svc.ConfirmPayment(ctx, admin, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	first, err := f.svc.ConfirmPayment(ctx, admin, created.Booking.ID)
	require.NoError(t, err)
	assert.False(t, first.AlreadyPaid)
	assert.Equal(t, models.PaymentPaid, first.Booking.PaymentStatus)

	second, err := f.svc.ConfirmPayment(ctx, owner, created.Booking.ID)
	require.NoError(t, err)
	assert.True(t, second.AlreadyPaid)
	assert.Equal(t, models.PaymentPaid, second.Booking.PaymentStatus)

	assert.Equal(t, []string{kindCreated, kindPaid}, f.notifier.kinds())

	stored, err := f.db.GetBooking(ctx, created.Booking.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PaidAt)
	assert.True(t, stored.PaidAt.Equal(fixedNow))

	_, err = f.svc.CancelBooking(ctx, owner, created.Booking.ID)
	require.NoError(t, err)
	_, err = f.svc.ConfirmPayment(ctx, admin, created.Booking.ID)
	assert.True(t, errors.Is(err, ErrBookingCancelled))
}

func TestListBookedSlots_InvalidDate(t *testing.T) {
	f := newFixture(t, nil, nil)
	for _, date := range []string{"", "2025-13-01", "01/07/2025"} {
		_, err := f.svc.ListBookedSlots(context.Background(), date)
		assert.True(t, errors.Is(err, ErrValidation), "date %q", date)
	}
}

func TestProfileAndOwnBookings(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.svc.UpdateProfile(ctx, owner, "  ")
	assert.True(t, errors.Is(err, ErrValidation))

	profile, err := f.svc.UpdateProfile(ctx, owner, "DJ Rina")
	require.NoError(t, err)
	assert.Equal(t, "DJ Rina", profile.DisplayName)

	res, err := f.svc.ConfirmBooking(ctx, owner, request("2025-07-01", "10:00", "UTC", 1))
	require.NoError(t, err)
	assert.Equal(t, "DJ Rina", res.Booking.UserName)

	named := request("2025-07-02", "10:00", "UTC", 1)
	named.UserName = "Guest Rina"
	res, err = f.svc.ConfirmBooking(ctx, owner, named)
	require.NoError(t, err)
	assert.Equal(t, "Guest Rina", res.Booking.UserName)

	_, err = f.svc.ConfirmBooking(ctx, other, request("2025-07-03", "10:00", "UTC", 1))
	require.NoError(t, err)

	mine, err := f.svc.ListMyBookings(ctx, owner)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "2025-07-02", mine[0].Date)

	got, err := f.svc.GetBooking(ctx, other, mine[0].ID)
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, ErrForbidden))
}

func TestListBookingsForExport(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.svc.ConfirmBooking(ctx, owner, request("2025-07-01", "10:00", "UTC", 1))
	require.NoError(t, err)
	_, err = f.svc.ConfirmBooking(ctx, owner, request("2025-08-01", "10:00", "UTC", 1))
	require.NoError(t, err)

	_, err = f.svc.ListBookingsForExport(ctx, owner, "2025-07-01", "2025-07-31")
	assert.True(t, errors.Is(err, ErrForbidden))

	_, err = f.svc.ListBookingsForExport(ctx, admin, "2025-07-31", "2025-07-01")
	assert.True(t, errors.Is(err, ErrValidation))

	list, err := f.svc.ListBookingsForExport(ctx, admin, "2025-07-01", "2025-07-31")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestReconcileCalendar_Cancelled(t *testing.T) {
	cal := &mockCalendar{}
	cal.On("InsertEvent", mock.Anything, mock.Anything).Return("evt-1", nil).Once()
	cal.On("DeleteEvent", mock.Anything, "evt-1").Return(errors.New("timeout")).Once()
	syncer := &mockSyncer{}
	syncer.On("EnqueueReconcile", mock.Anything, mock.Anything).Return(nil).Once()
	f := newFixture(t, cal, syncer)
	ctx := context.Background()

	created, err := f.svc.ConfirmBooking(ctx, owner, request("2025-07-01", "10:00", "UTC", 2))
	require.NoError(t, err)
	_, err = f.svc.CancelBooking(ctx, owner, created.Booking.ID)
	require.NoError(t, err)

	stored, err := f.db.GetBooking(ctx, created.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CalendarSyncFailed, stored.CalendarSync.Status)
	assert.Equal(t, "evt-1", stored.CalendarEventID)

	cal.On("DeleteEvent", mock.Anything, "evt-1").Return(errors.New("timeout")).Once()
	err = f.svc.ReconcileCalendar(ctx, created.Booking.ID)
	assert.True(t, errors.Is(err, ErrCalendarSync))

	cal.On("DeleteEvent", mock.Anything, "evt-1").Return(nil).Once()
	require.NoError(t, f.svc.ReconcileCalendar(ctx, created.Booking.ID))

	stored, err = f.db.GetBooking(ctx, created.Booking.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.CalendarEventID)
	assert.Equal(t, models.CalendarSyncOK, stored.CalendarSync.Status)

	assert.NoError(t, f.svc.ReconcileCalendar(ctx, "unknown"))
	cal.AssertExpectations(t)
	syncer.AssertExpectations(t)
}

func TestDateLockKeys(t *testing.T) {
	f := func(start, end time.Time) []string {
		return dateLockKeys(schedule.Interval{Start: start, End: end})
	}
	day := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, []string{"date:2025-07-01"}, f(day.Add(10*time.Hour), day.Add(12*time.Hour)))
	assert.Equal(t, []string{"date:2025-07-01"}, f(day.Add(22*time.Hour), day.Add(24*time.Hour)))
	assert.Equal(t, []string{"date:2025-07-01", "date:2025-07-02"}, f(day.Add(22*time.Hour), day.Add(25*time.Hour)))
}
