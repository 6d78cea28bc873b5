package service

import (
	"context"
	"math"
	"net/mail"
	"sort"
	"strings"
	"time"

	"studiobook/internal/domain"
	"studiobook/internal/events"
	"studiobook/internal/models"
	"studiobook/internal/repository"
	"studiobook/internal/schedule"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// candidateWindow pads the conflict query so bookings stored under any
	// zone offset are still considered.
	candidateWindow = 24 * time.Hour

	defaultSideEffectTimeout = 15 * time.Second
)

// Deps are the collaborators of BookingService. Calendar, Notifier, Events
// and Syncer are optional.
type Deps struct {
	Store    domain.BookingStore
	Locker   domain.DateLocker
	Calendar domain.CalendarClient
	Notifier domain.Notifier
	Events   domain.EventPublisher
	Syncer   domain.SyncEnqueuer
}

type Options struct {
	DefaultTimeZone   string
	MaxDurationHours  float64
	DefaultUserName   string
	LockWait          time.Duration
	SideEffectTimeout time.Duration
}

// ConfirmRequest is a create (EditingBookingID empty) or edit request.
type ConfirmRequest struct {
	Date             string
	Time             string
	DurationHours    float64
	UserTimeZone     string
	UserName         string
	UserEmail        string
	Equipment        []models.EquipmentItem
	Total            float64
	PaymentMethod    string
	EditingBookingID string
}

type ConfirmResult struct {
	Booking        *models.Booking
	Created        bool
	CalendarSynced bool
}

type CancelResult struct {
	BookingID        string
	AlreadyCancelled bool
}

type PaymentResult struct {
	Booking     *models.Booking
	AlreadyPaid bool
}

type BookingService struct {
	store    domain.BookingStore
	locker   domain.DateLocker
	calendar domain.CalendarClient
	notifier domain.Notifier
	eventBus domain.EventPublisher
	syncer   domain.SyncEnqueuer
	opts     Options
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewBookingService(deps Deps, opts Options, logger *zerolog.Logger) *BookingService {
	if opts.DefaultTimeZone == "" {
		opts.DefaultTimeZone = "Asia/Jakarta"
	}
	if opts.MaxDurationHours <= 0 {
		opts.MaxDurationHours = 12
	}
	if opts.DefaultUserName == "" {
		opts.DefaultUserName = "A User"
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 5 * time.Second
	}
	if opts.SideEffectTimeout <= 0 {
		opts.SideEffectTimeout = defaultSideEffectTimeout
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	locker := deps.Locker
	if locker == nil {
		locker = repository.NewMemoryDateLocker(opts.LockWait)
	}

	return &BookingService{
		store:    deps.Store,
		locker:   locker,
		calendar: deps.Calendar,
		notifier: deps.Notifier,
		eventBus: deps.Events,
		syncer:   deps.Syncer,
		opts:     opts,
		now:      time.Now,
		logger:   logger,
	}
}

// ConfirmBooking creates a booking, or edits the one named by
// req.EditingBookingID, after checking it against every active booking.
func (s *BookingService) ConfirmBooking(ctx context.Context, caller models.Identity, req ConfirmRequest) (*ConfirmResult, error) {
	if caller.UserID == "" {
		return nil, ErrUnauthenticated
	}

	req = s.withDefaults(req)
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	interval, err := schedule.Normalize(req.Date, req.Time, req.UserTimeZone, req.DurationHours)
	if err != nil {
		return nil, invalid(err, "normalize booking time")
	}
	if req.Time, err = schedule.CanonicalClock(req.Time); err != nil {
		return nil, invalid(err, "normalize booking time")
	}

	editing := req.EditingBookingID != ""
	bookingID := req.EditingBookingID
	if !editing {
		bookingID = uuid.NewString()
	}

	// Порядок захвата: сначала бронь, потом даты по возрастанию.
	keys := append([]string{bookingLockKey(bookingID)}, dateLockKeys(interval)...)
	unlockBooking, err := s.lock(ctx, keys[:1])
	if err != nil {
		return nil, err
	}
	defer unlockBooking()

	unlockDates, err := s.lock(ctx, keys[1:])
	if err != nil {
		return nil, err
	}

	booking, err := s.writeBooking(ctx, caller, req, interval, bookingID, editing)
	unlockDates()
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("booking_id", booking.ID).
		Str("user_id", booking.UserID).
		Bool("edit", editing).
		Str("interval", interval.String()).
		Msg("booking stored")

	sideCtx, cancel := s.sideEffectContext(ctx)
	defer cancel()

	synced := s.syncCalendar(sideCtx, booking)

	eventType, kind := events.EventBookingCreated, kindCreated
	if editing {
		eventType, kind = events.EventBookingUpdated, kindUpdated
	}
	s.notify(sideCtx, booking, kind)
	s.publishEvent(eventType, booking, caller.UserID, "")

	return &ConfirmResult{Booking: booking, Created: !editing, CalendarSynced: synced}, nil
}

func (s *BookingService) writeBooking(
	ctx context.Context,
	caller models.Identity,
	req ConfirmRequest,
	interval schedule.Interval,
	bookingID string,
	editing bool,
) (*models.Booking, error) {
	var existing *models.Booking
	if editing {
		b, err := s.getBooking(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if !isOwner(caller, b) {
			return nil, errors.Wrapf(ErrForbidden, "booking %s belongs to another user", bookingID)
		}
		if !b.IsActive() {
			return nil, errors.Wrapf(ErrBookingCancelled, "booking %s", bookingID)
		}
		existing = b
	}

	if err := s.checkConflicts(ctx, interval, bookingID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	booking := &models.Booking{
		ID:            bookingID,
		Date:          req.Date,
		Time:          req.Time,
		DurationHours: req.DurationHours,
		UserTimeZone:  req.UserTimeZone,
		UserID:        caller.UserID,
		UserName:      s.resolveUserName(ctx, caller, req.UserName),
		UserEmail:     firstNonEmpty(req.UserEmail, caller.Email),
		Equipment:     req.Equipment,
		Total:         req.Total,
		PaymentMethod: req.PaymentMethod,
		PaymentStatus: models.PaymentPending,
		CalendarSync:  models.CalendarSync{Status: models.CalendarSyncPending},
		Status:        models.StatusActive,
		StartAt:       interval.Start,
		EndAt:         interval.End,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if existing == nil {
		if err := s.store.CreateBooking(ctx, booking); err != nil {
			return nil, errors.Wrap(err, "create booking")
		}
		return booking, nil
	}

	// Владелец и платёж не меняются при редактировании.
	booking.UserID = existing.UserID
	booking.PaymentStatus = existing.PaymentStatus
	booking.PaidAt = existing.PaidAt
	booking.CalendarEventID = existing.CalendarEventID
	booking.CalendarSync = existing.CalendarSync
	booking.CreatedAt = existing.CreatedAt
	if req.UserName == "" {
		booking.UserName = existing.UserName
	}
	if booking.UserEmail == "" {
		booking.UserEmail = existing.UserEmail
	}

	if err := s.store.UpdateBooking(ctx, booking); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "booking %s", bookingID)
		}
		return nil, errors.Wrap(err, "update booking")
	}
	return booking, nil
}

// checkConflicts fails with a *ConflictError when interval overlaps an
// active booking other than excludeID.
func (s *BookingService) checkConflicts(ctx context.Context, interval schedule.Interval, excludeID string) error {
	slots, err := s.store.ListActiveSlotsBetween(ctx, interval.Start.Add(-candidateWindow), interval.End.Add(candidateWindow))
	if err != nil {
		return errors.Wrap(err, "list candidate slots")
	}

	entries := make([]schedule.Entry, 0, len(slots))
	byID := make(map[string]models.PublicSlot, len(slots))
	for _, slot := range slots {
		byID[slot.ID] = slot
		iv, err := schedule.Normalize(slot.Date, slot.Time, slot.UserTimeZone, slot.DurationHours)
		if err != nil {
			s.logger.Warn().Err(err).Str("booking_id", slot.ID).Msg("stored slot does not normalize, using stored instants")
			iv = schedule.Interval{Start: slot.StartAt.UTC(), End: slot.EndAt.UTC()}
		}
		entries = append(entries, schedule.Entry{ID: slot.ID, Interval: iv})
	}

	conflicts := schedule.FindConflicts(interval, entries, excludeID)
	if len(conflicts) == 0 {
		return nil
	}

	clashing := make([]models.PublicSlot, 0, len(conflicts))
	for _, c := range conflicts {
		clashing = append(clashing, byID[c.ID])
	}
	return &ConflictError{Slots: clashing}
}

// CancelBooking cancels the caller's booking. Unknown and already cancelled
// bookings succeed without side effects.
func (s *BookingService) CancelBooking(ctx context.Context, caller models.Identity, bookingID string) (*CancelResult, error) {
	if caller.UserID == "" {
		return nil, ErrUnauthenticated
	}
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return nil, validationf("booking id is required")
	}

	unlock, err := s.lock(ctx, []string{bookingLockKey(bookingID)})
	if err != nil {
		return nil, err
	}
	defer unlock()

	booking, err := s.getBooking(ctx, bookingID)
	if errors.Is(err, ErrNotFound) {
		return &CancelResult{BookingID: bookingID, AlreadyCancelled: true}, nil
	}
	if err != nil {
		return nil, err
	}
	if !isOwner(caller, booking) {
		return nil, errors.Wrapf(ErrForbidden, "booking %s belongs to another user", bookingID)
	}
	if !booking.IsActive() {
		return &CancelResult{BookingID: bookingID, AlreadyCancelled: true}, nil
	}

	now := s.now().UTC()
	if err := s.store.MarkCancelled(ctx, bookingID, now); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &CancelResult{BookingID: bookingID, AlreadyCancelled: true}, nil
		}
		return nil, errors.Wrap(err, "cancel booking")
	}
	booking.Status = models.StatusCancelled
	booking.CancelledAt = &now

	s.logger.Info().Str("booking_id", bookingID).Str("by", caller.UserID).Msg("booking cancelled")

	sideCtx, cancel := s.sideEffectContext(ctx)
	defer cancel()

	s.syncCalendar(sideCtx, booking)
	s.notify(sideCtx, booking, kindCancelled)
	s.publishEvent(events.EventBookingCancelled, booking, caller.UserID, "")

	return &CancelResult{BookingID: bookingID}, nil
}

// ConfirmPayment marks an active booking paid. Re-confirming a paid booking
// succeeds without a write or a notification.
func (s *BookingService) ConfirmPayment(ctx context.Context, caller models.Identity, bookingID string) (*PaymentResult, error) {
	if caller.UserID == "" {
		return nil, ErrUnauthenticated
	}
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return nil, validationf("booking id is required")
	}

	unlock, err := s.lock(ctx, []string{bookingLockKey(bookingID)})
	if err != nil {
		return nil, err
	}
	defer unlock()

	booking, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !canManage(caller, booking) {
		return nil, errors.Wrapf(ErrForbidden, "booking %s belongs to another user", bookingID)
	}
	if !booking.IsActive() {
		return nil, errors.Wrapf(ErrBookingCancelled, "booking %s", bookingID)
	}
	if booking.IsPaid() {
		return &PaymentResult{Booking: booking, AlreadyPaid: true}, nil
	}

	now := s.now().UTC()
	if err := s.store.MarkPaid(ctx, bookingID, now); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "booking %s", bookingID)
		}
		return nil, errors.Wrap(err, "mark paid")
	}
	booking.PaymentStatus = models.PaymentPaid
	booking.PaidAt = &now

	s.logger.Info().Str("booking_id", bookingID).Str("by", caller.UserID).Msg("payment confirmed")

	sideCtx, cancel := s.sideEffectContext(ctx)
	defer cancel()

	// Описание события в календаре содержит статус оплаты.
	if booking.CalendarEventID != "" {
		s.syncCalendar(sideCtx, booking)
	}
	s.notify(sideCtx, booking, kindPaid)
	s.publishEvent(events.EventBookingPaid, booking, caller.UserID, "")

	return &PaymentResult{Booking: booking}, nil
}

// ListBookedSlots returns the active public slots recorded under date,
// ordered by start time.
func (s *BookingService) ListBookedSlots(ctx context.Context, date string) ([]models.PublicSlot, error) {
	date = strings.TrimSpace(date)
	if !schedule.IsDate(date) {
		return nil, validationf("date %q must be YYYY-MM-DD", date)
	}
	slots, err := s.store.ListSlotsByDate(ctx, date)
	if err != nil {
		return nil, errors.Wrap(err, "list slots")
	}
	return slots, nil
}

func (s *BookingService) ListMyBookings(ctx context.Context, caller models.Identity) ([]*models.Booking, error) {
	if caller.UserID == "" {
		return nil, ErrUnauthenticated
	}
	bookings, err := s.store.ListBookingsByOwner(ctx, caller.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "list own bookings")
	}
	return bookings, nil
}

// GetBooking returns the private record to its owner or an admin.
func (s *BookingService) GetBooking(ctx context.Context, caller models.Identity, bookingID string) (*models.Booking, error) {
	if caller.UserID == "" {
		return nil, ErrUnauthenticated
	}
	booking, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !canManage(caller, booking) {
		return nil, errors.Wrapf(ErrForbidden, "booking %s belongs to another user", bookingID)
	}
	return booking, nil
}

// ListBookingsForExport returns every booking with a date in [fromDate, toDate].
func (s *BookingService) ListBookingsForExport(ctx context.Context, caller models.Identity, fromDate, toDate string) ([]*models.Booking, error) {
	if caller.UserID == "" {
		return nil, ErrUnauthenticated
	}
	if !caller.IsAdmin() {
		return nil, errors.Wrap(ErrForbidden, "export requires admin")
	}
	if !schedule.IsDate(fromDate) || !schedule.IsDate(toDate) {
		return nil, validationf("export range %q..%q must be YYYY-MM-DD dates", fromDate, toDate)
	}
	if toDate < fromDate {
		return nil, validationf("export range ends before it starts")
	}
	bookings, err := s.store.ListBookingsByDateRange(ctx, fromDate, toDate)
	if err != nil {
		return nil, errors.Wrap(err, "list bookings for export")
	}
	return bookings, nil
}

// UpdateProfile stores the caller's display name. Later bookings without an
// explicit name use it.
func (s *BookingService) UpdateProfile(ctx context.Context, caller models.Identity, displayName string) (*models.Profile, error) {
	if caller.UserID == "" {
		return nil, ErrUnauthenticated
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, validationf("display name is required")
	}
	if len(displayName) > 100 {
		return nil, validationf("display name is too long")
	}

	profile := &models.Profile{UserID: caller.UserID, DisplayName: displayName, UpdatedAt: s.now().UTC()}
	if err := s.store.UpsertProfile(ctx, profile); err != nil {
		return nil, errors.Wrap(err, "upsert profile")
	}
	return profile, nil
}

// ReconcileCalendar brings the calendar event of bookingID in line with the
// stored booking. It returns an error when the calendar call fails so the
// caller can retry.
func (s *BookingService) ReconcileCalendar(ctx context.Context, bookingID string) error {
	if s.calendar == nil {
		return nil
	}

	unlock, err := s.lock(ctx, []string{bookingLockKey(bookingID)})
	if err != nil {
		return err
	}
	defer unlock()

	booking, err := s.getBooking(ctx, bookingID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	eventID, mirrorErr := s.mirror(ctx, booking)
	s.recordSync(ctx, booking, eventID, mirrorErr)
	if mirrorErr != nil {
		return errors.Mark(mirrorErr, ErrCalendarSync)
	}
	return nil
}

// syncCalendar mirrors booking and persists the outcome. Failures are
// queued for reconciliation and never returned.
func (s *BookingService) syncCalendar(ctx context.Context, booking *models.Booking) bool {
	if s.calendar == nil {
		return false
	}

	eventID, err := s.mirror(ctx, booking)
	s.recordSync(ctx, booking, eventID, err)
	if err == nil {
		return true
	}

	s.logger.Warn().Err(err).Str("booking_id", booking.ID).Msg("calendar sync failed, queued for reconcile")
	s.publishEvent(events.EventCalendarSyncFailed, booking, "system", err.Error())
	if s.syncer != nil {
		if qErr := s.syncer.EnqueueReconcile(ctx, booking.ID); qErr != nil {
			s.logger.Error().Err(qErr).Str("booking_id", booking.ID).Msg("enqueue reconcile error")
		}
	}
	return false
}

// mirror performs the calendar call matching booking's state and returns
// the event id the booking should carry afterwards.
func (s *BookingService) mirror(ctx context.Context, booking *models.Booking) (string, error) {
	if !booking.IsActive() {
		if booking.CalendarEventID == "" {
			return "", nil
		}
		err := s.calendar.DeleteEvent(ctx, booking.CalendarEventID)
		if err != nil && !errors.Is(err, domain.ErrEventNotFound) {
			return booking.CalendarEventID, err
		}
		return "", nil
	}

	if booking.CalendarEventID != "" {
		err := s.calendar.UpdateEvent(ctx, booking.CalendarEventID, booking)
		if err == nil {
			return booking.CalendarEventID, nil
		}
		if !errors.Is(err, domain.ErrEventNotFound) {
			return booking.CalendarEventID, err
		}
		s.logger.Info().Str("booking_id", booking.ID).Msg("calendar event missing, inserting a new one")
	}

	eventID, err := s.calendar.InsertEvent(ctx, booking)
	if err != nil {
		return "", err
	}
	return eventID, nil
}

func (s *BookingService) recordSync(ctx context.Context, booking *models.Booking, eventID string, syncErr error) {
	sync := models.CalendarSync{Status: models.CalendarSyncOK}
	if syncErr != nil {
		sync = models.CalendarSync{Status: models.CalendarSyncFailed, LastError: syncErr.Error()}
	} else {
		at := s.now().UTC()
		sync.SyncedAt = &at
	}

	if err := s.store.UpdateCalendarSync(ctx, booking.ID, eventID, sync); err != nil {
		s.logger.Error().Err(err).Str("booking_id", booking.ID).Str("event_id", eventID).Msg("persist calendar sync error")
		return
	}
	booking.CalendarEventID = eventID
	booking.CalendarSync = sync
}

func (s *BookingService) notify(ctx context.Context, booking *models.Booking, kind string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, bookingNotification(kind, booking)); err != nil {
		s.logger.Warn().Err(errors.Mark(err, ErrNotification)).
			Str("booking_id", booking.ID).
			Str("kind", kind).
			Msg("notification failed")
	}
}

func (s *BookingService) publishEvent(eventType string, booking *models.Booking, changedBy, errMsg string) {
	if s.eventBus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:     booking.ID,
		UserID:        booking.UserID,
		UserName:      booking.UserName,
		Date:          booking.Date,
		Time:          booking.Time,
		DurationHours: booking.DurationHours,
		TimeZone:      booking.UserTimeZone,
		Status:        booking.Status,
		PaymentStatus: booking.PaymentStatus,
		ChangedBy:     changedBy,
		Error:         errMsg,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("booking_id", booking.ID).Msg("publish event error")
	}
}

func (s *BookingService) getBooking(ctx context.Context, id string) (*models.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "booking %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get booking")
	}
	return b, nil
}

// lock acquires keys in order. On failure the keys already held are released.
func (s *BookingService) lock(ctx context.Context, keys []string) (func(), error) {
	unlocks := make([]func(), 0, len(keys))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}

	for _, key := range keys {
		unlock, err := s.locker.Lock(ctx, key)
		if err != nil {
			release()
			if errors.Is(err, domain.ErrLockTimeout) {
				return nil, errors.Mark(errors.Wrapf(err, "lock %s", key), ErrBusy)
			}
			return nil, errors.Wrapf(err, "lock %s", key)
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

func (s *BookingService) sideEffectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.opts.SideEffectTimeout)
}

func (s *BookingService) withDefaults(req ConfirmRequest) ConfirmRequest {
	req.Date = strings.TrimSpace(req.Date)
	req.Time = strings.TrimSpace(req.Time)
	req.UserTimeZone = strings.TrimSpace(req.UserTimeZone)
	req.UserName = strings.TrimSpace(req.UserName)
	req.UserEmail = strings.TrimSpace(req.UserEmail)
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	req.EditingBookingID = strings.TrimSpace(req.EditingBookingID)
	if req.UserTimeZone == "" {
		req.UserTimeZone = s.opts.DefaultTimeZone
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = models.PaymentMethodCash
	}
	return req
}

func (s *BookingService) validateRequest(req ConfirmRequest) error {
	if req.Date == "" || req.Time == "" {
		return validationf("date and time are required")
	}
	if math.IsNaN(req.DurationHours) || req.DurationHours <= 0 {
		return validationf("duration must be positive")
	}
	if req.DurationHours > s.opts.MaxDurationHours {
		return validationf("duration %g hours exceeds the %g hour limit", req.DurationHours, s.opts.MaxDurationHours)
	}
	if !models.IsValidPaymentMethod(req.PaymentMethod) {
		return validationf("unknown payment method %q", req.PaymentMethod)
	}
	if math.IsNaN(req.Total) || math.IsInf(req.Total, 0) || req.Total < 0 {
		return validationf("total must be a non-negative amount")
	}
	if req.UserEmail != "" {
		addr, err := mail.ParseAddress(req.UserEmail)
		if err != nil || addr.Name != "" || addr.Address != req.UserEmail {
			return validationf("invalid email address %q", req.UserEmail)
		}
	}
	for i, item := range req.Equipment {
		if strings.TrimSpace(item.Name) == "" {
			return validationf("equipment item %d has no name", i)
		}
		if item.Price < 0 {
			return validationf("equipment %q has a negative price", item.Name)
		}
	}
	return nil
}

// resolveUserName picks the request name, then the stored profile, then the
// token name, then the configured default.
func (s *BookingService) resolveUserName(ctx context.Context, caller models.Identity, requested string) string {
	if requested != "" {
		return requested
	}
	profile, err := s.store.GetProfile(ctx, caller.UserID)
	if err == nil && profile.DisplayName != "" {
		return profile.DisplayName
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn().Err(err).Str("user_id", caller.UserID).Msg("load profile error")
	}
	if caller.DisplayName != "" && caller.DisplayName != models.AnonymousName {
		return caller.DisplayName
	}
	return s.opts.DefaultUserName
}

// isOwner guards edit and cancel. Admins get no exception there.
func isOwner(caller models.Identity, b *models.Booking) bool {
	return caller.UserID != "" && caller.UserID == b.UserID
}

// canManage guards payment confirmation and reads.
func canManage(caller models.Identity, b *models.Booking) bool {
	return caller.UserID == b.UserID || caller.IsAdmin()
}

func bookingLockKey(id string) string {
	return "booking:" + id
}

// dateLockKeys returns one key per UTC date the interval touches, sorted.
// Two overlapping intervals always share at least one key.
func dateLockKeys(iv schedule.Interval) []string {
	var keys []string
	last := iv.End.Add(-time.Nanosecond).UTC()
	for d := iv.Start.UTC().Truncate(24 * time.Hour); !d.After(last); d = d.Add(24 * time.Hour) {
		keys = append(keys, "date:"+d.Format(schedule.DateLayout))
	}
	sort.Strings(keys)
	return keys
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
