// Package docstore is a MongoDB implementation of the booking store.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studiobook/internal/domain"
	"studiobook/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	bookingsCollection = "bookings"
	slotsCollection    = "public_slots"
	tasksCollection    = "sync_queue"
	profilesCollection = "profiles"
	countersCollection = "counters"
)

// Store keeps the private booking documents and the public slot projection
// in separate collections. Without multi-document transactions a failed
// projection write is compensated by restoring the private document.
type Store struct {
	client   *mongo.Client
	bookings *mongo.Collection
	slots    *mongo.Collection
	tasks    *mongo.Collection
	profiles *mongo.Collection
	counters *mongo.Collection
	logger   *zerolog.Logger
}

func Connect(ctx context.Context, uri, database string, logger *zerolog.Logger) (*Store, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo is not available: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:   client,
		bookings: db.Collection(bookingsCollection),
		slots:    db.Collection(slotsCollection),
		tasks:    db.Collection(tasksCollection),
		profiles: db.Collection(profilesCollection),
		counters: db.Collection(countersCollection),
		logger:   logger,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logger.Info().Str("database", database).Msg("Mongo store initialized")
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.slots.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "start_at", Value: 1}, {Key: "end_at", Value: 1}}},
		{Keys: bson.D{{Key: "date", Value: 1}, {Key: "status", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("create slot indexes: %w", err)
	}
	if _, err := s.bookings.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
		{Keys: bson.D{{Key: "date", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("create booking indexes: %w", err)
	}
	if _, err := s.tasks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_retry_at", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create sync queue index: %w", err)
	}
	return nil
}

func (s *Store) CreateBooking(ctx context.Context, booking *models.Booking) error {
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	booking.CreatedAt = now
	booking.UpdatedAt = now

	if _, err := s.bookings.InsertOne(ctx, booking); err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	if err := s.writeSlot(ctx, booking); err != nil {
		if _, delErr := s.bookings.DeleteOne(ctx, bson.M{"_id": booking.ID}); delErr != nil {
			s.logger.Error().Err(delErr).Str("booking_id", booking.ID).Msg("Failed to roll back booking after projection error")
		}
		return err
	}
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	err := s.bookings.FindOne(ctx, bson.M{"_id": id}).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	normalizeTimes(&b)
	return &b, nil
}

func (s *Store) UpdateBooking(ctx context.Context, booking *models.Booking) error {
	previous, err := s.GetBooking(ctx, booking.ID)
	if err != nil {
		return err
	}
	booking.UpdatedAt = time.Now().UTC()

	update := bson.M{"$set": bson.M{
		"user_name":      booking.UserName,
		"user_email":     booking.UserEmail,
		"date":           booking.Date,
		"time":           booking.Time,
		"duration_hours": booking.DurationHours,
		"user_time_zone": booking.UserTimeZone,
		"equipment":      booking.Equipment,
		"total":          booking.Total,
		"payment_method": booking.PaymentMethod,
		"start_at":       booking.StartAt.UTC(),
		"end_at":         booking.EndAt.UTC(),
		"updated_at":     booking.UpdatedAt,
	}}
	if err := updateOne(ctx, s.bookings, booking.ID, update); err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	if err := s.writeSlot(ctx, booking); err != nil {
		if _, rbErr := s.bookings.ReplaceOne(ctx, bson.M{"_id": previous.ID}, previous); rbErr != nil {
			s.logger.Error().Err(rbErr).Str("booking_id", booking.ID).Msg("Failed to restore booking after projection error")
		}
		return err
	}
	return nil
}

// MarkCancelled cancels the private record, then its projection. When the
// projection write fails the private record is put back to active so a
// repeated cancel can finish the job.
func (s *Store) MarkCancelled(ctx context.Context, id string, at time.Time) error {
	return cancelBooking(ctx, s.bookings, s.slots, id, at.UTC(), s.logger)
}

func cancelBooking(ctx context.Context, bookings, slots collectionUpdater, id string, at time.Time, logger *zerolog.Logger) error {
	if err := updateOne(ctx, bookings, id, cancelUpdate(at)); err != nil {
		return fmt.Errorf("failed to cancel booking: %w", err)
	}

	res, err := slots.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"status": models.StatusCancelled}})
	if err != nil {
		if _, rbErr := bookings.UpdateOne(ctx, bson.M{"_id": id}, reactivateUpdate()); rbErr != nil {
			logger.Error().Err(rbErr).Str("booking_id", id).Msg("Failed to restore booking after projection error")
		}
		return fmt.Errorf("failed to cancel public slot: %w", err)
	}
	if res.MatchedCount == 0 {
		logger.Warn().Str("booking_id", id).Msg("Cancelled booking has no public slot")
	}
	return nil
}

func cancelUpdate(at time.Time) bson.M {
	return bson.M{"$set": bson.M{"status": models.StatusCancelled, "cancelled_at": at, "updated_at": at}}
}

func reactivateUpdate() bson.M {
	return bson.M{
		"$set":   bson.M{"status": models.StatusActive},
		"$unset": bson.M{"cancelled_at": ""},
	}
}

func (s *Store) MarkPaid(ctx context.Context, id string, at time.Time) error {
	at = at.UTC()
	update := bson.M{"$set": bson.M{"payment_status": models.PaymentPaid, "paid_at": at, "updated_at": at}}
	if err := updateOne(ctx, s.bookings, id, update); err != nil {
		return fmt.Errorf("failed to mark booking paid: %w", err)
	}
	return nil
}

func (s *Store) UpdateCalendarSync(ctx context.Context, id, eventID string, sync models.CalendarSync) error {
	update := bson.M{"$set": bson.M{"calendar_event_id": eventID, "calendar_sync": sync}}
	if err := updateOne(ctx, s.bookings, id, update); err != nil {
		return fmt.Errorf("failed to update calendar sync: %w", err)
	}
	return nil
}

func (s *Store) ListActiveSlotsBetween(ctx context.Context, from, to time.Time) ([]models.PublicSlot, error) {
	return s.findSlots(ctx, activeBetweenFilter(from, to), options.Find().SetSort(bson.D{{Key: "start_at", Value: 1}}))
}

func (s *Store) ListSlotsByDate(ctx context.Context, date string) ([]models.PublicSlot, error) {
	return s.findSlots(ctx, bson.M{"date": date, "status": models.StatusActive},
		options.Find().SetSort(bson.D{{Key: "time", Value: 1}, {Key: "start_at", Value: 1}}))
}

func (s *Store) ListBookingsByOwner(ctx context.Context, userID string) ([]*models.Booking, error) {
	return s.findBookings(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "date", Value: -1}, {Key: "time", Value: -1}}))
}

func (s *Store) ListBookingsByDateRange(ctx context.Context, fromDate, toDate string) ([]*models.Booking, error) {
	return s.findBookings(ctx, bson.M{"date": bson.M{"$gte": fromDate, "$lte": toDate}},
		options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "time", Value: 1}}))
}

func (s *Store) UpsertProfile(ctx context.Context, profile *models.Profile) error {
	profile.UpdatedAt = time.Now().UTC()
	_, err := s.profiles.ReplaceOne(ctx, bson.M{"_id": profile.UserID}, profile, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	err := s.profiles.FindOne(ctx, bson.M{"_id": userID}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) writeSlot(ctx context.Context, booking *models.Booking) error {
	slot := models.NewPublicSlot(booking)
	_, err := s.slots.ReplaceOne(ctx, bson.M{"_id": slot.ID}, slot, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to write public slot: %w", err)
	}
	return nil
}

// collectionUpdater is the part of *mongo.Collection the write paths use.
type collectionUpdater interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

func updateOne(ctx context.Context, coll collectionUpdater, id string, update bson.M) error {
	res, err := coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) findSlots(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.PublicSlot, error) {
	cur, err := s.slots.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query slots: %w", err)
	}
	defer cur.Close(ctx)

	var slots []models.PublicSlot
	if err := cur.All(ctx, &slots); err != nil {
		return nil, fmt.Errorf("failed to decode slots: %w", err)
	}
	for i := range slots {
		slots[i].StartAt = slots[i].StartAt.UTC()
		slots[i].EndAt = slots[i].EndAt.UTC()
	}
	return slots, nil
}

func (s *Store) findBookings(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.Booking, error) {
	cur, err := s.bookings.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer cur.Close(ctx)

	var bookings []*models.Booking
	for cur.Next(ctx) {
		var b models.Booking
		if err := cur.Decode(&b); err != nil {
			return nil, fmt.Errorf("failed to decode booking: %w", err)
		}
		normalizeTimes(&b)
		bookings = append(bookings, &b)
	}
	return bookings, cur.Err()
}

// activeBetweenFilter matches active slots intersecting [from, to).
func activeBetweenFilter(from, to time.Time) bson.M {
	return bson.M{
		"status":   models.StatusActive,
		"start_at": bson.M{"$lt": to.UTC()},
		"end_at":   bson.M{"$gt": from.UTC()},
	}
}

// BSON dates decode in the local zone.
func normalizeTimes(b *models.Booking) {
	b.StartAt = b.StartAt.UTC()
	b.EndAt = b.EndAt.UTC()
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
}
