package docstore

import (
	"context"
	"fmt"
	"time"

	"studiobook/internal/domain"
	"studiobook/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (s *Store) CreateSyncTask(ctx context.Context, task *models.SyncTask) error {
	id, err := s.nextSeq(ctx, tasksCollection)
	if err != nil {
		return fmt.Errorf("failed to allocate sync task id: %w", err)
	}
	task.ID = id
	task.CreatedAt = time.Now().UTC()
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}

	if _, err := s.tasks.InsertOne(ctx, task); err != nil {
		return fmt.Errorf("failed to create sync task: %w", err)
	}
	return nil
}

func (s *Store) GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}).SetLimit(int64(limit))
	cur, err := s.tasks.Find(ctx, pendingTasksFilter(time.Now().UTC()), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending sync tasks: %w", err)
	}
	defer cur.Close(ctx)

	var tasks []models.SyncTask
	if err := cur.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode sync tasks: %w", err)
	}
	return tasks, nil
}

func (s *Store) UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	res, err := s.tasks.UpdateOne(ctx, bson.M{"_id": id}, syncStatusUpdate(status, errMsg, nextRetryAt, time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("failed to update sync task status: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) GetFailedSyncTasks(ctx context.Context) ([]models.SyncTask, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.tasks.Find(ctx, bson.M{"status": models.TaskStatusFailed}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed sync tasks: %w", err)
	}
	defer cur.Close(ctx)

	var tasks []models.SyncTask
	if err := cur.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode sync tasks: %w", err)
	}
	return tasks, nil
}

func (s *Store) nextSeq(ctx context.Context, name string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := s.counters.FindOneAndUpdate(ctx, bson.M{"_id": name}, bson.M{"$inc": bson.M{"seq": int64(1)}}, opts).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

func pendingTasksFilter(now time.Time) bson.M {
	return bson.M{
		"status": bson.M{"$in": bson.A{models.TaskStatusPending, models.TaskStatusRetry}},
		"$or": bson.A{
			bson.M{"next_retry_at": nil},
			bson.M{"next_retry_at": bson.M{"$lte": now}},
		},
	}
}

func syncStatusUpdate(status, errMsg string, nextRetryAt *time.Time, now time.Time) bson.M {
	set := bson.M{"status": status, "last_error": errMsg, "next_retry_at": nextRetryAt}
	update := bson.M{"$set": set}

	switch status {
	case models.TaskStatusRetry:
		update["$inc"] = bson.M{"retry_count": 1}
	case models.TaskStatusCompleted, models.TaskStatusFailed:
		set["processed_at"] = now
	}
	return update
}
