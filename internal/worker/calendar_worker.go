package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"studiobook/internal/domain"
	"studiobook/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const TaskReconcileCalendar = "reconcile_calendar"

const (
	redisQueueKey = "calendar:queue"
	deadLetterKey = "calendar:deadletter"
)

// Reconciler brings the calendar mirror of one booking up to date.
type Reconciler interface {
	ReconcileCalendar(ctx context.Context, bookingID string) error
}

// reconcilePayload is persisted in SyncTask.Payload as JSON.
type reconcilePayload struct {
	BookingID string `json:"booking_id"`
}

// CalendarWorker consumes sync_queue tasks and retries calendar mirroring
// with exponential backoff.
type CalendarWorker struct {
	store        domain.SyncTaskStore
	reconciler   Reconciler
	redis        *redis.Client
	retryPolicy  RetryPolicy
	queue        chan models.SyncTask
	pollInterval time.Duration
	batchSize    int
	now          func() time.Time
	logger       *zerolog.Logger
}

// NewCalendarWorker builds a worker with sane defaults. redisClient may be nil.
func NewCalendarWorker(store domain.SyncTaskStore, redisClient *redis.Client, retry RetryPolicy, pollInterval time.Duration, logger *zerolog.Logger) *CalendarWorker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &CalendarWorker{
		store:        store,
		redis:        redisClient,
		retryPolicy:  retry.withDefaults(),
		queue:        make(chan models.SyncTask, models.WorkerQueueSize),
		pollInterval: pollInterval,
		batchSize:    20,
		now:          time.Now,
		logger:       logger,
	}
}

// SetReconciler wires the booking service. Tasks are left pending until set.
func (w *CalendarWorker) SetReconciler(r Reconciler) {
	w.reconciler = r
}

// EnqueueReconcile persists a reconcile task and schedules it via redis or
// the in-memory queue.
func (w *CalendarWorker) EnqueueReconcile(ctx context.Context, bookingID string) error {
	if bookingID == "" {
		return errors.New("booking id is required")
	}

	payloadBytes, err := json.Marshal(reconcilePayload{BookingID: bookingID})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.SyncTask{
		TaskType:  TaskReconcileCalendar,
		BookingID: bookingID,
		Payload:   string(payloadBytes),
		Status:    models.TaskStatusPending,
		CreatedAt: w.now().UTC(),
	}
	if err := w.store.CreateSyncTask(ctx, &task); err != nil {
		return fmt.Errorf("persist sync task: %w", err)
	}

	// Try redis first for durability.
	if w.redis != nil {
		if err := w.pushList(ctx, redisQueueKey, &task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("in-memory queue full, task left to polling")
	}
	return nil
}

// Start runs the main loop until ctx is done.
func (w *CalendarWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("calendar worker started")
	defer w.logger.Info().Msg("calendar worker stopped")

	if failed, err := w.store.GetFailedSyncTasks(ctx); err != nil {
		w.logger.Error().Err(err).Msg("fetch failed tasks")
	} else if len(failed) > 0 {
		w.logger.Warn().Int("failed_tasks", len(failed)).Msg("calendar tasks failed permanently, see dead letter")
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if w.reconciler == nil {
			w.sleep(ctx)
			continue
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		tasks, err := w.store.GetPendingSyncTasks(ctx, w.batchSize)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("fetch pending tasks")
			}
			w.sleep(ctx)
			continue
		}
		if len(tasks) == 0 {
			w.sleep(ctx)
			continue
		}

		for i := range tasks {
			w.processTask(ctx, &tasks[i])
		}
	}
}

func (w *CalendarWorker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (w *CalendarWorker) tryLocalQueue() (models.SyncTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.SyncTask{}, false
	}
}

func (w *CalendarWorker) tryRedis(ctx context.Context) (models.SyncTask, bool) {
	if w.redis == nil {
		return models.SyncTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.logger.Warn().Err(err).Msg("redis BRPOP error")
		}
		return models.SyncTask{}, false
	}
	if len(res) != 2 {
		return models.SyncTask{}, false
	}
	var task models.SyncTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode redis task")
		return models.SyncTask{}, false
	}
	return task, true
}

func (w *CalendarWorker) processTask(ctx context.Context, task *models.SyncTask) {
	if task.TaskType != TaskReconcileCalendar {
		w.failTask(ctx, task, fmt.Errorf("unknown task type: %s", task.TaskType))
		return
	}

	payload, err := decodePayload(task.Payload)
	if err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}
	if payload.BookingID == "" {
		w.failTask(ctx, task, errors.New("booking id missing"))
		return
	}

	if err := w.reconciler.ReconcileCalendar(ctx, payload.BookingID); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.TaskStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark completed")
	}
	w.logger.Info().Int64("task_id", task.ID).Str("booking_id", payload.BookingID).Msg("calendar reconciled")
}

func (w *CalendarWorker) retryOrFail(ctx context.Context, task *models.SyncTask, cause error) {
	attempt := task.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.failTask(ctx, task, cause)
		return
	}

	nextTime := w.now().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.TaskStatusRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark retry")
	}
	w.logger.Warn().Err(cause).
		Int64("task_id", task.ID).
		Int("attempt", attempt).
		Time("next_retry_at", nextTime).
		Msg("calendar reconcile failed, will retry")
}

func (w *CalendarWorker) failTask(ctx context.Context, task *models.SyncTask, cause error) {
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.TaskStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark failed")
	}
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("booking_id", task.BookingID).Msg("calendar task failed permanently")
	w.pushDeadLetter(ctx, task)
}

func decodePayload(raw string) (reconcilePayload, error) {
	var payload reconcilePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return payload, err
	}
	return payload, nil
}

func (w *CalendarWorker) pushList(ctx context.Context, key string, task *models.SyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}

func (w *CalendarWorker) pushDeadLetter(ctx context.Context, task *models.SyncTask) {
	if w.redis == nil {
		return
	}
	if err := w.pushList(ctx, deadLetterKey, task); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("deadletter push")
	}
}
