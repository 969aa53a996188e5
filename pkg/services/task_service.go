package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/spectra-assist/spectra/pkg/database"
	"github.com/spectra-assist/spectra/pkg/models"
)

// TaskService drives the Task lifecycle. Status transitions are linearizable
// per taskId: a per-key mutex is held across each transition, and the
// durable write commits before the lock is released.
type TaskService struct {
	db    *database.Client
	locks *keyedMutex
}

// NewTaskService creates a new TaskService.
func NewTaskService(db *database.Client) *TaskService {
	return &TaskService{db: db, locks: newKeyedMutex()}
}

// Create inserts a new Task in pending state and returns it.
func (s *TaskService) Create(ctx context.Context, userID, query string) (*models.Task, error) {
	if userID == "" {
		return nil, NewValidationError("userId", "required")
	}
	if query == "" {
		return nil, NewValidationError("query", "required")
	}

	now := time.Now().UTC()
	task := &models.Task{
		TaskID:    uuid.New().String(),
		UserID:    userID,
		Query:     query,
		Status:    models.TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}

	if _, err := s.db.Tasks().InsertOne(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to insert task: %w", err)
	}
	return task, nil
}

// Get retrieves a task scoped to its owner. A task belonging to another
// user surfaces ErrNotFound so existence is never leaked.
func (s *TaskService) Get(ctx context.Context, taskID, userID string) (*models.Task, error) {
	task, err := s.get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, ErrNotFound
	}
	return task, nil
}

// ListRecent returns the user's most recent tasks, newest first.
func (s *TaskService) ListRecent(ctx context.Context, userID string, limit int64) ([]models.Task, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
		SetLimit(limit)
	cur, err := s.db.Tasks().Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	var tasks []models.Task
	if err := cur.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode tasks: %w", err)
	}
	return tasks, nil
}

// Transition applies a status change under the per-task lock. The mutate
// callback can adjust decision, spawned agent, result, and error fields.
// Transitions out of a terminal status are rejected.
func (s *TaskService) Transition(ctx context.Context, taskID string, status models.TaskStatus, mutate func(set bson.M)) (*models.Task, error) {
	s.locks.Lock(taskID)
	defer s.locks.Unlock(taskID)

	for attempt := 0; attempt < casRetries; attempt++ {
		task, err := s.get(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if task.Status.Terminal() {
			return nil, fmt.Errorf("task %s is %s: %w", taskID, task.Status, ErrTerminalState)
		}

		set := bson.M{
			"status":    status,
			"updatedAt": time.Now().UTC(),
		}
		if status.Terminal() {
			set["completedAt"] = time.Now().UTC()
		}
		if mutate != nil {
			mutate(set)
		}

		res, err := s.db.Tasks().UpdateOne(ctx,
			bson.M{"taskId": taskID, "version": task.Version},
			bson.M{"$set": set, "$inc": bson.M{"version": 1}},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update task: %w", err)
		}
		if res.MatchedCount == 1 {
			return s.get(ctx, taskID)
		}
	}
	return nil, fmt.Errorf("task %s: %w", taskID, ErrConcurrentModification)
}

// SetStatus applies a bare status transition.
func (s *TaskService) SetStatus(ctx context.Context, taskID string, status models.TaskStatus) (*models.Task, error) {
	return s.Transition(ctx, taskID, status, nil)
}

// SetDecision records the planner decision on its way to dispatch.
func (s *TaskService) SetDecision(ctx context.Context, taskID string, status models.TaskStatus, decision models.DecisionType) (*models.Task, error) {
	return s.Transition(ctx, taskID, status, func(set bson.M) {
		set["decision"] = decision
	})
}

// SetSpawnedAgent records the agent a spawn decision produced and moves the
// task to waiting.
func (s *TaskService) SetSpawnedAgent(ctx context.Context, taskID, agentID string) (*models.Task, error) {
	return s.Transition(ctx, taskID, models.TaskStatusWaiting, func(set bson.M) {
		set["spawnedAgentId"] = agentID
	})
}

// SetResult marks the task done with its dual-surface result.
func (s *TaskService) SetResult(ctx context.Context, taskID string, result models.TaskResult) (*models.Task, error) {
	if result.GlassesDisplay == "" {
		return nil, NewValidationError("glassesDisplay", "required for done tasks")
	}
	if result.WebviewContent == "" {
		return nil, NewValidationError("webviewContent", "required for done tasks")
	}
	return s.Transition(ctx, taskID, models.TaskStatusDone, func(set bson.M) {
		set["result"] = result
	})
}

// SetError marks the task errored with a code discriminator and a
// user-facing dual-surface explanation.
func (s *TaskService) SetError(ctx context.Context, taskID, code, message string, result *models.TaskResult) (*models.Task, error) {
	return s.Transition(ctx, taskID, models.TaskStatusError, func(set bson.M) {
		set["errorCode"] = code
		set["errorMessage"] = message
		if result != nil {
			set["result"] = result
		}
	})
}

func (s *TaskService) get(ctx context.Context, taskID string) (*models.Task, error) {
	var task models.Task
	err := s.db.Tasks().FindOne(ctx, bson.M{"taskId": taskID}).Decode(&task)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	return &task, nil
}
