package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/spectra-assist/spectra/pkg/database"
	"github.com/spectra-assist/spectra/pkg/models"
)

// casRetries is the bounded retry count for optimistic-concurrency conflicts.
const casRetries = 3

// SubAgentService owns the persisted projection of daemon-side agents.
// Terminal statuses are monotonic: once completed/failed/killed is recorded,
// every later mutation is rejected with ErrTerminalState.
type SubAgentService struct {
	db *database.Client
}

// NewSubAgentService creates a new SubAgentService.
func NewSubAgentService(db *database.Client) *SubAgentService {
	return &SubAgentService{db: db}
}

// Create inserts a SubAgent record in spawning state. The record is written
// before the spawn command is sent so a crash never loses the agent.
func (s *SubAgentService) Create(ctx context.Context, agentID, userID, goal, workingDirectory string) (*models.SubAgent, error) {
	if agentID == "" {
		return nil, NewValidationError("agentId", "required")
	}
	if userID == "" {
		return nil, NewValidationError("userId", "required")
	}
	if goal == "" {
		return nil, NewValidationError("goal", "required")
	}

	now := time.Now().UTC()
	agent := &models.SubAgent{
		AgentID:          agentID,
		UserID:           userID,
		Status:           models.AgentStatusSpawning,
		Goal:             goal,
		WorkingDirectory: workingDirectory,
		CreatedAt:        now,
		UpdatedAt:        now,
		Version:          1,
	}

	if _, err := s.db.SubAgents().InsertOne(ctx, agent); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("agent %s: %w", agentID, ErrConcurrentModification)
		}
		return nil, fmt.Errorf("failed to insert subagent: %w", err)
	}
	return agent, nil
}

// Get retrieves one SubAgent by id.
func (s *SubAgentService) Get(ctx context.Context, agentID string) (*models.SubAgent, error) {
	var agent models.SubAgent
	err := s.db.SubAgents().FindOne(ctx, bson.M{"agentId": agentID}).Decode(&agent)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load subagent: %w", err)
	}
	return &agent, nil
}

// GetForUser retrieves one SubAgent, refusing cross-user access.
func (s *SubAgentService) GetForUser(ctx context.Context, agentID, userID string) (*models.SubAgent, error) {
	agent, err := s.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.UserID != userID {
		return nil, ErrForbidden
	}
	return agent, nil
}

// ListActive returns the user's non-terminal SubAgents, newest first.
func (s *SubAgentService) ListActive(ctx context.Context, userID string) ([]models.SubAgent, error) {
	return s.list(ctx, bson.M{
		"userId": userID,
		"status": bson.M{"$in": []models.AgentStatus{
			models.AgentStatusSpawning,
			models.AgentStatusRunning,
			models.AgentStatusAwaitingInput,
		}},
	}, 0)
}

// CountActive returns the number of non-terminal SubAgents for quota checks.
func (s *SubAgentService) CountActive(ctx context.Context, userID string) (int64, error) {
	n, err := s.db.SubAgents().CountDocuments(ctx, bson.M{
		"userId": userID,
		"status": bson.M{"$in": []models.AgentStatus{
			models.AgentStatusSpawning,
			models.AgentStatusRunning,
			models.AgentStatusAwaitingInput,
		}},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count active subagents: %w", err)
	}
	return n, nil
}

// ListByUser returns the user's SubAgents, newest first, capped at limit.
func (s *SubAgentService) ListByUser(ctx context.Context, userID string, limit int64) ([]models.SubAgent, error) {
	return s.list(ctx, bson.M{"userId": userID}, limit)
}

// ListNonTerminal returns non-terminal records untouched for longer than
// olderThan. Exposed for an out-of-band reaper; nothing in-process calls it.
func (s *SubAgentService) ListNonTerminal(ctx context.Context, olderThan time.Duration) ([]models.SubAgent, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	return s.list(ctx, bson.M{
		"status": bson.M{"$in": []models.AgentStatus{
			models.AgentStatusSpawning,
			models.AgentStatusRunning,
			models.AgentStatusAwaitingInput,
		}},
		"updatedAt": bson.M{"$lt": cutoff},
	}, 0)
}

func (s *SubAgentService) list(ctx context.Context, filter bson.M, limit int64) ([]models.SubAgent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}
	cur, err := s.db.SubAgents().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list subagents: %w", err)
	}
	var agents []models.SubAgent
	if err := cur.All(ctx, &agents); err != nil {
		return nil, fmt.Errorf("failed to decode subagents: %w", err)
	}
	return agents, nil
}

// UpdateStatus records a non-terminal status transition with an optional
// observation. Updates against a terminal record return ErrTerminalState.
func (s *SubAgentService) UpdateStatus(ctx context.Context, agentID string, status models.AgentStatus, observation string) (*models.SubAgent, error) {
	if !status.Valid() || status.Terminal() {
		return nil, NewValidationError("status", fmt.Sprintf("not a non-terminal status: %s", status))
	}
	return s.mutate(ctx, agentID, func(agent *models.SubAgent, set bson.M) {
		set["status"] = status
		if observation != "" {
			set["lastObservation"] = observation
		}
	})
}

// Complete records the terminal outcome of an agent run. An empty errMsg
// means success (completed); otherwise the agent is marked failed.
func (s *SubAgentService) Complete(ctx context.Context, agentID, result, errMsg string) (*models.SubAgent, error) {
	return s.mutate(ctx, agentID, func(agent *models.SubAgent, set bson.M) {
		now := time.Now().UTC()
		set["completedAt"] = now
		if errMsg != "" {
			set["status"] = models.AgentStatusFailed
			set["error"] = errMsg
		} else {
			set["status"] = models.AgentStatusCompleted
			set["result"] = result
		}
	})
}

// MarkKilled records a kill outcome. reason is stored in the error field
// (e.g. timeout_on_kill when the grace period expires without an ack).
func (s *SubAgentService) MarkKilled(ctx context.Context, agentID, reason string) (*models.SubAgent, error) {
	return s.mutate(ctx, agentID, func(agent *models.SubAgent, set bson.M) {
		set["status"] = models.AgentStatusKilled
		set["completedAt"] = time.Now().UTC()
		if reason != "" {
			set["error"] = reason
		}
	})
}

// mutate runs a compare-and-swap update loop against one record. The build
// callback fills the $set document from the freshly loaded record.
func (s *SubAgentService) mutate(ctx context.Context, agentID string, build func(agent *models.SubAgent, set bson.M)) (*models.SubAgent, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		agent, err := s.Get(ctx, agentID)
		if err != nil {
			return nil, err
		}
		if agent.Status.Terminal() {
			return agent, ErrTerminalState
		}

		set := bson.M{"updatedAt": time.Now().UTC()}
		build(agent, set)

		res, err := s.db.SubAgents().UpdateOne(ctx,
			bson.M{"agentId": agentID, "version": agent.Version},
			bson.M{"$set": set, "$inc": bson.M{"version": 1}},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update subagent: %w", err)
		}
		if res.MatchedCount == 1 {
			return s.Get(ctx, agentID)
		}

		slog.Debug("SubAgent CAS conflict, retrying",
			"agent_id", agentID, "attempt", attempt+1)
	}
	return nil, fmt.Errorf("agent %s: %w", agentID, ErrConcurrentModification)
}
