package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/spectra-assist/spectra/pkg/database"
	"github.com/spectra-assist/spectra/pkg/models"
)

// ConversationService is the append-only audit trail and short-term memory.
// It is the sole mutator of conversation turns.
type ConversationService struct {
	db  *database.Client
	ttl time.Duration
}

// NewConversationService creates a ConversationService with the given
// freshness window for the active conversation.
func NewConversationService(db *database.Client, ttl time.Duration) *ConversationService {
	return &ConversationService{db: db, ttl: ttl}
}

// GetOrCreateActive returns the user's most recent conversation whose
// lastActivityAt falls within the freshness window, minting a new one
// otherwise. Conversations outside the window are immutable archives.
func (s *ConversationService) GetOrCreateActive(ctx context.Context, userID string) (*models.Conversation, error) {
	if userID == "" {
		return nil, NewValidationError("userId", "required")
	}

	cutoff := time.Now().UTC().Add(-s.ttl)
	opts := options.FindOne().SetSort(bson.D{{Key: "lastActivityAt", Value: -1}})

	var conv models.Conversation
	err := s.db.Conversations().FindOne(ctx, bson.M{
		"userId":         userID,
		"lastActivityAt": bson.M{"$gte": cutoff},
	}, opts).Decode(&conv)
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to load active conversation: %w", err)
	}

	now := time.Now().UTC()
	fresh := &models.Conversation{
		ConversationID: uuid.New().String(),
		UserID:         userID,
		Turns:          []models.Turn{},
		CreatedAt:      now,
		LastActivityAt: now,
		Version:        1,
	}
	if _, err := s.db.Conversations().InsertOne(ctx, fresh); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return fresh, nil
}

// AppendTurn appends one turn and bumps lastActivityAt in a single atomic
// update. Turns are append-only; nothing ever rewrites an existing turn.
func (s *ConversationService) AppendTurn(ctx context.Context, conversationID string, role models.TurnRole, content, taskID string) error {
	if content == "" {
		return NewValidationError("content", "required")
	}

	turn := models.Turn{
		Role:             role,
		Content:          content,
		Timestamp:        time.Now().UTC(),
		AssociatedTaskID: taskID,
	}

	res, err := s.db.Conversations().UpdateOne(ctx,
		bson.M{"conversationId": conversationID},
		bson.M{
			"$push": bson.M{"turns": turn},
			"$set":  bson.M{"lastActivityAt": turn.Timestamp},
			"$inc":  bson.M{"version": 1},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves one conversation by id.
func (s *ConversationService) Get(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.Conversations().FindOne(ctx, bson.M{"conversationId": conversationID}).Decode(&conv)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return &conv, nil
}

// HistoryForPlanner formats the last PlannerWindow turns for prompting.
// Older turns stay in persistence but are never fed to the planner.
func (s *ConversationService) HistoryForPlanner(ctx context.Context, conversationID string) (string, error) {
	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return "", err
	}
	return FormatTurns(conv.RecentTurns(models.PlannerWindow)), nil
}

// FormatTurns renders turns as planner context, one line per turn.
func FormatTurns(turns []models.Turn) string {
	if len(turns) == 0 {
		return "(no prior conversation)"
	}
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
