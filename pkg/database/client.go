// Package database provides the MongoDB client and index bootstrap.
package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection names. Field shapes live in pkg/models.
const (
	CollectionSubAgents     = "subagents"
	CollectionTasks         = "tasks"
	CollectionConversations = "conversations"
)

// Config holds database configuration.
type Config struct {
	URI      string
	Database string

	// ConnectTimeout bounds the initial ping.
	ConnectTimeout time.Duration
}

// Client wraps the Mongo client and the selected database.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewClient connects, pings, and ensures the index set on all collections.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	mc, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := mc.Ping(pingCtx, nil); err != nil {
		_ = mc.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	c := &Client{
		client: mc,
		db:     mc.Database(cfg.Database),
	}

	if err := c.EnsureIndexes(ctx); err != nil {
		_ = mc.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}

	return c, nil
}

// NewClientFromDatabase wraps an existing database handle (useful for testing).
func NewClientFromDatabase(mc *mongo.Client, db *mongo.Database) *Client {
	return &Client{client: mc, db: db}
}

// SubAgents returns the subagents collection.
func (c *Client) SubAgents() *mongo.Collection { return c.db.Collection(CollectionSubAgents) }

// Tasks returns the tasks collection.
func (c *Client) Tasks() *mongo.Collection { return c.db.Collection(CollectionTasks) }

// Conversations returns the conversations collection.
func (c *Client) Conversations() *mongo.Collection {
	return c.db.Collection(CollectionConversations)
}

// Close disconnects the underlying client.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// EnsureIndexes creates the index set on startup. CreateMany is idempotent
// for identical definitions, so repeated startups are safe.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	type indexSet struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}

	sets := []indexSet{
		{
			coll: c.SubAgents(),
			models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "agentId", Value: 1}},
					Options: options.Index().SetUnique(true),
				},
				{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "updatedAt", Value: -1}}},
			},
		},
		{
			coll: c.Tasks(),
			models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "taskId", Value: 1}},
					Options: options.Index().SetUnique(true),
				},
				{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "updatedAt", Value: -1}}},
			},
		},
		{
			coll: c.Conversations(),
			models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "conversationId", Value: 1}},
					Options: options.Index().SetUnique(true),
				},
				{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "lastActivityAt", Value: -1}}},
			},
		},
	}

	for _, set := range sets {
		if _, err := set.coll.Indexes().CreateMany(ctx, set.models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", set.coll.Name(), err)
		}
	}
	return nil
}
