package services

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/spectra-assist/spectra/pkg/database"
)

var testDBCounter atomic.Int64

// newTestClient connects to MongoDB for integration tests.
// In CI (when CI_MONGODB_URI is set): connects to an external service container.
// In local dev: spins up a testcontainer, skipping when Docker is unavailable.
// Every test gets its own logical database for isolation.
func newTestClient(t *testing.T) *database.Client {
	ctx := context.Background()

	uri := os.Getenv("CI_MONGODB_URI")
	if uri == "" {
		t.Log("Using testcontainers for MongoDB")
		container, err := mongodb.Run(ctx, "mongo:7")
		if err != nil {
			t.Skipf("could not start mongodb container (is Docker running?): %v", err)
		}
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(container); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})
		uri, err = container.ConnectionString(ctx)
		require.NoError(t, err)
	}

	mc, err := mongo.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = mc.Disconnect(context.Background())
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, mc.Ping(pingCtx, nil))

	dbName := fmt.Sprintf("spectra_test_%d_%d", time.Now().UnixNano(), testDBCounter.Add(1))
	db := mc.Database(dbName)
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
	})

	client := database.NewClientFromDatabase(mc, db)
	require.NoError(t, client.EnsureIndexes(ctx))
	return client
}
