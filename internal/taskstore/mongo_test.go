package taskstore_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photopipe/internal/pipeline"
	"photopipe/internal/services"
	"photopipe/internal/taskstore"
)

func openMongo(t *testing.T) *taskstore.MongoStore {
	t.Helper()
	uri := os.Getenv("PHOTOPIPE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("PHOTOPIPE_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := taskstore.OpenMongo(ctx, taskstore.MongoOptions{
		URI:      uri,
		Database: fmt.Sprintf("photopipe_test_%d", time.Now().UnixNano()),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenMongoRequiresSettings(t *testing.T) {
	tests := map[string]struct {
		opts taskstore.MongoOptions
	}{
		"missing uri":      {opts: taskstore.MongoOptions{Database: "x"}},
		"missing database": {opts: taskstore.MongoOptions{URI: "mongodb://localhost:27017"}},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := taskstore.OpenMongo(context.Background(), test.opts)
			assert.ErrorIs(t, err, services.ErrConfiguration)
		})
	}
}

func TestMongoStoreLifecycle(t *testing.T) {
	store := openMongo(t)
	ctx := context.Background()

	latest, err := store.LatestTaskID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), latest)

	added, err := store.Insert(ctx, pipeline.NewTask("/data/mongo"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), added.ID)

	added.Step = pipeline.StepRawToIntermediate
	added.MarkDispatched(time.Now())
	require.NoError(t, store.Replace(ctx, added))

	ok, err := store.TouchHeartbeat(ctx, added.ID, pipeline.StepRawToIntermediate)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ReportFailure(ctx, added.ID, pipeline.StepRawToIntermediate, "converter crashed")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Get(ctx, added.ID)
	require.NoError(t, err)
	assert.False(t, got.StepInProgress)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "converter crashed", got.LastError)
	assert.Nil(t, got.HeartbeatAt)

	count, err := store.RestartAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, store.Delete(ctx, added.ID))
	_, err = store.Get(ctx, added.ID)
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestMongoExplicitIDs(t *testing.T) {
	tests := map[string]struct {
		explicit int64
		expNext  int64
	}{
		"explicit id ahead of counter raises it": {explicit: 7, expNext: 8},
		"explicit id one":                        {explicit: 1, expNext: 2},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			store := openMongo(t)
			ctx := context.Background()

			task := pipeline.NewTask("/data/explicit")
			task.ID = test.explicit
			_, err := store.Insert(ctx, task)
			require.NoError(t, err)

			_, err = store.Insert(ctx, task)
			assert.ErrorIs(t, err, services.ErrValidation)

			next, err := store.NextTaskID(ctx)
			require.NoError(t, err)
			assert.Equal(t, test.expNext, next)
		})
	}
}
