package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/QRescue/internal/model"
	"github.com/dharsanguruparan/QRescue/internal/queue"
	"github.com/dharsanguruparan/QRescue/internal/storage"
)

func TestHandleLogLocation(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(zap.NewNop(), nil)
	p := NewProcessor(store, zap.NewNop())

	task, err := queue.NewLogLocationTask(model.AccidentLogEntry{
		Token: "tok", UserName: "Asha Rao", Latitude: 28.6, Longitude: 77.2, MapsURL: "https://maps?q=28.6,77.2",
	})
	require.NoError(t, err)
	assert.Equal(t, queue.LogLocationTask, task.Type())
	require.NoError(t, p.HandleLogLocation(ctx, task))

	logs, err := store.RecentAccidentLogs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "Asha Rao", logs[0].UserName)
	assert.Equal(t, 77.2, logs[0].Longitude)
}

func TestHandleLogLocationSkipsMalformedPayload(t *testing.T) {
	store := storage.NewMemoryStore(zap.NewNop(), nil)
	p := NewProcessor(store, zap.NewNop())

	err := p.HandleLogLocation(context.Background(), asynq.NewTask(queue.LogLocationTask, []byte("{oops")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalAccidentLogs)
}

func TestHandlerRoutesTask(t *testing.T) {
	store := storage.NewMemoryStore(zap.NewNop(), nil)
	mux := NewProcessor(store, zap.NewNop()).Handler()

	task, err := queue.NewLogLocationTask(model.AccidentLogEntry{Token: "tok", UserName: "Asha"})
	require.NoError(t, err)
	require.NoError(t, mux.ProcessTask(context.Background(), task))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalAccidentLogs)
}
