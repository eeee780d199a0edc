package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dharsanguruparan/QRescue/internal/model"
)

func profile(name string) model.Profile {
	return model.Profile{
		FullName:            name,
		BloodGroup:          "O+",
		EmergencyContacts:   []model.Contact{{Name: "Mom", Phone: "9876543210"}},
		GovernmentHelplines: []model.Contact{{Name: "Emergency", Phone: "112"}},
	}
}

func TestProfiles(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(zap.NewNop(), nil)

	_, err := s.GetProfile(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutProfile(ctx, "0123456789abcdef0123456789abcdef", profile("Asha")))
	got, err := s.GetProfile(ctx, "0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	assert.Equal(t, "Asha", got.FullName)
	assert.False(t, got.CreatedAt.IsZero(), "store-write time is stamped")

	// Mutating the returned copy leaves the stored record untouched.
	got.EmergencyContacts[0].Name = "changed"
	again, err := s.GetProfile(ctx, "0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	assert.Equal(t, "Mom", again.EmergencyContacts[0].Name)

	assert.Error(t, s.PutProfile(ctx, "", profile("x")))
}

func TestAccidentLogsAreAppendOnlyAndOrdered(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(zap.NewNop(), nil)

	logs, err := s.RecentAccidentLogs(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, logs)

	var ids []string
	for _, name := range []string{"a", "b", "c"} {
		entry, err := s.AppendAccidentLog(ctx, model.AccidentLogEntry{Token: "t", UserName: name, Latitude: 1, Longitude: 2})
		require.NoError(t, err)
		assert.NotEmpty(t, entry.ID)
		assert.False(t, entry.ReportedAt.IsZero())
		ids = append(ids, entry.ID)
	}
	assert.Less(t, ids[0], ids[1])
	assert.Less(t, ids[1], ids[2])

	recent, err := s.RecentAccidentLogs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].UserName)
	assert.Equal(t, "b", recent[1].UserName)

	all, err := s.RecentAccidentLogs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	more, err := s.RecentAccidentLogs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, more, 3)
}

func TestMarkPhotoViewedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(zap.NewNop(), nil)
	require.NoError(t, s.PutPhoto(ctx, model.PhotoRecord{ViewToken: "v1", OwnerToken: "t", Filename: "f.jpg"}))

	rec, err := s.GetPhoto(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, rec.Viewed)
	assert.Nil(t, rec.ViewedAt)

	first, err := s.MarkPhotoViewed(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, first)
	rec, err = s.GetPhoto(ctx, "v1")
	require.NoError(t, err)
	require.NotNil(t, rec.ViewedAt)
	viewedAt := *rec.ViewedAt

	time.Sleep(2 * time.Millisecond)
	second, err := s.MarkPhotoViewed(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, second)
	rec, err = s.GetPhoto(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, rec.Viewed)
	assert.Equal(t, viewedAt, *rec.ViewedAt)

	absent, err := s.MarkPhotoViewed(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, absent)
	_, err = s.GetPhoto(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkPhotoViewedConcurrently(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(zap.NewNop(), nil)
	require.NoError(t, s.PutPhoto(ctx, model.PhotoRecord{ViewToken: "v1"}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.MarkPhotoViewed(ctx, "v1"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(zap.NewNop(), nil)
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Stats{}, stats)

	require.NoError(t, s.PutProfile(ctx, "a", profile("A")))
	require.NoError(t, s.PutProfile(ctx, "b", profile("B")))
	_, err = s.AppendAccidentLog(ctx, model.AccidentLogEntry{Token: "a"})
	require.NoError(t, err)
	require.NoError(t, s.PutPhoto(ctx, model.PhotoRecord{ViewToken: "v"}))

	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalUsers)
	assert.Equal(t, 1, stats.TotalAccidentLogs)
	assert.Equal(t, 1, stats.TotalPhotos)
	assert.WithinDuration(t, time.Now(), stats.LastUpdated, time.Minute)
}

// recordingPersister keeps the last snapshot per collection in memory.
type recordingPersister struct {
	mu    sync.Mutex
	data  map[string][]byte
	saves int
	fail  error
}

func newRecordingPersister() *recordingPersister {
	return &recordingPersister{data: make(map[string][]byte)}
}

func (r *recordingPersister) Save(_ context.Context, collection string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.fail != nil {
		return r.fail
	}
	r.data[collection] = append([]byte(nil), data...)
	return nil
}

func (r *recordingPersister) Load(_ context.Context, collection string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.data[collection]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func TestWriteThroughAndRestore(t *testing.T) {
	ctx := context.Background()
	p := newRecordingPersister()
	s := NewMemoryStore(zap.NewNop(), p)

	require.NoError(t, s.PutProfile(ctx, "tok", profile("Asha")))
	_, err := s.AppendAccidentLog(ctx, model.AccidentLogEntry{Token: "tok", UserName: "Asha", Latitude: 28.6, Longitude: 77.2})
	require.NoError(t, err)
	require.NoError(t, s.PutPhoto(ctx, model.PhotoRecord{ViewToken: "v1", OwnerToken: "tok"}))
	_, err = s.MarkPhotoViewed(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 4, p.saves, "every mutation writes through")

	restored := NewMemoryStore(zap.NewNop(), p)
	require.NoError(t, restored.Restore(ctx))

	got, err := restored.GetProfile(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "Asha", got.FullName)
	logs, err := restored.RecentAccidentLogs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 28.6, logs[0].Latitude)
	photo, err := restored.GetPhoto(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, photo.Viewed)

	stats, err := restored.Stats(ctx)
	require.NoError(t, err)
	require.NotNil(t, photo.ViewedAt)
	assert.True(t, photo.ViewedAt.Equal(stats.LastUpdated), "got %v", stats.LastUpdated)
}

func TestRestoreSeedsLastUpdated(t *testing.T) {
	ctx := context.Background()
	p := newRecordingPersister()
	created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	reported := created.Add(time.Hour)

	user := profile("Asha")
	user.CreatedAt = created
	data, err := json.Marshal(map[string]model.Profile{"tok": user})
	require.NoError(t, err)
	require.NoError(t, p.Save(ctx, CollectionUsers, data))
	data, err = json.Marshal([]model.AccidentLogEntry{{Token: "tok", UserName: "Asha", ReportedAt: reported}})
	require.NoError(t, err)
	require.NoError(t, p.Save(ctx, CollectionAccidentLogs, data))

	s := NewMemoryStore(zap.NewNop(), p)
	require.NoError(t, s.Restore(ctx))
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.True(t, reported.Equal(stats.LastUpdated), "got %v", stats.LastUpdated)

	// Records without timestamps fall back to the restore time.
	p = newRecordingPersister()
	require.NoError(t, p.Save(ctx, CollectionPhotos, []byte(`{"v1":{"viewToken":"v1"}}`)))
	s = NewMemoryStore(zap.NewNop(), p)
	require.NoError(t, s.Restore(ctx))
	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), stats.LastUpdated, time.Minute)
}

func TestRestoreEmptyPersister(t *testing.T) {
	s := NewMemoryStore(zap.NewNop(), newRecordingPersister())
	require.NoError(t, s.Restore(context.Background()))
	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalUsers)
	assert.True(t, stats.LastUpdated.IsZero())
}

func TestPersistFailureDoesNotAbortMutation(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.ErrorLevel)
	p := newRecordingPersister()
	p.fail = errors.New("disk full")
	s := NewMemoryStore(zap.New(core), p)

	require.NoError(t, s.PutProfile(ctx, "tok", profile("Asha")))
	_, err := s.GetProfile(ctx, "tok")
	require.NoError(t, err)

	entries := logs.FilterMessage("persist collection").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["error"], ErrStoreUnavailable.Error())
}
