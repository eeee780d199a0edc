package storage

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/QRescue/internal/model"
)

// MemoryStore keeps every collection in memory. Each collection has its own
// mutex; a mutation and its write-through to the persister happen under that
// lock, so snapshots reach durable storage in mutation order.
type MemoryStore struct {
	log       *zap.Logger
	persister Persister

	usersMu sync.RWMutex
	users   map[string]model.Profile

	logsMu  sync.RWMutex
	logs    []model.AccidentLogEntry
	entropy io.Reader

	photosMu sync.RWMutex
	photos   map[string]model.PhotoRecord

	metaMu      sync.RWMutex
	lastUpdated time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs a MemoryStore. A nil persister means stateless
// mode: nothing outlives the process.
func NewMemoryStore(logger *zap.Logger, persister Persister) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		log:       logger,
		persister: persister,
		users:     make(map[string]model.Profile),
		photos:    make(map[string]model.PhotoRecord),
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}
}

// Restore loads previously persisted collections. Collections that were never
// saved are left empty.
func (m *MemoryStore) Restore(ctx context.Context) error {
	if m.persister == nil {
		return nil
	}
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	m.logsMu.Lock()
	defer m.logsMu.Unlock()
	m.photosMu.Lock()
	defer m.photosMu.Unlock()

	targets := []struct {
		collection string
		into       any
	}{
		{CollectionUsers, &m.users},
		{CollectionAccidentLogs, &m.logs},
		{CollectionPhotos, &m.photos},
	}
	for _, t := range targets {
		data, err := m.persister.Load(ctx, t.collection)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: load %s: %v", ErrStoreUnavailable, t.collection, err)
		}
		if err := json.Unmarshal(data, t.into); err != nil {
			return fmt.Errorf("decode %s snapshot: %w", t.collection, err)
		}
	}
	// json.Unmarshal leaves a nil map when the snapshot held "null".
	if m.users == nil {
		m.users = make(map[string]model.Profile)
	}
	if m.photos == nil {
		m.photos = make(map[string]model.PhotoRecord)
	}
	if len(m.users)+len(m.logs)+len(m.photos) > 0 {
		last := m.newestLocked()
		if last.IsZero() {
			last = time.Now().UTC()
		}
		m.touch(last)
	}
	m.log.Info("store restored",
		zap.Int("users", len(m.users)),
		zap.Int("accident_logs", len(m.logs)),
		zap.Int("photos", len(m.photos)))
	return nil
}

// PutProfile stores a profile under token, stamping CreatedAt when missing.
func (m *MemoryStore) PutProfile(ctx context.Context, token string, profile model.Profile) error {
	if token == "" {
		return errors.New("empty token")
	}
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	m.users[token] = profile.Clone()
	m.touch(now)
	m.persist(ctx, CollectionUsers, m.users)
	return nil
}

// GetProfile returns a copy of the profile stored under token.
func (m *MemoryStore) GetProfile(_ context.Context, token string) (model.Profile, error) {
	m.usersMu.RLock()
	defer m.usersMu.RUnlock()
	p, ok := m.users[token]
	if !ok {
		return model.Profile{}, ErrNotFound
	}
	return p.Clone(), nil
}

// AppendAccidentLog assigns an ID (and ReportedAt when zero) and appends the
// entry. Entries are never updated or removed.
func (m *MemoryStore) AppendAccidentLog(ctx context.Context, entry model.AccidentLogEntry) (model.AccidentLogEntry, error) {
	m.logsMu.Lock()
	defer m.logsMu.Unlock()
	now := time.Now().UTC()
	if entry.ReportedAt.IsZero() {
		entry.ReportedAt = now
	}
	id, err := ulid.New(ulid.Timestamp(now), m.entropy)
	if err != nil {
		return model.AccidentLogEntry{}, fmt.Errorf("generate log id: %w", err)
	}
	entry.ID = id.String()
	m.logs = append(m.logs, entry)
	m.touch(now)
	m.persist(ctx, CollectionAccidentLogs, m.logs)
	return entry, nil
}

// RecentAccidentLogs returns the last n entries, most recent first. n <= 0
// returns every entry.
func (m *MemoryStore) RecentAccidentLogs(_ context.Context, n int) ([]model.AccidentLogEntry, error) {
	m.logsMu.RLock()
	defer m.logsMu.RUnlock()
	if n <= 0 || n > len(m.logs) {
		n = len(m.logs)
	}
	out := make([]model.AccidentLogEntry, 0, n)
	for i := len(m.logs) - 1; i >= len(m.logs)-n; i-- {
		out = append(out, m.logs[i])
	}
	return out, nil
}

// PutPhoto inserts or replaces a photo record.
func (m *MemoryStore) PutPhoto(ctx context.Context, record model.PhotoRecord) error {
	if record.ViewToken == "" {
		return errors.New("empty view token")
	}
	m.photosMu.Lock()
	defer m.photosMu.Unlock()
	now := time.Now().UTC()
	if record.UploadedAt.IsZero() {
		record.UploadedAt = now
	}
	m.photos[record.ViewToken] = record
	m.touch(now)
	m.persist(ctx, CollectionPhotos, m.photos)
	return nil
}

// GetPhoto returns a copy of the record for viewToken.
func (m *MemoryStore) GetPhoto(_ context.Context, viewToken string) (model.PhotoRecord, error) {
	m.photosMu.RLock()
	defer m.photosMu.RUnlock()
	rec, ok := m.photos[viewToken]
	if !ok {
		return model.PhotoRecord{}, ErrNotFound
	}
	if rec.ViewedAt != nil {
		viewedAt := *rec.ViewedAt
		rec.ViewedAt = &viewedAt
	}
	return rec, nil
}

// MarkPhotoViewed flips the viewed flag once. The check and the flip share
// one critical section, so concurrent callers see exactly one true.
func (m *MemoryStore) MarkPhotoViewed(ctx context.Context, viewToken string) (bool, error) {
	m.photosMu.Lock()
	defer m.photosMu.Unlock()
	rec, ok := m.photos[viewToken]
	if !ok || rec.Viewed {
		return false, nil
	}
	now := time.Now().UTC()
	rec.Viewed = true
	rec.ViewedAt = &now
	m.photos[viewToken] = rec
	m.touch(now)
	m.persist(ctx, CollectionPhotos, m.photos)
	return true, nil
}

// Stats counts each collection.
func (m *MemoryStore) Stats(_ context.Context) (model.Stats, error) {
	var s model.Stats
	m.usersMu.RLock()
	s.TotalUsers = len(m.users)
	m.usersMu.RUnlock()
	m.logsMu.RLock()
	s.TotalAccidentLogs = len(m.logs)
	m.logsMu.RUnlock()
	m.photosMu.RLock()
	s.TotalPhotos = len(m.photos)
	m.photosMu.RUnlock()
	m.metaMu.RLock()
	s.LastUpdated = m.lastUpdated
	m.metaMu.RUnlock()
	return s, nil
}

// newestLocked returns the latest timestamp held by any record. The caller
// holds every collection lock.
func (m *MemoryStore) newestLocked() time.Time {
	var last time.Time
	later := func(t time.Time) {
		if t.After(last) {
			last = t
		}
	}
	for _, p := range m.users {
		later(p.CreatedAt)
	}
	for _, e := range m.logs {
		later(e.ReportedAt)
	}
	for _, p := range m.photos {
		later(p.UploadedAt)
		if p.ViewedAt != nil {
			later(*p.ViewedAt)
		}
	}
	return last
}

func (m *MemoryStore) touch(now time.Time) {
	m.metaMu.Lock()
	if now.After(m.lastUpdated) {
		m.lastUpdated = now
	}
	m.metaMu.Unlock()
}

// persist writes the whole collection through to the persister. The caller
// holds the collection lock. Failures are logged and swallowed: the
// in-memory mutation has already happened and stays authoritative.
func (m *MemoryStore) persist(ctx context.Context, collection string, v any) {
	if m.persister == nil {
		return
	}
	data, err := json.Marshal(v)
	if err == nil {
		err = m.persister.Save(context.WithoutCancel(ctx), collection, data)
	}
	if err != nil {
		m.log.Error("persist collection",
			zap.String("collection", collection),
			zap.Error(fmt.Errorf("%w: %v", ErrStoreUnavailable, err)))
	}
}
