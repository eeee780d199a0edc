// Package storage contains the auxiliary store: data that cannot live inside
// a self-contained token. Go keeps each package in its own folder; files in
// the folder share a namespace.
package storage

import (
	"context"
	"errors"

	"github.com/dharsanguruparan/QRescue/internal/model"
)

var (
	// ErrNotFound is exported so callers elsewhere can compare errors using
	// errors.Is; Go encourages sentinel errors for simple cases.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable wraps persistence failures. In-memory state stays
	// authoritative when it occurs.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Collection names used as persistence keys.
const (
	CollectionUsers        = "users"
	CollectionAccidentLogs = "accidentLogs"
	CollectionPhotos       = "photos"
)

// Store is the auxiliary store. One instance is built per process and passed
// explicitly to the services that need it.
type Store interface {
	PutProfile(ctx context.Context, token string, profile model.Profile) error
	GetProfile(ctx context.Context, token string) (model.Profile, error)

	AppendAccidentLog(ctx context.Context, entry model.AccidentLogEntry) (model.AccidentLogEntry, error)
	RecentAccidentLogs(ctx context.Context, n int) ([]model.AccidentLogEntry, error)

	PutPhoto(ctx context.Context, record model.PhotoRecord) error
	GetPhoto(ctx context.Context, viewToken string) (model.PhotoRecord, error)
	// MarkPhotoViewed reports whether this call flipped viewed from false to
	// true. It is a no-op for unknown or already viewed records.
	MarkPhotoViewed(ctx context.Context, viewToken string) (bool, error)

	Stats(ctx context.Context) (model.Stats, error)
}

// Persister receives full serialized collections. Load returns ErrNotFound
// when a collection has never been saved.
type Persister interface {
	Save(ctx context.Context, collection string, data []byte) error
	Load(ctx context.Context, collection string) ([]byte, error)
}
