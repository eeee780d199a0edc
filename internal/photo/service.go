// Package photo lets a scanner upload a photo for a profile owner and serves
// it exactly once through a random view token.
package photo

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/QRescue/internal/apperr"
	"github.com/dharsanguruparan/QRescue/internal/metrics"
	"github.com/dharsanguruparan/QRescue/internal/model"
	"github.com/dharsanguruparan/QRescue/internal/resolution"
	"github.com/dharsanguruparan/QRescue/internal/storage"
)

// ErrPhotoGone is returned once a photo has been viewed.
var ErrPhotoGone = errors.New("photo link already used")

// Owners resolves the profile a photo is uploaded for. *resolution.Service
// satisfies it.
type Owners interface {
	Lookup(ctx context.Context, token string) (model.Profile, resolution.Source, error)
}

// Options configures a Service.
type Options struct {
	MaxSize      int64
	AllowedTypes []string
}

// UploadInput is one uploaded photo.
type UploadInput struct {
	OwnerToken   string
	OriginalName string
	Data         []byte
}

// Service handles uploads and one-time views.
type Service struct {
	store   storage.Store
	blobs   BlobStore
	owners  Owners
	opts    Options
	log     *zap.Logger
	metrics *metrics.Metrics
}

// New constructs a Service.
func New(store storage.Store, blobs BlobStore, owners Owners, opts Options, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &Service{store: store, blobs: blobs, owners: owners, opts: opts, log: logger, metrics: m}
}

// Upload stores a photo for the owner of in.OwnerToken and returns its
// unviewed record.
func (s *Service) Upload(ctx context.Context, in UploadInput) (model.PhotoRecord, error) {
	if len(in.Data) == 0 {
		return model.PhotoRecord{}, apperr.Invalid("photo", "photo is required", nil)
	}
	if s.opts.MaxSize > 0 && int64(len(in.Data)) > s.opts.MaxSize {
		return model.PhotoRecord{}, apperr.Invalid("photo", "photo exceeds "+strconv.FormatInt(s.opts.MaxSize, 10)+" bytes", nil)
	}
	contentType := http.DetectContentType(in.Data)
	if !s.allowedType(contentType) {
		return model.PhotoRecord{}, apperr.Invalid("photo", "photo type "+contentType+" not allowed", nil)
	}
	owner, _, err := s.owners.Lookup(ctx, in.OwnerToken)
	if err != nil {
		return model.PhotoRecord{}, err
	}

	filename := randomID() + extension(contentType)
	if err := s.blobs.PutPhoto(ctx, filename, in.Data, contentType); err != nil {
		return model.PhotoRecord{}, fmt.Errorf("store photo: %w", err)
	}
	record := model.PhotoRecord{
		ViewToken:    uuid.NewString(),
		OwnerToken:   in.OwnerToken,
		Filename:     filename,
		OriginalName: cleanName(in.OriginalName, filename),
		Size:         int64(len(in.Data)),
		ContentType:  contentType,
		PatientName:  owner.FullName,
		UploadedAt:   time.Now().UTC(),
	}
	if err := s.store.PutPhoto(ctx, record); err != nil {
		return model.PhotoRecord{}, fmt.Errorf("save photo record: %w", err)
	}
	s.metrics.PhotoUploads.Inc()
	s.log.Info("photo uploaded",
		zap.String("view_token", record.ViewToken),
		zap.String("patient", record.PatientName),
		zap.Int64("size", record.Size))
	return record, nil
}

// View returns the photo content for the first caller only. Later callers,
// including those who lose a concurrent race, get ErrPhotoGone.
func (s *Service) View(ctx context.Context, viewToken string) (model.PhotoRecord, io.ReadCloser, error) {
	record, err := s.store.GetPhoto(ctx, viewToken)
	if err != nil {
		s.metrics.PhotoViews.WithLabelValues("not_found").Inc()
		return model.PhotoRecord{}, nil, err
	}
	if record.Viewed {
		s.metrics.PhotoViews.WithLabelValues("gone").Inc()
		return record, nil, ErrPhotoGone
	}
	body, err := s.blobs.OpenPhoto(ctx, record.Filename)
	if err != nil {
		s.metrics.PhotoViews.WithLabelValues("error").Inc()
		return record, nil, fmt.Errorf("open photo: %w", err)
	}
	claimed, err := s.store.MarkPhotoViewed(ctx, viewToken)
	if err != nil || !claimed {
		body.Close()
		s.metrics.PhotoViews.WithLabelValues("gone").Inc()
		if err != nil {
			return record, nil, fmt.Errorf("mark photo viewed: %w", err)
		}
		return record, nil, ErrPhotoGone
	}
	s.metrics.PhotoViews.WithLabelValues("ok").Inc()
	record, err = s.store.GetPhoto(ctx, viewToken)
	if err != nil {
		body.Close()
		return model.PhotoRecord{}, nil, err
	}
	return record, body, nil
}

// Status returns the record without consuming the view.
func (s *Service) Status(ctx context.Context, viewToken string) (model.PhotoRecord, error) {
	return s.store.GetPhoto(ctx, viewToken)
}

func (s *Service) allowedType(contentType string) bool {
	for _, allowed := range s.opts.AllowedTypes {
		if strings.EqualFold(allowed, contentType) {
			return true
		}
	}
	return false
}

func extension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}

func cleanName(name, fallback string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return fallback
	}
	return name
}

// randomID returns 32 hex characters, easy to use as a file name.
func randomID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(buf)
}
