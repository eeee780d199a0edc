// Package resolution turns a scanned token back into the data a scanner is
// allowed to see, and records locations shared from the scan page.
package resolution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/QRescue/internal/apperr"
	"github.com/dharsanguruparan/QRescue/internal/codec"
	"github.com/dharsanguruparan/QRescue/internal/metrics"
	"github.com/dharsanguruparan/QRescue/internal/model"
	"github.com/dharsanguruparan/QRescue/internal/storage"
)

// ErrNotFound is returned when neither the token nor the store yields a
// profile. It is storage.ErrNotFound so transports need one check.
var ErrNotFound = storage.ErrNotFound

// Source says where a profile came from.
type Source string

const (
	SourceToken Source = "token"
	SourceStore Source = "store"
)

// Recorder accepts accident log entries. Implementations may persist them
// immediately or hand them to a background worker.
type Recorder interface {
	Record(ctx context.Context, entry model.AccidentLogEntry) error
}

// StoreRecorder appends entries straight into the store.
type StoreRecorder struct {
	Store storage.Store
}

// Record implements Recorder.
func (r StoreRecorder) Record(ctx context.Context, entry model.AccidentLogEntry) error {
	_, err := r.Store.AppendAccidentLog(ctx, entry)
	return err
}

// Service resolves tokens.
type Service struct {
	store    storage.Store
	recorder Recorder
	validate *validator.Validate
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// New constructs a Service. A nil recorder appends to store synchronously.
func New(store storage.Store, recorder Recorder, logger *zap.Logger, m *metrics.Metrics) *Service {
	if recorder == nil {
		recorder = StoreRecorder{Store: store}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &Service{
		store:    store,
		recorder: recorder,
		validate: validator.New(),
		log:      logger,
		metrics:  m,
	}
}

// Lookup decodes token, falling back to the store when it is not a
// self-contained token. Legacy-format tokens go straight to the store.
func (s *Service) Lookup(ctx context.Context, token string) (model.Profile, Source, error) {
	if !codec.IsLegacyToken(token) {
		p, err := codec.Decode(token)
		if err == nil {
			s.metrics.Resolutions.WithLabelValues(string(SourceToken)).Inc()
			return p, SourceToken, nil
		}
		// A decode failure is routine; it only means "try the store".
		s.log.Debug("token not self-contained", zap.Error(err))
	}
	p, err := s.store.GetProfile(ctx, token)
	if err != nil {
		s.metrics.Resolutions.WithLabelValues("miss").Inc()
		if errors.Is(err, storage.ErrNotFound) {
			return model.Profile{}, "", ErrNotFound
		}
		return model.Profile{}, "", fmt.Errorf("store lookup: %w", err)
	}
	s.metrics.Resolutions.WithLabelValues(string(SourceStore)).Inc()
	return p, SourceStore, nil
}

// Resolve returns the public view of the profile behind token.
func (s *Service) Resolve(ctx context.Context, token string) (model.PublicProfileView, error) {
	p, _, err := s.Lookup(ctx, token)
	if err != nil {
		return model.PublicProfileView{}, err
	}
	return PublicView(p), nil
}

// PublicView exposes name, blood group and helplines as-is, and contact
// phones only in encoded form.
func PublicView(p model.Profile) model.PublicProfileView {
	view := model.PublicProfileView{
		FullName:            p.FullName,
		BloodGroup:          p.BloodGroup,
		EmergencyContacts:   make([]model.PublicContact, len(p.EmergencyContacts)),
		GovernmentHelplines: make([]model.PublicHelpline, len(p.GovernmentHelplines)),
	}
	for i, c := range p.EmergencyContacts {
		view.EmergencyContacts[i] = model.PublicContact{Name: c.Name, PhoneEncoded: codec.EncodePhone(c.Phone)}
	}
	for i, h := range p.GovernmentHelplines {
		view.GovernmentHelplines[i] = model.PublicHelpline{Name: h.Name, Number: h.Phone}
	}
	return view
}

// LogLocation records where the scanner of token is. Only an unknown token
// or malformed coordinates fail the call; recorder errors are logged so a
// scan page is never held up by the store.
func (s *Service) LogLocation(ctx context.Context, token string, loc model.Location) error {
	p, _, err := s.Lookup(ctx, token)
	if err != nil {
		s.metrics.LocationLogs.WithLabelValues("not_found").Inc()
		return err
	}
	if err := s.validate.Struct(loc); err != nil {
		s.metrics.LocationLogs.WithLabelValues("invalid").Inc()
		return apperr.Invalid("location", "latitude must be within ±90, longitude within ±180 and mapsUrl a valid URL", err)
	}
	if loc.MapsURL == "" {
		loc.MapsURL = MapsURL(loc.Latitude, loc.Longitude)
	}
	entry := model.AccidentLogEntry{
		Token:      token,
		UserName:   p.FullName,
		Latitude:   loc.Latitude,
		Longitude:  loc.Longitude,
		MapsURL:    loc.MapsURL,
		ReportedAt: time.Now().UTC(),
	}
	if err := s.recorder.Record(ctx, entry); err != nil {
		s.metrics.LocationLogs.WithLabelValues("dropped").Inc()
		s.log.Error("record accident location", zap.String("user", p.FullName), zap.Error(err))
		return nil
	}
	s.metrics.LocationLogs.WithLabelValues("ok").Inc()
	s.log.Info("accident location logged",
		zap.String("user", p.FullName),
		zap.Float64("latitude", loc.Latitude),
		zap.Float64("longitude", loc.Longitude))
	return nil
}

// MapsURL links to a map centred on the coordinates.
func MapsURL(lat, lng float64) string {
	return fmt.Sprintf("https://www.google.com/maps?q=%g,%g", lat, lng)
}
