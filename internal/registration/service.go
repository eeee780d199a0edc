// Package registration turns raw profile input into a self-contained token.
package registration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/QRescue/internal/codec"
	"github.com/dharsanguruparan/QRescue/internal/metrics"
	"github.com/dharsanguruparan/QRescue/internal/model"
	"github.com/dharsanguruparan/QRescue/internal/storage"
)

// ContactInput is an emergency contact as submitted.
type ContactInput struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// HelplineInput is a government helpline as submitted. Clients send the
// number as either "number" or "phone".
type HelplineInput struct {
	Name   string `json:"name"`
	Number string `json:"number"`
	Phone  string `json:"phone,omitempty"`
}

func (h HelplineInput) number() string {
	if strings.TrimSpace(h.Number) != "" {
		return h.Number
	}
	return h.Phone
}

// Input is the registration request body.
type Input struct {
	FullName            string          `json:"fullName"`
	BloodGroup          string          `json:"bloodGroup"`
	EmergencyContacts   []ContactInput  `json:"emergencyContacts"`
	GovernmentHelplines []HelplineInput `json:"governmentHelplines"`
}

// UnmarshalJSON decodes a list that is not an array as empty, and an entry
// that is not an object as a blank entry, so validation reports them in order.
func (in *Input) UnmarshalJSON(data []byte) error {
	var raw struct {
		FullName            string          `json:"fullName"`
		BloodGroup          string          `json:"bloodGroup"`
		EmergencyContacts   json.RawMessage `json:"emergencyContacts"`
		GovernmentHelplines json.RawMessage `json:"governmentHelplines"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*in = Input{
		FullName:            raw.FullName,
		BloodGroup:          raw.BloodGroup,
		EmergencyContacts:   decodeList[ContactInput](raw.EmergencyContacts),
		GovernmentHelplines: decodeList[HelplineInput](raw.GovernmentHelplines),
	}
	return nil
}

func decodeList[T any](raw json.RawMessage) []T {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]T, len(items))
	for i, item := range items {
		if err := json.Unmarshal(item, &out[i]); err != nil {
			var zero T
			out[i] = zero
		}
	}
	return out
}

// Result is returned to the registering client.
type Result struct {
	Token      string        `json:"token"`
	PublicURL  string        `json:"publicUrl"`
	QRImageURL string        `json:"qrImageUrl"`
	Profile    model.Profile `json:"-"`
}

// Options configures a Service.
type Options struct {
	// BaseURL prefixes generated links; empty keeps them relative.
	BaseURL string
	// Phone validates every contact and helpline number.
	Phone PhoneCheck
	// Mirror is set in persistent mode: profiles are also written to the
	// store under their token for legacy-compatible lookups.
	Mirror bool
}

// Service registers profiles.
type Service struct {
	store   storage.Store
	opts    Options
	log     *zap.Logger
	metrics *metrics.Metrics
}

// New constructs a Service. store may be nil when Mirror is false.
func New(store storage.Store, opts Options, logger *zap.Logger, m *metrics.Metrics) *Service {
	if opts.Phone == nil {
		opts.Phone = PermissivePhone
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &Service{store: store, opts: opts, log: logger, metrics: m}
}

// Register validates in, encodes the normalized profile and returns the token
// with its links. Validation failures are *apperr.ValidationError values.
func (s *Service) Register(ctx context.Context, in Input) (Result, error) {
	profile, err := s.Prepare(in)
	if err != nil {
		s.metrics.Registrations.WithLabelValues("invalid").Inc()
		return Result{}, err
	}
	token, err := codec.Encode(profile)
	if err != nil {
		// validate guarantees a complete profile, so this is a bug.
		s.metrics.Registrations.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("encode profile: %w", err)
	}
	if s.opts.Mirror && s.store != nil {
		if err := s.store.PutProfile(ctx, token, profile); err != nil {
			s.log.Warn("mirror profile into store", zap.Error(err))
		}
	}
	s.metrics.Registrations.WithLabelValues("ok").Inc()
	s.log.Info("profile registered",
		zap.Int("token_len", len(token)),
		zap.Int("contacts", len(profile.EmergencyContacts)),
		zap.Int("helplines", len(profile.GovernmentHelplines)))
	return Result{
		Token:      token,
		PublicURL:  ScanURL(s.opts.BaseURL, token),
		QRImageURL: CodeURL(s.opts.BaseURL, token),
		Profile:    profile,
	}, nil
}

// Prepare validates in and returns the normalized profile without encoding
// or storing it.
func (s *Service) Prepare(in Input) (model.Profile, error) {
	if err := validate(in, s.opts.Phone); err != nil {
		return model.Profile{}, err
	}
	return normalize(in, time.Now()), nil
}

// ScanURL is the page a scanner opens.
func ScanURL(base, token string) string {
	return base + "/scan/" + token
}

// CodeURL serves the scannable image for token.
func CodeURL(base, token string) string {
	return base + "/api/qr/" + token
}

// normalize trims names, upper-cases the blood group and keeps only phone
// digits. CreatedAt is truncated to the millisecond precision tokens carry.
func normalize(in Input, now time.Time) model.Profile {
	p := model.Profile{
		FullName:            strings.TrimSpace(in.FullName),
		BloodGroup:          strings.ToUpper(strings.TrimSpace(in.BloodGroup)),
		EmergencyContacts:   make([]model.Contact, 0, len(in.EmergencyContacts)),
		GovernmentHelplines: make([]model.Contact, 0, len(in.GovernmentHelplines)),
		CreatedAt:           time.UnixMilli(now.UnixMilli()).UTC(),
	}
	for _, c := range in.EmergencyContacts {
		p.EmergencyContacts = append(p.EmergencyContacts, model.Contact{
			Name:  strings.TrimSpace(c.Name),
			Phone: DigitsOnly(c.Phone),
		})
	}
	for _, h := range in.GovernmentHelplines {
		p.GovernmentHelplines = append(p.GovernmentHelplines, model.Contact{
			Name:  strings.TrimSpace(h.Name),
			Phone: DigitsOnly(h.number()),
		})
	}
	return p
}
