package resolution

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/QRescue/internal/apperr"
	"github.com/dharsanguruparan/QRescue/internal/codec"
	"github.com/dharsanguruparan/QRescue/internal/metrics"
	"github.com/dharsanguruparan/QRescue/internal/model"
	"github.com/dharsanguruparan/QRescue/internal/registration"
	"github.com/dharsanguruparan/QRescue/internal/storage"
)

func setup(t *testing.T) (*storage.MemoryStore, *registration.Service, *Service) {
	t.Helper()
	store := storage.NewMemoryStore(zap.NewNop(), nil)
	reg := registration.New(store, registration.Options{}, zap.NewNop(), metrics.Discard())
	res := New(store, nil, zap.NewNop(), metrics.Discard())
	return store, reg, res
}

func registerAsha(t *testing.T, reg *registration.Service) string {
	t.Helper()
	out, err := reg.Register(context.Background(), registration.Input{
		FullName:            "Asha Rao",
		BloodGroup:          "b+",
		EmergencyContacts:   []registration.ContactInput{{Name: "Mom", Phone: "98765 43210"}},
		GovernmentHelplines: []registration.HelplineInput{{Name: "Emergency", Number: "112"}},
	})
	require.NoError(t, err)
	return out.Token
}

func TestRegisterAndResolve(t *testing.T) {
	_, reg, res := setup(t)
	token := registerAsha(t, reg)

	view, err := res.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, model.PublicProfileView{
		FullName:   "Asha Rao",
		BloodGroup: "B+",
		EmergencyContacts: []model.PublicContact{
			{Name: "Mom", PhoneEncoded: base64.RawURLEncoding.EncodeToString([]byte("9876543210"))},
		},
		GovernmentHelplines: []model.PublicHelpline{{Name: "Emergency", Number: "112"}},
	}, view)
}

func TestResolveSelfContainedWithoutStore(t *testing.T) {
	store, reg, res := setup(t)
	token := registerAsha(t, reg)

	_, err := store.GetProfile(context.Background(), token)
	require.ErrorIs(t, err, storage.ErrNotFound)

	p, source, err := res.Lookup(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, SourceToken, source)
	assert.Equal(t, "Asha Rao", p.FullName)
}

func TestResolveLegacyTokenFromStore(t *testing.T) {
	store, _, res := setup(t)
	legacy := codec.NewLegacyToken()
	require.NoError(t, store.PutProfile(context.Background(), legacy, model.Profile{
		FullName:            "Old User",
		BloodGroup:          "O-",
		EmergencyContacts:   []model.Contact{{Name: "Wife", Phone: "9000000000"}},
		GovernmentHelplines: []model.Contact{{Name: "Police", Phone: "100"}},
	}))

	p, source, err := res.Lookup(context.Background(), legacy)
	require.NoError(t, err)
	assert.Equal(t, SourceStore, source)
	assert.Equal(t, "Old User", p.FullName)

	view, err := res.Resolve(context.Background(), legacy)
	require.NoError(t, err)
	assert.Equal(t, codec.EncodePhone("9000000000"), view.EmergencyContacts[0].PhoneEncoded)
	assert.Equal(t, "100", view.GovernmentHelplines[0].Number)
}

func TestResolveNonLegacyKeyFallsBackToStore(t *testing.T) {
	store, _, res := setup(t)
	require.NoError(t, store.PutProfile(context.Background(), "custom-key", model.Profile{
		FullName:            "Imported",
		BloodGroup:          "A+",
		EmergencyContacts:   []model.Contact{{Name: "A", Phone: "1"}},
		GovernmentHelplines: []model.Contact{{Name: "B", Phone: "2"}},
	}))
	_, source, err := res.Lookup(context.Background(), "custom-key")
	require.NoError(t, err)
	assert.Equal(t, SourceStore, source)
}

func TestResolveNotFound(t *testing.T) {
	_, _, res := setup(t)
	for _, token := range []string{"", "garbage", "0123456789abcdef0123456789abcdef", "eyJuIjoi"} {
		_, err := res.Resolve(context.Background(), token)
		assert.ErrorIs(t, err, ErrNotFound, "token %q", token)
	}
}

func TestLogLocation(t *testing.T) {
	store, reg, res := setup(t)
	token := registerAsha(t, reg)
	ctx := context.Background()

	err := res.LogLocation(ctx, token, model.Location{Latitude: 28.6, Longitude: 77.2, MapsURL: "https://maps?q=28.6,77.2"})
	require.NoError(t, err)

	logs, err := store.RecentAccidentLogs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "Asha Rao", logs[0].UserName)
	assert.Equal(t, token, logs[0].Token)
	assert.Equal(t, 28.6, logs[0].Latitude)
	assert.Equal(t, 77.2, logs[0].Longitude)
	assert.Equal(t, "https://maps?q=28.6,77.2", logs[0].MapsURL)
	assert.NotEmpty(t, logs[0].ID)
}

func TestLogLocationFillsMapsURL(t *testing.T) {
	store, reg, res := setup(t)
	token := registerAsha(t, reg)
	require.NoError(t, res.LogLocation(context.Background(), token, model.Location{Latitude: -33.5, Longitude: 151}))
	logs, err := store.RecentAccidentLogs(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "https://www.google.com/maps?q=-33.5,151", logs[0].MapsURL)
}

func TestLogLocationErrors(t *testing.T) {
	store, reg, res := setup(t)
	token := registerAsha(t, reg)
	ctx := context.Background()

	err := res.LogLocation(ctx, "unknown", model.Location{Latitude: 1, Longitude: 1})
	assert.ErrorIs(t, err, ErrNotFound)
	err = res.LogLocation(ctx, "unknown", model.Location{Latitude: 120, Longitude: 1})
	assert.ErrorIs(t, err, ErrNotFound, "token is resolved before coordinates are checked")
	assert.False(t, apperr.IsValidation(err))

	err = res.LogLocation(ctx, token, model.Location{Latitude: 91, Longitude: 1})
	assert.True(t, apperr.IsValidation(err))
	err = res.LogLocation(ctx, token, model.Location{Latitude: 1, Longitude: -181})
	assert.True(t, apperr.IsValidation(err))
	err = res.LogLocation(ctx, token, model.Location{Latitude: 1, Longitude: 1, MapsURL: "not a url"})
	assert.True(t, apperr.IsValidation(err))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalAccidentLogs)
}

type failingRecorder struct{ calls int }

func (f *failingRecorder) Record(context.Context, model.AccidentLogEntry) error {
	f.calls++
	return errors.New("queue down")
}

func TestLogLocationSurvivesRecorderFailure(t *testing.T) {
	store := storage.NewMemoryStore(zap.NewNop(), nil)
	reg := registration.New(nil, registration.Options{}, zap.NewNop(), metrics.Discard())
	rec := &failingRecorder{}
	res := New(store, rec, zap.NewNop(), metrics.Discard())
	token := registerAsha(t, reg)

	assert.NoError(t, res.LogLocation(context.Background(), token, model.Location{Latitude: 1, Longitude: 2}))
	assert.Equal(t, 1, rec.calls)
}
