package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Address)
	assert.Equal(t, ModeStateless, cfg.DeployMode)
	assert.False(t, cfg.Persistent())
	assert.Equal(t, PhonePermissive, cfg.PhonePolicy)
	assert.Equal(t, DispatchInline, cfg.LocationDispatch)
	assert.Equal(t, int64(10<<20), cfg.MaxPhotoSize)
	assert.Equal(t, []string{"image/jpeg", "image/png", "image/webp", "image/gif"}, cfg.AllowedPhotoTypes)
	assert.Equal(t, 2, cfg.ProcessingPool)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("QRESCUE_DEPLOY_MODE", "Persistent")
	t.Setenv("QRESCUE_PERSIST_BACKEND", "redis")
	t.Setenv("QRESCUE_PHONE_POLICY", "strict")
	t.Setenv("QRESCUE_BASE_URL", "https://sos.example.org/")
	t.Setenv("QRESCUE_ALLOWED_PHOTO_TYPES", "image/png, image/jpeg")
	t.Setenv("QRESCUE_WORKERS", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Persistent())
	assert.Equal(t, BackendRedis, cfg.PersistBackend)
	assert.Equal(t, PhoneStrict, cfg.PhonePolicy)
	assert.Equal(t, "https://sos.example.org", cfg.BaseURL)
	assert.Equal(t, []string{"image/png", "image/jpeg"}, cfg.AllowedPhotoTypes)
	assert.Equal(t, 2, cfg.ProcessingPool)
}

func TestLoadRejectsUnknownValues(t *testing.T) {
	cases := map[string]string{
		"QRESCUE_DEPLOY_MODE":       "cluster",
		"QRESCUE_PHONE_POLICY":      "lenient",
		"QRESCUE_PERSIST_BACKEND":   "sqlite",
		"QRESCUE_LOCATION_DISPATCH": "kafka",
		"QRESCUE_PHOTO_BACKEND":     "ftp",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestPostgresNeedsDatabaseURL(t *testing.T) {
	t.Setenv("QRESCUE_DEPLOY_MODE", "persistent")
	t.Setenv("QRESCUE_PERSIST_BACKEND", "postgres")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("QRESCUE_DATABASE_URL", "postgres://localhost/qrescue")
	_, err = Load()
	assert.NoError(t, err)
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	t.Setenv("QRESCUE_MAX_PHOTO_BYTES", "lots")
	_, err := Load()
	assert.Error(t, err)
}
