package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "lms", cfg.Database.Name)
	assert.Equal(t, 5*time.Minute, cfg.Catalog.CacheTTL)
	assert.Equal(t, int64(25*1024*1024), cfg.Materials.MaxFileSizeBytes)
	assert.Contains(t, cfg.Materials.AllowedMIMEs, "application/pdf")
	assert.Equal(t, 1, cfg.Memberships.SyncWorkers)
	assert.Equal(t, 5*time.Second, cfg.Memberships.SyncRetryDelay)
}

func TestFromViperOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("CATALOG_CACHE_TTL", "not-a-duration")
	v.Set("ALLOWED_ORIGINS", " https://lms.example.edu , ,http://localhost:5173")
	v.Set("MATERIALS_MAX_FILE_SIZE", 0)

	cfg := fromViper(v)
	assert.Equal(t, 5*time.Minute, cfg.Catalog.CacheTTL)
	assert.Equal(t, []string{"https://lms.example.edu", "http://localhost:5173"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, int64(25*1024*1024), cfg.Materials.MaxFileSizeBytes)
}
