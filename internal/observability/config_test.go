package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	gormlogger "gorm.io/gorm/logger"

	"github.com/smallbiznis/storefront/internal/config"
)

func TestLoadConfigPrefersEnvironment(t *testing.T) {
	t.Setenv("DEPLOYMENT_ENV", "staging")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "HTTP")
	t.Setenv("SQL_SLOW_QUERY_MS", "50")
	t.Setenv("OTEL_ENABLED", "yes")

	cfg := LoadConfig(config.Config{Environment: "production", AppVersion: "1.2.3"})
	assert.Equal(t, "storefront", cfg.ServiceName)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "1.2.3", cfg.Version)
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.Equal(t, 50*time.Millisecond, cfg.SlowQuery)
	assert.True(t, cfg.OtelEnabled)
	assert.False(t, cfg.Debug())
}

func TestGormLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, Config{SQLLogLevel: "silent"}.GormLogLevel())
	assert.Equal(t, gormlogger.Info, Config{SQLLogLevel: "INFO"}.GormLogLevel())
	assert.Equal(t, gormlogger.Warn, Config{SQLLogLevel: "warn", Environment: "development"}.GormLogLevel())
	assert.Equal(t, gormlogger.Info, Config{Environment: "development"}.GormLogLevel())
	assert.Equal(t, gormlogger.Warn, Config{}.GormLogLevel())
}
