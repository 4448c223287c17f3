package db

import (
	"errors"
	"fmt"
	"testing"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigNormalize(t *testing.T) {
	pg := Config{Type: " Postgres ", Host: "db", Name: "shop"}.Normalize()
	assert.Equal(t, TypePostgres, pg.Type)
	assert.Equal(t, "5432", pg.Port)
	assert.Equal(t, "disable", pg.SSLMode)
	assert.NoError(t, pg.Validate())

	lite := Config{Type: "sqlite", MaxOpenConn: 20}.Normalize()
	assert.Equal(t, "storefront.db", lite.Path)
	assert.Equal(t, 1, lite.MaxOpenConn)

	assert.Error(t, Config{Type: "mysql"}.Normalize().Validate())
	assert.ErrorIs(t, Config{Type: "oracle"}.Normalize().Validate(), ErrUnsupportedType)
}

func TestDialect(t *testing.T) {
	for _, cfg := range []Config{
		{Type: "postgres", Host: "db", Name: "shop"},
		{Type: "mysql", Host: "db", Name: "shop"},
		{Type: "sqlite", Path: "shop.db"},
	} {
		d, err := Dialect(cfg)
		require.NoError(t, err, cfg.Type)
		assert.Equal(t, cfg.Type, d.Name())
	}

	_, err := Dialect(Config{Type: "oracle"})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsDuplicateKeyErr(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", &mysqldriver.MySQLError{Number: 1062})))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: products.seo_slug")))
	assert.False(t, IsDuplicateKeyErr(nil))

	assert.True(t, IsLockTimeoutErr(&pgconn.PgError{Code: "55P03"}))
	assert.True(t, IsLockTimeoutErr(&pq.Error{Code: "57014"}))
	assert.True(t, IsLockTimeoutErr(&mysqldriver.MySQLError{Number: 1205}))
	assert.True(t, IsLockTimeoutErr(errors.New("database is locked")))
	assert.False(t, IsLockTimeoutErr(&pgconn.PgError{Code: "23505"}))

	assert.True(t, IsSerializationErr(&pgconn.PgError{Code: "40P01"}))
	assert.True(t, IsSerializationErr(&mysqldriver.MySQLError{Number: 1213}))
	assert.False(t, IsSerializationErr(errors.New("boom")))
}
