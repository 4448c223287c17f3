package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"

	"github.com/smallbiznis/storefront/pkg/db/dbtest"
)

func TestEmbeddedMigrationsCoverEveryModel(t *testing.T) {
	up, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000001_storefront.up.sql")
	require.NoError(t, err)
	_, err = fs.ReadFile(embeddedMigrations, migrationsDir+"/000001_storefront.down.sql")
	require.NoError(t, err)

	sql := string(up)
	for _, model := range Models() {
		tabler, ok := model.(schema.Tabler)
		require.True(t, ok, "%T has no table name", model)
		assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS "+tabler.TableName()+" (")
	}
	assert.True(t, strings.Contains(sql, "ON products (seo_slug) WHERE deleted_at IS NULL"))
}

func TestModelsAutoMigrate(t *testing.T) {
	conn := dbtest.OpenMemory(t, Models()...)
	for _, model := range Models() {
		assert.True(t, conn.Migrator().HasTable(model), "%T", model)
	}
}
