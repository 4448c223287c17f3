package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	cartdomain "github.com/smallbiznis/storefront/internal/cart/domain"
	invoicedomain "github.com/smallbiznis/storefront/internal/invoice/domain"
	notificationdomain "github.com/smallbiznis/storefront/internal/notification/domain"
	productdomain "github.com/smallbiznis/storefront/internal/product/domain"
	visitdomain "github.com/smallbiznis/storefront/internal/visit/domain"
	walletdomain "github.com/smallbiznis/storefront/internal/wallet/domain"
	"github.com/smallbiznis/storefront/pkg/lock"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// migrator.Close would close the shared *sql.DB.

	return nil
}

// Models lists every persisted type. Dialects without embedded SQL are
// migrated from these with gorm.
func Models() []any {
	return []any{
		&lock.Row{},
		&walletdomain.Transaction{},
		&invoicedomain.Invoice{},
		&invoicedomain.Item{},
		&invoicedomain.ItemAttribute{},
		&invoicedomain.PaymentTransaction{},
		&cartdomain.DiscountCode{},
		&cartdomain.Cart{},
		&cartdomain.Item{},
		&productdomain.Product{},
		&productdomain.ExecutionStep{},
		&productdomain.Faq{},
		&productdomain.Attribute{},
		&productdomain.VariantAttribute{},
		&productdomain.Variant{},
		&productdomain.VariantOption{},
		&visitdomain.Visit{},
		&notificationdomain.Notification{},
	}
}
