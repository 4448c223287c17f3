package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateCommerceConfig(t *testing.T) {
	assert.NoError(t, validateCommerceConfig(DefaultCommerceConfig()))

	cfg := DefaultCommerceConfig()
	cfg.Cart.MergePolicy = "latest"
	assert.Error(t, validateCommerceConfig(cfg))

	cfg = DefaultCommerceConfig()
	cfg.Cart.MaxQuantityPerLine = 0
	assert.Error(t, validateCommerceConfig(cfg))

	cfg = DefaultCommerceConfig()
	cfg.Invoice.TaxRate = 1.5
	assert.Error(t, validateCommerceConfig(cfg))
}

func TestCommerceConfigHolder_NilFallsBackToDefaults(t *testing.T) {
	var holder *CommerceConfigHolder
	assert.Equal(t, MergePolicySum, holder.Get().Cart.MergePolicy)

	holder = NewStaticCommerceConfig(CommerceConfig{Cart: CartConfig{MergePolicy: MergePolicyKeepUser}})
	assert.Equal(t, MergePolicyKeepUser, holder.Get().Cart.MergePolicy)
}

func TestLoad_ReadsEnvironment(t *testing.T) {
	t.Setenv("LOCK_TIMEOUT", "3s")
	t.Setenv("MUTATE_MAX_ATTEMPTS", "5")
	t.Setenv("CART_CACHE_ENABLED", "yes")

	cfg := Load()
	assert.Equal(t, "3s", cfg.Lock.Timeout.String())
	assert.Equal(t, 5, cfg.Mutate.MaxAttempts)
	assert.True(t, cfg.Redis.CartCacheEnabled)
	assert.Equal(t, "storefront", cfg.AppName)
}
