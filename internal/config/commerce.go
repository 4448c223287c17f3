package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	MergePolicySum      = "sum"
	MergePolicyKeepUser = "keep_user"
)

// CommerceConfig holds storefront business knobs that can change at runtime.
type CommerceConfig struct {
	Cart    CartConfig    `mapstructure:"cart"`
	Invoice InvoiceConfig `mapstructure:"invoice"`
}

type CartConfig struct {
	MergePolicy        string `mapstructure:"mergePolicy"`
	MaxQuantityPerLine int    `mapstructure:"maxQuantityPerLine"`
}

type InvoiceConfig struct {
	NumberPrefix string  `mapstructure:"numberPrefix"`
	Currency     string  `mapstructure:"currency"`
	TaxRate      float64 `mapstructure:"taxRate"`
	DueDays      int     `mapstructure:"dueDays"`
}

func DefaultCommerceConfig() CommerceConfig {
	return CommerceConfig{
		Cart: CartConfig{
			MergePolicy:        MergePolicySum,
			MaxQuantityPerLine: 99,
		},
		Invoice: InvoiceConfig{
			NumberPrefix: "INV-",
			Currency:     "USD",
			TaxRate:      0,
			DueDays:      7,
		},
	}
}

type CommerceConfigHolder struct {
	current atomic.Value // holds CommerceConfig
}

// NewStaticCommerceConfig returns a holder that never reloads.
func NewStaticCommerceConfig(cfg CommerceConfig) *CommerceConfigHolder {
	holder := &CommerceConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewCommerceConfigHolder(log *zap.Logger) (*CommerceConfigHolder, error) {
	log = log.Named("config.commerce")
	v := viper.New()

	v.SetConfigName("commerce")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/storefront")
	v.AddConfigPath(".")

	v.SetEnvPrefix("STOREFRONT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultCommerceConfig()
	v.SetDefault("commerce.cart.mergePolicy", defaults.Cart.MergePolicy)
	v.SetDefault("commerce.cart.maxQuantityPerLine", defaults.Cart.MaxQuantityPerLine)
	v.SetDefault("commerce.invoice.numberPrefix", defaults.Invoice.NumberPrefix)
	v.SetDefault("commerce.invoice.currency", defaults.Invoice.Currency)
	v.SetDefault("commerce.invoice.taxRate", defaults.Invoice.TaxRate)
	v.SetDefault("commerce.invoice.dueDays", defaults.Invoice.DueDays)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg CommerceConfig
	if err := v.UnmarshalKey("commerce", &cfg); err != nil {
		return nil, err
	}
	if err := validateCommerceConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticCommerceConfig(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated CommerceConfig
		if err := v.UnmarshalKey("commerce", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validateCommerceConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *CommerceConfigHolder) Get() CommerceConfig {
	if h == nil {
		return DefaultCommerceConfig()
	}
	return h.current.Load().(CommerceConfig)
}

func validateCommerceConfig(cfg CommerceConfig) error {
	switch cfg.Cart.MergePolicy {
	case MergePolicySum, MergePolicyKeepUser:
	default:
		return errors.New("commerce.cart.mergePolicy must be sum or keep_user")
	}
	if cfg.Cart.MaxQuantityPerLine <= 0 {
		return errors.New("commerce.cart.maxQuantityPerLine must be positive")
	}
	if strings.TrimSpace(cfg.Invoice.Currency) == "" {
		return errors.New("commerce.invoice.currency cannot be empty")
	}
	if cfg.Invoice.TaxRate < 0 || cfg.Invoice.TaxRate >= 1 {
		return errors.New("commerce.invoice.taxRate must be in [0, 1)")
	}
	if cfg.Invoice.DueDays < 0 {
		return errors.New("commerce.invoice.dueDays cannot be negative")
	}
	return nil
}
