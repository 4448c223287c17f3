// Package domain contains the product aggregate.
package domain

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/smallbiznis/storefront/pkg/db"
)

type ProductStatus string

const (
	ProductStatusDraft     ProductStatus = "DRAFT"
	ProductStatusPublished ProductStatus = "PUBLISHED"
	ProductStatusArchived  ProductStatus = "ARCHIVED"
)

type ProductType string

const (
	ProductTypePhysical ProductType = "PHYSICAL"
	ProductTypeDigital  ProductType = "DIGITAL"
	ProductTypeService  ProductType = "SERVICE"
)

// Product is the aggregate root. Every collection is loaded with the root
// and replaced as a whole on update.
type Product struct {
	ID           snowflake.ID      `json:"id" gorm:"primaryKey;autoIncrement:false"`
	SellerID     *snowflake.ID     `json:"seller_id,omitempty" gorm:"index"`
	Name         string            `json:"name" gorm:"type:varchar(255);not null"`
	SeoSlug      string            `json:"seo_slug" gorm:"type:varchar(255);not null;index:ux_products_seo_slug,unique,where:deleted_at IS NULL"`
	Summary      string            `json:"summary,omitempty" gorm:"type:text"`
	Description  string            `json:"description,omitempty" gorm:"type:text"`
	ThumbnailURL string            `json:"thumbnail_url,omitempty" gorm:"type:text"`
	Type         ProductType       `json:"type" gorm:"type:varchar(32);not null"`
	Status       ProductStatus     `json:"status" gorm:"type:varchar(32);not null"`
	Price        decimal.Decimal   `json:"price" gorm:"type:numeric(18,2);not null"`
	ComparePrice *decimal.Decimal  `json:"compare_price,omitempty" gorm:"type:numeric(18,2)"`
	Metadata     datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	Version      int64             `json:"version" gorm:"not null;default:1"`
	db.Audit

	ExecutionSteps    []*ExecutionStep    `json:"execution_steps,omitempty" gorm:"foreignKey:ProductID"`
	Faqs              []*Faq              `json:"faqs,omitempty" gorm:"foreignKey:ProductID"`
	Attributes        []*Attribute        `json:"attributes,omitempty" gorm:"foreignKey:ProductID"`
	VariantAttributes []*VariantAttribute `json:"variant_attributes,omitempty" gorm:"foreignKey:ProductID"`
	Variants          []*Variant          `json:"variants,omitempty" gorm:"foreignKey:ProductID"`
}

func (Product) TableName() string { return "products" }

// ExecutionStep describes how a service product is delivered.
type ExecutionStep struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	ProductID snowflake.ID `json:"product_id" gorm:"not null;index"`
	Position  int          `json:"position" gorm:"not null;default:0"`
	Title     string       `json:"title" gorm:"type:varchar(255);not null"`
	Body      string       `json:"body,omitempty" gorm:"type:text"`
	db.Audit
}

func (ExecutionStep) TableName() string { return "product_execution_steps" }

type Faq struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	ProductID snowflake.ID `json:"product_id" gorm:"not null;index"`
	Position  int          `json:"position" gorm:"not null;default:0"`
	Question  string       `json:"question" gorm:"type:text;not null"`
	Answer    string       `json:"answer" gorm:"type:text;not null"`
	db.Audit
}

func (Faq) TableName() string { return "product_faqs" }

// Attribute is a free-form key/value shown on the product page.
type Attribute struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	ProductID snowflake.ID `json:"product_id" gorm:"not null;index"`
	Key       string       `json:"key" gorm:"type:varchar(128);not null"`
	Value     string       `json:"value" gorm:"type:text"`
	db.Audit
}

func (Attribute) TableName() string { return "product_attributes" }

// VariantAttribute is a dimension variants differ by, such as Size.
type VariantAttribute struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	ProductID snowflake.ID `json:"product_id" gorm:"not null;index"`
	Name      string       `json:"name" gorm:"type:varchar(128);not null"`
	Position  int          `json:"position" gorm:"not null;default:0"`
	db.Audit
}

func (VariantAttribute) TableName() string { return "product_variant_attributes" }

type Variant struct {
	ID           snowflake.ID     `json:"id" gorm:"primaryKey;autoIncrement:false"`
	ProductID    snowflake.ID     `json:"product_id" gorm:"not null;index"`
	SellerID     *snowflake.ID    `json:"seller_id,omitempty" gorm:"index"`
	SKU          string           `json:"sku,omitempty" gorm:"type:varchar(64)"`
	Price        decimal.Decimal  `json:"price" gorm:"type:numeric(18,2);not null"`
	ComparePrice *decimal.Decimal `json:"compare_price,omitempty" gorm:"type:numeric(18,2)"`
	Stock        int64            `json:"stock" gorm:"not null;default:0"`
	Position     int              `json:"position" gorm:"not null;default:0"`
	db.Audit

	Options []*VariantOption `json:"options,omitempty" gorm:"foreignKey:VariantID"`
}

func (Variant) TableName() string { return "product_variants" }

// Option returns the option the variant holds for a variant attribute.
func (v *Variant) Option(attributeID snowflake.ID) *VariantOption {
	for _, o := range v.Options {
		if o != nil && o.VariantAttributeID == attributeID {
			return o
		}
	}
	return nil
}

// VariantOption is the value a variant takes for one variant attribute.
// Attribute may name the variant attribute instead of VariantAttributeID
// when the attribute is created in the same update.
type VariantOption struct {
	ID                 snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	ProductID          snowflake.ID `json:"product_id" gorm:"not null;index"`
	VariantID          snowflake.ID `json:"variant_id" gorm:"not null;index"`
	VariantAttributeID snowflake.ID `json:"variant_attribute_id" gorm:"not null;index"`
	Value              string       `json:"value" gorm:"type:varchar(255);not null"`
	db.Audit

	Attribute string `json:"attribute,omitempty" gorm:"-"`
}

func (VariantOption) TableName() string { return "product_variant_options" }

// FindVariantAttribute matches by id, or by case-insensitive name when id
// is zero.
func (p *Product) FindVariantAttribute(id snowflake.ID, name string) *VariantAttribute {
	name = strings.TrimSpace(name)
	for _, a := range p.VariantAttributes {
		if a == nil {
			continue
		}
		if id != 0 && a.ID == id {
			return a
		}
		if id == 0 && name != "" && strings.EqualFold(a.Name, name) {
			return a
		}
	}
	return nil
}

// MinPrice is the lowest variant price, or the product price without
// variants.
func (p *Product) MinPrice() decimal.Decimal {
	min := p.Price
	first := true
	for _, v := range p.Variants {
		if v == nil {
			continue
		}
		if first || v.Price.LessThan(min) {
			min = v.Price
			first = false
		}
	}
	return min
}

func (p *Product) Available() bool {
	return p.Status == ProductStatusPublished
}

// Snapshot is the product data a cart line copies.
type Snapshot struct {
	ID           snowflake.ID
	Name         string
	Slug         string
	ThumbnailURL string
	Type         ProductType
	Price        decimal.Decimal
	ComparePrice *decimal.Decimal
	Available    bool
}
