// Package domain contains the shopping cart aggregate.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	productdomain "github.com/smallbiznis/storefront/internal/product/domain"
	"github.com/smallbiznis/storefront/pkg/db"
)

// Owner identifies who a cart belongs to. A signed-in user owns carts by
// UserID; guests are tracked by an AnonymousID cookie.
type Owner struct {
	UserID      *snowflake.ID
	AnonymousID string
}

// NewGuestOwner issues a fresh anonymous identity for a visitor without a
// cart cookie.
func NewGuestOwner() Owner {
	return Owner{AnonymousID: uuid.NewString()}
}

func (o Owner) Valid() bool {
	return (o.UserID != nil && *o.UserID != 0) || strings.TrimSpace(o.AnonymousID) != ""
}

func (o Owner) String() string {
	if o.UserID != nil && *o.UserID != 0 {
		return "user:" + o.UserID.String()
	}
	return "anon:" + strings.TrimSpace(o.AnonymousID)
}

// Cart is the aggregate root. Items are unique per product.
type Cart struct {
	ID          snowflake.ID     `json:"id" gorm:"primaryKey;autoIncrement:false"`
	UserID      *snowflake.ID    `json:"user_id,omitempty" gorm:"index"`
	AnonymousID string           `json:"anonymous_id,omitempty" gorm:"type:varchar(64);index"`
	Currency    string           `json:"currency" gorm:"type:varchar(3);not null"`
	Applied     DiscountSnapshot `json:"applied_discount" gorm:"embedded;embeddedPrefix:discount_"`
	db.Audit

	Items []*Item `json:"items" gorm:"foreignKey:CartID"`

	discountStale bool
}

func (Cart) TableName() string { return "shopping_carts" }

// Item is a cart line. Product fields are copied when the line is added and
// only change through RefreshPrices.
type Item struct {
	ID           snowflake.ID              `json:"id" gorm:"primaryKey;autoIncrement:false"`
	CartID       snowflake.ID              `json:"cart_id" gorm:"not null;uniqueIndex:ux_cart_items_cart_product"`
	ProductID    snowflake.ID              `json:"product_id" gorm:"not null;uniqueIndex:ux_cart_items_cart_product"`
	ProductName  string                    `json:"product_name" gorm:"type:varchar(255);not null"`
	ProductSlug  string                    `json:"product_slug" gorm:"type:varchar(255)"`
	ThumbnailURL string                    `json:"thumbnail_url,omitempty" gorm:"type:text"`
	ProductType  productdomain.ProductType `json:"product_type" gorm:"type:varchar(32)"`
	Price        decimal.Decimal           `json:"price" gorm:"type:numeric(18,2);not null"`
	ComparePrice *decimal.Decimal          `json:"compare_price,omitempty" gorm:"type:numeric(18,2)"`
	Quantity     int64                     `json:"quantity" gorm:"not null"`
	db.Audit
}

func (Item) TableName() string { return "shopping_cart_items" }

func (i *Item) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(i.Quantity))
}

// NewItem copies the product fields a cart line keeps.
func NewItem(p *productdomain.Snapshot, quantity int64) *Item {
	return &Item{
		ProductID:    p.ID,
		ProductName:  p.Name,
		ProductSlug:  p.Slug,
		ThumbnailURL: p.ThumbnailURL,
		ProductType:  p.Type,
		Price:        p.Price,
		ComparePrice: p.ComparePrice,
		Quantity:     quantity,
	}
}

func (c *Cart) Owner() Owner {
	return Owner{UserID: c.UserID, AnonymousID: c.AnonymousID}
}

func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		if item == nil {
			continue
		}
		total = total.Add(item.LineTotal())
	}
	return total
}

// Total is the subtotal less the applied discount, never negative.
func (c *Cart) Total() decimal.Decimal {
	total := c.Subtotal()
	if d := c.Discount(); d != nil {
		total = total.Sub(d.Amount)
	}
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

func (c *Cart) Quantity() int64 {
	var n int64
	for _, item := range c.Items {
		if item != nil {
			n += item.Quantity
		}
	}
	return n
}

func (c *Cart) FindItem(productID snowflake.ID) *Item {
	for _, item := range c.Items {
		if item != nil && item.ProductID == productID {
			return item
		}
	}
	return nil
}

// AddOrIncrement adds quantity of p to the cart. An existing line for the
// same product has its quantity increased instead of a second line being
// added.
func (c *Cart) AddOrIncrement(p *productdomain.Snapshot, quantity int64, maxPerLine int) error {
	if p == nil || p.ID == 0 {
		return ErrInvalidProduct
	}
	if !p.Available {
		return ErrProductUnavailable
	}
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if existing := c.FindItem(p.ID); existing != nil {
		next := existing.Quantity + quantity
		if exceeds(next, maxPerLine) {
			return ErrQuantityLimit
		}
		existing.Quantity = next
		c.discountStale = true
		return nil
	}
	if exceeds(quantity, maxPerLine) {
		return ErrQuantityLimit
	}
	item := NewItem(p, quantity)
	item.CartID = c.ID
	c.Items = append(c.Items, item)
	c.discountStale = true
	return nil
}

// SetQuantity replaces the quantity of a line. Zero or less removes it.
func (c *Cart) SetQuantity(productID snowflake.ID, quantity int64, maxPerLine int) error {
	if quantity <= 0 {
		return c.Remove(productID)
	}
	item := c.FindItem(productID)
	if item == nil {
		return ErrItemNotFound
	}
	if exceeds(quantity, maxPerLine) {
		return ErrQuantityLimit
	}
	if item.Quantity != quantity {
		item.Quantity = quantity
		c.discountStale = true
	}
	return nil
}

func (c *Cart) Remove(productID snowflake.ID) error {
	for i, item := range c.Items {
		if item != nil && item.ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			c.discountStale = true
			return nil
		}
	}
	return ErrItemNotFound
}

// Clear removes every line and the applied discount.
func (c *Cart) Clear() {
	c.Items = nil
	c.Applied = DiscountSnapshot{}
	c.discountStale = false
}

// Reprice copies current product data onto matching lines and reports how
// many lines changed price.
func (c *Cart) Reprice(products map[snowflake.ID]*productdomain.Snapshot) int {
	changed := 0
	for _, item := range c.Items {
		if item == nil {
			continue
		}
		p, ok := products[item.ProductID]
		if !ok {
			continue
		}
		if !item.Price.Equal(p.Price) {
			changed++
		}
		item.ProductName = p.Name
		item.ProductSlug = p.Slug
		item.ThumbnailURL = p.ThumbnailURL
		item.ProductType = p.Type
		item.Price = p.Price
		item.ComparePrice = p.ComparePrice
	}
	if changed > 0 {
		c.discountStale = true
	}
	return changed
}

// Discount returns the applied discount, or nil when none is applied.
func (c *Cart) Discount() *DiscountSnapshot {
	if strings.TrimSpace(c.Applied.Code) == "" {
		return nil
	}
	return &c.Applied
}

// DiscountStale reports whether items changed since the discount was last
// evaluated.
func (c *Cart) DiscountStale() bool {
	return c.discountStale && c.Discount() != nil
}

// ApplyDiscount evaluates code against the current subtotal and stores the
// result.
func (c *Cart) ApplyDiscount(code *DiscountCode, now time.Time) error {
	snap, err := code.Evaluate(c.Subtotal(), now)
	if err != nil {
		return err
	}
	c.Applied = snap
	c.discountStale = false
	return nil
}

// RefreshDiscount re-evaluates the applied discount. A code that no longer
// applies is removed and its evaluation error returned.
func (c *Cart) RefreshDiscount(code *DiscountCode, now time.Time) error {
	if c.Discount() == nil {
		c.discountStale = false
		return nil
	}
	if code == nil {
		c.RemoveDiscount()
		return ErrDiscountNotFound
	}
	if err := c.ApplyDiscount(code, now); err != nil {
		c.RemoveDiscount()
		return err
	}
	return nil
}

func (c *Cart) RemoveDiscount() {
	c.Applied = DiscountSnapshot{}
	c.discountStale = false
}

// Merge folds the lines of src into c. Lines for products present in both
// carts are resolved by policy; the number of such collisions is returned.
// Lines copied from src become new rows of c.
func (c *Cart) Merge(src *Cart, policy MergePolicy, maxPerLine int) int {
	if src == nil {
		return 0
	}
	collisions := 0
	for _, line := range src.Items {
		if line == nil || line.Quantity <= 0 {
			continue
		}
		if existing := c.FindItem(line.ProductID); existing != nil {
			collisions++
			if policy == MergeSum {
				existing.Quantity = clamp(existing.Quantity+line.Quantity, maxPerLine)
			}
			continue
		}
		copied := *line
		copied.ID = 0
		copied.CartID = c.ID
		copied.Audit = db.Audit{}
		copied.Quantity = clamp(copied.Quantity, maxPerLine)
		c.Items = append(c.Items, &copied)
	}
	if c.Discount() == nil && src.Discount() != nil {
		c.Applied = src.Applied
	}
	c.discountStale = true
	return collisions
}

func exceeds(quantity int64, maxPerLine int) bool {
	return maxPerLine > 0 && quantity > int64(maxPerLine)
}

func clamp(quantity int64, maxPerLine int) int64 {
	if exceeds(quantity, maxPerLine) {
		return int64(maxPerLine)
	}
	return quantity
}
