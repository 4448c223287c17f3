package db

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Audit carries the bookkeeping columns shared by every persisted row.
type Audit struct {
	CreatorID *snowflake.ID  `json:"creator_id,omitempty" gorm:"column:creator_id"`
	UpdaterID *snowflake.ID  `json:"updater_id,omitempty" gorm:"column:updater_id"`
	CreatedAt time.Time      `json:"created_at" gorm:"column:created_at;not null"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"column:updated_at;not null"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"column:deleted_at;index"`
}

// Stamp fills the audit columns for a write performed by actor at now.
// CreatedAt and CreatorID are only set the first time.
func (a *Audit) Stamp(actor *snowflake.ID, now time.Time) {
	now = now.UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
		a.CreatorID = actor
	}
	a.UpdatedAt = now
	a.UpdaterID = actor
}

// IsDeleted reports whether the row carries a soft-delete timestamp.
func (a Audit) IsDeleted() bool {
	return a.DeletedAt.Valid
}
