package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Visit is an append-only page view.
type Visit struct {
	ID        snowflake.ID  `json:"id" gorm:"primaryKey;autoIncrement:false"`
	UserID    *snowflake.ID `json:"user_id,omitempty" gorm:"index"`
	IP        string        `json:"ip" gorm:"type:varchar(45);not null"`
	UserAgent string        `json:"user_agent" gorm:"type:text"`
	Path      string        `json:"path" gorm:"type:varchar(512);not null"`
	Referrer  string        `json:"referrer,omitempty" gorm:"type:varchar(512)"`
	VisitedAt time.Time     `json:"visited_at" gorm:"not null;index"`
}

func (Visit) TableName() string { return "visits" }

type DeviceClass string

const (
	DeviceDesktop DeviceClass = "desktop"
	DeviceMobile  DeviceClass = "mobile"
	DeviceBot     DeviceClass = "bot"
	DeviceUnknown DeviceClass = "unknown"
)

// DayStat covers one UTC calendar day.
type DayStat struct {
	Day            time.Time `json:"day"`
	Visits         int64     `json:"visits"`
	UniqueVisitors int64     `json:"unique_visitors"`
}

type AgentBreakdown struct {
	Browsers map[string]int64      `json:"browsers"`
	Systems  map[string]int64      `json:"systems"`
	Devices  map[DeviceClass]int64 `json:"devices"`
}

type Repository interface {
	Record(ctx context.Context, db *gorm.DB, v *Visit) error
	DailyStats(ctx context.Context, db *gorm.DB, from, to time.Time) ([]DayStat, error)
	AgentBreakdown(ctx context.Context, db *gorm.DB, from, to time.Time) (AgentBreakdown, error)
	TopPaths(ctx context.Context, db *gorm.DB, from, to time.Time, limit int) ([]PathStat, error)
}

type PathStat struct {
	Path   string `json:"path"`
	Visits int64  `json:"visits"`
}

var (
	ErrInvalidRange = errors.New("invalid_range")
	ErrInvalidVisit = errors.New("invalid_visit")
)
