package db

import (
	"errors"
	"strings"
	"time"
)

type Config struct {
	Type     string
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
	// Path is the sqlite file. Ignored by other dialects.
	Path            string
	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	SlowThreshold   time.Duration
}

var ErrUnsupportedType = errors.New("unsupported_database_type")

// Normalize lower-cases the type and fills dialect defaults for empty fields.
func (c Config) Normalize() Config {
	c.Type = strings.ToLower(strings.TrimSpace(c.Type))
	switch c.Type {
	case TypePostgres:
		if c.Port == "" {
			c.Port = "5432"
		}
		if c.SSLMode == "" {
			c.SSLMode = "disable"
		}
	case TypeMySQL:
		if c.Port == "" {
			c.Port = "3306"
		}
	case TypeSQLite:
		if strings.TrimSpace(c.Path) == "" {
			c.Path = "storefront.db"
		}
		// sqlite allows a single writer; a larger pool only queues on the file lock.
		if c.MaxOpenConn == 0 || c.MaxOpenConn > 1 {
			c.MaxOpenConn = 1
		}
	}
	return c
}

func (c Config) Validate() error {
	switch c.Type {
	case TypePostgres, TypeMySQL:
		if strings.TrimSpace(c.Host) == "" || strings.TrimSpace(c.Name) == "" {
			return errors.New("database host and name are required")
		}
		return nil
	case TypeSQLite:
		return nil
	default:
		return ErrUnsupportedType
	}
}
