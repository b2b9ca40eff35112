package models

import (
	"time"
)

// CacheEntry is a cached value kept in the primary database when Redis is not configured.
type CacheEntry struct {
	Key       string    `gorm:"primaryKey;size:256"`
	Value     []byte    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName keeps the table name stable regardless of naming strategy.
func (CacheEntry) TableName() string {
	return "cache_entries"
}
