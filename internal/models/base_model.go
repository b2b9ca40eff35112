package models

import (
	"time"

	"github.com/google/uuid"
)

// ensureID assigns a UUID v4 when id is still empty. Both storage backends
// share it so identifiers look the same regardless of driver.
func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// utcPtr copies t into UTC, keeping nil as nil.
func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}

// touch stamps created/updated times for stores that do not manage them.
func touch(createdAt, updatedAt *time.Time, now time.Time) {
	now = now.UTC()
	if createdAt.IsZero() {
		*createdAt = now
	}
	*updatedAt = now
}
