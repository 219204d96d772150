package model

import "time"

type Session struct {
	ID              string    `gorm:"primaryKey;size:64" json:"id"`
	Name            string    `gorm:"column:session_name;size:256;not null" json:"session_name"`
	ContextBucketID *string   `gorm:"size:64;uniqueIndex" json:"context_bucket_id,omitempty"`
	WorkspaceSlug   *string   `gorm:"size:128;index" json:"workspace_slug,omitempty"`
	Rev             int64     `gorm:"not null;default:1" json:"rev"`
	CreatedAt       time.Time `gorm:"precision:6" json:"created_at"`
	UpdatedAt       time.Time `gorm:"precision:6;index" json:"updated_at"`
}

// HasContext reports whether a context bucket is linked.
func (s *Session) HasContext() bool {
	return s.ContextBucketID != nil && *s.ContextBucketID != ""
}

// Tables lists every persisted model for AutoMigrate.
func Tables() []any {
	return []any{&Session{}, &ContextBucket{}, &ChatEntry{}}
}
