package model

import "time"

const (
	ContextTypeGeneral = "general"
	// ContextTypePassages marks content stored as a JSON array of strings.
	ContextTypePassages = "passages"
)

// ContextBucket is the authoritative context passage owned by one session.
type ContextBucket struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	Context     string    `gorm:"type:text;not null" json:"context"`
	ContextType string    `gorm:"size:64;not null;default:general" json:"context_type"`
	Rev         int64     `gorm:"not null;default:1" json:"rev"`
	CreatedAt   time.Time `gorm:"precision:6" json:"created_at"`
	UpdatedAt   time.Time `gorm:"precision:6" json:"updated_at"`
}
