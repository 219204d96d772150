package model

import "time"

// CleanupJob asks the cleanup worker to finish a session delete that stopped
// part way. ContextBucketID is empty when the session had no bucket.
type CleanupJob struct {
	SessionID       string    `json:"session_id"`
	ContextBucketID string    `json:"context_bucket_id,omitempty"`
	Attempt         int       `json:"attempt"`
	EnqueuedAt      time.Time `json:"enqueued_at"`
}
