package model

import (
	"encoding/json"
	"strings"
	"time"
)

// ChatIDSeparator joins the owning session id and the entry suffix.
const ChatIDSeparator = ":"

// ChatEntry is one logged prompt/response turn. Entries are append-only.
// Sources is stored as a JSON array of strings.
type ChatEntry struct {
	ID           string    `gorm:"primaryKey;size:191" json:"id"`
	SessionID    string    `gorm:"size:64;not null" json:"session_id"`
	Prompt       string    `gorm:"type:text;not null" json:"prompt"`
	Response     string    `gorm:"type:text;not null" json:"response"`
	ResponseTime int64     `gorm:"not null" json:"response_time"`
	TokensUsed   *int      `json:"tokens_used,omitempty"`
	Sources      string    `gorm:"type:text" json:"-"`
	Timestamp    time.Time `gorm:"precision:6;not null" json:"timestamp"`
}

// ChatID composes the partitioned id for an entry of sessionID.
func ChatID(sessionID, suffix string) string {
	return sessionID + ChatIDSeparator + suffix
}

// ChatPartitionBounds returns the half-open id range [lo, hi) covering every
// entry of sessionID. ';' is the byte following ':'.
func ChatPartitionBounds(sessionID string) (string, string) {
	return sessionID + ChatIDSeparator, sessionID + ";"
}

// SessionIDFromChatID returns the partition prefix of a chat id.
func SessionIDFromChatID(chatID string) (string, bool) {
	idx := strings.Index(chatID, ChatIDSeparator)
	if idx <= 0 || idx == len(chatID)-1 {
		return "", false
	}
	return chatID[:idx], true
}

// SourceList returns the parsed sources; empty on parse error.
func (c *ChatEntry) SourceList() []string {
	if c.Sources == "" {
		return []string{}
	}
	var v []string
	if err := json.Unmarshal([]byte(c.Sources), &v); err != nil || v == nil {
		return []string{}
	}
	return v
}

// SetSources stores the sources as JSON, preserving order.
func (c *ChatEntry) SetSources(sources []string) {
	if len(sources) == 0 {
		c.Sources = "[]"
		return
	}
	b, _ := json.Marshal(sources)
	c.Sources = string(b)
}

// MarshalJSON exposes sources as a list instead of the stored string.
func (c ChatEntry) MarshalJSON() ([]byte, error) {
	type alias ChatEntry
	return json.Marshal(struct {
		alias
		Sources []string `json:"sources"`
	}{alias: alias(c), Sources: c.SourceList()})
}

// UnmarshalJSON accepts the list form produced by MarshalJSON.
func (c *ChatEntry) UnmarshalJSON(data []byte) error {
	type alias ChatEntry
	aux := struct {
		*alias
		Sources []string `json:"sources"`
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.SetSources(aux.Sources)
	return nil
}
