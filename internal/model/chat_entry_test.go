package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatPartitionBoundsCoverOnlyOwnSession(t *testing.T) {
	lo, hi := ChatPartitionBounds("abc")

	inside := ChatID("abc", "0192")
	assert.True(t, inside >= lo && inside < hi)

	for _, other := range []string{ChatID("abcd", "1"), ChatID("ab", "1"), "abc;x", "abb:zz"} {
		assert.False(t, other >= lo && other < hi, other)
	}
}

func TestSessionIDFromChatID(t *testing.T) {
	sid, ok := SessionIDFromChatID("s-1:x-2")
	require.True(t, ok)
	assert.Equal(t, "s-1", sid)

	for _, bad := range []string{"", "nosep", ":x", "s-1:"} {
		_, ok := SessionIDFromChatID(bad)
		assert.False(t, ok, bad)
	}
}

func TestChatEntrySourcesKeepOrderThroughJSON(t *testing.T) {
	entry := ChatEntry{ID: "s:1", SessionID: "s", Prompt: "hi"}
	entry.SetSources([]string{"b.md", "a.md"})

	raw, err := json.Marshal(entry)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"sources":["b.md","a.md"]`)

	var decoded ChatEntry
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, []string{"b.md", "a.md"}, decoded.SourceList())
	assert.Equal(t, "hi", decoded.Prompt)
}

func TestChatEntryEmptySources(t *testing.T) {
	var entry ChatEntry
	assert.Equal(t, []string{}, entry.SourceList())
	entry.SetSources(nil)
	assert.Equal(t, "[]", entry.Sources)
	entry.Sources = "not json"
	assert.Equal(t, []string{}, entry.SourceList())
}
