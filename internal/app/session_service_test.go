package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"contextkeeper/internal/cache"
	"contextkeeper/internal/errs"
	"contextkeeper/internal/model"
	"contextkeeper/internal/repository"
	"contextkeeper/internal/testutil"
)

func TestEndToEndSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	s1, err := svc.CreateSession(ctx, CreateSessionInput{Name: "S1"})
	require.NoError(t, err)
	assert.Equal(t, "S1", s1.Name)

	text, err := svc.GetContextForSession(ctx, s1.ID)
	require.NoError(t, err)
	assert.Equal(t, "", text)

	for i := 0; i < 2; i++ {
		_, err := svc.AppendChat(ctx, AppendChatInput{SessionID: s1.ID, Prompt: "hi", Response: "hello", LatencyMs: 120})
		require.NoError(t, err)
	}

	chats, err := svc.ListChats(ctx, s1.ID, 50, 0)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "hi", chats[0].Prompt)
	assert.Equal(t, "hi", chats[1].Prompt)
	assert.True(t, chats[0].Timestamp.Before(chats[1].Timestamp))
	assert.Equal(t, int64(120), chats[0].ResponseTime)

	require.NoError(t, svc.DeleteSession(ctx, s1.ID))

	_, err = svc.GetSession(ctx, s1.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	chats, err = svc.ListChats(ctx, s1.ID, 50, 0)
	require.NoError(t, err)
	assert.Empty(t, chats)
}

func TestCreateSessionDefaultsAndInitialContext(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	s, err := svc.CreateSession(ctx, CreateSessionInput{Name: "  ", Workspace: "team", InitialContext: "space travel"})
	require.NoError(t, err)
	assert.Equal(t, DefaultSessionName, s.Name)
	require.NotNil(t, s.WorkspaceSlug)
	assert.Equal(t, "team", *s.WorkspaceSlug)
	require.True(t, s.HasContext())

	text, err := svc.GetContextForSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "space travel", text)

	bucket, err := svc.GetContext(ctx, *s.ContextBucketID)
	require.NoError(t, err)
	assert.Equal(t, model.ContextTypeGeneral, bucket.ContextType)
}

func TestCreateSessionKeepsWhitespaceContext(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	s, err := svc.CreateSession(ctx, CreateSessionInput{Name: "blank", InitialContext: "   "})
	require.NoError(t, err)
	require.True(t, s.HasContext())
	text, err := svc.GetContextForSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "   ", text)

	s, err = svc.CreateSession(ctx, CreateSessionInput{Name: "none"})
	require.NoError(t, err)
	assert.False(t, s.HasContext())
}

func TestCreateSessionRejectsInvalidPassages(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.CreateSession(context.Background(), CreateSessionInput{Name: "x", InitialContext: "not json", ContextType: model.ContextTypePassages})
	assert.ErrorIs(t, err, errs.ErrInvalidContextFormat)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	st, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Sessions)
	assert.Zero(t, st.Contexts)
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	for _, text := range []string{"plain", "  padded  ", "", "multi\nline ünïcode"} {
		bucket, err := svc.CreateContext(ctx, ContextInput{Text: text})
		require.NoError(t, err)
		got, err := svc.GetContext(ctx, bucket.ID)
		require.NoError(t, err)
		assert.Equal(t, text, got.Context)
	}

	_, err := svc.GetContext(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = svc.GetContext(ctx, "")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestUpdateContextRevisions(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	bucket, err := svc.CreateContext(ctx, ContextInput{Text: "v1"})
	require.NoError(t, err)

	updated, err := svc.UpdateContext(ctx, bucket.ID, ContextInput{Text: `["a","b"]`, Type: model.ContextTypePassages, Rev: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Rev)
	assert.Equal(t, model.ContextTypePassages, updated.ContextType)

	_, err = svc.UpdateContext(ctx, bucket.ID, ContextInput{Text: "v3", Rev: 1})
	assert.ErrorIs(t, err, errs.ErrConflict)

	// Empty type keeps passages, so the content must still be a list.
	_, err = svc.UpdateContext(ctx, bucket.ID, ContextInput{Text: "plain"})
	assert.ErrorIs(t, err, errs.ErrInvalidContextFormat)

	_, err = svc.UpdateContext(ctx, "missing", ContextInput{Text: "x"})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRenameSession(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	s, err := svc.CreateSession(ctx, CreateSessionInput{Name: "old"})
	require.NoError(t, err)

	renamed, err := svc.RenameSession(ctx, s.ID, "new", 0)
	require.NoError(t, err)
	assert.Equal(t, "new", renamed.Name)
	assert.True(t, renamed.UpdatedAt.After(s.CreatedAt))

	got, err := svc.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Name)

	_, err = svc.RenameSession(ctx, s.ID, "stale", 1)
	assert.ErrorIs(t, err, errs.ErrConflict)
	_, err = svc.RenameSession(ctx, s.ID, " ", 0)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = svc.RenameSession(ctx, "missing", "x", 0)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestDeleteSessionCascades(t *testing.T) {
	ctx := context.Background()
	svc, pub, _ := newTestService(t)

	s, err := svc.CreateSession(ctx, CreateSessionInput{Name: "a", InitialContext: "ctx"})
	require.NoError(t, err)
	other, err := svc.CreateSession(ctx, CreateSessionInput{Name: "b"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = svc.AppendChat(ctx, AppendChatInput{SessionID: s.ID, Prompt: "p", Response: "r"})
		require.NoError(t, err)
	}
	_, err = svc.AppendChat(ctx, AppendChatInput{SessionID: other.ID, Prompt: "keep", Response: "r"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteSession(ctx, s.ID))

	_, err = svc.GetContext(ctx, *s.ContextBucketID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Sessions: 1, Contexts: 0, Chats: 1}, st)
	assert.Empty(t, pub.Jobs())

	assert.ErrorIs(t, svc.DeleteSession(ctx, s.ID), errs.ErrNotFound)
	_, err = svc.AppendChat(ctx, AppendChatInput{SessionID: s.ID, Prompt: "p"})
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = svc.RenameSession(ctx, s.ID, "x", 0)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	// Purging something already gone is a success.
	require.NoError(t, svc.PurgeSession(ctx, s.ID, *s.ContextBucketID))
}

func TestDeleteSessionPartialFailureEnqueuesRetry(t *testing.T) {
	ctx := context.Background()
	svc, pub, db := newTestService(t)

	s, err := svc.CreateSession(ctx, CreateSessionInput{Name: "a", InitialContext: "ctx"})
	require.NoError(t, err)
	require.NoError(t, db.Migrator().DropTable(&model.ChatEntry{}))

	err = svc.DeleteSession(ctx, s.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrPartialCascade)
	var cascade *errs.CascadeError
	require.True(t, errors.As(err, &cascade))
	assert.Equal(t, []string{errs.StepContext}, cascade.Completed)
	assert.Equal(t, errs.StepChats, cascade.Failed)

	// The session still exists and points at an already-deleted bucket.
	_, err = svc.GetContextForSession(ctx, s.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	jobs := pub.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, s.ID, jobs[0].SessionID)
	assert.Equal(t, *s.ContextBucketID, jobs[0].ContextBucketID)
	assert.Equal(t, 1, jobs[0].Attempt)

	require.NoError(t, db.AutoMigrate(&model.ChatEntry{}))
	require.NoError(t, svc.PurgeSession(ctx, jobs[0].SessionID, jobs[0].ContextBucketID))
	_, err = svc.GetSession(ctx, s.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestPurgeSessionRejectsForeignBucket(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	owner, err := svc.CreateSession(ctx, CreateSessionInput{Name: "owner", InitialContext: "mine"})
	require.NoError(t, err)

	err = svc.PurgeSession(ctx, "someone-else", *owner.ContextBucketID)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = svc.GetContext(ctx, *owner.ContextBucketID)
	assert.NoError(t, err)
}

func TestListChatsPartitionCompleteness(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	a, err := svc.CreateSession(ctx, CreateSessionInput{Name: "a"})
	require.NoError(t, err)
	b, err := svc.CreateSession(ctx, CreateSessionInput{Name: "b"})
	require.NoError(t, err)

	const n = 7
	for i := 0; i < n; i++ {
		_, err := svc.AppendChat(ctx, AppendChatInput{
			SessionID: a.ID,
			Prompt:    fmt.Sprintf("q%d", i),
			Response:  fmt.Sprintf("a%d", i),
			Sources:   []string{fmt.Sprintf("doc-%d", i), "shared"},
		})
		require.NoError(t, err)
		_, err = svc.AppendChat(ctx, AppendChatInput{SessionID: b.ID, Prompt: "other", Response: "other"})
		require.NoError(t, err)
	}

	chats, err := svc.ListChats(ctx, a.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, chats, n)
	for i, c := range chats {
		assert.Equal(t, a.ID, c.SessionID)
		assert.Equal(t, fmt.Sprintf("q%d", i), c.Prompt)
		assert.Equal(t, fmt.Sprintf("a%d", i), c.Response)
		assert.Equal(t, []string{fmt.Sprintf("doc-%d", i), "shared"}, c.SourceList())
	}

	page, err := svc.ListChats(ctx, a.ID, 3, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "q3", page[0].Prompt)

	_, err = svc.ListChats(ctx, a.ID, 10, -1)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestAppendChatValidationAndTouch(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	s, err := svc.CreateSession(ctx, CreateSessionInput{Name: "a"})
	require.NoError(t, err)

	_, err = svc.AppendChat(ctx, AppendChatInput{SessionID: s.ID, LatencyMs: -1})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	neg := -2
	_, err = svc.AppendChat(ctx, AppendChatInput{SessionID: s.ID, TokensUsed: &neg})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	tokens := 42
	entry, err := svc.AppendChat(ctx, AppendChatInput{SessionID: s.ID, Prompt: "p", Response: "r", TokensUsed: &tokens})
	require.NoError(t, err)
	sid, ok := model.SessionIDFromChatID(entry.ID)
	require.True(t, ok)
	assert.Equal(t, s.ID, sid)

	got, err := svc.GetChat(ctx, entry.ID)
	require.NoError(t, err)
	require.NotNil(t, got.TokensUsed)
	assert.Equal(t, 42, *got.TokensUsed)
	assert.Equal(t, []string{}, got.SourceList())

	touched, err := svc.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, touched.UpdatedAt.After(s.UpdatedAt))

	_, err = svc.GetChat(ctx, "no-prefix")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = svc.GetChat(ctx, s.ID+":missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestListSessionsPaginationStability(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	var created []string
	for i := 0; i < 5; i++ {
		s, err := svc.CreateSession(ctx, CreateSessionInput{Name: fmt.Sprintf("s%d", i)})
		require.NoError(t, err)
		created = append(created, s.ID)
	}

	first, err := svc.ListSessions(ctx, ListSessionsInput{Limit: 2, Offset: 0})
	require.NoError(t, err)
	second, err := svc.ListSessions(ctx, ListSessionsInput{Limit: 2, Offset: 2})
	require.NoError(t, err)
	again, err := svc.ListSessions(ctx, ListSessionsInput{Limit: 2, Offset: 0})
	require.NoError(t, err)

	ids := func(ss []model.Session) []string {
		out := make([]string, 0, len(ss))
		for _, s := range ss {
			out = append(out, s.ID)
		}
		return out
	}
	// Most recently updated first.
	assert.Equal(t, []string{created[4], created[3]}, ids(first))
	assert.Equal(t, []string{created[2], created[1]}, ids(second))
	assert.Equal(t, ids(first), ids(again))

	_, err = svc.ListSessions(ctx, ListSessionsInput{Offset: -1})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		limit, offset int
		wantLimit     int
		wantErr       bool
	}{
		{0, 0, DefaultPageLimit, false},
		{-5, 0, DefaultPageLimit, false},
		{10, 3, 10, false},
		{1000, 0, MaxPageLimit, false},
		{10, -1, 0, true},
	}
	for _, tt := range tests {
		limit, _, err := normalizePage(tt.limit, tt.offset)
		if tt.wantErr {
			assert.ErrorIs(t, err, errs.ErrInvalidInput)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.wantLimit, limit)
	}
}

func TestAttachAndSetContext(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	s, err := svc.CreateSession(ctx, CreateSessionInput{Name: "a"})
	require.NoError(t, err)
	other, err := svc.CreateSession(ctx, CreateSessionInput{Name: "b"})
	require.NoError(t, err)
	bucket, err := svc.CreateContext(ctx, ContextInput{Text: "late"})
	require.NoError(t, err)

	attached, err := svc.AttachContext(ctx, s.ID, bucket.ID)
	require.NoError(t, err)
	assert.Equal(t, bucket.ID, *attached.ContextBucketID)

	_, err = svc.AttachContext(ctx, other.ID, bucket.ID)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	second, err := svc.CreateContext(ctx, ContextInput{Text: "second"})
	require.NoError(t, err)
	_, err = svc.AttachContext(ctx, s.ID, second.ID)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = svc.AttachContext(ctx, s.ID, "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	// Set on a linked session updates the same bucket.
	updated, err := svc.SetContextForSession(ctx, s.ID, ContextInput{Text: "revised"})
	require.NoError(t, err)
	assert.Equal(t, bucket.ID, updated.ID)

	// Set on an unlinked session creates and links a bucket.
	created, err := svc.SetContextForSession(ctx, other.ID, ContextInput{Text: "fresh"})
	require.NoError(t, err)
	text, err := svc.GetContextForSession(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh", text)
	assert.NotEqual(t, bucket.ID, created.ID)
}

func TestStoreUnavailable(t *testing.T) {
	svc, _, db := newTestService(t)
	testutil.CloseDB(t, db)

	_, err := svc.CreateSession(context.Background(), CreateSessionInput{Name: "x"})
	assert.ErrorIs(t, err, errs.ErrStoreUnavailable)
}

func TestListChatsServedFromTranscriptCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redisv9.NewClient(&redisv9.Options{Addr: mr.Addr()})
	defer client.Close()

	db := testutil.NewDB(t)
	svc := NewSessionService(
		repository.NewSessionRepository(db),
		repository.NewContextRepository(db),
		repository.NewChatRepository(db),
		nil,
		cache.NewTranscriptCache(client, time.Minute),
		nil,
	)
	s, err := svc.CreateSession(ctx, CreateSessionInput{Name: "a"})
	require.NoError(t, err)
	_, err = svc.AppendChat(ctx, AppendChatInput{SessionID: s.ID, Prompt: "one"})
	require.NoError(t, err)

	first, err := svc.ListChats(ctx, s.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A write through the service bumps the generation, so the next read
	// sees both entries.
	_, err = svc.AppendChat(ctx, AppendChatInput{SessionID: s.ID, Prompt: "two"})
	require.NoError(t, err)
	second, err := svc.ListChats(ctx, s.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, second, 2)

	// Cached pages are what is served; drop the rows underneath to prove it.
	_, err = repository.NewChatRepository(db).DeleteBySessionID(ctx, s.ID)
	require.NoError(t, err)
	cached, err := svc.ListChats(ctx, s.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, cached, 2)

	// Redis going away falls back to the store.
	mr.Close()
	fallback, err := svc.ListChats(ctx, s.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, fallback)
}

func TestAppendChatToSessionDeletedMidway(t *testing.T) {
	ctx := context.Background()
	svc, pub, db := newTestService(t)
	s, err := svc.CreateSession(ctx, CreateSessionInput{Name: "racing", InitialContext: "topic"})
	require.NoError(t, err)

	// Delete the session right after AppendChat's existence check reads it.
	armed := true
	require.NoError(t, db.Callback().Query().After("gorm:query").Register("test:delete_session_after_read", func(tx *gorm.DB) {
		if !armed || tx.Statement.Table != "sessions" {
			return
		}
		armed = false
		require.NoError(t, svc.DeleteSession(context.Background(), s.ID))
	}))

	_, err = svc.AppendChat(ctx, AppendChatInput{SessionID: s.ID, Prompt: "late"})
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.False(t, armed)

	_, err = svc.GetSession(ctx, s.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	entries, err := svc.ListChats(ctx, s.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Chats)
	assert.Empty(t, pub.Jobs())
}
