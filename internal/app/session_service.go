package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"contextkeeper/internal/errs"
	"contextkeeper/internal/model"
	"contextkeeper/internal/repository"
)

const (
	DefaultSessionName = "New Session"
	DefaultPageLimit   = 50
	MaxPageLimit       = 200

	touchAttempts  = 3
	enqueueTimeout = 5 * time.Second
)

type CleanupPublisher interface {
	PublishCleanup(ctx context.Context, job model.CleanupJob) error
}

type TranscriptCache interface {
	Generation(ctx context.Context, sessionID string) (int64, error)
	GetPage(ctx context.Context, sessionID string, gen int64, limit, offset int) ([]model.ChatEntry, bool, error)
	SetPage(ctx context.Context, sessionID string, gen int64, limit, offset int, entries []model.ChatEntry) error
	Invalidate(ctx context.Context, sessionID string) error
}

// SessionService owns sessions, their context buckets and their chat logs.
// The three live in independent tables; multi-document operations are
// ordered so a crash leaves at most orphaned children, never a session
// pointing at a deleted child.
type SessionService struct {
	sessionRepo *repository.SessionRepository
	contextRepo *repository.ContextRepository
	chatRepo    *repository.ChatRepository
	publisher   CleanupPublisher
	transcripts TranscriptCache
	logger      *zap.Logger
	now         func() time.Time
}

type CreateSessionInput struct {
	Name           string
	Workspace      string
	InitialContext string
	ContextType    string
}

type ListSessionsInput struct {
	Workspace string
	Limit     int
	Offset    int
}

// ContextInput carries new bucket content. An empty Type keeps the current
// type on update and means "general" on create. Rev, when non-zero, must
// match the stored revision.
type ContextInput struct {
	Text string
	Type string
	Rev  int64
}

type AppendChatInput struct {
	SessionID  string
	Prompt     string
	Response   string
	LatencyMs  int64
	TokensUsed *int
	Sources    []string
}

type Stats struct {
	Sessions int64 `json:"sessions"`
	Contexts int64 `json:"contexts"`
	Chats    int64 `json:"chats"`
}

// NewSessionService accepts nil publisher and transcripts.
func NewSessionService(
	sessionRepo *repository.SessionRepository,
	contextRepo *repository.ContextRepository,
	chatRepo *repository.ChatRepository,
	publisher CleanupPublisher,
	transcripts TranscriptCache,
	logger *zap.Logger,
) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		sessionRepo: sessionRepo,
		contextRepo: contextRepo,
		chatRepo:    chatRepo,
		publisher:   publisher,
		transcripts: transcripts,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *SessionService) CreateSession(ctx context.Context, input CreateSessionInput) (*model.Session, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = DefaultSessionName
	}

	now := s.now()
	session := &model.Session{
		ID:        uuid.NewString(),
		Name:      name,
		Rev:       1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if ws := strings.TrimSpace(input.Workspace); ws != "" {
		session.WorkspaceSlug = &ws
	}

	if input.InitialContext != "" {
		bucket, err := s.CreateContext(ctx, ContextInput{Text: input.InitialContext, Type: input.ContextType})
		if err != nil {
			return nil, err
		}
		session.ContextBucketID = &bucket.ID
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		if session.HasContext() {
			s.discardBucket(ctx, *session.ContextBucketID)
		}
		return nil, err
	}

	s.logger.Info("session created", zap.String("session_id", session.ID), zap.Bool("has_context", session.HasContext()))
	return session, nil
}

func (s *SessionService) GetSession(ctx context.Context, id string) (*model.Session, error) {
	if err := errs.RequireID("session", id); err != nil {
		return nil, err
	}
	session, err := s.sessionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errs.NotFound("session", id)
	}
	return session, nil
}

// RenameSession sets a new display name. expectedRev 0 means the current
// revision.
func (s *SessionService) RenameSession(ctx context.Context, id, newName string, expectedRev int64) (*model.Session, error) {
	name := strings.TrimSpace(newName)
	if name == "" {
		return nil, errs.Invalid("session name is required")
	}
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	rev := session.Rev
	if expectedRev != 0 {
		rev = expectedRev
	}

	now := s.now()
	ok, err := s.sessionRepo.UpdateWithRev(ctx, id, rev, map[string]interface{}{"session_name": name}, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.sessionWriteMiss(ctx, id)
	}

	session.Name = name
	session.Rev = rev + 1
	session.UpdatedAt = now
	return session, nil
}

// TouchSession bumps the session's update time, re-reading the revision on
// contention.
func (s *SessionService) TouchSession(ctx context.Context, id string) error {
	for attempt := 0; attempt < touchAttempts; attempt++ {
		session, err := s.GetSession(ctx, id)
		if err != nil {
			return err
		}
		ok, err := s.sessionRepo.UpdateWithRev(ctx, id, session.Rev, nil, s.now())
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("touch session %q: %w", id, errs.ErrConflict)
}

// DeleteSession removes the session's bucket, then its chats, then the
// session. A failure after the first completed step returns a
// *errs.CascadeError and schedules a PurgeSession retry.
func (s *SessionService) DeleteSession(ctx context.Context, id string) error {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	bucketID := ""
	if session.HasContext() {
		bucketID = *session.ContextBucketID
	}

	err = s.cascade(ctx, id, bucketID)
	var cascadeErr *errs.CascadeError
	if errors.As(err, &cascadeErr) {
		s.logger.Warn("session delete incomplete",
			zap.String("session_id", id),
			zap.Strings("completed", cascadeErr.Completed),
			zap.String("failed", cascadeErr.Failed),
			zap.Error(cascadeErr.Err),
		)
		s.enqueueCleanup(ctx, id, bucketID)
		return err
	}
	if err != nil {
		return err
	}

	s.logger.Info("session deleted", zap.String("session_id", id))
	return nil
}

// PurgeSession runs the delete cascade without requiring the session to
// exist. Already-absent children count as deleted, so it is safe to repeat.
func (s *SessionService) PurgeSession(ctx context.Context, sessionID, bucketID string) error {
	if err := errs.RequireID("session", sessionID); err != nil {
		return err
	}

	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if bucketID == "" && session != nil && session.HasContext() {
		bucketID = *session.ContextBucketID
	}
	if bucketID != "" {
		owner, err := s.sessionRepo.GetByContextBucketID(ctx, bucketID)
		if err != nil {
			return err
		}
		if owner != nil && owner.ID != sessionID {
			return errs.Invalid("context bucket %q belongs to session %q", bucketID, owner.ID)
		}
	}
	return s.cascade(ctx, sessionID, bucketID)
}

func (s *SessionService) cascade(ctx context.Context, sessionID, bucketID string) error {
	var completed []string
	fail := func(step string, err error) error {
		if len(completed) == 0 {
			return err
		}
		return &errs.CascadeError{SessionID: sessionID, Completed: completed, Failed: step, Err: err}
	}

	if bucketID != "" {
		if err := s.contextRepo.DeleteByID(ctx, bucketID); err != nil {
			return fail(errs.StepContext, err)
		}
	}
	completed = append(completed, errs.StepContext)

	removed, err := s.chatRepo.DeleteBySessionID(ctx, sessionID)
	if err != nil {
		return fail(errs.StepChats, err)
	}
	completed = append(completed, errs.StepChats)
	s.invalidateTranscript(ctx, sessionID)

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fail(errs.StepSession, err)
	}

	s.logger.Debug("session cascade finished", zap.String("session_id", sessionID), zap.Int64("chats_removed", removed))
	return nil
}

func (s *SessionService) enqueueCleanup(ctx context.Context, sessionID, bucketID string) {
	if s.publisher == nil {
		s.logger.Warn("no cleanup publisher, orphans remain until purged", zap.String("session_id", sessionID))
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
	defer cancel()

	job := model.CleanupJob{SessionID: sessionID, ContextBucketID: bucketID, Attempt: 1, EnqueuedAt: s.now()}
	if err := s.publisher.PublishCleanup(pubCtx, job); err != nil {
		s.logger.Error("enqueue session cleanup failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *SessionService) ListSessions(ctx context.Context, input ListSessionsInput) ([]model.Session, error) {
	limit, offset, err := normalizePage(input.Limit, input.Offset)
	if err != nil {
		return nil, err
	}
	sessions, err := s.sessionRepo.List(ctx, strings.TrimSpace(input.Workspace), limit, offset)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	return sessions, nil
}

func (s *SessionService) CreateContext(ctx context.Context, input ContextInput) (*model.ContextBucket, error) {
	ctxType, err := validateContext(input.Text, input.Type, model.ContextTypeGeneral)
	if err != nil {
		return nil, err
	}
	now := s.now()
	bucket := &model.ContextBucket{
		ID:          uuid.NewString(),
		Context:     input.Text,
		ContextType: ctxType,
		Rev:         1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.contextRepo.Create(ctx, bucket); err != nil {
		return nil, err
	}
	return bucket, nil
}

func (s *SessionService) GetContext(ctx context.Context, id string) (*model.ContextBucket, error) {
	if err := errs.RequireID("context", id); err != nil {
		return nil, err
	}
	bucket, err := s.contextRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if bucket == nil {
		return nil, errs.NotFound("context", id)
	}
	return bucket, nil
}

func (s *SessionService) UpdateContext(ctx context.Context, id string, input ContextInput) (*model.ContextBucket, error) {
	bucket, err := s.GetContext(ctx, id)
	if err != nil {
		return nil, err
	}
	ctxType, err := validateContext(input.Text, input.Type, bucket.ContextType)
	if err != nil {
		return nil, err
	}
	rev := bucket.Rev
	if input.Rev != 0 {
		rev = input.Rev
	}

	now := s.now()
	fields := map[string]interface{}{"context": input.Text, "context_type": ctxType}
	ok, err := s.contextRepo.UpdateWithRev(ctx, id, rev, fields, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.contextRepo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, errs.NotFound("context", id)
		}
		return nil, fmt.Errorf("context %q: %w", id, errs.ErrConflict)
	}

	bucket.Context = input.Text
	bucket.ContextType = ctxType
	bucket.Rev = rev + 1
	bucket.UpdatedAt = now
	return bucket, nil
}

// ContextForSession resolves the session's bucket. It returns (nil, nil)
// when the session has none and ErrNotFound when the session is absent or
// its bucket reference is dangling.
func (s *SessionService) ContextForSession(ctx context.Context, sessionID string) (*model.ContextBucket, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.HasContext() {
		return nil, nil
	}
	bucket, err := s.contextRepo.GetByID(ctx, *session.ContextBucketID)
	if err != nil {
		return nil, err
	}
	if bucket == nil {
		return nil, errs.NotFound("context", *session.ContextBucketID)
	}
	return bucket, nil
}

func (s *SessionService) GetContextForSession(ctx context.Context, sessionID string) (string, error) {
	bucket, err := s.ContextForSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if bucket == nil {
		return "", nil
	}
	return bucket.Context, nil
}

// SetContextForSession updates the linked bucket, or creates one and links
// it when the session has none.
func (s *SessionService) SetContextForSession(ctx context.Context, sessionID string, input ContextInput) (*model.ContextBucket, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.HasContext() {
		return s.UpdateContext(ctx, *session.ContextBucketID, input)
	}

	bucket, err := s.CreateContext(ctx, ContextInput{Text: input.Text, Type: input.Type})
	if err != nil {
		return nil, err
	}
	if err := s.link(ctx, session, bucket.ID); err != nil {
		s.discardBucket(ctx, bucket.ID)
		return nil, err
	}
	return bucket, nil
}

// AttachContext links an existing, unowned bucket to a session without one.
func (s *SessionService) AttachContext(ctx context.Context, sessionID, bucketID string) (*model.Session, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetContext(ctx, bucketID); err != nil {
		return nil, err
	}
	if session.HasContext() {
		return nil, errs.Invalid("session %q already has context %q", sessionID, *session.ContextBucketID)
	}
	owner, err := s.sessionRepo.GetByContextBucketID(ctx, bucketID)
	if err != nil {
		return nil, err
	}
	if owner != nil {
		return nil, errs.Invalid("context %q is attached to another session", bucketID)
	}

	if err := s.link(ctx, session, bucketID); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SessionService) link(ctx context.Context, session *model.Session, bucketID string) error {
	now := s.now()
	ok, err := s.sessionRepo.UpdateWithRev(ctx, session.ID, session.Rev, map[string]interface{}{"context_bucket_id": bucketID}, now)
	if err != nil {
		if repository.IsDuplicate(err) {
			return errs.Invalid("context %q is attached to another session", bucketID)
		}
		return err
	}
	if !ok {
		return s.sessionWriteMiss(ctx, session.ID)
	}
	session.ContextBucketID = &bucketID
	session.Rev++
	session.UpdatedAt = now
	return nil
}

func (s *SessionService) AppendChat(ctx context.Context, input AppendChatInput) (*model.ChatEntry, error) {
	if input.LatencyMs < 0 {
		return nil, errs.Invalid("latency must not be negative")
	}
	if input.TokensUsed != nil && *input.TokensUsed < 0 {
		return nil, errs.Invalid("tokens used must not be negative")
	}
	if _, err := s.GetSession(ctx, input.SessionID); err != nil {
		return nil, err
	}

	suffix, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate chat id failed: %w", err)
	}
	var tokens *int
	if input.TokensUsed != nil {
		n := *input.TokensUsed
		tokens = &n
	}
	entry := &model.ChatEntry{
		ID:           model.ChatID(input.SessionID, suffix.String()),
		SessionID:    input.SessionID,
		Prompt:       input.Prompt,
		Response:     input.Response,
		ResponseTime: input.LatencyMs,
		TokensUsed:   tokens,
		Timestamp:    s.now(),
	}
	entry.SetSources(input.Sources)

	if err := s.chatRepo.Create(ctx, entry); err != nil {
		return nil, err
	}
	s.invalidateTranscript(ctx, input.SessionID)

	if err := s.TouchSession(ctx, input.SessionID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			// Deleted while appending: the cascade may already have passed the chats step.
			s.dropOrphanChats(ctx, input.SessionID)
			return nil, err
		}
		s.logger.Warn("touch session after chat failed", zap.String("session_id", input.SessionID), zap.Error(err))
	}
	return entry, nil
}

// ListChats returns one page of the transcript, oldest first. A session
// that does not exist, or no longer exists, has an empty transcript.
func (s *SessionService) ListChats(ctx context.Context, sessionID string, limit, offset int) ([]model.ChatEntry, error) {
	if err := errs.RequireID("session", sessionID); err != nil {
		return nil, err
	}
	limit, offset, err := normalizePage(limit, offset)
	if err != nil {
		return nil, err
	}

	gen, cached := s.cachedPage(ctx, sessionID, limit, offset)
	if cached != nil {
		return cached, nil
	}

	entries, err := s.chatRepo.ListBySessionID(ctx, sessionID, limit, offset, false)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.ChatEntry{}
	}
	if gen >= 0 {
		if err := s.transcripts.SetPage(ctx, sessionID, gen, limit, offset, entries); err != nil {
			s.logger.Warn("transcript cache set failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return entries, nil
}

// cachedPage returns the cached page when present. gen is -1 when the cache
// is disabled or unreachable.
func (s *SessionService) cachedPage(ctx context.Context, sessionID string, limit, offset int) (int64, []model.ChatEntry) {
	if s.transcripts == nil {
		return -1, nil
	}
	gen, err := s.transcripts.Generation(ctx, sessionID)
	if err != nil {
		s.logger.Warn("transcript cache generation failed", zap.String("session_id", sessionID), zap.Error(err))
		return -1, nil
	}
	entries, ok, err := s.transcripts.GetPage(ctx, sessionID, gen, limit, offset)
	if err != nil {
		s.logger.Warn("transcript cache get failed", zap.String("session_id", sessionID), zap.Error(err))
		return gen, nil
	}
	if !ok {
		return gen, nil
	}
	if entries == nil {
		entries = []model.ChatEntry{}
	}
	return gen, entries
}

func (s *SessionService) invalidateTranscript(ctx context.Context, sessionID string) {
	if s.transcripts == nil {
		return
	}
	if err := s.transcripts.Invalidate(ctx, sessionID); err != nil {
		s.logger.Warn("transcript cache invalidate failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *SessionService) GetChat(ctx context.Context, chatID string) (*model.ChatEntry, error) {
	if _, ok := model.SessionIDFromChatID(chatID); !ok {
		return nil, errs.Invalid("chat id %q has no session prefix", chatID)
	}
	entry, err := s.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, errs.NotFound("chat", chatID)
	}
	return entry, nil
}

// LatestChat returns the newest entry, or nil for an empty transcript.
func (s *SessionService) LatestChat(ctx context.Context, sessionID string) (*model.ChatEntry, error) {
	entries, err := s.RecentChats(ctx, sessionID, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// RecentChats returns up to n of the newest entries, oldest first.
func (s *SessionService) RecentChats(ctx context.Context, sessionID string, n int) ([]model.ChatEntry, error) {
	if err := errs.RequireID("session", sessionID); err != nil {
		return nil, err
	}
	if n <= 0 {
		return []model.ChatEntry{}, nil
	}
	entries, err := s.chatRepo.ListBySessionID(ctx, sessionID, n, 0, true)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (s *SessionService) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var err error
	if st.Sessions, err = s.sessionRepo.Count(ctx); err != nil {
		return Stats{}, err
	}
	if st.Contexts, err = s.contextRepo.Count(ctx); err != nil {
		return Stats{}, err
	}
	if st.Chats, err = s.chatRepo.Count(ctx); err != nil {
		return Stats{}, err
	}
	return st, nil
}

func (s *SessionService) sessionWriteMiss(ctx context.Context, id string) error {
	current, err := s.sessionRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return errs.NotFound("session", id)
	}
	return fmt.Errorf("session %q: %w", id, errs.ErrConflict)
}

// dropOrphanChats removes entries left under a deleted session. A failure is
// handed to the cleanup queue.
func (s *SessionService) dropOrphanChats(ctx context.Context, sessionID string) {
	removed, err := s.chatRepo.DeleteBySessionID(context.WithoutCancel(ctx), sessionID)
	s.invalidateTranscript(ctx, sessionID)
	if err != nil {
		s.logger.Error("remove orphan chats failed", zap.String("session_id", sessionID), zap.Error(err))
		s.enqueueCleanup(ctx, sessionID, "")
		return
	}
	s.logger.Warn("session deleted during append, chats removed", zap.String("session_id", sessionID), zap.Int64("chats_removed", removed))
}

func (s *SessionService) discardBucket(ctx context.Context, bucketID string) {
	if err := s.contextRepo.DeleteByID(ctx, bucketID); err != nil {
		s.logger.Warn("discard unlinked context failed", zap.String("context_id", bucketID), zap.Error(err))
	}
}

func normalizePage(limit, offset int) (int, int, error) {
	if offset < 0 {
		return 0, 0, errs.Invalid("offset must not be negative")
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return limit, offset, nil
}

// validateContext checks content against its type and returns the
// effective type.
func validateContext(text, ctxType, fallback string) (string, error) {
	ctxType = strings.TrimSpace(ctxType)
	if ctxType == "" {
		ctxType = fallback
	}
	if ctxType == model.ContextTypePassages {
		if _, err := ParsePassages(text); err != nil {
			return "", err
		}
	}
	return ctxType, nil
}

// ParsePassages decodes passages content: a JSON array holding at least one
// string.
func ParsePassages(content string) ([]string, error) {
	var passages []string
	if err := json.Unmarshal([]byte(content), &passages); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidContextFormat, err)
	}
	if len(passages) == 0 {
		return nil, fmt.Errorf("%w: no passages", errs.ErrInvalidContextFormat)
	}
	return passages, nil
}

// ContextText flattens a bucket to the single passage that is embedded.
func ContextText(bucket *model.ContextBucket) (string, error) {
	if bucket == nil {
		return "", nil
	}
	if bucket.ContextType != model.ContextTypePassages {
		return bucket.Context, nil
	}
	passages, err := ParsePassages(bucket.Context)
	if err != nil {
		return "", err
	}
	return strings.Join(passages, " "), nil
}
