package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"contextkeeper/internal/model"
	"contextkeeper/internal/repository"
	"contextkeeper/internal/testutil"
)

type fakePublisher struct {
	mu   sync.Mutex
	jobs []model.CleanupJob
}

func (f *fakePublisher) PublishCleanup(_ context.Context, job model.CleanupJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakePublisher) Jobs() []model.CleanupJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.CleanupJob(nil), f.jobs...)
}

// stepClock advances one second per reading so recency order is explicit.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestService(t *testing.T) (*SessionService, *fakePublisher, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	pub := &fakePublisher{}
	svc := NewSessionService(
		repository.NewSessionRepository(db),
		repository.NewContextRepository(db),
		repository.NewChatRepository(db),
		pub,
		nil,
		nil,
	)
	svc.now = stepClock()
	return svc, pub, db
}
