package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"contextkeeper/internal/model"
)

const maxBulkFetch = 500

// ChatRepository keeps every query on a session's chats inside the primary
// key range of that session's partition.
type ChatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

func (r *ChatRepository) Create(ctx context.Context, entry *model.ChatEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return wrapErr("create chat entry", err)
	}
	return nil
}

func (r *ChatRepository) GetByID(ctx context.Context, id string) (*model.ChatEntry, error) {
	var entry model.ChatEntry
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrapErr("get chat entry", err)
	}
	return &entry, nil
}

func (r *ChatRepository) partition(ctx context.Context, sessionID string) *gorm.DB {
	lo, hi := model.ChatPartitionBounds(sessionID)
	return r.db.WithContext(ctx).Model(&model.ChatEntry{}).Where("id >= ? AND id < ?", lo, hi)
}

// ListIDsBySessionID scans the partition key range and returns one page of
// ids in transcript order, or newest first when newestFirst is set.
func (r *ChatRepository) ListIDsBySessionID(ctx context.Context, sessionID string, limit, offset int, newestFirst bool) ([]string, error) {
	q := r.partition(ctx, sessionID)
	if newestFirst {
		q = q.Order("timestamp DESC").Order("id DESC")
	} else {
		q = q.Order("timestamp ASC").Order("id ASC")
	}
	var ids []string
	if err := q.Limit(limit).Offset(offset).Pluck("id", &ids).Error; err != nil {
		return nil, wrapErr("list chat ids by session", err)
	}
	return ids, nil
}

// GetByIDs bulk-fetches entries and returns them in the order of ids.
// Ids that no longer exist are skipped.
func (r *ChatRepository) GetByIDs(ctx context.Context, ids []string) ([]model.ChatEntry, error) {
	if len(ids) == 0 {
		return []model.ChatEntry{}, nil
	}
	byID := make(map[string]model.ChatEntry, len(ids))
	for start := 0; start < len(ids); start += maxBulkFetch {
		end := start + maxBulkFetch
		if end > len(ids) {
			end = len(ids)
		}
		var batch []model.ChatEntry
		if err := r.db.WithContext(ctx).Where("id IN ?", ids[start:end]).Find(&batch).Error; err != nil {
			return nil, wrapErr("bulk get chat entries", err)
		}
		for _, e := range batch {
			byID[e.ID] = e
		}
	}
	entries := make([]model.ChatEntry, 0, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// ListBySessionID is the two-step id scan then batch fetch.
func (r *ChatRepository) ListBySessionID(ctx context.Context, sessionID string, limit, offset int, newestFirst bool) ([]model.ChatEntry, error) {
	ids, err := r.ListIDsBySessionID(ctx, sessionID, limit, offset, newestFirst)
	if err != nil {
		return nil, err
	}
	return r.GetByIDs(ctx, ids)
}

// DeleteBySessionID removes the whole partition; an empty partition is not
// an error.
func (r *ChatRepository) DeleteBySessionID(ctx context.Context, sessionID string) (int64, error) {
	lo, hi := model.ChatPartitionBounds(sessionID)
	res := r.db.WithContext(ctx).Where("id >= ? AND id < ?", lo, hi).Delete(&model.ChatEntry{})
	if res.Error != nil {
		return 0, wrapErr("delete chat entries by session", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *ChatRepository) CountBySessionID(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	if err := r.partition(ctx, sessionID).Count(&n).Error; err != nil {
		return 0, wrapErr("count chat entries by session", err)
	}
	return n, nil
}

func (r *ChatRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.ChatEntry{}).Count(&n).Error; err != nil {
		return 0, wrapErr("count chat entries", err)
	}
	return n, nil
}
