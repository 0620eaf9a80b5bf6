package repos

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zapdesk/zapdesk-backend/internal/domain"
	"github.com/zapdesk/zapdesk-backend/internal/platform/dbctx"
	"github.com/zapdesk/zapdesk-backend/internal/platform/logger"
)

type MessageRepo interface {
	Create(dbc dbctx.Context, rows []*domain.Message) ([]*domain.Message, error)
	ExistsByExternalID(dbc dbctx.Context, chatID uuid.UUID, externalID string) (bool, error)
	ListByChat(dbc dbctx.Context, chatID uuid.UUID, limit int, before *time.Time) ([]*domain.Message, error)
	CountByChat(dbc dbctx.Context, chatID uuid.UUID) (int64, error)
	CountUnreadSince(dbc dbctx.Context, chatID uuid.UUID, since time.Time) (int64, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, log *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: log.With("repo", "MessageRepo")}
}

func (r *messageRepo) Create(dbc dbctx.Context, rows []*domain.Message) ([]*domain.Message, error) {
	if len(rows) == 0 {
		return []*domain.Message{}, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	if err := txx.WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *messageRepo) ExistsByExternalID(dbc dbctx.Context, chatID uuid.UUID, externalID string) (bool, error) {
	if chatID == uuid.Nil {
		return false, fmt.Errorf("missing chat id")
	}
	if externalID == "" {
		return false, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var count int64
	if err := txx.WithContext(dbc.Ctx).
		Model(&domain.Message{}).
		Where("chat_id = ? AND external_id = ?", chatID, externalID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListByChat returns messages in createdAt ascending order. A non-nil
// before bound gives cursor paging backwards through history.
func (r *messageRepo) ListByChat(dbc dbctx.Context, chatID uuid.UUID, limit int, before *time.Time) ([]*domain.Message, error) {
	if chatID == uuid.Nil {
		return nil, fmt.Errorf("missing chat id")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	q := txx.WithContext(dbc.Ctx).
		Model(&domain.Message{}).
		Where("chat_id = ?", chatID)
	if before != nil {
		q = q.Where("created_at < ?", *before)
	}
	var out []*domain.Message
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *messageRepo) CountByChat(dbc dbctx.Context, chatID uuid.UUID) (int64, error) {
	if chatID == uuid.Nil {
		return 0, fmt.Errorf("missing chat id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var count int64
	if err := txx.WithContext(dbc.Ctx).
		Model(&domain.Message{}).
		Where("chat_id = ?", chatID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *messageRepo) CountUnreadSince(dbc dbctx.Context, chatID uuid.UUID, since time.Time) (int64, error) {
	if chatID == uuid.Nil {
		return 0, fmt.Errorf("missing chat id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var count int64
	if err := txx.WithContext(dbc.Ctx).
		Model(&domain.Message{}).
		Where("chat_id = ? AND sender_type = ? AND created_at > ?", chatID, domain.SenderTypeContact, since).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
