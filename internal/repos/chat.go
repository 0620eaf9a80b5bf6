package repos

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zapdesk/zapdesk-backend/internal/domain"
	"github.com/zapdesk/zapdesk-backend/internal/platform/dbctx"
	"github.com/zapdesk/zapdesk-backend/internal/platform/logger"
)

type ChatRepo interface {
	Create(dbc dbctx.Context, rows []*domain.Chat) ([]*domain.Chat, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Chat, error)
	GetByExternalContactID(dbc dbctx.Context, externalContactID string) (*domain.Chat, error)
	LockByID(dbc dbctx.Context, id uuid.UUID) (*domain.Chat, error)
	ListByLastMessage(dbc dbctx.Context, limit int) ([]*domain.Chat, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type chatRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatRepo(db *gorm.DB, log *logger.Logger) ChatRepo {
	return &chatRepo{db: db, log: log.With("repo", "ChatRepo")}
}

func (r *chatRepo) Create(dbc dbctx.Context, rows []*domain.Chat) ([]*domain.Chat, error) {
	if len(rows) == 0 {
		return []*domain.Chat{}, nil
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

func (r *chatRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Chat, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing chat id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out domain.Chat
	err := txx.WithContext(dbc.Ctx).
		Model(&domain.Chat{}).
		Where("id = ?", id).
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *chatRepo) GetByExternalContactID(dbc dbctx.Context, externalContactID string) (*domain.Chat, error) {
	if externalContactID == "" {
		return nil, fmt.Errorf("missing external contact id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out domain.Chat
	err := txx.WithContext(dbc.Ctx).
		Model(&domain.Chat{}).
		Where("external_contact_id = ?", externalContactID).
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// LockByID takes a row lock so the summary update and the message append
// commit together even across instances. On sqlite (tests) the locking
// clause is a no-op, which is fine: the keyed mutex already serializes
// single-process writers.
func (r *chatRepo) LockByID(dbc dbctx.Context, id uuid.UUID) (*domain.Chat, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing chat id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out domain.Chat
	err := txx.WithContext(dbc.Ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Model(&domain.Chat{}).
		Where("id = ?", id).
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *chatRepo) ListByLastMessage(dbc dbctx.Context, limit int) ([]*domain.Chat, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*domain.Chat
	if err := txx.WithContext(dbc.Ctx).
		Model(&domain.Chat{}).
		Order("last_message_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing chat id")
	}
	if len(updates) == 0 {
		return nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Model(&domain.Chat{}).
		Where("id = ?", id).
		Updates(updates).Error
}
