package repos

import (
	"gorm.io/gorm"

	"github.com/zapdesk/zapdesk-backend/internal/domain"
	"github.com/zapdesk/zapdesk-backend/internal/platform/dbctx"
	"github.com/zapdesk/zapdesk-backend/internal/platform/logger"
)

type ClientRepo interface {
	Create(dbc dbctx.Context, rows []*domain.Client) ([]*domain.Client, error)
	ListAll(dbc dbctx.Context) ([]*domain.Client, error)
}

type clientRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewClientRepo(db *gorm.DB, log *logger.Logger) ClientRepo {
	return &clientRepo{db: db, log: log.With("repo", "ClientRepo")}
}

func (r *clientRepo) Create(dbc dbctx.Context, rows []*domain.Client) ([]*domain.Client, error) {
	if len(rows) == 0 {
		return []*domain.Client{}, nil
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

// ListAll feeds the resolver's candidate scan. The client table is small
// (provisioned by hand), so no paging.
func (r *clientRepo) ListAll(dbc dbctx.Context) ([]*domain.Client, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*domain.Client
	if err := txx.WithContext(dbc.Ctx).
		Model(&domain.Client{}).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
