package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/zapdesk/zapdesk-backend/internal/domain"
	"github.com/zapdesk/zapdesk-backend/internal/platform/envutil"
	"github.com/zapdesk/zapdesk-backend/internal/platform/logger"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	host := envutil.String("POSTGRES_HOST", "localhost")
	port := envutil.String("POSTGRES_PORT", "5432")
	user := envutil.String("POSTGRES_USER", "postgres")
	password := envutil.String("POSTGRES_PASSWORD", "")
	name := envutil.String("POSTGRES_NAME", "zapdesk")
	sslmode := envutil.String("POSTGRES_SSLMODE", "disable")

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, name, sslmode)

	serviceLog.Info("Connecting to Postgres...", "host", host, "db", name)
	gormDB, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		serviceLog.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	return &PostgresService{db: gormDB, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	if err := s.db.AutoMigrate(
		&domain.Client{},
		&domain.Chat{},
		&domain.Message{},
	); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}

	// Partial unique index backing the per-chat externalId invariant; the
	// '' sentinel (operator sends the provider never echoed an id for)
	// stays outside the constraint.
	if err := s.db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS uq_message_chat_external
		ON "message" (chat_id, external_id)
		WHERE external_id <> ''
	`).Error; err != nil {
		return fmt.Errorf("failed to create uq_message_chat_external: %w", err)
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
