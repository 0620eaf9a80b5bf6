package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/zapdesk/zapdesk-backend/internal/domain"
	"github.com/zapdesk/zapdesk-backend/internal/events"
	"github.com/zapdesk/zapdesk-backend/internal/platform/dbctx"
	"github.com/zapdesk/zapdesk-backend/internal/platform/logger"
	"github.com/zapdesk/zapdesk-backend/internal/realtime"
	"github.com/zapdesk/zapdesk-backend/internal/repos"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	if err := db.AutoMigrate(&domain.Client{}, &domain.Chat{}, &domain.Message{}); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

// recordingEmitter captures realtime fanout for assertions.
type recordingEmitter struct {
	mu   sync.Mutex
	msgs []realtime.SSEMessage
}

func (e *recordingEmitter) Emit(_ context.Context, msg realtime.SSEMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.msgs = append(e.msgs, msg)
}

func (e *recordingEmitter) byEvent(event realtime.SSEEvent) []realtime.SSEMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []realtime.SSEMessage
	for _, m := range e.msgs {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

// recordingPublisher captures domain events in place of RabbitMQ.
type recordingPublisher struct {
	mu        sync.Mutex
	published []publishedEvent
}

type publishedEvent struct {
	Key      string
	Envelope events.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, key string, msg events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, publishedEvent{Key: key, Envelope: msg})
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) byKey(key string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.published {
		if e.Key == key {
			out = append(out, e)
		}
	}
	return out
}

type stateFixture struct {
	db       *gorm.DB
	chats    repos.ChatRepo
	messages repos.MessageRepo
	clients  repos.ClientRepo
	emitter  *recordingEmitter
	pub      *recordingPublisher
	resolver ResolverService
	state    ChatStateService
}

func newStateFixture(t *testing.T) *stateFixture {
	t.Helper()
	log := newTestLogger(t)
	db := newTestDB(t)

	chatRepo := repos.NewChatRepo(db, log)
	messageRepo := repos.NewMessageRepo(db, log)
	clientRepo := repos.NewClientRepo(db, log)

	emitter := &recordingEmitter{}
	pub := &recordingPublisher{}
	resolver := NewResolverService(db, log, chatRepo, clientRepo)
	state := NewChatStateService(db, log, chatRepo, messageRepo, resolver, NewInboxNotifier(emitter), pub)

	return &stateFixture{
		db:       db,
		chats:    chatRepo,
		messages: messageRepo,
		clients:  clientRepo,
		emitter:  emitter,
		pub:      pub,
		resolver: resolver,
		state:    state,
	}
}

func testCtx() dbctx.Context {
	return dbctx.Context{Ctx: context.Background()}
}

func inboundDelta(jid, content, externalID string, at time.Time) InboundDelta {
	return InboundDelta{
		ExternalContactID: jid,
		Content:           content,
		ExternalID:        externalID,
		OccurredAt:        at,
		Raw:               []byte(`{"event":"messages.upsert"}`),
	}
}
