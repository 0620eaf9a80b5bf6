package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zapdesk/zapdesk-backend/internal/domain"
	"github.com/zapdesk/zapdesk-backend/internal/platform/dbctx"
	"github.com/zapdesk/zapdesk-backend/internal/platform/logger"
	"github.com/zapdesk/zapdesk-backend/internal/repos"
)

// linkConfidenceThreshold gates client linkage: candidates scoring below
// it stay unlinked rather than guessed at.
const linkConfidenceThreshold = 0.8

// ResolverService maps a provider contact identifier to a chat. The
// common path is idempotent lookup; an unseen contact gets a fresh chat
// plus a best-effort, advisory linkage to a known client record.
type ResolverService interface {
	Resolve(dbc dbctx.Context, externalContactID string) (*domain.Chat, bool, error)
}

type resolverService struct {
	db      *gorm.DB
	log     *logger.Logger
	chats   repos.ChatRepo
	clients repos.ClientRepo
}

func NewResolverService(db *gorm.DB, baseLog *logger.Logger, chatRepo repos.ChatRepo, clientRepo repos.ClientRepo) ResolverService {
	return &resolverService{
		db:      db,
		log:     baseLog.With("service", "ResolverService"),
		chats:   chatRepo,
		clients: clientRepo,
	}
}

func (s *resolverService) Resolve(dbc dbctx.Context, externalContactID string) (*domain.Chat, bool, error) {
	externalContactID = strings.TrimSpace(externalContactID)
	if externalContactID == "" {
		return nil, false, fmt.Errorf("missing external contact id")
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	repoCtx := dbctx.Context{Ctx: dbc.Ctx, Tx: transaction}

	chat, err := s.chats.GetByExternalContactID(repoCtx, externalContactID)
	if err != nil {
		return nil, false, err
	}
	if chat != nil {
		return chat, false, nil
	}

	// LastReadAt stays at the zero value: nothing in a brand-new chat has
	// been read yet, and the unread recompute keys on created_at > last_read_at.
	now := time.Now().UTC()
	chat = &domain.Chat{
		ID:                uuid.New(),
		ExternalContactID: externalContactID,
		Status:            domain.ChatStatusOpen,
		LastMessageAt:     now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	chat.LinkedClientID = s.linkClient(repoCtx, externalContactID)

	if _, err := s.chats.Create(repoCtx, []*domain.Chat{chat}); err != nil {
		// Lost a creation race on the external_contact_id unique index.
		existing, getErr := s.chats.GetByExternalContactID(repoCtx, externalContactID)
		if getErr == nil && existing != nil {
			return existing, false, nil
		}
		return nil, false, err
	}
	s.log.Info("chat created for new contact", "chat_id", chat.ID, "external_contact_id", externalContactID)
	return chat, true, nil
}

// linkClient scores every known client phone against the JID and links
// only a single confident winner. No match, a tie, or any error leaves
// the chat unlinked; resolution can be corrected later outside this
// core.
func (s *resolverService) linkClient(dbc dbctx.Context, externalContactID string) *uuid.UUID {
	jidDigits := NormalizePhone(strings.SplitN(externalContactID, "@", 2)[0])
	if jidDigits == "" {
		return nil
	}

	candidates, err := s.clients.ListAll(dbc)
	if err != nil {
		s.log.Warn("client lookup failed; leaving chat unlinked", "error", err)
		return nil
	}

	var (
		best      *domain.Client
		bestScore float64
		tied      bool
	)
	for _, c := range candidates {
		score := MatchScore(jidDigits, NormalizePhone(c.Phone))
		if score < linkConfidenceThreshold {
			continue
		}
		switch {
		case score > bestScore:
			best, bestScore, tied = c, score, false
		case score == bestScore && best != nil && best.ID != c.ID:
			tied = true
		}
	}
	if best == nil || tied {
		return nil
	}
	id := best.ID
	s.log.Debug("linked chat to client", "client_id", id, "score", bestScore)
	return &id
}

// NormalizePhone strips everything but digits and the international
// dialing prefix, leaving a comparable E.164-like key.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	digits = strings.TrimPrefix(digits, "00")
	return digits
}

// MatchScore compares two normalized phone keys. Exact match scores 1.0;
// one key ending with the other (country code present on one side only)
// scores 0.8 when the overlap still covers a full national number.
// Anything shorter scores 0, so digit-substring coincidences never link.
func MatchScore(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}
	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len(shorter) >= 8 && strings.HasSuffix(longer, shorter) {
		return 0.8
	}
	return 0
}
