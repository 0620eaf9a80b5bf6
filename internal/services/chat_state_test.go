package services

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/zapdesk/zapdesk-backend/internal/domain"
	"github.com/zapdesk/zapdesk-backend/internal/events"
	"github.com/zapdesk/zapdesk-backend/internal/realtime"
)

const testJID = "5511999990000@s.whatsapp.net"

func TestUpsertFromInbound_CreatesChatAndMessage(t *testing.T) {
	f := newStateFixture(t)
	at := time.Now().UTC().Truncate(time.Second)

	chat, msg, err := f.state.UpsertFromInbound(testCtx(), inboundDelta(testJID, "hello there", "WAMID-1", at))
	if err != nil {
		t.Fatalf("UpsertFromInbound: %v", err)
	}
	if chat == nil || msg == nil {
		t.Fatalf("expected chat and message, got chat=%v msg=%v", chat, msg)
	}
	if chat.ExternalContactID != testJID {
		t.Fatalf("external contact id: want=%q got=%q", testJID, chat.ExternalContactID)
	}
	if chat.UnreadCount != 1 {
		t.Fatalf("unread count: want=1 got=%d", chat.UnreadCount)
	}
	if chat.LastMessage != "hello there" {
		t.Fatalf("last message: want=%q got=%q", "hello there", chat.LastMessage)
	}
	if !chat.LastMessageAt.Equal(at) {
		t.Fatalf("last message at: want=%s got=%s", at, chat.LastMessageAt)
	}
	if msg.SenderType != domain.SenderTypeContact {
		t.Fatalf("sender type: want=%q got=%q", domain.SenderTypeContact, msg.SenderType)
	}
	if msg.ExternalID != "WAMID-1" {
		t.Fatalf("external id: want=%q got=%q", "WAMID-1", msg.ExternalID)
	}

	if got := len(f.emitter.byEvent(realtime.SSEEventMessageCreated)); got != 1 {
		t.Fatalf("MessageCreated fanout count: want=1 got=%d", got)
	}
	if got := len(f.pub.byKey(events.TypeMessageReceived)); got != 1 {
		t.Fatalf("message.received publish count: want=1 got=%d", got)
	}
}

func TestUpsertFromInbound_DuplicateDeliveryIsNoOp(t *testing.T) {
	f := newStateFixture(t)
	at := time.Now().UTC()

	first, _, err := f.state.UpsertFromInbound(testCtx(), inboundDelta(testJID, "hello", "WAMID-dup", at))
	if err != nil {
		t.Fatalf("first UpsertFromInbound: %v", err)
	}

	chat, msg, err := f.state.UpsertFromInbound(testCtx(), inboundDelta(testJID, "hello", "WAMID-dup", at))
	if err != nil {
		t.Fatalf("replayed UpsertFromInbound: %v", err)
	}
	if msg != nil {
		t.Fatalf("expected nil message on duplicate, got %v", msg.ID)
	}
	if chat == nil || chat.ID != first.ID {
		t.Fatalf("expected existing chat on duplicate")
	}

	count, err := f.messages.CountByChat(testCtx(), first.ID)
	if err != nil {
		t.Fatalf("CountByChat: %v", err)
	}
	if count != 1 {
		t.Fatalf("message count after replay: want=1 got=%d", count)
	}
	stored, err := f.state.GetChat(testCtx(), first.ID)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if stored.UnreadCount != 1 {
		t.Fatalf("unread count after replay: want=1 got=%d", stored.UnreadCount)
	}
	if got := len(f.emitter.byEvent(realtime.SSEEventMessageCreated)); got != 1 {
		t.Fatalf("MessageCreated fanout after replay: want=1 got=%d", got)
	}
}

func TestUpsertFromInbound_MissingExternalIDAlwaysAppends(t *testing.T) {
	f := newStateFixture(t)
	at := time.Now().UTC()

	chat, _, err := f.state.UpsertFromInbound(testCtx(), inboundDelta(testJID, "one", "", at))
	if err != nil {
		t.Fatalf("UpsertFromInbound: %v", err)
	}
	if _, _, err := f.state.UpsertFromInbound(testCtx(), inboundDelta(testJID, "two", "", at.Add(time.Second))); err != nil {
		t.Fatalf("second UpsertFromInbound: %v", err)
	}

	count, err := f.messages.CountByChat(testCtx(), chat.ID)
	if err != nil {
		t.Fatalf("CountByChat: %v", err)
	}
	if count != 2 {
		t.Fatalf("messages without provider ids must both append: want=2 got=%d", count)
	}
}

func TestUpsertFromInbound_OutOfOrderNeverRegressesSummary(t *testing.T) {
	f := newStateFixture(t)
	newer := time.Now().UTC().Truncate(time.Second)
	older := newer.Add(-time.Hour)

	chat, _, err := f.state.UpsertFromInbound(testCtx(), inboundDelta(testJID, "newest", "WAMID-new", newer))
	if err != nil {
		t.Fatalf("UpsertFromInbound newest: %v", err)
	}
	if _, _, err := f.state.UpsertFromInbound(testCtx(), inboundDelta(testJID, "stale", "WAMID-old", older)); err != nil {
		t.Fatalf("UpsertFromInbound stale: %v", err)
	}

	stored, err := f.state.GetChat(testCtx(), chat.ID)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if stored.LastMessage != "newest" {
		t.Fatalf("summary regressed: want=%q got=%q", "newest", stored.LastMessage)
	}
	if !stored.LastMessageAt.Equal(newer) {
		t.Fatalf("last message at regressed: want=%s got=%s", newer, stored.LastMessageAt)
	}
	if stored.UnreadCount != 2 {
		t.Fatalf("stale delta still counts unread: want=2 got=%d", stored.UnreadCount)
	}

	count, err := f.messages.CountByChat(testCtx(), chat.ID)
	if err != nil {
		t.Fatalf("CountByChat: %v", err)
	}
	if count != 2 {
		t.Fatalf("stale delta must still append: want=2 got=%d", count)
	}
}

func TestUpsertFromInbound_OperatorEchoDoesNotCountUnread(t *testing.T) {
	f := newStateFixture(t)

	delta := inboundDelta(testJID, "sent from phone", "WAMID-echo", time.Now().UTC())
	delta.FromMe = true

	chat, msg, err := f.state.UpsertFromInbound(testCtx(), delta)
	if err != nil {
		t.Fatalf("UpsertFromInbound: %v", err)
	}
	if msg.SenderType != domain.SenderTypeOperator {
		t.Fatalf("sender type: want=%q got=%q", domain.SenderTypeOperator, msg.SenderType)
	}
	if chat.UnreadCount != 0 {
		t.Fatalf("operator message must not count unread: got %d", chat.UnreadCount)
	}
}

func TestRecordOutbound_AppendsAndDedupsByProviderID(t *testing.T) {
	f := newStateFixture(t)
	at := time.Now().UTC()

	chat, _, err := f.state.UpsertFromInbound(testCtx(), inboundDelta(testJID, "question?", "WAMID-in", at))
	if err != nil {
		t.Fatalf("UpsertFromInbound: %v", err)
	}

	updated, msg, err := f.state.RecordOutbound(testCtx(), chat.ID, "answer!", "WAMID-out")
	if err != nil {
		t.Fatalf("RecordOutbound: %v", err)
	}
	if msg == nil || msg.SenderType != domain.SenderTypeOperator {
		t.Fatalf("expected operator message, got %v", msg)
	}
	if updated.UnreadCount != 1 {
		t.Fatalf("outbound must not change unread: want=1 got=%d", updated.UnreadCount)
	}
	if updated.LastMessage != "answer!" {
		t.Fatalf("last message: want=%q got=%q", "answer!", updated.LastMessage)
	}

	// The webhook echo of the send carries the same provider id.
	echo := inboundDelta(testJID, "answer!", "WAMID-out", at.Add(time.Second))
	echo.FromMe = true
	_, echoMsg, err := f.state.UpsertFromInbound(testCtx(), echo)
	if err != nil {
		t.Fatalf("echo UpsertFromInbound: %v", err)
	}
	if echoMsg != nil {
		t.Fatalf("echo must dedup against recorded outbound, got message %v", echoMsg.ID)
	}

	count, err := f.messages.CountByChat(testCtx(), chat.ID)
	if err != nil {
		t.Fatalf("CountByChat: %v", err)
	}
	if count != 2 {
		t.Fatalf("message count: want=2 got=%d", count)
	}
	if got := len(f.pub.byKey(events.TypeMessageSent)); got != 1 {
		t.Fatalf("message.sent publish count: want=1 got=%d", got)
	}
}

func TestRecordOutbound_UnknownChat(t *testing.T) {
	f := newStateFixture(t)
	_, _, err := f.state.RecordOutbound(testCtx(), uuid.New(), "hello", "WAMID-x")
	if !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
}

func TestMarkRead_ResetsUnreadAndNotifies(t *testing.T) {
	f := newStateFixture(t)
	at := time.Now().UTC().Add(-time.Hour)

	chat, _, err := f.state.UpsertFromInbound(testCtx(), inboundDelta(testJID, "one", "WAMID-1", at))
	if err != nil {
		t.Fatalf("UpsertFromInbound: %v", err)
	}
	if _, _, err := f.state.UpsertFromInbound(testCtx(), inboundDelta(testJID, "two", "WAMID-2", at.Add(time.Second))); err != nil {
		t.Fatalf("second UpsertFromInbound: %v", err)
	}

	updated, err := f.state.MarkRead(testCtx(), chat.ID)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if updated.UnreadCount != 0 {
		t.Fatalf("unread after MarkRead: want=0 got=%d", updated.UnreadCount)
	}
	if updated.LastReadAt.IsZero() {
		t.Fatalf("expected last_read_at to be set")
	}
	if updated.LastMessage != "two" {
		t.Fatalf("MarkRead must not touch summary: want=%q got=%q", "two", updated.LastMessage)
	}

	if got := len(f.emitter.byEvent(realtime.SSEEventChatRead)); got != 1 {
		t.Fatalf("ChatRead fanout count: want=1 got=%d", got)
	}
	if got := len(f.pub.byKey(events.TypeChatRead)); got != 1 {
		t.Fatalf("chat.read publish count: want=1 got=%d", got)
	}

	// New inbound after the read starts the unread cycle again.
	if _, _, err := f.state.UpsertFromInbound(testCtx(), inboundDelta(testJID, "three", "WAMID-3", time.Now().UTC().Add(time.Second))); err != nil {
		t.Fatalf("third UpsertFromInbound: %v", err)
	}
	stored, err := f.state.GetChat(testCtx(), chat.ID)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if stored.UnreadCount != 1 {
		t.Fatalf("unread after new inbound: want=1 got=%d", stored.UnreadCount)
	}
}

func TestUpsertFromInbound_LateDeliveryBeforeReadMarkerStaysRead(t *testing.T) {
	f := newStateFixture(t)
	base := time.Now().UTC().Truncate(time.Second)

	chat, _, err := f.state.UpsertFromInbound(testCtx(), inboundDelta(testJID, "seen already", "WAMID-1", base))
	if err != nil {
		t.Fatalf("UpsertFromInbound: %v", err)
	}
	if _, err := f.state.MarkRead(testCtx(), chat.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	// A delayed delivery whose provider timestamp predates the read
	// marker still appends but must not show as unread.
	late, lateMsg, err := f.state.UpsertFromInbound(testCtx(), inboundDelta(testJID, "stuck in transit", "WAMID-late", base.Add(-time.Hour)))
	if err != nil {
		t.Fatalf("late UpsertFromInbound: %v", err)
	}
	if lateMsg == nil {
		t.Fatalf("late delivery must still append")
	}
	if late.UnreadCount != 0 {
		t.Fatalf("unread for message older than read marker: want=0 got=%d", late.UnreadCount)
	}

	stored, err := f.state.GetChat(testCtx(), chat.ID)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if stored.UnreadCount != 0 {
		t.Fatalf("stored unread: want=0 got=%d", stored.UnreadCount)
	}
	count, err := f.messages.CountByChat(testCtx(), chat.ID)
	if err != nil {
		t.Fatalf("CountByChat: %v", err)
	}
	if count != 2 {
		t.Fatalf("message count: want=2 got=%d", count)
	}

	// And a delivery after the marker counts exactly itself.
	fresh, _, err := f.state.UpsertFromInbound(testCtx(), inboundDelta(testJID, "new ping", "WAMID-fresh", time.Now().UTC().Add(time.Second)))
	if err != nil {
		t.Fatalf("fresh UpsertFromInbound: %v", err)
	}
	if fresh.UnreadCount != 1 {
		t.Fatalf("unread after fresh delivery: want=1 got=%d", fresh.UnreadCount)
	}
}

func TestUpsertFromInbound_FailedAppendLeavesNoChatBehind(t *testing.T) {
	f := newStateFixture(t)

	// A broken message table makes the append fail after the chat row was
	// written inside the same transaction.
	if err := f.db.Exec(`DROP TABLE message`).Error; err != nil {
		t.Fatalf("drop message table: %v", err)
	}

	if _, _, err := f.state.UpsertFromInbound(testCtx(), inboundDelta(testJID, "hello", "WAMID-1", time.Now().UTC())); err == nil {
		t.Fatalf("expected persistence failure")
	}

	chats, err := f.state.ListChats(testCtx(), 10)
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(chats) != 0 {
		t.Fatalf("failed ingestion must not leave a chat in the roster, got %d", len(chats))
	}
}

func TestMarkRead_UnknownChat(t *testing.T) {
	f := newStateFixture(t)
	_, err := f.state.MarkRead(testCtx(), uuid.New())
	if !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
}

func TestListChats_OrdersByLastMessage(t *testing.T) {
	f := newStateFixture(t)
	base := time.Now().UTC().Truncate(time.Second)

	if _, _, err := f.state.UpsertFromInbound(testCtx(), inboundDelta("111@s.whatsapp.net", "older", "A-1", base.Add(-time.Hour))); err != nil {
		t.Fatalf("UpsertFromInbound: %v", err)
	}
	if _, _, err := f.state.UpsertFromInbound(testCtx(), inboundDelta("222@s.whatsapp.net", "newer", "B-1", base)); err != nil {
		t.Fatalf("UpsertFromInbound: %v", err)
	}

	chats, err := f.state.ListChats(testCtx(), 10)
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("chat count: want=2 got=%d", len(chats))
	}
	if chats[0].ExternalContactID != "222@s.whatsapp.net" {
		t.Fatalf("expected most recent chat first, got %q", chats[0].ExternalContactID)
	}
}

func TestListMessages_ChronologicalWithCursor(t *testing.T) {
	f := newStateFixture(t)
	base := time.Now().UTC().Truncate(time.Second)

	chat, _, err := f.state.UpsertFromInbound(testCtx(), inboundDelta(testJID, "first", "M-1", base))
	if err != nil {
		t.Fatalf("UpsertFromInbound: %v", err)
	}
	if _, _, err := f.state.UpsertFromInbound(testCtx(), inboundDelta(testJID, "second", "M-2", base.Add(time.Second))); err != nil {
		t.Fatalf("UpsertFromInbound: %v", err)
	}
	if _, _, err := f.state.UpsertFromInbound(testCtx(), inboundDelta(testJID, "third", "M-3", base.Add(2*time.Second))); err != nil {
		t.Fatalf("UpsertFromInbound: %v", err)
	}

	msgs, err := f.state.ListMessages(testCtx(), chat.ID, 10, nil)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("message count: want=3 got=%d", len(msgs))
	}
	if msgs[0].Content != "first" || msgs[2].Content != "third" {
		t.Fatalf("expected chronological order, got %q..%q", msgs[0].Content, msgs[2].Content)
	}

	cursor := base.Add(2 * time.Second)
	page, err := f.state.ListMessages(testCtx(), chat.ID, 10, &cursor)
	if err != nil {
		t.Fatalf("ListMessages with cursor: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("cursor page count: want=2 got=%d", len(page))
	}
	if page[len(page)-1].Content != "second" {
		t.Fatalf("cursor page must exclude the newest message, last=%q", page[len(page)-1].Content)
	}

	if _, err := f.state.ListMessages(testCtx(), uuid.New(), 10, nil); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound for unknown chat, got %v", err)
	}
}
