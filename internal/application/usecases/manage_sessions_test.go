package usecases

import (
	"context"
	"errors"
	"testing"

	"github.com/sibylhq/sibyl/internal/domain/models"
)

func ownedSession(owner string) func(uuid string) (*models.Session, error) {
	return func(uuid string) (*models.Session, error) {
		return &models.Session{UUID: uuid, UserID: owner, Name: "chat"}, nil
	}
}

func TestGetSessionEnforcesOwnership(t *testing.T) {
	sessions := &fakeSessionRepo{getFn: ownedSession("u1")}
	uc := NewManageSessions(sessions, &fakeMessageRepo{}, &fakeTxManager{}, &fakeKV{})

	if _, err := uc.Get(context.Background(), "sess-1", "u1", false); err != nil {
		t.Errorf("owner rejected: %v", err)
	}
	if _, err := uc.Get(context.Background(), "sess-1", "u2", false); !errors.Is(err, ErrForbidden) {
		t.Errorf("foreign user err = %v, want ErrForbidden", err)
	}
	if _, err := uc.Get(context.Background(), "sess-1", "u2", true); err != nil {
		t.Errorf("admin rejected: %v", err)
	}
}

func TestListSessionsDefaultsLimit(t *testing.T) {
	sessions := &fakeSessionRepo{}
	var gotLimit int
	sessions.listFn = func(userID string, limit, offset int) ([]*models.Session, error) {
		gotLimit = limit
		return nil, nil
	}
	uc := NewManageSessions(sessions, &fakeMessageRepo{}, &fakeTxManager{}, &fakeKV{})

	if _, err := uc.List(context.Background(), "u1", 0, 0); err != nil {
		t.Fatalf("List: %v", err)
	}
	if gotLimit != defaultSessionPageSize {
		t.Errorf("limit = %d, want %d", gotLimit, defaultSessionPageSize)
	}
}

func TestSessionMessagesChecksOwnership(t *testing.T) {
	sessions := &fakeSessionRepo{getFn: ownedSession("u1")}
	messages := &fakeMessageRepo{}
	listCalled := false
	messages.listFn = func(sessionID string, limit, offset int) ([]*models.Message, error) {
		listCalled = true
		return []*models.Message{models.NewMessage("m1", sessionID, models.SendTypeUser, "u1", "hi")}, nil
	}
	uc := NewManageSessions(sessions, messages, &fakeTxManager{}, &fakeKV{})

	if _, err := uc.Messages(context.Background(), "sess-1", "u2", false, 0, 0); !errors.Is(err, ErrForbidden) {
		t.Errorf("foreign user err = %v", err)
	}
	if listCalled {
		t.Error("messages listed before the ownership check failed")
	}

	msgs, err := uc.Messages(context.Background(), "sess-1", "u1", false, 0, 0)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("messages = %d", len(msgs))
	}
}

func TestLastAnswerServesCachedMessage(t *testing.T) {
	sessions := &fakeSessionRepo{getFn: ownedSession("u1")}
	kv := &fakeKV{}
	cached := models.NewMessage("am-1", "sess-1", models.SendTypeAI, "sibyl", "cached answer")
	kv.SetLastAnswer(context.Background(), "sess-1", cached, 0)
	uc := NewManageSessions(sessions, &fakeMessageRepo{}, &fakeTxManager{}, kv)

	msg, err := uc.LastAnswer(context.Background(), "sess-1", "u1", false)
	if err != nil {
		t.Fatalf("LastAnswer: %v", err)
	}
	if msg == nil || msg.Content != "cached answer" {
		t.Errorf("msg = %+v, want cached answer", msg)
	}

	if _, err := uc.LastAnswer(context.Background(), "sess-1", "u2", false); !errors.Is(err, ErrForbidden) {
		t.Errorf("foreign user err = %v, want ErrForbidden", err)
	}

	msg, err = uc.LastAnswer(context.Background(), "sess-cold", "u1", false)
	if err != nil {
		t.Fatalf("LastAnswer on cold session: %v", err)
	}
	if msg != nil {
		t.Errorf("cold cache msg = %+v, want nil", msg)
	}
}

func TestDeleteSessionRemovesMessagesFirst(t *testing.T) {
	var order []string
	sessions := &fakeSessionRepo{getFn: ownedSession("u1")}
	sessions.deleteFn = func(uuid string) error {
		order = append(order, "session")
		return nil
	}
	messages := &fakeMessageRepo{}
	messages.deleteBySessionFn = func(sessionID string) error {
		order = append(order, "messages")
		return nil
	}
	tx := &fakeTxManager{}
	uc := NewManageSessions(sessions, messages, tx, &fakeKV{})

	if err := uc.Delete(context.Background(), "sess-1", "u1", false); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(order) != 2 || order[0] != "messages" || order[1] != "session" {
		t.Errorf("delete order = %v, want [messages session]", order)
	}
	if tx.calls != 1 {
		t.Errorf("tx calls = %d, want 1", tx.calls)
	}
}

func TestDeleteSessionForeignUser(t *testing.T) {
	sessions := &fakeSessionRepo{getFn: ownedSession("u1")}
	messages := &fakeMessageRepo{}
	uc := NewManageSessions(sessions, messages, &fakeTxManager{}, &fakeKV{})

	if err := uc.Delete(context.Background(), "sess-1", "u2", false); !errors.Is(err, ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}
	if len(messages.deletedBySession) != 0 || len(sessions.deleted) != 0 {
		t.Error("foreign delete left side effects")
	}
}
