package usecases

import (
	"context"
	"errors"
	"testing"

	"github.com/sibylhq/sibyl/internal/domain/models"
)

func TestSubmitFeedbackRefreshesMessage(t *testing.T) {
	cache := &fakeQACache{}
	cache.feedbackFn = func(thoughtChainID, userID string, kind models.FeedbackKind) (*models.ThoughtChain, error) {
		chain := models.NewThoughtChain(thoughtChainID, "sess-1", "amsg-1", "u0", "q", "a")
		chain.LikeCount = 4
		chain.DislikeCount = 1
		return chain, nil
	}
	messages := &fakeMessageRepo{}
	uc := NewSubmitFeedback(cache, messages)

	chain, err := uc.Execute(context.Background(), "chain-1", "u1", models.FeedbackLike)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if chain.LikeCount != 4 {
		t.Errorf("chain = %+v", chain)
	}

	extra, ok := messages.extraWrites["amsg-1"]
	if !ok {
		t.Fatal("message counters not refreshed")
	}
	if extra["like_count"] != 4 || extra["dislike_count"] != 1 || extra["thought_chain_id"] != "chain-1" {
		t.Errorf("extra = %v", extra)
	}
}

func TestSubmitFeedbackRejectsUnknownKind(t *testing.T) {
	uc := NewSubmitFeedback(&fakeQACache{}, &fakeMessageRepo{})
	if _, err := uc.Execute(context.Background(), "chain-1", "u1", models.FeedbackKind("meh")); err == nil {
		t.Error("unknown kind accepted")
	}
	if _, err := uc.Execute(context.Background(), "", "u1", models.FeedbackLike); err == nil {
		t.Error("empty chain id accepted")
	}
}

func TestSubmitFeedbackDuplicatePassthrough(t *testing.T) {
	cache := &fakeQACache{}
	cache.feedbackFn = func(thoughtChainID, userID string, kind models.FeedbackKind) (*models.ThoughtChain, error) {
		return nil, models.ErrDuplicateFeedback
	}
	uc := NewSubmitFeedback(cache, &fakeMessageRepo{})

	_, err := uc.Execute(context.Background(), "chain-1", "u1", models.FeedbackDislike)
	if !errors.Is(err, models.ErrDuplicateFeedback) {
		t.Errorf("err = %v, want ErrDuplicateFeedback", err)
	}
}

func TestSubmitFeedbackWithoutMessageBackref(t *testing.T) {
	cache := &fakeQACache{}
	cache.feedbackFn = func(thoughtChainID, userID string, kind models.FeedbackKind) (*models.ThoughtChain, error) {
		return models.NewThoughtChain(thoughtChainID, "sess-1", "", "u0", "q", "a"), nil
	}
	messages := &fakeMessageRepo{}
	uc := NewSubmitFeedback(cache, messages)

	if _, err := uc.Execute(context.Background(), "chain-1", "u1", models.FeedbackLike); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(messages.extraWrites) != 0 {
		t.Error("extra written for a chain with no message backref")
	}
}
