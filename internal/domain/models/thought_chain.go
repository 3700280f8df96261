package models

import (
	"errors"
	"time"
)

// ErrDuplicateFeedback rejects a second identical vote from the same user.
var ErrDuplicateFeedback = errors.New("duplicate feedback")

// ErrInvalidFeedback rejects votes that are not like or dislike, or that
// name no thought chain.
var ErrInvalidFeedback = errors.New("invalid feedback")

// StepKind labels one entry of a reasoning trace.
type StepKind string

const (
	StepKindThought     StepKind = "thought"
	StepKindAction      StepKind = "action"
	StepKindObservation StepKind = "observation"
)

// ThoughtStep is one ordered entry in a reasoning trace.
type ThoughtStep struct {
	StepIndex int      `json:"step_index"`
	Kind      StepKind `json:"kind"`
	Content   string   `json:"content"`
}

// FeedbackKind is a user's vote on a cached answer.
type FeedbackKind string

const (
	FeedbackLike    FeedbackKind = "like"
	FeedbackDislike FeedbackKind = "dislike"
)

// ThoughtChain is the full reasoning trace behind one AI answer: the
// original question before any enhancement, the ordered thought/action/
// observation steps, the documents the tools surfaced, and the answer.
// IsCached is true exactly when QAVectorID references a live entry in the
// QA cache collection; eviction clears both together.
type ThoughtChain struct {
	UUID          string                  `json:"uuid"`
	SessionID     string                  `json:"session_id"`
	MessageID     string                  `json:"message_id"`
	Question      string                  `json:"question"`
	Answer        string                  `json:"answer"`
	Steps         []ThoughtStep           `json:"steps"`
	DocumentsUsed []DocumentRef           `json:"documents_used"`
	UserID        string                  `json:"user_id"`
	ModelName     string                  `json:"model_name,omitempty"`
	TotalSteps    int                     `json:"total_steps"`
	LikeCount     int                     `json:"like_count"`
	DislikeCount  int                     `json:"dislike_count"`
	IsCached      bool                    `json:"is_cached"`
	QAVectorID    *int64                  `json:"qa_vector_id,omitempty"`
	UserFeedbacks map[string]FeedbackKind `json:"user_feedbacks"`
	CreatedAt     time.Time               `json:"created_at"`
}

func NewThoughtChain(uuid, sessionID, messageID, userID, question, answer string) *ThoughtChain {
	return &ThoughtChain{
		UUID:          uuid,
		SessionID:     sessionID,
		MessageID:     messageID,
		Question:      question,
		Answer:        answer,
		Steps:         []ThoughtStep{},
		DocumentsUsed: []DocumentRef{},
		UserID:        userID,
		UserFeedbacks: map[string]FeedbackKind{},
		CreatedAt:     time.Now().UTC(),
	}
}

// Expired reports whether the chain's cache entry is older than ttl.
// A non-positive ttl disables expiry.
func (tc *ThoughtChain) Expired(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(tc.CreatedAt) > ttl
}

// EvictionDue reports whether accumulated dislikes mandate cache eviction.
func (tc *ThoughtChain) EvictionDue() bool {
	return tc.DislikeCount-tc.LikeCount >= 3
}
