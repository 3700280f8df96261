package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/sibylhq/sibyl/internal/adapters/http/middleware"
	"github.com/sibylhq/sibyl/internal/application/usecases"
	"github.com/sibylhq/sibyl/internal/domain/models"
)

// setTestIdentity injects the identity the auth middleware would have set.
func setTestIdentity(req *http.Request, userID string, admin bool) *http.Request {
	identity := middleware.Identity{UserID: userID, Nickname: userID, IsAdmin: admin}
	return req.WithContext(middleware.WithIdentity(req.Context(), identity))
}

// setURLParam adds a URL parameter to the request context (chi router style)
func setURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

type fakeTurnStarter struct {
	executeFn func(ctx context.Context, input *usecases.SendMessageInput) (<-chan models.StreamEvent, error)
	inputs    []*usecases.SendMessageInput
}

func (f *fakeTurnStarter) Execute(ctx context.Context, input *usecases.SendMessageInput) (<-chan models.StreamEvent, error) {
	f.inputs = append(f.inputs, input)
	if f.executeFn != nil {
		return f.executeFn(ctx, input)
	}
	events := make(chan models.StreamEvent)
	close(events)
	return events, nil
}

type fakeUploader struct {
	executeFn func(ctx context.Context, input *usecases.UploadDocumentInput) (*models.Document, error)
	inputs    []*usecases.UploadDocumentInput
}

func (f *fakeUploader) Execute(ctx context.Context, input *usecases.UploadDocumentInput) (*models.Document, error) {
	f.inputs = append(f.inputs, input)
	if f.executeFn != nil {
		return f.executeFn(ctx, input)
	}
	return models.NewDocument("doc-1", input.FileName, int64(len(input.Data)), input.Permission), nil
}

type fakeDocManager struct {
	listFn   func(ctx context.Context, limit, offset int) ([]*models.Document, error)
	getFn    func(ctx context.Context, uuid string) (*models.Document, error)
	deleteFn func(ctx context.Context, uuid string) error
	deleted  []string
}

func (f *fakeDocManager) List(ctx context.Context, limit, offset int) ([]*models.Document, error) {
	if f.listFn != nil {
		return f.listFn(ctx, limit, offset)
	}
	return nil, nil
}

func (f *fakeDocManager) Get(ctx context.Context, uuid string) (*models.Document, error) {
	if f.getFn != nil {
		return f.getFn(ctx, uuid)
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeDocManager) Delete(ctx context.Context, uuid string) error {
	f.deleted = append(f.deleted, uuid)
	if f.deleteFn != nil {
		return f.deleteFn(ctx, uuid)
	}
	return nil
}

type fakeSessionManager struct {
	listFn       func(ctx context.Context, userID string, limit, offset int) ([]*models.Session, error)
	getFn        func(ctx context.Context, sessionID, userID string, isAdmin bool) (*models.Session, error)
	messagesFn   func(ctx context.Context, sessionID, userID string, isAdmin bool, limit, offset int) ([]*models.Message, error)
	lastAnswerFn func(ctx context.Context, sessionID, userID string, isAdmin bool) (*models.Message, error)
	deleteFn     func(ctx context.Context, sessionID, userID string, isAdmin bool) error
}

func (f *fakeSessionManager) List(ctx context.Context, userID string, limit, offset int) ([]*models.Session, error) {
	if f.listFn != nil {
		return f.listFn(ctx, userID, limit, offset)
	}
	return nil, nil
}

func (f *fakeSessionManager) Get(ctx context.Context, sessionID, userID string, isAdmin bool) (*models.Session, error) {
	if f.getFn != nil {
		return f.getFn(ctx, sessionID, userID, isAdmin)
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeSessionManager) Messages(ctx context.Context, sessionID, userID string, isAdmin bool, limit, offset int) ([]*models.Message, error) {
	if f.messagesFn != nil {
		return f.messagesFn(ctx, sessionID, userID, isAdmin, limit, offset)
	}
	return nil, nil
}

func (f *fakeSessionManager) LastAnswer(ctx context.Context, sessionID, userID string, isAdmin bool) (*models.Message, error) {
	if f.lastAnswerFn != nil {
		return f.lastAnswerFn(ctx, sessionID, userID, isAdmin)
	}
	return nil, nil
}

func (f *fakeSessionManager) Delete(ctx context.Context, sessionID, userID string, isAdmin bool) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, sessionID, userID, isAdmin)
	}
	return nil
}

type fakeFeedback struct {
	executeFn func(ctx context.Context, thoughtChainID, userID string, kind models.FeedbackKind) (*models.ThoughtChain, error)
}

func (f *fakeFeedback) Execute(ctx context.Context, thoughtChainID, userID string, kind models.FeedbackKind) (*models.ThoughtChain, error) {
	if f.executeFn != nil {
		return f.executeFn(ctx, thoughtChainID, userID, kind)
	}
	return nil, pgx.ErrNoRows
}
