package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sibylhq/sibyl/internal/adapters/http/handlers"
	"github.com/sibylhq/sibyl/internal/adapters/http/middleware"
	"github.com/sibylhq/sibyl/internal/application/usecases"
	"github.com/sibylhq/sibyl/internal/config"
	"github.com/sibylhq/sibyl/internal/ports"
)

type Server struct {
	config     *config.Config
	router     *chi.Mux
	httpServer *http.Server
	db         *pgxpool.Pool

	users           ports.UserRepository
	sendMessage     *usecases.SendMessage
	uploadDocument  *usecases.UploadDocument
	manageDocuments *usecases.ManageDocuments
	manageSessions  *usecases.ManageSessions
	submitFeedback  *usecases.SubmitFeedback
}

func NewServer(
	cfg *config.Config,
	db *pgxpool.Pool,
	users ports.UserRepository,
	sendMessage *usecases.SendMessage,
	uploadDocument *usecases.UploadDocument,
	manageDocuments *usecases.ManageDocuments,
	manageSessions *usecases.ManageSessions,
	submitFeedback *usecases.SubmitFeedback,
) *Server {
	s := &Server{
		config:          cfg,
		db:              db,
		users:           users,
		sendMessage:     sendMessage,
		uploadDocument:  uploadDocument,
		manageDocuments: manageDocuments,
		manageSessions:  manageSessions,
		submitFeedback:  submitFeedback,
	}

	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS(s.config.Server.CORSOrigins))
	r.Use(middleware.Metrics)

	healthHandler := handlers.NewHealthHandler(s.db)
	r.Get("/healthz", healthHandler.Handle)
	r.Get("/readyz", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(s.users))

		chatHandler := handlers.NewChatHandler(s.sendMessage)
		r.Post("/chat/stream", chatHandler.Stream)

		sessionsHandler := handlers.NewSessionsHandler(s.manageSessions)
		r.Get("/sessions", sessionsHandler.List)
		r.Get("/sessions/{id}", sessionsHandler.Get)
		r.Get("/sessions/{id}/messages", sessionsHandler.Messages)
		r.Get("/sessions/{id}/last-answer", sessionsHandler.LastAnswer)
		r.Delete("/sessions/{id}", sessionsHandler.Delete)

		documentsHandler := handlers.NewDocumentsHandler(s.uploadDocument, s.manageDocuments)
		r.Post("/documents", documentsHandler.Upload)
		r.Get("/documents", documentsHandler.List)
		r.Get("/documents/{uuid}", documentsHandler.Get)
		r.Delete("/documents/{uuid}", documentsHandler.Delete)

		feedbackHandler := handlers.NewFeedbackHandler(s.submitFeedback)
		r.Post("/feedback", feedbackHandler.Submit)
	})

	s.router = r
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:        s.config.Server.Addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// No write timeout: chat turns stream for as long as the agent runs.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("Starting HTTP server on %s", s.config.Server.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	log.Println("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Router() *chi.Mux {
	return s.router
}
