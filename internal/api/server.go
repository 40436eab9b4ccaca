// Package api exposes the campaign wizard over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/taskflow/mailcenter/internal/config"
	"github.com/taskflow/mailcenter/internal/history"
	"github.com/taskflow/mailcenter/internal/mailer"
	"github.com/taskflow/mailcenter/internal/metrics"
	"github.com/taskflow/mailcenter/internal/models"
	"github.com/taskflow/mailcenter/internal/templatestore"
)

// TemplateSource provides campaign templates and the provider
// connectivity indicator.
type TemplateSource interface {
	ListTemplates(ctx context.Context) ([]models.Template, error)
	GetTemplate(ctx context.Context, id string) (*models.Template, error)
	GetConfig(ctx context.Context) (*templatestore.ProviderConfig, error)
}

// Directory lists internal workspace members.
type Directory interface {
	ListUsers(ctx context.Context) ([]models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// History records completed send passes.
type History interface {
	Save(rec *history.Record) error
	Get(id string) (*history.Record, error)
	List(limit int) ([]*history.Record, error)
}

// Server is the mailcenter HTTP server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	cfg        *config.Config
	logger     *slog.Logger

	templates TemplateSource
	directory Directory
	sender    mailer.Sender
	history   History
	metrics   *metrics.Metrics
	sessions  *Sessions
}

// NewServer creates the HTTP server and wires its routes.
func NewServer(cfg *config.Config, templates TemplateSource, dir Directory, sender mailer.Sender, hist History, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		cfg:       cfg,
		logger:    logger.With("component", "api"),
		templates: templates,
		directory: dir,
		sender:    sender,
		history:   hist,
		metrics:   m,
		sessions:  NewSessions(logger),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/templates", s.handleTemplateList)
		r.Get("/templates/{id}", s.handleTemplateGet)
		r.Get("/users", s.handleUserList)
		r.Get("/config", s.handleProviderConfig)

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", s.handleCampaignCreate)
			r.Get("/{id}", s.handleCampaignGet)
			r.Delete("/{id}", s.handleCampaignDelete)
			r.Post("/{id}/reset", s.handleCampaignReset)

			r.Post("/{id}/template", s.handleTemplateSelect)
			r.Post("/{id}/advance", s.handleAdvance)
			r.Post("/{id}/back", s.handleBack)
			r.Put("/{id}/mode", s.handleModeSet)
			r.Put("/{id}/variables", s.handleGlobalVariableSet)

			r.Post("/{id}/recipients", s.handleRecipientAdd)
			r.Post("/{id}/recipients/toggle", s.handleRecipientToggle)
			r.Delete("/{id}/recipients/{recipientID}", s.handleRecipientRemove)
			r.Put("/{id}/recipients/{recipientID}/variables", s.handleRecipientVariableSet)
			r.Post("/{id}/recipients/{recipientID}/variables/reset", s.handleRecipientVariableReset)

			r.Get("/{id}/preview", s.handlePreview)
			r.Get("/{id}/validate", s.handleValidate)
			r.Post("/{id}/send", s.handleSend)
		})

		r.Get("/history", s.handleHistoryList)
		r.Get("/history/{id}", s.handleHistoryGet)
	})
}

// Run starts the server and the session reaper, and shuts both down
// when ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.sessions.StartReaper(ctx, s.cfg.Campaign.SessionTTL)

	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.cfg.Server.ListenAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
