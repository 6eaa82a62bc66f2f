package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"dialcron/internal/core"
)

// ContactDirectory lists and imports contacts. *store.Store implements it.
type ContactDirectory interface {
	InsertContact(ctx context.Context, c *core.Contact) error
	ListContacts(ctx context.Context, userID string, limit, offset int) ([]core.Contact, error)
}

// AuditReader reads the audit log. *store.Store implements it.
type AuditReader interface {
	ListAuditEntries(ctx context.Context, source string, limit int) ([]core.AuditEntry, error)
}

// Pinger reports datastore health. *store.Store implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options wires the server's collaborators. Contacts, Audit, Health and MCP
// are optional; their routes are omitted when nil.
type Options struct {
	Addr      string
	AuthToken string
	Service   *core.Service
	Contacts  ContactDirectory
	Audit     AuditReader
	Health    Pinger
	MCP       http.Handler
}

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	service    *core.Service
	contacts   ContactDirectory
	audit      AuditReader
	health     Pinger
	mcp        http.Handler
	logger     *slog.Logger
	authToken  string
}

// NewServer constructs the HTTP API server.
func NewServer(opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:    router,
		service:   opts.Service,
		contacts:  opts.Contacts,
		audit:     opts.Audit,
		health:    opts.Health,
		mcp:       opts.MCP,
		logger:    logger.With("component", "http"),
		authToken: opts.AuthToken,
	}
	router.Use(requestLogger(s.logger))
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Streamable MCP responses may stay open.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	if s.mcp != nil {
		s.router.With(AuthMiddleware(s.authToken)).Handle("/mcp", s.mcp)
	}

	s.router.Route("/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(s.authToken))

		r.Route("/automations", func(r chi.Router) {
			r.Get("/", s.handleListAutomations)
			r.Post("/", s.handleCreateAutomation)

			r.Route("/{automationID}", func(r chi.Router) {
				r.Get("/", s.handleGetAutomation)
				r.Patch("/", s.handleUpdateAutomation)
				r.Delete("/", s.handleDeleteAutomation)
				r.Post("/run", s.handleRunAutomation)
				r.Get("/runs", s.handleListRuns)
				r.Get("/preview", s.handlePreviewSchedule)
			})
		})

		r.Get("/runs/{runID}", s.handleGetRun)
		r.Post("/scheduler/tick", s.handleSchedulerTick)

		if s.audit != nil {
			r.Get("/audit", s.handleListAudit)
		}
		if s.contacts != nil {
			r.Get("/contacts", s.handleListContacts)
			r.Post("/contacts", s.handleImportContacts)
		}
	})
}
