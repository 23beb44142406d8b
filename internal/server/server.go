package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bdgdview/bdgd-api/internal/auth"
	"github.com/bdgdview/bdgd-api/internal/config"
	"github.com/bdgdview/bdgd-api/internal/metrics"
	"github.com/bdgdview/bdgd-api/internal/middleware"
	"github.com/bdgdview/bdgd-api/internal/repository"
	"github.com/bdgdview/bdgd-api/internal/session"
	"github.com/bdgdview/bdgd-api/internal/tabledata"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Server is the HTTP surface of the API. Handlers stay thin: parse,
// delegate, serialize.
type Server struct {
	log        *zap.Logger
	server     *http.Server
	gateway    *auth.Gateway
	sessions   *session.Store
	tables     *tabledata.Service
	repo       repository.Repository
	sessionTTL time.Duration
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Config   *config.Config
	Gateway  *auth.Gateway
	Sessions *session.Store
	Tables   *tabledata.Service
	Repo     repository.Repository
	Metrics  *metrics.Metrics
}

func New(p Params) *Server {
	s := &Server{
		log:        p.Log,
		gateway:    p.Gateway,
		sessions:   p.Sessions,
		tables:     p.Tables,
		repo:       p.Repo,
		sessionTTL: p.Config.Session.TTL.Std(),
	}

	root := chi.NewRouter()
	root.Use(p.Metrics.Middleware)
	root.Use(cors.Handler(cors.Options{
		AllowedOrigins:   p.Config.Server.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
	}))

	root.Get("/", s.handleRoot)
	root.Get("/health", s.handleHealth)
	root.Method(http.MethodGet, "/metrics", p.Metrics.Handler())

	root.Route("/api", func(r chi.Router) {
		// No auth
		r.Post("/auth/sso", s.handleSSOLogin)
		r.Post("/auth/logout", s.handleLogout)

		// Auth
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(s.sessions))

			r.Get("/auth/me", s.handleMe)
			r.Get("/importados", s.handleListImports)
			r.Get("/entgeo", s.handleListGeoEntities)
			r.Get("/enttab", s.handleListTabEntities)
			r.Get("/tabular/{tabela}", s.handleTabular)
			r.Get("/registro/{tabela}/{cod_id}", s.handleRecord)
			r.Get("/arat/{id_importado}", s.handleServiceArea)
			r.Get("/tiles-config/{id_importado}", s.handleTilesConfig)
			r.Get("/metadados/{tabela}", s.handleTableMetadata)
		})
	})

	s.server = &http.Server{
		Addr:    p.Config.Server.Addr,
		Handler: root,
	}

	return s
}

// RegisterHooks should be invoked by fx
func RegisterHooks(lc fx.Lifecycle, s *Server) {
	lc.Append(fx.Hook{
		OnStart: s.Start,
		OnStop:  s.server.Shutdown,
	})
}

func (s *Server) Start(_ context.Context) error {
	s.log.Info("starting server", zap.String("addr", s.server.Addr))
	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("error running server", zap.Error(err))
		}
	}()
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
