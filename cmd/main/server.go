package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/CTAG07/Sundew/pkg/analytics"
	"github.com/CTAG07/Sundew/pkg/cards"
	"github.com/CTAG07/Sundew/pkg/dom"
	"github.com/CTAG07/Sundew/pkg/rendering"
	"github.com/CTAG07/Sundew/pkg/templating"
)

// Server wires the rendering pipeline, analytics and the HTTP APIs together.
type Server struct {
	cm           *ConfigManager
	db           *sql.DB
	logger       *slog.Logger
	tm           *templating.TemplateManager
	registry     *dom.Registry
	engine       *rendering.Engine
	tracker      *analytics.Tracker
	lists        *ListStore
	authAPI      *AuthAPI
	renderAPI    *RenderAPI
	templateAPI  *TemplateAPI
	analyticsAPI *AnalyticsAPI
	statsAPI     *StatsAPI
	serverAPI    *ServerAPI
	siteMux      *http.ServeMux
	apiMux       *http.ServeMux
}

// NewServer builds every component from the current configuration.
func NewServer(cm *ConfigManager, logger *slog.Logger, db *sql.DB, actionChan chan string) (*Server, error) {
	config := cm.Get()

	if err := setupAuthSchema(db); err != nil {
		return nil, err
	}

	tm, err := templating.NewTemplateManager(logger, config.Templates, config.Server.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create template manager: %w", err)
	}
	cm.SetTemplateManager(tm)

	cr := cards.New()
	cr.SetLogger(logger)

	lists := NewListStore(db)
	tracker := analytics.NewTracker(
		analytics.NewFileStorage(config.Analytics.StatePath),
		analytics.WithSinkOpener(lists.Opener(remoteSinkOpener(sqlDriver, func() string {
			return cm.Get().Analytics.SinkAPIKey
		}))),
		analytics.WithNamespace(config.Analytics.Namespace),
		analytics.WithDeliveryTimeout(time.Duration(config.Analytics.DeliveryTimeoutMs)*time.Millisecond),
	)
	tracker.SetLogger(logger)
	tracker.Init(context.Background(), config.Analytics.Config)
	cm.OnAnalyticsUpdate(func(ac *AnalyticsConfig) {
		tracker.Init(context.Background(), ac.Config)
	})

	registry := dom.NewRegistry(config.Server.ContainerClass)
	engine, err := rendering.NewEngine(
		templating.NewBackend(tm, cr),
		registry,
		rendering.WithConfig(*config.Rendering),
		rendering.WithHookInstaller(tracker.AddResultHooks),
		rendering.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rendering engine: %w", err)
	}

	defaultList := func() string {
		return cm.Get().Analytics.SinkName
	}

	server := &Server{
		cm:           cm,
		db:           db,
		logger:       logger,
		tm:           tm,
		registry:     registry,
		engine:       engine,
		tracker:      tracker,
		lists:        lists,
		authAPI:      NewAuthAPI(db, logger),
		renderAPI:    NewRenderAPI(engine, registry, logger),
		templateAPI:  NewTemplateAPI(tm, engine, registry, logger),
		analyticsAPI: NewAnalyticsAPI(tracker, lists, logger),
		statsAPI:     NewStatsAPI(lists, defaultList, logger),
		serverAPI:    NewServerAPI(cm, actionChan, logger),
		siteMux:      http.NewServeMux(),
		apiMux:       http.NewServeMux(),
	}

	apiMux := http.NewServeMux()
	server.authAPI.RegisterRoutes(apiMux)
	server.renderAPI.RegisterRoutes(apiMux)
	server.templateAPI.RegisterRoutes(apiMux)
	server.analyticsAPI.RegisterRoutes(apiMux)
	server.statsAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Everything under /api/ is authenticated except the health check.
	server.apiMux.HandleFunc("/api/health", server.serverAPI.handleHealthCheck)
	server.apiMux.Handle("/api/", server.authAPI.Authenticate(apiMux))

	server.registerSiteRoutes(server.siteMux)

	return server, nil
}

// Close stops analytics delivery. The database belongs to the caller.
func (s *Server) Close() error {
	return s.tracker.Close()
}

// remoteSinkOpener opens sinks outside the server database. HTTP sinks carry
// the configured API key, read when the sink is opened.
func remoteSinkOpener(driver string, apiKey func() string) analytics.SinkOpener {
	fallback := analytics.DefaultSinkOpener(driver)
	return func(ctx context.Context, locator, name string) (analytics.EventSink, error) {
		l := strings.ToLower(locator)
		if key := apiKey(); key != "" && (strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")) {
			return analytics.NewHTTPSink(locator, name, analytics.WithAPIKey(key))
		}
		return fallback(ctx, locator, name)
	}
}
