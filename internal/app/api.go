package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/RubachokBoss/submission-analysis/internal/config"
	"github.com/RubachokBoss/submission-analysis/internal/database"
	"github.com/RubachokBoss/submission-analysis/internal/delivery/httpd"
	"github.com/RubachokBoss/submission-analysis/internal/middleware"
	"github.com/RubachokBoss/submission-analysis/internal/models"
	"github.com/RubachokBoss/submission-analysis/internal/queue"
	"github.com/RubachokBoss/submission-analysis/internal/repository"
	"github.com/RubachokBoss/submission-analysis/internal/service"
	"github.com/RubachokBoss/submission-analysis/internal/service/integration"
)

// API serves the submission endpoints and produces analysis jobs.
type API struct {
	server *http.Server
	logger zerolog.Logger
	config *config.Config
	db     *sql.DB
	conn   *queue.Connection
}

func NewAPI(cfg *config.Config, log zerolog.Logger) (*API, error) {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("Database connection established")

	conn, publisher, err := connectQueue(cfg.RabbitMQ, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	artifactStore, err := repository.NewMinIOArtifactStore(cfg.MinIO, log)
	if err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, err
	}

	submissionRepo := repository.NewSubmissionRepository(db, log)
	reportRepo := repository.NewReportRepository(db, log)
	analysisClient := integration.NewAnalysisClient(cfg.Services.Analysis, log)

	submissionService := service.NewSubmissionService(
		submissionRepo,
		reportRepo,
		artifactStore,
		publisher,
		cfg.Analysis,
		log,
	)
	artifactService := service.NewArtifactService(
		submissionRepo,
		service.NewReadThrough(artifactStore, analysisClient, submissionRepo, log),
		log,
	)

	handler := httpd.NewHandler(
		submissionService,
		artifactService,
		map[string]httpd.Pinger{
			"postgres": repository.NewPostgresRepository(db, log),
			"rabbitmq": conn,
		},
		log,
	)

	router := NewRouter(cfg, handler, middleware.NewAuth(cfg.Auth.JWTSecret, log), log)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &API{
		server: server,
		logger: log,
		config: cfg,
		db:     db,
		conn:   conn,
	}, nil
}

func NewRouter(cfg *config.Config, handler *httpd.Handler, auth *middleware.Auth, log zerolog.Logger) chi.Router {
	router := chi.NewRouter()

	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.NewCORS(cfg.CORS))

	handler.RegisterRoutes(router, auth.Authenticate)
	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (a *API) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Msgf("Starting submission API on %s", a.config.Server.Address)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		a.close()
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	return a.Shutdown(shutdownCtx)
}

func (a *API) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down submission API...")

	err := a.server.Shutdown(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to shutdown HTTP server")
	}

	a.close()

	a.logger.Info().Msg("Submission API stopped")
	return err
}

func (a *API) close() {
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close RabbitMQ connection")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close database connection")
		}
	}
}

func (a *API) shutdownTimeout() time.Duration {
	if a.config.Server.ShutdownTimeout > 0 {
		return a.config.Server.ShutdownTimeout
	}
	return 30 * time.Second
}

// connectQueue dials the broker, declares the topology and opens a confirming publisher.
func connectQueue(cfg config.RabbitMQConfig, log zerolog.Logger) (*queue.Connection, queue.Publisher, error) {
	conn, err := queue.Dial(cfg.URL, log)
	if err != nil {
		return nil, nil, err
	}

	topology := queue.NewTopology(cfg, models.AnalyzeSubmissionJob)
	if err := conn.Setup(topology); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	publisher, err := queue.NewPublisher(ch, topology, log)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	return conn, publisher, nil
}
