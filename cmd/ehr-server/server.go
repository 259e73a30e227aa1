package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/medrecords/internal/config"
	"github.com/ehr/medrecords/internal/domain/identifier"
	"github.com/ehr/medrecords/internal/domain/report"
	"github.com/ehr/medrecords/internal/platform/auth"
	"github.com/ehr/medrecords/internal/platform/blobstore"
	"github.com/ehr/medrecords/internal/platform/db"
	"github.com/ehr/medrecords/internal/platform/hipaa"
	"github.com/ehr/medrecords/internal/platform/metrics"
	"github.com/ehr/medrecords/internal/platform/middleware"
	"github.com/ehr/medrecords/internal/platform/pdftext"
)

// defaultBodyLimit caps non-multipart request bodies.
const defaultBodyLimit int64 = 1 << 20

// Multipart framing and form fields on top of the file itself.
const uploadOverhead int64 = 1 << 20

type serverDeps struct {
	cfg     *config.Config
	logger  zerolog.Logger
	vault   *hipaa.Vault
	reports report.ReportRepository
	blobs   blobstore.BlobStore
	pdf     pdftext.Extractor
	pinger  db.Pinger
	metrics *metrics.Metrics
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.IsDev() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	vault, err := vaultFromConfig(cfg, logger)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	blobs, err := newBlobStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	e := newServer(serverDeps{
		cfg:     cfg,
		logger:  logger,
		vault:   vault,
		reports: report.NewReportRepoPG(pool),
		blobs:   blobs,
		pdf:     pdftext.Reader{},
		pinger:  pool,
		metrics: metrics.New(),
	})

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// newBlobStore picks the backend for original uploads: S3 when a bucket is
// configured, a local directory when BLOB_DIR is set, otherwise memory.
func newBlobStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (blobstore.BlobStore, error) {
	switch {
	case cfg.BlobS3Bucket != "":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.BlobS3Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.BlobS3Endpoint)
				o.UsePathStyle = true
			}
		})
		logger.Info().Str("bucket", cfg.BlobS3Bucket).Str("prefix", cfg.BlobS3Prefix).Msg("storing report files in s3")
		return blobstore.NewS3BlobStore(client, cfg.BlobS3Bucket, cfg.BlobS3Prefix, cfg.UploadMaxSize)
	case cfg.BlobDir != "":
		logger.Info().Str("dir", cfg.BlobDir).Msg("storing report files on disk")
		return blobstore.NewDirBlobStore(cfg.BlobDir, cfg.UploadMaxSize)
	default:
		logger.Warn().Msg("no blob backend configured; report files are kept in memory and lost on restart")
		return blobstore.NewInMemoryBlobStore(cfg.UploadMaxSize), nil
	}
}

func newServer(d serverDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	if d.metrics != nil {
		e.Use(d.metrics.Middleware())
	}
	e.Use(middleware.Logger(d.logger))
	e.Use(middleware.Recovery(d.logger))
	e.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{HSTS: !d.cfg.IsDev()}))
	e.Use(middleware.BodyLimit(defaultBodyLimit, d.cfg.UploadMaxSize+uploadOverhead))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: d.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, middleware.RequestIDHeader},
	}))

	// Audit wraps auth so rejected requests are recorded too; it reads the
	// caller identity after the chain returns.
	e.Use(middleware.Audit(d.logger, d.vault))

	jwtCfg := jwtConfig(d.cfg)
	if d.cfg.IsDev() {
		d.logger.Warn().Msg("development auth enabled: requests without a token run as admin")
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	if d.pinger != nil {
		e.GET("/health/db", db.HealthHandler(d.pinger))
	}
	var recorder report.Recorder
	if d.metrics != nil {
		e.GET("/metrics", d.metrics.Handler())
		recorder = d.metrics
	}

	e.GET("/api/public/ping", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api := e.Group("/api/v1")
	for _, role := range []string{auth.RoleAdmin, auth.RoleDoctor, auth.RoleDiagnost, auth.RolePatient} {
		api.GET("/"+role+"/ping", rolePing(role), auth.RequireRole(role))
	}

	svc := report.NewService(d.reports, d.vault, d.blobs, d.pdf, d.cfg.UploadMaxSize, d.logger,
		report.WithRecorder(recorder))
	report.NewHandler(svc).RegisterRoutes(api)
	identifier.NewHandler(d.vault).RegisterRoutes(api)

	return e
}

func rolePing(role string) echo.HandlerFunc {
	status := role + " ok"
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": status})
	}
}
