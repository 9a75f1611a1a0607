package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/medverify/internal/analysis"
	"github.com/example/medverify/internal/config"
	"github.com/example/medverify/internal/discrepancy"
	"github.com/example/medverify/internal/extractor"
	"github.com/example/medverify/internal/handlers"
	"github.com/example/medverify/internal/imageprocessor"
	"github.com/example/medverify/internal/logging"
	"github.com/example/medverify/internal/matcher"
	"github.com/example/medverify/internal/reference"
	"github.com/example/medverify/internal/repository"
	"github.com/example/medverify/internal/usecase"
	"github.com/example/medverify/internal/verdict"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db, err := loadReference(ctx, cfg.Reference, logger)
	if err != nil {
		logger.Fatal("failed to load reference catalog", zap.Error(err))
	}
	logger.Info("reference catalog ready", zap.Int("medicines", db.Len()))

	analyzer := buildAnalyzer(cfg.Analysis, db, logger)

	var repo usecase.AnalysisRepository
	if cfg.Database.DSN != "" {
		analysisRepo := repository.NewAnalysisRepository(initDatabase(ctx, cfg.Database, logger), logger)
		if err := analysisRepo.AutoMigrate(ctx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		repo = analysisRepo
	} else {
		logger.Warn("database.dsn not set; analysis log disabled")
	}

	var cache usecase.Cache
	if cfg.Cache.Type == "redis" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		defer redisCancel()
		cache = usecase.NewRedisCache(initRedis(redisCtx, cfg.Cache.RedisAddr, logger))
	} else {
		cache = usecase.NewMemoryCache()
	}

	uc := usecase.NewVerificationUseCase(repo, cache, analyzer, cfg.Cache.TTL, logger)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), logging.GinMiddleware(logger))
	r.MaxMultipartMemory = cfg.Server.MaxUploadBytes

	limiter := handlers.NewRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst)
	handlers.RegisterRoutes(r, uc, db, cfg.Server.MaxUploadBytes, limiter.Middleware())

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	logger.Info("medverify listening", zap.String("addr", cfg.Server.Addr))
	if err := serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// loadReference prefers an explicit catalog file, then the registry, then the
// built-in catalog.
func loadReference(ctx context.Context, cfg config.ReferenceConfig, logger *zap.Logger) (*reference.Database, error) {
	switch {
	case cfg.File != "":
		return reference.LoadFile(cfg.File)
	case cfg.RegistryURL != "":
		return reference.NewRegistryClient(cfg.RegistryURL, cfg.RegistryTimeout, logger).Fetch(ctx)
	default:
		return reference.Default()
	}
}

func buildAnalyzer(cfg config.AnalysisConfig, db *reference.Database, logger *zap.Logger) *analysis.Analyzer {
	var opts []extractor.Option
	if cfg.OCR {
		if opt := extractor.OCROption(); opt != nil {
			opts = append(opts, opt)
		} else {
			logger.Warn("analysis.ocr requested but binary built without the tesseract tag")
		}
	}

	ext := extractor.New(extractor.Config{
		Decoder: imageprocessor.Config{
			MinWidth:     cfg.MinWidth,
			MinHeight:    cfg.MinHeight,
			MaxDimension: cfg.MaxDimension,
		},
		ForegroundThreshold: cfg.ForegroundThreshold,
	}, logger, opts...)
	logger.Info("feature extractor ready", zap.String("image_backend", extractor.Backend()), zap.Bool("ocr", len(opts) > 0))

	weights := cfg.FeatureWeights()
	m := matcher.New(db, matcher.Config{
		Weights:             weights,
		Thresholds:          cfg.FeatureThresholds(),
		DefaultThreshold:    cfg.DefaultThreshold,
		DegradedFloor:       cfg.DegradedFloor,
		MinViableSimilarity: cfg.MinViableSimilarity,
	}, logger)

	s := discrepancy.NewSynthesizer(discrepancy.Config{
		Severities:     cfg.FeatureSeverities(),
		ShapeHardLimit: cfg.ShapeHardLimit,
		SizeHardLimit:  cfg.SizeHardLimit,
	})

	a := verdict.NewAggregator(verdict.Config{
		Weights:            weights,
		AuthenticThreshold: cfg.AuthenticThreshold,
		Bands: verdict.Bands{
			AuthenticAbove: cfg.Bands.AuthenticAbove,
			CautionFrom:    cfg.Bands.CautionFrom,
		},
		Recommendations: verdict.Recommendations{
			Authentic: cfg.Recommendations.Authentic,
			Caution:   cfg.Recommendations.Caution,
			Critical:  cfg.Recommendations.Critical,
		},
	})

	return analysis.NewAnalyzer(ext, m, s, a, cfg.Timeout, logger)
}

func initDatabase(ctx context.Context, cfg config.DatabaseConfig, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

// serveHTTPServerWithOptions serves until the server fails or a signal arrives, then
// drains in-flight requests for up to shutdownTimeout. A nil listener uses
// server.Addr; a nil signalCh listens for SIGINT and SIGTERM.
func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
