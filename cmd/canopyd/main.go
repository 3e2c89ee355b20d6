package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/canopytrace/canopytrace/internal/api"
	"github.com/canopytrace/canopytrace/internal/audit"
	"github.com/canopytrace/canopytrace/internal/dds"
	"github.com/canopytrace/canopytrace/internal/identity"
	"github.com/canopytrace/canopytrace/internal/ledger"
	"github.com/canopytrace/canopytrace/internal/oracle"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("node exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("canopyd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("node.port", 8080)
	viper.SetDefault("node.issuer_url", "")
	viper.SetDefault("node.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("node.rate_limit_rps", 20)
	viper.SetDefault("node.journal_check_interval", "10m")
	viper.SetDefault("database.url", "")
	viper.SetDefault("identity.key_dir", "keys")
	viper.SetDefault("identity.token_ttl_seconds", 3600)
	viper.SetDefault("oracle.imagery_url", "")
	viper.SetDefault("oracle.imagery_api_key", "")
	viper.SetDefault("oracle.inference_url", "")
	viper.SetDefault("oracle.inference_api_key", "")
	viper.SetDefault("oracle.inference_model", "gpt-4o")
	viper.SetDefault("oracle.max_cloud_pct", 20.0)
	viper.SetDefault("oracle.workers", 4)
	viper.SetDefault("oracle.queue_size", 64)

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	// ── Stores ───────────────────────────────────────────────────────────────
	var (
		store    ledger.Store
		auditLog audit.Store
	)
	if dbURL := viper.GetString("database.url"); dbURL != "" {
		db, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()

		if err := db.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
		store = ledger.NewPostgres(db, logger)
		auditLog = audit.NewPostgres(db)
	} else {
		logger.Warn("no database.url configured, using in-memory stores; state is lost on restart")
		store = ledger.NewMemory()
		auditLog = audit.NewMemory()
	}

	led := ledger.New(store, logger)

	startCtx := context.Background()
	if err := led.JournalVerify(startCtx); err != nil {
		logger.Warn("journal integrity check FAILED", zap.Error(err))
	} else {
		n, _ := led.JournalLen(startCtx)
		root, _ := led.JournalRoot(startCtx)
		logger.Info("journal verified",
			zap.Int("entries", n),
			zap.String("root", root),
		)
	}

	// ── Identity ─────────────────────────────────────────────────────────────
	keyDir := viper.GetString("identity.key_dir")
	authority, err := identity.LoadOrCreate(keyDir)
	if err != nil {
		return fmt.Errorf("authority key setup failed: %w", err)
	}
	logger.Info("validator authority ready",
		zap.String("key_dir", keyDir),
		zap.String("identity", string(authority.Identity())),
	)

	httpPort := viper.GetInt("node.port")
	issuerURL := viper.GetString("node.issuer_url")
	if issuerURL == "" {
		issuerURL = fmt.Sprintf("http://localhost:%d", httpPort)
	}

	tokenTTL := time.Duration(viper.GetInt("identity.token_ttl_seconds")) * time.Second
	tokens := identity.NewTokenIssuer(authority, issuerURL, tokenTTL)

	// ── Satellite oracle ─────────────────────────────────────────────────────
	var pool *oracle.Pool
	imageryURL := viper.GetString("oracle.imagery_url")
	inferenceURL := viper.GetString("oracle.inference_url")
	if imageryURL != "" && inferenceURL != "" {
		imagery := oracle.NewImageryClient(oracle.ImageryConfig{
			BaseURL: imageryURL,
			APIKey:  viper.GetString("oracle.imagery_api_key"),
		}, logger)
		inference := oracle.NewInferenceClient(oracle.InferenceConfig{
			BaseURL: inferenceURL,
			APIKey:  viper.GetString("oracle.inference_api_key"),
			Model:   viper.GetString("oracle.inference_model"),
		}, logger)

		pipelineCfg := oracle.DefaultPipelineConfig()
		pipelineCfg.MaxCloudPct = viper.GetFloat64("oracle.max_cloud_pct")
		pipeline := oracle.NewPipeline(pipelineCfg, imagery, inference, led, authority, logger)

		pool = oracle.NewPool(pipeline, auditLog,
			viper.GetInt("oracle.workers"),
			viper.GetInt("oracle.queue_size"),
			logger,
		)
		logger.Info("satellite oracle enabled",
			zap.String("imagery_url", imageryURL),
			zap.String("inference_model", viper.GetString("oracle.inference_model")),
		)
	} else {
		logger.Warn("satellite oracle disabled: set oracle.imagery_url and oracle.inference_url to enable verification requests")
	}

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := api.NewRouter(api.RouterConfig{
		CORSOrigins:  viper.GetStringSlice("node.cors_origins"),
		RateLimitRPS: viper.GetInt("node.rate_limit_rps"),
	}, api.Deps{
		Ledger:     led,
		Aggregator: dds.New(led, logger),
		Pool:       pool,
		Tokens:     tokens,
		Logger:     logger,
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// bgCtx scopes the background goroutines (workers, journal re-check);
	// cancelled once shutdown completes.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	if pool != nil {
		pool.Start(bgCtx)
		go func() {
			for res := range pool.Results() {
				switch {
				case res.Err != nil:
					logger.Warn("verification attempt failed",
						zap.String("attempt_id", res.AttemptID.String()),
						zap.String("plot_id", res.PlotID),
						zap.Duration("duration", res.Duration),
						zap.Error(res.Err),
					)
				case res.Outcome.Validated:
					logger.Info("plot validated",
						zap.String("attempt_id", res.AttemptID.String()),
						zap.String("plot_id", res.PlotID),
						zap.String("plot_address", string(res.Outcome.PlotAddress)),
						zap.Duration("duration", res.Duration),
					)
				default:
					logger.Warn("validation withheld: deforestation detected",
						zap.String("attempt_id", res.AttemptID.String()),
						zap.String("plot_id", res.PlotID),
						zap.String("explanation", res.Outcome.Explanation),
					)
				}
			}
		}()
	}

	// ── Background: re-verify the hash chain periodically ────────────────────
	checkInterval := viper.GetDuration("node.journal_check_interval")
	if checkInterval > 0 {
		go func() {
			ticker := time.NewTicker(checkInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					if err := led.JournalVerify(ctx); err != nil {
						logger.Error("journal integrity check FAILED", zap.Error(err))
					}
					cancel()
				// quit delivers the signal exactly once and main consumes it;
				// the ticker winds down on the shared background context.
				case <-bgCtx.Done():
					return
				}
			}
		}()
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("node HTTP listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down node...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	if pool != nil {
		pool.Stop()
	}

	logger.Info("node stopped")
	return nil
}
