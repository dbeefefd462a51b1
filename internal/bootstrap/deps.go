// Package bootstrap wires the application together.
package bootstrap

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"mailsift/adapter/in/worker"
	"mailsift/adapter/out/persistence"
	"mailsift/adapter/out/provider/gmail"
	"mailsift/config"
	"mailsift/core/agent/llm"
	"mailsift/core/port/out"
	"mailsift/core/service/auth"
	"mailsift/core/service/enrich"
	"mailsift/core/service/extract"
	syncservice "mailsift/core/service/sync"
	"mailsift/infra/database"
	"mailsift/pkg/logger"
)

type Dependencies struct {
	Config *config.Config
	DB     *pgxpool.Pool
	SQLDB  *sqlx.DB
	Redis  *redis.Client

	// Repositories
	AccountRepo  out.AccountRepository
	CategoryRepo out.CategoryRepository
	EmailRepo    out.EmailRepository

	// Outbound adapters
	GmailProvider *gmail.Adapter
	LLMClient     *llm.Client

	// Services
	CredentialService *auth.Service
	SyncService       *syncservice.Orchestrator

	// Background
	Scheduler *worker.SyncScheduler
}

// NewDependencies builds the full dependency graph. The returned cleanup
// closes every connection in reverse order.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Database (pgxpool)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	// Database (sqlx for the persistence adapters)
	sqlDB, err := database.NewSQLX(cfg.DatabaseURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { _ = sqlDB.Close() })

	// Redis (optional)
	if cfg.RedisURL != "" {
		rdb, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.Redis = rdb
		cleanups = append(cleanups, func() { _ = rdb.Close() })
	} else {
		logger.Warn("REDIS_URL not set, using in-process sync leases")
	}

	// Repositories
	deps.AccountRepo = persistence.NewAccountAdapter(sqlDB)
	deps.CategoryRepo = persistence.NewCategoryAdapter(sqlDB)
	deps.EmailRepo = persistence.NewEmailAdapter(sqlDB)

	// Outbound adapters
	deps.GmailProvider = gmail.NewAdapter(time.Duration(cfg.ProviderTimeoutSec) * time.Second)
	deps.LLMClient = llm.NewClient(llm.ClientConfig{
		APIKey:      cfg.OpenAIAPIKey,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		Timeout:     time.Duration(cfg.LLMTimeoutSec) * time.Second,
	})

	// Services
	deps.CredentialService = auth.NewService(cfg, deps.AccountRepo)

	extractor := extract.NewExtractor()
	summarizer := enrich.NewSummarizer(deps.LLMClient)
	classifier := enrich.NewClassifier(deps.LLMClient, deps.CategoryRepo)
	leases := syncservice.NewLeaseManager(deps.Redis, cfg.SyncLeaseTTL)

	deps.SyncService = syncservice.NewOrchestrator(
		cfg,
		deps.GmailProvider,
		deps.CredentialService,
		deps.EmailRepo,
		extractor,
		summarizer,
		classifier,
		leases,
	)

	// Background scheduler
	deps.Scheduler = worker.NewSyncScheduler(deps.AccountRepo, deps.SyncService, cfg.SyncInterval)

	return deps, cleanup, nil
}
