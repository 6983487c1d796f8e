package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	authdomain "kyra-backend/internal/auth/domain"
	authDelivery "kyra-backend/internal/auth/delivery"
	authRepo "kyra-backend/internal/auth/repository"
	authUsecase "kyra-backend/internal/auth/usecase"
	chatDelivery "kyra-backend/internal/chat/delivery"
	chatdomain "kyra-backend/internal/chat/domain"
	chatRepo "kyra-backend/internal/chat/repository"
	chatUsecase "kyra-backend/internal/chat/usecase"
	emaildomain "kyra-backend/internal/email/domain"
	emailDelivery "kyra-backend/internal/email/delivery"
	emailRepo "kyra-backend/internal/email/repository"
	emailUsecase "kyra-backend/internal/email/usecase"
	"kyra-backend/internal/enrichment"
	"kyra-backend/internal/notification"
	"kyra-backend/internal/retrieval"
	taskDelivery "kyra-backend/internal/task/delivery"
	taskdomain "kyra-backend/internal/task/domain"
	taskRepo "kyra-backend/internal/task/repository"
	"kyra-backend/internal/task/scheduler"
	taskUsecase "kyra-backend/internal/task/usecase"
	"kyra-backend/pkg/ai"
	"kyra-backend/pkg/cache"
	"kyra-backend/pkg/calendar"
	"kyra-backend/pkg/chroma"
	"kyra-backend/pkg/config"
	"kyra-backend/pkg/database"
	"kyra-backend/pkg/fcm"
	"kyra-backend/pkg/gmail"
	"kyra-backend/pkg/health"
	"kyra-backend/pkg/imap"
	"kyra-backend/pkg/monitoring"
	"kyra-backend/pkg/secret"
)

const shutdownTimeout = 10 * time.Second

// Handler owns every long lived component of the process
type Handler struct {
	cfg     *config.Config
	log     *zap.Logger
	db      *gorm.DB
	metrics *monitoring.Metrics

	settings *Settings
	ollama   *ai.OllamaService
	redis    *cache.Redis
	sender   fcm.Sender

	fcmRepo  authRepo.FCMTokenRepository
	accounts emailRepo.AccountRepository
	taskRepo taskRepo.TaskRepository

	authUsecase  authUsecase.AuthUsecase
	orgUsecase   authUsecase.OrganizationUsecase
	emailUsecase emailUsecase.EmailUsecase
	taskUsecase  taskUsecase.TaskUsecase
	syncService  *emailUsecase.SyncService
	embeddings   *emailUsecase.EmbeddingWorkerService
	responder    *chatUsecase.Responder
	gmail        *gmail.Service
}

// Models lists every table owned by the service
func Models() []interface{} {
	return []interface{}{
		&authdomain.User{}, &authdomain.RefreshToken{}, &authdomain.FCMToken{},
		&authdomain.Organization{}, &authdomain.Membership{},
		&emaildomain.Account{}, &emaildomain.Email{}, &emaildomain.Attachment{},
		&emaildomain.ThreadSummary{}, &emaildomain.Interaction{}, &emaildomain.DailyDigest{},
		&taskdomain.Task{},
		&chatdomain.Conversation{}, &chatdomain.Turn{},
	}
}

func NewHandler(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Handler, error) {
	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		cfg:      cfg,
		log:      log,
		db:       db,
		metrics:  monitoring.NewMetrics(prometheus.DefaultRegisterer),
		settings: NewSettings(cfg.AI, log),
	}

	// Sealer for provider credentials; without a key they are stored as given
	var box emailUsecase.Sealer
	if cfg.Auth.SecretBoxKey != "" {
		b, err := secret.NewBox(cfg.Auth.SecretBoxKey)
		if err != nil {
			return nil, err
		}
		box = b
	} else {
		log.Warn("auth.secretbox_key not set, provider credentials are stored unsealed")
	}

	// Repositories
	userRepo := authRepo.NewUserRepository(db)
	orgRepo := authRepo.NewOrganizationRepository(db)
	h.fcmRepo = authRepo.NewFCMTokenRepository(db)
	h.accounts = emailRepo.NewAccountRepository(db)
	emails := emailRepo.NewEmailRepository(db)
	summaries := emailRepo.NewThreadSummaryRepository(db)
	interactions := emailRepo.NewInteractionRepository(db)
	syncStore := emailRepo.NewSyncStore(db)
	h.taskRepo = taskRepo.NewGormTaskRepository(db)
	conversations := chatRepo.NewConversationRepository(db)

	// AI provider and enrichment
	h.ollama = ai.NewOllamaServiceWithGetters(h.settings.BaseURL, h.settings.Model, func() string { return "" }, cfg.AI.Timeout)
	provider, err := ai.NewProvider(ai.Config{
		Provider:       ai.ProviderType(cfg.AI.Provider),
		GeminiAPIKey:   cfg.AI.GeminiAPIKey,
		GeminiModel:    cfg.AI.GeminiModel,
		EmbeddingModel: cfg.AI.EmbeddingModel,
		Timeout:        cfg.AI.Timeout,
	}, h.ollama, log)
	if err != nil {
		return nil, fmt.Errorf("ai provider: %w", err)
	}
	log.Info("ai provider ready", zap.String("provider", provider.Name()))
	brain := enrichment.NewEngine(provider, enrichment.Rules{
		VIPDomains:       cfg.Sync.VIPDomains,
		SpamKeywords:     cfg.Sync.SpamKeywords,
		PriorityKeywords: cfg.Sync.PriorityKeywords,
	}, h.metrics, log)

	// Cache
	var statsCache cache.Cache = cache.NewMemory(h.metrics)
	if cfg.Cache.Backend == "redis" {
		h.redis, err = cache.NewRedis(ctx, cache.RedisOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, h.metrics)
		if err != nil {
			return nil, err
		}
		statsCache = h.redis
	}

	// Mailbox providers
	h.gmail = gmail.NewService(cfg.Google.ClientID, cfg.Google.ClientSecret, log)
	h.gmail.SetTokenSaver(h.tokenSaver(box))
	providers := emailUsecase.ProviderRegistry{
		emaildomain.ProviderGmail: h.gmail,
		emaildomain.ProviderIMAP:  imap.NewService(log),
	}
	cal := calendar.NewService(h.gmail.HTTPClient)

	// Vector stores: pgvector always holds the vector, chroma mirrors it when selected
	var index retrieval.VectorIndex = emailRepo.NewVectorIndex(db)
	var extraStores []emailUsecase.EmbeddingStore
	if cfg.Vector.Backend == "chroma" {
		ci, err := chroma.NewIndex(ctx, cfg.Chroma, cfg.AI.GeminiAPIKey, log)
		if err != nil {
			return nil, err
		}
		index = ci
		extraStores = append(extraStores, ci)
	}

	// Push sender is optional
	if cfg.Firebase.CredentialsFile != "" {
		client, err := fcm.NewClient(ctx, cfg.Firebase.CredentialsFile, log)
		if err != nil {
			log.Warn("push notifications disabled", zap.Error(err))
		} else {
			h.sender = client
		}
	}

	// Usecases
	h.syncService = emailUsecase.NewSyncService(h.accounts, emails, syncStore, providers, brain, box, emailUsecase.SyncOptions{
		ListLimit:        cfg.Sync.ListLimit,
		BatchSize:        cfg.Sync.FetchBatchSize,
		BatchPause:       cfg.Sync.FetchBatchPause,
		TaskDetectPerSec: cfg.Sync.TaskDetectPerSec,
	}, h.metrics, log)
	h.embeddings = emailUsecase.NewEmbeddingWorkerService(brain, emails, extraStores, cfg.Sync.EmbeddingWorkers, h.metrics, log)
	h.syncService.SetEmbeddingQueue(h.embeddings)
	if h.sender != nil {
		h.syncService.SetCriticalNotifier(notification.NewCriticalNotifier(h.fcmRepo, h.sender, log))
	}

	h.emailUsecase = emailUsecase.NewEmailUsecase(emailUsecase.EmailUsecaseDeps{
		Emails:       emails,
		Accounts:     h.accounts,
		Summaries:    summaries,
		Interactions: interactions,
		Tasks:        h.taskRepo,
		Providers:    providers,
		Enricher:     brain,
		Box:          box,
		Cache:        statsCache,
		Calendar:     cal,
		Watcher:      h.gmail,
		PubSubTopic:  watchTopic(cfg.Google),
		StatsTTL:     cfg.Cache.StatsTTL,
	}, log)
	h.taskUsecase = taskUsecase.NewTaskUsecase(h.taskRepo, brain, emails, log)
	h.authUsecase = authUsecase.NewAuthUsecase(userRepo, h.fcmRepo, orgRepo, h.accounts,
		authUsecase.NewGoogleOAuth(cfg.Google), imap.NewService(log), box, cfg.Auth, log)
	h.orgUsecase = authUsecase.NewOrganizationUsecase(orgRepo, userRepo)

	retriever := retrieval.NewEngine(brain, index, emails, h.taskRepo, h.emailUsecase, log)
	h.responder = chatUsecase.NewResponder(brain, retriever, conversations, h.metrics, log)

	return h, nil
}

// tokenSaver seals and stores tokens refreshed by the Gmail token source
func (h *Handler) tokenSaver(box emailUsecase.Sealer) gmail.TokenSaver {
	seal := func(plain string) (string, error) {
		if box == nil {
			return plain, nil
		}
		return box.Seal(plain)
	}
	return func(accountID string, tok *oauth2.Token) error {
		access, err := seal(tok.AccessToken)
		if err != nil {
			return err
		}
		refresh, err := seal(tok.RefreshToken)
		if err != nil {
			return err
		}
		var expiry *time.Time
		if !tok.Expiry.IsZero() {
			e := tok.Expiry
			expiry = &e
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return h.accounts.UpdateTokens(ctx, accountID, access, refresh, expiry)
	}
}

// watchTopic is the fully qualified topic Gmail publishes to
func watchTopic(g config.GoogleConfig) string {
	if g.PubSubTopic == "" || strings.HasPrefix(g.PubSubTopic, "projects/") || g.ProjectID == "" {
		return g.PubSubTopic
	}
	return fmt.Sprintf("projects/%s/topics/%s", g.ProjectID, g.PubSubTopic)
}

// subscriptionTopic is the short topic name used by the Pub/Sub client
func subscriptionTopic(g config.GoogleConfig) string {
	parts := strings.Split(g.PubSubTopic, "/")
	return parts[len(parts)-1]
}

// Migrate enables pgvector and creates every table
func (h *Handler) Migrate() error {
	return database.Migrate(h.db, Models()...)
}

// SyncEmail runs one pass for the mailbox connected with address
func (h *Handler) SyncEmail(ctx context.Context, address string) (*emailUsecase.SyncResult, error) {
	return h.syncService.SyncByEmail(ctx, address)
}

// Backfill embeds every stored email that has no vector yet
func (h *Handler) Backfill(ctx context.Context) (int, error) {
	return h.embeddings.RunOnce(ctx, "")
}

// onConnected starts the first sync of a new mailbox and its push watch
func (h *Handler) onConnected(_ context.Context, acct *emaildomain.Account) {
	go func() {
		bg, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := h.syncService.SyncAccount(bg, acct.ID); err != nil {
			h.log.Error("initial sync failed", zap.String("account_id", acct.ID), zap.Error(err))
		}
		if acct.Provider == emaildomain.ProviderGmail && h.cfg.Google.ProjectID != "" {
			if _, err := h.emailUsecase.WatchAccount(bg, acct.UserID, acct.ID); err != nil {
				h.log.Warn("push watch not started", zap.String("account_id", acct.ID), zap.Error(err))
			}
		}
	}()
}

func (h *Handler) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.metrics.GinMiddleware())

	corsConfig := cors.Config{
		AllowOrigins:     h.cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Cache-Control", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			// Credentials cannot be combined with a wildcard origin
			corsConfig.AllowOrigins = nil
			corsConfig.AllowCredentials = false
			corsConfig.AllowAllOrigins = true
			break
		}
	}
	r.Use(cors.New(corsConfig))

	sqlDB, err := h.db.DB()
	if err != nil {
		h.log.Warn("database handle unavailable for readiness", zap.Error(err))
	}
	checker := health.NewChecker(sqlDB, nil, h.log)
	if h.redis != nil {
		checker.AddReadinessCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return h.redis.Ping(ctx)
		})
	}

	SetupRoutes(r, Routes{
		AuthUsecase:     h.authUsecase,
		AuthHandler:     authDelivery.NewAuthHandler(h.authUsecase, h.orgUsecase, h.cfg.Auth.FrontendURL, h.onConnected),
		EmailHandler:    emailDelivery.NewEmailHandler(h.emailUsecase, h.syncService, h.embeddings),
		TaskHandler:     taskDelivery.NewTaskHandler(h.taskUsecase),
		ChatHandler:     chatDelivery.NewChatHandler(h.responder),
		SettingsHandler: NewSettingsHandler(h.settings, h.ollama),
		Health:          checker.Handler(),
	})
	return r
}

// Start runs the background workers and serves HTTP until ctx is done
func (h *Handler) Start(ctx context.Context, addr string) error {
	if h.cfg.IsDefaultJWTSecret() {
		h.log.Warn("auth.jwt_secret is the development default")
	}
	config.WatchAI(h.settings.Apply)

	// Workers exit with ctx
	h.embeddings.Start(ctx)

	reminders := scheduler.NewTaskReminderScheduler(h.taskRepo, h.fcmRepo, h.sender, h.log)
	reminders.Start(ctx)
	defer reminders.Stop()

	if h.cfg.Google.ProjectID != "" {
		notifier, err := notification.NewService(ctx, h.cfg.Google.ProjectID, subscriptionTopic(h.cfg.Google), h.cfg.Google.CredentialsFile, h.syncService, h.log)
		if err != nil {
			h.log.Error("push notifications disabled", zap.Error(err))
		} else {
			defer notifier.Close()
			go notifier.Start(ctx)
		}
	} else {
		h.log.Warn("google.project_id not configured, push notifications disabled")
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		h.log.Info("server starting", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	h.log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

// Close releases connections held by the handler
func (h *Handler) Close() {
	if h.redis != nil {
		_ = h.redis.Close()
	}
	if sqlDB, err := h.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
