package handler

import (
	"github.com/gorilla/mux"
	httpadapter "github.com/insait-ai/zendesk-voice-bridge/internal/adapters/http"
	"github.com/insait-ai/zendesk-voice-bridge/internal/config"
	"github.com/insait-ai/zendesk-voice-bridge/internal/repository"
	"github.com/insait-ai/zendesk-voice-bridge/internal/services/ticket"
	"github.com/insait-ai/zendesk-voice-bridge/internal/store"
	"github.com/insait-ai/zendesk-voice-bridge/pkg/logger"
	"go.uber.org/zap"
)

// HandlerManager wires the collaborators together and owns route registration.
// Every client is constructed once at process start and passed by reference
// into the correlation engine.
type HandlerManager struct {
	config        *config.Config
	store         store.Store
	zendeskClient *httpadapter.ZendeskClient
	callRecords   *repository.CallRecordRepository
	service       *ticket.Service
}

// NewHandlerManager creates and initializes all services and handlers
func NewHandlerManager(cfg *config.Config) (*HandlerManager, error) {
	// Correlation store. Redis failure degrades to the in-memory store so a
	// store outage does not take the webhook offline.
	var kv store.Store
	redisStore, err := store.NewRedisStore(&store.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Base().Warn("failed to connect to Redis, continuing with in-memory store",
			zap.Error(err),
		)
		kv = store.NewMemoryStore()
	} else {
		kv = redisStore
		logger.Base().Info("connected to Redis correlation store",
			zap.String("host", cfg.RedisHost),
			zap.String("port", cfg.RedisPort),
		)
	}

	zendeskClient := httpadapter.NewZendeskClient(cfg.ZendeskDomain, cfg.ZendeskEmail, cfg.ZendeskAPIToken)

	// Optional call-record archive.
	var callRecords *repository.CallRecordRepository
	var recorder ticket.CallRecorder
	if cfg.DatabaseEnabled {
		callRecords, err = repository.NewCallRecordRepositoryFromEnv()
		if err != nil {
			logger.Base().Warn("failed to initialize call record archive, continuing without it",
				zap.Error(err),
			)
		} else {
			recorder = callRecords
			logger.Base().Info("call record archive initialized")
		}
	}

	service := ticket.NewService(ticket.ServiceConfig{
		AllowedPhoneNumbers: cfg.AllowedPhoneNumbers,
		LookupAttempts:      cfg.LookupAttempts,
		LookupDelay:         cfg.LookupDelay,
	}, kv, zendeskClient, recorder)

	if len(cfg.AllowedPhoneNumbers) > 0 {
		logger.Base().Info("caller allow-list enabled",
			zap.Int("entries", len(cfg.AllowedPhoneNumbers)),
		)
	}

	return &HandlerManager{
		config:        cfg,
		store:         kv,
		zendeskClient: zendeskClient,
		callRecords:   callRecords,
		service:       service,
	}, nil
}

// SetupAllRoutes sets up all routes with middleware
func (hm *HandlerManager) SetupAllRoutes(router *mux.Router) {
	// Global middleware
	router.Use(CORSMiddleware)
	router.Use(SecurityHeadersMiddleware)
	router.Use(RequestIDMiddleware)
	router.Use(GlobalLoggingMiddleware)
	router.Use(ValidationMiddleware)
	router.Use(RateLimitMiddleware(hm.config.RateLimitPerMinute))

	webhookHandler := NewTicketWebhookHandler(hm.service)
	webhookHandler.SetupTicketRoutes(router)

	adminHandler := NewAdminHandler(hm.zendeskClient)
	adminHandler.SetupAdminRoutes(router, hm.config.SecretKey)

	logger.Base().Info("all application routes registered")
}

// GetService returns the correlation engine
func (hm *HandlerManager) GetService() *ticket.Service {
	return hm.service
}
