package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/insait-ai/zendesk-voice-bridge/internal/config"
	"github.com/insait-ai/zendesk-voice-bridge/internal/handler"
	"github.com/insait-ai/zendesk-voice-bridge/pkg/logger"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Server represents the Zendesk voice bridge server
type Server struct {
	config         *config.Config
	router         *mux.Router
	handlerManager *handler.HandlerManager
}

// NewServer creates a new Zendesk voice bridge server
func NewServer(cfg *config.Config) *Server {
	// Initialize zap logger and redirect stdlib log to it
	if _, err := logger.Init(os.Getenv("LOG_ENV")); err != nil {
		logger.Base().Error("Failed to initialize zap logger, falling back to std log")
	}

	router := mux.NewRouter()

	handlerManager, err := handler.NewHandlerManager(cfg)
	if err != nil {
		logger.Base().Error("Failed to initialize handler manager", zap.Error(err))
		return nil
	}

	handlerManager.SetupAllRoutes(router)

	return &Server{
		config:         cfg,
		router:         router,
		handlerManager: handlerManager,
	}
}

// Start starts the HTTP server. The read/write timeouts leave headroom for
// the bounded mapping-lookup retry on call_ended, which can hold a request
// for attempts × delay.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%s", s.config.Port)

	waitBudget := time.Duration(s.config.LookupAttempts)*s.config.LookupDelay + 15*time.Second

	server := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: waitBudget,
		IdleTimeout:  60 * time.Second,
	}

	logger.Base().Info("Starting server", zap.String("addr", addr))
	return server.ListenAndServe()
}

func main() {
	// Load .env file for local development if it exists. This will not
	// override environment variables set by the deployment.
	if err := godotenv.Load(); err != nil {
		log.Printf("Info: .env file not found or skipped (expected in production): %v", err)
	}

	cfg := config.Load()

	server := NewServer(cfg)
	if server == nil {
		log.Fatal("Failed to create server")
	}
	logger.Base().Info("Server initialized successfully",
		zap.String("port", cfg.Port),
		zap.String("instance_id", cfg.InstanceID),
	)

	if err := server.Start(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
