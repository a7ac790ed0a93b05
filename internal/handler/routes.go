package handler

import (
	"context"
	"net/http"
	"os"

	"github.com/assistly/callcenter-service/internal/adapters/telephony"
	"github.com/assistly/callcenter-service/internal/config"
	"github.com/assistly/callcenter-service/internal/core/session"
	"github.com/assistly/callcenter-service/internal/repository"
	"github.com/assistly/callcenter-service/internal/services/call"
	"github.com/assistly/callcenter-service/pkg/logger"
	"github.com/assistly/callcenter-service/pkg/pubsub"
	"github.com/assistly/callcenter-service/pkg/redis"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HandlerManager manages all handlers and their initialization
type HandlerManager struct {
	config      *config.CallCenterConfig
	service     *call.CallCenterService
	repoManager repository.RepositoryManager
	redisSvc    *redis.RedisService
	pubsubSvc   *pubsub.PubSubService
	wsHandler   *WSHandler
}

// NewHandlerManager creates and initializes all handlers and services
func NewHandlerManager(cfg *config.CallCenterConfig) (*HandlerManager, error) {
	// Initialize database connection
	repoManager, err := repository.NewRepositoryManager()
	if err != nil {
		logger.Base().Error("failed to connect to database", zap.Error(err))
		return nil, err
	}

	// Initialize Redis for the push channel and cross-pod dismissal
	redisHost := os.Getenv("REDIS_HOST")
	if redisHost == "" {
		redisHost = "localhost"
	}
	redisPort := os.Getenv("REDIS_PORT")
	if redisPort == "" {
		redisPort = "6379"
	}
	redisConfig := &redis.RedisConfig{
		Host:     redisHost,
		Port:     redisPort,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	}
	redisSvc, err := redis.NewRedisService(redisConfig)
	if err != nil {
		logger.Base().Warn("failed to initialize redis service, running on polling only", zap.Error(err))
		redisSvc = nil
	}

	var sessionManager *session.Manager
	if redisSvc != nil {
		podID := cfg.InstanceID
		if podID == "" {
			podID = "default-pod"
		}
		sessionManager = session.NewManager(redisSvc, podID)
		logger.Base().Info("session manager initialized", zap.String("pod_id", podID))
	}

	// Initialize Pub/Sub for call metrics if configured
	var pubsubSvc *pubsub.PubSubService
	if projectID := os.Getenv("GOOGLE_CLOUD_PROJECT"); projectID != "" {
		pubsubSvc, err = pubsub.NewPubSubService(context.Background(), &pubsub.PubSubConfig{
			ProjectID: projectID,
			TopicName: getEnvOrDefault("PUBSUB_CALL_METRICS_TOPIC", "call-metrics"),
			PubID:     cfg.InstanceID,
		})
		if err != nil {
			logger.Base().Warn("failed to initialize pubsub, call metrics disabled", zap.Error(err))
			pubsubSvc = nil
		}
	} else {
		logger.Base().Info("pubsub disabled, GOOGLE_CLOUD_PROJECT not set")
	}

	// Telephony provider adapters
	twilioCfg := telephony.TwilioConfig{
		AccountSID:    cfg.TwilioAccountSID,
		AuthToken:     cfg.TwilioAuthToken,
		AgentClientID: cfg.AgentClientID,
	}
	sdk := telephony.NewTwilioWorkspace(twilioCfg)
	commander := telephony.NewTwilioCommander(cfg.TwilioAccountSID, cfg.TwilioAuthToken)

	var redisIface redis.RedisServiceInterface
	if redisSvc != nil {
		redisIface = redisSvc
	}

	service := call.NewCallCenterService(cfg, sdk, commander, repoManager, redisIface, sessionManager, pubsubSvc)

	return &HandlerManager{
		config:      cfg,
		service:     service,
		repoManager: repoManager,
		redisSvc:    redisSvc,
		pubsubSvc:   pubsubSvc,
	}, nil
}

// StartService starts the background loops (push subscription, polling
// reconciler) of the call center service.
func (hm *HandlerManager) StartService(ctx context.Context) error {
	return hm.service.Start(ctx)
}

// SetupAllRoutes sets up all routes with middleware
func (hm *HandlerManager) SetupAllRoutes(router *mux.Router) {
	if hm.config.EnableCORS {
		router.Use(CORSMiddleware)
	}

	hm.SetupAPIRoutes(router)
	hm.SetupFeedRoutes(router)

	router.HandleFunc("/health", hm.handleHealth).Methods("GET")

	logger.Base().Info("all application routes registered")
}

// SetupAPIRoutes sets up the call, phone and workspace API routes
func (hm *HandlerManager) SetupAPIRoutes(router *mux.Router) {
	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(LoggingMiddleware)
	apiRouter.Use(ValidationMiddleware)
	if hm.config.JWTSecret != "" {
		apiRouter.Use(AuthMiddleware(hm.config.JWTSecret))
	} else {
		logger.Base().Warn("JWT_SECRET not set, api routes are unauthenticated")
	}

	callHandler := NewCallHandler(hm.service)
	apiRouter.HandleFunc("/calls/active", callHandler.ListActiveCalls).Methods("GET")
	apiRouter.HandleFunc("/calls/incoming", callHandler.GetIncomingCall).Methods("GET")
	apiRouter.HandleFunc("/calls/incoming/dismiss", callHandler.DismissIncomingCall).Methods("POST")
	apiRouter.HandleFunc("/calls/{id}", callHandler.GetCall).Methods("GET")
	apiRouter.HandleFunc("/calls/{id}/end", callHandler.EndCall).Methods("POST")

	phoneHandler := NewPhoneHandler(hm.service)
	apiRouter.HandleFunc("/phone/status", phoneHandler.GetStatus).Methods("GET")
	apiRouter.HandleFunc("/phone/initialize", phoneHandler.Initialize).Methods("POST")
	apiRouter.HandleFunc("/phone/retry", phoneHandler.Retry).Methods("POST")
	apiRouter.HandleFunc("/phone/skip", phoneHandler.Skip).Methods("POST")
	apiRouter.HandleFunc("/calls/{id}/answer", phoneHandler.AnswerCall).Methods("POST")

	workspaceHandler := NewWorkspaceHandler(hm.service)
	apiRouter.HandleFunc("/workspace", workspaceHandler.GetVisibility).Methods("GET")
	apiRouter.HandleFunc("/workspace/show", workspaceHandler.Show).Methods("POST")
	apiRouter.HandleFunc("/workspace/hide", workspaceHandler.Hide).Methods("POST")

	router.PathPrefix("/api/").HandlerFunc(handleCORS).Methods("OPTIONS")

	logger.Base().Info("api routes registered")
}

// SetupFeedRoutes sets up the websocket live feed
func (hm *HandlerManager) SetupFeedRoutes(router *mux.Router) {
	hm.wsHandler = NewWSHandler(hm.service)
	router.HandleFunc("/ws/calls", hm.wsHandler.ServeFeed)

	logger.Base().Info("websocket feed registered")
}

func (hm *HandlerManager) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status": "ok",
		"stale":  hm.service.Stale(),
		"phone":  hm.service.PhoneStatus().Phase,
	}
	if err := hm.service.Ping(r.Context()); err != nil {
		status["status"] = "degraded"
		status["database"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// GetService returns the call center service
func (hm *HandlerManager) GetService() *call.CallCenterService {
	return hm.service
}

// GetRepoManager returns the repository manager
func (hm *HandlerManager) GetRepoManager() repository.RepositoryManager {
	return hm.repoManager
}

// Close releases external connections
func (hm *HandlerManager) Close() {
	if hm.redisSvc != nil {
		hm.redisSvc.Close()
	}
	if hm.pubsubSvc != nil {
		hm.pubsubSvc.Close()
	}
	if hm.repoManager != nil {
		hm.repoManager.Close()
	}
}

// handleCORS handles CORS preflight requests for API routes
func handleCORS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, HEAD, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.WriteHeader(http.StatusOK)
}

// getEnvOrDefault gets an environment variable with a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
