package config

import (
	"os"
	"strconv"
	"time"
)

// CallCenterConfig holds the service configuration
type CallCenterConfig struct {
	Port string
	Env  string

	// Incoming-call notification safety timeout
	IncomingCallTTL time.Duration

	// Phone integration
	PhoneReadyTimeout time.Duration
	TwilioAccountSID  string
	TwilioAuthToken   string
	AgentClientID     string

	// Store reconciliation
	ReconcileInterval time.Duration

	// Auth
	JWTSecret string

	// HTTP
	EnableCORS bool

	// Instance identifier for multi-pod monitoring and routing
	InstanceID string
}

// LoadConfig loads the service configuration from environment variables.
// The .env file is loaded in main for local development.
func LoadConfig() *CallCenterConfig {
	return &CallCenterConfig{
		Port: getEnvOrDefault("CALLCENTER_PORT", "8080"),
		Env:  getEnvOrDefault("LOG_ENV", "development"),

		IncomingCallTTL:   getEnvDurationOrDefault("INCOMING_CALL_TTL_SECONDS", 60),
		PhoneReadyTimeout: getEnvDurationOrDefault("PHONE_READY_TIMEOUT_SECONDS", 15),
		TwilioAccountSID:  getEnvOrDefault("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:   getEnvOrDefault("TWILIO_AUTH_TOKEN", ""),
		AgentClientID:     getEnvOrDefault("AGENT_CLIENT_ID", "support-desk"),

		ReconcileInterval: getEnvDurationOrDefault("RECONCILE_INTERVAL_SECONDS", 30),

		JWTSecret: getEnvOrDefault("JWT_SECRET", ""),

		EnableCORS: getEnvBoolOrDefault("ENABLE_CORS", true),

		InstanceID: getInstanceID(),
	}
}

// getInstanceID derives a stable per-pod identifier. Kubernetes sets
// HOSTNAME to the pod name.
func getInstanceID() string {
	if id := os.Getenv("INSTANCE_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "callcenter-local"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultSeconds int) time.Duration {
	seconds := defaultSeconds
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			seconds = parsed
		}
	}
	return time.Duration(seconds) * time.Second
}
