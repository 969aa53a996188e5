// Package config loads server and daemon configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ServerConfig contains everything the orchestrator server needs at startup.
type ServerConfig struct {
	// Port is the HTTP bind port.
	Port string

	// MongoURI is the persistence endpoint.
	MongoURI string

	// MongoDatabase is the logical database holding the three collections.
	MongoDatabase string

	// AnthropicAPIKey authenticates planner and synthesizer calls.
	AnthropicAPIKey string

	// DaemonSharedSecret validates daemon bearer tokens (userId:secret).
	DaemonSharedSecret string

	// QueryMaxLen is the maximum accepted query length in characters.
	QueryMaxLen int

	// TaskBudget is the overall wall-clock budget per task.
	TaskBudget time.Duration

	// PlannerTimeout bounds a single planner call.
	PlannerTimeout time.Duration

	// ToolCallTimeout bounds a single tool call inside the planner loop.
	ToolCallTimeout time.Duration

	// SynthesisTimeout bounds the synthesis call.
	SynthesisTimeout time.Duration

	// HeartbeatPeriod is the expected daemon heartbeat interval. A daemon is
	// absent after two missed windows.
	HeartbeatPeriod time.Duration

	// ConversationTTL is the freshness window for the active conversation.
	ConversationTTL time.Duration

	// MaxAgentsPerUser caps concurrent non-terminal SubAgents per user.
	MaxAgentsPerUser int

	// KillGrace is how long killAgent waits for a terminal event before
	// marking the record killed with error=timeout_on_kill.
	KillGrace time.Duration
}

// DaemonConfig contains everything the desktop daemon needs at startup.
type DaemonConfig struct {
	// ServerURL is the daemon bootstrap target (ws:// or http:// base).
	ServerURL string

	// Token is the bearer token presented on connect (userId:secret).
	Token string

	// GeminiAPIKey authenticates observer calls.
	GeminiAPIKey string

	// CLIBinary is the terminal agent command spawned per job.
	CLIBinary string

	// Capacity caps concurrently running terminal agents.
	Capacity int

	// HeartbeatPeriod is how often the daemon reports liveness.
	HeartbeatPeriod time.Duration
}

// LoadServer reads ServerConfig from the environment, applying defaults for
// everything except the required endpoints and credentials.
func LoadServer() (*ServerConfig, error) {
	cfg := &ServerConfig{
		Port:               getEnv("PORT", "8080"),
		MongoURI:           os.Getenv("MONGODB_URI"),
		MongoDatabase:      getEnv("MONGODB_DATABASE", "spectra"),
		AnthropicAPIKey:    os.Getenv("ANTHROPIC_API_KEY"),
		DaemonSharedSecret: os.Getenv("DAEMON_SHARED_SECRET"),
		QueryMaxLen:        getEnvInt("QUERY_MAX_LEN", 2000),
		TaskBudget:         getEnvMillis("TASK_BUDGET_MS", 120*time.Second),
		PlannerTimeout:     getEnvMillis("PLANNER_TIMEOUT_MS", 15*time.Second),
		ToolCallTimeout:    getEnvMillis("TOOL_CALL_TIMEOUT_MS", 5*time.Second),
		SynthesisTimeout:   getEnvMillis("SYNTHESIS_TIMEOUT_MS", 20*time.Second),
		HeartbeatPeriod:    getEnvMillis("HEARTBEAT_MS", 30*time.Second),
		ConversationTTL:    getEnvMillis("CONVERSATION_TTL_MS", 4*time.Hour),
		MaxAgentsPerUser:   getEnvInt("MAX_AGENTS_PER_USER", 3),
		KillGrace:          getEnvMillis("KILL_GRACE_MS", 15*time.Second),
	}

	if cfg.MongoURI == "" {
		return nil, fmt.Errorf("MONGODB_URI is required")
	}
	if cfg.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if cfg.QueryMaxLen <= 0 {
		return nil, fmt.Errorf("QUERY_MAX_LEN must be positive, got %d", cfg.QueryMaxLen)
	}
	if cfg.MaxAgentsPerUser <= 0 {
		return nil, fmt.Errorf("MAX_AGENTS_PER_USER must be positive, got %d", cfg.MaxAgentsPerUser)
	}
	return cfg, nil
}

// LoadDaemon reads DaemonConfig from the environment.
func LoadDaemon() (*DaemonConfig, error) {
	cfg := &DaemonConfig{
		ServerURL:       getEnv("DAEMON_SERVER_URL", "ws://localhost:8080"),
		Token:           os.Getenv("DAEMON_TOKEN"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		CLIBinary:       getEnv("AGENT_CLI_BINARY", "claude"),
		Capacity:        getEnvInt("AGENT_CAPACITY", 3),
		HeartbeatPeriod: getEnvMillis("HEARTBEAT_MS", 30*time.Second),
	}

	if cfg.Token == "" {
		return nil, fmt.Errorf("DAEMON_TOKEN is required")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("AGENT_CAPACITY must be positive, got %d", cfg.Capacity)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
