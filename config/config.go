package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	JWTSecret     string
	DBHost        string
	DBPort        string
	DBUser        string
	DBPass        string
	DBName        string
	DBNameTest    string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	RabbitMQURL      string
	RabbitMQHost     string
	RabbitMQPort     string
	RabbitMQUser     string
	RabbitMQPass     string
	RabbitMQVhost    string
	RabbitMQPrefetch int

	ProviderBaseURL string
	ProviderAPIKey  string
	ProviderAgent   string
	ProviderRate    float64
	ProviderBurst   int

	Aria2RPCURL    string
	Aria2RPCSecret string
	Aria2Splits    int

	StorageRoot   string
	MinFreeBytes  int64
	ArchiveEnable bool
	MinioHost     string
	MinioPort     string
	MinioUsername string
	MinioPassword string
	BucketName    string

	ResolveWorkerConcurrency int
	ResolvePollInterval      time.Duration
	ResolvePollCeiling       time.Duration
	ResolveRetryMax          int
	ResolveRetryDelays       []time.Duration

	SchedulerInterval    time.Duration
	ProgressPollInterval time.Duration
	PerTaskActiveMax     int
	GlobalActiveMax      int
	FileRetryMax         int
	StallWindow          time.Duration
	StaleClaimTimeout    time.Duration

	StreamHeartbeat   time.Duration
	StreamTokenTTL    time.Duration
	TerminalRetention time.Duration
	CancelFlagTTL     time.Duration

	MaxLabelLength int
	AllowPrivate   bool
	AllowedHosts   []string
	WorkerKey      string
	NotifyEmail    string
}

var AppConfig Config

// getEnv returns the environment value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if value == "" {
		return defaultValue
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return defaultValue
	}
}

func getEnvInt64(key string, defaultValue int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvList(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvDurationList(key string, defaultValue []time.Duration) []time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	parts := strings.Split(raw, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		parsed, err := time.ParseDuration(part)
		if err != nil {
			return defaultValue
		}
		out = append(out, parsed)
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// InitConfig loads configuration from the environment.
func InitConfig() {
	rabbitHost := getEnv("RABBITMQ_HOST", "localhost")
	rabbitPort := getEnv("RABBITMQ_PORT", "5672")
	rabbitUser := getEnv("RABBITMQ_USER", "guest")
	rabbitPass := getEnv("RABBITMQ_PASSWORD", "guest")
	rabbitVhost := getEnv("RABBITMQ_VHOST", "/")
	rabbitURL := getEnv("RABBITMQ_URL", "")
	if rabbitURL == "" {
		rabbitURL = fmt.Sprintf(
			"amqp://%s:%s@%s:%s/%s",
			url.PathEscape(rabbitUser),
			url.PathEscape(rabbitPass),
			rabbitHost,
			rabbitPort,
			url.PathEscape(rabbitVhost),
		)
	}
	retryDelays := getEnvDurationList(
		"RESOLVE_RETRY_DELAYS",
		[]time.Duration{10 * time.Second, 30 * time.Second, 2 * time.Minute, 10 * time.Minute},
	)
	AppConfig = Config{
		JWTSecret:     getEnv("JWT_SECRET", "l=ax+b"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "3306"),
		DBUser:        getEnv("DB_USER", "root"),
		DBPass:        getEnv("DB_PASS", "root"),
		DBName:        getEnv("DB_NAME", "FetchVault"),
		DBNameTest:    getEnv("DB_NAME_TEST", "FetchVault_Test"),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       0,

		RabbitMQURL:      rabbitURL,
		RabbitMQHost:     rabbitHost,
		RabbitMQPort:     rabbitPort,
		RabbitMQUser:     rabbitUser,
		RabbitMQPass:     rabbitPass,
		RabbitMQVhost:    rabbitVhost,
		RabbitMQPrefetch: getEnvInt("RABBITMQ_PREFETCH", 8),

		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", "https://api.alldebrid.com/v4.1"),
		ProviderAPIKey:  getEnv("PROVIDER_API_KEY", ""),
		ProviderAgent:   getEnv("PROVIDER_AGENT", "fetchvault"),
		ProviderRate:    getEnvFloat("PROVIDER_RATE", 10),
		ProviderBurst:   getEnvInt("PROVIDER_BURST", 10),

		Aria2RPCURL:    getEnv("ARIA2_RPC_URL", "http://localhost:6800/jsonrpc"),
		Aria2RPCSecret: getEnv("ARIA2_RPC_SECRET", ""),
		Aria2Splits:    getEnvInt("ARIA2_SPLITS", 4),

		StorageRoot:   getEnv("STORAGE_ROOT", "/var/lib/fetchvault"),
		MinFreeBytes:  getEnvInt64("MIN_FREE_BYTES", 5*1024*1024*1024),
		ArchiveEnable: getEnvBool("ARCHIVE_ENABLE", false),
		MinioHost:     getEnv("MINIO_HOST", "localhost"),
		MinioPort:     getEnv("MINIO_PORT", "9000"),
		MinioUsername: getEnv("MINIO_USERNAME", "minioadmin"),
		MinioPassword: getEnv("MINIO_PASSWORD", "minioadmin"),
		BucketName:    getEnv("BUCKET_NAME", "fetchvault"),

		ResolveWorkerConcurrency: getEnvInt("RESOLVE_WORKER_CONCURRENCY", 4),
		ResolvePollInterval:      getEnvDuration("RESOLVE_POLL_INTERVAL", 5*time.Second),
		ResolvePollCeiling:       getEnvDuration("RESOLVE_POLL_CEILING", 1200*time.Second),
		ResolveRetryMax:          getEnvInt("RESOLVE_RETRY_MAX", 4),
		ResolveRetryDelays:       retryDelays,

		SchedulerInterval:    getEnvDuration("SCHEDULER_INTERVAL", 2*time.Second),
		ProgressPollInterval: getEnvDuration("PROGRESS_POLL_INTERVAL", time.Second),
		PerTaskActiveMax:     getEnvInt("PER_TASK_ACTIVE_MAX", 3),
		GlobalActiveMax:      getEnvInt("GLOBAL_ACTIVE_MAX", 8),
		FileRetryMax:         getEnvInt("FILE_RETRY_MAX", 2),
		StallWindow:          getEnvDuration("STALL_WINDOW", 90*time.Second),
		StaleClaimTimeout:    getEnvDuration("STALE_CLAIM_TIMEOUT", 30*time.Minute),

		StreamHeartbeat:   getEnvDuration("STREAM_HEARTBEAT", 25*time.Second),
		StreamTokenTTL:    getEnvDuration("STREAM_TOKEN_TTL", time.Hour),
		TerminalRetention: getEnvDuration("TERMINAL_RETENTION", 5*time.Minute),
		CancelFlagTTL:     getEnvDuration("CANCEL_FLAG_TTL", 24*time.Hour),

		MaxLabelLength: getEnvInt("MAX_LABEL_LENGTH", 500),
		AllowPrivate:   getEnvBool("SOURCE_ALLOW_PRIVATE", false),
		AllowedHosts:   getEnvList("SOURCE_ALLOW_HOSTS", nil),
		WorkerKey:      getEnv("WORKER_KEY", ""),
		NotifyEmail:    getEnv("NOTIFY_EMAIL", ""),
	}
}
