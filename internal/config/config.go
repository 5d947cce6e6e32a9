package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Shell is the configuration of the offline shell daemon.
type Shell struct {
	Port        string
	UpstreamURL string
	MediaOrigin string
	StateFile   string

	CacheBackend string // "memory" or "redis"
	CacheVersion string
	CacheTTL     time.Duration

	NavTimeout time.Duration
	APITimeout time.Duration

	// PublicURL is how browsers and push senders reach this shell.
	PublicURL string
	APIURL    string
	// PushSecret, when set, is required to sign plaintext pushes.
	PushSecret string
	// PushIngress is how pushes reach the shell: "webpush" through its own
	// push endpoint, or "redis" through the logged-in user's channel.
	PushIngress string

	NotificationPermission string
	PortalUsername         string
	PortalPassword         string

	Redis Redis
	Log   Log

	MetricsAddr string
}

// Tab is the configuration of the headless portal tab.
type Tab struct {
	ShellURL    string
	PageURL     string
	APIURL      string
	MediaOrigin string
	StateFile   string
	APITimeout  time.Duration
	Username    string
	Password    string

	Log Log
}

// API is the configuration of the reference portal API.
type API struct {
	Port          string
	DatabaseURL   string
	SessionSecret string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string
	PushTTL         int
	AdminPassword   string

	Redis Redis
	Log   Log

	MetricsAddr string
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Log struct {
	Level  string
	Pretty bool
	Env    string
}

// loadDotEnv reads .env when present. A missing file is not an error.
func loadDotEnv() bool {
	return godotenv.Load() == nil
}

func LoadShell() (*Shell, error) {
	loadDotEnv()

	nav, err := getDuration("NAV_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	apiTimeout, err := getDuration("API_TIMEOUT", 4*time.Second)
	if err != nil {
		return nil, err
	}
	ttl, err := getDuration("CACHE_TTL", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}
	rds, err := loadRedis()
	if err != nil {
		return nil, err
	}

	port := getEnvWithDefault("PORT", "8080")
	cfg := &Shell{
		Port:         port,
		UpstreamURL:  getEnvWithDefault("UPSTREAM_URL", "http://localhost:8081"),
		MediaOrigin:  os.Getenv("MEDIA_ORIGIN"),
		StateFile:    getEnvWithDefault("STATE_FILE", "./data/state.json"),
		CacheBackend: getEnvWithDefault("CACHE_BACKEND", "memory"),
		CacheVersion: getEnvWithDefault("CACHE_VERSION", "v1"),
		CacheTTL:     ttl,
		NavTimeout:   nav,
		APITimeout:   apiTimeout,
		PublicURL:    getEnvWithDefault("SHELL_PUBLIC_URL", "http://localhost:"+port),
		APIURL:       os.Getenv("API_URL"),
		PushSecret:   os.Getenv("PUSH_SECRET"),
		PushIngress:  getEnvWithDefault("PUSH_INGRESS", "webpush"),

		NotificationPermission: getEnvWithDefault("NOTIFICATION_PERMISSION", "granted"),
		PortalUsername:         os.Getenv("PORTAL_USERNAME"),
		PortalPassword:         os.Getenv("PORTAL_PASSWORD"),

		Redis:       rds,
		Log:         loadLog(),
		MetricsAddr: getEnvWithDefault("METRICS_ADDR", ":9090"),
	}
	if cfg.MediaOrigin == "" {
		cfg.MediaOrigin = cfg.UpstreamURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = cfg.UpstreamURL
	}
	if cfg.CacheBackend != "memory" && cfg.CacheBackend != "redis" {
		return nil, fmt.Errorf("invalid CACHE_BACKEND %q", cfg.CacheBackend)
	}
	if cfg.PushIngress != "webpush" && cfg.PushIngress != "redis" {
		return nil, fmt.Errorf("invalid PUSH_INGRESS %q", cfg.PushIngress)
	}
	switch cfg.NotificationPermission {
	case "granted", "denied", "default":
	default:
		return nil, fmt.Errorf("invalid NOTIFICATION_PERMISSION %q", cfg.NotificationPermission)
	}
	return cfg, nil
}

func LoadTab() (*Tab, error) {
	loadDotEnv()

	timeout, err := getDuration("API_TIMEOUT", 4*time.Second)
	if err != nil {
		return nil, err
	}
	cfg := &Tab{
		ShellURL:    getEnvWithDefault("SHELL_URL", "http://localhost:8080"),
		PageURL:     os.Getenv("PAGE_URL"),
		APIURL:      os.Getenv("API_URL"),
		MediaOrigin: os.Getenv("MEDIA_ORIGIN"),
		StateFile:   getEnvWithDefault("STATE_FILE", "./data/tab.json"),
		APITimeout:  timeout,
		Username:    os.Getenv("PORTAL_USERNAME"),
		Password:    os.Getenv("PORTAL_PASSWORD"),
		Log:         loadLog(),
	}
	if cfg.PageURL == "" {
		cfg.PageURL = cfg.ShellURL + "/notifications"
	}
	// The shell fronts the portal API under /api with network-only routing.
	if cfg.APIURL == "" {
		cfg.APIURL = cfg.ShellURL + "/api"
	}
	if cfg.MediaOrigin == "" {
		cfg.MediaOrigin = cfg.ShellURL
	}
	return cfg, nil
}

func LoadAPI() (*API, error) {
	loadDotEnv()

	rds, err := loadRedis()
	if err != nil {
		return nil, err
	}
	ttl, err := strconv.Atoi(getEnvWithDefault("PUSH_TTL", "86400"))
	if err != nil {
		return nil, fmt.Errorf("invalid PUSH_TTL: %w", err)
	}

	cfg := &API{
		Port:            getEnvWithDefault("PORT", "8081"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		SessionSecret:   getEnvWithDefault("SESSION_SECRET", "secret-key-change-in-production"),
		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubject:    getEnvWithDefault("VAPID_SUBJECT", "mailto:admin@example.com"),
		PushTTL:         ttl,
		AdminPassword:   getEnvWithDefault("ADMIN_PASSWORD", "admin123"),
		Redis:           rds,
		Log:             loadLog(),
		MetricsAddr:     getEnvWithDefault("METRICS_ADDR", ":9091"),
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	return cfg, nil
}

func loadRedis() (Redis, error) {
	r := Redis{
		Addr:     getEnvWithDefault("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
	}
	if s := os.Getenv("REDIS_DB"); s != "" {
		db, err := strconv.Atoi(s)
		if err != nil {
			return Redis{}, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		r.DB = db
	}
	return r, nil
}

func loadLog() Log {
	pretty, _ := strconv.ParseBool(getEnvWithDefault("LOG_PRETTY", "false"))
	return Log{
		Level:  getEnvWithDefault("LOG_LEVEL", "info"),
		Pretty: pretty,
		Env:    getEnvWithDefault("APP_ENV", "dev"),
	}
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
