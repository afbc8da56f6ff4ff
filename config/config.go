package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"listsync/models"
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

// ProviderConfig carries the credentials for one third-party provider.
// Secret is the shared HMAC secret used to verify that provider's webhooks.
type ProviderConfig struct {
	APIKey    string `json:"-"`
	SecretKey string `json:"-"` // Mailjet only (key/secret pair)
	ListID    string `json:"list_id"`
	Secret    string `json:"-"`
}

type Config struct {
	Environment string `json:"environment"`
	ServerPort  string `json:"server_port"`
	BaseURL     string `json:"base_url"` // public URL used in confirm/unsubscribe links

	DBHost         string `json:"db_host"`
	DBPort         string `json:"db_port"`
	DBUser         string `json:"db_user"`
	DBPassword     string `json:"-"`
	DBName         string `json:"db_name"`
	DBSSLMode      string `json:"db_ssl_mode"`
	DBMaxIdleConns int    `json:"db_max_idle_conns"`
	DBMaxOpenConns int    `json:"db_max_open_conns"`

	// Active provider: internal, mailchimp, mailerlite, mailjet, sendinblue
	Provider   string         `json:"provider"`
	Mailchimp  ProviderConfig `json:"mailchimp"`
	MailerLite ProviderConfig `json:"mailerlite"`
	Mailjet    ProviderConfig `json:"mailjet"`
	Sendinblue ProviderConfig `json:"sendinblue"`

	// Outbound provider API calls get a bounded timeout; a timed-out call
	// surfaces as a provider error, never a hung caller.
	ProviderTimeout time.Duration `json:"provider_timeout"`

	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"-"`
	FromEmail    string `json:"from_email"`
	FromName     string `json:"from_name"`

	DoubleOptIn bool `json:"double_opt_in"`

	QueueInterval time.Duration `json:"queue_interval"` // minimum gap between drains
	QueueMaxPer   int           `json:"queue_max_per_run"`
	SyncInterval  time.Duration `json:"sync_interval"`
	SyncPageSize  int           `json:"sync_page_size"`

	RateLimitSubscribe int `json:"rate_limit_subscribe"` // requests/minute on public endpoints

	Redis     RedisConfig `json:"redis"`
	SentryDSN string      `json:"-"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  getEnv("SERVER_PORT", "5000"),
		BaseURL:     getEnv("BASE_URL", "http://localhost:5000"),

		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "listsync"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		Provider: strings.ToLower(getEnv("PROVIDER", "internal")),
		Mailchimp: ProviderConfig{
			APIKey: getEnv("MAILCHIMP_API_KEY", ""),
			ListID: getEnv("MAILCHIMP_LIST_ID", ""),
			Secret: getEnv("MAILCHIMP_WEBHOOK_SECRET", ""),
		},
		MailerLite: ProviderConfig{
			APIKey: getEnv("MAILERLITE_API_KEY", ""),
			ListID: getEnv("MAILERLITE_GROUP_ID", ""),
			Secret: getEnv("MAILERLITE_WEBHOOK_SECRET", ""),
		},
		Mailjet: ProviderConfig{
			APIKey:    getEnv("MAILJET_API_KEY", ""),
			SecretKey: getEnv("MAILJET_SECRET_KEY", ""),
			ListID:    getEnv("MAILJET_LIST_ID", ""),
			Secret:    getEnv("MAILJET_WEBHOOK_SECRET", ""),
		},
		Sendinblue: ProviderConfig{
			APIKey: getEnv("SENDINBLUE_API_KEY", ""),
			ListID: getEnv("SENDINBLUE_LIST_ID", ""),
			Secret: getEnv("SENDINBLUE_WEBHOOK_SECRET", ""),
		},
		ProviderTimeout: time.Duration(getEnvAsInt("PROVIDER_TIMEOUT_SECONDS", 30)) * time.Second,

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		FromEmail:    getEnv("FROM_EMAIL", "newsletter@localhost"),
		FromName:     getEnv("FROM_NAME", "Newsletter"),

		DoubleOptIn: getEnv("DOUBLE_OPT_IN", "true") == "true",

		QueueInterval: time.Duration(getEnvAsInt("QUEUE_INTERVAL_SECONDS", 300)) * time.Second,
		QueueMaxPer:   getEnvAsInt("QUEUE_MAX_PER_RUN", 50),
		SyncInterval:  time.Duration(getEnvAsInt("SYNC_INTERVAL_MINUTES", 60)) * time.Minute,
		SyncPageSize:  getEnvAsInt("SYNC_PAGE_SIZE", 100),

		RateLimitSubscribe: getEnvAsInt("RATE_LIMIT_SUBSCRIBE", 20),

		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "false") == "true",
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		SentryDSN: getEnv("SENTRY_DSN", ""),
	}

	if cfg.DBPassword == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	if err := validateProvider(cfg); err != nil {
		return nil, err
	}

	logConfig(cfg)
	return cfg, nil
}

// validateProvider fails fast on a misconfigured provider instead of letting
// the gateway degrade silently at runtime.
func validateProvider(cfg *Config) error {
	switch cfg.Provider {
	case "internal":
		return nil
	case "mailchimp":
		if cfg.Mailchimp.APIKey == "" || cfg.Mailchimp.ListID == "" {
			return fmt.Errorf("MAILCHIMP_API_KEY and MAILCHIMP_LIST_ID are required for provider mailchimp")
		}
	case "mailerlite":
		if cfg.MailerLite.APIKey == "" {
			return fmt.Errorf("MAILERLITE_API_KEY is required for provider mailerlite")
		}
	case "mailjet":
		if cfg.Mailjet.APIKey == "" || cfg.Mailjet.SecretKey == "" {
			return fmt.Errorf("MAILJET_API_KEY and MAILJET_SECRET_KEY are required for provider mailjet")
		}
	case "sendinblue":
		if cfg.Sendinblue.APIKey == "" {
			return fmt.Errorf("SENDINBLUE_API_KEY is required for provider sendinblue")
		}
	default:
		return fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	return nil
}

func ConnectDB(cfg *Config) (*gorm.DB, error) {
	log.Println("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBSSLMode,
	)
	log.Println("Using connection string:", maskPassword(dsn))

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("Starting database migration...")
	if err := migrateDB(db); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("Database migration completed")
	return db, nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig(cfg *Config) {
	log.Println("Loaded configuration:")
	log.Printf("Environment: %s", cfg.Environment)
	log.Printf("Server Port: %s", cfg.ServerPort)
	log.Printf("Provider: %s", cfg.Provider)
	log.Printf("Database: %s@%s:%s/%s",
		cfg.DBUser,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName)
	log.Printf("Queue: every %s, max %d per run", cfg.QueueInterval, cfg.QueueMaxPer)
}

func migrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Subscriber{},
		&models.SubscriberAttribute{},
		&models.Campaign{},
		&models.CampaignProvider{},
		&models.QueueEntry{},
		&models.QueueState{},
		&models.WebhookTxn{},
	)
}
