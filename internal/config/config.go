package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"resortwala/internal/models"
)

type Config struct {
	App            AppConfig          `yaml:"app"`
	Database       DatabaseConfig     `yaml:"database"`
	Redis          RedisConfig        `yaml:"redis"`
	Booking        BookingConfig      `yaml:"booking"`
	Payment        PaymentConfig      `yaml:"payment"`
	Notifications  NotificationConfig `yaml:"notifications"`
	Kafka          KafkaConfig        `yaml:"kafka"`
	Backup         BackupConfig       `yaml:"backup"`
	Monitoring     MonitoringConfig   `yaml:"monitoring"`
	Logging        LoggingConfig      `yaml:"logging"`
	API            APIConfig          `yaml:"api"`
	Exports        ExportConfig       `yaml:"exports"`
	Google         GoogleConfig       `yaml:"google"`
	PropertiesPath string             `yaml:"properties_path"`
}

type BookingConfig struct {
	HoldTTL        time.Duration `yaml:"hold_ttl"`
	MaxNights      int           `yaml:"max_nights"`
	MaxAdvanceDays int           `yaml:"max_advance_days"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	// Часовой пояс, в котором считается "сегодня" для проверки дат заезда
	Timezone string `yaml:"timezone"`
}

type PaymentConfig struct {
	PhonePe PhonePeConfig `yaml:"phonepe"`
}

type PhonePeConfig struct {
	MerchantID  string        `yaml:"merchant_id"`
	SaltKey     string        `yaml:"salt_key"`
	SaltIndex   string        `yaml:"salt_index"`
	BaseURL     string        `yaml:"base_url"`
	RedirectURL string        `yaml:"redirect_url"`
	CallbackURL string        `yaml:"callback_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

type NotificationConfig struct {
	Async      bool                          `yaml:"async"`
	QueueSize  int                           `yaml:"queue_size"`
	AdminEmail string                        `yaml:"admin_email"`
	SMTP       SMTPConfig                    `yaml:"smtp"`
	SMS        SMSConfig                     `yaml:"sms"`
	Telegram   TelegramConfig                `yaml:"telegram"`
	Templates  []models.NotificationTemplate `yaml:"templates"`
}

type SMTPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type SMSConfig struct {
	Enabled    bool          `yaml:"enabled"`
	URL        string        `yaml:"url"`
	Username   string        `yaml:"username"`
	APIKey     string        `yaml:"api_key"`
	SenderName string        `yaml:"sender_name"`
	TemplateID string        `yaml:"template_id"`
	PEID       string        `yaml:"peid"`
	Timeout    time.Duration `yaml:"timeout"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	// Чат администраторов для дублирования уведомлений
	AdminChatID int64 `yaml:"admin_chat_id"`
	Debug       bool  `yaml:"debug"`

	// Vendor bot: approve/reject requests and manage the calendar from Telegram
	PollUpdates       bool          `yaml:"poll_updates"`
	ManagerIDs        []int64       `yaml:"manager_ids"`
	RateLimitMessages int           `yaml:"rate_limit_messages"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`
}

type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	QueueSize    int           `yaml:"queue_size"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type GoogleConfig struct {
	GoogleCredentialsFile string `yaml:"credentials_file"`
	BookingSpreadSheetID  string `yaml:"bookings_spreadsheet_id"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Booking.MaxNights <= 0 {
		return errors.New("booking.max_nights must be positive")
	}
	if c.Booking.HoldTTL <= 0 {
		return errors.New("booking.hold_ttl must be positive")
	}
	if _, err := time.LoadLocation(c.Booking.Timezone); err != nil {
		return fmt.Errorf("booking.timezone: %w", err)
	}

	pp := c.Payment.PhonePe
	if pp.MerchantID != "" && (pp.SaltKey == "" || pp.SaltIndex == "") {
		return errors.New("payment.phonepe salt_key and salt_index are required when merchant_id is set")
	}

	if c.Notifications.Telegram.Enabled && c.Notifications.Telegram.BotToken == "" {
		return errors.New("notifications.telegram.bot_token is required when telegram is enabled")
	}
	if c.Notifications.SMS.Enabled && c.Notifications.SMS.URL == "" {
		return errors.New("notifications.sms.url is required when sms is enabled")
	}
	if c.Notifications.SMTP.Enabled && c.Notifications.SMTP.Host == "" {
		return errors.New("notifications.smtp.host is required when smtp is enabled")
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errors.New("kafka brokers and topic are required when kafka is enabled")
	}

	return ValidateTemplates(c.Notifications.Templates)
}

func ValidateTemplates(templates []models.NotificationTemplate) error {
	seen := make(map[string]bool)
	for _, tpl := range templates {
		if tpl.EventName == "" {
			return errors.New("notification template without event name")
		}
		switch tpl.Channel {
		case models.ChannelEmail, models.ChannelSMS, models.ChannelTelegram:
		default:
			return fmt.Errorf("template %s: unknown channel %q", tpl.EventName, tpl.Channel)
		}
		key := tpl.EventName + "/" + tpl.Channel
		if seen[key] {
			return fmt.Errorf("duplicate template for %s", key)
		}
		seen[key] = true
	}
	return nil
}

// ValidateProperties checks the property catalogue loaded from properties.yaml.
func ValidateProperties(properties []*models.Property) error {
	if len(properties) == 0 {
		return errors.New("no properties configured")
	}
	seen := make(map[int64]bool, len(properties))
	for _, p := range properties {
		if p.ID <= 0 {
			return fmt.Errorf("property %q: id must be positive", p.Name)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate property id %d", p.ID)
		}
		seen[p.ID] = true
		if p.Name == "" {
			return fmt.Errorf("property %d: name is required", p.ID)
		}
		if !p.PricePerNight.IsPositive() {
			return fmt.Errorf("property %d: price_per_night must be positive", p.ID)
		}
		if p.MaxGuests < 0 {
			return fmt.Errorf("property %d: max_guests must not be negative", p.ID)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	if c.PropertiesPath == "" {
		c.PropertiesPath = "configs/properties.yaml"
	}

	if c.Notifications.Telegram.RateLimitMessages == 0 {
		c.Notifications.Telegram.RateLimitMessages = 20
	}
	if c.Notifications.Telegram.RateLimitWindow == 0 {
		c.Notifications.Telegram.RateLimitWindow = time.Minute
	}

	// Booking defaults
	if c.Booking.HoldTTL == 0 {
		c.Booking.HoldTTL = models.DefaultHoldTTL
	}
	if c.Booking.MaxNights == 0 {
		c.Booking.MaxNights = models.DefaultMaxNights
	}
	if c.Booking.MaxAdvanceDays == 0 {
		c.Booking.MaxAdvanceDays = models.DefaultMaxAdvanceDays
	}
	if c.Booking.SweepInterval == 0 {
		c.Booking.SweepInterval = models.HoldSweepInterval
	}
	if c.Booking.Timezone == "" {
		c.Booking.Timezone = "UTC"
	}

	if c.Payment.PhonePe.BaseURL == "" {
		c.Payment.PhonePe.BaseURL = "https://api-preprod.phonepe.com/apis/pg-sandbox"
	}
	if c.Payment.PhonePe.Timeout == 0 {
		c.Payment.PhonePe.Timeout = 30 * time.Second
	}

	if c.Notifications.QueueSize == 0 {
		c.Notifications.QueueSize = models.NotificationQueueSize
	}
	if c.Notifications.SMTP.Port == 0 {
		c.Notifications.SMTP.Port = 587
	}
	if c.Notifications.SMS.Timeout == 0 {
		c.Notifications.SMS.Timeout = 15 * time.Second
	}

	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = 10 * time.Millisecond
	}
	if c.Kafka.QueueSize <= 0 {
		c.Kafka.QueueSize = 1024
	}

	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 30
	}
	if c.Backup.Interval == 0 {
		c.Backup.Interval = 24 * time.Hour
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
