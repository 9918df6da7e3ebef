// Package config загружает конфигурацию движка начислений из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры,
// для локального запуска дополнительно читается .env (godotenv).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"engine"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"invest"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Europe/Moscow"`

	// --- Payout ---
	// Час отсечки (локальное время APP_TIMEZONE), раньше которого выплата за вчера не делается.
	PayoutCutoffHour int `envconfig:"PAYOUT_CUTOFF_HOUR" default:"10"`
	// Как часто cron проверяет, кому пора выплатить. Повторные запуски безопасны (курсор).
	PayoutSchedule    string `envconfig:"PAYOUT_SCHEDULE" default:"*/1 * * * *"`
	PayoutConcurrency int    `envconfig:"PAYOUT_CONCURRENCY" default:"8"`

	// --- Activation ---
	ActivationThreshold     decimal.Decimal `envconfig:"ACTIVATION_THRESHOLD" default:"20"`
	ActivationSweepSchedule string          `envconfig:"ACTIVATION_SWEEP_SCHEDULE" default:"*/15 * * * *"`

	// --- Team / ledger ---
	TeamMaxDepth   int `envconfig:"TEAM_MAX_DEPTH" default:"30"`
	LedgerPageSize int `envconfig:"LEDGER_PAGE_SIZE" default:"50"`

	// --- ROI defaults (если админ ничего не настроил) ---
	DefaultDailyROI decimal.Decimal `envconfig:"DEFAULT_DAILY_ROI" default:"0.01"`
	DefaultMaxROI   decimal.Decimal `envconfig:"DEFAULT_MAX_ROI" default:"0.30"`

	// --- Settings subscription ---
	SettingsDebounce time.Duration `envconfig:"SETTINGS_DEBOUNCE" default:"400ms"`

	// --- Store retry ---
	StoreRetryAttempts int           `envconfig:"STORE_RETRY_ATTEMPTS" default:"4"`
	StoreRetryBase     time.Duration `envconfig:"STORE_RETRY_BASE" default:"100ms"`
	StoreRetryMax      time.Duration `envconfig:"STORE_RETRY_MAX" default:"2s"`

	// --- Redis (кэш показателей дашборда, опционально) ---
	RedisURL          string        `envconfig:"REDIS_URL"`
	DashboardCacheTTL time.Duration `envconfig:"DASHBOARD_CACHE_TTL" default:"10m"`

	// --- RabbitMQ (события наружу, опционально) ---
	RabbitMQURL    string `envconfig:"RABBITMQ_URL"`
	EventsExchange string `envconfig:"EVENTS_EXCHANGE" default:"engine_events"`

	// --- Telegram (уведомления пользователям, опционально) ---
	TelegramBotToken   string  `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramRatePerSec float64 `envconfig:"TELEGRAM_RATE_PER_SEC" default:"25"`

	// --- Advisory throttle ---
	// Не больше N предупреждений одному аккаунту за окно.
	NotifyAdvisoryLimit  int           `envconfig:"NOTIFY_ADVISORY_LIMIT" default:"3"`
	NotifyAdvisoryWindow time.Duration `envconfig:"NOTIFY_ADVISORY_WINDOW" default:"1h"`

	// --- HTTP ---
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	// --- Feature Flags ---
	FeatureSchedulerEnabled bool `envconfig:"FEATURE_SCHEDULER_ENABLED" default:"true"`
	FeatureSettingsListen   bool `envconfig:"FEATURE_SETTINGS_LISTEN" default:"true"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// Location возвращает часовой пояс APP_TIMEZONE.
// Если зона не загрузилась (нет tzdata в образе): UTC+3, как раньше для Москвы.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.AppTimezone)
	if err != nil {
		return time.FixedZone("MSK", 3*60*60)
	}
	return loc
}

func (c *Config) Validate() error {
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.PayoutCutoffHour < 0 || c.PayoutCutoffHour > 23 {
		return fmt.Errorf("PAYOUT_CUTOFF_HOUR должен быть в диапазоне 0..23")
	}
	if c.PayoutConcurrency <= 0 {
		return fmt.Errorf("PAYOUT_CONCURRENCY должен быть > 0")
	}
	if c.TeamMaxDepth <= 0 {
		return fmt.Errorf("TEAM_MAX_DEPTH должен быть > 0")
	}
	if c.LedgerPageSize <= 0 {
		return fmt.Errorf("LEDGER_PAGE_SIZE должен быть > 0")
	}
	if !c.DefaultDailyROI.IsPositive() || c.DefaultMaxROI.IsNegative() {
		return fmt.Errorf("DEFAULT_DAILY_ROI должен быть > 0, DEFAULT_MAX_ROI >= 0")
	}
	if c.StoreRetryAttempts <= 0 {
		return fmt.Errorf("STORE_RETRY_ATTEMPTS должен быть > 0")
	}
	if c.TelegramRatePerSec <= 0 {
		return fmt.Errorf("TELEGRAM_RATE_PER_SEC должен быть > 0")
	}
	return nil
}

// Load читает .env (если есть) и переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	// .env нужен только для локального запуска; в docker переменные приходят снаружи
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("не удалось прочитать .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
