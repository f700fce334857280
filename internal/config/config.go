// Package config предоставляет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	Telegram                `yaml:"telegram"`
	Membership              `yaml:"membership"`
	Counter                 `yaml:"counter"`
	Sweeps                  `yaml:"sweeps"`
	RedisConnection         `yaml:"redis_connection"`
	RabbitMQ                `yaml:"rabbitmq"`
	HTTPServer              `yaml:"http_server"`
	OperatorToken           `yaml:"operator_token"`
}

// Telegram структура для настройки Telegram-бота и супергруппы клуба
type Telegram struct {
	Token       string        `yaml:"token" env:"TELEGRAM_TOKEN"`
	BotUsername string        `yaml:"bot_username"`
	SuperGroup  int64         `yaml:"super_group"`
	Topics      Topics        `yaml:"topics"`
	AdminIDs    []int64       `yaml:"admin_ids"`
	SendRate    float64       `yaml:"send_rate" env-default:"25"`
	SendTimeout time.Duration `yaml:"send_timeout" env-default:"10s"`
	SendRetries int           `yaml:"send_retries" env-default:"3"`
}

// Topics идентификаторы тем (message_thread_id) внутри супергруппы
type Topics struct {
	SOS       int `yaml:"sos"`
	Wins      int `yaml:"wins"`
	Announces int `yaml:"announces"`
}

// Membership параметры жизненного цикла членства в клубе
type Membership struct {
	TrialDays         int    `yaml:"trial_days" env-default:"90"`
	TrialCap          int    `yaml:"trial_cap" env-default:"100"`
	GraceDays         int    `yaml:"grace_days" env-default:"2"`
	PaymentWindowDays int    `yaml:"payment_window_days" env-default:"31"`
	PaymentMode       string `yaml:"payment_mode" env-default:"extend"` // extend | replace
	LikePolicy        string `yaml:"like_policy" env-default:"toggle"`  // toggle | single
	MaxPostLength     int    `yaml:"max_post_length" env-default:"500"`
	PayURLTemplate    string `yaml:"pay_url_template"`
	WebhookSecret     string `yaml:"webhook_secret" env:"WEBHOOK_SECRET"`
}

// Counter константы для статистики трезвости
type Counter struct {
	AvgHoursDay   int `yaml:"avg_hours_day" env-default:"5"`
	AvgCostDay    int `yaml:"avg_cost_day" env-default:"5"`
	AvgNeuronsDay int `yaml:"avg_neurons_day" env-default:"10000"`
}

// Sweeps расписание ежедневных обходов и их данные
type Sweeps struct {
	MilestoneAt string   `yaml:"milestone_at" env-default:"00:30"`
	ReminderAt  string   `yaml:"reminder_at" env-default:"09:00"`
	ExpiryAt    string   `yaml:"expiry_at" env-default:"01:05"`
	Milestones  []int    `yaml:"milestones"`
	Quotes      []string `yaml:"quotes"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// RabbitMQ структура для настройки подключения к брокеру уведомлений
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"rabbitmq_url"`
	RabbitMQMaxRetries int           `yaml:"rabbitmq_max_retries" env-default:"10"`
	RabbitMQRetryDelay time.Duration `yaml:"rabbitmq_retry_delay" env-default:"3s"`
}

// HTTPServer структура для настройки сервера (webhook + операторские ручки)
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// OperatorToken структура для работы с jwt-токеном оператора
type OperatorToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"OPERATOR_JWT_SECRET"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"24h"`
}

// MustLoad функция для загрузки конфига, путь берется из CONFIG_PATH
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	if len(cfg.Sweeps.Milestones) == 0 {
		cfg.Sweeps.Milestones = []int{7, 30, 60, 90, 100, 180, 365}
	}
	return &cfg
}
