package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config конфигурация приложения
type Config struct {
	Telegram    TelegramConfig `yaml:"telegram"`
	Bot         BotConfig      `yaml:"bot"`
	Photos      PhotosConfig   `yaml:"photos"`
	DatabaseURL string         `yaml:"-"` // Loaded from environment
}

// TelegramConfig настройки Telegram бота
type TelegramConfig struct {
	Token           string `yaml:"token"`
	SuperAdminID    int64  `yaml:"super_admin_id"`
	ChannelID       int64  `yaml:"channel_id"`
	ChannelUsername string `yaml:"channel_username"` // без @, для ссылки на подписку
	NotifyChatID    int64  `yaml:"notify_chat_id"`   // канал для брони и отзывов
}

// BotConfig поведение бота
type BotConfig struct {
	BroadcastCooldownMinutes int `yaml:"broadcast_cooldown_minutes"`
	MessageDelayMs           int `yaml:"message_delay_ms"`
	PromoSweepIntervalHours  int `yaml:"promo_sweep_interval_hours"`
	PromoDefaultDays         int `yaml:"promo_default_days"`
	MaxCodeLength            int `yaml:"max_code_length"`
	SubscriptionCacheTTLSec  int `yaml:"subscription_cache_ttl_sec"`
}

// PhotosConfig пути к картинкам меню и кэшу file_id
type PhotosConfig struct {
	Dir       string `yaml:"dir"`
	CacheFile string `yaml:"cache_file"`
}

// Load загружает конфигурацию из файла и окружения
func Load(path string) (*Config, error) {
	// Load .env file if it exists (ignore error if file doesn't exist)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Переменные окружения имеют приоритет над файлом
	if v := os.Getenv("BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("ADMIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: bad ADMIN_ID %q: %w", v, err)
		}
		cfg.Telegram.SuperAdminID = id
	}
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	cfg.applyDefaults()

	if cfg.Telegram.Token == "" {
		return nil, fmt.Errorf("config: telegram token is not set")
	}
	if cfg.Telegram.SuperAdminID == 0 {
		return nil, fmt.Errorf("config: super_admin_id is not set")
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Bot.BroadcastCooldownMinutes == 0 {
		c.Bot.BroadcastCooldownMinutes = 5
	}
	if c.Bot.MessageDelayMs == 0 {
		c.Bot.MessageDelayMs = 50
	}
	if c.Bot.PromoSweepIntervalHours == 0 {
		c.Bot.PromoSweepIntervalHours = 24
	}
	if c.Bot.PromoDefaultDays == 0 {
		c.Bot.PromoDefaultDays = 30
	}
	if c.Bot.MaxCodeLength == 0 {
		c.Bot.MaxCodeLength = 50
	}
	if c.Bot.SubscriptionCacheTTLSec == 0 {
		c.Bot.SubscriptionCacheTTLSec = 300
	}
	if c.Photos.Dir == "" {
		c.Photos.Dir = "photos"
	}
	if c.Photos.CacheFile == "" {
		c.Photos.CacheFile = "photo_cache.json"
	}
}

// BroadcastCooldown возвращает кулдаун рассылки как Duration
func (c *Config) BroadcastCooldown() time.Duration {
	return time.Duration(c.Bot.BroadcastCooldownMinutes) * time.Minute
}

// MessageDelay пауза между сообщениями рассылки
func (c *Config) MessageDelay() time.Duration {
	return time.Duration(c.Bot.MessageDelayMs) * time.Millisecond
}

// SubscriptionCacheTTL время жизни кэша проверки подписки
func (c *Config) SubscriptionCacheTTL() time.Duration {
	return time.Duration(c.Bot.SubscriptionCacheTTLSec) * time.Second
}
