package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xela07ax/spaceai-pacer/internal/risk"
)

// Config — корневая структура конфигурации всей платформы.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub сигналы и счетчики событий).
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит путь к RSA ключу для проверки JWT управляющего API.
// Пустой ключ — API открыт (локальный запуск).
type AuthConfig struct {
	PublicKeyPath string        `mapstructure:"public_key_path"`
	Issuer        string        `mapstructure:"issuer"`
	Leeway        time.Duration `mapstructure:"leeway"`
	PublicKey     []byte
}

// EngineConfig содержит настройки движка темпа и исполнителя действий.
type EngineConfig struct {
	BaseProfile   string        `mapstructure:"base_profile"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	IdleTTL       time.Duration `mapstructure:"idle_ttl"`

	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	AuditFlushInterval time.Duration `mapstructure:"audit_flush_interval"`

	// Исполнитель: mock или playwright
	Executor        string        `mapstructure:"executor"`
	BrowserHeadless bool          `mapstructure:"browser_headless"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
	MaxAttempts     uint          `mapstructure:"max_attempts"`

	// Глобальный потолок исходящих действий процесса
	GlobalRPS   float64 `mapstructure:"global_rps"`
	GlobalBurst int     `mapstructure:"global_burst"`

	// Настройки Circuit Breaker для коннектора браузера
	CBMaxRequests         uint32        `mapstructure:"cb_max_requests"`
	CBInterval            time.Duration `mapstructure:"cb_interval"`
	CBTimeout             time.Duration `mapstructure:"cb_timeout"`
	CBConsecutiveFailures uint32        `mapstructure:"cb_consecutive_failures"`

	// Правила разметки чувствительных действий в шлюзе
	Sensitive risk.Rules `mapstructure:"sensitive"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// Поддерживаемые исполнители действий
const (
	ExecutorMock       = "mock"
	ExecutorPlaywright = "playwright"
)

// LoadConfig читает config.yaml из . или ./configs, ENV перекрывает файл
// (ENGINE_IDLE_TTL=10m перекроет engine.idle_ttl).
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(".", "./configs")
}

// LoadConfigFrom — то же, но с явными каталогами поиска файла
func LoadConfigFrom(dirs ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, d := range dirs {
		v.AddConfigPath(d)
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Нет файла — работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// PEM-ключ может лежать прямо в ENV (Docker/K8s), иначе читаем файл
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate отсекает значения, с которыми процесс не сможет работать.
// Неизвестный base_profile сюда не входит: движок сам откатится на safe и залогирует это.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	switch c.Engine.Executor {
	case ExecutorMock, ExecutorPlaywright:
	default:
		errs = append(errs, fmt.Errorf("engine.executor must be %q or %q, got %q", ExecutorMock, ExecutorPlaywright, c.Engine.Executor))
	}
	if c.Engine.MaxAttempts == 0 {
		errs = append(errs, errors.New("engine.max_attempts must be at least 1"))
	}
	if c.Engine.AuditBufferSize <= 0 {
		errs = append(errs, errors.New("engine.audit_buffer_size must be positive"))
	}
	if c.Engine.GlobalRPS <= 0 {
		errs = append(errs, errors.New("engine.global_rps must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	// Ответ может ждать паузы движка (cooldown, bulk limit до минуты)
	v.SetDefault("server.write_timeout", 3*time.Minute)
	// Пустые значения нужны, чтобы viper увидел DATABASE_URL, REDIS_ENABLED и т.п. при Unmarshal
	v.SetDefault("server.host", "")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)

	v.SetDefault("auth.public_key_path", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.leeway", 0)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("engine.base_profile", "safe")
	v.SetDefault("engine.sweep_interval", 5*time.Minute)
	v.SetDefault("engine.idle_ttl", 30*time.Minute)
	v.SetDefault("engine.audit_buffer_size", 1000)
	v.SetDefault("engine.audit_flush_interval", 1*time.Second)
	v.SetDefault("engine.executor", ExecutorMock)
	v.SetDefault("engine.browser_headless", true)
	v.SetDefault("engine.call_timeout", 30*time.Second)
	v.SetDefault("engine.max_attempts", 5)
	v.SetDefault("engine.global_rps", 100)
	v.SetDefault("engine.global_burst", 20)
	v.SetDefault("engine.cb_max_requests", 3)
	v.SetDefault("engine.cb_interval", 5*time.Second)
	v.SetDefault("engine.cb_timeout", 30*time.Second)
	v.SetDefault("engine.cb_consecutive_failures", 5)

	rules := risk.DefaultRules()
	v.SetDefault("engine.sensitive.actions", rules.Actions)
	v.SetDefault("engine.sensitive.selectors", rules.Selectors)
}

// loadKeyResource: PEM из переменной окружения важнее файла.
// Нечитаемый файл равен отсутствию ключа, API тогда поднимается без авторизации.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return data
}
