package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/fsdevblog/escrow-gateway/internal/domain"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const EnvProduction = "production"

type Config struct {
	RunAddress    string `env:"RUN_ADDRESS"`
	AppEnv        string `env:"APP_ENV"        envDefault:"development"`
	MigrationsDir string `env:"MIGRATIONS_DIR"`

	Database Database `envPrefix:"DB_"`

	RedisURL string `env:"REDIS_URL" envDefault:"localhost:6379"`

	UseRelationalGateway bool   `env:"USE_RELATIONAL_GATEWAY" envDefault:"true"`
	CommissionRateRaw    string `env:"COMMISSION_RATE"        envDefault:"0.05"`
	PlatformWalletID     string `env:"PLATFORM_WALLET_ID"     envDefault:"platform"`

	ClientVerificationBypass bool   `env:"CLIENT_VERIFICATION_BYPASS" envDefault:"false"`
	ClientBypassToken        string `env:"CLIENT_BYPASS_TOKEN"`

	JWTUserSecret   string `env:"JWT_USER_SECRET"`
	JWTClientSecret string `env:"JWT_CLIENT_SECRET"`
	PolicyFile      string `env:"POLICY_FILE"`

	BackendRetryAttempts uint          `env:"BACKEND_RETRY_ATTEMPTS" envDefault:"3"`
	BackendRetryBackoff  time.Duration `env:"BACKEND_RETRY_BACKOFF"  envDefault:"200ms"`
	PoolHealthInterval   time.Duration `env:"POOL_HEALTH_INTERVAL"   envDefault:"15s"`
}

// Database параметры реляционного бекенда. Проверяются при построении пула, а не при загрузке конфигурации,
// чтобы сервис с выключенным реляционным шлюзом мог стартовать без них.
type Database struct {
	Host            string        `env:"HOST"`
	Port            uint16        `env:"PORT"              envDefault:"5432"`
	User            string        `env:"USER"`
	Password        string        `env:"PASSWORD"`
	Name            string        `env:"NAME"`
	Schema          string        `env:"SCHEMA"            envDefault:"public"`
	PoolMax         int32         `env:"POOL_MAX"          envDefault:"10"`
	PoolMin         int32         `env:"POOL_MIN"          envDefault:"0"`
	IdleTimeout     time.Duration `env:"POOL_IDLE_TIMEOUT" envDefault:"30s"`
	Encrypt         bool          `env:"ENCRYPT"           envDefault:"false"`
	TrustServerCert bool          `env:"TRUST_SERVER_CERT" envDefault:"false"`
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// BypassEnabled обход проверки клиента. В продакшене выключен всегда, независимо от флага.
func (c *Config) BypassEnabled() bool {
	return c.ClientVerificationBypass && !c.IsProduction() && c.ClientBypassToken != ""
}

// CommissionRate ставка комиссии, приведенная к [0, 1]. Нераспознанное значение заменяется ставкой по умолчанию.
func (c *Config) CommissionRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.CommissionRateRaw)
	if err != nil {
		return domain.DefaultCommissionRate,
			fmt.Errorf("parse commission rate `%s`: %s", c.CommissionRateRaw, err.Error())
	}
	return domain.ClampRate(rate), nil
}

// LogFields безопасное представление конфигурации для логов, без секретов.
func (c *Config) LogFields() map[string]any {
	return map[string]any{
		"runAddress":           c.RunAddress,
		"appEnv":               c.AppEnv,
		"dbHost":               c.Database.Host,
		"dbName":               c.Database.Name,
		"dbPoolMax":            c.Database.PoolMax,
		"useRelationalGateway": c.UseRelationalGateway,
		"commissionRate":       c.CommissionRateRaw,
		"bypassEnabled":        c.BypassEnabled(),
		"redisURL":             redactURL(c.RedisURL),
	}
}

func LoadConfig() (*Config, error) {
	// .env опционален, переменные окружения процесса имеют приоритет.
	_ = godotenv.Load()

	var flagsConfig, envConfig Config

	if envParseErr := env.Parse(&envConfig); envParseErr != nil {
		return nil, fmt.Errorf("parse env config: %s", envParseErr.Error())
	}

	loadFlags(&flagsConfig)

	conf := mergeConfig(&envConfig, &flagsConfig)
	if conf.JWTUserSecret == "" {
		return nil, errors.New("jwt user secret is not set")
	}
	if conf.JWTClientSecret == "" {
		return nil, errors.New("jwt client secret is not set")
	}
	return conf, nil
}

func MustLoadConfig() *Config {
	config, err := LoadConfig()
	if err != nil {
		panic(err)
	}
	return config
}

func loadFlags(flagConfig *Config) {
	flag.StringVar(&flagConfig.RunAddress, "a", "localhost:8080", "Run address in format host:port")
	flag.StringVar(&flagConfig.MigrationsDir, "m", "migrations", "Database migrations directory")
	flag.StringVar(&flagConfig.PolicyFile, "p", "", "Policy rules file (yaml)")

	flag.Parse()
}

func mergeConfig(envConfig, flagsConfig *Config) *Config {
	conf := *envConfig
	conf.RunAddress = defaultIfBlank(envConfig.RunAddress, flagsConfig.RunAddress)
	conf.MigrationsDir = defaultIfBlank(envConfig.MigrationsDir, flagsConfig.MigrationsDir)
	conf.PolicyFile = defaultIfBlank(envConfig.PolicyFile, flagsConfig.PolicyFile)
	return &conf
}

func defaultIfBlank(value string, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
