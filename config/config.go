package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

const (
	defaultPath               = "."
	defaultMaxRequestBodySize = "100KB"
)

type Config struct {
	Env struct {
		Env         string `json:"env" yaml:"env"`
		ServiceName string `json:"serviceName" yaml:"serviceName"`
		Debug       bool   `json:"debug" yaml:"debug"`
		Log         Log    `json:"log" yaml:"log"`
	} `json:"env" yaml:"env"`

	HTTP struct {
		Port               int    `json:"port" yaml:"port"`
		MaxRequestBodySize string `json:"maxRequestBodySize" yaml:"maxRequestBodySize"`
		Timeouts           struct {
			ReadTimeout       time.Duration `json:"readTimeout" yaml:"readTimeout"`
			ReadHeaderTimeout time.Duration `json:"readHeaderTimeout" yaml:"readHeaderTimeout"`
			WriteTimeout      time.Duration `json:"writeTimeout" yaml:"writeTimeout"`
			IdleTimeout       time.Duration `json:"idleTimeout" yaml:"idleTimeout"`
		} `json:"timeouts" yaml:"timeouts"`
	} `json:"http" yaml:"http"`

	Postgres *PostgresConfig `json:"postgres" yaml:"postgres" mapstructure:"postgres"`

	Redis *RedisConfig `json:"redis" yaml:"redis"`

	SecretKey struct {
		Access string `json:"access" yaml:"access"`
	} `json:"secretKey" yaml:"secretKey"`

	// Auth configuration for token and cache lifetimes
	Auth *AuthConfig `json:"auth" yaml:"auth"`

	// OTP configuration for phone verification throttling
	OTP *OTPConfig `json:"otp" yaml:"otp"`

	// RateLimit configuration for per-route request limits
	RateLimit *RateLimitConfig `json:"rateLimit" yaml:"rateLimit"`

	// Identity configuration for the external identity provider
	Identity *IdentityConfig `json:"identity" yaml:"identity"`

	// PubSub configuration for event publishing
	PubSub *PubSubConfig `json:"pubsub" yaml:"pubsub"`
}

// PostgresConfig defines the primary connection and optional read replicas.
type PostgresConfig struct {
	Host            string         `json:"host" yaml:"host"`
	Port            string         `json:"port" yaml:"port"`
	UserName        string         `json:"userName" yaml:"userName"`
	Password        string         `json:"password" yaml:"password"`
	DBName          string         `json:"dbName" yaml:"dbName"`
	SSLMode         string         `json:"sslMode" yaml:"sslMode"`
	MaxIdleConns    int            `json:"maxIdleConns" yaml:"maxIdleConns"`
	MaxOpenConns    int            `json:"maxOpenConns" yaml:"maxOpenConns"`
	ConnMaxLifetime time.Duration  `json:"connMaxLifetime" yaml:"connMaxLifetime"`
	Replicas        []PostgresConn `json:"replicas" yaml:"replicas"`
}

// PostgresConn is a single replica connection endpoint.
type PostgresConn struct {
	Host     string `json:"host" yaml:"host"`
	Port     string `json:"port" yaml:"port"`
	UserName string `json:"userName" yaml:"userName"`
	Password string `json:"password" yaml:"password"`
}

// RedisConfig defines the cache backend connection.
type RedisConfig struct {
	Host         string        `json:"host" yaml:"host"`
	Port         string        `json:"port" yaml:"port"`
	Password     string        `json:"password" yaml:"password"`
	DB           int           `json:"db" yaml:"db"`
	DialTimeout  time.Duration `json:"dialTimeout" yaml:"dialTimeout"`
	ReadTimeout  time.Duration `json:"readTimeout" yaml:"readTimeout"`
	WriteTimeout time.Duration `json:"writeTimeout" yaml:"writeTimeout"`
}

// AuthConfig defines token and auth-cache lifetimes.
type AuthConfig struct {
	AccessTokenTTL  time.Duration `json:"accessTokenTtl" yaml:"accessTokenTtl"`
	RefreshTokenTTL time.Duration `json:"refreshTokenTtl" yaml:"refreshTokenTtl"`
	SessionTTL      time.Duration `json:"sessionTtl" yaml:"sessionTtl"`
}

// OTPConfig defines phone verification throttling.
type OTPConfig struct {
	// MaxSends caps OTP deliveries per phone within Window.
	MaxSends int `json:"maxSends" yaml:"maxSends"`

	// Window is the rolling period the send counter covers.
	Window time.Duration `json:"window" yaml:"window"`

	// ResendCooldown is the minimum gap between two deliveries to the same phone.
	ResendCooldown time.Duration `json:"resendCooldown" yaml:"resendCooldown"`
}

// RateLimitRule defines one fixed-window limiter.
type RateLimitRule struct {
	// Max requests allowed per window per client.
	Max int `json:"max" yaml:"max"`

	// Window is the fixed counting period.
	Window time.Duration `json:"window" yaml:"window"`

	// SkipSuccessful refunds the counter slot when the request succeeds.
	SkipSuccessful bool `json:"skipSuccessful" yaml:"skipSuccessful"`

	// SkipFailed refunds the counter slot when the request fails.
	SkipFailed bool `json:"skipFailed" yaml:"skipFailed"`
}

// RateLimitConfig defines the per-route limiter rules.
type RateLimitConfig struct {
	// Auth covers the public authentication routes.
	Auth RateLimitRule `json:"auth" yaml:"auth"`

	// OTP covers OTP send and resend, on top of the per-phone cooldown.
	OTP RateLimitRule `json:"otp" yaml:"otp"`
}

// IdentityConfig defines the external identity provider connection.
type IdentityConfig struct {
	// BaseURL of the provider's auth API.
	BaseURL string `json:"baseUrl" yaml:"baseUrl"`

	// APIKey is the public (anon) API key sent with every request.
	APIKey string `json:"apiKey" yaml:"apiKey"`

	// RedirectURL is where the hosted OAuth flow sends the browser back to.
	RedirectURL string `json:"redirectUrl" yaml:"redirectUrl"`

	// Timeout bounds each provider HTTP call.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// PubSubConfig defines Pub/Sub configuration for event publishing
type PubSubConfig struct {
	// Provider type: "local" for local HTTP or "google" for Google Pub/Sub
	Provider string `json:"provider" yaml:"provider"`

	// Google Cloud project ID (for google provider)
	ProjectID string `json:"projectId" yaml:"projectId"`

	// Pub/Sub topic ID (for google provider)
	TopicID string `json:"topicId" yaml:"topicId"`

	// Local HTTP endpoint for development (for local provider)
	LocalEndpoint string `json:"localEndpoint" yaml:"localEndpoint"`
}

type Log struct {
	Pretty bool   `json:"pretty" yaml:"pretty"`
	Level  string `json:"level" yaml:"level"`
}

// Default lifetimes applied when the yaml leaves them unset.
const (
	defaultAccessTokenTTL  = 7 * 24 * time.Hour
	defaultRefreshTokenTTL = 30 * 24 * time.Hour
	defaultSessionTTL      = 7 * 24 * time.Hour
	defaultOTPMaxSends     = 5
	defaultOTPWindow       = 15 * time.Minute
	defaultOTPCooldown     = time.Minute
)

// LoadWithEnv loads .yaml files through koanf.
func LoadWithEnv[T any](currEnv string, configPath ...string) (*T, error) {
	cfg := new(T)
	koanfInstance := koanf.New(".")

	// Build list of paths to search for config file
	searchPaths := []string{defaultPath}
	if len(configPath) != 0 {
		pwd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, "os.Getwd")
		}
		for _, path := range configPath {
			abs := filepath.Join(pwd, path)
			searchPaths = append(searchPaths, abs)
		}
	}

	// Try to find and load the config file
	var configFile string
	var found bool
	for _, path := range searchPaths {
		candidate := filepath.Join(path, currEnv+".yaml")
		if _, err := os.Stat(candidate); err == nil {
			configFile = candidate
			found = true

			break
		}
	}

	if !found {
		return nil, errors.Errorf("config file %s.yaml not found in any search path", currEnv)
	}

	// Load YAML config file
	if err := koanfInstance.Load(file.Provider(configFile), yaml.Parser()); err != nil {
		return nil, errors.Wrapf(err, "read %s config failed", currEnv)
	}

	existingConfigMap := koanfInstance.Raw()

	// Load environment variables
	if err := koanfInstance.Load(env.Provider(".", env.Opt{
		TransformFunc: func(k, v string) (string, any) {
			// Convert ENV_VAR_NAME to path and align each segment with existing YAML keys.
			// Example: POSTGRES_SSLMODE -> postgres.sslMode (not postgres.sslmode)
			key := canonicalizeEnvKey(k, existingConfigMap)

			return key, v
		},
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load env variables failed")
	}

	// Unmarshal into the config struct (case-insensitive to match env vars)
	if err := koanfInstance.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
			MatchName: func(mapKey, fieldName string) bool {
				// Case-insensitive matching for env var overrides
				return strings.EqualFold(mapKey, fieldName)
			},
		},
	}); err != nil {
		return nil, errors.Wrapf(err, "unmarshal %s config failed", currEnv)
	}

	return cfg, nil
}

func New() (*Config, error) {
	cfg, err := LoadWithEnv[Config]("config", "config", "../config", "../../config")
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.HTTP.MaxRequestBodySize) == "" {
		cfg.HTTP.MaxRequestBodySize = defaultMaxRequestBodySize
	}

	applyDefaults(cfg)

	// Build replicas from environment variables (POSTGRES_REPLICAS_0_HOST, POSTGRES_REPLICAS_0_PORT, etc.)
	if cfg.Postgres != nil {
		cfg.Postgres.Replicas = append(cfg.Postgres.Replicas, buildReplicasFromEnv()...)
	}

	return cfg, nil
}

// applyDefaults fills unset lifetimes and throttles with production defaults.
func applyDefaults(cfg *Config) {
	if cfg.Auth == nil {
		cfg.Auth = &AuthConfig{}
	}
	if cfg.Auth.AccessTokenTTL <= 0 {
		cfg.Auth.AccessTokenTTL = defaultAccessTokenTTL
	}
	if cfg.Auth.RefreshTokenTTL <= 0 {
		cfg.Auth.RefreshTokenTTL = defaultRefreshTokenTTL
	}
	if cfg.Auth.SessionTTL <= 0 {
		cfg.Auth.SessionTTL = defaultSessionTTL
	}

	if cfg.OTP == nil {
		cfg.OTP = &OTPConfig{}
	}
	if cfg.OTP.MaxSends <= 0 {
		cfg.OTP.MaxSends = defaultOTPMaxSends
	}
	if cfg.OTP.Window <= 0 {
		cfg.OTP.Window = defaultOTPWindow
	}
	if cfg.OTP.ResendCooldown <= 0 {
		cfg.OTP.ResendCooldown = defaultOTPCooldown
	}

	if cfg.RateLimit == nil {
		cfg.RateLimit = &RateLimitConfig{}
	}
	if cfg.RateLimit.Auth.Max <= 0 {
		cfg.RateLimit.Auth = RateLimitRule{Max: 10, Window: 15 * time.Minute, SkipSuccessful: true}
	}
	if cfg.RateLimit.OTP.Max <= 0 {
		cfg.RateLimit.OTP = RateLimitRule{Max: 5, Window: 15 * time.Minute}
	}
}

func canonicalizeEnvKey(rawKey string, existing map[string]any) string {
	segments := strings.Split(strings.ToLower(rawKey), "_")
	canonical := make([]string, 0, len(segments))
	current := existing

	for _, segment := range segments {
		if segment == "" {
			continue
		}

		if matched, next, ok := findExistingSegment(current, segment); ok {
			canonical = append(canonical, matched)
			current = next
		} else {
			canonical = append(canonical, segment)
			current = nil
		}
	}

	return strings.Join(canonical, ".")
}

func findExistingSegment(current map[string]any, segment string) (matched string, next map[string]any, ok bool) {
	if len(current) == 0 {
		return "", nil, false
	}

	needle := normalizeToken(segment)
	for key, value := range current {
		if normalizeToken(key) != needle {
			continue
		}

		child, _ := value.(map[string]any)

		return key, child, true
	}

	return "", nil, false
}

func normalizeToken(s string) string {
	var normalized strings.Builder
	normalized.Grow(len(s))

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		normalized.WriteRune(unicode.ToLower(r))
	}

	return normalized.String()
}

// buildReplicasFromEnv builds the replicas slice from environment variables.
// Environment variable format: POSTGRES_REPLICAS_{index}_{field}
// Example: POSTGRES_REPLICAS_0_HOST, POSTGRES_REPLICAS_0_PORT, POSTGRES_REPLICAS_0_USERNAME, POSTGRES_REPLICAS_0_PASSWORD
func buildReplicasFromEnv() []PostgresConn {
	var replicas []PostgresConn

	for i := 0; ; i++ {
		prefix := "POSTGRES_REPLICAS_" + strconv.Itoa(i) + "_"

		host := os.Getenv(prefix + "HOST")
		port := os.Getenv(prefix + "PORT")
		if host == "" || port == "" {
			// No more replicas or incomplete configuration.
			break
		}

		replica := PostgresConn{
			Host:     host,
			Port:     port,
			UserName: os.Getenv(prefix + "USERNAME"),
			Password: os.Getenv(prefix + "PASSWORD"),
		}

		replicas = append(replicas, replica)
	}

	return replicas
}
