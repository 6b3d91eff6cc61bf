package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	emulatorhttp "github.com/aussiebroadwan/authstate/internal/emulator/http"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Issuer string `env:"AUTH_EMULATOR_ISSUER" envDefault:"authstate-emulator"`
	APIKey string `env:"AUTH_EMULATOR_API_KEY" envDefault:"demo-api-key"`
	// AdminToken guards /emulator/v1; empty leaves it open.
	AdminToken string `env:"AUTH_EMULATOR_ADMIN_TOKEN"`
	// CustomTokenSecret is the HS256 secret custom tokens are signed with.
	CustomTokenSecret string `env:"AUTH_EMULATOR_CUSTOM_TOKEN_SECRET"`
	// ActionURL defaults to http://localhost:{PORT}/emulator/action.
	ActionURL    string `env:"AUTH_EMULATOR_ACTION_URL"`
	DatabaseFile string `env:"AUTH_EMULATOR_DATABASE_FILE" envDefault:"emulator.db"`
	// KeyFile holds the PEM signing key. Empty generates an ephemeral key.
	KeyFile string `env:"AUTH_EMULATOR_KEY_FILE"`
	KeyID   string `env:"AUTH_EMULATOR_KEY_ID" envDefault:"emulator-key-1"`
	// PepperFile is created on first start. Empty hashes without a pepper.
	PepperFile string `env:"AUTH_EMULATOR_PEPPER_FILE"`

	IDTokenTTL      time.Duration `env:"AUTH_EMULATOR_ID_TOKEN_TTL" envDefault:"1h"`
	RefreshTokenTTL time.Duration `env:"AUTH_EMULATOR_REFRESH_TOKEN_TTL" envDefault:"720h"`

	Env                  string        `env:"ENV" envDefault:"dev"`
	LogLevel             string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat            string        `env:"LOG_FORMAT" envDefault:"json"`
	Port                 int           `env:"PORT" envDefault:"9099"`
	ShutdownGracePeriod  time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`
	HousekeepingInterval time.Duration `env:"HOUSEKEEPING_INTERVAL" envDefault:"1h"`

	// Limits start from emulatorhttp.DefaultLimits; RATELIMIT_SIGNIN_REQUESTS
	// and friends override single values.
	Limits emulatorhttp.Limits `envPrefix:"RATELIMIT_"`
}

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return ParseConfig(env.Options{})
}

// ParseConfig parses the environment described by opts without touching
// .env files.
func ParseConfig(opts env.Options) (Config, error) {
	cfg := Config{Limits: emulatorhttp.DefaultLimits()}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if cfg.ActionURL == "" {
		cfg.ActionURL = fmt.Sprintf("http://localhost:%d/emulator/action", cfg.Port)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.APIKey == "" {
		return errors.New("config: AUTH_EMULATOR_API_KEY must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PORT %d out of range", c.Port)
	}
	for name, l := range map[string]int{
		"SIGNIN":   c.Limits.SignIn.RequestsPerWindow,
		"MUTATION": c.Limits.Mutation.RequestsPerWindow,
		"LOOKUP":   c.Limits.Lookup.RequestsPerWindow,
	} {
		if l <= 0 {
			return fmt.Errorf("config: RATELIMIT_%s_REQUESTS must be positive", name)
		}
	}
	if c.Limits.SignIn.Window <= 0 || c.Limits.Mutation.Window <= 0 || c.Limits.Lookup.Window <= 0 {
		return errors.New("config: rate limit windows must be positive")
	}
	return nil
}
