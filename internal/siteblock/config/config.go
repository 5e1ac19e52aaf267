package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/haukened/siteblock/internal/siteblock/common/utils"
)

// EnvPrefix prefixes every environment override. Nested keys are joined
// with underscores: SITEBLOCK_STORE_PATH sets store.path.
const EnvPrefix = "SITEBLOCK_"

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env      string         `koanf:"env" validate:"required,oneof=dev prod"`
	Log      LoggingConfig  `koanf:"log" validate:"required"`
	Store    StoreConfig    `koanf:"store" validate:"required"`
	Matcher  MatcherConfig  `koanf:"matcher" validate:"required"`
	Browser  BrowserConfig  `koanf:"browser" validate:"required"`
	Enforcer EnforcerConfig `koanf:"enforcer" validate:"required"`
	Deletion DeletionConfig `koanf:"deletion" validate:"required"`
}

type LoggingConfig struct {
	// Level controls log verbosity: "debug", "info", "warn", or "error".
	Level string `koanf:"level" validate:"required,oneof=debug info warn error"`
}

// StoreConfig locates the persisted block store shared by the daemon and the CLI.
type StoreConfig struct {
	Path string `koanf:"path" validate:"required"`
	// Timeout bounds how long opening the file waits for another process's lock.
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
	// Poll is how often writes from other processes are looked for.
	Poll time.Duration `koanf:"poll" validate:"gt=0"`
}

type MatcherConfig struct {
	Cache CacheConfig `koanf:"cache"`
	Bloom BloomConfig `koanf:"bloom"`
}

// CacheConfig sizes the decision cache. Zero disables it.
type CacheConfig struct {
	Size uint `koanf:"size"`
}

type BloomConfig struct {
	// FP is the target false-positive rate of the hostname pre-filter.
	FP float64 `koanf:"fp" validate:"gt=0,lt=1"`
}

// BrowserConfig says which Chrome to enforce in.
type BrowserConfig struct {
	Host string `koanf:"host" validate:"required"`
	Port int    `koanf:"port" validate:"required,gte=1,lt=65535"`
	// Launch starts a browser process instead of attaching to a running one.
	Launch   bool   `koanf:"launch"`
	Path     string `koanf:"path" validate:"required_if=Launch true"`
	Profile  string `koanf:"profile"`
	StartURL string `koanf:"start_url" validate:"omitempty,http_url"`
}

type EnforcerConfig struct {
	ContainInterval time.Duration `koanf:"contain_interval" validate:"gt=0"`
	CloseTimeout    time.Duration `koanf:"close_timeout" validate:"gt=0"`
}

type DeletionConfig struct {
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"gt=0,lte=10s"`
}

// DEFAULT_APP_CONFIG defines the default application configuration: a
// store under the user config directory and a browser already listening for
// DevTools on localhost:9222.
var DEFAULT_APP_CONFIG = AppConfig{
	Env: "prod",
	Log: LoggingConfig{Level: "info"},
	Store: StoreConfig{
		Path:    defaultStorePath(),
		Timeout: time.Second,
		Poll:    time.Second,
	},
	Matcher: MatcherConfig{
		Cache: CacheConfig{Size: 1000},
		Bloom: BloomConfig{FP: 0.01},
	},
	Browser: BrowserConfig{
		Host: "localhost",
		Port: 9222,
	},
	Enforcer: EnforcerConfig{
		ContainInterval: 100 * time.Millisecond,
		CloseTimeout:    2 * time.Second,
	},
	Deletion: DeletionConfig{SweepInterval: 10 * time.Second},
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "siteblock.db"
	}
	return filepath.Join(dir, "siteblock", "siteblock.db")
}

// validHTTPURL accepts absolute http and https URLs with a host.
func validHTTPURL(fl validator.FieldLevel) bool {
	return utils.IsHTTPURL(fl.Field().String())
}

// envLoader loads SITEBLOCK_ variables over the keys already in k. A variable
// maps to the known key whose dots, replaced by underscores, equal its
// lowercased name, so field names may contain underscores themselves.
var envLoader = func(k *koanf.Koanf) error {
	known := make(map[string]string)
	for _, key := range k.Keys() {
		known[strings.ReplaceAll(key, ".", "_")] = key
	}
	return k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
			if dotted, ok := known[key]; ok {
				key = dotted
			}
			return key, strings.TrimSpace(value)
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG into k with the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation registers the "http_url" tag.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("http_url", validHTTPURL)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	err := defaultLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	err = envLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig

	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	err = registerValidation(validate)
	if err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	err = validate.Struct(&cfg)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
