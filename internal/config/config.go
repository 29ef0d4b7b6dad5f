package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/shpitdev/contactsync/internal/contact"
	"github.com/shpitdev/contactsync/internal/listsync"
	"github.com/shpitdev/contactsync/pkg/apollo"
)

// EnvConfigPath names the config file when --config is not given.
const EnvConfigPath = "CONTACTSYNC_CONFIG"

// Config is the merged run configuration: defaults, then the YAML file, then the
// environment, then flags.
type Config struct {
	BaseURL        string        `yaml:"base_url" validate:"required,url"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps" validate:"gte=0"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
	MaxAttempts    int           `yaml:"max_attempts" validate:"gte=1,lte=10"`

	RateLimitCooldown time.Duration `yaml:"rate_limit_cooldown" validate:"gte=0"`
	TransportCooldown time.Duration `yaml:"transport_cooldown" validate:"gte=0"`
	CallPause         time.Duration `yaml:"call_pause" validate:"gte=0"`
	BatchPause        time.Duration `yaml:"batch_pause" validate:"gte=0"`
	ProgressEvery     int           `yaml:"progress_every" validate:"gte=1"`
	DeletePause       time.Duration `yaml:"delete_pause" validate:"gte=0"`
	WaitTick          time.Duration `yaml:"wait_tick" validate:"gt=0"`
	PageSize          int           `yaml:"page_size" validate:"gte=1,lte=100"`

	KeepFields    []string            `yaml:"keep_fields" validate:"min=1,dive,required"`
	FieldSynonyms map[string][]string `yaml:"field_synonyms" validate:"dive,keys,overridable_field,endkeys,min=1,dive,required"`

	LogEnv string `yaml:"log_env" validate:"omitempty,oneof=development debug production"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	o := listsync.DefaultOptions()
	return Config{
		BaseURL:           apollo.DefaultBaseURL,
		RequestTimeout:    o.RequestTimeout,
		MaxAttempts:       o.MaxAttempts,
		RateLimitCooldown: o.RateLimitCooldown,
		TransportCooldown: o.TransportCooldown,
		CallPause:         o.CallPause,
		BatchPause:        o.BatchPause,
		ProgressEvery:     o.ProgressEvery,
		DeletePause:       o.DeletePause,
		WaitTick:          o.WaitTick,
		PageSize:          o.PageSize,
		KeepFields:        append([]string(nil), listsync.DefaultKeepFields...),
	}
}

// Load returns Defaults overlaid with the YAML file at path (skipped when path is
// empty) and then the environment. The result is not validated.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays APOLLO_BASE_URL, RATE_LIMIT_RPS, REQUEST_TIMEOUT, MAX_ATTEMPTS
// and LOG_ENV when set.
func (c *Config) ApplyEnv() error {
	if v := strings.TrimSpace(os.Getenv("APOLLO_BASE_URL")); v != "" {
		c.BaseURL = v
	}
	var err error
	if c.RateLimitRPS, err = envFloat("RATE_LIMIT_RPS", c.RateLimitRPS); err != nil {
		return err
	}
	if c.RequestTimeout, err = envDuration("REQUEST_TIMEOUT", c.RequestTimeout); err != nil {
		return err
	}
	if c.MaxAttempts, err = envInt("MAX_ATTEMPTS", c.MaxAttempts); err != nil {
		return err
	}
	if v := strings.TrimSpace(os.Getenv("LOG_ENV")); v != "" {
		c.LogEnv = v
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("overridable_field", func(fl validator.FieldLevel) bool {
		return contact.IsOverridable(fl.Field().String())
	})
	return v
}

// Validate checks c against its struct tags and reports every violation.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Synonyms returns the header table with the configured overrides applied.
func (c Config) Synonyms() contact.Synonyms {
	return contact.DefaultSynonyms().Merge(c.FieldSynonyms)
}

// SyncOptions converts c into listsync options.
func (c Config) SyncOptions() listsync.Options {
	return listsync.Options{
		MaxAttempts:       c.MaxAttempts,
		RequestTimeout:    c.RequestTimeout,
		RateLimitCooldown: c.RateLimitCooldown,
		TransportCooldown: c.TransportCooldown,
		CallPause:         c.CallPause,
		BatchPause:        c.BatchPause,
		ProgressEvery:     c.ProgressEvery,
		DeletePause:       c.DeletePause,
		WaitTick:          c.WaitTick,
		PageSize:          c.PageSize,
		Synonyms:          c.Synonyms(),
		Keep:              listsync.AnyFieldPresent(c.KeepFields...),
	}
}

func envInt(varName string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envFloat(varName string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envDuration(varName string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}
