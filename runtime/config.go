package runtime

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/BDNK1/procflow/runtime/diagnostic"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	registerCustomValidators()
}

// Config configures how procedures are executed and how their failures are
// rendered.
type Config struct {
	LogLevel  string `yaml:"log_level" default:"info" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" default:"text" validate:"oneof=text json"`

	// ContextLines is the number of source lines shown around a failing
	// declaration.
	ContextLines int    `yaml:"context_lines" default:"2" validate:"gte=0,lte=20"`
	Color        string `yaml:"color" default:"auto" validate:"oneof=auto always never"`

	// SourceRoot confines the source files diagnostics may read.
	SourceRoot string `yaml:"source_root" validate:"omitempty,dir"`
}

// LoadConfig reads a YAML config file. An empty path yields the defaults.
func LoadConfig(path string) (Config, error) {
	var raw map[string]any
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("error unmarshalling config: %w", err)
		}
	}

	var cfg Config
	if err := InitializeConfig(&cfg, raw); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Logger builds the slog logger described by the config.
func (c Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Formatter builds the diagnostic formatter described by the config.
func (c Config) Formatter() *diagnostic.Formatter {
	return diagnostic.NewFormatter(
		diagnostic.WithSourceReader(diagnostic.FileReader{Root: c.SourceRoot}),
		diagnostic.WithStyler(diagnostic.StylerFor(c.Color)),
		diagnostic.WithContextLines(c.ContextLines),
	)
}

// NewExecutorFromConfig wires an Executor from cfg, logging to w.
func NewExecutorFromConfig(cfg Config, w io.Writer, opts ...ExecutorOption) *Executor {
	opts = append([]ExecutorOption{WithFormatter(cfg.Formatter())}, opts...)
	return NewExecutor(cfg.Logger(w), opts...)
}

// InitializeConfig applies struct tag defaults to config, merges rawValues
// over them using yaml field names and validates the result.
func InitializeConfig(config any, rawValues map[string]any) error {
	if err := ApplyDefaults(config); err != nil {
		slog.Error("Config: failed to apply defaults",
			"config_type", reflect.TypeOf(config).String(),
			"error", err)
		return fmt.Errorf("failed to apply defaults: %w", err)
	}

	if len(rawValues) > 0 {
		if err := decodeMap(rawValues, config, configTag); err != nil {
			slog.Error("Config: failed to apply config values",
				"config_type", reflect.TypeOf(config).String(),
				"raw_values", rawValues,
				"error", err)
			return fmt.Errorf("failed to apply config values: %w", err)
		}
	}

	configValue := reflect.ValueOf(config)
	if configValue.Kind() == reflect.Ptr {
		configValue = configValue.Elem()
	}

	if err := validateConfig(configValue.Interface()); err != nil {
		slog.Error("Config validation failed",
			"config_type", reflect.TypeOf(config).String(),
			"error", err)
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

func registerCustomValidators() {
	// url_format accepts absolute URLs only
	validate.RegisterValidation("url_format", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		u, err := url.Parse(s)
		return err == nil && u.Scheme != "" && u.Host != ""
	})
}

func ApplyDefaults(config any) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := defaults.Set(config); err != nil {
		return fmt.Errorf("failed to apply default values: %w", err)
	}

	return nil
}

// ValidateStruct checks v against its validate tags.
func ValidateStruct(v any) error {
	return validateConfig(v)
}

func validateConfig(config any) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validate.Struct(config); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			var errMessages []string
			for _, fieldErr := range validationErrors {
				errMessages = append(errMessages, fmt.Sprintf(
					"field '%s' failed validation: %s (rule: %s)",
					fieldErr.Field(),
					fieldErr.Error(),
					fieldErr.Tag(),
				))
			}
			return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errMessages, "\n  - "))
		}
		return fmt.Errorf("config validation failed: %w", err)
	}

	return nil
}

func RegisterCustomValidator(tag string, fn validator.Func) error {
	if err := validate.RegisterValidation(tag, fn); err != nil {
		return fmt.Errorf("failed to register custom validator '%s': %w", tag, err)
	}
	return nil
}
