// Package config loads engine configuration from a file and the
// environment. Precedence: env vars (EXAMGUARD_*) over config file over
// defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/examguard/examguard/internal/integrity"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Grading    GradingConfig    `mapstructure:"grading"`
	Plagiarism PlagiarismConfig `mapstructure:"plagiarism"`
	Integrity  integrity.Weights `mapstructure:"integrity"`
}

type ServerConfig struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite|postgres
	DSN    string `mapstructure:"dsn"`
}

// User is a statically provisioned account. PasswordHash is bcrypt.
type User struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"` // student|educator|admin
}

type AuthConfig struct {
	Secret string `mapstructure:"secret"`
	Users  []User `mapstructure:"users"`
}

type LoggingConfig struct {
	Directory  string `mapstructure:"directory"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

type GradingConfig struct {
	Backend        string `mapstructure:"backend"` // reference|llm
	OpenAIKey      string `mapstructure:"openai_key"`
	Model          string `mapstructure:"model"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type PlagiarismConfig struct {
	Threshold float64 `mapstructure:"threshold"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "")

	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 7)
	v.SetDefault("logging.compress", true)

	v.SetDefault("grading.backend", "reference")
	v.SetDefault("grading.model", "gpt-4o-mini")
	v.SetDefault("grading.timeout_seconds", 30)

	v.SetDefault("plagiarism.threshold", 0.85)

	w := integrity.DefaultWeights()
	v.SetDefault("integrity.tab_switch", w.TabSwitch)
	v.SetDefault("integrity.tab_switch_allowance", w.TabSwitchAllowance)
	v.SetDefault("integrity.tab_switch_cap", w.TabSwitchCap)
	v.SetDefault("integrity.copy_paste", w.CopyPaste)
	v.SetDefault("integrity.ip_change", w.IPChange)
	v.SetDefault("integrity.focus_lost", w.FocusLost)
	v.SetDefault("integrity.focus_lost_cap", w.FocusLostCap)
	v.SetDefault("integrity.right_click", w.RightClick)
	v.SetDefault("integrity.right_click_cap", w.RightClickCap)
	v.SetDefault("integrity.keyboard_shortcut", w.KeyboardShortcut)
	v.SetDefault("integrity.keyboard_shortcut_cap", w.KeyboardShortcutCap)
	v.SetDefault("integrity.custom_flag", w.CustomFlag)
	v.SetDefault("integrity.fast_completion", w.FastCompletion)
	v.SetDefault("integrity.gibberish", w.Gibberish)
	v.SetDefault("integrity.auto_flag_threshold", w.AutoFlagThreshold)
}

// Load reads config.yaml from path (or the working directory when empty).
// A missing file is fine; defaults plus environment carry a dev setup.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("EXAMGUARD") // e.g. EXAMGUARD_SERVER_ADDR
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver %q unsupported", c.Database.Driver)
	}
	switch c.Grading.Backend {
	case "reference":
	case "llm":
		if c.Grading.OpenAIKey == "" {
			return fmt.Errorf("grading.backend llm requires grading.openai_key")
		}
	default:
		return fmt.Errorf("grading.backend %q unsupported", c.Grading.Backend)
	}
	if c.Plagiarism.Threshold <= 0 || c.Plagiarism.Threshold > 1 {
		return fmt.Errorf("plagiarism.threshold %v outside (0,1]", c.Plagiarism.Threshold)
	}
	if err := c.Integrity.Validate(); err != nil {
		return fmt.Errorf("integrity: %w", err)
	}
	for _, u := range c.Auth.Users {
		switch u.Role {
		case "student", "educator", "admin":
		default:
			return fmt.Errorf("auth user %q has unknown role %q", u.Username, u.Role)
		}
	}
	return nil
}
