// Package config loads workspace configuration from
// .stoneforge/config.yaml with STONEFORGE_* environment overrides.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// WorkspaceDir is the per-repo directory holding the database, config,
// sync files, and worktrees.
const WorkspaceDir = ".stoneforge"

// Default file names inside the workspace directory.
const (
	DefaultConfigFile       = "config.yaml"
	DefaultDatabaseFile     = "stoneforge.db"
	DefaultElementsFile     = "elements.jsonl"
	DefaultDependenciesFile = "dependencies.jsonl"
)

// Config is the resolved workspace configuration.
type Config struct {
	// Actor identifies who local mutations are attributed to.
	Actor string `mapstructure:"actor"`

	// Database is the SQLite path; relative paths resolve against the
	// workspace directory.
	Database string `mapstructure:"database"`

	Sync      SyncConfig     `mapstructure:"sync"`
	Identity  IdentityConfig `mapstructure:"identity"`
	Session   SessionConfig  `mapstructure:"session"`
	Pools     []types.Pool   `mapstructure:"pools"`
	Playbooks PlaybookConfig `mapstructure:"playbooks"`
	Plugins   PluginConfig   `mapstructure:"plugins"`
	Log       LogConfig      `mapstructure:"log"`

	// Dir is the workspace directory the config was loaded from. Not
	// read from the file.
	Dir string `mapstructure:"-"`
}

// SyncConfig controls JSONL export/import.
type SyncConfig struct {
	AutoExport       bool   `mapstructure:"auto_export"`
	ElementsFile     string `mapstructure:"elements_file"`
	DependenciesFile string `mapstructure:"dependencies_file"`
}

// IdentityConfig selects how the acting identity is derived.
type IdentityConfig struct {
	// Mode is "config" (use Actor as-is) or "env" (STONEFORGE_ACTOR).
	Mode string `mapstructure:"mode"`
}

// SessionConfig sets session manager defaults.
type SessionConfig struct {
	Executable    string   `mapstructure:"executable"`
	FallbackChain []string `mapstructure:"fallback_chain"`
	TranscriptDir string   `mapstructure:"transcript_dir"`
}

// PlaybookConfig points at playbook definition files.
type PlaybookConfig struct {
	Paths []string `mapstructure:"paths"`
}

// PluginConfig lists plugin packages to load.
type PluginConfig struct {
	Packages []string `mapstructure:"packages"`
}

// LogConfig controls structured log output.
type LogConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	MaxSize int    `mapstructure:"max_size_mb"`
	Backups int    `mapstructure:"backups"`
}

// Default returns the built-in configuration for a workspace directory.
func Default(dir string) *Config {
	return &Config{
		Actor:    "stoneforge",
		Database: DefaultDatabaseFile,
		Sync: SyncConfig{
			AutoExport:       true,
			ElementsFile:     DefaultElementsFile,
			DependenciesFile: DefaultDependenciesFile,
		},
		Identity: IdentityConfig{Mode: "config"},
		Session: SessionConfig{
			Executable:    "claude",
			FallbackChain: []string{"claude"},
		},
		Log: LogConfig{Level: "info", MaxSize: 10, Backups: 3},
		Dir: dir,
	}
}

// Load reads config.yaml from the workspace directory, layering
// defaults, file values, and STONEFORGE_* environment variables (in
// ascending precedence). A missing file yields the defaults.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(filepath.Join(dir, DefaultConfigFile))
	v.SetConfigType("yaml")
	v.SetEnvPrefix("STONEFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := Default(dir)
	v.SetDefault("actor", defaults.Actor)
	v.SetDefault("database", defaults.Database)
	v.SetDefault("sync.auto_export", defaults.Sync.AutoExport)
	v.SetDefault("sync.elements_file", defaults.Sync.ElementsFile)
	v.SetDefault("sync.dependencies_file", defaults.Sync.DependenciesFile)
	v.SetDefault("identity.mode", defaults.Identity.Mode)
	v.SetDefault("session.executable", defaults.Session.Executable)
	v.SetDefault("session.fallback_chain", defaults.Session.FallbackChain)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.max_size_mb", defaults.Log.MaxSize)
	v.SetDefault("log.backups", defaults.Log.Backups)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(underlying(err)) {
			return nil, types.WrapError(types.KindValidation, types.CodeInvalidInput, "read config", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, types.WrapError(types.KindValidation, types.CodeInvalidInput, "parse config", err)
	}
	cfg.Dir = dir

	if cfg.Identity.Mode == "env" {
		if actor := os.Getenv("STONEFORGE_ACTOR"); actor != "" {
			cfg.Actor = actor
		}
	}
	for i := range cfg.Pools {
		if err := cfg.Pools[i].Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func underlying(err error) error {
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return err
		}
		next := u.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}

// DatabasePath resolves the database location against the workspace
// directory.
func (c *Config) DatabasePath() string {
	if filepath.IsAbs(c.Database) {
		return c.Database
	}
	return filepath.Join(c.Dir, c.Database)
}

// SyncDir is where JSONL sync files live.
func (c *Config) SyncDir() string {
	return filepath.Join(c.Dir, "sync")
}
