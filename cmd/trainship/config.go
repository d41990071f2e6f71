package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/marladona/trainship/internal/core/plan"
	"github.com/marladona/trainship/internal/shell/deploy"
	"github.com/marladona/trainship/internal/shell/remote"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Hosts     HostsConfig     `mapstructure:"hosts"`
	Image     ImageConfig     `mapstructure:"image"`
	Container ContainerConfig `mapstructure:"container"`
	Local     LocalConfig     `mapstructure:"local"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	SSH       SSHConfig       `mapstructure:"ssh"`
	Docker    DockerConfig    `mapstructure:"docker"`
	History   HistoryConfig   `mapstructure:"history"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Log       LogConfig       `mapstructure:"log"`
}

// HostsConfig holds the deployment target allow-list.
type HostsConfig struct {
	Allowed []string `mapstructure:"allowed"`
}

// ImageConfig names the training image that gets committed and shipped.
type ImageConfig struct {
	Name string `mapstructure:"name"`
}

// ContainerConfig names the container started on the remote host.
type ContainerConfig struct {
	BaseName string `mapstructure:"base_name"`
}

// LocalConfig describes the local side of a deployment.
type LocalConfig struct {
	// Container is the name of the running training container whose
	// state is committed before upload.
	Container string `mapstructure:"container"`

	// ProjectPath is the project tree that gets packaged and shipped.
	ProjectPath string `mapstructure:"project_path"`

	// TmpDir is the root under which the per-run scratch workspace is
	// created.
	TmpDir string `mapstructure:"tmp_dir"`
}

// RemoteConfig describes the layout on the remote host. Relative directories
// are resolved against the remote user's home at deploy time.
type RemoteConfig struct {
	BaseDir      string `mapstructure:"base_dir"`
	CacheDir     string `mapstructure:"cache_dir"`
	ProjectMount string `mapstructure:"project_mount"`
}

// SSHConfig holds SSH connection configuration.
type SSHConfig struct {
	User           string        `mapstructure:"user"`
	Port           int           `mapstructure:"port"`
	KeyPath        string        `mapstructure:"key_path"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// DockerConfig holds local Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// HistoryConfig holds the deployment history database configuration.
type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ToolsConfig lists external tools that must resolve on PATH before a
// deployment is attempted.
type ToolsConfig struct {
	Required []string `mapstructure:"required"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("hosts.allowed", []string{"sb-RL-172", "sb-RL-173"})
	v.SetDefault("image.name", "marladona_image")
	v.SetDefault("container.base_name", "marladona-train")
	v.SetDefault("local.container", "marladona-train")
	v.SetDefault("local.project_path", "~/isaaclab_marl")
	v.SetDefault("local.tmp_dir", os.TempDir())
	v.SetDefault("remote.base_dir", "marladona_deploy")
	v.SetDefault("remote.cache_dir", "isaacsim_cache")
	v.SetDefault("remote.project_mount", "/workspace/isaaclab_marl")
	v.SetDefault("ssh.user", currentUser())
	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.key_path", "~/.ssh/id_ed25519")
	v.SetDefault("ssh.command_timeout", "10m")
	v.SetDefault("ssh.connect_timeout", "10s")
	v.SetDefault("docker.host", "")
	v.SetDefault("history.dsn", "./data/trainship.db")
	v.SetDefault("tools.required", []string{"docker", "tar"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("TRAINSHIP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed variables kept from the original shell workflow.
	v.BindEnv("local.project_path", "TRAINSHIP_LOCAL_PROJECT_PATH", "LOCAL_PROJECT_PATH")
	v.BindEnv("local.tmp_dir", "TRAINSHIP_LOCAL_TMP_DIR", "LOCAL_TMP_DIR")
	v.BindEnv("remote.base_dir", "TRAINSHIP_REMOTE_BASE_DIR", "REMOTE_BASE_DIR")
	v.BindEnv("remote.cache_dir", "TRAINSHIP_REMOTE_CACHE_DIR", "REMOTE_ISAACSIM_CACHE")

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SSH.KeyPath = expandHome(cfg.SSH.KeyPath)
	cfg.Local.ProjectPath = expandHome(cfg.Local.ProjectPath)
	return &cfg, nil
}

// Validate checks the values no command can run without.
func (c *Config) Validate() error {
	if c.Local.ProjectPath == "" {
		return fmt.Errorf("local.project_path must be set (or LOCAL_PROJECT_PATH exported)")
	}
	if c.Image.Name == "" {
		return fmt.Errorf("image.name must not be empty")
	}
	if len(c.Hosts.Allowed) == 0 {
		return fmt.Errorf("hosts.allowed must list at least one host")
	}
	return nil
}

// PlanInputs turns the configuration into the inputs plan derivation needs.
func (c *Config) PlanInputs() plan.Inputs {
	return plan.Inputs{
		AllowedHosts:  c.Hosts.Allowed,
		ImageName:     c.Image.Name,
		ContainerBase: c.Container.BaseName,
		ProjectName:   filepath.Base(c.Local.ProjectPath),
	}
}

// DeployConfig maps the configuration onto the deployer.
func (c *Config) DeployConfig() deploy.Config {
	return deploy.Config{
		LocalProjectPath: c.Local.ProjectPath,
		LocalTmpDir:      c.Local.TmpDir,
		RemoteBaseDir:    c.Remote.BaseDir,
		RemoteCacheDir:   c.Remote.CacheDir,
		SourceContainer:  c.Local.Container,
		ProjectMountPath: c.Remote.ProjectMount,
	}
}

// ExecutorConfig builds the SSH configuration for one target host.
func (c *Config) ExecutorConfig(host string) remote.Config {
	return remote.Config{
		Host:           host,
		User:           c.SSH.User,
		Port:           c.SSH.Port,
		KeyPath:        c.SSH.KeyPath,
		CommandTimeout: c.SSH.CommandTimeout,
		ConnectTimeout: c.SSH.ConnectTimeout,
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "root"
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
// CLI logs go to stderr so command output on stdout stays clean.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
