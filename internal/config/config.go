package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Store selects and configures the task persistence backend.
type Store struct {
	Backend       string `toml:"backend"`
	MongoURI      string `toml:"mongo_uri"`
	MongoDatabase string `toml:"mongo_database"`
}

// Queue contains the Redis stream settings shared by coordinator and workers.
type Queue struct {
	RedisAddr     string `toml:"redis_addr"`
	RedisUsername string `toml:"redis_username"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	Stream        string `toml:"stream"`
	Group         string `toml:"group"`
	Consumer      string `toml:"consumer"`
	BlockTimeout  int    `toml:"block_timeout"`
	MaxLen        int64  `toml:"max_len"`
}

// Tools contains executable locations for the external processing tools.
type Tools struct {
	DNGConverter   string `toml:"dng_converter"`
	ImageMagick    string `toml:"imagemagick"`
	RealityCapture string `toml:"reality_capture"`
	ToolTimeout    int    `toml:"tool_timeout"`
}

// Templates points at the assets copied into every task cache.
type Templates struct {
	RCSettingDir string `toml:"rc_setting_dir"`
	BlackImage   string `toml:"black_image"`
}

// Coordinator contains the control loop timing and recovery settings.
type Coordinator struct {
	PollInterval       int `toml:"poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	StaleTimeout       int `toml:"stale_timeout"`
	MaxAttempts        int `toml:"max_attempts"`
}

// Worker contains job execution settings.
type Worker struct {
	Concurrency           int `toml:"concurrency"`
	HeartbeatInterval     int `toml:"heartbeat_interval"`
	JobTimeout            int `toml:"job_timeout"`
	ReferencePollInterval int `toml:"reference_poll_interval"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for photopipe.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Store: task persistence backend (sqlite or mongo)
//   - Queue: Redis stream transport for jobs
//   - Tools: DNG converter, ImageMagick, and RealityCapture executables
//   - Templates: RC settings directory and neutral reference image
//   - Coordinator: poll cadence and failed-job recovery
//   - Worker: concurrency, heartbeats, and timeouts
//   - Logging: log format, level, and retention
type Config struct {
	Paths       Paths       `toml:"paths"`
	Store       Store       `toml:"store"`
	Queue       Queue       `toml:"queue"`
	Tools       Tools       `toml:"tools"`
	Templates   Templates   `toml:"templates"`
	Coordinator Coordinator `toml:"coordinator"`
	Worker      Worker      `toml:"worker"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("photopipe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon and worker operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath is the SQLite task store location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "tasks.db")
}

// SocketPath is the daemon IPC socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.DataDir, "photopipe.sock")
}

// LockPath is the single-coordinator lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "photopipe.lock")
}

// PIDPath is where the daemon records its process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "photopipe.pid")
}

// PollInterval returns the coordinator poll cadence.
func (c *Config) PollInterval() time.Duration {
	return seconds(c.Coordinator.PollInterval)
}

// ErrorRetryInterval returns the wait applied after a failed listing.
func (c *Config) ErrorRetryInterval() time.Duration {
	return seconds(c.Coordinator.ErrorRetryInterval)
}

// StaleTimeout returns how long an in-progress step may go without a
// heartbeat before it is requeued. Zero disables requeueing.
func (c *Config) StaleTimeout() time.Duration {
	return seconds(c.Coordinator.StaleTimeout)
}

// HeartbeatInterval returns the worker heartbeat cadence.
func (c *Config) HeartbeatInterval() time.Duration {
	return seconds(c.Worker.HeartbeatInterval)
}

// JobTimeout returns the per-job execution limit. Zero means unlimited.
func (c *Config) JobTimeout() time.Duration {
	return seconds(c.Worker.JobTimeout)
}

// ReferencePollInterval returns how often initialization re-checks for the
// user supplied color checker capture.
func (c *Config) ReferencePollInterval() time.Duration {
	return seconds(c.Worker.ReferencePollInterval)
}

// ToolTimeout returns the per-invocation limit for external tools.
func (c *Config) ToolTimeout() time.Duration {
	return seconds(c.Tools.ToolTimeout)
}

// BlockTimeout returns how long a worker blocks waiting for new jobs.
func (c *Config) BlockTimeout() time.Duration {
	return seconds(c.Queue.BlockTimeout)
}

func seconds(v int) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
