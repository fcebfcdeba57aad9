package config

import (
	"errors"
	"fmt"
	"sort"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateTiming(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case BackendSQLite:
		return nil
	case BackendMongo:
		if c.Store.MongoURI == "" {
			return errors.New("store.mongo_uri must be set when store.backend is mongo")
		}
		return nil
	default:
		return fmt.Errorf("store.backend: unsupported value %q (want sqlite or mongo)", c.Store.Backend)
	}
}

func (c *Config) validateQueue() error {
	if c.Queue.RedisAddr == "" {
		return errors.New("queue.redis_addr must be set")
	}
	if c.Queue.RedisDB < 0 {
		return errors.New("queue.redis_db must not be negative")
	}
	if c.Queue.MaxLen < 0 {
		return errors.New("queue.max_len must not be negative")
	}
	return nil
}

func (c *Config) validateTiming() error {
	if err := ensurePositiveMap(map[string]int{
		"coordinator.poll_interval":        c.Coordinator.PollInterval,
		"coordinator.error_retry_interval": c.Coordinator.ErrorRetryInterval,
		"worker.concurrency":               c.Worker.Concurrency,
		"worker.heartbeat_interval":        c.Worker.HeartbeatInterval,
		"worker.reference_poll_interval":   c.Worker.ReferencePollInterval,
		"queue.block_timeout":              c.Queue.BlockTimeout,
		"tools.tool_timeout":               c.Tools.ToolTimeout,
	}); err != nil {
		return err
	}
	if c.Coordinator.MaxAttempts < 0 {
		return errors.New("coordinator.max_attempts must not be negative (0 disables the limit)")
	}
	if c.Worker.JobTimeout < 0 {
		return errors.New("worker.job_timeout must not be negative (0 disables the limit)")
	}
	if c.Coordinator.StaleTimeout < 0 {
		return errors.New("coordinator.stale_timeout must not be negative (0 disables requeueing)")
	}
	if c.Coordinator.StaleTimeout > 0 && c.Coordinator.StaleTimeout <= c.Worker.HeartbeatInterval {
		return errors.New("coordinator.stale_timeout must be greater than worker.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must not be negative")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
