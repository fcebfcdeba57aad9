package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStore()
	c.normalizeQueue()
	c.normalizeTools()
	if err := c.normalizeTemplates(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if value, ok := os.LookupEnv("PHOTOPIPE_API_TOKEN"); ok {
		c.Paths.APIToken = strings.TrimSpace(value)
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeStore() {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = defaultStoreBackend
	}
	if value, ok := os.LookupEnv("PHOTOPIPE_MONGO_URI"); ok && strings.TrimSpace(value) != "" {
		c.Store.MongoURI = value
	}
	c.Store.MongoURI = strings.TrimSpace(c.Store.MongoURI)
	c.Store.MongoDatabase = strings.TrimSpace(c.Store.MongoDatabase)
	if c.Store.MongoDatabase == "" {
		c.Store.MongoDatabase = defaultMongoDatabase
	}
}

func (c *Config) normalizeQueue() {
	if value, ok := os.LookupEnv("PHOTOPIPE_REDIS_ADDR"); ok && strings.TrimSpace(value) != "" {
		c.Queue.RedisAddr = value
	}
	if value, ok := os.LookupEnv("PHOTOPIPE_REDIS_PASSWORD"); ok {
		c.Queue.RedisPassword = value
	}
	c.Queue.RedisAddr = strings.TrimSpace(c.Queue.RedisAddr)
	c.Queue.Stream = strings.TrimSpace(c.Queue.Stream)
	if c.Queue.Stream == "" {
		c.Queue.Stream = defaultStream
	}
	c.Queue.Group = strings.TrimSpace(c.Queue.Group)
	if c.Queue.Group == "" {
		c.Queue.Group = defaultGroup
	}
	// Pending entries belong to a consumer name, so it must survive restarts.
	c.Queue.Consumer = strings.TrimSpace(c.Queue.Consumer)
	if c.Queue.Consumer == "" {
		c.Queue.Consumer = defaultConsumer()
	}
}

func defaultConsumer() string {
	hostname, err := os.Hostname()
	if err != nil || strings.TrimSpace(hostname) == "" {
		return "photopipe-worker"
	}
	return hostname
}

func (c *Config) normalizeTools() {
	c.Tools.DNGConverter = strings.TrimSpace(c.Tools.DNGConverter)
	if c.Tools.DNGConverter == "" {
		c.Tools.DNGConverter = defaultDNGConverter
	}
	c.Tools.ImageMagick = strings.TrimSpace(c.Tools.ImageMagick)
	if c.Tools.ImageMagick == "" {
		c.Tools.ImageMagick = defaultImageMagick
	}
	c.Tools.RealityCapture = strings.TrimSpace(c.Tools.RealityCapture)
	if c.Tools.RealityCapture == "" {
		c.Tools.RealityCapture = defaultRealityCapture
	}
}

func (c *Config) normalizeTemplates() error {
	var err error
	if c.Templates.RCSettingDir, err = expandPath(strings.TrimSpace(c.Templates.RCSettingDir)); err != nil {
		return fmt.Errorf("templates.rc_setting_dir: %w", err)
	}
	if c.Templates.BlackImage, err = expandPath(strings.TrimSpace(c.Templates.BlackImage)); err != nil {
		return fmt.Errorf("templates.black_image: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
		c.Logging.Format = "json"
	default:
		c.Logging.Format = format
	}
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}
