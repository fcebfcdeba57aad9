package config

const (
	defaultConfigPath              = "~/.config/photopipe/config.toml"
	defaultDataDir                 = "~/.local/share/photopipe"
	defaultLogDir                  = "~/.local/share/photopipe/logs"
	defaultAPIBind                 = "127.0.0.1:7587"
	defaultStoreBackend            = BackendSQLite
	defaultMongoURI                = "mongodb://localhost:27017"
	defaultMongoDatabase           = "photogrammetry_service"
	defaultRedisAddr               = "localhost:6379"
	defaultStream                  = "photopipe:jobs"
	defaultGroup                   = "photopipe-workers"
	defaultBlockTimeout            = 5
	defaultDNGConverter            = "Adobe DNG Converter"
	defaultImageMagick             = "magick"
	defaultRealityCapture          = "RealityCapture"
	defaultToolTimeout             = 3600
	defaultPollInterval            = 5
	defaultErrorRetryInterval      = 10
	defaultStaleTimeout            = 1800
	defaultMaxAttempts             = 3
	defaultWorkerConcurrency       = 2
	defaultWorkerHeartbeatInterval = 30
	defaultReferencePollInterval   = 2
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultLogRetentionDays        = 30
)

// Supported store backends.
const (
	BackendSQLite = "sqlite"
	BackendMongo  = "mongo"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Store: Store{
			Backend:       defaultStoreBackend,
			MongoURI:      defaultMongoURI,
			MongoDatabase: defaultMongoDatabase,
		},
		Queue: Queue{
			RedisAddr:    defaultRedisAddr,
			Stream:       defaultStream,
			Group:        defaultGroup,
			BlockTimeout: defaultBlockTimeout,
		},
		Tools: Tools{
			DNGConverter:   defaultDNGConverter,
			ImageMagick:    defaultImageMagick,
			RealityCapture: defaultRealityCapture,
			ToolTimeout:    defaultToolTimeout,
		},
		Coordinator: Coordinator{
			PollInterval:       defaultPollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			StaleTimeout:       defaultStaleTimeout,
			MaxAttempts:        defaultMaxAttempts,
		},
		Worker: Worker{
			Concurrency:           defaultWorkerConcurrency,
			HeartbeatInterval:     defaultWorkerHeartbeatInterval,
			ReferencePollInterval: defaultReferencePollInterval,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
