// Package config provides configuration loading and validation for the dashboard host.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration constants.
const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 8080
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second

	DefaultMongoDBTimeout     = 10 * time.Second
	DefaultMongoDBMaxPoolSize = 100

	DefaultRedisPoolSize = 10

	DefaultStorageSlot       = "products"
	DefaultStoragePath       = "data/products.json"
	DefaultStorageCollection = "slots"

	DefaultSyncTimeout        = 3 * time.Second
	DefaultRemoteFetchTimeout = 10 * time.Second

	DefaultWSBufferSize   = 1024
	DefaultWSPingInterval = 30 * time.Second
	DefaultWSPongTimeout  = 60 * time.Second

	DefaultRateLimit       = 120
	DefaultRateLimitWindow = time.Minute
	DefaultRateLimitBurst  = 20
)

// Event bus types.
const (
	EventBusRedis    = "redis"
	EventBusInMemory = "inmemory"
)

// Storage slot types.
const (
	StorageMemory  = "memory"
	StorageFile    = "file"
	StorageRedis   = "redis"
	StorageMongoDB = "mongodb"
)

// Config holds the complete application configuration.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	MongoDB   MongoDBConfig   `yaml:"mongodb"`
	Redis     RedisConfig     `yaml:"redis"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Storage   StorageConfig   `yaml:"storage"`
	Sync      SyncConfig      `yaml:"sync"`
	Remotes   RemotesConfig   `yaml:"remotes"`
	Log       LogConfig       `yaml:"log"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	// Name is the application name used in logs and metrics.
	Name string `yaml:"name" env:"APP_NAME"`

	// DevMode reloads page templates on every render.
	DevMode bool `yaml:"dev_mode" env:"APP_DEV_MODE"`
}

// ServerConfig holds HTTP server configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type ServerConfig struct {
	Host            string        `yaml:"host" env:"SERVER_HOST"`
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
}

// Address returns the full server address (host:port).
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MongoDBConfig holds MongoDB connection configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type MongoDBConfig struct {
	URI         string        `yaml:"uri" env:"MONGODB_URI"`
	Database    string        `yaml:"database" env:"MONGODB_DATABASE"`
	Timeout     time.Duration `yaml:"timeout" env:"MONGODB_TIMEOUT"`
	MaxPoolSize uint64        `yaml:"max_pool_size" env:"MONGODB_MAX_POOL_SIZE"`
}

// RedisConfig holds Redis connection configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	PoolSize int    `yaml:"pool_size" env:"REDIS_POOL_SIZE"`
}

// EventBusConfig holds event bus configuration. With type redis the local
// bus is bridged to Redis pub/sub so remotes running elsewhere take part.
//
//nolint:golines // Struct tags require longer lines for readability
type EventBusConfig struct {
	Type               string `yaml:"type" env:"EVENTBUS_TYPE"` // redis | inmemory
	RedisChannelPrefix string `yaml:"redis_channel_prefix" env:"EVENTBUS_REDIS_CHANNEL_PREFIX"`
}

// IsRedis reports whether the bus is bridged to Redis.
func (c EventBusConfig) IsRedis() bool {
	return strings.EqualFold(c.Type, EventBusRedis)
}

// StorageConfig selects where the product collection is persisted.
//
//nolint:golines // Struct tags require longer lines for readability
type StorageConfig struct {
	Type       string `yaml:"type" env:"STORAGE_TYPE"` // memory | file | redis | mongodb
	Slot       string `yaml:"slot" env:"STORAGE_SLOT"`
	Path       string `yaml:"path" env:"STORAGE_PATH"`
	Collection string `yaml:"collection" env:"STORAGE_COLLECTION"`
}

// SyncConfig controls the initial metrics request sent to the remote module.
//
//nolint:golines // Struct tags require longer lines for readability
type SyncConfig struct {
	Enabled bool          `yaml:"enabled" env:"SYNC_ENABLED"`
	Timeout time.Duration `yaml:"timeout" env:"SYNC_TIMEOUT"`
}

// RemotesConfig lists the remote modules mounted into the dashboard.
type RemotesConfig struct {
	FetchTimeout time.Duration  `yaml:"fetch_timeout" env:"REMOTES_FETCH_TIMEOUT"`
	Modules      []RemoteModule `yaml:"modules"`
}

// RemoteModule points at the entry artifact of one remote module.
type RemoteModule struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	URL         string `yaml:"url"`
}

// Entries maps module names to their entry URLs.
func (c RemotesConfig) Entries() map[string]string {
	entries := make(map[string]string, len(c.Modules))
	for _, m := range c.Modules {
		entries[m.Name] = m.URL
	}
	return entries
}

// LogConfig holds logging configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`   // debug | info | warn | error
	Format string `yaml:"format" env:"LOG_FORMAT"` // json | text
}

// WebSocketConfig holds WebSocket server configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" env:"WS_READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" env:"WS_WRITE_BUFFER_SIZE"`
	PingInterval    time.Duration `yaml:"ping_interval" env:"WS_PING_INTERVAL"`
	PongTimeout     time.Duration `yaml:"pong_timeout" env:"WS_PONG_TIMEOUT"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"WS_ALLOWED_ORIGINS"`
}

// RateLimitConfig limits event ingestion and remount requests per client.
//
//nolint:golines // Struct tags require longer lines for readability
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" env:"RATELIMIT_ENABLED"`
	Limit   int           `yaml:"limit" env:"RATELIMIT_LIMIT"`
	Window  time.Duration `yaml:"window" env:"RATELIMIT_WINDOW"`
	Burst   int           `yaml:"burst" env:"RATELIMIT_BURST"`
}

// Configuration errors.
var (
	ErrConfigNotFound      = errors.New("configuration file not found")
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrMissingRequired     = errors.New("missing required configuration")
	ErrInvalidDuration     = errors.New("invalid duration format")
	ErrInvalidLogLevel     = errors.New("invalid log level: must be debug, info, warn, or error")
	ErrInvalidLogFormat    = errors.New("invalid log format: must be json or text")
	ErrInvalidEventBusType = errors.New("invalid event bus type: must be redis or inmemory")
	ErrInvalidStorageType  = errors.New("invalid storage type: must be memory, file, redis or mongodb")
	ErrDuplicateRemote     = errors.New("duplicate remote module")
)

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name: "dashhost",
		},
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		MongoDB: MongoDBConfig{
			URI:         "mongodb://localhost:27017",
			Database:    "dashhost",
			Timeout:     DefaultMongoDBTimeout,
			MaxPoolSize: DefaultMongoDBMaxPoolSize,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: DefaultRedisPoolSize,
		},
		EventBus: EventBusConfig{
			Type:               EventBusInMemory,
			RedisChannelPrefix: "events:",
		},
		Storage: StorageConfig{
			Type:       StorageMemory,
			Slot:       DefaultStorageSlot,
			Path:       DefaultStoragePath,
			Collection: DefaultStorageCollection,
		},
		Sync: SyncConfig{
			Enabled: true,
			Timeout: DefaultSyncTimeout,
		},
		Remotes: RemotesConfig{
			FetchTimeout: DefaultRemoteFetchTimeout,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  DefaultWSBufferSize,
			WriteBufferSize: DefaultWSBufferSize,
			PingInterval:    DefaultWSPingInterval,
			PongTimeout:     DefaultWSPongTimeout,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Limit:   DefaultRateLimit,
			Window:  DefaultRateLimitWindow,
			Burst:   DefaultRateLimitBurst,
		},
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	var errs []error

	errs = c.validateServer(errs)
	errs = c.validateEventBus(errs)
	errs = c.validateStorage(errs)
	errs = c.validateRedis(errs)
	errs = c.validateMongoDB(errs)
	errs = c.validateSync(errs)
	errs = c.validateRemotes(errs)
	errs = c.validateLog(errs)
	errs = c.validateWebSocket(errs)
	errs = c.validateRateLimit(errs)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, errors.Join(errs...))
	}

	return nil
}

// validateServer validates server configuration.
func (c *Config) validateServer(errs []error) []error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, errors.New("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, errors.New("server.write_timeout must be positive"))
	}
	return errs
}

// validateEventBus validates event bus configuration.
func (c *Config) validateEventBus(errs []error) []error {
	validEventBusTypes := map[string]bool{EventBusRedis: true, EventBusInMemory: true}
	if !validEventBusTypes[strings.ToLower(c.EventBus.Type)] {
		errs = append(errs, ErrInvalidEventBusType)
	}
	return errs
}

// validateStorage validates storage slot configuration.
func (c *Config) validateStorage(errs []error) []error {
	switch c.StorageType() {
	case StorageMemory, StorageRedis:
	case StorageFile:
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("%w: storage.path", ErrMissingRequired))
		}
	case StorageMongoDB:
		if c.Storage.Collection == "" {
			errs = append(errs, fmt.Errorf("%w: storage.collection", ErrMissingRequired))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: got %q", ErrInvalidStorageType, c.Storage.Type))
	}
	if c.StorageType() != StorageMemory && c.Storage.Slot == "" {
		errs = append(errs, fmt.Errorf("%w: storage.slot", ErrMissingRequired))
	}
	return errs
}

// validateRedis validates Redis configuration. Redis is only required when
// something is configured to use it.
func (c *Config) validateRedis(errs []error) []error {
	if c.UsesRedis() && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}
	return errs
}

// validateMongoDB validates MongoDB configuration.
func (c *Config) validateMongoDB(errs []error) []error {
	if !c.UsesMongoDB() {
		return errs
	}
	if c.MongoDB.URI == "" {
		errs = append(errs, errors.New("mongodb.uri is required"))
	}
	if c.MongoDB.Database == "" {
		errs = append(errs, errors.New("mongodb.database is required"))
	}
	return errs
}

// validateSync validates the initial sync configuration.
func (c *Config) validateSync(errs []error) []error {
	if c.Sync.Enabled && c.Sync.Timeout <= 0 {
		errs = append(errs, errors.New("sync.timeout must be positive"))
	}
	return errs
}

// validateRemotes validates the remote module list.
func (c *Config) validateRemotes(errs []error) []error {
	if c.Remotes.FetchTimeout <= 0 {
		errs = append(errs, errors.New("remotes.fetch_timeout must be positive"))
	}
	seen := make(map[string]bool, len(c.Remotes.Modules))
	for i, m := range c.Remotes.Modules {
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("%w: remotes.modules[%d].name", ErrMissingRequired, i))
			continue
		}
		if m.URL == "" {
			errs = append(errs, fmt.Errorf("%w: remotes.modules[%d].url", ErrMissingRequired, i))
		}
		if seen[m.Name] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateRemote, m.Name))
		}
		seen[m.Name] = true
	}
	return errs
}

// validateLog validates logging configuration.
func (c *Config) validateLog(errs []error) []error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, ErrInvalidLogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, ErrInvalidLogFormat)
	}
	return errs
}

// validateWebSocket validates WebSocket configuration.
func (c *Config) validateWebSocket(errs []error) []error {
	if c.WebSocket.ReadBufferSize <= 0 {
		errs = append(errs, errors.New("websocket.read_buffer_size must be positive"))
	}
	if c.WebSocket.WriteBufferSize <= 0 {
		errs = append(errs, errors.New("websocket.write_buffer_size must be positive"))
	}
	if c.WebSocket.PingInterval <= 0 {
		errs = append(errs, errors.New("websocket.ping_interval must be positive"))
	}
	if c.WebSocket.PongTimeout <= c.WebSocket.PingInterval {
		errs = append(errs, errors.New("websocket.pong_timeout must be greater than websocket.ping_interval"))
	}
	return errs
}

// validateRateLimit validates rate limiting configuration.
func (c *Config) validateRateLimit(errs []error) []error {
	if !c.RateLimit.Enabled {
		return errs
	}
	if c.RateLimit.Limit <= 0 {
		errs = append(errs, errors.New("ratelimit.limit must be positive"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("ratelimit.window must be positive"))
	}
	if c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("ratelimit.burst must not be negative"))
	}
	return errs
}

// StorageType returns the normalized storage slot type.
func (c *Config) StorageType() string {
	return strings.ToLower(c.Storage.Type)
}

// UsesRedis reports whether any component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.EventBus.IsRedis() || c.StorageType() == StorageRedis
}

// UsesMongoDB reports whether any component needs a MongoDB connection.
func (c *Config) UsesMongoDB() bool {
	return c.StorageType() == StorageMongoDB
}

// Load loads configuration from the default config file and environment variables.
func Load() (*Config, error) {
	return LoadFromPath("")
}

// LoadFromPath loads configuration from a specific file path.
// If path is empty, it tries to find the config file in standard locations.
func LoadFromPath(path string) (*Config, error) {
	loader := NewLoader()
	return loader.Load(path)
}

// Loader handles configuration loading from files and environment variables.
type Loader struct {
	configPaths []string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		configPaths: []string{
			"configs/config.yaml",
			"config.yaml",
			"/etc/dashhost/config.yaml",
		},
	}
}

// WithConfigPaths sets custom config paths to search.
func (l *Loader) WithConfigPaths(paths []string) *Loader {
	l.configPaths = paths
	return l
}

// Load loads configuration from file and environment variables.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	configPath := path
	if configPath == "" {
		if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
			configPath = envPath
		} else {
			for _, p := range l.configPaths {
				if _, err := os.Stat(p); err == nil {
					configPath = p
					break
				}
			}
		}
	}

	if configPath != "" {
		if err := l.loadFromFile(cfg, configPath); err != nil {
			// Only fatal when the path was asked for explicitly.
			if path != "" || os.Getenv("CONFIG_PATH") != "" {
				return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
			}
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile loads configuration from a YAML file.
func (l *Loader) loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if unmarshalErr := yaml.Unmarshal(data, cfg); unmarshalErr != nil {
		return fmt.Errorf("failed to parse config file: %w", unmarshalErr)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.loadEnvToStruct(reflect.ValueOf(cfg).Elem())
}

// loadEnvToStruct recursively loads environment variables into a struct.
func (l *Loader) loadEnvToStruct(v reflect.Value) error {
	t := v.Type()

	for i := range v.NumField() {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := l.loadEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := l.setFieldFromEnv(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s from env %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

// setFieldFromEnv sets a struct field value from an environment variable string.
//
//nolint:exhaustive // We only support a subset of reflect.Kind for config values
func (l *Loader) setFieldFromEnv(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeFor[time.Duration]() {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("%w: %s", ErrInvalidDuration, value)
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %s", value)
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid unsigned integer value: %s", value)
		}
		field.SetUint(u)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value: %s", value)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type())
		}
		var items []string
		for item := range strings.SplitSeq(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// IsDevelopment returns true if the configuration indicates a development environment.
func (c *Config) IsDevelopment() bool {
	return c.App.DevMode || strings.ToLower(c.Log.Level) == "debug"
}
