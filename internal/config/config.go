package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Имена стадий в порядке приоритета
const (
	StageVoxelData   = "voxel_data"
	StageMesh        = "mesh_generation"
	StageActiveChunk = "active_chunk_object"
)

// StageOrder порядок стадий, обязательный для списка апертур
var StageOrder = []string{StageVoxelData, StageMesh, StageActiveChunk}

// Config корневая структура конфигурации приложения.
type Config struct {
	Level     LevelConfig      `yaml:"level"`
	Apertures []ApertureConfig `yaml:"apertures"`
	Scheduler SchedulerConfig  `yaml:"scheduler"`
	Storage   StorageConfig    `yaml:"storage"`
	EventBus  EventBusConfig   `yaml:"eventbus"`
	Server    ServerConfig     `yaml:"server"`
	Telemetry TelemetryConfig  `yaml:"telemetry"`
	Logging   LoggingConfig    `yaml:"logging"`
	Auth      AuthConfig       `yaml:"auth"`
}

type LevelConfig struct {
	Name   string `yaml:"name"`
	Seed   int64  `yaml:"seed"`
	Bounds [3]int `yaml:"bounds"`
	// Generator: "perlin" или "flat"
	Generator  string `yaml:"generator"`
	FlatHeight int    `yaml:"flat_height"`
}

// ApertureConfig параметры одной стадии разрешения
type ApertureConfig struct {
	Stage        string  `yaml:"stage"`
	Radius       int     `yaml:"radius"`
	HeightRadius int     `yaml:"height_radius"` // 0: как Radius
	YWeight      float64 `yaml:"y_weight"`
	TrackExits   *bool   `yaml:"track_exits"`
}

// ExitsTracked возвращает track_exits, по умолчанию true
func (a ApertureConfig) ExitsTracked() bool {
	return a.TrackExits == nil || *a.TrackExits
}

type SchedulerConfig struct {
	Workers      int           `yaml:"workers"` // 0: без ограничения
	TickRate     time.Duration `yaml:"tick_rate"`
	IdleInterval time.Duration `yaml:"idle_interval"`
}

type StorageConfig struct {
	// Backend: badger, file, redis, mysql, sqlite, mongo, memory
	Backend string        `yaml:"backend"`
	Path    string        `yaml:"path"`
	DSN     string        `yaml:"dsn"`
	Redis   RedisConfig   `yaml:"redis"`
	Mongo   MongoConfig   `yaml:"mongo"`
	Timeout time.Duration `yaml:"timeout"`
	Cache   CacheConfig   `yaml:"cache"`
}

// CacheConfig горячий слой Redis перед основным хранилищем
type CacheConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Redis               RedisConfig   `yaml:"redis"`
	TTL                 time.Duration `yaml:"ttl"`
	WriteBehind         bool          `yaml:"write_behind"`
	WriteBehindInterval time.Duration `yaml:"write_behind_interval"`
	WriteBehindBatch    int           `yaml:"write_behind_batch"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type ServerConfig struct {
	RESTPort    int `yaml:"rest_port"`
	MetricsPort int `yaml:"metrics_port"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	FileLevel string `yaml:"file_level"`
	Dir       string `yaml:"dir"`
}

type AuthConfig struct {
	JWTSecret string           `yaml:"jwt_secret"` // base64, пустой: случайный на запуск
	TokenTTL  time.Duration    `yaml:"token_ttl"`
	Operators []OperatorConfig `yaml:"operators"`
}

// OperatorConfig учётная запись оператора API
type OperatorConfig struct {
	Name         string `yaml:"name"`
	PasswordHash string `yaml:"password_hash"` // bcrypt
	ReadOnly     bool   `yaml:"read_only"`
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "VOXEL_REST_PORT", 8088)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "VOXEL_METRICS_PORT", 2112)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Default возвращает полную конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Level: LevelConfig{
			Name:       "world",
			Seed:       1337,
			Bounds:     [3]int{64, 8, 64},
			Generator:  "perlin",
			FlatHeight: 8,
		},
		Apertures: []ApertureConfig{
			{Stage: StageVoxelData, Radius: 6, HeightRadius: 3, YWeight: 1.5},
			{Stage: StageMesh, Radius: 5, HeightRadius: 2, YWeight: 5},
			{Stage: StageActiveChunk, Radius: 4, HeightRadius: 2, YWeight: 5},
		},
		Scheduler: SchedulerConfig{
			TickRate:     50 * time.Millisecond,
			IdleInterval: 5 * time.Millisecond,
		},
		Storage: StorageConfig{
			Backend: "badger",
			Path:    "data",
			Redis:   RedisConfig{Addr: "localhost:6379"},
			Mongo:   MongoConfig{URI: "mongodb://localhost:27017", Database: "voxelstream", Collection: "chunks"},
			Timeout: 10 * time.Second,
			Cache: CacheConfig{
				Redis:               RedisConfig{Addr: "localhost:6379", DB: 1},
				TTL:                 10 * time.Minute,
				WriteBehind:         true,
				WriteBehindInterval: 5 * time.Second,
				WriteBehindBatch:    100,
			},
		},
		EventBus: EventBusConfig{Stream: "VOXEL_EVENTS", Retention: 24},
		Telemetry: TelemetryConfig{
			ServiceName: "voxel-stream",
			Endpoint:    "localhost:4318",
		},
		Logging: LoggingConfig{Level: "INFO", FileLevel: "DEBUG"},
		Auth:    AuthConfig{TokenTTL: 24 * time.Hour},
	}
}

// Validate проверяет согласованность конфигурации
func (c *Config) Validate() error {
	b := c.Level.Bounds
	if b[0] <= 0 || b[1] <= 0 || b[2] <= 0 {
		return fmt.Errorf("level.bounds должны быть положительными: %v", b)
	}
	if c.Level.Name == "" {
		return fmt.Errorf("level.name не задан")
	}
	if len(c.Apertures) != len(StageOrder) {
		return fmt.Errorf("ожидалось %d апертуры, получено %d", len(StageOrder), len(c.Apertures))
	}
	for i, a := range c.Apertures {
		if a.Stage != StageOrder[i] {
			return fmt.Errorf("apertures[%d]: ожидалась стадия %q, получено %q", i, StageOrder[i], a.Stage)
		}
		if a.Radius < 0 || a.HeightRadius < 0 {
			return fmt.Errorf("apertures[%d]: отрицательный радиус", i)
		}
		if a.YWeight < 0 {
			return fmt.Errorf("apertures[%d]: отрицательный y_weight", i)
		}
	}
	if c.Scheduler.Workers < 0 {
		return fmt.Errorf("scheduler.workers не может быть отрицательным")
	}
	return nil
}

// Load читает YAML файл поверх значений по умолчанию.
// Если path == "", пытается прочитать из ENV VOXEL_CONFIG, иначе возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("VOXEL_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
