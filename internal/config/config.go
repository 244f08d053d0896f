package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/annel0/voxel-lod/internal/lod"
	"github.com/annel0/voxel-lod/internal/vec"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig - конфигурация не прошла проверку
var ErrInvalidConfig = errors.New("config: invalid")

// Config - корневая структура конфигурации
type Config struct {
	Terrain   TerrainConfig   `yaml:"terrain"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Storage   StorageConfig   `yaml:"storage"`
	Server    ServerConfig    `yaml:"server"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type TerrainConfig struct {
	LodCount     int `yaml:"lod_count"`
	BlockSizePo2 int `yaml:"block_size_po2"`
	// LodRadii - радиусы по уровням в блоках. Если пусто, считаются из LodDistance.
	LodRadii         []int           `yaml:"lod_radii"`
	LodDistance      float64         `yaml:"lod_distance"`
	FullLoadMode     bool            `yaml:"full_load_mode"`
	Bounds           *BoundsConfig   `yaml:"bounds"`
	RequestInstances bool            `yaml:"request_instances"`
	DropDistance     float64         `yaml:"drop_distance"`
	Generator        GeneratorConfig `yaml:"generator"`
}

// BoundsConfig - границы тома в вокселях LOD 0
type BoundsConfig struct {
	Min [3]int `yaml:"min"`
	Max [3]int `yaml:"max"`
}

type GeneratorConfig struct {
	Seed       int64   `yaml:"seed"`
	Scale      float64 `yaml:"scale"`
	Height     float64 `yaml:"height"`
	BaseHeight int     `yaml:"base_height"`
}

type RuntimeConfig struct {
	Workers            int `yaml:"workers"`
	MainThreadBudgetMs int `yaml:"main_thread_budget_ms"`
	TickMs             int `yaml:"tick_ms"`
	StatsIntervalMs    int `yaml:"stats_interval_ms"`
	AutosaveSeconds    int `yaml:"autosave_seconds"`
}

type StorageConfig struct {
	Kind             string `yaml:"kind"` // none|memory|badger|redis
	Path             string `yaml:"path"`
	RedisURL         string `yaml:"redis_url"`
	Prefix           string `yaml:"prefix"`
	CompressionLevel int    `yaml:"compression_level"`
}

type ServerConfig struct {
	RESTPort    int `yaml:"rest_port"`
	MetricsPort int `yaml:"metrics_port"`
}

type EventBusConfig struct {
	URL       string `yaml:"url"` // пусто - шина в памяти
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"`
}

// Default возвращает конфигурацию демо-сервера
func Default() *Config {
	return &Config{
		Terrain: TerrainConfig{
			LodCount:     4,
			BlockSizePo2: 4,
			LodDistance:  64,
			DropDistance: 512,
			Generator:    GeneratorConfig{Seed: 1, Scale: 128, Height: 24},
		},
		Runtime: RuntimeConfig{
			MainThreadBudgetMs: 8,
			TickMs:             50,
			StatsIntervalMs:    1000,
			AutosaveSeconds:    60,
		},
		Storage: StorageConfig{Kind: "memory", Path: "data", Prefix: "voxel"},
		EventBus: EventBusConfig{
			Stream:    "VOXEL",
			Retention: 24,
		},
		Telemetry: TelemetryConfig{ServiceName: "voxel-lod"},
	}
}

// GetRESTPort возвращает порт REST API: конфиг -> VOXEL_REST_PORT -> 8088
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "VOXEL_REST_PORT", 8088)
}

// GetMetricsPort возвращает порт Prometheus: конфиг -> VOXEL_METRICS_PORT -> 2112
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "VOXEL_METRICS_PORT", 2112)
}

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

// MainThreadBudget возвращает бюджет применения результатов за тик
func (r RuntimeConfig) MainThreadBudget() time.Duration {
	return time.Duration(r.MainThreadBudgetMs) * time.Millisecond
}

// TickInterval возвращает период тика хоста
func (r RuntimeConfig) TickInterval() time.Duration {
	if r.TickMs <= 0 {
		return 50 * time.Millisecond
	}
	return time.Duration(r.TickMs) * time.Millisecond
}

// StatsInterval возвращает период опроса статистики
func (r RuntimeConfig) StatsInterval() time.Duration {
	return time.Duration(r.StatsIntervalMs) * time.Millisecond
}

// AutosaveInterval возвращает период автосохранения
func (r RuntimeConfig) AutosaveInterval() time.Duration {
	return time.Duration(r.AutosaveSeconds) * time.Second
}

// RetentionDuration возвращает срок хранения событий в JetStream
func (e EventBusConfig) RetentionDuration() time.Duration {
	return time.Duration(e.Retention) * time.Hour
}

// LodSettings собирает настройки планировщика из секции terrain
func (t TerrainConfig) LodSettings() lod.Settings {
	radii := t.LodRadii
	if len(radii) == 0 {
		radii = lod.RadiiFromDistance(t.LodDistance, t.LodCount, uint(t.BlockSizePo2))
	}
	s := lod.Settings{
		LodCount:         t.LodCount,
		BlockSizePo2:     uint(t.BlockSizePo2),
		Radii:            append([]int(nil), radii...),
		FullLoadMode:     t.FullLoadMode,
		RequestInstances: t.RequestInstances,
		DropDistance:     t.DropDistance,
	}
	if t.Bounds != nil {
		b := t.Bounds
		s.Bounds = vec.Box{
			Pos:  vec.Vec3{X: b.Min[0], Y: b.Min[1], Z: b.Min[2]},
			Size: vec.Vec3{X: b.Max[0] - b.Min[0], Y: b.Max[1] - b.Min[1], Z: b.Max[2] - b.Min[2]},
		}
	}
	return s
}

// Validate проверяет конфигурацию. Ошибки оборачивают ErrInvalidConfig.
func (c *Config) Validate() error {
	t := c.Terrain
	if t.LodCount < 1 || t.LodCount > 24 {
		return fmt.Errorf("%w: terrain.lod_count %d not in [1,24]", ErrInvalidConfig, t.LodCount)
	}
	if t.BlockSizePo2 < 3 || t.BlockSizePo2 > 6 {
		return fmt.Errorf("%w: terrain.block_size_po2 %d not in [3,6]", ErrInvalidConfig, t.BlockSizePo2)
	}
	if len(t.LodRadii) == 0 && t.LodDistance <= 0 {
		return fmt.Errorf("%w: terrain needs lod_radii or lod_distance", ErrInvalidConfig)
	}
	if t.Bounds != nil {
		for i := 0; i < 3; i++ {
			if t.Bounds.Max[i] <= t.Bounds.Min[i] {
				return fmt.Errorf("%w: terrain.bounds are empty", ErrInvalidConfig)
			}
		}
	}
	if err := t.LodSettings().Validate(); err != nil {
		return fmt.Errorf("%w: terrain: %w", ErrInvalidConfig, err)
	}

	switch c.Storage.Kind {
	case "", "none", "memory":
	case "badger":
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: storage.path is required for badger", ErrInvalidConfig)
		}
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("%w: storage.redis_url is required for redis", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage.kind %q", ErrInvalidConfig, c.Storage.Kind)
	}
	if c.Storage.CompressionLevel < 0 || c.Storage.CompressionLevel > 4 {
		return fmt.Errorf("%w: storage.compression_level %d not in [0,4]", ErrInvalidConfig, c.Storage.CompressionLevel)
	}
	if c.Runtime.Workers < 0 || c.Runtime.MainThreadBudgetMs < 0 {
		return fmt.Errorf("%w: runtime values must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Load читает YAML поверх Default и проверяет результат.
// Пустой path берётся из VOXEL_CONFIG; если и его нет, возвращается Default().
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
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
