package config

import (
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the voxelstream server
type Config struct {
	Server     ServerConfig
	Engine     EngineConfig
	Terrain    TerrainConfig
	Materials  MaterialsConfig
	Procedural ProceduralConfig
	Profiling  ProfilingConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            string        `json:"port" validate:"required,numeric"`
	ReadTimeout     time.Duration `json:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `json:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `json:"idle_timeout" validate:"gt=0"`
	Environment     string        `json:"environment" validate:"oneof=development production test"`
	AllowedOrigins  []string      `json:"allowed_origins"`
	RateLimit       int           `json:"rate_limit" validate:"min=1"`
	RateLimitWindow time.Duration `json:"rate_limit_window" validate:"gt=0"`
}

// EngineConfig holds chunk streaming configuration
type EngineConfig struct {
	ChunkSize     int `json:"chunk_size" validate:"min=1,max=256"`
	CacheCapacity int `json:"cache_capacity" validate:"min=1"`
	// DefaultMaterialCount is used when the material registry is not ready in
	// time. 0 means tasks fail and are retried instead.
	DefaultMaterialCount uint32 `json:"default_material_count"`
	// Seed of 0 means a random seed is drawn at startup.
	Seed                uint64        `json:"seed"`
	RandomSeed          bool          `json:"random_seed"`
	Workers             int           `json:"workers" validate:"min=0"`
	RegistryWaitTimeout time.Duration `json:"registry_wait_timeout" validate:"gte=0"`
	TickInterval        time.Duration `json:"tick_interval" validate:"gt=0"`
	RequestRadius       int           `json:"request_radius" validate:"min=0,max=16"`
	MaxRequestsPerTick  int           `json:"max_requests_per_tick" validate:"min=1"`
	SubmitRate          float64       `json:"submit_rate" validate:"min=0"`
	TouchOnLookup       bool          `json:"touch_on_lookup"`
}

// TerrainConfig selects and tunes the height field
type TerrainConfig struct {
	HeightField string  `json:"height_field" validate:"oneof=simplex perlin flat remote"`
	Octaves     int     `json:"octaves" validate:"min=1,max=12"`
	Frequency   float64 `json:"frequency" validate:"gt=0"`
	Persistence float64 `json:"persistence" validate:"gt=0,lt=1"`
	Lacunarity  float64 `json:"lacunarity" validate:"gt=1"`
	FlatLevel   float64 `json:"flat_level" validate:"min=0,max=1"`
}

// MaterialsConfig holds material table configuration
type MaterialsConfig struct {
	Path      string        `json:"path" validate:"required"`
	LoadDelay time.Duration `json:"load_delay" validate:"gte=0"`
}

// ProceduralConfig holds remote terrain service configuration
type ProceduralConfig struct {
	BaseURL    string        `json:"base_url"`
	Timeout    time.Duration `json:"timeout"`
	RetryCount int           `json:"retry_count" validate:"min=0"`
}

// ProfilingConfig controls the timing profiler
type ProfilingConfig struct {
	Enabled bool `json:"enabled"`
}

// Load reads configuration from environment variables and .env file
// It returns a Config struct with all settings populated
// The .env file is loaded from the current working directory
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found (this is OK if using environment variables): %v", err)
	}

	config := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getDurationEnv("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:     getEnv("ENVIRONMENT", "development"),
			AllowedOrigins:  getListEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173", "http://127.0.0.1:3000", "http://127.0.0.1:5173"}),
			RateLimit:       getIntEnv("RATE_LIMIT", 600),
			RateLimitWindow: getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		},
		Engine: EngineConfig{
			ChunkSize:            getIntEnv("CHUNK_SIZE", 10),
			CacheCapacity:        getIntEnv("CACHE_CAPACITY", 9),
			DefaultMaterialCount: getUint32Env("DEFAULT_MATERIAL_COUNT", 0),
			Seed:                 getUint64Env("WORLD_SEED", 0),
			Workers:              getIntEnv("WORKERS", 0),
			RegistryWaitTimeout:  getDurationEnv("REGISTRY_WAIT_TIMEOUT", 5*time.Second),
			TickInterval:         getDurationEnv("TICK_INTERVAL", time.Second/30),
			RequestRadius:        getIntEnv("REQUEST_RADIUS", 1),
			MaxRequestsPerTick:   getIntEnv("MAX_REQUESTS_PER_TICK", 1),
			SubmitRate:           getFloatEnv("SUBMIT_RATE", 60),
			TouchOnLookup:        getBoolEnv("CACHE_TOUCH_ON_LOOKUP", false),
		},
		Terrain: TerrainConfig{
			HeightField: getEnv("HEIGHTFIELD", "simplex"),
			Octaves:     getIntEnv("TERRAIN_OCTAVES", 4),
			Frequency:   getFloatEnv("TERRAIN_FREQUENCY", 0.08),
			Persistence: getFloatEnv("TERRAIN_PERSISTENCE", 0.5),
			Lacunarity:  getFloatEnv("TERRAIN_LACUNARITY", 2.0),
			FlatLevel:   getFloatEnv("TERRAIN_FLAT_LEVEL", 0.5),
		},
		Materials: MaterialsConfig{
			Path:      getEnv("MATERIALS_PATH", "configs/materials.yaml"),
			LoadDelay: getDurationEnv("MATERIALS_LOAD_DELAY", 0),
		},
		Procedural: ProceduralConfig{
			// Use 127.0.0.1 instead of localhost for better Windows compatibility (avoids IPv6 issues)
			BaseURL:    getEnv("PROCEDURAL_BASE_URL", "http://127.0.0.1:8081"),
			Timeout:    getDurationEnv("PROCEDURAL_TIMEOUT", 30*time.Second),
			RetryCount: getIntEnv("PROCEDURAL_RETRY_COUNT", 3),
		},
		Profiling: ProfilingConfig{
			Enabled: getBoolEnv("PROFILING_ENABLED", true),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	config.Engine.ResolveSeed()
	return config, nil
}

// Validate checks field ranges and the rules that span fields
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	window := (2*c.Engine.RequestRadius + 1) * (2*c.Engine.RequestRadius + 1)
	if window > c.Engine.CacheCapacity {
		return fmt.Errorf("CACHE_CAPACITY (%d) must hold the request window of %d chunks (REQUEST_RADIUS=%d)",
			c.Engine.CacheCapacity, window, c.Engine.RequestRadius)
	}
	if c.Terrain.HeightField == "remote" {
		if c.Procedural.BaseURL == "" {
			return fmt.Errorf("PROCEDURAL_BASE_URL is required when HEIGHTFIELD=remote")
		}
		if c.Procedural.Timeout <= 0 {
			return fmt.Errorf("PROCEDURAL_TIMEOUT must be positive when HEIGHTFIELD=remote")
		}
	}
	return nil
}

// ResolveSeed draws a random seed when none is configured and returns the
// seed in effect.
func (e *EngineConfig) ResolveSeed() uint64 {
	if e.Seed == 0 {
		for e.Seed == 0 {
			e.Seed = rand.Uint64()
		}
		e.RandomSeed = true
		log.Printf("[Config] WORLD_SEED not set, using random seed %d", e.Seed)
	}
	return e.Seed
}

// Addr returns the listen address
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// IsProduction returns true if running in production mode
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

// Helper functions for environment variable access

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: invalid integer value for %s: %s, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return intValue
}

func getUint64Env(key string, defaultValue uint64) uint64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	uintValue, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		log.Printf("Warning: invalid unsigned value for %s: %s, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return uintValue
}

func getUint32Env(key string, defaultValue uint32) uint32 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	uintValue, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		log.Printf("Warning: invalid uint32 value for %s: %s, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return uint32(uintValue)
}

func getFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Warning: invalid float value for %s: %s, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return floatValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Warning: invalid boolean value for %s: %s, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return boolValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Warning: invalid duration value for %s: %s, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return duration
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
