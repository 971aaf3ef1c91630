package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Curation  CurationConfig  `yaml:"curation" mapstructure:"curation"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Resolver  ResolverConfig  `yaml:"resolver" mapstructure:"resolver"`
	Geofence  GeofenceConfig  `yaml:"geofence" mapstructure:"geofence"`
	Iconic    IconicConfig    `yaml:"iconic" mapstructure:"iconic"`
	Landuse   LanduseConfig   `yaml:"landuse" mapstructure:"landuse"`
	Worker    WorkerConfig    `yaml:"worker" mapstructure:"worker"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	Model     string  `yaml:"model" mapstructure:"model"`
	MaxTokens int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	RPS       float64 `yaml:"rps" mapstructure:"rps"`
}

// CurationConfig points at the curation table directory.
type CurationConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// PipelineConfig configures per-city hydration behavior.
type PipelineConfig struct {
	BatchSize      int     `yaml:"batch_size" mapstructure:"batch_size"`
	PauseMillis    int     `yaml:"pause_millis" mapstructure:"pause_millis"`
	BBoxHalfWidth  float64 `yaml:"bbox_half_width" mapstructure:"bbox_half_width"`
	BBoxHalfHeight float64 `yaml:"bbox_half_height" mapstructure:"bbox_half_height"`
}

// ResolverConfig configures entity resolution.
type ResolverConfig struct {
	RadiusM         float64  `yaml:"radius_m" mapstructure:"radius_m"`
	LargeRadiusM    float64  `yaml:"large_radius_m" mapstructure:"large_radius_m"`
	FuzzyThreshold  float64  `yaml:"fuzzy_threshold" mapstructure:"fuzzy_threshold"`
	LargeCategories []string `yaml:"large_categories" mapstructure:"large_categories"`
}

// GeofenceConfig configures boundary construction.
type GeofenceConfig struct {
	PointBufferM  float64 `yaml:"point_buffer_m" mapstructure:"point_buffer_m"`
	SearchRadiusM float64 `yaml:"search_radius_m" mapstructure:"search_radius_m"`
	SafetyMarginM float64 `yaml:"safety_margin_m" mapstructure:"safety_margin_m"`
}

// IconicConfig configures the iconic-venue matcher.
type IconicConfig struct {
	Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
	PrefilterScore int  `yaml:"prefilter_score" mapstructure:"prefilter_score"`
	BatchSize      int  `yaml:"batch_size" mapstructure:"batch_size"`
	TimeoutSecs    int  `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// LanduseConfig points at the land-use shapefile backing polygon candidates.
type LanduseConfig struct {
	ShapefilePath string `yaml:"shapefile_path" mapstructure:"shapefile_path"`
}

// WorkerConfig configures the queue worker loop.
type WorkerConfig struct {
	MaxRuntimeSecs int `yaml:"max_runtime_secs" mapstructure:"max_runtime_secs"`
	Concurrency    int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ServerConfig configures the status server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("HYDRATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("curation.dir", "curation")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.rps", 2)
	v.SetDefault("pipeline.batch_size", 500)
	v.SetDefault("pipeline.pause_millis", 200)
	v.SetDefault("pipeline.bbox_half_width", 0.125)
	v.SetDefault("pipeline.bbox_half_height", 0.1)
	v.SetDefault("resolver.radius_m", 100)
	v.SetDefault("resolver.large_radius_m", 1500)
	v.SetDefault("resolver.fuzzy_threshold", 0.95)
	v.SetDefault("resolver.large_categories", []string{"park", "stadium", "shopping", "university", "event_venue", "club"})
	v.SetDefault("geofence.point_buffer_m", 60)
	v.SetDefault("geofence.search_radius_m", 450)
	v.SetDefault("geofence.safety_margin_m", 60)
	v.SetDefault("iconic.enabled", true)
	v.SetDefault("iconic.prefilter_score", 70)
	v.SetDefault("iconic.batch_size", 20)
	v.SetDefault("iconic.timeout_secs", 120)
	v.SetDefault("worker.max_runtime_secs", 3600)
	v.SetDefault("worker.concurrency", 1)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings a command depends on are present and
// sane. Mode is the subcommand name.
func (c *Config) Validate(mode string) error {
	var missing []string

	common := func() {
		if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
			missing = append(missing, "store.driver must be postgres or sqlite")
		}
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url is required")
		}
		if c.Pipeline.BatchSize < 1 {
			missing = append(missing, "pipeline.batch_size must be >= 1")
		}
		if c.Resolver.RadiusM <= 0 || c.Resolver.LargeRadiusM < c.Resolver.RadiusM {
			missing = append(missing, "resolver radii must satisfy 0 < radius_m <= large_radius_m")
		}
		if c.Resolver.FuzzyThreshold <= 0 || c.Resolver.FuzzyThreshold > 1 {
			missing = append(missing, "resolver.fuzzy_threshold must be in (0, 1]")
		}
		if c.Iconic.Enabled && c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key is required when iconic matching is enabled")
		}
	}

	switch mode {
	case "hydrate":
		common()
	case "worker":
		common()
		if c.Worker.Concurrency < 1 || c.Worker.Concurrency > 16 {
			missing = append(missing, "worker.concurrency must be between 1 and 16")
		}
	case "import", "export", "status":
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url is required")
		}
	case "serve":
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url is required")
		}
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(missing, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
