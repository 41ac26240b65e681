package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config captures every setting required to boot the autoops service.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Baseline    BaselineConfig    `yaml:"baseline"`
	Detection   DetectionConfig   `yaml:"detection"`
	Health      HealthConfig      `yaml:"health"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Threats     ThreatsConfig     `yaml:"threats"`
	Remediation RemediationConfig `yaml:"remediation"`
	Storage     StorageConfig     `yaml:"storage"`
	Cache       CacheConfig       `yaml:"cache"`
	Events      EventsConfig      `yaml:"events"`
	Export      ExportConfig      `yaml:"export"`
	Rules       RulesConfig       `yaml:"rules"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address" validate:"required"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout" validate:"gte=0"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// BaselineConfig bounds the per-key history.
type BaselineConfig struct {
	Capacity int `yaml:"capacity" validate:"gte=10"`
}

// DetectionConfig tunes the scorer ensemble.
type DetectionConfig struct {
	DistanceThreshold       float64 `yaml:"distanceThreshold" validate:"gt=0,lt=1"`
	DeviationThreshold      float64 `yaml:"deviationThreshold" validate:"gt=0,lt=1"`
	ReconstructionThreshold float64 `yaml:"reconstructionThreshold" validate:"gt=0,lt=1"`
	MinBaseline             int     `yaml:"minBaseline" validate:"gte=2"`
}

// HealthConfig holds probe defaults and the declarative checks registered at startup.
type HealthConfig struct {
	DefaultInterval  time.Duration       `yaml:"defaultInterval" validate:"gt=0"`
	DefaultTimeout   time.Duration       `yaml:"defaultTimeout" validate:"gt=0"`
	FailureThreshold int                 `yaml:"failureThreshold" validate:"gte=1"`
	Checks           []HealthCheckConfig `yaml:"checks" validate:"dive"`
}

// HealthCheckConfig declares one probe. Target is a URL, host:port, DSN or container
// name depending on Type.
type HealthCheckConfig struct {
	ID               string         `yaml:"id" validate:"required"`
	Name             string         `yaml:"name"`
	Type             string         `yaml:"type" validate:"required,oneof=http tcp postgres mysql mongodb redis host container"`
	Target           string         `yaml:"target" validate:"required_unless=Type host"`
	Interval         time.Duration  `yaml:"interval" validate:"gte=0"`
	Timeout          time.Duration  `yaml:"timeout" validate:"gte=0"`
	FailureThreshold int            `yaml:"failureThreshold" validate:"gte=0"`
	ExpectStatus     int            `yaml:"expectStatus"`
	Host             HostThresholds `yaml:"host"`
}

// HostThresholds are percentages above which a host probe reports degraded (warn) or
// unhealthy (crit).
type HostThresholds struct {
	CPUWarn    float64 `yaml:"cpuWarn"`
	CPUCrit    float64 `yaml:"cpuCrit"`
	MemoryWarn float64 `yaml:"memoryWarn"`
	MemoryCrit float64 `yaml:"memoryCrit"`
	DiskWarn   float64 `yaml:"diskWarn"`
	DiskCrit   float64 `yaml:"diskCrit"`
	DiskPath   string  `yaml:"diskPath"`
}

// MaintenanceConfig drives periodic forecasting and the task dispatcher.
type MaintenanceConfig struct {
	WatchKeys        []string      `yaml:"watchKeys"`
	ForecastInterval time.Duration `yaml:"forecastInterval" validate:"gt=0"`
	Horizon          time.Duration `yaml:"horizon" validate:"gt=0"`
	DispatchInterval time.Duration `yaml:"dispatchInterval" validate:"gt=0"`
}

// ThreatsConfig controls threat detection and retention.
type ThreatsConfig struct {
	IntelEnabled        bool          `yaml:"intelEnabled"`
	AutoRespondSeverity string        `yaml:"autoRespondSeverity" validate:"oneof=low medium high critical"`
	Retention           time.Duration `yaml:"retention" validate:"gt=0"`
	JanitorInterval     time.Duration `yaml:"janitorInterval" validate:"gt=0"`
	ReflexPerSecond     float64       `yaml:"reflexPerSecond" validate:"gte=0"`
	ReflexBurst         int           `yaml:"reflexBurst" validate:"gte=0"`
}

// RemediationConfig controls the built-in action handlers.
type RemediationConfig struct {
	Docker             bool `yaml:"docker"`
	StopTimeoutSeconds int  `yaml:"stopTimeoutSeconds" validate:"gte=0"`
}

// StorageConfig selects the repository backend.
type StorageConfig struct {
	Driver     string        `yaml:"driver" validate:"oneof=memory badger"`
	Path       string        `yaml:"path" validate:"required_if=Driver badger"`
	SyncWrites bool          `yaml:"syncWrites"`
	GCInterval time.Duration `yaml:"gcInterval" validate:"gte=0"`
}

// CacheConfig controls the Redis-backed lease ledger shared between replicas.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr" validate:"required_if=Enabled true"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db" validate:"gte=0"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// EventsConfig sizes the in-process bus and the optional NATS bridge.
type EventsConfig struct {
	BufferSize int        `yaml:"bufferSize" validate:"gte=1"`
	NATS       NATSConfig `yaml:"nats"`
}

// NATSConfig forwards bus events to NATS subjects.
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url" validate:"required_if=Enabled true"`
	SubjectPrefix string `yaml:"subjectPrefix"`
}

// ExportConfig controls time-series export.
type ExportConfig struct {
	Influx InfluxConfig `yaml:"influx"`
}

// InfluxConfig writes events and forecasts to InfluxDB.
type InfluxConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url" validate:"required_if=Enabled true"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket" validate:"required_if=Enabled true"`
}

// RulesConfig controls loading of the policy and response-rule pack.
type RulesConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// Load initialises Config from defaults, an optional .env file, a YAML file and
// AUTOOPS_* environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	if path == "" {
		path = os.Getenv("AUTOOPS_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags of cfg.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

// loadDotEnv reads AUTOOPS_ENV_FILE (default .env) when present. Variables already set
// in the environment win.
func loadDotEnv() error {
	file := os.Getenv("AUTOOPS_ENV_FILE")
	if file == "" {
		file = ".env"
	}
	if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", file, err)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging:  LoggingConfig{Level: "info", JSON: false},
		Baseline: BaselineConfig{Capacity: 1000},
		Detection: DetectionConfig{
			DistanceThreshold:       0.7,
			DeviationThreshold:      0.7,
			ReconstructionThreshold: 0.3,
			MinBaseline:             5,
		},
		Health: HealthConfig{
			DefaultInterval:  30 * time.Second,
			DefaultTimeout:   10 * time.Second,
			FailureThreshold: 3,
		},
		Maintenance: MaintenanceConfig{
			ForecastInterval: 5 * time.Minute,
			Horizon:          time.Hour,
			DispatchInterval: 30 * time.Second,
		},
		Threats: ThreatsConfig{
			IntelEnabled:        true,
			AutoRespondSeverity: "high",
			Retention:           24 * time.Hour,
			JanitorInterval:     10 * time.Minute,
			ReflexPerSecond:     10,
			ReflexBurst:         20,
		},
		Remediation: RemediationConfig{StopTimeoutSeconds: 10},
		Storage:     StorageConfig{Driver: "memory", GCInterval: 10 * time.Minute},
		Cache: CacheConfig{
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		Events: EventsConfig{
			BufferSize: 256,
			NATS:       NATSConfig{SubjectPrefix: "autoops"},
		},
		Rules: RulesConfig{Path: "configs/rules/default.yaml"},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AUTOOPS_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("AUTOOPS_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("AUTOOPS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AUTOOPS_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("AUTOOPS_BASELINE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Baseline.Capacity = n
		}
	}
	if v := os.Getenv("AUTOOPS_MIN_BASELINE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detection.MinBaseline = n
		}
	}
	if v := os.Getenv("AUTOOPS_INTEL_ENABLED"); v != "" {
		cfg.Threats.IntelEnabled = parseBool(v)
	}
	if v := os.Getenv("AUTOOPS_AUTO_RESPOND_SEVERITY"); v != "" {
		cfg.Threats.AutoRespondSeverity = v
	}
	if v := os.Getenv("AUTOOPS_THREAT_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Threats.Retention = d
		}
	}
	if v := os.Getenv("AUTOOPS_WATCH_KEYS"); v != "" {
		cfg.Maintenance.WatchKeys = splitList(v)
	}
	if v := os.Getenv("AUTOOPS_FORECAST_HORIZON"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Maintenance.Horizon = d
		}
	}
	if v := os.Getenv("AUTOOPS_DOCKER_ENABLED"); v != "" {
		cfg.Remediation.Docker = parseBool(v)
	}
	if v := os.Getenv("AUTOOPS_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("AUTOOPS_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("AUTOOPS_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = parseBool(v)
	}
	if v := os.Getenv("AUTOOPS_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("AUTOOPS_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("AUTOOPS_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("AUTOOPS_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("AUTOOPS_CACHE_TLS"); parseBool(v) {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("AUTOOPS_NATS_URL"); v != "" {
		cfg.Events.NATS.URL = v
		cfg.Events.NATS.Enabled = true
	}
	if v := os.Getenv("AUTOOPS_INFLUX_URL"); v != "" {
		cfg.Export.Influx.URL = v
		cfg.Export.Influx.Enabled = true
	}
	if v := os.Getenv("AUTOOPS_INFLUX_TOKEN"); v != "" {
		cfg.Export.Influx.Token = v
	}
	if v := os.Getenv("AUTOOPS_INFLUX_ORG"); v != "" {
		cfg.Export.Influx.Org = v
	}
	if v := os.Getenv("AUTOOPS_INFLUX_BUCKET"); v != "" {
		cfg.Export.Influx.Bucket = v
	}
	if v := os.Getenv("AUTOOPS_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("AUTOOPS_RULES_WATCH"); v != "" {
		cfg.Rules.Watch = parseBool(v)
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
