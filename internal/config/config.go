package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Worker    WorkerConfig
	Hub       HubConfig
	Ensemble  EnsembleConfig
	Filter    FilterConfig
	Refiner   RefinerConfig
	Storage   StorageConfig
	Services  ServicesConfig
	Detectors []DetectorConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type WorkerConfig struct {
	GPUSlots       int           // one in-flight job per slot
	CPUConcurrency int
	SoftTimeout    time.Duration // cooperative abort
	HardTimeout    time.Duration // forced failure
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	Retention      time.Duration
}

type HubConfig struct {
	SendBuffer        int
	HeartbeatInterval time.Duration
	PongGrace         time.Duration
}

type EnsembleConfig struct {
	OnsetTolerance    float64
	MinScore          float64
	SoloWeight        float64
	ScaleByConfidence bool
}

type FilterConfig struct {
	BaseThreshold  float64
	SlowTempoBPM   float64
	FastTempoBPM   float64
	SlowThreshold  float64
	FastThreshold  float64
	DecayMaxGap    float64
	DecayDropRatio float64
}

type RefinerConfig struct {
	MaxWindow int
	Overlap   int
}

type StorageConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	PublicURL       string
	ResultExpiry    time.Duration
}

type ServicesConfig struct {
	SeparatorURL     string
	SeparatorTimeout time.Duration
	RefinerURL       string
	RefinerTimeout   time.Duration
	NotationURL      string
	NotationTimeout  time.Duration
	FetchTimeout     time.Duration
}

type DetectorConfig struct {
	Tag     string        `mapstructure:"tag"`
	URL     string        `mapstructure:"url"`
	Weight  float64       `mapstructure:"weight"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	SubmitPerHour int
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "3000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("worker.gpu_slots", 1)
	viper.SetDefault("worker.cpu_concurrency", 4)
	viper.SetDefault("worker.soft_timeout", "10m")
	viper.SetDefault("worker.hard_timeout", "15m")
	viper.SetDefault("worker.max_attempts", 3)
	viper.SetDefault("worker.retry_base_delay", "10s")
	viper.SetDefault("worker.retry_max_delay", "5m")
	viper.SetDefault("worker.retention", "24h")
	viper.SetDefault("hub.send_buffer", 16)
	viper.SetDefault("hub.heartbeat_interval", "30s")
	viper.SetDefault("hub.pong_grace", "15s")
	viper.SetDefault("ensemble.onset_tolerance", 0.05)
	viper.SetDefault("ensemble.min_score", 2.0)
	viper.SetDefault("ensemble.solo_weight", 1.5)
	viper.SetDefault("ensemble.scale_by_confidence", false)
	viper.SetDefault("filter.base_threshold", 0.5)
	viper.SetDefault("filter.slow_tempo_bpm", 60.0)
	viper.SetDefault("filter.fast_tempo_bpm", 180.0)
	viper.SetDefault("filter.slow_threshold", 0.4)
	viper.SetDefault("filter.fast_threshold", 0.7)
	viper.SetDefault("filter.decay_max_gap", 0.08)
	viper.SetDefault("filter.decay_drop_ratio", 0.85)
	viper.SetDefault("refiner.max_window", 512)
	viper.SetDefault("refiner.overlap", 64)
	viper.SetDefault("storage.region", "auto")
	viper.SetDefault("storage.result_expiry", "24h")
	viper.SetDefault("services.separator_timeout", "5m")
	viper.SetDefault("services.refiner_timeout", "2m")
	viper.SetDefault("services.notation_timeout", "2m")
	viper.SetDefault("services.fetch_timeout", "5m")
	viper.SetDefault("ratelimit.submit_per_hour", 20)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Worker: WorkerConfig{
			GPUSlots:       viper.GetInt("worker.gpu_slots"),
			CPUConcurrency: viper.GetInt("worker.cpu_concurrency"),
			SoftTimeout:    viper.GetDuration("worker.soft_timeout"),
			HardTimeout:    viper.GetDuration("worker.hard_timeout"),
			MaxAttempts:    viper.GetInt("worker.max_attempts"),
			RetryBaseDelay: viper.GetDuration("worker.retry_base_delay"),
			RetryMaxDelay:  viper.GetDuration("worker.retry_max_delay"),
			Retention:      viper.GetDuration("worker.retention"),
		},
		Hub: HubConfig{
			SendBuffer:        viper.GetInt("hub.send_buffer"),
			HeartbeatInterval: viper.GetDuration("hub.heartbeat_interval"),
			PongGrace:         viper.GetDuration("hub.pong_grace"),
		},
		Ensemble: EnsembleConfig{
			OnsetTolerance:    viper.GetFloat64("ensemble.onset_tolerance"),
			MinScore:          viper.GetFloat64("ensemble.min_score"),
			SoloWeight:        viper.GetFloat64("ensemble.solo_weight"),
			ScaleByConfidence: viper.GetBool("ensemble.scale_by_confidence"),
		},
		Filter: FilterConfig{
			BaseThreshold:  viper.GetFloat64("filter.base_threshold"),
			SlowTempoBPM:   viper.GetFloat64("filter.slow_tempo_bpm"),
			FastTempoBPM:   viper.GetFloat64("filter.fast_tempo_bpm"),
			SlowThreshold:  viper.GetFloat64("filter.slow_threshold"),
			FastThreshold:  viper.GetFloat64("filter.fast_threshold"),
			DecayMaxGap:    viper.GetFloat64("filter.decay_max_gap"),
			DecayDropRatio: viper.GetFloat64("filter.decay_drop_ratio"),
		},
		Refiner: RefinerConfig{
			MaxWindow: viper.GetInt("refiner.max_window"),
			Overlap:   viper.GetInt("refiner.overlap"),
		},
		Storage: StorageConfig{
			Endpoint:        viper.GetString("storage.endpoint"),
			Region:          viper.GetString("storage.region"),
			Bucket:          viper.GetString("storage.bucket"),
			AccessKeyID:     viper.GetString("storage.access_key_id"),
			SecretAccessKey: viper.GetString("storage.secret_access_key"),
			PublicURL:       viper.GetString("storage.public_url"),
			ResultExpiry:    viper.GetDuration("storage.result_expiry"),
		},
		Services: ServicesConfig{
			SeparatorURL:     viper.GetString("services.separator_url"),
			SeparatorTimeout: viper.GetDuration("services.separator_timeout"),
			RefinerURL:       viper.GetString("services.refiner_url"),
			RefinerTimeout:   viper.GetDuration("services.refiner_timeout"),
			NotationURL:      viper.GetString("services.notation_url"),
			NotationTimeout:  viper.GetDuration("services.notation_timeout"),
			FetchTimeout:     viper.GetDuration("services.fetch_timeout"),
		},
		RateLimit: RateLimitConfig{
			SubmitPerHour: viper.GetInt("ratelimit.submit_per_hour"),
		},
	}

	if err := viper.UnmarshalKey("detectors", &cfg.Detectors); err != nil {
		return nil, err
	}

	return cfg, nil
}
