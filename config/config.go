package config

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
)

type Config struct {
	MinIOBucket string        `yaml:"minio_bucket"`
	App         App           `yaml:"app"`
	DB          *sql.DB       `yaml:"db"`
	Queue       *RabbitMQ     `yaml:"rabbitmq"`
	Storage     *minio.Client `yaml:"storage"`
	Server      Server        `yaml:"server"`
	Ingest      Ingest        `yaml:"ingest"`
	OutputRoot  string        `yaml:"output_root"`
	Limits      Limits        `yaml:"limits"`
	Identity    Identity      `yaml:"identity"`
	Quality     Quality       `yaml:"quality"`
	FFmpeg      FFmpeg        `yaml:"ffmpeg"`
	Redis       Redis         `yaml:"redis"`
	Archive     bool          `yaml:"archive"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
	Workers  int    `yaml:"workers"`
}

// Ingest describes where the media server accepts RTMP publishers.
type Ingest struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	App  string `yaml:"app"`
}

// InputURL is the URL the prober and transcoder read a live stream from.
func (i Ingest) InputURL(streamKey string) string {
	return fmt.Sprintf("rtmp://%s:%d/%s/%s", i.Host, i.Port, i.App, streamKey)
}

func (i Ingest) Addr() string {
	return fmt.Sprintf("%s:%d", i.Host, i.Port)
}

type Limits struct {
	MaxStreamsPerOwner int           `yaml:"max_streams_per_owner"`
	RateLimitWindow    time.Duration `yaml:"rate_limit_window"`
	RateLimitMax       int           `yaml:"rate_limit_max"`
	SessionTTL         time.Duration `yaml:"session_ttl"`
	ActiveSessionTTL   time.Duration `yaml:"active_session_ttl"`
}

type Identity struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Quality holds the acceptance thresholds applied to a probed input. Bitrates are kbps.
type Quality struct {
	MinBitrate   int     `yaml:"min_bitrate"`
	MaxBitrate   int     `yaml:"max_bitrate"`
	MinWidth     int     `yaml:"min_width"`
	MinHeight    int     `yaml:"min_height"`
	MinFrameRate float64 `yaml:"min_frame_rate"`
	MaxFrameRate float64 `yaml:"max_frame_rate"`
}

type FFmpeg struct {
	Bin          string        `yaml:"bin"`
	ProbeBin     string        `yaml:"probe_bin"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	KillTimeout  time.Duration `yaml:"kill_timeout"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "develop")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.workers", 4)
	v.SetDefault("ingest.host", "127.0.0.1")
	v.SetDefault("ingest.port", 1935)
	v.SetDefault("ingest.app", "live")
	v.SetDefault("output.root", "./hls")
	v.SetDefault("limits.max_streams_per_owner", 1)
	v.SetDefault("limits.rate_limit_window", time.Minute)
	v.SetDefault("limits.rate_limit_max", 5)
	v.SetDefault("limits.session_ttl", 30*time.Second)
	v.SetDefault("limits.active_session_ttl", 24*time.Hour)
	v.SetDefault("identity.timeout", 5*time.Second)
	v.SetDefault("quality.min_bitrate", 500)
	v.SetDefault("quality.max_bitrate", 8000)
	v.SetDefault("quality.min_width", 640)
	v.SetDefault("quality.min_height", 360)
	v.SetDefault("quality.min_frame_rate", 24)
	v.SetDefault("quality.max_frame_rate", 60)
	v.SetDefault("ffmpeg.bin", "ffmpeg")
	v.SetDefault("ffprobe.bin", "ffprobe")
	v.SetDefault("ffmpeg.probe_timeout", 10*time.Second)
	v.SetDefault("ffmpeg.kill_timeout", 5*time.Second)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("rabbitmq_port", 5672)
	v.SetDefault("rabbitmq_kind", "topic")
	v.SetDefault("rabbitmq.exchange", "stream_events")
	v.SetDefault("archive.enabled", false)
}

// Load reads config.yaml from path when present; environment variables override it
// (keys use "_" in place of ".", e.g. INGEST_PORT, LIMITS_SESSION_TTL).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{
		MinIOBucket: v.GetString("minio.bucket"),
		App: App{
			Environment: v.GetString("app.environment"),
			Host:        v.GetString("app.host"),
			Protocol:    v.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort: v.GetString("server.port"),
			Workers:  v.GetInt("server.workers"),
		},
		Ingest: Ingest{
			Host: v.GetString("ingest.host"),
			Port: v.GetInt("ingest.port"),
			App:  strings.Trim(v.GetString("ingest.app"), "/"),
		},
		OutputRoot: v.GetString("output.root"),
		Limits: Limits{
			MaxStreamsPerOwner: v.GetInt("limits.max_streams_per_owner"),
			RateLimitWindow:    v.GetDuration("limits.rate_limit_window"),
			RateLimitMax:       v.GetInt("limits.rate_limit_max"),
			SessionTTL:         v.GetDuration("limits.session_ttl"),
			ActiveSessionTTL:   v.GetDuration("limits.active_session_ttl"),
		},
		Identity: Identity{
			URL:     v.GetString("identity.url"),
			Timeout: v.GetDuration("identity.timeout"),
		},
		Quality: Quality{
			MinBitrate:   v.GetInt("quality.min_bitrate"),
			MaxBitrate:   v.GetInt("quality.max_bitrate"),
			MinWidth:     v.GetInt("quality.min_width"),
			MinHeight:    v.GetInt("quality.min_height"),
			MinFrameRate: v.GetFloat64("quality.min_frame_rate"),
			MaxFrameRate: v.GetFloat64("quality.max_frame_rate"),
		},
		FFmpeg: FFmpeg{
			Bin:          v.GetString("ffmpeg.bin"),
			ProbeBin:     v.GetString("ffprobe.bin"),
			ProbeTimeout: v.GetDuration("ffmpeg.probe_timeout"),
			KillTimeout:  v.GetDuration("ffmpeg.kill_timeout"),
		},
		Redis: Redis{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Archive: v.GetBool("archive.enabled"),
	}

	if host := v.GetString("rabbitmq_host"); host != "" {
		cfg.Queue = &RabbitMQ{
			Host:         host,
			Port:         v.GetInt("rabbitmq_port"),
			User:         v.GetString("rabbitmq_user"),
			Pass:         v.GetString("rabbitmq_pass"),
			Kind:         v.GetString("rabbitmq_kind"),
			ExchangeName: v.GetString("rabbitmq.exchange"),
		}
	}

	if dsn := v.GetString("postgresql_host"); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, err
		}
		cfg.DB = db
	}

	if url := v.GetString("minio.url"); url != "" {
		minioClient, err := minio.New(url, &minio.Options{
			Creds:  credentials.NewStaticV4(v.GetString("minio.access_id"), v.GetString("minio.secret_access_key"), ""),
			Secure: false,
		})
		if err != nil {
			return nil, err
		}
		cfg.Storage = minioClient
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the ingest path cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Ingest.Port <= 0 || c.Ingest.Port > 65535 {
		errs = append(errs, fmt.Errorf("ingest.port out of range: %d", c.Ingest.Port))
	}
	if c.Ingest.App == "" {
		errs = append(errs, errors.New("ingest.app is required"))
	}
	if strings.TrimSpace(c.OutputRoot) == "" {
		errs = append(errs, errors.New("output.root is required"))
	}
	if c.Limits.MaxStreamsPerOwner < 1 {
		errs = append(errs, errors.New("limits.max_streams_per_owner must be at least 1"))
	}
	if c.Limits.RateLimitMax < 1 || c.Limits.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("limits.rate_limit_max and limits.rate_limit_window must be positive"))
	}
	if c.Limits.SessionTTL <= 0 || c.Limits.ActiveSessionTTL <= 0 {
		errs = append(errs, errors.New("session ttls must be positive"))
	}
	if strings.TrimSpace(c.Identity.URL) == "" {
		errs = append(errs, errors.New("identity.url is required"))
	}
	if c.Identity.Timeout <= 0 {
		errs = append(errs, errors.New("identity.timeout must be positive"))
	}
	if c.Quality.MinBitrate > c.Quality.MaxBitrate {
		errs = append(errs, errors.New("quality.min_bitrate exceeds quality.max_bitrate"))
	}
	if c.Quality.MinFrameRate > c.Quality.MaxFrameRate {
		errs = append(errs, errors.New("quality.min_frame_rate exceeds quality.max_frame_rate"))
	}
	if c.Archive && c.Storage == nil {
		errs = append(errs, errors.New("archive.enabled requires minio.url"))
	}
	return errors.Join(errs...)
}
