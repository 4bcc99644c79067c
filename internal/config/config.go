package config

import "time"

type Config struct {
	Service     *ServiceConfig
	Mongo       *MongoConfig
	Users       *UsersConfig
	Redis       *RedisConfig
	Twilio      *TwilioConfig
	Storage     *StorageConfig
	Realtime    *RealtimeConfig
	Logger      *LoggerConfig
	Tracer      *TracerConfig
	SecretToken string
	TokenTTL    time.Duration
}

type ServiceConfig struct {
	Name            string
	Env             string
	Add             string
	ShutdownTimeout time.Duration
}

type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	MaxPoolSize    int
	PingTimeout    time.Duration
	EnsureIndexes  bool
}

// UsersConfig selects the SQL account store. Driver is "pgx" or "sqlite3".
type UsersConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

type RedisConfig struct {
	URL          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
	PingTimeout  time.Duration
	Stream       string
	StreamMaxLen int64
}

type TwilioConfig struct {
	SID       string
	Token     string
	VerifySID string
	// SkipVerify marks accounts verified at registration; local development only.
	SkipVerify bool
}

type StorageConfig struct {
	UploadURL      string
	PublicHost     string
	APIKey         string
	UploadPreset   string
	ImageTransform string
	AudioTransform string
	MaxUploadBytes int64
	Timeout        time.Duration
}

type RealtimeConfig struct {
	NodeID         string
	ConsumerGroup  string
	PresenceTTL    time.Duration
	SendBufferSize int
	AllowedOrigins []string
}

type LoggerConfig struct {
	Level  string
	Format string
}

type TracerConfig struct {
	Enabled bool
	Address string
}
