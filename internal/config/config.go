package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// HTTP (metrics + health only)
	HTTPPort string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Streams
	InboundStream  string
	OutboundStream string
	ConsumerGroup  string
	ConsumerName   string
	ReadCount      int64
	ReadBlock      time.Duration
	ConsumeBackoff time.Duration

	// Live mirror
	LiveChannel string
	MirrorTTL   time.Duration

	// Postgres audit sink (optional)
	AuditEnabled  bool
	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBMaxConns    int32
	AuditBatch    int
	AuditFlush    time.Duration
	AuditChanSize int

	// Pipeline channels
	MirrorChanSize int

	// Off-route detector
	OffRouteThresholdM float64
	OffRouteFireScore  int
	OffRouteCooldown   time.Duration
	OffRouteSustain    time.Duration

	// Suspicious jump detector
	JumpSpeedMPS float64
	JumpCooldown time.Duration

	// Night-time detector
	NightStartHour int
	NightEndHour   int
	NightCooldown  time.Duration
	TimeZone       string

	// Inactivity watchdog
	WatchdogInterval    time.Duration
	InactivityThreshold time.Duration
	NoMovementCooldown  time.Duration
	SessionRetention    time.Duration

	// Scoring tick
	ScoreTick           time.Duration
	ScoreOffRouteWeight int
	ScoreInactiveWeight int
	ScoreNightWeight    int

	// Logging
	LogMode string
}

func Load() *Config {
	host, _ := os.Hostname()
	if host == "" {
		host = "analytics-1"
	}

	return &Config{
		HTTPPort:            getEnv("HTTP_PORT", "8002"),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getEnvInt("REDIS_DB", 0),
		InboundStream:       getEnv("INBOUND_STREAM", "location_updates"),
		OutboundStream:      getEnv("OUTBOUND_STREAM", "alert_events"),
		ConsumerGroup:       getEnv("CONSUMER_GROUP", "analytics"),
		ConsumerName:        getEnv("CONSUMER_NAME", host),
		ReadCount:           int64(getEnvInt("READ_COUNT", 32)),
		ReadBlock:           getEnvDuration("READ_BLOCK_MS", 2000),
		ConsumeBackoff:      getEnvDuration("CONSUME_BACKOFF_MS", 3000),
		LiveChannel:         getEnv("LIVE_CHANNEL", "walk.events.live"),
		MirrorTTL:           getEnvDuration("MIRROR_TTL_MS", 30000),
		AuditEnabled:        getEnvBool("AUDIT_DB_ENABLED", false),
		DBHost:              getEnv("DB_HOST", "localhost"),
		DBPort:              getEnv("DB_PORT", "5432"),
		DBUser:              getEnv("DB_USER", "walk_user"),
		DBPassword:          getEnv("DB_PASSWORD", "walk_password"),
		DBName:              getEnv("DB_NAME", "safety_companion"),
		DBMaxConns:          int32(getEnvInt("DB_MAX_CONNS", 5)),
		AuditBatch:          getEnvInt("AUDIT_BATCH_SIZE", 200),
		AuditFlush:          getEnvDuration("AUDIT_FLUSH_MS", 500),
		AuditChanSize:       getEnvInt("AUDIT_CHANNEL_SIZE", 10000),
		MirrorChanSize:      getEnvInt("MIRROR_CHANNEL_SIZE", 10000),
		OffRouteThresholdM:  getEnvFloat("OFF_ROUTE_THRESHOLD_M", 40.0),
		OffRouteFireScore:   getEnvInt("OFF_ROUTE_FIRE_SCORE", 3),
		OffRouteCooldown:    getEnvDuration("OFF_ROUTE_COOLDOWN_MS", 180000),
		OffRouteSustain:     getEnvDuration("OFF_ROUTE_SUSTAIN_MS", 20000),
		JumpSpeedMPS:        getEnvFloat("JUMP_SPEED_MPS", 12.0),
		JumpCooldown:        getEnvDuration("JUMP_COOLDOWN_MS", 120000),
		NightStartHour:      getEnvInt("NIGHT_START_HOUR", 23),
		NightEndHour:        getEnvInt("NIGHT_END_HOUR", 5),
		NightCooldown:       getEnvDuration("NIGHT_COOLDOWN_MS", 600000),
		TimeZone:            getEnv("TIME_ZONE", "Local"),
		WatchdogInterval:    getEnvDuration("WATCHDOG_INTERVAL_MS", 5000),
		InactivityThreshold: getEnvDuration("INACTIVITY_THRESHOLD_MS", 15000),
		NoMovementCooldown:  getEnvDuration("NO_MOVEMENT_COOLDOWN_MS", 30000),
		SessionRetention:    getEnvDuration("SESSION_RETENTION_MS", 1800000),
		ScoreTick:           getEnvDuration("SCORE_TICK_MS", 10000),
		ScoreOffRouteWeight: getEnvInt("SCORE_OFF_ROUTE_WEIGHT", 35),
		ScoreInactiveWeight: getEnvInt("SCORE_INACTIVE_WEIGHT", 25),
		ScoreNightWeight:    getEnvInt("SCORE_NIGHT_WEIGHT", 15),
		LogMode:             getEnv("LOG_MODE", "development"),
	}
}

// Location resolves the configured time zone, falling back to the process
// local zone when the name is unknown.
func (c *Config) Location() *time.Location {
	if c.TimeZone == "" || c.TimeZone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallbackMS int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackMS)) * time.Millisecond
}
