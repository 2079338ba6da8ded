package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                  string
	DatabaseDSN           string
	JWTSecret             string
	Env                   string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int

	// Timezone 决定 streak 与每日额度使用的“今天”。
	Timezone      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	AMQPURL       string
	AMQPExchange  string
	MediaRoot     string
	MediaURL      string
	CORSOrigins   []string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 读取正整数，解析失败或非正数时回退到默认值。
func getenvInt(key string, def int) int {
	n, err := strconv.Atoi(getenv(key, strconv.Itoa(def)))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// splitList 解析逗号分隔的列表，忽略空项。
func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func Load() Config {
	// .env 只在本地开发时存在，缺失不算错误。
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getenv("REDIS_DB", "0"))
	if err != nil || redisDB < 0 {
		redisDB = 0
	}
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=airspace port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             getenv("JWT_SECRET", defaultJWTSecret),
		Env:                   getenv("APP_ENV", "dev"),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays:   getenvInt("REFRESH_TOKEN_TTL_DAYS", 7),
		Timezone:              getenv("APP_TIMEZONE", "UTC"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AMQPURL:               os.Getenv("AMQP_URL"),
		AMQPExchange:          getenv("AMQP_EXCHANGE", "airspace.events"),
		MediaRoot:             getenv("MEDIA_ROOT", "./media"),
		MediaURL:              getenv("MEDIA_URL", "/media/"),
		CORSOrigins:           splitList(os.Getenv("CORS_ORIGINS")),
	}
}

// Validate 在启动时拒绝明显错误的配置。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: empty port")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: empty database dsn")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("config: default jwt secret outside dev")
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return errors.New("config: unknown timezone " + cfg.Timezone)
	}
	return nil
}

// Location 返回业务日所在时区，未知时区回退到 UTC。
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
