package core

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Debug    bool
		TestMode bool
		Env      string // DEV (default), TEST, QA, PROD
		Build    string
		AppName  string

		SecretKey    string
		RollbarToken string

		Server ServerConfig
		Cache  CacheConfig
		Remote RemoteConfig
	}

	ServerConfig struct {
		Host                      string
		Port                      int
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	// CacheConfig configures the quota-limited local cache.
	// An empty Dir selects the in-memory store.
	CacheConfig struct {
		Dir      string
		MaxBytes int64
	}

	// RemoteConfig selects and configures the remote document store backend.
	// Backend is one of "redis", "postgres" or "off"; "off" runs cache-only.
	RemoteConfig struct {
		Backend string
		Timeout time.Duration // advisory; a stalled fetch never corrupts state

		Redis struct {
			Addr     string
			Password string
			DB       int
		}

		Postgres struct {
			Engine     string
			Host       string
			Port       int
			User       string
			Password   string
			Name       string
			DisableTLS bool
		}
	}
)

func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c RemoteConfig) PostgresAddress() string {
	return fmt.Sprintf("%s:%d", c.Postgres.Host, c.Postgres.Port)
}

func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("build", "dev")
	conf.SetDefault("appName", "SkillLab")
	conf.SetDefault("secretKey", "w#3t^ch4nge-m3!skl4b$9(fzp&qx7)=dz&uo2hm")
	conf.SetDefault("rollbarToken", "")
	conf.SetDefault("serverHost", "0.0.0.0")
	conf.SetDefault("serverPort", 8000)
	conf.SetDefault("serverDebugHost", "0.0.0.0:4000")
	conf.SetDefault("serverShutdownTimeout", 5*time.Second)
	conf.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	conf.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)
	conf.SetDefault("cacheDir", "")
	conf.SetDefault("cacheMaxBytes", int64(5<<20))
	conf.SetDefault("remoteBackend", "off")
	conf.SetDefault("remoteTimeout", 10*time.Second)
	conf.SetDefault("redisAddr", "127.0.0.1:6379")
	conf.SetDefault("redisPassword", "")
	conf.SetDefault("redisDB", 0)
	conf.SetDefault("pgEngine", "postgres")
	conf.SetDefault("pgHost", "127.0.0.1")
	conf.SetDefault("pgPort", 5432)
	conf.SetDefault("pgUser", "skilllab")
	conf.SetDefault("pgPassword", "")
	conf.SetDefault("pgName", "skilllab")
	conf.SetDefault("pgDisableTLS", true)

	env := os.Getenv("ENV")
	if env == "" {
		env = "DEV"
	}
	conf.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	c := &Config{
		Debug:        conf.GetBool("debug"),
		TestMode:     env == "TEST",
		Env:          env,
		Build:        conf.GetString("build"),
		AppName:      conf.GetString("appName"),
		SecretKey:    conf.GetString("secretKey"),
		RollbarToken: conf.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:                      conf.GetString("serverHost"),
			Port:                      conf.GetInt("serverPort"),
			DebugHost:                 conf.GetString("serverDebugHost"),
			ShutdownTimeout:           conf.GetDuration("serverShutdownTimeout"),
			JWTExpirationDelta:        conf.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: conf.GetDuration("jwtRefreshExpirationDelta"),
		},
		Cache: CacheConfig{
			Dir:      conf.GetString("cacheDir"),
			MaxBytes: conf.GetInt64("cacheMaxBytes"),
		},
	}
	c.Remote.Backend = conf.GetString("remoteBackend")
	c.Remote.Timeout = conf.GetDuration("remoteTimeout")
	c.Remote.Redis.Addr = conf.GetString("redisAddr")
	c.Remote.Redis.Password = conf.GetString("redisPassword")
	c.Remote.Redis.DB = conf.GetInt("redisDB")
	c.Remote.Postgres.Engine = conf.GetString("pgEngine")
	c.Remote.Postgres.Host = conf.GetString("pgHost")
	c.Remote.Postgres.Port = conf.GetInt("pgPort")
	c.Remote.Postgres.User = conf.GetString("pgUser")
	c.Remote.Postgres.Password = conf.GetString("pgPassword")
	c.Remote.Postgres.Name = conf.GetString("pgName")
	c.Remote.Postgres.DisableTLS = conf.GetBool("pgDisableTLS")
	return c
}
