// Package config loads process settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadDotEnv reads KEY=VALUE pairs from files into the environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Server holds cmd/server settings. Flags override these.
type Server struct {
	Addr          string        `env:"DRACONIA_ADDR" envDefault:"127.0.0.1:8090"`
	DataDir       string        `env:"DRACONIA_DATA_DIR" envDefault:"./data"`
	TuningPath    string        `env:"DRACONIA_TUNING" envDefault:"./configs/tuning.yaml"`
	EnemyConfig   string        `env:"DRACONIA_ENEMY_CONFIG" envDefault:"./configs/enemy_config.json"`
	LogLevel      string        `env:"DRACONIA_LOG_LEVEL" envDefault:"info"`
	LogFormat     string        `env:"DRACONIA_LOG_FORMAT" envDefault:"text"`
	MaxSessions   int           `env:"DRACONIA_MAX_SESSIONS" envDefault:"64"`
	Journal       bool          `env:"DRACONIA_JOURNAL" envDefault:"true"`
	ReloadEvery   time.Duration `env:"DRACONIA_CONFIG_RELOAD" envDefault:"5s"`
	MirrorURL     string        `env:"DRACONIA_MIRROR_URL"`
	MirrorToken   string        `env:"DRACONIA_MIRROR_TOKEN"`
	ShutdownGrace time.Duration `env:"DRACONIA_SHUTDOWN_GRACE" envDefault:"5s"`

	// Journal archive bucket; archiving is off unless all four are set.
	R2Endpoint  string `env:"DRACONIA_R2_ENDPOINT"`
	R2Bucket    string `env:"DRACONIA_R2_BUCKET"`
	R2AccessKey string `env:"DRACONIA_R2_ACCESS_KEY_ID"`
	R2SecretKey string `env:"DRACONIA_R2_SECRET_ACCESS_KEY"`
	R2Prefix    string `env:"DRACONIA_R2_PREFIX" envDefault:"journals"`
}

// ArchiveEnabled reports whether the R2 journal archive is configured.
func (s Server) ArchiveEnabled() bool {
	return s.R2Endpoint != "" && s.R2Bucket != "" && s.R2AccessKey != "" && s.R2SecretKey != ""
}

func LoadServer() (Server, error) {
	var cfg Server
	if err := ParseEnv(&cfg); err != nil {
		return Server{}, err
	}
	return cfg, nil
}
