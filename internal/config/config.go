package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"quiz-duel-service/internal/app"
	"quiz-duel-service/internal/obslog"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		// TTL bounds presence keys and finished duels.
		TTL string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Catalog struct {
		TTL      string `yaml:"ttl"`
		PoolSize int    `yaml:"poolSize"`
	} `yaml:"catalog"`
	Duel struct {
		SweepInterval string `yaml:"sweepInterval"`
		Inactivity    string `yaml:"inactivity"`
		WinXP         *int   `yaml:"winXP"`
		LossXP        *int   `yaml:"lossXP"`
		DrawXP        *int   `yaml:"drawXP"`
	} `yaml:"duel"`
	Log obslog.Options `yaml:"log"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// DuelSettings merges the duel section over the built-in defaults.
func (c Config) DuelSettings() app.Settings {
	s := app.DefaultSettings()
	if c.Catalog.PoolSize > 0 {
		s.PoolSize = c.Catalog.PoolSize
	}
	s.SweepInterval = TTLDuration(c.Duel.SweepInterval, s.SweepInterval)
	s.InactivityThreshold = TTLDuration(c.Duel.Inactivity, s.InactivityThreshold)
	if c.Duel.WinXP != nil {
		s.WinXP = *c.Duel.WinXP
	}
	if c.Duel.LossXP != nil {
		s.LossXP = *c.Duel.LossXP
	}
	if c.Duel.DrawXP != nil {
		s.DrawXP = *c.Duel.DrawXP
	}
	return s
}
