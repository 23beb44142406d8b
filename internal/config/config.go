package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration unmarshals yaml strings like "8h" or "30m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Server   Server   `yaml:"server"`
	SSO      SSO      `yaml:"sso"`
	Database Database `yaml:"database"`
	Session  Session  `yaml:"session"`
}

type Server struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type SSO struct {
	URL     string   `yaml:"url"`
	APIKey  string   `yaml:"api_key"`
	Timeout Duration `yaml:"timeout"`
}

type Database struct {
	URL string `yaml:"url"`
}

type Session struct {
	TTL           Duration `yaml:"ttl"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

func New(path string) (*Config, error) {
	c := &Config{
		Server: Server{
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		SSO: SSO{
			Timeout: Duration(10 * time.Second),
		},
		Session: Session{
			TTL:           Duration(8 * time.Hour),
			SweepInterval: Duration(30 * time.Minute),
		},
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// secrets may come from the environment instead of the file
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("SSO_API_KEY"); v != "" {
		c.SSO.APIKey = v
	}

	return c, nil
}
