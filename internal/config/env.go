package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v10"
)

// Secrets are read from the environment and override the file values.
type Secrets struct {
	WarpcastAccessToken string   `env:"WARPCAST_ACCESS_TOKEN"`
	WarpcastAPIKey      string   `env:"WARPCAST_API_KEY"`
	NATSURL             string   `env:"NATS_URL"`
	RedisURL            string   `env:"REDIS_URL"`
	EthRPCURLs          []string `env:"ETH_RPC_URL" envSeparator:","`
	MetricsToken        string   `env:"METRICS_TOKEN"`
}

// LoadSecrets parses secrets from environ, or from the process environment
// when environ is nil.
func LoadSecrets(environ map[string]string) (Secrets, error) {
	var s Secrets
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&s, opts); err != nil {
		return Secrets{}, fmt.Errorf("config: env: %w", err)
	}
	return s, nil
}

// Overlay copies every non-empty secret into cfg.
func (s Secrets) Overlay(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(s.WarpcastAccessToken); v != "" {
		cfg.Warpcast.AccessToken = v
	}
	if v := strings.TrimSpace(s.WarpcastAPIKey); v != "" {
		cfg.Warpcast.APIKey = v
	}
	if v := strings.TrimSpace(s.NATSURL); v != "" {
		if cfg.Queue.NATS == nil {
			cfg.Queue.NATS = &NATSConfig{}
		}
		cfg.Queue.NATS.URL = v
	}
	if v := strings.TrimSpace(s.RedisURL); v != "" && cfg.Storage != nil {
		cfg.Storage.RedisURL = v
	}
	if v := strings.TrimSpace(s.MetricsToken); v != "" {
		cfg.Metrics.Token = v
	}
	urls := make([]string, 0, len(s.EthRPCURLs))
	for _, u := range s.EthRPCURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) > 0 {
		cfg.Ethereum.RPCURLs = urls
	}
}
