package config

import (
	"fmt"
	"time"

	"github.com/paywise/sendgate"
)

// fileConfig is the YAML layout. Rates are strings so they keep their exact
// decimal value; quote them in the file.
//
//	environment: production
//	signingSecret: ...
//	rateLimit:
//	  perHour: 100
//	  window: 1h
//	businessHours:
//	  start: 8
//	  end: 20
//	  zone: Asia/Jerusalem
//	tax:
//	  vatRate: "0.18"
//	  processingFeeRate: "0.0175"
//	token:
//	  ttl: 720h
//	  grace: 48h
//	  singleUse: false
//	redis:
//	  url: redis://localhost:6379/0
//	sweepInterval: 10m
//	logLevel: info
type fileConfig struct {
	Environment   string `yaml:"environment"`
	SigningSecret string `yaml:"signingSecret"`

	RateLimit struct {
		PerHour int    `yaml:"perHour"`
		Window  string `yaml:"window"`
	} `yaml:"rateLimit"`

	BusinessHours struct {
		Start int    `yaml:"start"`
		End   int    `yaml:"end"`
		Zone  string `yaml:"zone"`
	} `yaml:"businessHours"`

	Tax struct {
		VATRate           string `yaml:"vatRate"`
		ProcessingFeeRate string `yaml:"processingFeeRate"`
	} `yaml:"tax"`

	Token struct {
		TTL       string `yaml:"ttl"`
		Grace     string `yaml:"grace"`
		SingleUse bool   `yaml:"singleUse"`
	} `yaml:"token"`

	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`

	SweepInterval string `yaml:"sweepInterval"`
	LogLevel      string `yaml:"logLevel"`
}

func (fc fileConfig) toConfig() (sendgate.Config, error) {
	cfg := sendgate.Config{
		Environment:        fc.Environment,
		SigningSecret:      fc.SigningSecret,
		RateLimitPerHour:   fc.RateLimit.PerHour,
		BusinessHoursStart: fc.BusinessHours.Start,
		BusinessHoursEnd:   fc.BusinessHours.End,
		BusinessZone:       fc.BusinessHours.Zone,
		VATRate:            fc.Tax.VATRate,
		ProcessingFeeRate:  fc.Tax.ProcessingFeeRate,
		RedisURL:           fc.Redis.URL,
		SingleUseTokens:    fc.Token.SingleUse,
		LogLevel:           fc.LogLevel,
	}

	durations := []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{"rateLimit.window", fc.RateLimit.Window, &cfg.RateLimitWindow},
		{"token.ttl", fc.Token.TTL, &cfg.TokenTTL},
		{"token.grace", fc.Token.Grace, &cfg.TokenGrace},
		{"sweepInterval", fc.SweepInterval, &cfg.SweepInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", d.field, err)
		}
		*d.dst = v
	}
	return cfg, nil
}
