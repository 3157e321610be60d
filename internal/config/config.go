package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBFile          string
	AdminAddr       string
	APIAddr         string
	BaseURL         string
	TokenExpiry     time.Duration
	AudioCallLabel  string
	VideoCallLabel  string
	StrictPairCalls bool
	OutboundBuffer  int

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string
}

func Load() (*Config, error) {
	tokenExpiry, err := time.ParseDuration(getEnv("TOKEN_EXPIRY", "12h"))
	if err != nil {
		return nil, fmt.Errorf("TOKEN_EXPIRY: %w", err)
	}

	strictPairCalls, err := strconv.ParseBool(getEnv("STRICT_PAIR_CALLS", "false"))
	if err != nil {
		return nil, fmt.Errorf("STRICT_PAIR_CALLS: %w", err)
	}

	outboundBuffer, err := strconv.Atoi(getEnv("OUTBOUND_BUFFER", "64"))
	if err != nil {
		return nil, fmt.Errorf("OUTBOUND_BUFFER: %w", err)
	}

	cfg := &Config{
		DBFile:          getEnv("SVYAZ_DB", "svyaz.db"),
		AdminAddr:       getEnv("ADMIN_ADDR", "localhost:8081"),
		APIAddr:         getEnv("API_ADDR", ":8080"),
		BaseURL:         getEnv("BASE_URL", "http://localhost:8080"),
		TokenExpiry:     tokenExpiry,
		AudioCallLabel:  getEnv("CALL_LABEL_AUDIO", "Audio call"),
		VideoCallLabel:  getEnv("CALL_LABEL_VIDEO", "Video call"),
		StrictPairCalls: strictPairCalls,
		OutboundBuffer:  outboundBuffer,
		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubject:    os.Getenv("VAPID_SUBJECT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DBFile == "" {
		return fmt.Errorf("SVYAZ_DB must not be empty")
	}

	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}

	if c.OutboundBuffer <= 0 {
		return fmt.Errorf("OUTBOUND_BUFFER must be greater than 0")
	}

	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
