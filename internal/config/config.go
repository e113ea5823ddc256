package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerPort     string
	IngestURL      string
	RefreshURL     string
	RedisURL       string
	PostgresURL    string
	DeviceKey      string
	SourceVendor   string
	AccessToken    string
	RefreshToken   string
	BufferCapacity int
	BatchInterval  time.Duration
	SendTimeout    time.Duration
	ClimateURL     string
	PollInterval   time.Duration
}

func LoadConfig() (*Config, error) {
	capacity, err := strconv.Atoi(getEnv("BUFFER_CAPACITY", "200"))
	if err != nil || capacity <= 0 {
		return nil, errors.New("invalid BUFFER_CAPACITY")
	}

	interval, err := time.ParseDuration(getEnv("BATCH_INTERVAL", "30s"))
	if err != nil {
		return nil, errors.New("invalid BATCH_INTERVAL format")
	}

	timeout, err := time.ParseDuration(getEnv("SEND_TIMEOUT", "20s"))
	if err != nil {
		return nil, errors.New("invalid SEND_TIMEOUT format")
	}

	poll, err := time.ParseDuration(getEnv("POLL_INTERVAL", "60s"))
	if err != nil {
		return nil, errors.New("invalid POLL_INTERVAL format")
	}

	cfg := &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		IngestURL:      os.Getenv("INGEST_URL"),
		RefreshURL:     os.Getenv("REFRESH_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		PostgresURL:    os.Getenv("POSTGRES_URL"),
		DeviceKey:      os.Getenv("DEVICE_KEY"),
		SourceVendor:   getEnv("SOURCE_VENDOR", "smartfilterpro"),
		AccessToken:    os.Getenv("ACCESS_TOKEN"),
		RefreshToken:   os.Getenv("REFRESH_TOKEN"),
		BufferCapacity: capacity,
		BatchInterval:  interval,
		SendTimeout:    timeout,
		ClimateURL:     os.Getenv("CLIMATE_URL"),
		PollInterval:   poll,
	}

	// Validate required fields
	if cfg.IngestURL == "" {
		return nil, errors.New("INGEST_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.DeviceKey == "" {
		return nil, errors.New("DEVICE_KEY is required")
	}

	return cfg, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
