// Package config loads server settings from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"

	// MinIdleTimeout keeps the idle sweep from spinning.
	MinIdleTimeout = 2 * time.Second
)

type Config struct {
	Addr            string
	Mode            string
	ClientOrigin    string
	DatabaseURL     string
	LogLevel        string
	RateLimitMax    int
	RateLimitWindow time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Load reads the environment. Callers load .env files beforehand.
func Load() (*Config, error) {
	addr, err := parseAddr(os.Getenv("PORT"))
	if err != nil {
		return nil, err
	}

	mode := strings.ToLower(getEnv("APP_ENV", ModeDevelopment))
	if mode != ModeDevelopment && mode != ModeProduction {
		return nil, fmt.Errorf("invalid APP_ENV value: %q", mode)
	}

	origin := strings.TrimSpace(os.Getenv("CLIENT_ORIGIN"))
	if origin == "" {
		if mode == ModeProduction {
			return nil, fmt.Errorf("CLIENT_ORIGIN is required when APP_ENV=%s", ModeProduction)
		}
		origin = "http://localhost:5173"
	}
	if _, err := originHost(origin); err != nil {
		return nil, err
	}

	rateMax, err := parseIntEnv("RATE_LIMIT_MAX", 10)
	if err != nil {
		return nil, err
	}
	if rateMax <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_MAX must be positive, got %d", rateMax)
	}

	rateWindow, err := parseDurationEnv("RATE_LIMIT_WINDOW", time.Second)
	if err != nil {
		return nil, err
	}

	idle, err := parseDurationEnv("IDLE_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	if idle < MinIdleTimeout {
		return nil, fmt.Errorf("IDLE_TIMEOUT must be at least %s, got %s", MinIdleTimeout, idle)
	}

	shutdown, err := parseDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	return &Config{
		Addr:            addr,
		Mode:            mode,
		ClientOrigin:    origin,
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", "info")),
		RateLimitMax:    rateMax,
		RateLimitWindow: rateWindow,
		IdleTimeout:     idle,
		ShutdownTimeout: shutdown,
	}, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Mode == ModeDevelopment
}

// OriginPatterns returns the host patterns websocket upgrades are accepted
// from. Development also allows any local port.
func (c *Config) OriginPatterns() []string {
	host, _ := originHost(c.ClientOrigin)
	patterns := []string{host}
	if c.IsDevelopment() {
		patterns = append(patterns, "localhost:*", "127.0.0.1:*")
	}
	return patterns
}

func originHost(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid CLIENT_ORIGIN value: %q", origin)
	}
	return u.Host, nil
}

func parseAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	// ":8080" and "127.0.0.1:8080" are passed through.
	if strings.Contains(port, ":") {
		return port, nil
	}

	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}
	return ":" + port, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseIntEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", key, err)
	}
	return v, nil
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, raw)
	}
	return v, nil
}
