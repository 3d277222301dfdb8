package config

import (
	"log/slog"
	"os"
	"runtime"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the packetlens tool.
type Config struct {
	// Capture defaults
	Interface   string
	Filter      string
	Snaplen     int
	Promiscuous bool

	// Memory budget for buffered-but-unsent capture payloads, in bytes.
	MaxCaptureBytes int64

	// Proxy server bind
	ProxyAddress string
	ProxyPort    int

	// Inspection API bind
	APIAddress string
	APIPort    int

	// Storage paths
	CookiePath string
	LogPath    string
	ReportPath string
}

// Load reads configuration from environment variables and an optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		Interface:       getEnvOrDefault("PACKETLENS_INTERFACE", defaultInterface()),
		Filter:          getEnvOrDefault("PACKETLENS_FILTER", "tcp port 80 or tcp port 443"),
		Snaplen:         getEnvIntOrDefault("PACKETLENS_SNAPLEN", 65535),
		Promiscuous:     getEnvBoolOrDefault("PACKETLENS_PROMISCUOUS", true),
		MaxCaptureBytes: int64(getEnvIntOrDefault("PACKETLENS_MAX_CAPTURE_BYTES", 100*1024*1024)),
		ProxyAddress:    getEnvOrDefault("PACKETLENS_PROXY_ADDRESS", "127.0.0.1"),
		ProxyPort:       getEnvIntOrDefault("PACKETLENS_PROXY_PORT", 8080),
		APIAddress:      getEnvOrDefault("PACKETLENS_API_ADDRESS", "127.0.0.1"),
		APIPort:         getEnvIntOrDefault("PACKETLENS_API_PORT", 8089),
		CookiePath:      getEnvOrDefault("PACKETLENS_COOKIE_PATH", "./cookies.json"),
		LogPath:         getEnvOrDefault("PACKETLENS_LOG_PATH", "./requests.log"),
		ReportPath:      getEnvOrDefault("PACKETLENS_REPORT_PATH", "./performance_report.json"),
	}

	return cfg, nil
}

func defaultInterface() string {
	if runtime.GOOS == "darwin" {
		return "en0"
	}
	return "eth0"
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
