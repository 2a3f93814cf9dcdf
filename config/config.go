// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ロケーター解析ポリシー。
const (
	LocatorPolicyPrefix    = "prefix"
	LocatorPolicyDelimiter = "delimiter"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port        string
	DatabaseURL string
	LogLevel    string

	// DRM配信設定（CONFIG_FILEのプロファイルで上書き可能）
	CertificateURL     string
	LicenseURL         string
	LocatorPolicy      string
	LocatorPrefix      string
	LocatorDelimiter   string
	LicenseContentType string

	NetworkTimeout   time.Duration
	SPCTimeout       time.Duration
	CertificateCache bool
	TicketRetention  time.Duration

	KMSKeyName         string
	GoogleCloudProject string

	OtelEnabled      bool
	OtelEndpoint     string
	OtelServiceName  string
	OtelSamplingRate float64
}

// Profile はTOML形式のデプロイメントプロファイル。
// 未指定の項目は環境変数の値を維持する。
type Profile struct {
	DRM struct {
		CertificateURL     string  `toml:"certificate_url"`
		LicenseURL         string  `toml:"license_url"`
		LicenseContentType *string `toml:"license_content_type"`
		Locator            struct {
			Policy    string `toml:"policy"`
			Prefix    string `toml:"prefix"`
			Delimiter string `toml:"delimiter"`
		} `toml:"locator"`
	} `toml:"drm"`
}

// Load は環境変数から設定を読み込み、CONFIG_FILEが指定されていればプロファイルを重ねる。
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),
		CertificateURL:     os.Getenv("CERTIFICATE_URL"),
		LicenseURL:         os.Getenv("LICENSE_URL"),
		LocatorPolicy:      getEnv("LOCATOR_POLICY", LocatorPolicyPrefix),
		LocatorPrefix:      getEnv("LOCATOR_PREFIX", "skd://"),
		LocatorDelimiter:   getEnv("LOCATOR_DELIMITER", "/"),
		LicenseContentType: "application/octet-stream",
		NetworkTimeout:     getDuration("NETWORK_TIMEOUT", 30*time.Second),
		SPCTimeout:         getDuration("SPC_TIMEOUT", 60*time.Second),
		CertificateCache:   getBool("CERTIFICATE_CACHE", true),
		TicketRetention:    getDuration("TICKET_RETENTION", 5*time.Minute),
		KMSKeyName:         os.Getenv("KMS_KEY_NAME"),
		GoogleCloudProject: os.Getenv("GOOGLE_CLOUD_PROJECT"),
		OtelEnabled:        getBool("OTEL_ENABLED", false),
		OtelEndpoint:       getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelServiceName:    getEnv("OTEL_SERVICE_NAME", "content-key-service"),
		OtelSamplingRate:   getFloat("OTEL_SAMPLING_RATE", 1.0),
	}
	// 空文字の指定はヘッダー送信なしを意味する
	if v, ok := os.LookupEnv("LICENSE_CONTENT_TYPE"); ok {
		cfg.LicenseContentType = v
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.ApplyProfile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyProfile はTOMLプロファイルを読み込み、設定を上書きする。
func (c *Config) ApplyProfile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading profile: %w", err)
	}

	var p Profile
	if err := toml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parsing profile: %w", err)
	}

	if p.DRM.CertificateURL != "" {
		c.CertificateURL = p.DRM.CertificateURL
	}
	if p.DRM.LicenseURL != "" {
		c.LicenseURL = p.DRM.LicenseURL
	}
	if p.DRM.LicenseContentType != nil {
		c.LicenseContentType = *p.DRM.LicenseContentType
	}
	if p.DRM.Locator.Policy != "" {
		c.LocatorPolicy = p.DRM.Locator.Policy
	}
	if p.DRM.Locator.Prefix != "" {
		c.LocatorPrefix = p.DRM.Locator.Prefix
	}
	if p.DRM.Locator.Delimiter != "" {
		c.LocatorDelimiter = p.DRM.Locator.Delimiter
	}
	return nil
}

// Validate は設定値の整合性を検証する。
func (c *Config) Validate() error {
	switch c.LocatorPolicy {
	case LocatorPolicyPrefix:
		if c.LocatorPrefix == "" {
			return errors.New("LOCATOR_PREFIX must not be empty for prefix policy")
		}
	case LocatorPolicyDelimiter:
		if c.LocatorDelimiter == "" {
			return errors.New("LOCATOR_DELIMITER must not be empty for delimiter policy")
		}
	default:
		return fmt.Errorf("unknown LOCATOR_POLICY %q", c.LocatorPolicy)
	}
	if c.NetworkTimeout <= 0 {
		return errors.New("NETWORK_TIMEOUT must be positive")
	}
	if c.SPCTimeout <= 0 {
		return errors.New("SPC_TIMEOUT must be positive")
	}
	if c.TicketRetention <= 0 {
		return errors.New("TICKET_RETENTION must be positive")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return defaultVal
	}
	return v
}

func getFloat(key string, defaultVal float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return defaultVal
	}
	return v
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return defaultVal
	}
	return v
}
