// Package config provides configuration for the SCIM bridge server.
package config

import (
	"fmt"
	"os"
)

// Config holds the bridge server configuration.
type Config struct {
	// Server settings
	ListenAddr string

	// Entra ID app registration
	TenantID     string
	ClientID     string
	ClientSecret string

	// GraphBaseURL overrides the Microsoft Graph endpoint; empty means the
	// public v1.0 endpoint.
	GraphBaseURL string

	// SCIMTokenHash is the bcrypt hash inbound bearer tokens are verified
	// against.
	SCIMTokenHash string

	// Logging
	LogLevel string
}

// FromEnv loads configuration from environment variables.
func FromEnv() *Config {
	return &Config{
		ListenAddr:    getEnv("BRIDGE_LISTEN_ADDR", ":8080"),
		TenantID:      getEnv("TENANT_ID", ""),
		ClientID:      getEnv("CLIENT_ID", ""),
		ClientSecret:  getEnv("CLIENT_SECRET", ""),
		GraphBaseURL:  getEnv("GRAPH_BASE_URL", ""),
		SCIMTokenHash: getEnv("SCIM_TOKEN_HASH", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}
}

// Validate checks that the settings required to reach the directory are set.
func (c *Config) Validate() error {
	if c.TenantID == "" {
		return fmt.Errorf("TENANT_ID is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("CLIENT_ID is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("CLIENT_SECRET is required")
	}
	if c.SCIMTokenHash == "" {
		return fmt.Errorf("SCIM_TOKEN_HASH is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
