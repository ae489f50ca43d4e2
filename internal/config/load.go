package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	defaultSessionTTL      = 24 * time.Hour
	defaultCleanupInterval = time.Minute
)

// Load reads and validates the config file, resolving {"$env": "VAR"}
// references immediately so secrets never appear literally in the file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	if err := resolve(&config); err != nil {
		return Config{}, err
	}

	if err := Validate(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// resolve fills the computed fields from raw values and env references
func resolve(config *Config) error {
	web := &config.Web

	var err error
	if web.GitHub.ClientID, err = resolveSecret("github.clientId", web.GitHub.ClientIDRaw, false); err != nil {
		return err
	}
	if web.GitHub.ClientSecret, err = resolveSecret("github.clientSecret", web.GitHub.ClientSecretRaw, true); err != nil {
		return err
	}
	if web.TokenSecret, err = resolveSecret("tokenSecret", web.TokenSecretRaw, true); err != nil {
		return err
	}

	if web.Sessions == nil {
		web.Sessions = &SessionsConfig{}
	}
	if web.Sessions.Backend == "" {
		web.Sessions.Backend = SessionBackendMemory
	}
	web.Sessions.TTL = defaultSessionTTL
	if web.Sessions.TTLRaw != "" {
		ttl, err := time.ParseDuration(web.Sessions.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing sessions.ttl: %w", err)
		}
		web.Sessions.TTL = ttl
	}
	web.Sessions.CleanupInterval = defaultCleanupInterval
	if web.Sessions.CleanupRaw != "" {
		interval, err := time.ParseDuration(web.Sessions.CleanupRaw)
		if err != nil {
			return fmt.Errorf("parsing sessions.cleanupInterval: %w", err)
		}
		web.Sessions.CleanupInterval = interval
	}

	// Admin logins compare case-insensitively; normalize once at load
	for i, login := range web.AdminLogins {
		web.AdminLogins[i] = strings.ToLower(strings.TrimSpace(login))
	}

	return nil
}

// resolveSecret accepts either a literal JSON string or {"$env": "VAR_NAME"}.
// Secrets (mustBeEnv) are rejected in literal form so they cannot end up
// committed inside a config file.
func resolveSecret(field string, raw json.RawMessage, mustBeEnv bool) (Secret, error) {
	if raw == nil {
		return "", fmt.Errorf("%s is required", field)
	}

	var literal string
	if err := json.Unmarshal(raw, &literal); err == nil {
		if mustBeEnv {
			return "", fmt.Errorf("%s must use {\"$env\": \"VAR_NAME\"} format", field)
		}
		return Secret(literal), nil
	}

	var ref struct {
		Env string `json:"$env"`
	}
	if err := json.Unmarshal(raw, &ref); err != nil || ref.Env == "" {
		return "", fmt.Errorf("%s must be a string or {\"$env\": \"VAR_NAME\"}", field)
	}

	value, ok := os.LookupEnv(ref.Env)
	if !ok {
		return "", fmt.Errorf("%s: environment variable %s is not set", field, ref.Env)
	}
	return Secret(value), nil
}

// Validate checks the resolved configuration for completeness
func Validate(config *Config) error {
	web := &config.Web

	if config.Version == "" {
		return fmt.Errorf("config version is required")
	}
	if web.Addr == "" {
		return fmt.Errorf("web.addr is required")
	}
	if web.BaseURL == "" {
		return fmt.Errorf("web.baseUrl is required")
	}
	if _, err := url.Parse(web.BaseURL); err != nil {
		return fmt.Errorf("web.baseUrl is not a valid URL: %w", err)
	}
	if web.RegistryURL == "" {
		return fmt.Errorf("web.registryUrl is required")
	}
	if web.GitHub.ClientID == "" {
		return fmt.Errorf("web.github.clientId is required")
	}
	if web.GitHub.ClientSecret == "" {
		return fmt.Errorf("web.github.clientSecret is required")
	}
	if web.GitHub.RedirectURI == "" {
		return fmt.Errorf("web.github.redirectUri is required")
	}
	if web.TokenSecret == "" {
		return fmt.Errorf("web.tokenSecret is required")
	}
	if len(web.TokenSecret) < 16 {
		return fmt.Errorf("web.tokenSecret must be at least 16 characters")
	}

	switch web.Sessions.Backend {
	case SessionBackendMemory:
	case SessionBackendRedis:
		if web.Sessions.RedisAddr == "" {
			return fmt.Errorf("web.sessions.redisAddr is required for the redis backend")
		}
	case SessionBackendFirestore:
		if web.Sessions.FirestoreProject == "" {
			return fmt.Errorf("web.sessions.firestoreProject is required for the firestore backend")
		}
	default:
		return fmt.Errorf("unsupported session backend: %s", web.Sessions.Backend)
	}

	return nil
}
