package config

import (
	"encoding/json"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// SessionBackend selects the session store implementation
type SessionBackend string

const (
	SessionBackendMemory    SessionBackend = "memory"
	SessionBackendRedis     SessionBackend = "redis"
	SessionBackendFirestore SessionBackend = "firestore"
)

// GitHubConfig holds the OAuth application credentials and endpoint
// overrides for the identity provider.
type GitHubConfig struct {
	ClientIDRaw     json.RawMessage `json:"clientId"`
	ClientSecretRaw json.RawMessage `json:"clientSecret"`
	RedirectURI     string          `json:"redirectUri"`

	// Overridable for tests; empty means the public GitHub endpoints.
	AuthURL    string `json:"authUrl,omitempty"`
	TokenURL   string `json:"tokenUrl,omitempty"`
	APIBaseURL string `json:"apiBaseUrl,omitempty"`

	// Computed fields
	ClientID     Secret `json:"-"`
	ClientSecret Secret `json:"-"`
}

// SessionsConfig configures the server-side session store
type SessionsConfig struct {
	Backend             SessionBackend `json:"backend,omitempty"`
	TTLRaw              string         `json:"ttl,omitempty"`
	CleanupRaw          string         `json:"cleanupInterval,omitempty"`
	RedisAddr           string         `json:"redisAddr,omitempty"`
	RedisDB             int            `json:"redisDb,omitempty"`
	FirestoreProject    string         `json:"firestoreProject,omitempty"`
	FirestoreCollection string         `json:"firestoreCollection,omitempty"`

	// Computed fields
	TTL             time.Duration `json:"-"`
	CleanupInterval time.Duration `json:"-"`
}

// WebConfig is the top-level server configuration
type WebConfig struct {
	BaseURL        string          `json:"baseUrl"`
	Addr           string          `json:"addr"`
	RegistryURL    string          `json:"registryUrl"`
	GitHub         GitHubConfig    `json:"github"`
	TokenSecretRaw json.RawMessage `json:"tokenSecret"`
	AdminLogins    []string        `json:"adminLogins,omitempty"`
	AllowedOrigins []string        `json:"allowedOrigins,omitempty"`
	Sessions       *SessionsConfig `json:"sessions,omitempty"`

	// Computed fields
	TokenSecret Secret `json:"-"`
}

// Config is the root of the configuration file
type Config struct {
	Version string    `json:"version"`
	Web     WebConfig `json:"web"`
}
