package api

import (
	"fmt"
	"os"
	"time"

	"github.com/adapt-security/adapt-authoring-api/schema"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

const (
	// DefaultPageSize is the page size used when a request does not ask for
	// an explicit limit.
	DefaultPageSize = 50

	// DefaultMaxPageSize caps the page size a caller may request.
	DefaultMaxPageSize = 200

	// DefaultCacheLifespanMS is how long cached find results stay valid.
	DefaultCacheLifespanMS = 60 * 1000
)

// ConfigurationError indicates the service cannot become ready because of
// missing or contradictory startup configuration.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// NewConfigurationError formats a ConfigurationError.
func NewConfigurationError(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	cfgErr := &ConfigurationError{}
	return errors.As(err, &cfgErr)
}

// ResourceSettings describes one resource to mount on the API server.
type ResourceSettings struct {
	Root       string `yaml:"root" json:"root"`
	Collection string `yaml:"collection" json:"collection"`
	Schema     string `yaml:"schema" json:"schema"`
	// Fields inlines the schema's field definitions; resources without
	// fields are served unvalidated.
	Fields map[string]schema.FieldSpec `yaml:"fields" json:"fields"`
}

// Settings holds the process configuration for the API server.
type Settings struct {
	ListenAddr      string             `yaml:"listen_addr" json:"listen_addr"`
	MongoURI        string             `yaml:"mongo_uri" json:"mongo_uri"`
	Database        string             `yaml:"database" json:"database"`
	APIPrefix       string             `yaml:"api_prefix" json:"api_prefix"`
	DefaultPageSize int                `yaml:"default_page_size" json:"default_page_size"`
	MaxPageSize     int                `yaml:"max_page_size" json:"max_page_size"`
	CacheEnabled    bool               `yaml:"cache_enabled" json:"cache_enabled"`
	CacheLifespanMS int                `yaml:"cache_lifespan_ms" json:"cache_lifespan_ms"`
	Resources       []ResourceSettings `yaml:"resources" json:"resources"`
}

// NewSettings returns settings populated with defaults.
func NewSettings() *Settings {
	return &Settings{
		ListenAddr:      ":8080",
		MongoURI:        "mongodb://localhost:27017",
		APIPrefix:       "/api",
		DefaultPageSize: DefaultPageSize,
		MaxPageSize:     DefaultMaxPageSize,
		CacheEnabled:    true,
		CacheLifespanMS: DefaultCacheLifespanMS,
	}
}

// LoadSettings reads a yaml settings file over the defaults.
func LoadSettings(path string) (*Settings, error) {
	s := NewSettings()
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading settings file '%s'", path)
	}
	if err := yaml.Unmarshal(file, s); err != nil {
		return nil, errors.Wrapf(err, "unmarshalling settings file '%s'", path)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks for settings that have no usable default.
func (s *Settings) Validate() error {
	if s.Database == "" {
		return NewConfigurationError("no database name set")
	}
	if s.DefaultPageSize <= 0 {
		return NewConfigurationError("default page size must be positive, got %d", s.DefaultPageSize)
	}
	if s.MaxPageSize < s.DefaultPageSize {
		return NewConfigurationError("max page size %d is smaller than default page size %d", s.MaxPageSize, s.DefaultPageSize)
	}
	for _, r := range s.Resources {
		if r.Root == "" || r.Collection == "" {
			return NewConfigurationError("resource definitions need both a root and a collection")
		}
		if len(r.Fields) > 0 && r.Schema == "" {
			return NewConfigurationError("resource '%s' defines fields without a schema name", r.Root)
		}
		if len(r.Fields) == 0 && r.Schema != "" {
			return NewConfigurationError("resource '%s' names schema '%s' but defines no fields", r.Root, r.Schema)
		}
	}
	return nil
}

// CacheLifespan returns the result cache lifespan as a duration.
func (s *Settings) CacheLifespan() time.Duration {
	if s.CacheLifespanMS <= 0 {
		return time.Duration(DefaultCacheLifespanMS) * time.Millisecond
	}
	return time.Duration(s.CacheLifespanMS) * time.Millisecond
}
