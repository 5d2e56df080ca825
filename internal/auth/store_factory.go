package auth

import (
	"errors"
	"fmt"

	"github.com/fivetwenty-io/docbridge/pkg/docbridge"
)

// StoreType represents the type of token store backend.
type StoreType string

const (
	// StoreTypeFile persists tokens in a YAML file.
	StoreTypeFile StoreType = "file"

	// StoreTypeNATS persists tokens in a NATS key-value bucket.
	StoreTypeNATS StoreType = "nats"

	// StoreTypeMemory keeps tokens for the lifetime of the process.
	StoreTypeMemory StoreType = "memory"

	// StoreTypeNone disables persistence.
	StoreTypeNone StoreType = "none"
)

// Static errors for err113 compliance.
var (
	ErrNATSConfigRequired   = errors.New("NATS configuration required for NATS token store")
	ErrUnsupportedStoreType = errors.New("unsupported token store type")
)

// StoreConfig configures a token store backend.
type StoreConfig struct {
	Type StoreType `json:"type" mapstructure:"type" yaml:"type"`
	// Path is the token file for StoreTypeFile; empty uses DefaultTokenFilePath.
	Path string `json:"path,omitempty" mapstructure:"path" yaml:"path,omitempty"`
	// Key separates tokens of different servers, normally the server origin.
	Key  string      `json:"key,omitempty"  mapstructure:"key"  yaml:"key,omitempty"`
	NATS *NATSConfig `json:"nats,omitempty" mapstructure:"nats" yaml:"nats,omitempty"`
}

// DefaultStoreConfig returns the file store configuration.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{Type: StoreTypeFile}
}

// NewStoreFromConfig creates a token store from configuration.
func NewStoreFromConfig(config *StoreConfig) (docbridge.TokenStore, error) {
	if config == nil {
		config = DefaultStoreConfig()
	}

	switch config.Type {
	case StoreTypeFile, "":
		path := config.Path
		if path == "" {
			defaultPath, err := DefaultTokenFilePath()
			if err != nil {
				return nil, err
			}

			path = defaultPath
		}

		return NewFileStore(path, config.Key), nil

	case StoreTypeNATS:
		if config.NATS == nil {
			return nil, ErrNATSConfigRequired
		}

		natsConfig := *config.NATS
		if natsConfig.Key == "" {
			natsConfig.Key = config.Key
		}

		return NewNATSStore(&natsConfig)

	case StoreTypeMemory:
		return NewMemoryStore(), nil

	case StoreTypeNone:
		return NoopStore{}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedStoreType, config.Type)
	}
}

// StoreBuilder helps build token store configurations.
type StoreBuilder struct {
	config *StoreConfig
}

// NewStoreBuilder creates a new store builder.
func NewStoreBuilder() *StoreBuilder {
	return &StoreBuilder{config: DefaultStoreConfig()}
}

// WithType sets the store type.
func (b *StoreBuilder) WithType(storeType StoreType) *StoreBuilder {
	b.config.Type = storeType

	return b
}

// WithPath sets the token file path.
func (b *StoreBuilder) WithPath(path string) *StoreBuilder {
	b.config.Path = path

	return b
}

// WithKey sets the per-server key.
func (b *StoreBuilder) WithKey(key string) *StoreBuilder {
	b.config.Key = key

	return b
}

// WithNATSConfig sets NATS store configuration.
func (b *StoreBuilder) WithNATSConfig(config *NATSConfig) *StoreBuilder {
	b.config.NATS = config

	return b
}

// Build creates the store from the configuration.
func (b *StoreBuilder) Build() (docbridge.TokenStore, error) {
	return NewStoreFromConfig(b.config)
}
