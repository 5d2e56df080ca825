package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/fivetwenty-io/docbridge/internal/constants"
	"github.com/fivetwenty-io/docbridge/pkg/docbridge"
)

// MemoryStore keeps the token for the lifetime of the process.
type MemoryStore struct {
	mutex sync.RWMutex
	token *docbridge.SecurityToken
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) (*docbridge.SecurityToken, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.token == nil {
		return nil, docbridge.ErrTokenNotFound
	}

	token := *s.token

	return &token, nil
}

func (s *MemoryStore) Save(ctx context.Context, token *docbridge.SecurityToken) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored := *token
	s.token = &stored

	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.token = nil

	return nil
}

// NoopStore never persists anything.
type NoopStore struct{}

func (NoopStore) Load(context.Context) (*docbridge.SecurityToken, error) {
	return nil, docbridge.ErrTokenNotFound
}

func (NoopStore) Save(context.Context, *docbridge.SecurityToken) error { return nil }

func (NoopStore) Clear(context.Context) error { return nil }

// FileStore persists tokens in a YAML file keyed by resource server, so one file
// can serve several servers.
type FileStore struct {
	path  string
	key   string
	mutex sync.Mutex
}

// NewFileStore creates a store for key (usually the server origin) in path.
func NewFileStore(path, key string) *FileStore {
	return &FileStore{path: path, key: key}
}

// DefaultTokenFilePath returns ~/.docbridge/tokens.yml.
func DefaultTokenFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	return filepath.Join(home, ".docbridge", "tokens.yml"), nil
}

func (s *FileStore) Load(ctx context.Context) (*docbridge.SecurityToken, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tokens, err := s.read()
	if err != nil {
		return nil, err
	}

	token, ok := tokens[s.key]
	if !ok || token.Value == "" {
		return nil, docbridge.ErrTokenNotFound
	}

	return &token, nil
}

func (s *FileStore) Save(ctx context.Context, token *docbridge.SecurityToken) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tokens, err := s.read()
	if err != nil {
		return err
	}

	tokens[s.key] = *token

	return s.write(tokens)
}

func (s *FileStore) Clear(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tokens, err := s.read()
	if err != nil {
		return err
	}

	if _, ok := tokens[s.key]; !ok {
		return nil
	}

	delete(tokens, s.key)

	return s.write(tokens)
}

func (s *FileStore) read() (map[string]docbridge.SecurityToken, error) {
	tokens := make(map[string]docbridge.SecurityToken)

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return tokens, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	err = yaml.Unmarshal(data, &tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}

	if tokens == nil {
		tokens = make(map[string]docbridge.SecurityToken)
	}

	return tokens, nil
}

func (s *FileStore) write(tokens map[string]docbridge.SecurityToken) error {
	err := os.MkdirAll(filepath.Dir(s.path), constants.ConfigDirPerm)
	if err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	data, err := yaml.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to marshal tokens: %w", err)
	}

	err = os.WriteFile(s.path, data, constants.ConfigFilePerm)
	if err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}

	return nil
}
