package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/fivetwenty-io/docbridge/internal/constants"
	"github.com/fivetwenty-io/docbridge/pkg/docbridge"
)

// NATSConfig configures the NATS key-value token store.
type NATSConfig struct {
	URL    string `json:"url"    mapstructure:"url"    yaml:"url"`
	Bucket string `json:"bucket" mapstructure:"bucket" yaml:"bucket"`
	// Key defaults to the server origin chosen by the caller.
	Key string `json:"key" mapstructure:"key" yaml:"key"`
}

// DefaultNATSBucket is used when NATSConfig.Bucket is empty.
const DefaultNATSBucket = "docbridge_tokens"

type keyValue interface {
	Get(key string) (nats.KeyValueEntry, error)
	Put(key string, value []byte) (uint64, error)
	Delete(key string, opts ...nats.DeleteOpt) error
}

// NATSStore shares the token through a JetStream key-value bucket, so several
// processes talking to one server reuse it.
type NATSStore struct {
	conn  *nats.Conn
	kv    keyValue
	key   string
	mutex sync.Mutex
}

// NewNATSStore connects to NATS and opens (or creates) the bucket.
func NewNATSStore(config *NATSConfig) (*NATSStore, error) {
	bucket := config.Bucket
	if bucket == "" {
		bucket = DefaultNATSBucket
	}

	conn, err := nats.Connect(config.URL, nats.Name("docbridge"), nats.Timeout(constants.NATSConnectTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()

		return nil, fmt.Errorf("failed to open JetStream: %w", err)
	}

	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucket,
			Description: "docbridge security tokens",
		})
	}

	if err != nil {
		conn.Close()

		return nil, fmt.Errorf("failed to open key-value bucket %s: %w", bucket, err)
	}

	return &NATSStore{conn: conn, kv: kv, key: natsKey(config.Key)}, nil
}

// natsKey maps an origin to a valid KV key.
func natsKey(raw string) string {
	replacer := strings.NewReplacer("://", ".", ":", "_", "/", "_")

	key := replacer.Replace(strings.TrimSpace(raw))
	if key == "" {
		return "default"
	}

	return key
}

func (s *NATSStore) Load(ctx context.Context) (*docbridge.SecurityToken, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.kv == nil {
		return nil, docbridge.ErrStoreClosed
	}

	entry, err := s.kv.Get(s.key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, docbridge.ErrTokenNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read token from NATS: %w", err)
	}

	var token docbridge.SecurityToken

	err = json.Unmarshal(entry.Value(), &token)
	if err != nil {
		return nil, fmt.Errorf("failed to decode stored token: %w", err)
	}

	if token.Value == "" {
		return nil, docbridge.ErrTokenNotFound
	}

	return &token, nil
}

func (s *NATSStore) Save(ctx context.Context, token *docbridge.SecurityToken) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.kv == nil {
		return docbridge.ErrStoreClosed
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	_, err = s.kv.Put(s.key, data)
	if err != nil {
		return fmt.Errorf("failed to write token to NATS: %w", err)
	}

	return nil
}

func (s *NATSStore) Clear(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.kv == nil {
		return docbridge.ErrStoreClosed
	}

	err := s.kv.Delete(s.key)
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete token from NATS: %w", err)
	}

	return nil
}

// Close releases the NATS connection.
func (s *NATSStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}

	s.kv = nil

	return nil
}
