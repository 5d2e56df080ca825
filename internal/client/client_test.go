package client_test

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fivetwenty-io/docbridge/internal/auth"
	"github.com/fivetwenty-io/docbridge/internal/client"
	"github.com/fivetwenty-io/docbridge/internal/constants"
	"github.com/fivetwenty-io/docbridge/internal/testserver"
	"github.com/fivetwenty-io/docbridge/pkg/docbridge"
)

func noEnv(string) (string, bool) {
	return "", false
}

func newConfig(server *testserver.Server, resource string) *docbridge.Config {
	cfg := docbridge.DefaultConfig()
	cfg.BaseURL = server.URL
	cfg.Resource = resource

	return cfg
}

func newClient(t *testing.T, cfg *docbridge.Config, options client.Options) *client.Client {
	t.Helper()

	if options.LookupEnv == nil {
		options.LookupEnv = noEnv
	}

	c, err := client.New(cfg, options)
	require.NoError(t, err)

	t.Cleanup(func() { _ = c.Close() })

	return c
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		config *docbridge.Config
		err    error
	}{
		{name: "nil config", config: nil, err: docbridge.ErrConfigRequired},
		{name: "missing base URL", config: &docbridge.Config{Resource: "Task"}, err: docbridge.ErrBaseURLRequired},
		{name: "missing resource", config: &docbridge.Config{BaseURL: "https://erp.example.com"}, err: docbridge.ErrResourceRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := client.New(tt.config, client.Options{})
			require.ErrorIs(t, err, tt.err)
		})
	}

	t.Run("normalizes base URL", func(t *testing.T) {
		t.Parallel()

		c, err := client.New(&docbridge.Config{BaseURL: "erp.example.com/", Resource: "Task"}, client.Options{})
		require.NoError(t, err)

		assert.Equal(t, "https://erp.example.com", c.Config().BaseURL)
		assert.Equal(t, uint64(1), c.Snapshot().SessionNumber)
	})
}

//nolint:funlen // Test functions can be longer for comprehensive testing
func TestClient_CRUD(t *testing.T) {
	t.Parallel()

	server := testserver.New("Task")
	defer server.Close()

	server.AuthToken = "token key:secret"

	cfg := newConfig(server, "Task")
	cfg.AuthToken = "token key:secret"
	cfg.SkipSecurityToken = true

	c := newClient(t, cfg, client.Options{})
	ctx := context.Background()

	created, err := c.Create(ctx, "Task", docbridge.Record{"subject": "first"})
	require.NoError(t, err)
	assert.Equal(t, "first", created["subject"])

	name, ok := created["name"].(string)
	require.True(t, ok)

	fetched, err := c.Get(ctx, "Task", name)
	require.NoError(t, err)
	assert.Equal(t, "first", fetched["subject"])

	updated, err := c.Update(ctx, "Task", name, docbridge.Record{"subject": "renamed"})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated["subject"])

	records, err := c.List(ctx, "", nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "renamed", records[0]["subject"])

	require.NoError(t, c.Delete(ctx, "Task", name))

	records, err = c.List(ctx, "Task", &docbridge.ListOptions{PageLength: 10})
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = c.Get(ctx, "Task", name)
	require.ErrorIs(t, err, docbridge.ErrNotFound)
}

func TestClient_ListAbsorbsOptionalResource(t *testing.T) {
	t.Parallel()

	server := testserver.New("HD Ticket")
	defer server.Close()

	cfg := newConfig(server, "HD Ticket")
	cfg.OptionalResources = []string{"HD Ticket Comment"}

	c := newClient(t, cfg, client.Options{})

	records, err := c.List(context.Background(), "HD Ticket Comment", nil)
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = c.Create(context.Background(), "HD Ticket Comment", docbridge.Record{"content": "x"})
	require.ErrorIs(t, err, docbridge.ErrSchemaMissing)
}

func TestClient_ListMissingPrimary(t *testing.T) {
	t.Parallel()

	server := testserver.New()
	defer server.Close()

	c := newClient(t, newConfig(server, "HD Ticket"), client.Options{})

	_, err := c.List(context.Background(), "", nil)
	require.ErrorIs(t, err, docbridge.ErrSchemaMissing)
	assert.True(t, docbridge.IsSchemaMissing(err))
}

//nolint:funlen // Test functions can be longer for comprehensive testing
func TestClient_SecurityToken(t *testing.T) {
	t.Parallel()

	t.Run("fetched once from the token endpoint", func(t *testing.T) {
		t.Parallel()

		server := testserver.New("Task")
		defer server.Close()

		server.SecurityToken = "abcdef123456"
		server.RequireToken = true

		store := auth.NewMemoryStore()
		factory := func(*docbridge.Config) (docbridge.TokenStore, error) { return store, nil }

		c := newClient(t, newConfig(server, "Task"), client.Options{StoreFactory: factory})
		ctx := context.Background()

		_, err := c.Create(ctx, "Task", docbridge.Record{"subject": "a"})
		require.NoError(t, err)

		_, err = c.Create(ctx, "Task", docbridge.Record{"subject": "b"})
		require.NoError(t, err)

		assert.Equal(t, 1, server.Hits(http.MethodGet, constants.DefaultTokenPath))
		assert.Len(t, server.Records("Task"), 2)

		token, err := c.ResolveSecurityToken(ctx)
		require.NoError(t, err)
		require.NotNil(t, token)
		assert.Equal(t, "abcdef123456", token.Value)
		assert.Equal(t, docbridge.SourceServerFetch, token.Source)

		persisted, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "abcdef123456", persisted.Value)

		snapshot := c.Snapshot()
		assert.Equal(t, "abcd***", snapshot.Token)
		assert.Equal(t, docbridge.SourceServerFetch, snapshot.TokenSource)
	})

	t.Run("meta tag wins over the network", func(t *testing.T) {
		t.Parallel()

		server := testserver.New("Task")
		defer server.Close()

		server.SecurityToken = "meta-token-value"
		server.RequireToken = true

		document := auth.StringDocument(`<html><head><meta name="csrf-token" content="meta-token-value"></head><body></body></html>`)

		c := newClient(t, newConfig(server, "Task"), client.Options{Document: document})

		token, err := c.ResolveSecurityToken(context.Background())
		require.NoError(t, err)
		require.NotNil(t, token)
		assert.Equal(t, docbridge.SourceMetaTag, token.Source)

		_, err = c.Create(context.Background(), "Task", docbridge.Record{"subject": "a"})
		require.NoError(t, err)
		assert.Equal(t, 0, server.Hits(http.MethodGet, constants.DefaultTokenPath))
	})

	t.Run("skipped", func(t *testing.T) {
		t.Parallel()

		server := testserver.New("Task")
		defer server.Close()

		server.SecurityToken = "never-used-token"

		cfg := newConfig(server, "Task")
		cfg.SkipSecurityToken = true

		c := newClient(t, cfg, client.Options{})

		token, err := c.ResolveSecurityToken(context.Background())
		require.NoError(t, err)
		assert.Nil(t, token)

		_, err = c.Create(context.Background(), "Task", docbridge.Record{"subject": "a"})
		require.NoError(t, err)

		for _, header := range server.Headers() {
			assert.Empty(t, header.Get(constants.SecurityTokenHeader))
		}
	})

	t.Run("environment", func(t *testing.T) {
		t.Parallel()

		server := testserver.New("Task")
		defer server.Close()

		lookup := func(key string) (string, bool) {
			if key == constants.EnvSecurityToken {
				return "env-token-value", true
			}

			return "", false
		}

		c := newClient(t, newConfig(server, "Task"), client.Options{LookupEnv: lookup})

		token, err := c.ResolveSecurityToken(context.Background())
		require.NoError(t, err)
		require.NotNil(t, token)
		assert.Equal(t, docbridge.SourceEnvironment, token.Source)
	})
}

func TestClient_BulkCreateUsesFallback(t *testing.T) {
	t.Parallel()

	server := testserver.New("ToDo")
	defer server.Close()

	cfg := newConfig(server, "HD Ticket")
	cfg.FallbackResources = []string{"Issue", "ToDo"}
	cfg.FallbackMode = true
	cfg.SkipSecurityToken = true

	c := newClient(t, cfg, client.Options{})

	records := []docbridge.Record{{"subject": "a"}, {"subject": "b"}, {"subject": "c"}}

	result, err := c.BulkCreate(context.Background(), records, docbridge.BulkOptions{BatchSize: 2})
	require.NoError(t, err)

	assert.Equal(t, "ToDo", result.Target)
	assert.Equal(t, 3, result.Completed)
	assert.True(t, result.Success)
	assert.Len(t, result.Batches, 2)
	assert.Len(t, server.Records("ToDo"), 3)

	for _, header := range server.Headers() {
		if header.Get("Content-Type") != "" {
			assert.NotEmpty(t, header.Get(constants.IdempotencyKeyHeader))
		}
	}

	system := c.Snapshot().SystemInfo
	require.NotNil(t, system)
	assert.Equal(t, "ToDo", system.WriteTarget)
}

func TestClient_BulkCreateRetriesServerFaults(t *testing.T) {
	t.Parallel()

	server := testserver.New("Task")
	defer server.Close()

	server.FailCreates("Task", testserver.Failure{Status: http.StatusInternalServerError, Count: 2})

	cfg := newConfig(server, "Task")
	cfg.SkipSecurityToken = true

	c := newClient(t, cfg, client.Options{})

	result, err := c.BulkCreate(context.Background(), []docbridge.Record{{"subject": "a"}}, docbridge.BulkOptions{
		MaxRetries:  docbridge.Retries(3),
		BackoffUnit: 1,
	})
	require.NoError(t, err)

	require.Len(t, result.Results, 1)
	assert.True(t, result.Results[0].Success)
	assert.Equal(t, 3, result.Results[0].Attempts)
	assert.Equal(t, 2, result.Retries)
	assert.Len(t, server.Records("Task"), 1)
}

func TestClient_ReconfigureDropsCaches(t *testing.T) {
	t.Parallel()

	server := testserver.New("Task")
	defer server.Close()

	cfg := newConfig(server, "Task")
	c := newClient(t, cfg, client.Options{})
	ctx := context.Background()

	metadataPath := "/api/resource/DocType/Task"

	info := c.ProbeResource(ctx, "Task", false)
	assert.True(t, info.Exists)

	_ = c.ProbeResource(ctx, "Task", false)
	assert.Equal(t, 1, server.Hits(http.MethodGet, metadataPath))
	assert.Len(t, c.Snapshot().Resources, 1)

	next := cfg.Clone()
	next.FallbackMode = true

	require.NoError(t, c.Reconfigure(next))

	snapshot := c.Snapshot()
	assert.Equal(t, uint64(2), snapshot.SessionNumber)
	assert.True(t, snapshot.FallbackMode)
	assert.Empty(t, snapshot.Resources)
	assert.Nil(t, snapshot.SystemInfo)

	_ = c.ProbeResource(ctx, "Task", false)
	assert.Equal(t, 2, server.Hits(http.MethodGet, metadataPath))
}

// closingStore counts Close calls on an in-memory store.
type closingStore struct {
	*auth.MemoryStore
	closes atomic.Int32
}

func (s *closingStore) Close() error {
	s.closes.Add(1)

	return nil
}

func TestClient_StoreOwnership(t *testing.T) {
	t.Parallel()

	t.Run("caller-supplied store is never closed", func(t *testing.T) {
		t.Parallel()

		server := testserver.New("Task")
		defer server.Close()

		shared := &closingStore{MemoryStore: auth.NewMemoryStore()}
		cfg := newConfig(server, "Task")

		c, err := client.New(cfg, client.Options{LookupEnv: noEnv, Store: shared})
		require.NoError(t, err)

		require.NoError(t, c.Reconfigure(cfg.Clone()))
		require.NoError(t, c.Reconfigure(cfg.Clone()))
		assert.Equal(t, int32(0), shared.closes.Load())

		require.NoError(t, c.Close())
		assert.Equal(t, int32(0), shared.closes.Load())

		// Still usable by its owner.
		require.NoError(t, shared.Save(context.Background(), &docbridge.SecurityToken{Value: "kept"}))
	})

	t.Run("factory stores are closed with their session", func(t *testing.T) {
		t.Parallel()

		server := testserver.New("Task")
		defer server.Close()

		var created []*closingStore

		factory := func(*docbridge.Config) (docbridge.TokenStore, error) {
			store := &closingStore{MemoryStore: auth.NewMemoryStore()}
			created = append(created, store)

			return store, nil
		}

		cfg := newConfig(server, "Task")

		c, err := client.New(cfg, client.Options{LookupEnv: noEnv, StoreFactory: factory})
		require.NoError(t, err)

		require.NoError(t, c.Reconfigure(cfg.Clone()))
		require.Len(t, created, 2)
		assert.Equal(t, int32(1), created[0].closes.Load())
		assert.Equal(t, int32(0), created[1].closes.Load())

		require.NoError(t, c.Close())
		assert.Equal(t, int32(1), created[1].closes.Load())
	})
}

func TestClient_TokenFetchTimeout(t *testing.T) {
	t.Parallel()

	server := testserver.New("Task")
	defer server.Close()

	server.SecurityToken = "late-token"
	server.TokenDelay = 5 * time.Second

	c := newClient(t, newConfig(server, "Task"), client.Options{TokenTimeout: 50 * time.Millisecond})

	started := time.Now()

	token, _ := c.ResolveSecurityToken(context.Background())
	assert.Nil(t, token)
	assert.Less(t, time.Since(started), 2*time.Second)
}

func TestClient_ReconfigureRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	server := testserver.New("Task")
	defer server.Close()

	c := newClient(t, newConfig(server, "Task"), client.Options{})

	err := c.Reconfigure(&docbridge.Config{BaseURL: server.URL})
	require.ErrorIs(t, err, docbridge.ErrResourceRequired)

	assert.Equal(t, "Task", c.Config().Resource)
	assert.Equal(t, uint64(1), c.Snapshot().SessionNumber)
}

func TestClient_ConfigIsACopy(t *testing.T) {
	t.Parallel()

	server := testserver.New("Task")
	defer server.Close()

	c := newClient(t, newConfig(server, "Task"), client.Options{})

	cfg := c.Config()
	cfg.Resource = "Changed"

	assert.Equal(t, "Task", c.Config().Resource)
}

func TestClient_Closed(t *testing.T) {
	t.Parallel()

	server := testserver.New("Task")
	defer server.Close()

	c, err := client.New(newConfig(server, "Task"), client.Options{LookupEnv: noEnv})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Reconfigure(newConfig(server, "Task")), client.ErrClientClosed)
}

func TestClient_CrossOrigin(t *testing.T) {
	t.Parallel()

	server := testserver.New("Task")
	defer server.Close()

	server.SecurityToken = "abcdef123456"

	cfg := newConfig(server, "Task")
	cfg.Origin = "https://portal.example.com"

	c := newClient(t, cfg, client.Options{})

	_, err := c.Create(context.Background(), "Task", docbridge.Record{"subject": "a"})
	require.NoError(t, err)

	assert.True(t, c.Snapshot().CrossOrigin)
	assert.Equal(t, 0, server.Hits(http.MethodGet, constants.DefaultTokenPath))

	for _, header := range server.Headers() {
		assert.Empty(t, header.Get(constants.SecurityTokenHeader))
	}
}
