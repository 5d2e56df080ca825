package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fivetwenty-io/docbridge/pkg/docbridge"
)

type fakeEntry struct {
	key   string
	value []byte
}

func (e fakeEntry) Bucket() string             { return DefaultNATSBucket }
func (e fakeEntry) Key() string                { return e.key }
func (e fakeEntry) Value() []byte              { return e.value }
func (e fakeEntry) Revision() uint64           { return 1 }
func (e fakeEntry) Created() time.Time         { return time.Time{} }
func (e fakeEntry) Delta() uint64              { return 0 }
func (e fakeEntry) Operation() nats.KeyValueOp { return nats.KeyValuePut }

type fakeKeyValue struct {
	mutex sync.Mutex
	data  map[string][]byte
}

func (f *fakeKeyValue) Get(key string) (nats.KeyValueEntry, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	value, ok := f.data[key]
	if !ok {
		return nil, nats.ErrKeyNotFound
	}

	return fakeEntry{key: key, value: value}, nil
}

func (f *fakeKeyValue) Put(key string, value []byte) (uint64, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.data[key] = value

	return 1, nil
}

func (f *fakeKeyValue) Delete(key string, opts ...nats.DeleteOpt) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if _, ok := f.data[key]; !ok {
		return nats.ErrKeyNotFound
	}

	delete(f.data, key)

	return nil
}

func TestNATSStore_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := &fakeKeyValue{data: map[string][]byte{}}
	store := &NATSStore{kv: kv, key: natsKey("https://erp.example.com:8443")}

	assert.Equal(t, "https.erp.example.com_8443", store.key)

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, docbridge.ErrTokenNotFound)

	require.NoError(t, store.Save(ctx, &docbridge.SecurityToken{Value: "kv-token", Source: docbridge.SourceServerFetch}))

	token, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "kv-token", token.Value)
	assert.Equal(t, docbridge.SourceServerFetch, token.Source)

	require.NoError(t, store.Clear(ctx))
	require.NoError(t, store.Clear(ctx))

	_, err = store.Load(ctx)
	require.ErrorIs(t, err, docbridge.ErrTokenNotFound)

	require.NoError(t, store.Close())

	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, docbridge.ErrStoreClosed)
}

func TestNATSKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "default", natsKey(""))
	assert.Equal(t, "http.localhost_8000", natsKey("http://localhost:8000"))
}
