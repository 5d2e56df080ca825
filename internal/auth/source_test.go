package auth_test

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fivetwenty-io/docbridge/internal/auth"
	"github.com/fivetwenty-io/docbridge/pkg/docbridge"
)

func TestMetaTagSource_TryRead(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		document string
		expected string
	}{
		{
			name:     "csrf-token meta tag",
			document: `<html><head><meta name="csrf-token" content="abc123"></head><body></body></html>`,
			expected: "abc123",
		},
		{
			name:     "underscore name in body",
			document: `<html><body><div><meta name="csrf_token" content=" tok-2 "></div></body></html>`,
			expected: "tok-2",
		},
		{
			name:     "case-insensitive name",
			document: `<html><head><meta NAME="X-CSRF-Token" content="upper"></head></html>`,
			expected: "upper",
		},
		{
			name:     "empty content is ignored",
			document: `<html><head><meta name="csrf-token" content=""></head></html>`,
			expected: "",
		},
		{
			name:     "no meta tag",
			document: `<html><head><title>Desk</title></head></html>`,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			source := &auth.MetaTagSource{Document: auth.StringDocument(tt.document)}
			value, err := source.TryRead(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.expected, value)
			assert.Equal(t, docbridge.SourceMetaTag, source.Kind())
		})
	}
}

func TestMetaTagSource_NoDocument(t *testing.T) {
	t.Parallel()

	value, err := (&auth.MetaTagSource{}).TryRead(context.Background())
	require.NoError(t, err)
	assert.Empty(t, value)

	_, err = (&auth.MetaTagSource{Document: auth.FileDocument("/nonexistent/desk.html")}).TryRead(context.Background())
	assert.Error(t, err)
}

func TestEnvSource_TryRead(t *testing.T) {
	t.Parallel()

	env := map[string]string{"CSRF_TOKEN": "from-alias"}
	lookup := func(key string) (string, bool) {
		value, ok := env[key]

		return value, ok
	}

	source := &auth.EnvSource{Lookup: lookup}
	value, err := source.TryRead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-alias", value)

	env["DOCBRIDGE_CSRF_TOKEN"] = "primary"
	value, err = source.TryRead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "primary", value)

	empty := &auth.EnvSource{Lookup: func(string) (string, bool) { return "", false }}
	value, err = empty.TryRead(context.Background())
	require.NoError(t, err)
	assert.Empty(t, value)
}

func TestCookieSource_TryRead(t *testing.T) {
	t.Parallel()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	target, err := url.Parse("https://erp.example.com")
	require.NoError(t, err)

	jar.SetCookies(target, []*http.Cookie{
		{Name: "sid", Value: "session"},
		{Name: "csrftoken", Value: "cookie%2Btoken"},
	})

	source := &auth.CookieSource{Jar: jar, URL: "https://erp.example.com"}
	value, err := source.TryRead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cookie+token", value)

	other := &auth.CookieSource{Jar: jar, URL: "https://other.example.com"}
	value, err = other.TryRead(context.Background())
	require.NoError(t, err)
	assert.Empty(t, value)

	_, err = (&auth.CookieSource{Jar: jar, URL: "::bad"}).TryRead(context.Background())
	assert.ErrorIs(t, err, auth.ErrInvalidCookieURL)
}

func TestDecodeTokenResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		expected string
		wantErr  bool
	}{
		{name: "message", body: `{"message": "m-token"}`, expected: "m-token"},
		{name: "csrf_token", body: `{"csrf_token": "c-token"}`, expected: "c-token"},
		{name: "nested data", body: `{"data": {"csrf_token": "d-token"}}`, expected: "d-token"},
		{name: "non-string message falls through", body: `{"message": {"x": 1}, "csrf_token": "c"}`, expected: "c"},
		{name: "empty reply", body: `{"message": ""}`, wantErr: true},
		{name: "not json", body: `<html>`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			value, err := auth.DecodeTokenResponse([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, value)
		})
	}
}
