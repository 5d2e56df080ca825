package docbridge_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fivetwenty-io/docbridge/internal/constants"
	"github.com/fivetwenty-io/docbridge/pkg/docbridge"
)

func TestError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      *docbridge.Error
		expected string
	}{
		{
			name:     "timeout",
			err:      docbridge.NewTimeoutError("/api/resource/Task", context.DeadlineExceeded),
			expected: "request to /api/resource/Task timed out",
		},
		{
			name:     "network",
			err:      docbridge.NewNetworkError("/api/resource/Task", errors.New("connection refused")),
			expected: "network unreachable: connection refused",
		},
		{
			name:     "schema missing",
			err:      &docbridge.Error{Kind: docbridge.KindSchemaMissing, Resource: "Issue"},
			expected: `resource "Issue" not found`,
		},
		{
			name:     "server fault with message",
			err:      &docbridge.Error{Kind: docbridge.KindServerFault, StatusCode: 500, Message: "boom"},
			expected: "server error (status 500): boom",
		},
		{
			name:     "unclassified",
			err:      &docbridge.Error{Kind: docbridge.KindUnclassified, StatusCode: 409},
			expected: "request failed with status 409",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestError_IsAndUnwrap(t *testing.T) {
	t.Parallel()

	cause := context.DeadlineExceeded
	wrapped := fmt.Errorf("listing Task: %w", docbridge.NewTimeoutError("/api/resource/Task", cause))

	assert.True(t, docbridge.IsTimeout(wrapped))
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)
	assert.False(t, docbridge.IsNotFound(wrapped))
	assert.Equal(t, docbridge.KindTimeout, docbridge.KindOf(wrapped))
	assert.Equal(t, docbridge.ErrorKind(""), docbridge.KindOf(errors.New("plain")))

	assert.True(t, docbridge.IsUnauthorized(&docbridge.Error{Kind: docbridge.KindAuthenticationFailed}))
	assert.True(t, docbridge.IsForbidden(&docbridge.Error{Kind: docbridge.KindPermissionDenied}))
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	assert.False(t, docbridge.Retryable(nil))
	assert.False(t, docbridge.Retryable(&docbridge.Error{Kind: docbridge.KindSchemaMissing}))
	assert.False(t, docbridge.Retryable(fmt.Errorf("item: %w", context.Canceled)))
	assert.True(t, docbridge.Retryable(&docbridge.Error{Kind: docbridge.KindServerFault}))
	assert.True(t, docbridge.Retryable(docbridge.NewTimeoutError("/x", nil)))
	assert.True(t, docbridge.Retryable(&docbridge.Error{Kind: docbridge.KindAuthenticationFailed}))
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	unit := 100 * time.Millisecond

	assert.Equal(t, 200*time.Millisecond, docbridge.Backoff(1, unit))
	assert.Equal(t, 400*time.Millisecond, docbridge.Backoff(2, unit))
	assert.Equal(t, 800*time.Millisecond, docbridge.Backoff(3, unit))
	assert.Equal(t, 200*time.Millisecond, docbridge.Backoff(0, unit))
	assert.Equal(t, 2*time.Second, docbridge.Backoff(1, 0))
}

func TestBackoff_Capped(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		attempt int
		unit    time.Duration
		want    time.Duration
	}{
		{name: "below the cap", attempt: 7, unit: time.Second, want: 128 * time.Second},
		{name: "first wait past the cap", attempt: 9, unit: time.Second, want: constants.MaxBackoff},
		{name: "beyond int64 nanoseconds", attempt: 100, unit: time.Second, want: constants.MaxBackoff},
		{name: "float overflow", attempt: 1 << 20, unit: time.Second, want: constants.MaxBackoff},
		{name: "huge unit", attempt: 1, unit: time.Duration(math.MaxInt64), want: constants.MaxBackoff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			wait := docbridge.Backoff(tt.attempt, tt.unit)
			assert.Equal(t, tt.want, wait)
			assert.Positive(t, wait)
		})
	}
}
