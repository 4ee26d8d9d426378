package middleware

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchMIMEType(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		pattern     string
		want        bool
	}{
		{"exact match", "video/mp4", "video/mp4", true},
		{"wildcard match", "image/jpeg", "image/*", true},
		{"wildcard mismatch", "video/mp4", "image/*", false},
		{"no partial prefix", "imagex/jpeg", "image/*", false},
		{"mismatch", "audio/wav", "video/mp4", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchMIMEType(tt.contentType, tt.pattern))
		})
	}
}

func TestGetRealIP(t *testing.T) {
	t.Run("prefers X-Forwarded-For", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.2")
		assert.Equal(t, "203.0.113.5", GetRealIP(r))
	})

	t.Run("falls back to X-Real-IP", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		r.Header.Set("X-Real-IP", "203.0.113.9")
		assert.Equal(t, "203.0.113.9", GetRealIP(r))
	})

	t.Run("uses RemoteAddr without proxy headers", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		assert.Equal(t, "10.0.0.1", GetRealIP(r))
	})
}

func TestRateLimitKeys(t *testing.T) {
	t.Run("KeyByUser uses context user", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		ctx := context.WithValue(r.Context(), UserContextKey, &User{ID: "user_1"})
		assert.Equal(t, "user:user_1", KeyByUser(r.WithContext(ctx)))
	})

	t.Run("KeyByUser falls back to IP", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		assert.Equal(t, "ip:10.0.0.1", KeyByUser(r))
	})

	t.Run("KeyByAnonIP skips authenticated users", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		ctx := context.WithValue(r.Context(), UserContextKey, &User{ID: "user_1"})
		assert.Equal(t, "", KeyByAnonIP(r.WithContext(ctx)))
	})

	t.Run("KeyByAnonIP keys anonymous users by IP", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		ctx := context.WithValue(r.Context(), UserContextKey, &User{ID: AnonIDPrefix + "abc"})
		assert.Equal(t, "anon-ip:10.0.0.1", KeyByAnonIP(r.WithContext(ctx)))
	})
}

func TestIsAnonymous(t *testing.T) {
	assert.True(t, (*User)(nil).IsAnonymous())
	assert.True(t, (&User{ID: AnonIDPrefix + "550e8400"}).IsAnonymous())
	assert.False(t, (&User{ID: "user_2abc"}).IsAnonymous())
}
