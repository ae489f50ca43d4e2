package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeRedirectTarget(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   string
	}{
		{"relative path", "/dashboard", "/dashboard"},
		{"relative path with query", "/bars/foo?tab=docs", "/bars/foo?tab=docs"},
		{"empty", "", "/"},
		{"protocol relative", "//evil.com", "/"},
		{"protocol relative with path", "//evil.com/phish", "/"},
		{"absolute url", "https://evil.com", "/"},
		{"absolute url in path", "/redirect?to=https://evil.com", "/"},
		{"no leading slash", "dashboard", "/"},
		{"scheme without slashes", "javascript:alert(1)", "/"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SafeRedirectTarget(tc.target))
		})
	}
}
