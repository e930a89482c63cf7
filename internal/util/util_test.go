package util

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"shop.example", "shop.example"},
		{"  Shop.Example  ", "shop.example"},
		{"https://www.shop.example:443/cart", "shop.example"},
		{"http://localhost:8080", "localhost"},
		{"www.shop.example/path", "shop.example"},
		{"shop_example!.com", "shopexample.com"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeDomain(tt.in))
		})
	}
}

func TestNewAPIKey(t *testing.T) {
	a, b := NewAPIKey(), NewAPIKey()
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func TestNewAt(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id, err := ulid.Parse(NewAt(ts))
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(ts), id.Time())
}
