package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServerBindAddress(t *testing.T) {
	s := NewServer(Config{Port: 9999}, nil)
	assert.Equal(t, ":9999", s.server.Addr)

	s = NewServer(Config{Host: "127.0.0.1", Port: 9999}, nil)
	assert.Equal(t, "127.0.0.1:9999", s.server.Addr)
}

func TestServerDefaultPort(t *testing.T) {
	s := NewServer(Config{}, nil)
	assert.Equal(t, 8080, s.Port())
}
