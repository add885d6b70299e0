package proxy

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransparentHTTPSStopsWithContext(t *testing.T) {
	s, _ := fixture_server(t, &fakeNetwork{handler: echoHandler("v1")})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serveTransparentHTTPS(ctx, ln) }()

	// Accepting before the cancel
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	_ = conn.Close()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener still serving after cancel")
	}

	_, err = net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err, "port released")
}

func TestStartTransparentHTTPSRejectsBadAddress(t *testing.T) {
	s, _ := fixture_server(t, &fakeNetwork{handler: echoHandler("v1")})
	err := s.StartTransparentHTTPS(context.Background(), "127.0.0.1:-1")
	assert.Error(t, err)
}
