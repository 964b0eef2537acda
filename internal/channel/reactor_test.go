package channel

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReactorReportsReadableTCPEndpoint(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		acceptedCh <- c
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer clientConn.Close()

	serverConn := <-acceptedCh
	defer serverConn.Close()

	server := NewTCPEndpoint(serverConn)
	client := NewTCPEndpoint(clientConn)

	r := NewReactor()
	defer r.Close()
	require.NoError(t, r.Register(server, false))

	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)

	var ready []Ready
	require.Eventually(t, func() bool {
		ready, err = r.Poll(100 * time.Millisecond)
		return err == nil && len(ready) > 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, server, ready[0].Endpoint)
	assert.True(t, ready[0].Readable)

	r.Unregister(server)
}

func TestReactorRejectsLocalEndpoint(t *testing.T) {
	dataEnd, _ := NewLocalPair(16)
	r := NewReactor()
	defer r.Close()
	err := r.Register(dataEnd, false)
	assert.Error(t, err)
}
