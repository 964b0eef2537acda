package channel

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Local Transport
// ============================================================================

func TestNewLocalPair(t *testing.T) {
	dataEnd, moverEnd := NewLocalPair(4096)

	assert.Equal(t, TransportLocal, dataEnd.Transport())
	assert.Equal(t, TransportLocal, moverEnd.Transport())
	assert.Equal(t, StatusExclude, dataEnd.Status())
	assert.Equal(t, StatusExclude, moverEnd.Status())
}

func TestLocalReadWriteWouldBlock(t *testing.T) {
	dataEnd, moverEnd := NewLocalPair(16)
	dataEnd.Commit(DirectionWrite)
	moverEnd.Commit(DirectionRead)

	buf := make([]byte, 4)
	n, err := moverEnd.Read(buf)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, ErrWouldBlock)

	n, err = dataEnd.Write([]byte("abcd"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = moverEnd.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "abcd", string(buf[:n]))
}

func TestLocalWriteFull(t *testing.T) {
	dataEnd, moverEnd := NewLocalPair(4)
	dataEnd.Commit(DirectionWrite)
	moverEnd.Commit(DirectionRead)

	n, err := dataEnd.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 4, n) // ring is 4 bytes; short write

	n, err = dataEnd.Write([]byte("x"))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestLocalCloseDrainsThenEOF(t *testing.T) {
	dataEnd, moverEnd := NewLocalPair(16)
	dataEnd.Commit(DirectionWrite)
	moverEnd.Commit(DirectionRead)

	_, err := dataEnd.Write([]byte("hi"))
	require.NoError(t, err)
	require.NoError(t, dataEnd.Close())

	assert.Equal(t, StatusDisconnected, moverEnd.Status())

	buf := make([]byte, 8)
	n, err := moverEnd.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(buf[:n]))

	_, err = moverEnd.Read(buf)
	assert.ErrorIs(t, err, ErrClosed)
}

// ============================================================================
// TCP Transport
// ============================================================================

func TestTCPEndpointReadWrite(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverConnCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		serverConnCh <- c
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer clientConn.Close()

	serverConn := <-serverConnCh
	defer serverConn.Close()

	client := NewTCPEndpoint(clientConn)
	server := NewTCPEndpoint(serverConn)
	assert.Equal(t, TransportTCP, client.Transport())
	assert.Equal(t, StatusConnected, server.Status())

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	var n int
	require.Eventually(t, func() bool {
		var rerr error
		n, rerr = server.Read(buf)
		return rerr == nil && n > 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "ping", string(buf[:n]))
}

// ============================================================================
// Status / Direction String()
// ============================================================================

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		StatusIdle:         "IDLE",
		StatusListen:       "LISTEN",
		StatusAccepted:     "ACCEPTED",
		StatusConnected:    "CONNECTED",
		StatusDisconnected: "DISCONNECTED",
		StatusClosed:       "CLOSED",
		StatusBotched:      "BOTCHED",
		StatusRemote:       "REMOTE",
		StatusExclude:      "EXCLUDE",
		Status(99):         "UNKNOWN",
	}
	for status, want := range cases {
		assert.Equal(t, want, status.String())
	}
}

func TestTransportString(t *testing.T) {
	assert.Equal(t, "local", TransportLocal.String())
	assert.Equal(t, "tcp", TransportTCP.String())
}

// ============================================================================
// Scratch Buffers
// ============================================================================

func TestScratchBufferRoundTrip(t *testing.T) {
	buf := ScratchBuffer(1024)
	assert.Len(t, buf, 1024)
	ReleaseScratchBuffer(buf)
}
