package runtime

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAttestor struct {
	secret []byte
	err    error
}

func (s stubAttestor) Attest(net.Conn, []byte) ([]byte, error) { return s.secret, s.err }

func TestBootstrapReturnsAttestorSecret(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		secret, err := Bootstrap(addr, []byte("verify-me"), stubAttestor{secret: []byte("derived-key")})
		require.NoError(t, err)
		assert.Equal(t, []byte("derived-key"), secret)
	}()

	var conn net.Conn
	require.Eventually(t, func() bool {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, time.Second, 5*time.Millisecond)
	defer conn.Close()

	<-done
}
