package runtime

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildConnIDCipherBody(connID uint16, ciphertext []byte) []byte {
	body := make([]byte, 2+len(ciphertext))
	binary.BigEndian.PutUint16(body[0:2], connID)
	copy(body[2:], ciphertext)
	return body
}

func TestHandleInputDeliversPlaintextAndAdvancesNonce(t *testing.T) {
	r, _ := newTestRuntime(t)
	sessionKey := make([]byte, 32)
	r.connections.set(5, &Connection{Index: 0, Nonce: 0, Key: sessionKey, Encryption: Aes})

	var got []byte
	r.tables.Inputs[0] = func(plaintext []byte) { got = plaintext }

	ciphertext, err := seal(Aes, sessionKey, 0, nonceAD(0), []byte("payload"))
	require.NoError(t, err)

	result := r.handleInput(buildConnIDCipherBody(5, ciphertext))
	assert.Equal(t, Ok, result.Code)
	assert.Equal(t, []byte("payload"), got)

	conn, _ := r.connections.get(5)
	assert.Equal(t, uint16(1), conn.Nonce)
}

func TestHandleInputUnknownConnection(t *testing.T) {
	r, _ := newTestRuntime(t)
	result := r.handleInput(buildConnIDCipherBody(99, []byte("x")))
	assert.Equal(t, BadRequest, result.Code)
}

func TestHandleInputNoRegisteredCallback(t *testing.T) {
	r, _ := newTestRuntime(t)
	sessionKey := make([]byte, 32)
	r.connections.set(5, &Connection{Index: 7, Nonce: 0, Key: sessionKey, Encryption: Aes})

	ciphertext, err := seal(Aes, sessionKey, 0, nonceAD(0), nil)
	require.NoError(t, err)

	result := r.handleInput(buildConnIDCipherBody(5, ciphertext))
	assert.Equal(t, BadRequest, result.Code)
}

func TestHandleHandlerRoundTripAdvancesNonceByTwo(t *testing.T) {
	r, _ := newTestRuntime(t)
	sessionKey := make([]byte, 32)
	r.connections.set(5, &Connection{Index: 49152, Nonce: 0, Key: sessionKey, Encryption: Aes})

	r.tables.Handlers[49152] = func(plaintext []byte) []byte {
		reply := append([]byte{}, plaintext...)
		reply = append(reply, '!')
		return reply
	}

	ciphertext, err := seal(Aes, sessionKey, 0, nonceAD(0), []byte("ask"))
	require.NoError(t, err)

	result := r.handleHandler(buildConnIDCipherBody(5, ciphertext))
	require.Equal(t, Ok, result.Code)

	conn, _ := r.connections.get(5)
	assert.Equal(t, uint16(2), conn.Nonce)

	// The reply was sealed at nonce 1 (the second value consumed).
	plaintext, err := open(Aes, sessionKey, 1, nonceAD(1), result.Data)
	require.NoError(t, err)
	assert.Equal(t, []byte("ask!"), plaintext)
}

func TestHandleInputWrongIndexKindIsInternalError(t *testing.T) {
	r, _ := newTestRuntime(t)
	sessionKey := make([]byte, 32)
	// Index 49152 is a Handler index, not an Input index: a corrupted
	// CONNECTIONS entry that handle_input must refuse rather than dispatch.
	r.connections.set(5, &Connection{Index: 49152, Nonce: 0, Key: sessionKey, Encryption: Aes})

	ciphertext, err := seal(Aes, sessionKey, 0, nonceAD(0), nil)
	require.NoError(t, err)

	result := r.handleInput(buildConnIDCipherBody(5, ciphertext))
	assert.Equal(t, InternalError, result.Code)
}

func TestHandleHandlerWrongIndexKindIsInternalError(t *testing.T) {
	r, _ := newTestRuntime(t)
	sessionKey := make([]byte, 32)
	// Index 0 is an Input index, not a Handler index.
	r.connections.set(5, &Connection{Index: 0, Nonce: 0, Key: sessionKey, Encryption: Aes})

	ciphertext, err := seal(Aes, sessionKey, 0, nonceAD(0), nil)
	require.NoError(t, err)

	result := r.handleHandler(buildConnIDCipherBody(5, ciphertext))
	assert.Equal(t, InternalError, result.Code)
}

func TestHandleHandlerMissingHandlerIsInternalError(t *testing.T) {
	r, _ := newTestRuntime(t)
	sessionKey := make([]byte, 32)
	r.connections.set(5, &Connection{Index: 49152, Nonce: 0, Key: sessionKey, Encryption: Aes})

	ciphertext, err := seal(Aes, sessionKey, 0, nonceAD(0), nil)
	require.NoError(t, err)

	result := r.handleHandler(buildConnIDCipherBody(5, ciphertext))
	assert.Equal(t, InternalError, result.Code)
}

func TestHandleHandlerBadCiphertextLeavesNonceUntouched(t *testing.T) {
	r, _ := newTestRuntime(t)
	sessionKey := make([]byte, 32)
	r.connections.set(5, &Connection{Index: 49152, Nonce: 0, Key: sessionKey, Encryption: Aes})

	result := r.handleHandler(buildConnIDCipherBody(5, []byte("not valid ciphertext")))
	assert.Equal(t, CryptoError, result.Code)

	conn, _ := r.connections.get(5)
	assert.Equal(t, uint16(0), conn.Nonce)
}
