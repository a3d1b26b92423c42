package runtime

import (
	"encoding/binary"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRuntime(t *testing.T) (*Runtime, []byte) {
	t.Helper()
	moduleKey := make([]byte, 32)
	for i := range moduleKey {
		moduleKey[i] = byte(i + 1)
	}
	tables := NewTables()
	r, err := NewRuntime(ModuleConfig{
		ModuleID:   1,
		ModuleName: "test",
		ModuleKey:  moduleKey,
		NumThreads: 1,
	}, tables, zerolog.Nop(), nil)
	require.NoError(t, err)
	return r, moduleKey
}

// buildSetKeyBody encrypts sessionKey under moduleKey and assembles a
// complete set_key payload (minus the outer 2-byte entrypoint id, which
// Dispatch strips before calling setKey).
func buildSetKeyBody(t *testing.T, moduleKey []byte, enc Encryption, connID, index, nonce uint16, sessionKey []byte) []byte {
	t.Helper()
	req := setKeyPayload{Enc: enc, ConnID: connID, Index: index, Nonce: nonce}
	ciphertext, err := seal(Aes, moduleKey, nonce, req.associatedData(), sessionKey)
	require.NoError(t, err)

	body := make([]byte, setKeyMinLen+len(ciphertext))
	body[0] = byte(enc)
	binary.BigEndian.PutUint16(body[1:3], connID)
	binary.BigEndian.PutUint16(body[3:5], index)
	binary.BigEndian.PutUint16(body[5:7], nonce)
	copy(body[7:], ciphertext)
	return body
}

func TestSetKeyProvisionsConnection(t *testing.T) {
	r, moduleKey := newTestRuntime(t)
	sessionKey := make([]byte, 32)

	body := buildSetKeyBody(t, moduleKey, Aes, 10, 16384, 0, sessionKey)
	result := r.setKey(body)
	assert.Equal(t, Ok, result.Code)

	conn, ok := r.connections.get(10)
	require.True(t, ok)
	assert.Equal(t, uint16(16384), conn.Index)
	assert.Equal(t, uint16(0), conn.Nonce)

	// Output index 16384 now fans out to conn 10.
	assert.ElementsMatch(t, []uint16{10}, r.outputs.peers(16384))
}

func TestSetKeyRegistersRequestIndex(t *testing.T) {
	r, moduleKey := newTestRuntime(t)
	sessionKey := make([]byte, 32)

	body := buildSetKeyBody(t, moduleKey, Aes, 20, 32768, 0, sessionKey)
	result := r.setKey(body)
	assert.Equal(t, Ok, result.Code)

	connID, ok := r.requests.get(32768)
	require.True(t, ok)
	assert.Equal(t, uint16(20), connID)
}

func TestSetKeyRejectsBadNonce(t *testing.T) {
	r, moduleKey := newTestRuntime(t)
	sessionKey := make([]byte, 32)

	body := buildSetKeyBody(t, moduleKey, Aes, 10, 16384, 5, sessionKey)
	result := r.setKey(body)
	assert.Equal(t, IllegalPayload, result.Code)
	assert.Equal(t, uint16(0), r.provisioning.current())
}

func TestSetKeyRejectsBadCiphertext(t *testing.T) {
	r, _ := newTestRuntime(t)

	body := buildSetKeyBody(t, make([]byte, 32), Aes, 10, 16384, 0, make([]byte, 32))
	// encrypted under the wrong key (all zero rather than r's moduleKey)
	result := r.setKey(body)
	assert.Equal(t, CryptoError, result.Code)
	assert.Equal(t, uint16(0), r.provisioning.current())
}

func TestSetKeyRejectsTruncatedPayload(t *testing.T) {
	r, _ := newTestRuntime(t)
	result := r.setKey([]byte{0, 1, 2})
	assert.Equal(t, IllegalPayload, result.Code)
}

func TestSetKeyReplayIsRejected(t *testing.T) {
	r, moduleKey := newTestRuntime(t)
	sessionKey := make([]byte, 32)

	body := buildSetKeyBody(t, moduleKey, Aes, 10, 16384, 0, sessionKey)
	require.Equal(t, Ok, r.setKey(body).Code)

	// Replaying the exact same nonce-0 message is now rejected: the
	// counter has already advanced to 1.
	replay := r.setKey(body)
	assert.Equal(t, IllegalPayload, replay.Code)
}

func TestDisableClearsSessionTables(t *testing.T) {
	r, moduleKey := newTestRuntime(t)
	sessionKey := make([]byte, 32)

	body := buildSetKeyBody(t, moduleKey, Aes, 10, 16384, 0, sessionKey)
	require.Equal(t, Ok, r.setKey(body).Code)
	require.NotEmpty(t, r.outputs.peers(16384))

	disableCiphertext, err := seal(Aes, moduleKey, 0, disableAssociatedData(0), nil)
	require.NoError(t, err)
	disableBody := make([]byte, 2+len(disableCiphertext))
	binary.BigEndian.PutUint16(disableBody[0:2], 0)
	copy(disableBody[2:], disableCiphertext)

	result := r.disable(disableBody)
	assert.Equal(t, Ok, result.Code)

	_, ok := r.connections.get(10)
	assert.False(t, ok)
	assert.Nil(t, r.outputs.peers(16384))
}

func TestDisableSharesProvisioningCounterWithSetKey(t *testing.T) {
	r, moduleKey := newTestRuntime(t)
	sessionKey := make([]byte, 32)

	// Consume nonce 0 via set_key.
	require.Equal(t, Ok, r.setKey(buildSetKeyBody(t, moduleKey, Aes, 10, 16384, 0, sessionKey)).Code)

	// disable at nonce 0 is now a replay and must be rejected.
	staleCiphertext, err := seal(Aes, moduleKey, 0, disableAssociatedData(0), nil)
	require.NoError(t, err)
	staleBody := make([]byte, 2+len(staleCiphertext))
	binary.BigEndian.PutUint16(staleBody[0:2], 0)
	copy(staleBody[2:], staleCiphertext)
	assert.Equal(t, IllegalPayload, r.disable(staleBody).Code)

	// disable at nonce 1 (the next value in the shared counter) succeeds.
	freshCiphertext, err := seal(Aes, moduleKey, 1, disableAssociatedData(1), nil)
	require.NoError(t, err)
	freshBody := make([]byte, 2+len(freshCiphertext))
	binary.BigEndian.PutUint16(freshBody[0:2], 1)
	copy(freshBody[2:], freshCiphertext)
	assert.Equal(t, Ok, r.disable(freshBody).Code)
}
