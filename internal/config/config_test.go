package config

import (
	"encoding/base64"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalEnvAppliesDefaults(t *testing.T) {
	var c Config
	require.NoError(t, c.UnmarshalEnv([]string{"MODULE_ID=7"}))

	assert.Equal(t, uint16(7), c.ModuleID)
	assert.Equal(t, "127.0.0.1", c.EMHost)
	assert.Equal(t, uint16(9000), c.EMPort)
	assert.Equal(t, 4, c.NumThreads)
	assert.Equal(t, zerolog.InfoLevel, c.LogLevel)
}

func TestUnmarshalEnvOverridesDefaults(t *testing.T) {
	var c Config
	require.NoError(t, c.UnmarshalEnv([]string{
		"MODULE_ID=3",
		"EM_HOST=10.0.0.1",
		"EM_PORT=9100",
		"NUM_THREADS=8",
		"LOG_LEVEL=debug",
		"LOG_PRETTY=true",
		"ATTESTATION=true",
	}))

	assert.Equal(t, "10.0.0.1", c.EMHost)
	assert.Equal(t, uint16(9100), c.EMPort)
	assert.Equal(t, 8, c.NumThreads)
	assert.Equal(t, zerolog.DebugLevel, c.LogLevel)
	assert.True(t, c.LogPretty)
	assert.True(t, c.Attestation)
}

func TestUnmarshalEnvRejectsBadInt(t *testing.T) {
	var c Config
	err := c.UnmarshalEnv([]string{"NUM_THREADS=notanumber"})
	assert.Error(t, err)
}

func TestValidateRequiresNumThreads(t *testing.T) {
	c := Config{NumThreads: 0, ModuleKeyBase64: "x"}
	assert.Error(t, c.Validate())
}

func TestValidateRequiresModuleKeyUnlessAttestation(t *testing.T) {
	c := Config{NumThreads: 1}
	assert.Error(t, c.Validate())

	c.Attestation = true
	c.AttestVerifyingKeyBase64 = "abc"
	assert.NoError(t, c.Validate())
}

func TestValidateRequiresVerifyingKeyWithAttestation(t *testing.T) {
	c := Config{NumThreads: 1, Attestation: true}
	assert.Error(t, c.Validate())
}

func TestValidateRejectsBadSemver(t *testing.T) {
	c := Config{NumThreads: 1, ModuleKeyBase64: "x", MinGeneratorVersion: "not-a-version"}
	assert.Error(t, c.Validate())

	c.MinGeneratorVersion = "1.2.3"
	assert.NoError(t, c.Validate())
}

func TestModuleKeyDecodesBase64(t *testing.T) {
	raw := []byte("0123456789abcdef0123456789abcdef")
	c := Config{ModuleKeyBase64: base64.StdEncoding.EncodeToString(raw)}
	key, err := c.ModuleKey()
	require.NoError(t, err)
	assert.Equal(t, raw, key)
}
