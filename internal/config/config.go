// Package config loads authexec-module's configuration from the
// environment, following the teacher project's env-tag-driven reflection
// approach (pkg/atlas/config.go in the retrieved R2Northstar/Atlas master
// server) rather than hand-rolling per-field parsing.
package config

import (
	"encoding/base64"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/mod/semver"
)

// Config holds everything a generated module's main function needs to
// construct a Runtime and Listener. The env struct tag contains the
// environment variable name and the default value if missing, or empty (if
// not ?=).
type Config struct {
	// ModuleID is this module's 16-bit identifier (§3 Data Model).
	ModuleID uint16 `env:"MODULE_ID"`

	// ModuleName is a human-readable name used only in logs.
	ModuleName string `env:"MODULE_NAME"`

	// ModuleKeyBase64 is the base64-encoded long-term symmetric key. Left
	// empty when Attestation is true: the key is instead derived by the
	// attestation bootstrap (§4.11).
	ModuleKeyBase64 string `env:"MODULE_KEY"`

	// EMHost is the Event Manager's host. Defaults to loopback.
	EMHost string `env:"EM_HOST=127.0.0.1"`

	// EMPort is the Event Manager's TCP port (§6).
	EMPort uint16 `env:"EM_PORT=9000"`

	// NumThreads sizes the listener's worker pool (§4.10). Zero is a fatal
	// startup error.
	NumThreads int `env:"NUM_THREADS=4"`

	// Attestation selects the SGX attestation bootstrap variant (§4.11):
	// ModuleKeyBase64 is ignored and the key is instead derived from a
	// remote-attestation handshake before the data-plane listener binds.
	Attestation bool `env:"ATTESTATION"`

	// AttestVerifyingKeyBase64 is the static verifying key passed to the
	// attestation collaborator when Attestation is true.
	AttestVerifyingKeyBase64 string `env:"ATTEST_VERIFYING_KEY"`

	// MinGeneratorVersion, if set, names a minimum semver of the (external)
	// annotation-driven code generator. Validate only checks that it is a
	// well-formed semver; it is not compared against any generator version.
	// Left empty to skip the check.
	MinGeneratorVersion string `env:"MIN_GENERATOR_VERSION"`

	// LogLevel is the minimum log level (e.g. trace, debug, info, warn,
	// error, fatal).
	LogLevel zerolog.Level `env:"LOG_LEVEL=info"`

	// LogPretty switches on zerolog's human-readable console writer.
	LogPretty bool `env:"LOG_PRETTY"`

	// MetricsAddr, if set, serves Prometheus text metrics on this address.
	MetricsAddr string `env:"METRICS_ADDR"`
}

// Validate checks cross-field invariants that UnmarshalEnv can't express via
// per-field defaults.
func (c *Config) Validate() error {
	if c.NumThreads == 0 {
		return fmt.Errorf("NUM_THREADS must be greater than zero")
	}
	if !c.Attestation && c.ModuleKeyBase64 == "" {
		return fmt.Errorf("MODULE_KEY is required unless ATTESTATION is set")
	}
	if c.Attestation && c.AttestVerifyingKeyBase64 == "" {
		return fmt.Errorf("ATTEST_VERIFYING_KEY is required when ATTESTATION is set")
	}
	if c.MinGeneratorVersion != "" && !semver.IsValid("v"+strings.TrimPrefix(c.MinGeneratorVersion, "v")) {
		return fmt.Errorf("invalid MIN_GENERATOR_VERSION semver %q", c.MinGeneratorVersion)
	}
	return nil
}

// ModuleKey base64-decodes ModuleKeyBase64.
func (c *Config) ModuleKey() ([]byte, error) {
	return base64.StdEncoding.DecodeString(c.ModuleKeyBase64)
}

// AttestVerifyingKey base64-decodes AttestVerifyingKeyBase64.
func (c *Config) AttestVerifyingKey() ([]byte, error) {
	return base64.StdEncoding.DecodeString(c.AttestVerifyingKeyBase64)
}

// UnmarshalEnv unmarshals an array of "KEY=value" environment entries into
// c, applying the default from each field's env tag for anything missing.
func (c *Config) UnmarshalEnv(es []string) error {
	em := map[string]string{}
	for _, e := range es {
		if k, v, ok := strings.Cut(e, "="); ok {
			em[k] = v
		}
	}

	cv := reflect.ValueOf(c).Elem()
	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		env, ok := ctf.Tag.Lookup("env")
		if !ok {
			continue
		}

		var unsettable bool
		key, val, _ := strings.Cut(env, "=")
		if strings.HasSuffix(key, "?") {
			key = strings.TrimSuffix(key, "?")
			unsettable = true
		}
		if v, exists := em[key]; exists {
			if unsettable || v != "" {
				val = v
			}
			delete(em, key)
		}

		cvf := cv.FieldByName(ctf.Name)
		switch cvf.Interface().(type) {
		case string:
			cvf.SetString(val)
		case bool:
			if val == "" {
				cvf.SetBool(false)
			} else if v, err := strconv.ParseBool(val); err == nil {
				cvf.SetBool(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case int:
			if val == "" {
				cvf.SetInt(0)
			} else if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				cvf.SetInt(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case uint16:
			if val == "" {
				cvf.SetUint(0)
			} else if v, err := strconv.ParseUint(val, 10, 16); err == nil {
				cvf.SetUint(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case zerolog.Level:
			if v, err := zerolog.ParseLevel(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		default:
			return fmt.Errorf("unhandled type %T (%s)", cvf.Interface(), env)
		}
	}

	return nil
}
