// Package runtime implements the authentic-execution module core: the
// per-connection cryptographic session state, the entrypoint dispatch
// table, the request/response protocol with the Event Manager, and the
// concurrency discipline protecting the shared connection tables.
package runtime

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ModuleConfig holds the constants baked in at generation time (§3 Data
// Model, "Module-wide constants"). MODULE_KEY is the base64-decoded
// long-term symmetric key. In attestation mode it is the secret returned by
// the attestation bootstrap (§4.11), which runs before the Runtime is
// constructed; either way it is fixed at construction time.
type ModuleConfig struct {
	ModuleID   uint16
	ModuleName string
	ModuleKey  []byte
	EMHost     string // defaults to 127.0.0.1 if empty
	EMPort     uint16
	NumThreads int
}

// Runtime is the process-scoped value threading all of the module's mutable
// and static state: the session tables, the static registry, and the
// logger. A generated module's main function constructs exactly one
// Runtime and serves it for the process lifetime.
type Runtime struct {
	cfg    ModuleConfig
	tables *Tables
	log    zerolog.Logger

	connections  *connectionTable
	outputs      *outputTable
	requests     *requestTable
	provisioning *provisioningNonce

	metrics *runtimeMetrics

	dialEM func(addr string) (emConn, error)
}

// NewRuntime wires ENTRYPOINTS[0..4] (set_key, attest, handle_input,
// handle_handler, disable) around tables, which must already have its
// Inputs and Handlers populated by generated code. attestor is optional and
// may be nil; the attest entrypoint returns BadRequest either way, the
// spec's default (§4.9).
func NewRuntime(cfg ModuleConfig, tables *Tables, log zerolog.Logger, attestor Attestor) (*Runtime, error) {
	if cfg.NumThreads == 0 {
		return nil, ErrZeroThreads
	}
	if cfg.EMHost == "" {
		cfg.EMHost = "127.0.0.1"
	}

	r := &Runtime{
		cfg:          cfg,
		tables:       tables,
		log:          log.With().Uint16("module_id", cfg.ModuleID).Str("module_name", cfg.ModuleName).Logger(),
		connections:  newConnectionTable(),
		outputs:      newOutputTable(),
		requests:     newRequestTable(),
		provisioning: &provisioningNonce{},
		metrics:      newRuntimeMetrics(),
		dialEM:       dialTCP,
	}

	tables.Entrypoints[EntrypointSetKey] = r.setKey
	tables.Entrypoints[EntrypointAttest] = r.attestEntrypoint(attestor)
	tables.Entrypoints[EntrypointHandleInput] = r.handleInput
	tables.Entrypoints[EntrypointHandleHandler] = r.handleHandler
	tables.Entrypoints[EntrypointDisable] = r.disable

	return r, nil
}

// ErrZeroThreads is a fatal startup error: NUM_THREADS == 0 (§4.10).
const ErrZeroThreads = constErr("NUM_THREADS must be greater than zero")

type constErr string

func (e constErr) Error() string { return string(e) }

// newTraceID returns the id Dispatch attaches to its own log lines for one
// inbound request. It is not passed on to the control entrypoints or to EM
// round-trips, whose log lines do not carry it.
func newTraceID() string {
	return uuid.NewString()
}
